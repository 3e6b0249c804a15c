// Package interfaces defines the types shared by the gateway components,
// separating contracts from their implementations.
//
// # Templates
//
// Template is the capability every registered implementation provides: a
// self-reported name and packed version, an initializer and a call entry point
// executed against an Env scoped to one instance. TemplateVersion packs
// major.minor.patch into a single comparable integer.
//
// # Actions
//
// Msg carries the caller and attached payment of one action. Committed actions
// produce a Receipt and an ordered list of Records; failures are typed
// (AuthorizationError, PaymentError, RegistryError, StateError, DispatchError)
// and match their Err* sentinels with errors.Is. RevertError passes a target's
// failure payload through unchanged.
//
// # Storage
//
// StorageBackend stores content-addressed data (checkpoints, record archives)
// across file, S3, IPFS and Vault backends. StorageBackendFactory creates
// backends from location URIs.
package interfaces
