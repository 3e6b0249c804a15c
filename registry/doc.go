// Package registry is the append-only catalog of template implementations.
//
// Every implementation reports its own name and version through the
// interfaces.Template capability. The registry queries both once, when the
// implementation is registered, and stores the answer in the world state:
//
//	names               registered names, in first-registration order
//	versions[name]      versions of name, in registration order
//	implementations     (name, version) -> implementation address
//	latest[name]        highest version of name and its implementation
//
// A (name, version) pair is bound at most once and never rebound or removed.
// Registering a lower version after a higher one extends the version list
// without moving the latest pointers.
//
// All functions operate on a *state.World and are meant to run inside
// state.Store.RunInTransaction; the read functions return copies.
package registry
