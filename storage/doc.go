// Package storage provides content-addressed storage for gateway checkpoints and
// archived audit records, with pluggable backends.
//
// Content is identified by the SHA-256 hash of its bytes. Supported backends:
//
//   - File system storage for local deployments and tests
//   - S3-compatible object storage
//   - IPFS through a node's HTTP API
//   - HashiCorp Vault KV v2
//
// # Storage URI Format
//
// Backends are specified as URIs:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Examples:
//
//   - file:///var/lib/gateway/checkpoints
//   - s3://bucket-name/prefix/?region=us-west-2
//   - ipfs://127.0.0.1:5001/
//   - vault://vault.example.com:8200/secret/gateway
//
// Credentials for S3 and Vault may be embedded in the URI or supplied through
// the environment, see Credentials.
//
// # Redundancy
//
// MultiStorageBackend writes to every available backend and reads from the
// first backend that returns the content. The gateway stores each checkpoint
// once and can restore it from any replica.
package storage
