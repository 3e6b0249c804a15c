// Package cryptoutils builds and verifies the signed authorization messages
// accepted by the gateway.
//
// Every message is a packed concatenation of fields with no separators or
// length prefixes, in this order:
//
//	deploy:              caller (20 bytes) | template name (utf-8) | init data
//	deploy with version: caller (20 bytes) | template name (utf-8) | version (uint256, 32 bytes) | init data
//	call:                caller (20 bytes) | instance (20 bytes) | call data
//	http request:        method | path | unix timestamp (decimal) | body
//
// The signed digest is keccak256("\x19Ethereum Signed Message:\n32" || keccak256(message)),
// so any wallet that implements personal_sign over the 32-byte message hash can
// produce valid signatures. Signatures are 65 bytes, r || s || v.
//
// A recovered address is only an identity. Whether it may authorize an action
// is decided by the caller against the SIGNER role.
package cryptoutils
