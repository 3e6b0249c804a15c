// Package gatewayhandler serves the template gateway over JSON/HTTP and
// provides a matching client.
//
// Mutating requests name their caller by signing
// cryptoutils.RequestPayload(method, path, timestamp, nonce, value, body) and
// sending the signature, timestamp and nonce in the X-Gateway-Signature,
// X-Gateway-Timestamp and X-Gateway-Nonce headers. Payment attached to an
// action travels in X-Gateway-Value and is debited from the caller's balance.
//
// Key components:
//   - Handler: routes requests to the gateway and maps its errors to statuses
//   - Client: signs requests and decodes receipts and error responses
package gatewayhandler
