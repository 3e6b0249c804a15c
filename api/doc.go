/*
Package api defines the JSON wire types of the gateway HTTP API.

Requests and responses are shared by the server in package gatewayhandler and
its client. Byte strings are 0x-prefixed hex, amounts are JSON integers.

# Caller identity

Mutating requests carry the caller's signature over
cryptoutils.RequestPayload(method, path, timestamp, nonce, value, body) in
SignatureHeader, the signing time in TimestampHeader and a unique nonce in
NonceHeader. Payment attached to an action is sent in ValueHeader and is
covered by the signature. The server rejects a repeated nonce from the same
caller within the accepted clock skew.

# Errors

Every failure is an ErrorResponse. Kind names the error family
(authorization, payment, registry, state, dispatch, revert, request, storage).
For a failed forwarded call RevertData holds the raw failure payload and
Reason its decoded Error(string) message, if any.
*/
package api
