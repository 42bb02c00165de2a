// Package middleware provides the Gin middleware in front of the real-time
// endpoints: bearer-token authentication backed by the auth cache, and
// per-key rate limiting for handshakes and revocation calls.
//
// The auth middleware accepts the credential from three places, in order:
//
//	Authorization: Bearer <token>
//	?token=<token>
//	Sec-WebSocket-Protocol: bearer.<token>
//
// The subprotocol form exists for browser clients, whose WebSocket API
// cannot set request headers.
package middleware
