// Package protocol implements the device side of the intweb access protocol.
//
// # Overview
//
// An access attempt is a two-round challenge/response exchange with the
// intweb server:
//
//	device                                   intweb
//	  | -- get_nonce {random_response} ----------> |
//	  | <--------------------------- {new_nonce} -- |
//	  | -- access {nonce, item, badge, ...} -----> |
//	  | <------------- {nonce_valid, access} ------ |
//
// Every request is wrapped in an envelope
//
//	{"device": <name>, "data": {...}, "checksum": <HEX>}
//
// where checksum is computed over the canonical encoding of data only (see
// packages canonical and checksum). A 16-value random_response is drawn
// fresh for every request so no two signed bodies repeat.
//
// # Attempt State Machine
//
//	IDLE -> NONCE_REQUESTED -> ACCESS_REQUESTED -> GRANTED
//	                  |                 |     \-> DENIED
//	                  \-----------------+-------> FAILED
//
// Each Attempt owns exactly one nonce. A nonce is marked consumed before the
// access request is sent and cannot be used again, whatever the outcome.
// Attempts never share mutable state, so any number can run concurrently
// against the same Client and DeviceIdentity.
//
// # Failure Handling
//
// All failures are fail-closed: only an access reply with nonce_valid=true,
// no error and access=true grants entry. Errors are classified as
// SerializationError, TransportError, InvalidNonceError, ServerError or
// ProtocolError. Only transport failures are retryable, and a retry always
// starts a new Attempt with a fresh nonce (see Authorizer).
package protocol
