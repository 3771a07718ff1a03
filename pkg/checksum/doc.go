// Package checksum computes the keyed digests that authenticate intweb
// messages.
//
// The deployed server expects SHA-512 over the device key immediately
// followed by the canonical message body, rendered as uppercase hex. That
// construction is a plain prefix-keyed hash rather than an HMAC and is open
// to length extension; it is kept as the default for wire compatibility.
//
// Callers only depend on the Engine interface, so a standard keyed
// construction (HMAC-SHA512 or keyed BLAKE2b-512) can be selected once the
// server supports it without touching the protocol client.
package checksum
