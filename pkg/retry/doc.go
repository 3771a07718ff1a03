// Package retry implements exponential backoff for retryable intweb failures.
//
// Only transport failures are worth retrying: a rejected nonce or an
// explicit server error is terminal for the attempt. Callers pass a
// classifier so this package stays independent of the protocol error types.
//
// # Backoff Sequence
//
// With the defaults the base delays are 250ms, 500ms, 1s, 2s, capped at 2s,
// each extended by up to 25% random jitter.
package retry
