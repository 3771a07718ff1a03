package protocol

import (
	"context"
	"errors"
	"sync/atomic"
)

// Nonce is a single-use token issued by intweb. It is consumed by the first
// access request that carries it, whatever that request's outcome.
type Nonce struct {
	value string
	used  atomic.Bool
}

// NewNonce wraps a token received from intweb.
func NewNonce(value string) *Nonce {
	return &Nonce{value: value}
}

// Value returns the token.
func (n *Nonce) Value() string {
	return n.value
}

// Used reports whether the nonce has been consumed.
func (n *Nonce) Used() bool {
	return n.used.Load()
}

// consume marks the nonce used and reports whether it was fresh.
func (n *Nonce) consume() bool {
	return n.used.CompareAndSwap(false, true)
}

// RequestNonce asks intweb for a fresh nonce on behalf of id.
//
// Any failure is returned as a *ProtocolError carrying the HTTP status or
// the server's error text; transport failures and server errors are
// wrapped so IsRetryable and errors.As see through it. There is no
// caching and no internal retry.
func (c *Client) RequestNonce(ctx context.Context, id DeviceIdentity) (*Nonce, error) {
	body := GetNonceRequest{
		Operation:      OpGetNonce,
		Version:        ProtocolVersion,
		RandomResponse: NewRandomResponse(),
	}
	meta := exchangeMeta{op: OpGetNonce}

	status, raw, err := c.exchange(ctx, id, meta, body)
	if err != nil {
		var (
			terr *TransportError
			perr *ProtocolError
		)
		switch {
		case errors.As(err, &perr):
			return nil, perr
		case errors.As(err, &terr):
			return nil, &ProtocolError{Op: OpGetNonce, StatusCode: terr.StatusCode, Err: terr}
		default:
			return nil, err
		}
	}

	if !success(status) {
		return nil, &ProtocolError{
			Op:         OpGetNonce,
			StatusCode: status,
			Raw:        raw,
			Err:        &TransportError{Op: OpGetNonce, StatusCode: status},
		}
	}

	data, err := decode(OpGetNonce, status, raw)
	if err != nil {
		var serr *ServerError
		if errors.As(err, &serr) {
			return nil, &ProtocolError{Op: OpGetNonce, StatusCode: status, ServerMessage: serr.Message, Raw: raw, Err: serr}
		}
		return nil, err
	}
	if msg, ok := data.ErrorMessage(); ok {
		return nil, &ProtocolError{
			Op:            OpGetNonce,
			StatusCode:    status,
			ServerMessage: msg,
			Raw:           raw,
			Err:           &ServerError{Op: OpGetNonce, Message: msg},
		}
	}
	if data.NewNonce == "" {
		return nil, &ProtocolError{Op: OpGetNonce, StatusCode: status, Reason: "reply has no new_nonce", Raw: raw}
	}
	return NewNonce(data.NewNonce), nil
}
