package protocol

import (
	"context"
)

// RequestAccess asks intweb whether badge may use item, spending nonce.
//
// The nonce is consumed before anything is sent, so it can never be
// offered twice even if the request fails. The reply is checked in order,
// stopping at the first failure:
//
//  1. HTTP success, else *TransportError
//  2. nonce_valid is true, else *InvalidNonceError
//  3. no "response": false rejection, else *ServerError
//  4. error is absent or null, else *ServerError
func (c *Client) RequestAccess(ctx context.Context, id DeviceIdentity, nonce *Nonce, item string, badge uint64) (AccessDecision, error) {
	if nonce == nil {
		return AccessDecision{}, ErrNoNonce
	}
	if item == "" {
		return AccessDecision{}, ErrItemRequired
	}
	if !nonce.consume() {
		return AccessDecision{}, ErrNonceConsumed
	}

	body := AccessRequest{
		Operation:      OpAccess,
		Version:        ProtocolVersion,
		RandomResponse: NewRandomResponse(),
		Nonce:          nonce.Value(),
		Item:           item,
		Badge:          badge,
	}
	meta := exchangeMeta{op: OpAccess, item: item, nonce: nonce.Value(), badge: badge}

	status, raw, err := c.exchange(ctx, id, meta, body)
	if err != nil {
		return AccessDecision{}, err
	}
	if !success(status) {
		return AccessDecision{}, &TransportError{Op: OpAccess, StatusCode: status}
	}

	data, err := decode(OpAccess, status, raw)
	if data == nil {
		return AccessDecision{}, err
	}
	if data.NonceValid == nil || !*data.NonceValid {
		return AccessDecision{}, &InvalidNonceError{Op: OpAccess, Raw: raw}
	}
	if err != nil {
		return AccessDecision{NonceValid: true}, err
	}
	if msg, ok := data.ErrorMessage(); ok {
		return AccessDecision{NonceValid: true}, &ServerError{Op: OpAccess, Message: msg}
	}

	return AccessDecision{
		NonceValid: true,
		Access:     data.Access,
		Error:      data.DetailMessage(),
	}, nil
}
