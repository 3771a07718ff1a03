package protocol

import (
	"context"
	"errors"
	"fmt"

	"github.com/hive13/doorctl/pkg/canonical"
)

// Attempt errors.
var (
	// ErrNonceConsumed is returned when a nonce is offered a second time.
	ErrNonceConsumed = errors.New("protocol: nonce already consumed")

	// ErrNoNonce is returned when an access request is made without a nonce.
	ErrNoNonce = errors.New("protocol: no nonce")

	// ErrItemRequired is returned when an access request names no item.
	ErrItemRequired = errors.New("protocol: item required")

	// ErrURLRequired is returned when a client is configured without a URL.
	ErrURLRequired = errors.New("protocol: server URL required")

	// ErrAttemptReused is returned when Run is called twice on one Attempt.
	ErrAttemptReused = errors.New("protocol: attempt already run")
)

// SerializationError reports a request body with no canonical encoding.
// It indicates a programming error and is never retried.
type SerializationError = canonical.SerializationError

// TransportError reports a failed HTTP exchange: connection failure,
// timeout, or a non-success status. It is the only retryable error.
type TransportError struct {
	// Op is the intweb operation being performed.
	Op string

	// StatusCode is the HTTP status, or 0 if no response was received.
	StatusCode int

	// Err is the underlying cause.
	Err error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("protocol: %s: http status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("protocol: %s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// InvalidNonceError reports that intweb rejected the nonce of an access
// request. The attempt is over; the nonce is never offered again.
type InvalidNonceError struct {
	// Op is the intweb operation being performed.
	Op string

	// Raw is the response body.
	Raw []byte
}

func (e *InvalidNonceError) Error() string {
	return fmt.Sprintf("protocol: %s: nonce rejected", e.Op)
}

// ServerError carries an error message reported by intweb.
type ServerError struct {
	// Op is the intweb operation being performed.
	Op string

	// Message is the server-supplied text.
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("protocol: %s: server error: %s", e.Op, e.Message)
}

// ProtocolError reports a reply that could not be used: undecodable, missing
// required fields, or a nonce request that failed. When the failure came
// from the HTTP exchange or the server, Err holds the *TransportError or
// *ServerError.
type ProtocolError struct {
	// Op is the intweb operation being performed.
	Op string

	// StatusCode is the HTTP status, if a response was received.
	StatusCode int

	// ServerMessage is the server-supplied error string, if any.
	ServerMessage string

	// Reason describes what was wrong with the reply.
	Reason string

	// Raw is the response body for diagnosis.
	Raw []byte

	// Err is the underlying cause, if any.
	Err error
}

func (e *ProtocolError) Error() string {
	switch {
	case e.Reason != "":
		return fmt.Sprintf("protocol: %s: %s", e.Op, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("protocol: %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("protocol: %s: invalid reply", e.Op)
	}
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Error kinds reported by Kind.
const (
	KindNone          = ""
	KindSerialization = "serialization"
	KindTransport     = "transport"
	KindInvalidNonce  = "invalid_nonce"
	KindServer        = "server"
	KindProtocol      = "protocol"
	KindCanceled      = "canceled"
	KindUnknown       = "unknown"
)

// IsRetryable reports whether err came from a failed HTTP exchange and the
// attempt may be repeated with a fresh nonce.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var te *TransportError
	return errors.As(err, &te)
}

// Kind classifies err for logging and counters.
func Kind(err error) string {
	if err == nil {
		return KindNone
	}

	var (
		nonceErr  *InvalidNonceError
		transErr  *TransportError
		serverErr *ServerError
		protoErr  *ProtocolError
		serErr    *SerializationError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.As(err, &nonceErr):
		return KindInvalidNonce
	case errors.As(err, &transErr):
		return KindTransport
	case errors.As(err, &serverErr):
		return KindServer
	case errors.As(err, &protoErr):
		return KindProtocol
	case errors.As(err, &serErr):
		return KindSerialization
	default:
		return KindUnknown
	}
}
