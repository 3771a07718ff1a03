package log

import "time"

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// AttemptID identifies the access attempt (UUID). Empty for events
	// that are not tied to an attempt, such as ignored reader lines.
	AttemptID string `cbor:"2,keyasint,omitempty"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// Device is the intweb device name.
	Device string `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the intweb URL the exchange was sent to.
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// Badge is the badge number being authorized (0 if unknown).
	Badge uint64 `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Message     *MessageEvent     `cbor:"10,keyasint,omitempty"` // Transport layer
	StateChange *StateChangeEvent `cbor:"11,keyasint,omitempty"` // Attempt state
	Error       *ErrorEventData   `cbor:"12,keyasint,omitempty"` // Errors at any layer
	Door        *DoorEvent        `cbor:"13,keyasint,omitempty"` // Door actions
	Reader      *ReaderEvent      `cbor:"14,keyasint,omitempty"` // Reader input
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the HTTP exchange with intweb.
	LayerTransport Layer = 0
	// LayerProtocol is the attempt state machine.
	LayerProtocol Layer = 1
	// LayerController is the event loop, reader and door.
	LayerController Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerProtocol:
		return "PROTOCOL"
	case LayerController:
		return "CONTROLLER"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates an intweb request or response.
	CategoryMessage Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 1
	// CategoryError indicates an error event.
	CategoryError Category = 2
	// CategoryDoor indicates a door action.
	CategoryDoor Category = 3
	// CategoryReader indicates reader input that was not acted on.
	CategoryReader Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	case CategoryDoor:
		return "DOOR"
	case CategoryReader:
		return "READER"
	default:
		return "UNKNOWN"
	}
}

// MaxBodySize is the largest request or response body stored in an event.
// Longer bodies are truncated and flagged.
const MaxBodySize = 4096

// MessageEvent captures one side of an intweb HTTP exchange.
type MessageEvent struct {
	// Operation is the intweb operation ("get_nonce", "access").
	Operation string `cbor:"1,keyasint"`

	// Item is the access item for access requests.
	Item string `cbor:"2,keyasint,omitempty"`

	// Nonce sent with (out) or issued by (in) this exchange.
	Nonce string `cbor:"3,keyasint,omitempty"`

	// HTTPStatus is the response status code (in only).
	HTTPStatus int `cbor:"4,keyasint,omitempty"`

	// Body is the raw JSON body (possibly truncated to MaxBodySize).
	Body []byte `cbor:"5,keyasint,omitempty"`

	// Truncated indicates if Body was truncated.
	Truncated bool `cbor:"6,keyasint,omitempty"`

	// Duration is the round-trip time (in only). Stored as nanoseconds.
	Duration *time.Duration `cbor:"7,keyasint,omitempty"`
}

// SetBody stores body, truncating it to MaxBodySize.
func (m *MessageEvent) SetBody(body []byte) {
	if len(body) > MaxBodySize {
		m.Body = append([]byte(nil), body[:MaxBodySize]...)
		m.Truncated = true
		return
	}
	m.Body = append([]byte(nil), body...)
	m.Truncated = false
}

// StateChangeEvent captures access attempt state transitions.
type StateChangeEvent struct {
	// OldState is the previous state (may be empty).
	OldState string `cbor:"1,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"2,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"3,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Kind is the error classification (e.g. "transport", "invalid_nonce").
	Kind string `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}

// DoorAction is what the controller did with the door.
type DoorAction uint8

const (
	// DoorOpened indicates the strike was released.
	DoorOpened DoorAction = 0
	// DoorKeptClosed indicates the attempt did not grant access.
	DoorKeptClosed DoorAction = 1
)

// String returns the action name.
func (a DoorAction) String() string {
	switch a {
	case DoorOpened:
		return "OPENED"
	case DoorKeptClosed:
		return "KEPT_CLOSED"
	default:
		return "UNKNOWN"
	}
}

// DoorEvent captures a door decision.
type DoorEvent struct {
	// Action taken.
	Action DoorAction `cbor:"1,keyasint"`

	// Source of the request ("reader", "http", "console").
	Source string `cbor:"2,keyasint,omitempty"`

	// Reason is the denial reason, if any.
	Reason string `cbor:"3,keyasint,omitempty"`
}

// ReaderEvent captures a reader line that was ignored.
type ReaderEvent struct {
	// Line is the raw line as read.
	Line string `cbor:"1,keyasint"`

	// Reason the line was ignored.
	Reason string `cbor:"2,keyasint"`
}
