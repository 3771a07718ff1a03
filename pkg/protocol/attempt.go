package protocol

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hive13/doorctl/pkg/log"
)

// State is the state of an access attempt.
type State uint8

const (
	// StateIdle is the state of a new attempt.
	StateIdle State = iota

	// StateNonceRequested indicates the get_nonce request is in flight.
	StateNonceRequested

	// StateAccessRequested indicates the access request is in flight.
	StateAccessRequested

	// StateGranted indicates intweb granted access.
	StateGranted

	// StateDenied indicates intweb refused access.
	StateDenied

	// StateFailed indicates the attempt ended in an error.
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateNonceRequested:
		return "NONCE_REQUESTED"
	case StateAccessRequested:
		return "ACCESS_REQUESTED"
	case StateGranted:
		return "GRANTED"
	case StateDenied:
		return "DENIED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether s ends an attempt.
func (s State) Terminal() bool {
	return s == StateGranted || s == StateDenied || s == StateFailed
}

// Result is the outcome of an access attempt.
type Result struct {
	// ID is the attempt ID.
	ID string

	// Badge and Item identify what was asked for.
	Badge uint64
	Item  string

	// State is the terminal state reached.
	State State

	// Decision is the server's answer. Only meaningful when State is
	// StateGranted or StateDenied.
	Decision AccessDecision

	// Err is set when State is StateFailed.
	Err error

	// Try is the 1-based try that produced this result.
	Try int

	// Started is when the first try began; Duration covers all tries.
	Started  time.Time
	Duration time.Duration
}

// Granted reports whether the door may open.
func (r Result) Granted() bool {
	return r.State == StateGranted && r.Err == nil && r.Decision.Granted()
}

// Reason returns a short description of why access was not granted.
func (r Result) Reason() string {
	switch {
	case r.Granted():
		return ""
	case r.Err != nil:
		return r.Err.Error()
	case r.Decision.Error != "":
		return r.Decision.Error
	case r.State == StateDenied:
		return "access denied"
	default:
		return "attempt " + r.State.String()
	}
}

// Attempt runs one nonce and access exchange for one badge.
//
// An Attempt owns its nonce and is run at most once. Separate attempts
// share nothing mutable and may run concurrently.
type Attempt struct {
	id       string
	client   *Client
	identity DeviceIdentity
	item     string
	badge    uint64

	mu    sync.Mutex
	state State
	ran   bool
	nonce *Nonce
}

// NewAttempt prepares an attempt for badge on item. A fresh UUID
// identifies it in logs.
func (c *Client) NewAttempt(id DeviceIdentity, item string, badge uint64) *Attempt {
	return &Attempt{
		id:       uuid.New().String(),
		client:   c,
		identity: id,
		item:     item,
		badge:    badge,
	}
}

// ID returns the attempt ID.
func (a *Attempt) ID() string {
	return a.id
}

// State returns the current state.
func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Nonce returns the nonce obtained by this attempt, or nil.
func (a *Attempt) Nonce() *Nonce {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nonce
}

// Run performs the exchange. The access request is only sent after a nonce
// was obtained in this same attempt. Any error leaves the attempt in
// StateFailed, which never grants.
func (a *Attempt) Run(ctx context.Context) Result {
	started := time.Now()
	res := Result{ID: a.id, Badge: a.badge, Item: a.item, Try: 1, Started: started}

	a.mu.Lock()
	if a.ran {
		res.State = a.state
		a.mu.Unlock()
		res.Err = ErrAttemptReused
		return res
	}
	a.ran = true
	a.mu.Unlock()

	ctx = ContextWithAttemptID(ctx, a.id)

	a.transition(StateNonceRequested, "")
	nonce, err := a.client.RequestNonce(ctx, a.identity)
	if err != nil {
		return a.fail(res, err, started)
	}

	a.mu.Lock()
	a.nonce = nonce
	a.mu.Unlock()

	a.transition(StateAccessRequested, "")
	decision, err := a.client.RequestAccess(ctx, a.identity, nonce, a.item, a.badge)
	if err != nil {
		return a.fail(res, err, started)
	}

	res.Decision = decision
	if decision.Granted() {
		res.State = StateGranted
	} else {
		res.State = StateDenied
	}
	a.transition(res.State, decision.Error)
	res.Duration = time.Since(started)
	return res
}

func (a *Attempt) fail(res Result, err error, started time.Time) Result {
	a.client.logger.Log(log.Event{
		Timestamp: time.Now(),
		AttemptID: a.id,
		Direction: log.DirectionIn,
		Layer:     log.LayerProtocol,
		Category:  log.CategoryError,
		Device:    a.identity.name,
		Badge:     a.badge,
		Error: &log.ErrorEventData{
			Layer:   log.LayerProtocol,
			Message: err.Error(),
			Kind:    Kind(err),
			Context: a.State().String(),
		},
	})
	a.transition(StateFailed, Kind(err))

	res.State = StateFailed
	res.Err = err
	res.Duration = time.Since(started)
	return res
}

func (a *Attempt) transition(to State, reason string) {
	a.mu.Lock()
	from := a.state
	a.state = to
	a.mu.Unlock()

	a.client.logger.Log(log.Event{
		Timestamp: time.Now(),
		AttemptID: a.id,
		Direction: log.DirectionOut,
		Layer:     log.LayerProtocol,
		Category:  log.CategoryState,
		Device:    a.identity.name,
		Badge:     a.badge,
		StateChange: &log.StateChangeEvent{
			OldState: from.String(),
			NewState: to.String(),
			Reason:   reason,
		},
	})
}
