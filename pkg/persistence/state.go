package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// DefaultMaxRecent is how many attempt records are kept.
const DefaultMaxRecent = 100

// Outcome of an attempt as stored.
const (
	OutcomeGranted = "granted"
	OutcomeDenied  = "denied"
	OutcomeFailed  = "failed"
)

// AccessState is the persisted controller state.
type AccessState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// Counters are lifetime totals.
	Counters Counters `json:"counters"`

	// Recent holds the newest attempts, oldest first.
	Recent []AttemptRecord `json:"recent,omitempty"`
}

// Counters are lifetime attempt totals.
type Counters struct {
	Granted    uint64 `json:"granted"`
	Denied     uint64 `json:"denied"`
	Failed     uint64 `json:"failed"`
	DoorErrors uint64 `json:"door_errors,omitempty"`
}

// Total returns the number of attempts counted.
func (c Counters) Total() uint64 {
	return c.Granted + c.Denied + c.Failed
}

// AttemptRecord is the stored summary of one attempt.
type AttemptRecord struct {
	// ID is the attempt ID.
	ID string `json:"id"`

	// Badge is the badge number.
	Badge uint64 `json:"badge"`

	// Item is the access item asked for.
	Item string `json:"item,omitempty"`

	// Source is where the request came from ("reader", "http", "console").
	Source string `json:"source,omitempty"`

	// Outcome is one of OutcomeGranted, OutcomeDenied, OutcomeFailed.
	Outcome string `json:"outcome"`

	// Reason explains a denial or failure.
	Reason string `json:"reason,omitempty"`

	// ErrorKind classifies a failure.
	ErrorKind string `json:"error_kind,omitempty"`

	// DoorError is set when access was granted but the strike failed.
	DoorError string `json:"door_error,omitempty"`

	// At is when the attempt started.
	At time.Time `json:"at"`

	// Duration of the attempt including retries.
	Duration time.Duration `json:"duration"`
}

// AccessStateStore manages the state file. Records are applied to an
// in-memory copy and the whole file is rewritten.
type AccessStateStore struct {
	mu        sync.Mutex
	path      string
	maxRecent int
	state     *AccessState
}

// NewAccessStateStore creates a store at path keeping maxRecent records.
// A maxRecent of zero uses DefaultMaxRecent.
func NewAccessStateStore(path string, maxRecent int) *AccessStateStore {
	if maxRecent <= 0 {
		maxRecent = DefaultMaxRecent
	}
	return &AccessStateStore{path: path, maxRecent: maxRecent}
}

// Path returns the state file path.
func (s *AccessStateStore) Path() string {
	return s.path
}

// Load reads the state from disk into the store and returns a copy.
// A missing file yields an empty state.
func (s *AccessStateStore) Load() (*AccessState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.state = &AccessState{Version: StateVersion}
		return s.snapshot(), nil
	}
	if err != nil {
		return nil, err
	}

	state := &AccessState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}
	s.state = state
	return s.snapshot(), nil
}

// Record adds an attempt and saves the state.
func (s *AccessStateStore) Record(rec AttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		s.state = &AccessState{Version: StateVersion}
	}
	switch rec.Outcome {
	case OutcomeGranted:
		s.state.Counters.Granted++
	case OutcomeDenied:
		s.state.Counters.Denied++
	default:
		s.state.Counters.Failed++
	}
	if rec.DoorError != "" {
		s.state.Counters.DoorErrors++
	}

	s.state.Recent = append(s.state.Recent, rec)
	if n := len(s.state.Recent) - s.maxRecent; n > 0 {
		s.state.Recent = slices.Delete(s.state.Recent, 0, n)
	}
	return s.save()
}

// State returns a copy of the in-memory state.
func (s *AccessStateStore) State() *AccessState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return &AccessState{Version: StateVersion}
	}
	return s.snapshot()
}

// Clear removes the state file and resets the in-memory state.
func (s *AccessStateStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = &AccessState{Version: StateVersion}
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *AccessStateStore) snapshot() *AccessState {
	cp := *s.state
	cp.Recent = slices.Clone(s.state.Recent)
	return &cp
}

// save writes a temporary file and renames it over the state file.
func (s *AccessStateStore) save() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	s.state.Version = StateVersion
	s.state.SavedAt = time.Now()

	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0640); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
