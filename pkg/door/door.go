// Package door drives the door strike.
//
// An Actuator is told to open the door and returns immediately. Strike
// holds a Pin high for a hold time and then drops it; a grant that arrives
// while the strike is already released extends the hold instead of
// toggling the pin.
package door

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultHoldTime is how long the strike stays released.
const DefaultHoldTime = 5 * time.Second

// ErrClosed is returned by Open after Close.
var ErrClosed = errors.New("door: actuator closed")

// Actuator opens the door. Open must not block for the hold time.
type Actuator interface {
	Open(ctx context.Context) error
}

// Pin is an output line driving the strike relay.
type Pin interface {
	High() error
	Low() error
}

// Strike releases a door strike through a Pin for a hold time.
type Strike struct {
	pin    Pin
	hold   time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	timer  *time.Timer
	until  time.Time
	gen    uint64
	opens  uint64
	closed bool
}

// NewStrike returns a strike on pin. The pin is driven low immediately.
func NewStrike(pin Pin, hold time.Duration, logger *slog.Logger) (*Strike, error) {
	if hold <= 0 {
		hold = DefaultHoldTime
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := pin.Low(); err != nil {
		return nil, fmt.Errorf("door: init pin: %w", err)
	}
	return &Strike{pin: pin, hold: hold, logger: logger}, nil
}

// Open releases the strike, or extends the hold if it is already released.
func (s *Strike) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.opens++
	s.until = time.Now().Add(s.hold)

	if s.timer != nil && s.timer.Stop() {
		s.timer.Reset(s.hold)
		s.logger.Debug("door hold extended", "until", s.until)
		return nil
	}

	if err := s.pin.High(); err != nil {
		return fmt.Errorf("door: release strike: %w", err)
	}
	s.logger.Info("door released", "hold", s.hold)
	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(s.hold, func() { s.relock(gen) })
	return nil
}

// relock drops the pin unless a later Open took over the strike.
func (s *Strike) relock(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.closed {
		return
	}
	s.timer = nil
	if err := s.pin.Low(); err != nil {
		s.logger.Error("door relock failed", "error", err)
		return
	}
	s.logger.Info("door locked")
}

// IsOpen reports whether the strike is currently released.
func (s *Strike) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Opens returns how many times Open succeeded.
func (s *Strike) Opens() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

// Close locks the door and stops accepting Open.
func (s *Strike) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	return s.pin.Low()
}

// FilePin drives a pin by writing "1" or "0" to a file such as a sysfs GPIO
// value file.
type FilePin struct {
	Path string
}

// High writes "1".
func (p FilePin) High() error {
	return os.WriteFile(p.Path, []byte("1"), 0o644)
}

// Low writes "0".
func (p FilePin) Low() error {
	return os.WriteFile(p.Path, []byte("0"), 0o644)
}

// LogActuator only logs. It is used for dry runs and hosts without a
// strike.
type LogActuator struct {
	Logger *slog.Logger
}

// Open logs the request.
func (a LogActuator) Open(ctx context.Context) error {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "door open (dry run)")
	return nil
}

// Compile-time interface satisfaction checks.
var (
	_ Actuator = (*Strike)(nil)
	_ Actuator = LogActuator{}
	_ Pin      = FilePin{}
)
