package retry

import (
	"math/rand"
	"time"
)

// Backoff defaults. A person is waiting at the door, so delays stay short.
const (
	// InitialBackoff is the first retry delay.
	InitialBackoff = 250 * time.Millisecond

	// MaxBackoff is the maximum retry delay.
	MaxBackoff = 2 * time.Second

	// BackoffMultiplier is the factor by which backoff increases.
	BackoffMultiplier = 2.0

	// JitterFactor is the maximum jitter as a fraction of base delay.
	JitterFactor = 0.25
)

// BackoffConfig shapes the delay between tries.
// Zero values select the package defaults.
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
	Jitter     float64       `yaml:"jitter"`
}

// DefaultBackoffConfig returns the default backoff parameters.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    InitialBackoff,
		Max:        MaxBackoff,
		Multiplier: BackoffMultiplier,
		Jitter:     JitterFactor,
	}
}

func (c BackoffConfig) normalize() BackoffConfig {
	if c.Initial <= 0 {
		c.Initial = InitialBackoff
	}
	if c.Max <= 0 {
		c.Max = MaxBackoff
	}
	if c.Max < c.Initial {
		c.Max = c.Initial
	}
	if c.Multiplier <= 1 {
		c.Multiplier = BackoffMultiplier
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	return c
}

// backoff steps through exponential delays for one Do call. It is not
// safe for concurrent use.
type backoff struct {
	cfg     BackoffConfig
	current time.Duration
	rng     *rand.Rand
}

func newBackoff(cfg BackoffConfig) *backoff {
	cfg = cfg.normalize()
	return &backoff{
		cfg:     cfg,
		current: cfg.Initial,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// next returns the next delay with random jitter and advances.
func (b *backoff) next() time.Duration {
	d := b.current
	if b.cfg.Jitter > 0 {
		d += time.Duration(float64(d) * b.cfg.Jitter * b.rng.Float64())
	}
	b.advance()
	return d
}

// longest returns the next delay with full jitter and advances.
func (b *backoff) longest() time.Duration {
	d := b.current + time.Duration(float64(b.current)*b.cfg.Jitter)
	b.advance()
	return d
}

func (b *backoff) advance() {
	next := time.Duration(float64(b.current) * b.cfg.Multiplier)
	if next > b.cfg.Max {
		next = b.cfg.Max
	}
	b.current = next
}
