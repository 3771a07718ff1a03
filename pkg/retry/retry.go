package retry

import (
	"context"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int `yaml:"max_attempts"`

	// Backoff shapes the delay between tries.
	Backoff BackoffConfig `yaml:"backoff"`
}

// DefaultPolicy returns three tries with the default backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     DefaultBackoffConfig(),
	}
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Budget returns the longest Do can take when each try runs for at most
// perTry and every delay gets its full jitter.
func (p Policy) Budget(perTry time.Duration) time.Duration {
	n := p.attempts()
	b := newBackoff(p.Backoff)
	total := time.Duration(n) * perTry
	for i := 1; i < n; i++ {
		total += b.longest()
	}
	return total
}

// Classifier reports whether err may be retried.
type Classifier func(err error) bool

// Do calls fn until it succeeds, returns an error retryable rejects, the
// attempt budget is spent, or ctx is done. The last error from fn is
// returned. fn receives the 1-based try number.
func Do(ctx context.Context, p Policy, retryable Classifier, fn func(ctx context.Context, try int) error) error {
	maxAttempts := p.attempts()
	b := newBackoff(p.Backoff)

	var err error
	for try := 1; try <= maxAttempts; try++ {
		err = fn(ctx, try)
		if err == nil {
			return nil
		}
		if try == maxAttempts || retryable == nil || !retryable(err) {
			return err
		}
		if werr := sleep(ctx, b.next()); werr != nil {
			return err
		}
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
