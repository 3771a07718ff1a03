package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errTransient = errors.New("transient")
	errTerminal  = errors.New("terminal")
)

func isTransient(err error) bool { return errors.Is(err, errTransient) }

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts: attempts,
		Backoff:     BackoffConfig{Initial: time.Millisecond, Max: 2 * time.Millisecond},
	}
}

func TestBackoff(t *testing.T) {
	t.Run("DefaultSequence", func(t *testing.T) {
		b := newBackoff(DefaultBackoffConfig())

		expected := []time.Duration{
			250 * time.Millisecond,
			500 * time.Millisecond,
			1 * time.Second,
			2 * time.Second,
			2 * time.Second, // Should stay at max
		}

		for i, exp := range expected {
			assert.Equal(t, exp, b.current, "attempt %d", i)
			_ = b.next()
		}
	})

	t.Run("JitterBounds", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			b := newBackoff(BackoffConfig{Initial: time.Second, Jitter: 0.25})
			d := b.next()
			assert.GreaterOrEqual(t, d, time.Second)
			assert.LessOrEqual(t, d, 1250*time.Millisecond)
		}
	})

	t.Run("Longest", func(t *testing.T) {
		b := newBackoff(BackoffConfig{Initial: time.Second, Max: 2 * time.Second, Jitter: 0.5})
		assert.Equal(t, 1500*time.Millisecond, b.longest())
		assert.Equal(t, 3*time.Second, b.longest())
		assert.Equal(t, 3*time.Second, b.longest())
	})

	t.Run("ConfigDefaults", func(t *testing.T) {
		b := newBackoff(BackoffConfig{Initial: -1, Max: 0, Multiplier: 0.5, Jitter: -1})
		assert.Equal(t, InitialBackoff, b.current)
		assert.Equal(t, InitialBackoff, b.next(), "negative jitter is clamped to zero")
	})
}

func TestPolicyBudget(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		perTry time.Duration
		want   time.Duration
	}{
		{
			name:   "single try",
			policy: Policy{MaxAttempts: 1},
			perTry: 15 * time.Second,
			want:   15 * time.Second,
		},
		{
			name:   "zero attempts means one",
			policy: Policy{},
			perTry: time.Second,
			want:   time.Second,
		},
		{
			name: "no jitter",
			policy: Policy{
				MaxAttempts: 3,
				Backoff:     BackoffConfig{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 2},
			},
			perTry: time.Second,
			want:   3*time.Second + 100*time.Millisecond + 200*time.Millisecond,
		},
		{
			name:   "defaults",
			policy: DefaultPolicy(),
			perTry: 15 * time.Second,
			// 250ms and 500ms delays, each with 25% jitter.
			want: 45*time.Second + 312500*time.Microsecond + 625*time.Millisecond,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Budget(tt.perTry))
		})
	}
}

func TestDo(t *testing.T) {
	t.Run("SucceedsFirstTry", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastPolicy(3), isTransient, func(ctx context.Context, try int) error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("RetriesTransientUntilSuccess", func(t *testing.T) {
		var tries []int
		err := Do(context.Background(), fastPolicy(5), isTransient, func(ctx context.Context, try int) error {
			tries = append(tries, try)
			if try < 3 {
				return errTransient
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3}, tries)
	})

	t.Run("StopsOnTerminal", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastPolicy(5), isTransient, func(ctx context.Context, try int) error {
			calls++
			return errTerminal
		})
		assert.ErrorIs(t, err, errTerminal)
		assert.Equal(t, 1, calls)
	})

	t.Run("ExhaustsBudget", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastPolicy(3), isTransient, func(ctx context.Context, try int) error {
			calls++
			return errTransient
		})
		assert.ErrorIs(t, err, errTransient)
		assert.Equal(t, 3, calls)
	})

	t.Run("ZeroAttemptsMeansOne", func(t *testing.T) {
		calls := 0
		_ = Do(context.Background(), fastPolicy(0), isTransient, func(ctx context.Context, try int) error {
			calls++
			return errTransient
		})
		assert.Equal(t, 1, calls)
	})

	t.Run("ContextCancelledDuringWait", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		p := Policy{MaxAttempts: 5, Backoff: BackoffConfig{Initial: time.Hour, Max: time.Hour}}

		calls := 0
		err := Do(ctx, p, isTransient, func(ctx context.Context, try int) error {
			calls++
			cancel()
			return errTransient
		})
		assert.ErrorIs(t, err, errTransient)
		assert.Equal(t, 1, calls)
	})
}
