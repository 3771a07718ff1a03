package protocol

import (
	"context"
	"log/slog"
	"time"

	"github.com/hive13/doorctl/pkg/retry"
)

// AuthorizerConfig configures an Authorizer.
type AuthorizerConfig struct {
	// Identity is the device identity requests are signed with.
	Identity DeviceIdentity

	// Item is the access item asked for. Empty uses DefaultItem.
	Item string

	// Retry bounds how often a transport failure restarts the attempt.
	Retry retry.Policy

	// Logger receives operational messages. Nil uses slog.Default().
	Logger *slog.Logger
}

// Authorizer turns badge numbers into access decisions.
//
// Attempts through one Authorizer run one at a time: intweb keeps a single
// outstanding nonce per device, so a get_nonce issued before the previous
// nonce was spent would revoke it.
type Authorizer struct {
	client   *Client
	identity DeviceIdentity
	item     string
	policy   retry.Policy
	logger   *slog.Logger

	// turn holds a token while an attempt is between get_nonce and access.
	turn chan struct{}
}

// NewAuthorizer creates an Authorizer over client.
func NewAuthorizer(client *Client, cfg AuthorizerConfig) (*Authorizer, error) {
	if cfg.Identity.name == "" {
		return nil, ErrDeviceNameRequired
	}
	if len(cfg.Identity.secret) == 0 {
		return nil, ErrDeviceKeyRequired
	}
	if cfg.Item == "" {
		cfg.Item = DefaultItem
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry.MaxAttempts = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Authorizer{
		client:   client,
		identity: cfg.Identity,
		item:     cfg.Item,
		policy:   cfg.Retry,
		logger:   cfg.Logger,
		turn:     make(chan struct{}, 1),
	}, nil
}

// Item returns the access item asked for.
func (a *Authorizer) Item() string {
	return a.item
}

// Device returns the device name.
func (a *Authorizer) Device() string {
	return a.identity.name
}

// Authorize runs access attempts for badge until one reaches a decision,
// fails with a non-retryable error, or the retry budget is spent. Every
// try is a new Attempt with its own nonce. Tries wait for the attempt in
// progress; the turn is not held during backoff.
func (a *Authorizer) Authorize(ctx context.Context, badge uint64) Result {
	started := time.Now()
	var last Result

	_ = retry.Do(ctx, a.policy, IsRetryable, func(ctx context.Context, try int) error {
		last = a.run(ctx, badge)
		last.Try = try
		if last.Err != nil && IsRetryable(last.Err) && try < a.policy.MaxAttempts {
			a.logger.Warn("access attempt failed, retrying",
				"attempt", last.ID,
				"badge", badge,
				"try", try,
				"error", last.Err)
		}
		return last.Err
	})

	last.Started = started
	last.Duration = time.Since(started)
	return last
}

func (a *Authorizer) run(ctx context.Context, badge uint64) Result {
	select {
	case a.turn <- struct{}{}:
	case <-ctx.Done():
		return Result{Badge: badge, Item: a.item, State: StateFailed, Err: ctx.Err()}
	}
	defer func() { <-a.turn }()

	return a.client.NewAttempt(a.identity, a.item, badge).Run(ctx)
}
