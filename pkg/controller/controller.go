package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hive13/doorctl/pkg/door"
	"github.com/hive13/doorctl/pkg/log"
	"github.com/hive13/doorctl/pkg/persistence"
	"github.com/hive13/doorctl/pkg/protocol"
	"github.com/hive13/doorctl/pkg/reader"
)

// Request sources.
const (
	SourceReader  = "reader"
	SourceHTTP    = "http"
	SourceConsole = "console"
)

// Default controller settings.
const (
	DefaultWorkers      = 4
	DefaultQueueSize    = 64
	DefaultQueueTimeout = 2 * time.Second
)

// Controller errors.
var (
	ErrQueueFull  = errors.New("controller: request queue full")
	ErrNotRunning = errors.New("controller: not running")
)

// Authorizer decides on a badge. *protocol.Authorizer implements it.
type Authorizer interface {
	Authorize(ctx context.Context, badge uint64) protocol.Result
}

// Recorder stores attempt outcomes. *persistence.AccessStateStore
// implements it.
type Recorder interface {
	Record(rec persistence.AttemptRecord) error
}

// Config configures a Controller.
type Config struct {
	// Workers is the number of concurrent attempts.
	Workers int

	// QueueSize bounds pending requests.
	QueueSize int

	// QueueTimeout bounds how long Request waits for a queue slot.
	QueueTimeout time.Duration

	// RequestTimeout bounds Request from queueing to outcome. Zero means
	// no bound beyond the caller's context.
	RequestTimeout time.Duration

	// Recorder receives every outcome. Nil disables recording.
	Recorder Recorder

	// Logger receives operational messages. Nil uses slog.Default().
	Logger *slog.Logger

	// ProtocolLogger receives DoorEvents. Nil disables capture.
	ProtocolLogger log.Logger
}

// Outcome is what happened to one request.
type Outcome struct {
	// Result of the access attempt.
	Result protocol.Result

	// Source of the request.
	Source string

	// Opened is set when the door was released.
	Opened bool

	// DoorErr is set when access was granted but the strike failed.
	DoorErr error
}

// Reason describes why the door stayed shut, or "" if it opened.
func (o Outcome) Reason() string {
	if o.Opened {
		return ""
	}
	if o.DoorErr != nil {
		return "door: " + o.DoorErr.Error()
	}
	return o.Result.Reason()
}

type request struct {
	ctx    context.Context
	badge  uint64
	source string
	reply  chan Outcome
}

// Controller runs access attempts and drives the door.
type Controller struct {
	auth     Authorizer
	door     door.Actuator
	recorder Recorder
	logger   *slog.Logger
	plog     log.Logger

	workers        int
	queueTimeout   time.Duration
	requestTimeout time.Duration
	queue          chan request

	running atomic.Bool
	stats   counters
}

// New creates a controller.
func New(auth Authorizer, actuator door.Actuator, cfg Config) *Controller {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.QueueTimeout <= 0 {
		cfg.QueueTimeout = DefaultQueueTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		auth:         auth,
		door:         actuator,
		recorder:     cfg.Recorder,
		logger:       cfg.Logger,
		plog:         log.OrNoop(cfg.ProtocolLogger),
		workers:        cfg.Workers,
		queueTimeout:   cfg.QueueTimeout,
		requestTimeout: cfg.RequestTimeout,
		queue:          make(chan request, cfg.QueueSize),
		stats:          counters{started: time.Now()},
	}
}

// Run serves queued requests until ctx is done. Requests still queued
// when ctx ends are answered as failed without contacting intweb.
func (c *Controller) Run(ctx context.Context) error {
	c.running.Store(true)
	defer c.running.Store(false)

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.worker(ctx)
		}()
	}
	wg.Wait()

	for {
		select {
		case req := <-c.queue:
			c.reply(req, Outcome{
				Source: req.source,
				Result: protocol.Result{Badge: req.badge, State: protocol.StateFailed, Err: ctx.Err()},
			})
		default:
			return ctx.Err()
		}
	}
}

func (c *Controller) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.queue:
			c.reply(req, c.handle(ctx, req))
		}
	}
}

func (c *Controller) reply(req request, out Outcome) {
	if req.reply != nil {
		req.reply <- out
	}
}

// Consume queues every event from events until the channel closes or ctx
// is done. It blocks while the queue is full.
func (c *Controller) Consume(ctx context.Context, events <-chan reader.BadgeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.logger.Info("badge read", "badge", ev.Badge)
			select {
			case c.queue <- request{ctx: ctx, badge: ev.Badge, source: SourceReader}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Request runs an attempt for badge and waits for the outcome. It fails
// with ErrQueueFull if no slot frees up within the queue timeout. When the
// request timeout or ctx ends first the attempt is abandoned and the door
// stays shut.
func (c *Controller) Request(ctx context.Context, badge uint64, source string) (Outcome, error) {
	if !c.running.Load() {
		return Outcome{}, ErrNotRunning
	}
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}
	req := request{ctx: ctx, badge: badge, source: source, reply: make(chan Outcome, 1)}

	timer := time.NewTimer(c.queueTimeout)
	defer timer.Stop()
	select {
	case c.queue <- req:
	case <-timer.C:
		c.stats.rejected.Add(1)
		return Outcome{}, ErrQueueFull
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}

	select {
	case out := <-req.reply:
		return out, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (c *Controller) handle(ctx context.Context, req request) Outcome {
	ctx, cancel := mergeCancel(ctx, req.ctx)
	defer cancel()

	c.stats.inFlight.Add(1)
	defer c.stats.inFlight.Add(-1)

	res := c.auth.Authorize(ctx, req.badge)
	out := Outcome{Result: res, Source: req.source}

	switch {
	case res.Granted() && ctx.Err() != nil:
		out.Result.State = protocol.StateFailed
		out.Result.Err = ctx.Err()
	case res.Granted():
		if err := c.door.Open(ctx); err != nil {
			out.DoorErr = err
		} else {
			out.Opened = true
		}
	}

	c.account(out)
	return out
}

func (c *Controller) account(out Outcome) {
	res := out.Result
	rec := persistence.AttemptRecord{
		ID:       res.ID,
		Badge:    res.Badge,
		Item:     res.Item,
		Source:   out.Source,
		At:       res.Started,
		Duration: res.Duration,
	}
	ev := &log.DoorEvent{Source: out.Source}

	switch {
	case out.Opened:
		c.stats.granted.Add(1)
		rec.Outcome = persistence.OutcomeGranted
		ev.Action = log.DoorOpened
		c.logger.Info("access granted", "badge", res.Badge, "source", out.Source, "attempt", res.ID, "try", res.Try)
	case out.DoorErr != nil:
		c.stats.granted.Add(1)
		c.stats.doorErrors.Add(1)
		rec.Outcome = persistence.OutcomeGranted
		rec.DoorError = out.DoorErr.Error()
		ev.Action = log.DoorKeptClosed
		ev.Reason = out.Reason()
		c.logger.Error("access granted but door failed", "badge", res.Badge, "attempt", res.ID, "error", out.DoorErr)
	case res.State == protocol.StateDenied:
		c.stats.denied.Add(1)
		rec.Outcome = persistence.OutcomeDenied
		rec.Reason = out.Reason()
		ev.Action = log.DoorKeptClosed
		ev.Reason = rec.Reason
		c.logger.Info("access denied", "badge", res.Badge, "source", out.Source, "attempt", res.ID, "reason", rec.Reason)
	default:
		c.stats.failed.Add(1)
		rec.Outcome = persistence.OutcomeFailed
		rec.Reason = out.Reason()
		rec.ErrorKind = protocol.Kind(res.Err)
		ev.Action = log.DoorKeptClosed
		ev.Reason = rec.Reason
		c.logger.Warn("access attempt failed", "badge", res.Badge, "source", out.Source, "attempt", res.ID,
			"kind", rec.ErrorKind, "tries", res.Try, "error", res.Err)
	}

	c.plog.Log(log.Event{
		Timestamp: time.Now(),
		AttemptID: res.ID,
		Direction: log.DirectionOut,
		Layer:     log.LayerController,
		Category:  log.CategoryDoor,
		Badge:     res.Badge,
		Door:      ev,
	})

	if c.recorder != nil {
		if err := c.recorder.Record(rec); err != nil {
			c.logger.Warn("failed to record attempt", "attempt", res.ID, "error", err)
		}
	}
}

// mergeCancel returns a context cancelled when either a or b is done. Values
// come from b.
func mergeCancel(a, b context.Context) (context.Context, context.CancelFunc) {
	if b == nil {
		return context.WithCancel(a)
	}
	ctx, cancel := context.WithCancel(b)
	stop := context.AfterFunc(a, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
