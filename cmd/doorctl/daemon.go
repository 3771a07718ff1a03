package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/hive13/doorctl/cmd/doorctl/interactive"
	"github.com/hive13/doorctl/pkg/checksum"
	"github.com/hive13/doorctl/pkg/config"
	"github.com/hive13/doorctl/pkg/controller"
	"github.com/hive13/doorctl/pkg/discovery"
	"github.com/hive13/doorctl/pkg/door"
	"github.com/hive13/doorctl/pkg/log"
	"github.com/hive13/doorctl/pkg/persistence"
	"github.com/hive13/doorctl/pkg/protocol"
	"github.com/hive13/doorctl/pkg/reader"
)

const shutdownTimeout = 5 * time.Second

// output lets the console take over log output after startup.
type output struct {
	mu sync.Mutex
	w  io.Writer
}

func (o *output) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.w.Write(p)
}

func (o *output) set(w io.Writer) {
	o.mu.Lock()
	o.w = w
	o.mu.Unlock()
}

// newLogger builds the operational logger.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

// newProtocolLogger builds the capture logger. At debug level events are
// also written to the operational log. The returned closer is never nil.
func newProtocolLogger(cfg config.LogConfig, logger *slog.Logger) (log.Logger, func() error, error) {
	var loggers []log.Logger
	closer := func() error { return nil }

	if cfg.Protocol != "" {
		fl, err := log.NewFileLogger(cfg.Protocol)
		if err != nil {
			return nil, closer, fmt.Errorf("protocol log: %w", err)
		}
		loggers = append(loggers, fl)
		closer = fl.Close
	}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		loggers = append(loggers, log.NewSlogAdapter(logger))
	}

	switch len(loggers) {
	case 0:
		return nil, closer, nil
	case 1:
		return loggers[0], closer, nil
	default:
		return log.NewMultiLogger(loggers...), closer, nil
	}
}

// newAuthorizer builds the intweb client and authorizer.
func newAuthorizer(cfg config.IntwebConfig, plog log.Logger, logger *slog.Logger) (*protocol.Authorizer, error) {
	engine, err := checksum.ByName(cfg.Checksum)
	if err != nil {
		return nil, err
	}
	id, err := protocol.NewDeviceIdentity(cfg.Device, cfg.Key)
	if err != nil {
		return nil, err
	}

	ccfg := protocol.DefaultClientConfig()
	ccfg.URL = cfg.URL
	ccfg.Timeout = cfg.Timeout
	ccfg.Engine = engine
	ccfg.Logger = plog
	client, err := protocol.NewClient(ccfg)
	if err != nil {
		return nil, err
	}

	return protocol.NewAuthorizer(client, protocol.AuthorizerConfig{
		Identity: id,
		Item:     cfg.Item,
		Retry:    cfg.Retry,
		Logger:   logger,
	})
}

// newActuator returns the strike, or a logging stand-in without a pin.
// The returned closer is never nil.
func newActuator(cfg config.DoorConfig, logger *slog.Logger) (door.Actuator, func() error, error) {
	if cfg.Pin == "" {
		logger.Warn("no door pin configured, door openings are only logged")
		return door.LogActuator{Logger: logger}, func() error { return nil }, nil
	}
	strike, err := door.NewStrike(door.FilePin{Path: cfg.Pin}, cfg.HoldTime, logger)
	if err != nil {
		return nil, nil, err
	}
	return strike, strike.Close, nil
}

// newSource returns the badge source, or nil when badges only arrive over
// HTTP or the console.
func newSource(cfg config.ReaderConfig, interactiveMode bool, plog log.Logger, logger *slog.Logger) (reader.Source, error) {
	format, err := reader.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	scfg := reader.SourceConfig{Format: format, Logger: logger, ProtocolLogger: plog}
	switch {
	case cfg.Command != "":
		return reader.NewProcessSource(cfg.Command, cfg.Args, scfg), nil
	case interactiveMode:
		return nil, nil
	default:
		return reader.NewLineSource(os.Stdin, scfg), nil
	}
}

func run(ctx context.Context, cfg config.Config, o Options) error {
	out := &output{w: os.Stderr}
	logger, err := newLogger(out, cfg.Log.Level)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	plog, closePlog, err := newProtocolLogger(cfg.Log, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closePlog(); err != nil {
			logger.Warn("closing protocol log", "error", err)
		}
	}()

	auth, err := newAuthorizer(cfg.Intweb, plog, logger)
	if err != nil {
		return err
	}

	actuator, closeDoor, err := newActuator(cfg.Door, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeDoor(); err != nil {
			logger.Error("locking door on shutdown", "error", err)
		}
	}()

	ccfg := controller.Config{
		Workers:        cfg.Controller.Workers,
		QueueSize:      cfg.Controller.QueueSize,
		QueueTimeout:   cfg.Controller.QueueTimeout,
		RequestTimeout: cfg.RequestTimeout(),
		Logger:         logger,
		ProtocolLogger: plog,
	}
	var store *persistence.AccessStateStore
	if cfg.State.Path != "" {
		store = persistence.NewAccessStateStore(cfg.State.Path, cfg.State.Recent)
		state, err := store.Load()
		if err != nil {
			return err
		}
		logger.Info("state loaded", "path", store.Path(),
			"granted", state.Counters.Granted, "denied", state.Counters.Denied, "failed", state.Counters.Failed)
		ccfg.Recorder = store
	}
	ctrl := controller.New(auth, actuator, ccfg)

	logger.Info("doorctl starting",
		"url", cfg.Intweb.URL,
		"device", auth.Device(),
		"item", auth.Item(),
		"door", cfg.Door.Pin,
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ctrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("controller stopped", "error", err)
		}
	}()

	src, err := newSource(cfg.Reader, o.Interactive, plog, logger)
	if err != nil {
		return err
	}
	if src != nil {
		events := make(chan reader.BadgeEvent)
		wg.Add(2)
		go func() {
			defer wg.Done()
			ctrl.Consume(ctx, events)
		}()
		go func() {
			defer wg.Done()
			err := src.Run(ctx, events)
			if ctx.Err() == nil {
				logger.Error("reader stopped", "error", err)
				cancel()
			}
		}()
	}

	if cfg.HTTP.Listen != "" {
		stopHTTP, err := serveHTTP(ctx, cfg, ctrl, auth, logger)
		if err != nil {
			return err
		}
		defer stopHTTP()
	}

	if o.Interactive {
		var history interactive.History
		if store != nil {
			history = store
		}
		console, err := interactive.New(ctrl, history)
		if err != nil {
			return err
		}
		out.set(console.Stdout())
		go console.Run(ctx, cancel)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	cancel()
	wg.Wait()
	return nil
}

// serveHTTP starts the open-door endpoint and, if enabled, its mDNS
// advertisement. The returned function stops both.
func serveHTTP(ctx context.Context, cfg config.Config, ctrl *controller.Controller, auth *protocol.Authorizer, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", cfg.HTTP.Listen)
	if err != nil {
		return nil, fmt.Errorf("http listen: %w", err)
	}
	srv := &http.Server{
		Handler:      ctrl.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout(),
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "error", err)
		}
	}()
	logger.Info("http endpoint listening", "addr", ln.Addr().String())

	var adv *discovery.MDNSAdvertiser
	if cfg.Discovery.Enabled {
		adv = discovery.NewMDNSAdvertiser(discovery.AdvertiserConfig{TTL: discovery.DefaultTTL})
		info := discovery.Info{
			Instance: cfg.Discovery.Instance,
			Device:   auth.Device(),
			Item:     auth.Item(),
			Version:  protocol.ProtocolVersion,
			Port:     uint16(ln.Addr().(*net.TCPAddr).Port),
		}
		if err := adv.Advertise(ctx, info); err != nil {
			logger.Warn("mDNS advertisement failed", "error", err)
		} else {
			logger.Info("advertising", "service", discovery.ServiceType, "instance", info.InstanceName())
		}
	}

	return func() {
		if adv != nil {
			adv.Stop()
		}
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
	}, nil
}
