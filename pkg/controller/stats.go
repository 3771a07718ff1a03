package controller

import (
	"sync/atomic"
	"time"
)

type counters struct {
	started    time.Time
	granted    atomic.Uint64
	denied     atomic.Uint64
	failed     atomic.Uint64
	doorErrors atomic.Uint64
	rejected   atomic.Uint64
	inFlight   atomic.Int64
}

// Stats is a snapshot of controller counters since start.
type Stats struct {
	Granted    uint64        `json:"granted"`
	Denied     uint64        `json:"denied"`
	Failed     uint64        `json:"failed"`
	DoorErrors uint64        `json:"door_errors"`
	Rejected   uint64        `json:"rejected"`
	InFlight   int64         `json:"in_flight"`
	Queued     int           `json:"queued"`
	Uptime     time.Duration `json:"uptime_ns"`
}

// Stats returns the current counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Granted:    c.stats.granted.Load(),
		Denied:     c.stats.denied.Load(),
		Failed:     c.stats.failed.Load(),
		DoorErrors: c.stats.doorErrors.Load(),
		Rejected:   c.stats.rejected.Load(),
		InFlight:   c.stats.inFlight.Load(),
		Queued:     len(c.queue),
		Uptime:     time.Since(c.stats.started),
	}
}

// Running reports whether Run is serving requests.
func (c *Controller) Running() bool {
	return c.running.Load()
}
