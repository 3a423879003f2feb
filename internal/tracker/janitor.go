// Package tracker implements the interaction dedup and navigation-pattern core.
//
// This file implements the history janitor, a background sweep that evicts
// idle session histories to bound memory.
package tracker

import (
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often the janitor sweeps for idle sessions.
const DefaultSweepInterval = 60 * time.Second

// Janitor periodically evicts idle sessions from a Tracker. It runs on its
// own timer, independent of request traffic, and uses the tracker's
// non-blocking eviction so it never stalls live dispatch.
type Janitor struct {
	tracker  *Tracker
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewJanitor creates a janitor for the tracker. An interval <= 0 uses the
// default sweep interval.
func NewJanitor(t *Tracker, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Janitor{
		tracker:  t,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. It returns immediately.
func (j *Janitor) Start() {
	slog.Info("Janitor starting", "interval", j.interval, "idleTimeout", j.tracker.IdleTimeout())
	go j.run()
}

// Stop terminates the sweep loop and waits for it to exit.
func (j *Janitor) Stop() {
	close(j.stop)
	<-j.done
	slog.Info("Janitor stopped")
}

func (j *Janitor) run() {
	defer close(j.done)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stop:
			return
		case <-ticker.C:
			start := time.Now()
			evicted := j.tracker.EvictIdle(start, j.tracker.IdleTimeout())
			if evicted > 0 {
				slog.Debug("Janitor sweep complete", "evicted", evicted, "elapsed", time.Since(start))
			}
		}
	}
}
