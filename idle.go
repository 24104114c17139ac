package chatsync

import (
	"log/slog"
	"sync"
	"time"
)

// IdleDetector moves the local user between online and idle. Any other
// status was chosen explicitly and is left alone.
type IdleDetector struct {
	presence *PresenceStore
	clock    Clock
	timeout  time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	running bool
	timer   Timer
	gen     uint64
}

// NewIdleDetector creates a stopped detector. A zero timeout uses
// DefaultIdleTimeout.
func NewIdleDetector(presence *PresenceStore, timeout time.Duration, clock Clock, log *slog.Logger) *IdleDetector {
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &IdleDetector{presence: presence, clock: clock, timeout: timeout, log: log}
}

// Start arms the inactivity timer as if the user had just been active.
func (d *IdleDetector) Start() {
	d.mu.Lock()
	d.running = true
	d.mu.Unlock()
	d.Activity()
}

// Activity records user input: an idle user comes back online and the
// inactivity timer restarts.
func (d *IdleDetector) Activity() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.timeout, func() { d.elapsed(gen) })
	d.mu.Unlock()

	d.transition(PresenceIdle, PresenceOnline)
}

// Stop cancels the inactivity timer.
func (d *IdleDetector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = false
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *IdleDetector) elapsed(gen uint64) {
	d.mu.Lock()
	stale := gen != d.gen || !d.running
	d.mu.Unlock()
	if stale {
		return
	}
	d.transition(PresenceOnline, PresenceIdle)
}

func (d *IdleDetector) transition(from, to PresenceStatus) {
	if _, err := d.presence.transitionLocal(from, to); err != nil {
		d.log.Warn("chatsync: idle presence update failed", "status", to, "err", err)
	}
}
