// Package switches counts application switches while ignoring focus flicker.
package switches

import (
	"sync"
	"time"
)

// DefaultDwell is the minimum time between two counted switches
const DefaultDwell = 2 * time.Second

// Debouncer tracks the focused application and counts genuine switches.
// It is shared by the ingest path (Observe) and the scheduler (Take); every
// read-modify-write runs under one mutex.
type Debouncer struct {
	mu         sync.Mutex
	current    string
	tracking   bool
	count      int64
	lastSwitch time.Time
	dwell      time.Duration
	now        func() time.Time
}

// Option configures a Debouncer
type Option func(*Debouncer)

// WithClock replaces the wall clock, for tests
func WithClock(now func() time.Time) Option {
	return func(d *Debouncer) { d.now = now }
}

// New creates a Debouncer with the given minimum dwell duration
func New(dwell time.Duration, opts ...Option) *Debouncer {
	d := &Debouncer{dwell: dwell, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	d.lastSwitch = d.now()
	return d
}

// Observe records that appID is now focused. A change of application is
// counted only when at least the dwell duration has passed since the last
// counted switch; the new application is adopted either way.
func (d *Debouncer) Observe(appID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if !d.tracking {
		d.current = appID
		d.tracking = true
		d.lastSwitch = now
		return
	}
	if d.current == appID {
		return
	}
	if now.Sub(d.lastSwitch) >= d.dwell {
		d.count++
		d.lastSwitch = now
	}
	d.current = appID
}

// Count returns the switches counted since the last reset
func (d *Debouncer) Count() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// Current returns the focused application, if any
func (d *Debouncer) Current() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current, d.tracking
}

// Reset zeroes the count. The focused application carries over.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	d.count = 0
	d.mu.Unlock()
}

// Take returns the count and resets it in a single critical section
func (d *Debouncer) Take() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.count
	d.count = 0
	return n
}

// Restore adds back a count returned by Take whose period was never written
func (d *Debouncer) Restore(n int64) {
	if n <= 0 {
		return
	}
	d.mu.Lock()
	d.count += n
	d.mu.Unlock()
}
