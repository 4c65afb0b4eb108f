// Package clock provides the shared monotonic clock reference and the
// per-channel timestamp synchronizer used to stamp outgoing frames.
//
// All channels read the same Reference, captured once when the pipeline
// starts playing, so timestamps on different sessions are directly
// comparable. Each channel owns its own Synchronizer.
package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock abstracts a monotonic time source for deterministic testing.
//
// Now returns the time elapsed since an arbitrary, fixed epoch. Values
// returned by successive calls never decrease.
type Clock interface {
	Now() time.Duration
}

// SystemClock is a Clock backed by the process monotonic clock.
type SystemClock struct {
	epoch time.Time
}

// NewSystemClock returns a SystemClock whose epoch is the moment of creation.
func NewSystemClock() *SystemClock {
	return &SystemClock{epoch: time.Now()}
}

// Now returns the monotonic time elapsed since the clock was created.
func (c *SystemClock) Now() time.Duration {
	return time.Since(c.epoch)
}

// ManualClock is a Clock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Duration
}

// NewManualClock returns a ManualClock positioned at start.
func NewManualClock(start time.Duration) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d. Negative values are ignored.
func (c *ManualClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}

// Set positions the clock at t if t is not earlier than the current time.
func (c *ManualClock) Set(t time.Duration) {
	c.mu.Lock()
	if t > c.now {
		c.now = t
	}
	c.mu.Unlock()
}

type snapshot struct {
	clock    Clock
	base     time.Duration
	wall     time.Time
	captured time.Duration
}

// Reference maps a pipeline clock and base time to running time.
//
// The reference is captured once when the pipeline reaches the playing
// state and read concurrently by every producer through an atomic
// snapshot.
type Reference struct {
	snap atomic.Pointer[snapshot]
}

// Capture records the clock and base time. Later captures replace earlier
// ones atomically.
func (r *Reference) Capture(c Clock, base time.Duration) {
	s := &snapshot{
		clock: c,
		base:  base,
		wall:  time.Now(),
	}
	s.captured = c.Now() - base
	r.snap.Store(s)
}

// Reset drops the captured snapshot. Running reports false afterwards.
func (r *Reference) Reset() {
	r.snap.Store(nil)
}

// Captured reports whether a snapshot is held.
func (r *Reference) Captured() bool {
	return r.snap.Load() != nil
}

// Running returns clock.Now() minus the base time. The boolean is false if
// the reference has not been captured yet.
func (r *Reference) Running() (time.Duration, bool) {
	s := r.snap.Load()
	if s == nil {
		return 0, false
	}
	return s.clock.Now() - s.base, true
}

// Wall converts a running time into wall-clock time, anchored at the
// moment of capture. The zero time is returned before capture.
func (r *Reference) Wall(running time.Duration) time.Time {
	s := r.snap.Load()
	if s == nil {
		return time.Time{}
	}
	return s.wall.Add(running - s.captured)
}
