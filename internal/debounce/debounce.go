// Package debounce implements a trailing-edge deferred call that can be cancelled and whose
// stale firings are detected through a generation token.
package debounce

import (
	"sync"
	"time"
)

// Deferred holds at most one pending call. Every Schedule restarts the wait and
// invalidates the previous generation, so a timer that already fired but lost the race
// against Cancel or a newer Schedule is rejected by Claim.
type Deferred struct {
	mu      sync.Mutex
	delay   time.Duration
	timer   *time.Timer
	gen     uint64
	pending bool
}

func New(delay time.Duration) *Deferred {
	return &Deferred{delay: delay}
}

func (d *Deferred) Delay() time.Duration {
	return d.delay
}

// Schedule arms fn to run after the delay. fn receives the generation it was armed with and
// must call Claim(gen) under the caller's own lock before acting.
func (d *Deferred) Schedule(fn func(gen uint64)) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.pending = true
	d.timer = time.AfterFunc(d.delay, func() { fn(gen) })
	return gen
}

// Trigger is Schedule for callers without their own lock: fn runs only if still current.
func (d *Deferred) Trigger(fn func()) {
	d.Schedule(func(gen uint64) {
		if d.Claim(gen) {
			fn()
		}
	})
}

// Claim consumes the pending call if gen is still the current generation.
func (d *Deferred) Claim(gen uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.pending || gen != d.gen {
		return false
	}
	d.pending = false
	d.timer = nil
	return true
}

// Cancel drops the pending call, if any, and reports whether one was pending.
func (d *Deferred) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	was := d.pending
	d.pending = false
	return was
}

func (d *Deferred) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}
