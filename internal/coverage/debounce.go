package coverage

import (
	"sync"
	"time"
)

// Debouncer collapses bursts of Trigger calls into a single delayed call of
// its operation. Only the last Trigger within the delay window survives.
type Debouncer struct {
	delay time.Duration
	op    func()

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// NewDebouncer creates a debouncer that runs op once delay has elapsed
// without a newer Trigger.
func NewDebouncer(delay time.Duration, op func()) *Debouncer {
	return &Debouncer{delay: delay, op: op}
}

// Trigger cancels any pending call and arms a new one.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
	gen := d.gen
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

// Cancel drops any pending call. It is safe to call with nothing pending.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

// Pending reports whether a call is armed and has not fired yet.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// stopLocked stops the timer and bumps the generation so a callback that
// already started but has not taken the lock becomes a no-op.
func (d *Debouncer) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.gen++
	d.mu.Unlock()

	d.op()
}
