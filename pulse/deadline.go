package pulse

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Deadline runs fn once a timeout elapses without being reset or cancelled.
// Unlike Debouncer, every Reset restarts the countdown.
type Deadline struct {
	clock clockwork.Clock
	fn    func()

	mu      sync.Mutex
	timer   clockwork.Timer
	gen     uint64
	armed   bool
	stopped bool
}

// NewDeadline creates a disarmed deadline.
func NewDeadline(clock clockwork.Clock, fn func()) *Deadline {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Deadline{clock: clock, fn: fn}
}

// Reset (re)arms the deadline to fire after timeout, replacing any countdown
// already running. It is a no-op after Stop.
func (d *Deadline) Reset(timeout time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.disarmLocked()

	d.armed = true
	gen := d.gen
	d.timer = d.clock.AfterFunc(timeout, func() { d.fire(gen) })
}

func (d *Deadline) fire(gen uint64) {
	d.mu.Lock()
	if d.stopped || !d.armed || gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.armed = false
	d.timer = nil
	d.mu.Unlock()

	d.fn()
}

// Cancel disarms the deadline. It reports whether it was armed.
func (d *Deadline) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disarmLocked()
}

func (d *Deadline) disarmLocked() bool {
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	was := d.armed
	d.armed = false
	return was
}

// Stop disarms the deadline for good
func (d *Deadline) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disarmLocked()
	d.stopped = true
}

// Armed reports whether a countdown is running
func (d *Deadline) Armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}
