package pulse

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Debouncer collapses bursts of calls into one trailing invocation.
//
// The window is fixed: the first Call after an idle period arms a timer for
// wait, and later calls inside that window only replace the pending argument.
// When the timer fires, fn runs once with the most recent argument. A steady
// stream of calls therefore produces one invocation per window instead of
// being postponed forever.
type Debouncer[T any] struct {
	clock clockwork.Clock
	wait  time.Duration
	fn    func(T)

	mu      sync.Mutex
	timer   clockwork.Timer
	gen     uint64
	pending bool
	arg     T
	stopped bool
}

// NewDebouncer creates a debouncer that invokes fn at most once per wait.
func NewDebouncer[T any](clock clockwork.Clock, wait time.Duration, fn func(T)) *Debouncer[T] {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Debouncer[T]{clock: clock, wait: wait, fn: fn}
}

// Call schedules fn with arg, or replaces the argument of the already
// scheduled invocation. Calls after Stop are ignored.
func (d *Debouncer[T]) Call(arg T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.arg = arg
	if d.pending {
		return
	}

	d.pending = true
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.wait, func() { d.fire(gen) })
}

func (d *Debouncer[T]) fire(gen uint64) {
	d.mu.Lock()
	if d.stopped || !d.pending || gen != d.gen {
		d.mu.Unlock()
		return
	}
	arg := d.arg
	var zero T
	d.arg = zero
	d.pending = false
	d.timer = nil
	d.mu.Unlock()

	d.fn(arg)
}

// Cancel drops the pending invocation, if any. It reports whether one was
// pending.
func (d *Debouncer[T]) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancelLocked()
}

func (d *Debouncer[T]) cancelLocked() bool {
	if !d.pending {
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	var zero T
	d.arg = zero
	d.pending = false
	d.gen++
	return true
}

// Stop cancels any pending invocation and turns later calls into no-ops.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
	d.stopped = true
}

// Pending reports whether an invocation is scheduled
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}
