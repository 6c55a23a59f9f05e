package pulse

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/statesync/errors"
)

const (
	waitFor = time.Second
	tick    = time.Millisecond
	quiet   = 50 * time.Millisecond
)

type calls[T any] struct {
	mu   sync.Mutex
	args []T
}

func (c *calls[T]) record(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.args = append(c.args, v)
}

func (c *calls[T]) snapshot() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.args...)
}

func (c *calls[T]) count() int { return len(c.snapshot()) }

func TestDebouncer_CoalescesBurst(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var got calls[string]
	d := NewDebouncer(clock, time.Second, got.record)

	d.Call("a")
	d.Call("b")
	d.Call("c")
	assert.True(t, d.Pending())

	clock.Advance(time.Second)

	require.Eventually(t, func() bool { return got.count() == 1 }, waitFor, tick)
	assert.Equal(t, []string{"c"}, got.snapshot())
	assert.False(t, d.Pending())
	assert.Never(t, func() bool { return got.count() > 1 }, quiet, tick)
}

func TestDebouncer_DoesNotFireEarly(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var got calls[int]
	d := NewDebouncer(clock, time.Second, got.record)

	d.Call(1)
	clock.Advance(999 * time.Millisecond)

	assert.Never(t, func() bool { return got.count() > 0 }, quiet, tick)
	assert.True(t, d.Pending())
}

func TestDebouncer_FixedWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var got calls[int]
	d := NewDebouncer(clock, time.Second, got.record)

	d.Call(1)
	clock.Advance(600 * time.Millisecond)
	d.Call(2)
	clock.Advance(400 * time.Millisecond)

	// A call inside the window does not push the deadline out
	require.Eventually(t, func() bool { return got.count() == 1 }, waitFor, tick)
	assert.Equal(t, []int{2}, got.snapshot())
}

func TestDebouncer_NewWindowAfterFire(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var got calls[int]
	d := NewDebouncer(clock, time.Second, got.record)

	d.Call(1)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return got.count() == 1 }, waitFor, tick)

	d.Call(2)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return got.count() == 2 }, waitFor, tick)
	assert.Equal(t, []int{1, 2}, got.snapshot())
}

func TestDebouncer_Cancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var got calls[int]
	d := NewDebouncer(clock, time.Second, got.record)

	assert.False(t, d.Cancel())
	d.Call(1)
	assert.True(t, d.Cancel())
	clock.Advance(2 * time.Second)

	assert.Never(t, func() bool { return got.count() > 0 }, quiet, tick)
}

func TestDebouncer_StopMakesCallsNoOps(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var got calls[int]
	d := NewDebouncer(clock, time.Second, got.record)

	d.Call(1)
	d.Stop()
	d.Call(2)
	assert.False(t, d.Pending())

	clock.Advance(5 * time.Second)
	assert.Never(t, func() bool { return got.count() > 0 }, quiet, tick)
}

func TestDeadline_FiresAfterTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var fired atomic.Int32
	d := NewDeadline(clock, func() { fired.Add(1) })

	d.Reset(10 * time.Second)
	assert.True(t, d.Armed())
	clock.Advance(10 * time.Second)

	require.Eventually(t, func() bool { return fired.Load() == 1 }, waitFor, tick)
	assert.False(t, d.Armed())
}

func TestDeadline_ResetRestartsCountdown(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var fired atomic.Int32
	d := NewDeadline(clock, func() { fired.Add(1) })

	d.Reset(10 * time.Second)
	clock.Advance(6 * time.Second)
	d.Reset(10 * time.Second)
	clock.Advance(6 * time.Second)

	assert.Never(t, func() bool { return fired.Load() > 0 }, quiet, tick)

	clock.Advance(4 * time.Second)
	require.Eventually(t, func() bool { return fired.Load() == 1 }, waitFor, tick)
}

func TestDeadline_CancelAndStop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var fired atomic.Int32
	d := NewDeadline(clock, func() { fired.Add(1) })

	d.Reset(time.Second)
	assert.True(t, d.Cancel())
	assert.False(t, d.Cancel())

	d.Stop()
	d.Reset(time.Second)
	assert.False(t, d.Armed())

	clock.Advance(5 * time.Second)
	assert.Never(t, func() bool { return fired.Load() > 0 }, quiet, tick)
}

func TestDeadline_CallbackMayRearm(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var fired atomic.Int32
	var d *Deadline
	d = NewDeadline(clock, func() {
		fired.Add(1)
		d.Reset(time.Second)
	})

	d.Reset(time.Second)
	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		return fired.Load() >= 3
	}, waitFor, tick)

	d.Stop()
	assert.False(t, d.Armed())
}

func TestTicker_RunsUntilStopped(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var ticks atomic.Int32
	tk := NewTicker(context.Background(), TickerConfig{Name: "test", Interval: time.Second, Clock: clock},
		func(ctx context.Context, now time.Time) error {
			ticks.Add(1)
			return nil
		}, zap.NewNop().Sugar())

	tk.Start()
	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		return tk.Ticks() >= 3
	}, waitFor, tick)
	tk.Stop()

	stopped := ticks.Load()
	clock.Advance(10 * time.Second)
	assert.Never(t, func() bool { return ticks.Load() != stopped }, quiet, tick)
	assert.False(t, tk.LastTick().IsZero())
}

func TestTicker_ErrorsDoNotStopLoop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tk := NewTicker(context.Background(), TickerConfig{Name: "failing", Interval: time.Second, Clock: clock},
		func(ctx context.Context, now time.Time) error {
			return errors.New("tick failed")
		}, zap.NewNop().Sugar())

	tk.Start()
	defer tk.Stop()

	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		return tk.Ticks() >= 2
	}, waitFor, tick)
}

func TestTicker_ParentContextCancels(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	tk := NewTicker(ctx, TickerConfig{Name: "ctx", Interval: time.Second, Clock: clock},
		func(context.Context, time.Time) error { return nil }, nil)

	tk.Start()
	cancel()

	done := make(chan struct{})
	go func() {
		tk.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("ticker did not stop after parent context was cancelled")
	}
}
