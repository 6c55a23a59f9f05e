package pulse

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/teranos/statesync/logger"
)

// TickFunc is invoked on every tick. An error is logged and the ticker keeps
// running.
type TickFunc func(ctx context.Context, now time.Time) error

// Ticker runs a TickFunc at a fixed interval until stopped or until its
// parent context is cancelled.
type Ticker struct {
	name     string
	interval time.Duration
	fn       TickFunc
	clock    clockwork.Clock
	logger   *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	ticks int64
	last  time.Time
}

// TickerConfig configures a Ticker
type TickerConfig struct {
	Name     string
	Interval time.Duration
	Clock    clockwork.Clock
}

// NewTicker creates a ticker bound to ctx. Call Start to begin ticking.
func NewTicker(ctx context.Context, cfg TickerConfig, fn TickFunc, log *zap.SugaredLogger) *Ticker {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = logger.ComponentLogger("pulse")
	}
	tickerCtx, cancel := context.WithCancel(ctx)

	return &Ticker{
		name:     cfg.Name,
		interval: cfg.Interval,
		fn:       fn,
		clock:    cfg.Clock,
		logger:   log,
		ctx:      tickerCtx,
		cancel:   cancel,
	}
}

// Start begins the ticker loop
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.logger.Debugw("ticker started", "ticker", t.name, "interval", t.interval)
}

// Stop cancels the loop and waits for an in-flight tick to finish
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.logger.Debugw("ticker stopped", "ticker", t.name, logger.FieldCount, t.Ticks())
}

// Ticks returns how many ticks have run
func (t *Ticker) Ticks() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ticks
}

// LastTick returns the time of the most recent tick
func (t *Ticker) LastTick() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case now := <-ticker.Chan():
			if err := t.fn(t.ctx, now); err != nil {
				t.logger.Warnw("tick failed", "ticker", t.name, logger.FieldError, err)
			}

			t.mu.Lock()
			t.last = now
			t.ticks++
			t.mu.Unlock()
		}
	}
}
