package statefile

import (
	"path/filepath"
	"strings"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/teranos/statesync/errors"
	"github.com/teranos/statesync/logger"
	"github.com/teranos/statesync/pulse"
	"github.com/teranos/statesync/state"
)

// DefaultDebounce collapses the burst of events editors produce on save
const DefaultDebounce = 250 * time.Millisecond

// Watcher replaces a store's state whenever its backing JSON file changes.
//
// The parent directory is watched rather than the file itself so that
// editors which save by rename keep being observed. A file that fails to
// load leaves the store untouched.
type Watcher struct {
	path   string
	store  *state.Store
	fs     *fsnotify.Watcher
	reload *pulse.Debouncer[struct{}]
	logger *zap.SugaredLogger

	reloads atomic.Int64
	failed  atomic.Int64

	done chan struct{}
	wg   gosync.WaitGroup
	once gosync.Once
}

// WatcherOption configures a Watcher
type WatcherOption func(*watcherOptions)

type watcherOptions struct {
	debounce time.Duration
	clock    clockwork.Clock
	logger   *zap.SugaredLogger
}

// WithDebounce sets how long the watcher waits for a burst of events to settle
func WithDebounce(d time.Duration) WatcherOption {
	return func(o *watcherOptions) { o.debounce = d }
}

// WithClock sets the clock driving the debounce window
func WithClock(c clockwork.Clock) WatcherOption {
	return func(o *watcherOptions) { o.clock = c }
}

// WithLogger sets the watcher's logger
func WithLogger(l *zap.SugaredLogger) WatcherOption {
	return func(o *watcherOptions) { o.logger = l }
}

// NewWatcher starts watching path and replaces store's state on each change
func NewWatcher(path string, store *state.Store, opts ...WatcherOption) (*Watcher, error) {
	o := watcherOptions{debounce: DefaultDebounce}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.logger == nil {
		o.logger = logger.ComponentLogger("statefile")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve %s", path)
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}
	if err := fs.Add(filepath.Dir(abs)); err != nil {
		fs.Close()
		return nil, errors.Wrapf(err, "failed to watch directory of %s", abs)
	}

	w := &Watcher{
		path:   abs,
		store:  store,
		fs:     fs,
		logger: o.logger.With(logger.FieldFile, abs),
		done:   make(chan struct{}),
	}
	w.reload = pulse.NewDebouncer(o.clock, o.debounce, func(struct{}) { w.apply() })

	w.wg.Add(1)
	go w.watchLoop()
	return w, nil
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debugw("State file changed", "op", event.Op.String())
			w.reload.Call(struct{}{})

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("State file watcher error", logger.FieldError, err)
		}
	}
}

// relevant reports whether event touches the watched file with content
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path || isScratchFile(event.Name) {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

// isScratchFile matches backups and the temp files Save writes
func isScratchFile(path string) bool {
	base := filepath.Base(path)
	return (strings.HasPrefix(base, ".") && strings.Contains(base, ".tmp")) ||
		strings.HasSuffix(base, "~") ||
		strings.Contains(base, ".back")
}

// apply loads the file and replaces the store's state
func (w *Watcher) apply() {
	m, err := Load(w.path)
	if err != nil {
		w.failed.Add(1)
		w.logger.Warnw("State file reload failed, keeping current state", logger.FieldError, err)
		return
	}
	if err := w.store.Replace(m); err != nil {
		w.failed.Add(1)
		w.logger.Warnw("State file reload rejected", logger.FieldError, err)
		return
	}
	w.reloads.Add(1)
	w.logger.Infow("State file reloaded", logger.FieldFingerprint, w.store.Hash())
}

// Reloads returns how many times the file was applied to the store
func (w *Watcher) Reloads() int64 { return w.reloads.Load() }

// Failures returns how many reloads were skipped because the file was invalid
func (w *Watcher) Failures() int64 { return w.failed.Load() }

// Close stops watching. A pending reload is dropped.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		w.reload.Stop()
		err = w.fs.Close()
		w.wg.Wait()
	})
	return err
}
