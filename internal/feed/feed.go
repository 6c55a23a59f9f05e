// Package feed provides a small typed subscribe/emit primitive shared by the
// state store and the sync channel.
package feed

import (
	"sync"
)

// PanicHandler is called when a subscriber panics during Emit
type PanicHandler func(recovered any)

type subscription[T any] struct {
	id uint64
	fn func(T)
}

// Feed fans values of one type out to subscribers in subscription order.
// The zero value is ready to use.
type Feed[T any] struct {
	mu       sync.Mutex
	nextID   uint64
	subs     []subscription[T]
	closed   bool
	panicked PanicHandler
}

// SetPanicHandler installs a handler for subscriber panics. A panicking
// subscriber never prevents delivery to the remaining subscribers.
func (f *Feed[T]) SetPanicHandler(h PanicHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panicked = h
}

// Subscribe registers fn and returns a function that removes it again.
// Subscribing to a closed feed is a no-op.
func (f *Feed[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return func() {}
	}

	f.nextID++
	id := f.nextID
	f.subs = append(f.subs, subscription[T]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { f.remove(id) })
	}
}

func (f *Feed[T]) remove(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, s := range f.subs {
		if s.id == id {
			f.subs = append(f.subs[:i:i], f.subs[i+1:]...)
			return
		}
	}
}

// Emit delivers v to every current subscriber on the calling goroutine and
// returns how many subscribers were called. No lock is held while
// subscribers run, so they may subscribe, unsubscribe or emit again.
func (f *Feed[T]) Emit(v T) int {
	f.mu.Lock()
	if f.closed || len(f.subs) == 0 {
		f.mu.Unlock()
		return 0
	}
	subs := make([]subscription[T], len(f.subs))
	copy(subs, f.subs)
	onPanic := f.panicked
	f.mu.Unlock()

	for _, s := range subs {
		deliver(s.fn, v, onPanic)
	}
	return len(subs)
}

func deliver[T any](fn func(T), v T, onPanic PanicHandler) {
	defer func() {
		if r := recover(); r != nil && onPanic != nil {
			onPanic(r)
		}
	}()
	fn(v)
}

// Len returns the number of current subscribers
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close drops all subscribers. Later Subscribe and Emit calls are no-ops.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.subs = nil
}
