package state

import (
	gosync "sync"

	"github.com/teranos/statesync/errors"
	"github.com/teranos/statesync/internal/feed"
)

// Change is delivered to OnChange subscribers after a mutation.
type Change struct {
	// Diff holds the changed paths for a merge, or the full new state when
	// Replaced is true. The store keeps no reference to it, but all
	// subscribers of one change share it, so treat it as read-only.
	Diff     Map
	Replaced bool
}

// Store holds one peer's view of the state tree. It is safe for concurrent
// use; change notifications run on the mutating goroutine after the store's
// lock has been released, so concurrent writers may observe notifications
// out of order. The protocol assumes a single writer per store.
type Store struct {
	mu        gosync.RWMutex
	state     Map
	hash      string
	hashValid bool
	destroyed bool

	changes feed.Feed[Change]
}

// NewStore creates a store seeded with initial, which is validated against
// the same shape rules as every later mutation. A nil initial state starts empty.
func NewStore(initial Map) (*Store, error) {
	s := &Store{state: Map{}}
	if initial == nil {
		return s, nil
	}

	normalized, err := normalizeRoot(initial)
	if err != nil {
		return nil, errors.Wrap(err, "invalid initial state")
	}
	s.state = stripAbsent(normalized)
	return s, nil
}

// State returns a deep copy of the current tree.
func (s *Store) State() Map {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Clone(s.state)
}

// Snapshot returns a deep copy of the current tree together with its
// fingerprint, taken atomically.
func (s *Store) Snapshot() (Map, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hashValid {
		s.hash = fingerprint(s.state)
		s.hashValid = true
	}
	return Clone(s.state), s.hash
}

// Get returns the value at the given key path. Mappings are returned as copies.
func (s *Store) Get(path ...string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var node any = s.state
	for _, key := range path {
		m, ok := node.(Map)
		if !ok {
			return nil, false
		}
		node, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	if m, ok := node.(Map); ok {
		return Clone(m), true
	}
	return node, true
}

// Merge is SetState(update, true).
func (s *Store) Merge(update Map) error {
	return s.SetState(update, true)
}

// Replace is SetState(next, false).
func (s *Store) Replace(next Map) error {
	return s.SetState(next, false)
}

// SetState validates update and either merges it into the current tree
// (isMerge) or replaces the tree with it. Subscribers are notified with the
// minimal diff for a merge, or the full new state for a replace, and only
// when something actually changed. A ShapeError leaves the store unchanged.
func (s *Store) SetState(update Map, isMerge bool) error {
	normalized, err := normalizeRoot(update)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return errors.Wrap(errors.ErrDestroyed, "state store")
	}

	var change Change
	if isMerge {
		diff := diffMerge(s.state, normalized)
		if len(diff) == 0 {
			s.mu.Unlock()
			return nil
		}
		applyMerge(s.state, diff)
		change = Change{Diff: diff}
	} else {
		next := stripAbsent(normalized)
		if Equal(s.state, next) {
			s.mu.Unlock()
			return nil
		}
		s.state = next
		change = Change{Diff: Clone(next), Replaced: true}
	}
	s.hashValid = false
	s.mu.Unlock()

	s.changes.Emit(change)
	return nil
}

// Hash returns the fingerprint of the full current tree.
func (s *Store) Hash() string {
	s.mu.RLock()
	if s.hashValid {
		h := s.hash
		s.mu.RUnlock()
		return h
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hashValid {
		s.hash = fingerprint(s.state)
		s.hashValid = true
	}
	return s.hash
}

// OnChange subscribes fn to change notifications. The returned function
// unsubscribes.
func (s *Store) OnChange(fn func(Change)) (unsubscribe func()) {
	return s.changes.Subscribe(fn)
}

// SetPanicHandler routes subscriber panics to h instead of dropping them.
func (s *Store) SetPanicHandler(h func(recovered any)) {
	s.changes.SetPanicHandler(h)
}

// Destroy detaches all subscribers. Later mutations fail with ErrDestroyed;
// reads keep working on the last state.
func (s *Store) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.mu.Unlock()

	s.changes.Close()
}

// Destroyed reports whether Destroy has been called
func (s *Store) Destroyed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.destroyed
}
