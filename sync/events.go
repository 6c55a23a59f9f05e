package sync

import (
	"github.com/teranos/statesync/state"
)

// PartialSync carries the diff of one local mutation. Merge is false when
// the writable store was replaced, in which case Diff is the full state and
// the remote must apply it with replace semantics.
type PartialSync struct {
	Diff  state.Map
	Merge bool
}

// FullSync carries the entire writable state for recovery.
type FullSync struct {
	State  state.Map
	Reason string
}

// FingerprintAnnouncement carries the read-only store's fingerprint so the
// remote writer can verify convergence.
type FingerprintAnnouncement struct {
	Hash string
}

// Diagnostic reports internal protocol activity. Divergence is self-healing,
// so it surfaces here instead of as an error.
type Diagnostic struct {
	Kind   string
	Detail string
	Err    error
}

// Diagnostic kinds
const (
	DiagVerified             = "verified"
	DiagMismatch             = "mismatch"
	DiagDivergenceTimeout    = "divergence-timeout"
	DiagFullSync             = "full-sync"
	DiagStaleMismatchSkipped = "stale-mismatch-skipped"
)

// Full-sync reasons
const (
	ReasonRequested = "requested"
	ReasonMismatch  = "mismatch"
	ReasonTimeout   = "timeout"
)

// OnPartialSync subscribes to partial-sync events. All On* methods return a
// function that removes the subscription. Handlers run synchronously on the
// goroutine that caused the event and must not block.
func (c *Channel) OnPartialSync(fn func(PartialSync)) (unsubscribe func()) {
	return c.partials.Subscribe(fn)
}

// OnFullSync subscribes to full-sync events
func (c *Channel) OnFullSync(fn func(FullSync)) (unsubscribe func()) {
	return c.fulls.Subscribe(fn)
}

// OnFingerprint subscribes to fingerprint announcements
func (c *Channel) OnFingerprint(fn func(FingerprintAnnouncement)) (unsubscribe func()) {
	return c.fingerprints.Subscribe(fn)
}

// OnDestroyed subscribes to the single destroyed event
func (c *Channel) OnDestroyed(fn func()) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	return c.destroyedFeed.Subscribe(func(struct{}) { fn() })
}

// OnDiagnostic subscribes to diagnostic events
func (c *Channel) OnDiagnostic(fn func(Diagnostic)) (unsubscribe func()) {
	return c.diagnostics.Subscribe(fn)
}
