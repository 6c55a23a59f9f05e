package sync

import (
	gosync "sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/teranos/statesync/errors"
	"github.com/teranos/statesync/internal/feed"
	"github.com/teranos/statesync/logger"
	"github.com/teranos/statesync/metrics"
	"github.com/teranos/statesync/pulse"
	"github.com/teranos/statesync/state"
)

// Phase is the outbound verification state of a Channel.
type Phase int

const (
	// PhaseIdle means the last outbound sync was verified, or none happened yet.
	PhaseIdle Phase = iota
	// PhaseAwaitingVerification means a sync was emitted and the deadline is armed.
	PhaseAwaitingVerification
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingVerification:
		return "awaiting_verification"
	default:
		return "unknown"
	}
}

// Option configures a Channel
type Option func(*options)

type options struct {
	writable *state.Store
	readOnly *state.Store
	cfg      Config
	clock    clockwork.Clock
	logger   *zap.SugaredLogger
	id       string
}

// WithWritable supplies the local authoritative store. A supplied store
// outlives the channel; it is never destroyed by it.
func WithWritable(s *state.Store) Option {
	return func(o *options) { o.writable = s }
}

// WithReadOnly supplies the store mirroring the remote peer.
func WithReadOnly(s *state.Store) Option {
	return func(o *options) { o.readOnly = s }
}

// WithConfig overrides DefaultConfig
func WithConfig(cfg Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithClock sets the clock driving all timers
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithLogger sets the base logger
func WithLogger(log *zap.SugaredLogger) Option {
	return func(o *options) { o.logger = log }
}

// WithID sets the channel ID used in logs. Defaults to a random UUID.
func WithID(id string) Option {
	return func(o *options) { o.id = id }
}

// mismatch is the pending re-check of a fingerprint that did not match.
type mismatch struct {
	hash       string
	generation uint64
}

// emittedHistory is how many writable fingerprints a channel remembers. A
// remote fingerprint found among them describes a mirror that is behind but
// consistent; anything else is divergence.
const emittedHistory = 64

// Channel keeps a writable store converged with a remote peer's read-only
// mirror, and mirrors the remote's writable store into its own read-only
// store.
//
// Outbound, every writable mutation is emitted as a partial sync and arms a
// verification deadline. The remote answers with fingerprint announcements
// which the transport feeds to VerifyReadOnlySyncUpdateHash. A mismatch or
// an elapsed deadline triggers a debounced full sync.
//
// Inbound, ReceiveRemoteState applies remote state to the read-only store
// and announces the resulting fingerprint right away, again after
// WriteResyncThreshold, and then every HeartbeatInterval.
//
// A Channel is safe for concurrent use. Events are emitted without holding
// the channel lock.
type Channel struct {
	id     string
	cfg    Config
	clock  clockwork.Clock
	logger *zap.SugaredLogger

	writable     *state.Store
	readOnly     *state.Store
	ownsWritable bool
	ownsReadOnly bool
	unsubscribe  func()

	deadline *pulse.Deadline
	announce *pulse.Deadline
	fullSync *pulse.Debouncer[string]
	recheck  *pulse.Debouncer[mismatch]

	mu         gosync.Mutex
	phase      Phase
	generation uint64
	destroyed  bool
	emitted    []string

	partials      feed.Feed[PartialSync]
	fulls         feed.Feed[FullSync]
	fingerprints  feed.Feed[FingerprintAnnouncement]
	destroyedFeed feed.Feed[struct{}]
	diagnostics   feed.Feed[Diagnostic]
}

// NewChannel creates a channel. Stores not supplied through options are
// created empty and owned by the channel. Supplying the same store as both
// writable and read-only fails with ErrInvalidConfiguration.
func NewChannel(opts ...Option) (*Channel, error) {
	o := options{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}

	if o.writable != nil && o.writable == o.readOnly {
		return nil, errors.Wrap(errors.ErrInvalidConfiguration, "writable and read-only stores must be distinct instances")
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.logger == nil {
		o.logger = logger.ComponentLogger("sync.channel")
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}

	c := &Channel{
		id:       o.id,
		cfg:      o.cfg,
		clock:    o.clock,
		logger:   logger.ChildLogger(o.logger, logger.FieldChannelID, o.id),
		writable: o.writable,
		readOnly: o.readOnly,
	}

	if c.writable == nil {
		c.writable, _ = state.NewStore(nil)
		c.ownsWritable = true
	}
	if c.readOnly == nil {
		c.readOnly, _ = state.NewStore(nil)
		c.ownsReadOnly = true
	}

	onPanic := func(recovered any) {
		c.logger.Errorw("sync event subscriber panicked", "panic", recovered)
	}
	c.partials.SetPanicHandler(onPanic)
	c.fulls.SetPanicHandler(onPanic)
	c.fingerprints.SetPanicHandler(onPanic)
	c.destroyedFeed.SetPanicHandler(onPanic)
	c.diagnostics.SetPanicHandler(onPanic)

	c.deadline = pulse.NewDeadline(c.clock, c.onDeadline)
	c.announce = pulse.NewDeadline(c.clock, c.onAnnounceTimer)
	c.fullSync = pulse.NewDebouncer(c.clock, c.cfg.FullStateDebounceTimeout, c.emitFullSync)
	c.recheck = pulse.NewDebouncer(c.clock, c.cfg.verifyDebounce(), c.onMismatchRecheck)

	c.remember(c.writable.Hash())
	c.unsubscribe = c.writable.OnChange(c.onWritableChange)
	c.announce.Reset(c.cfg.heartbeat())
	metrics.ChannelOpened()

	c.logger.Debugw("sync channel created",
		logger.FieldThreshold, c.cfg.WriteResyncThreshold,
		"debounce", c.cfg.FullStateDebounceTimeout,
		"heartbeat", c.cfg.heartbeat(),
	)
	return c, nil
}

// ID returns the channel ID
func (c *Channel) ID() string { return c.id }

// Writable returns the local authoritative store
func (c *Channel) Writable() *state.Store { return c.writable }

// ReadOnly returns the mirror of the remote peer's state
func (c *Channel) ReadOnly() *state.Store { return c.readOnly }

// Config returns the timings the channel runs with
func (c *Channel) Config() Config { return c.cfg }

// Phase returns the current outbound verification phase
func (c *Channel) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Destroyed reports whether Destroy has been called
func (c *Channel) Destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// onWritableChange turns a local mutation into a partial sync.
func (c *Channel) onWritableChange(change state.Change) {
	hash := c.writable.Hash()

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.generation++
	c.remember(hash)
	c.phase = PhaseAwaitingVerification
	c.deadline.Reset(c.cfg.WriteResyncThreshold)
	c.mu.Unlock()

	merge := !change.Replaced
	metrics.PartialSync(merge)
	c.logger.Debugw("emitting partial sync",
		logger.FieldMerge, merge,
		logger.FieldKeys, state.Paths(change.Diff),
	)
	c.partials.Emit(PartialSync{Diff: change.Diff, Merge: merge})
}

// VerifyReadOnlySyncUpdateHash compares a fingerprint announced by the
// remote against the writable store and reports whether they match. A match
// ends the verification cycle. A mismatch resets the verification deadline
// and schedules a re-check after half the resync threshold. The re-check
// forces a full sync unless newer partial syncs were emitted since and the
// remote fingerprint equals one this channel's writable store actually had,
// meaning the mirror is only lagging.
func (c *Channel) VerifyReadOnlySyncUpdateHash(hash string) bool {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return false
	}

	expected := c.writable.Hash()
	if hash == expected {
		c.phase = PhaseIdle
		c.deadline.Cancel()
		c.recheck.Cancel()
		c.mu.Unlock()

		metrics.Verification(true)
		c.logger.Debugw("remote fingerprint verified", logger.FieldFingerprint, hash)
		c.diagnostics.Emit(Diagnostic{Kind: DiagVerified, Detail: hash})
		return true
	}

	c.deadline.Reset(c.cfg.WriteResyncThreshold)
	c.recheck.Call(mismatch{hash: hash, generation: c.generation})
	c.mu.Unlock()

	metrics.Verification(false)
	c.logger.Debugw("remote fingerprint mismatch",
		logger.FieldFingerprint, hash,
		logger.FieldExpected, expected,
	)
	c.diagnostics.Emit(Diagnostic{Kind: DiagMismatch, Detail: hash})
	return false
}

func (c *Channel) onMismatchRecheck(m mismatch) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	lagging := m.generation != c.generation && c.hasEmitted(m.hash)
	c.mu.Unlock()

	if lagging {
		// Newer partial syncs are in flight on top of a consistent mirror
		c.logger.Debugw("skipping stale fingerprint mismatch", logger.FieldFingerprint, m.hash)
		c.diagnostics.Emit(Diagnostic{Kind: DiagStaleMismatchSkipped, Detail: m.hash})
		return
	}

	c.logger.Infow("remote state diverged, forcing full sync", logger.FieldFingerprint, m.hash)
	c.ForceFullSync(ReasonMismatch)
}

// remember records a writable fingerprint. Callers hold c.mu, except
// NewChannel before the channel is shared.
func (c *Channel) remember(hash string) {
	if n := len(c.emitted); n > 0 && c.emitted[n-1] == hash {
		return
	}
	if len(c.emitted) == emittedHistory {
		copy(c.emitted, c.emitted[1:])
		c.emitted = c.emitted[:emittedHistory-1]
	}
	c.emitted = append(c.emitted, hash)
}

func (c *Channel) hasEmitted(hash string) bool {
	for _, h := range c.emitted {
		if h == hash {
			return true
		}
	}
	return false
}

func (c *Channel) onDeadline() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.deadline.Reset(c.cfg.WriteResyncThreshold)
	c.mu.Unlock()

	err := errors.Wrapf(errors.ErrDivergenceTimeout, "no matching fingerprint within %s", c.cfg.WriteResyncThreshold)
	metrics.DivergenceTimeout()
	c.logger.Warnw("verification deadline elapsed, forcing full sync",
		logger.FieldError, err,
		logger.FieldThreshold, c.cfg.WriteResyncThreshold,
	)
	c.diagnostics.Emit(Diagnostic{Kind: DiagDivergenceTimeout, Detail: err.Error(), Err: err})
	c.ForceFullSync(ReasonTimeout)
}

// ForceFullSync schedules a full sync of the writable state. Calls within
// one FullStateDebounceTimeout window collapse into a single emission at the
// end of the window, carrying the latest reason. It is a no-op after Destroy.
func (c *Channel) ForceFullSync(reason string) {
	if reason == "" {
		reason = ReasonRequested
	}
	c.fullSync.Call(reason)
}

func (c *Channel) emitFullSync(reason string) {
	snapshot, snapshotHash := c.writable.Snapshot()

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	// Armed before emitting so a failing transport cannot leave it disarmed
	c.phase = PhaseAwaitingVerification
	c.remember(snapshotHash)
	c.deadline.Reset(c.cfg.WriteResyncThreshold)
	c.mu.Unlock()

	metrics.FullSync(reason)
	c.logger.Infow("emitting full sync", logger.FieldReason, reason)
	c.diagnostics.Emit(Diagnostic{Kind: DiagFullSync, Detail: reason})
	c.fulls.Emit(FullSync{State: snapshot, Reason: reason})
}

// ReceiveRemoteState applies state sent by the remote peer to the read-only
// store, with merge or replace semantics, and announces the resulting
// fingerprint. Invalid state is returned as an error, wrapping the store's
// ShapeError, and leaves the read-only store unchanged.
func (c *Channel) ReceiveRemoteState(remote state.Map, isMerge bool) error {
	if c.Destroyed() {
		return errors.Wrap(errors.ErrDestroyed, "sync channel")
	}
	if err := c.readOnly.SetState(remote, isMerge); err != nil {
		return errors.Wrap(err, "failed to apply remote state")
	}

	c.announceFingerprint()
	// Second announcement in case the first one is already stale when the
	// remote observes it
	c.announce.Reset(c.cfg.WriteResyncThreshold)
	return nil
}

func (c *Channel) onAnnounceTimer() {
	if c.Destroyed() {
		return
	}
	c.announceFingerprint()
	c.announce.Reset(c.cfg.heartbeat())
}

func (c *Channel) announceFingerprint() {
	hash := c.readOnly.Hash()
	metrics.Announcement()
	c.fingerprints.Emit(FingerprintAnnouncement{Hash: hash})
}

// Status is a point-in-time view of a channel for diagnostics
type Status struct {
	ID           string `json:"id"`
	Phase        string `json:"phase"`
	WritableHash string `json:"writable_hash"`
	ReadOnlyHash string `json:"read_only_hash"`
	Generation   uint64 `json:"generation"`
	Destroyed    bool   `json:"destroyed"`
}

// Status returns the channel's current Status
func (c *Channel) Status() Status {
	c.mu.Lock()
	phase, gen, destroyed := c.phase, c.generation, c.destroyed
	c.mu.Unlock()

	w, r := c.writable.Hash(), c.readOnly.Hash()
	return Status{
		ID:           c.id,
		Phase:        phase.String(),
		WritableHash: w,
		ReadOnlyHash: r,
		Generation:   gen,
		Destroyed:    destroyed,
	}
}

// Destroy stops every timer and debounced operation, detaches from the
// writable store, destroys the stores the channel created itself and emits
// the destroyed event. It is idempotent.
func (c *Channel) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	c.phase = PhaseIdle
	c.mu.Unlock()

	c.deadline.Stop()
	c.announce.Stop()
	c.fullSync.Stop()
	c.recheck.Stop()
	c.unsubscribe()

	if c.ownsWritable {
		c.writable.Destroy()
	}
	if c.ownsReadOnly {
		c.readOnly.Destroy()
	}
	metrics.ChannelClosed()
	c.logger.Debugw("sync channel destroyed")

	c.destroyedFeed.Emit(struct{}{})

	c.partials.Close()
	c.fulls.Close()
	c.fingerprints.Close()
	c.destroyedFeed.Close()
	c.diagnostics.Close()
}
