package sync

import (
	"context"
	gosync "sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/statesync/errors"
	"github.com/teranos/statesync/logger"
	"github.com/teranos/statesync/metrics"
	"github.com/teranos/statesync/state"
)

// ReasonHello marks a full sync sent because a peer's hello showed it does
// not hold our writable state.
const ReasonHello = "hello"

// Default inbound rate limit
const (
	DefaultMaxInboundPerSecond = 50.0
	DefaultInboundBurst        = 100
)

// Conn abstracts the WebSocket connection for testability.
// The real implementation wraps gorilla/websocket; tests use a channel pair.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

// Peer binds one Channel to one connection: channel events go out as wire
// messages, and inbound messages are fed back into the channel.
// Both sides of the connection run the same code.
type Peer struct {
	conn    Conn
	channel *Channel
	name    string
	logger  *zap.SugaredLogger
	limiter *rate.Limiter

	sendMu gosync.Mutex

	mu         gosync.Mutex
	remoteName string

	sent     atomic.Int64
	received atomic.Int64
}

// PeerOption configures a Peer
type PeerOption func(*Peer)

// WithName sets the name announced in the hello
func WithName(name string) PeerOption {
	return func(p *Peer) { p.name = name }
}

// WithRateLimit bounds inbound message handling. Messages beyond the limit
// are dropped; the fingerprint exchange recovers whatever they carried.
func WithRateLimit(perSecond float64, burst int) PeerOption {
	return func(p *Peer) {
		if perSecond <= 0 {
			p.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewPeer creates a peer for a single session.
func NewPeer(conn Conn, channel *Channel, log *zap.SugaredLogger, opts ...PeerOption) *Peer {
	if log == nil {
		log = logger.ComponentLogger("sync.peer")
	}
	p := &Peer{
		conn:    conn,
		channel: channel,
		logger:  logger.ChildLogger(log, logger.FieldChannelID, channel.ID()),
		limiter: rate.NewLimiter(rate.Limit(DefaultMaxInboundPerSecond), DefaultInboundBurst),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run sends the hello, forwards channel events and dispatches inbound
// messages until ctx is cancelled, the connection fails or the channel is
// destroyed. The connection is closed on return. A cancelled context or a
// destroyed channel is a clean shutdown and returns nil.
func (p *Peer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	failed := make(chan error, 1)
	fail := func(err error) {
		select {
		case failed <- err:
		default:
		}
	}

	unsubscribe := p.forward(fail)
	defer unsubscribe()
	destroyed := make(chan struct{})
	var once gosync.Once
	defer p.channel.OnDestroyed(func() { once.Do(func() { close(destroyed) }) })()
	if p.channel.Destroyed() {
		_ = p.conn.Close()
		return nil
	}

	if err := p.send(Msg{
		Type: MsgHello,
		Name: p.name,
		Hash: p.channel.ReadOnly().Hash(),
	}); err != nil {
		_ = p.conn.Close()
		return errors.Wrap(err, "failed to send sync hello")
	}

	var wg gosync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			var msg Msg
			if err := p.recv(&msg); err != nil {
				fail(errors.Wrap(err, "failed to receive sync message"))
				return
			}
			if ctx.Err() != nil {
				return
			}
			p.handle(msg)
		}
	}()

	var err error
	select {
	case <-ctx.Done():
	case <-destroyed:
	case err = <-failed:
	}

	cancel()
	_ = p.conn.Close()
	wg.Wait()

	p.logger.Infow("sync session ended",
		logger.FieldPeer, p.RemoteName(),
		logger.FieldSent, p.sent.Load(),
		logger.FieldReceived, p.received.Load(),
	)
	return err
}

// forward subscribes to the channel's outbound events
func (p *Peer) forward(fail func(error)) (unsubscribe func()) {
	unsubs := []func(){
		p.channel.OnPartialSync(func(ev PartialSync) {
			msg := Msg{Type: MsgPartial, Merge: ev.Merge}
			if ev.Merge {
				msg.State, msg.Removed = encodeDiff(ev.Diff)
			} else {
				msg.State = ev.Diff
			}
			if err := p.send(msg); err != nil {
				fail(errors.Wrap(err, "failed to send partial sync"))
			}
		}),
		p.channel.OnFullSync(func(ev FullSync) {
			if err := p.send(Msg{Type: MsgFull, State: ev.State, Reason: ev.Reason}); err != nil {
				fail(errors.Wrap(err, "failed to send full sync"))
			}
		}),
		p.channel.OnFingerprint(func(ev FingerprintAnnouncement) {
			if err := p.send(Msg{Type: MsgFingerprint, Hash: ev.Hash}); err != nil {
				fail(errors.Wrap(err, "failed to send fingerprint"))
			}
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// handle dispatches one inbound message. Invalid messages are logged and
// dropped; they never end the session.
func (p *Peer) handle(msg Msg) {
	if !p.limiter.Allow() {
		metrics.PeerDropped("rate_limited")
		p.logger.Warnw("dropping sync message over rate limit", "type", msg.Type)
		return
	}
	metrics.PeerMessage("in", string(msg.Type))
	p.received.Add(1)

	switch msg.Type {
	case MsgHello:
		p.mu.Lock()
		p.remoteName = msg.Name
		p.mu.Unlock()
		p.logger.Infow("sync peer connected", logger.FieldPeer, msg.Name, logger.FieldFingerprint, msg.Hash)

		if !p.channel.VerifyReadOnlySyncUpdateHash(msg.Hash) {
			p.channel.ForceFullSync(ReasonHello)
		}

	case MsgPartial:
		var update state.Map
		if msg.Merge {
			update = decodeUpdate(msg.State, msg.Removed)
		} else {
			update = nonNil(msg.State)
		}
		p.apply(update, msg.Merge, msg.Type)

	case MsgFull:
		p.logger.Debugw("received full sync", logger.FieldReason, msg.Reason)
		p.apply(nonNil(msg.State), false, msg.Type)

	case MsgFingerprint:
		p.channel.VerifyReadOnlySyncUpdateHash(msg.Hash)

	default:
		metrics.PeerDropped("unknown_type")
		p.logger.Warnw("dropping unknown sync message", "type", msg.Type)
	}
}

func (p *Peer) apply(update state.Map, merge bool, msgType MsgType) {
	if err := p.channel.ReceiveRemoteState(update, merge); err != nil {
		reason := "invalid_state"
		if errors.IsDestroyedError(err) {
			reason = "destroyed"
		}
		metrics.PeerDropped(reason)
		p.logger.Warnw("dropping remote state",
			"type", msgType,
			logger.FieldPeer, p.RemoteName(),
			logger.FieldError, err,
		)
	}
}

func nonNil(m state.Map) state.Map {
	if m == nil {
		return state.Map{}
	}
	return m
}

func (p *Peer) send(msg Msg) error {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	if err := p.conn.WriteJSON(msg); err != nil {
		return err
	}
	metrics.PeerMessage("out", string(msg.Type))
	p.sent.Add(1)
	return nil
}

func (p *Peer) recv(msg *Msg) error {
	return p.conn.ReadJSON(msg)
}

// RemoteName returns the name the remote sent in its hello
func (p *Peer) RemoteName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteName
}

// Stats returns how many messages were sent and received
func (p *Peer) Stats() (sent, received int64) {
	return p.sent.Load(), p.received.Load()
}
