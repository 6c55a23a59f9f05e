// Package server hosts one writable state store over HTTP. Every peer
// connected on /ws/sync gets its own sync channel: the shared store is the
// channel's writable side, and a private mirror holds what that peer sent.
package server

import (
	"context"
	"net/http"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/teranos/statesync/am"
	"github.com/teranos/statesync/errors"
	"github.com/teranos/statesync/logger"
	"github.com/teranos/statesync/pulse"
	"github.com/teranos/statesync/state"
	"github.com/teranos/statesync/statefile"
	syncPkg "github.com/teranos/statesync/sync"
)

// Server shares one writable store with every connected peer
type Server struct {
	cfg     *am.Config
	syncCfg syncPkg.Config
	store   *state.Store
	clock   clockwork.Clock
	logger  *zap.SugaredLogger
	mux     *http.ServeMux

	// HTTP server with timeouts
	httpServer *http.Server

	// Background services, created by Start
	watcher *statefile.Watcher
	ticker  *pulse.Ticker

	// Lifecycle management
	ctx    context.Context    // Cancelled when the server closes; ends every session
	cancel context.CancelFunc
	wg     gosync.WaitGroup // Tracks sessions for clean shutdown
	state  atomic.Int32     // ServerState

	mu       gosync.Mutex
	closing  bool
	sessions map[string]*session
	started  bool

	peerStatus gosync.Map // map[string]string: configured peer name -> connected/unreachable/disconnected

	dialMu     gosync.Mutex // serializes peer dialing; guards failCounts and lastWarned
	failCounts map[string]int
	lastWarned map[string]time.Time
}

// Option configures a Server
type Option func(*Server)

// WithStore shares an existing writable store instead of creating one
func WithStore(store *state.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithClock sets the clock used by session channels and the peer ticker
func WithClock(clock clockwork.Clock) Option {
	return func(s *Server) { s.clock = clock }
}

// WithLogger sets the server's logger
func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Server) { s.logger = log }
}

// New creates a server from configuration. When server.state_file is set
// and no store is supplied, the store is seeded from that file.
func New(cfg *am.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = am.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid server configuration")
	}

	s := &Server{
		cfg: cfg,
		syncCfg: syncPkg.Config{
			WriteResyncThreshold:     cfg.Sync.WriteResyncThreshold(),
			FullStateDebounceTimeout: cfg.Sync.FullStateDebounce(),
			HeartbeatInterval:        cfg.Sync.HeartbeatInterval(),
		},
		sessions:   make(map[string]*session),
		failCounts: make(map[string]int),
		lastWarned: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.logger == nil {
		s.logger = logger.ComponentLogger("server")
	}

	if s.store == nil {
		initial := state.Map{}
		if cfg.Server.StateFile != "" {
			loaded, err := statefile.Load(cfg.Server.StateFile)
			if err != nil {
				return nil, errors.Wrap(err, "failed to seed state")
			}
			initial = loaded
		}
		store, err := state.NewStore(initial)
		if err != nil {
			return nil, err
		}
		s.store = store
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mux = http.NewServeMux()
	s.setupHTTPRoutes()
	s.setState(ServerStateRunning)
	return s, nil
}

// Store returns the shared writable store
func (s *Server) Store() *state.Store { return s.store }

// Handler returns the HTTP handler serving every route
func (s *Server) Handler() http.Handler { return s.mux }

// Name is the name announced to peers
func (s *Server) Name() string { return s.cfg.Sync.Name }
