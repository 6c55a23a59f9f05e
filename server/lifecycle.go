package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/teranos/statesync/errors"
	"github.com/teranos/statesync/logger"
	"github.com/teranos/statesync/pulse"
	"github.com/teranos/statesync/statefile"
)

// ServerState is the lifecycle phase of a Server
type ServerState int32

const (
	ServerStateRunning ServerState = iota
	ServerStateDraining
	ServerStateStopped
)

// shutdownTimeout bounds how long in-flight HTTP requests get on shutdown
const shutdownTimeout = 5 * time.Second

// getState returns the current server state
func (s *Server) getState() ServerState {
	return ServerState(s.state.Load())
}

// setState atomically updates the server state
func (s *Server) setState(newState ServerState) {
	s.state.Store(int32(newState))
	s.logger.Debugw("Server state changed", "new_state", stateString(newState))
}

// stateString returns human-readable state name
func stateString(state ServerState) string {
	switch state {
	case ServerStateRunning:
		return "running"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Start launches the background services: the state file watcher and the
// ticker that keeps configured peers connected. It is safe to call once.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closing {
		return nil
	}
	s.started = true

	if s.cfg.Server.WatchStateFile {
		w, err := statefile.NewWatcher(s.cfg.Server.StateFile, s.store,
			statefile.WithLogger(logger.ChildLogger(s.logger, logger.FieldComponent, "statefile")))
		if err != nil {
			return errors.Wrap(err, "failed to watch state file")
		}
		s.watcher = w
		s.logger.Infow("Watching state file", logger.FieldFile, s.cfg.Server.StateFile)
	}

	if len(s.cfg.Sync.Peers) > 0 {
		s.ticker = pulse.NewTicker(s.ctx, pulse.TickerConfig{
			Name:     "peer-dialer",
			Interval: s.syncCfg.WriteResyncThreshold,
			Clock:    s.clock,
		}, s.syncPeers, s.logger)
		s.ticker.Start()

		// Don't make configured peers wait a full interval for the first dial
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_ = s.syncPeers(s.ctx, s.clock.Now())
		}()
	}
	return nil
}

// ListenAndServe serves on server.address until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Address)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.cfg.Server.Address)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.Start(); err != nil {
		_ = ln.Close()
		return err
	}

	s.httpServer = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	served := make(chan error, 1)
	go func() { served <- s.httpServer.Serve(ln) }()

	s.logger.Infow("statesync server listening",
		logger.FieldAddress, ln.Addr().String(),
		"name", s.Name(),
		logger.FieldFingerprint, s.store.Hash(),
	)

	select {
	case err := <-served:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server failed")
	case <-ctx.Done():
	}

	// WebSocket sessions are hijacked connections that http.Server.Shutdown
	// does not track, so end them first.
	s.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http server shutdown failed")
	}
	return nil
}

// Close ends every peer session and stops the background services.
// The shared store is left intact.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	ticker, watcher := s.ticker, s.watcher
	s.mu.Unlock()

	s.setState(ServerStateDraining)
	s.cancel()

	if ticker != nil {
		ticker.Stop()
	}
	if watcher != nil {
		if err := watcher.Close(); err != nil {
			s.logger.Warnw("Failed to close state file watcher", logger.FieldError, err)
		}
	}

	s.wg.Wait()
	s.setState(ServerStateStopped)
	s.logger.Infow("statesync server stopped")
}
