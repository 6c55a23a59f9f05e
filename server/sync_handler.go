package server

import (
	"context"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/teranos/statesync/errors"
	"github.com/teranos/statesync/logger"
	"github.com/teranos/statesync/state"
	"github.com/teranos/statesync/statefile"
	syncPkg "github.com/teranos/statesync/sync"
	"github.com/teranos/statesync/version"
)

// Session directions
const (
	DirectionInbound  = "inbound"  // the remote dialed /ws/sync
	DirectionOutbound = "outbound" // we dialed a configured peer
)

// Configured peer reachability
const (
	peerConnected    = "connected"
	peerUnreachable  = "unreachable"
	peerDisconnected = "disconnected"
)

const syncWarnInitialAttempts = 5 // warn individually for first N failures per peer

// session is one live peer connection
type session struct {
	direction  string
	peerName   string // configured name for outbound sessions
	remoteAddr string
	since      time.Time
	channel    *syncPkg.Channel
	peer       *syncPkg.Peer
}

// SessionInfo describes a live session in status responses
type SessionInfo struct {
	Direction  string         `json:"direction"`
	Peer       string         `json:"peer"` // name announced in the remote's hello
	Configured string         `json:"configured,omitempty"`
	RemoteAddr string         `json:"remote_addr"`
	Since      time.Time      `json:"since"`
	Sent       int64          `json:"sent"`
	Received   int64          `json:"received"`
	Channel    syncPkg.Status `json:"channel"`
}

// PeerInfo is a configured peer with its reachability
type PeerInfo struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Status string `json:"status"`
}

// StatusInfo is the body of GET /api/sync/status
type StatusInfo struct {
	Name         string        `json:"name"`
	State        string        `json:"state"`
	WritableHash string        `json:"writable_hash"`
	Sessions     []SessionInfo `json:"sessions"`
	Peers        []PeerInfo    `json:"peers"`
}

// beginSession registers a session with the shutdown wait group unless the
// server is closing.
func (s *Server) beginSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	return true
}

// serveSession runs the sync protocol over conn until the session ends.
// Each session gets its own channel: the shared store is the writable side,
// and a private store mirrors the remote.
func (s *Server) serveSession(ctx context.Context, conn syncPkg.Conn, direction, peerName, remoteAddr string) error {
	if !s.beginSession() {
		_ = conn.Close()
		return errors.New("server is closing")
	}
	defer s.wg.Done()

	log := logger.ChildLogger(s.logger, "direction", direction, logger.FieldRemote, remoteAddr)
	channel, err := syncPkg.NewChannel(
		syncPkg.WithWritable(s.store),
		syncPkg.WithConfig(s.syncCfg),
		syncPkg.WithClock(s.clock),
		syncPkg.WithLogger(log),
	)
	if err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "failed to create sync channel")
	}
	defer channel.Destroy()

	peer := syncPkg.NewPeer(conn, channel, log,
		syncPkg.WithName(s.Name()),
		syncPkg.WithRateLimit(s.cfg.Sync.MaxInboundPerSecond, s.cfg.Sync.InboundBurst),
	)

	sess := &session{
		direction:  direction,
		peerName:   peerName,
		remoteAddr: remoteAddr,
		since:      s.clock.Now(),
		channel:    channel,
		peer:       peer,
	}
	s.mu.Lock()
	s.sessions[channel.ID()] = sess
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, channel.ID())
		s.mu.Unlock()
	}()

	log.Infow("Sync session started", logger.FieldChannelID, channel.ID())
	return peer.Run(ctx)
}

// HandleSyncWebSocket handles incoming sync peer connections.
// The remote peer connects via WebSocket and both sides run the same
// convergence protocol for as long as the connection lives.
func (s *Server) HandleSyncWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.getState() != ServerStateRunning {
		writeError(w, http.StatusServiceUnavailable, "Server is shutting down")
		return
	}

	// Peers without the header predate it and speak version 1
	if v := r.Header.Get(protocolHeader); v != "" && v != strconv.Itoa(version.ProtocolVersion) {
		writeError(w, http.StatusBadRequest, "Unsupported sync protocol version "+v)
		return
	}

	if v, ok := version.PeerVersion(r.UserAgent()); ok && !version.Compatible(v) {
		s.logger.Warnw("Sync peer runs a different major version",
			logger.FieldRemote, r.RemoteAddr,
			"peer_version", v,
			"local_version", version.Version,
		)
	}

	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		s.logger.Warnw("Sync WebSocket upgrade failed", logger.FieldRemote, r.RemoteAddr, logger.FieldError, err)
		return
	}

	if err := s.serveSession(s.ctx, newGorillaSyncConn(conn), DirectionInbound, "", r.RemoteAddr); err != nil {
		s.logger.Infow("Sync session closed", logger.FieldRemote, r.RemoteAddr, logger.FieldError, err)
	}
}

// Status reports the server, its sessions and its configured peers
func (s *Server) Status() StatusInfo {
	info := StatusInfo{
		Name:         s.Name(),
		State:        stateString(s.getState()),
		WritableHash: s.store.Hash(),
		Sessions:     []SessionInfo{},
		Peers:        []PeerInfo{},
	}

	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sent, received := sess.peer.Stats()
		info.Sessions = append(info.Sessions, SessionInfo{
			Direction:  sess.direction,
			Peer:       sess.peer.RemoteName(),
			Configured: sess.peerName,
			RemoteAddr: sess.remoteAddr,
			Since:      sess.since,
			Sent:       sent,
			Received:   received,
			Channel:    sess.channel.Status(),
		})
	}
	sort.Slice(info.Sessions, func(i, j int) bool {
		if !info.Sessions[i].Since.Equal(info.Sessions[j].Since) {
			return info.Sessions[i].Since.Before(info.Sessions[j].Since)
		}
		return info.Sessions[i].Channel.ID < info.Sessions[j].Channel.ID
	})

	for _, name := range s.peerNames() {
		status := ""
		if v, ok := s.peerStatus.Load(name); ok {
			status = v.(string)
		}
		info.Peers = append(info.Peers, PeerInfo{Name: name, URL: s.cfg.Sync.Peers[name], Status: status})
	}
	return info
}

// HandleSyncStatus returns the shared store fingerprint and every session.
// GET /api/sync/status
func (s *Server) HandleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	_ = writeJSON(w, http.StatusOK, s.Status())
}

// stateResponse is the body of GET and POST /api/state
type stateResponse struct {
	State state.Map `json:"state"`
	Hash  string    `json:"hash"`
}

// HandleState reads or updates the shared store.
// GET /api/state returns it; POST merges the JSON body into it, or replaces
// it with ?replace=true.
func (s *Server) HandleState(w http.ResponseWriter, r *http.Request) {
	if !requireMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}

	if r.Method == http.MethodPost {
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageSize))
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		update, err := statefile.Decode(data)
		if err != nil {
			_ = writeJSON(w, http.StatusBadRequest, errorResponse{
				Error: "Invalid state: " + err.Error(),
				Hints: errors.GetAllHints(err),
			})
			return
		}

		replace := strings.EqualFold(r.URL.Query().Get("replace"), "true")
		if replace {
			err = s.store.Replace(update)
		} else {
			err = s.store.Merge(update)
		}
		if err != nil {
			writeErr(w, err)
			return
		}
		s.logger.Debugw("State updated over HTTP", logger.FieldMerge, !replace, logger.FieldFingerprint, s.store.Hash())
	}

	_ = writeJSON(w, http.StatusOK, stateResponse{State: s.store.State(), Hash: s.store.Hash()})
}

// peerNames returns the configured peer names in a stable order
func (s *Server) peerNames() []string {
	names := make([]string, 0, len(s.cfg.Sync.Peers))
	for name := range s.cfg.Sync.Peers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// syncPeers dials every configured peer without a live session. It runs on
// the peer ticker; individual failure warnings are suppressed after 5
// consecutive failures per peer, then re-emitted hourly.
func (s *Server) syncPeers(ctx context.Context, now time.Time) error {
	s.dialMu.Lock()
	defer s.dialMu.Unlock()

	var connected, unreachable []string
	for _, name := range s.peerNames() {
		if v, ok := s.peerStatus.Load(name); ok && v.(string) == peerConnected {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		peerURL := s.cfg.Sync.Peers[name]
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		conn, err := Dial(dialCtx, peerURL)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.failCounts[name]++
			s.peerStatus.Store(name, peerUnreachable)
			unreachable = append(unreachable, name)

			if s.failCounts[name] <= syncWarnInitialAttempts || now.Sub(s.lastWarned[name]) > time.Hour {
				s.logger.Warnw("Failed to connect to sync peer",
					logger.FieldPeer, name, "url", peerURL, logger.FieldError, err,
					"consecutive_failures", s.failCounts[name],
				)
				s.lastWarned[name] = now
			}
			continue
		}

		s.failCounts[name] = 0
		s.peerStatus.Store(name, peerConnected)
		connected = append(connected, name)

		go func(name, peerURL string) {
			err := s.serveSession(s.ctx, conn, DirectionOutbound, name, peerURL)
			s.peerStatus.Store(name, peerDisconnected)
			if err != nil {
				s.logger.Infow("Sync peer session ended", logger.FieldPeer, name, logger.FieldError, err)
			}
		}(name, peerURL)
	}

	// One summary line per tick (only when something noteworthy happened)
	if len(connected) > 0 || len(unreachable) > 0 {
		fields := []interface{}{}
		if len(connected) > 0 {
			fields = append(fields, "connected", strings.Join(connected, ", "))
		}
		if len(unreachable) > 0 {
			fields = append(fields, "unreachable", len(unreachable))
		}
		s.logger.Infow("Sync peer tick", fields...)
	}
	return nil
}
