package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/teranos/statesync/errors"
)

// syncPath is where peers upgrade to the sync protocol
const syncPath = "/ws/sync"

// upgrader creates a WebSocket upgrader with origin checking from config
func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin validates the Origin header against server.allowed_origins.
// Prefix matching allows any port number.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	// Allow requests with no origin header (peers, CLI clients, testing)
	if origin == "" {
		return true
	}

	for _, allowedOrigin := range s.cfg.Server.AllowedOrigins {
		if allowedOrigin == "*" || strings.HasPrefix(origin, allowedOrigin) {
			return true
		}
	}
	return false
}

// httpToWS converts http(s) URLs to ws(s) URLs.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

// SyncURL turns a peer address ("http://phone.local:8797", "ws://host/ws/sync")
// into the WebSocket URL of its sync endpoint.
func SyncURL(peer string) (string, error) {
	u, err := url.Parse(httpToWS(peer))
	if err != nil {
		return "", errors.Wrapf(err, "invalid peer url %q", peer)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", errors.Newf("peer url %q must use http, https, ws or wss", peer)
	}
	if u.Host == "" {
		return "", errors.Newf("peer url %q has no host", peer)
	}
	if !strings.HasSuffix(u.Path, syncPath) {
		u.Path = strings.TrimSuffix(u.Path, "/") + syncPath
	}
	return u.String(), nil
}
