package server

import (
	"net/http"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/statesync/logger"
	"github.com/teranos/statesync/metrics"
	"github.com/teranos/statesync/version"
)

// setupHTTPRoutes configures all HTTP handlers
func (s *Server) setupHTTPRoutes() {
	s.mux.HandleFunc(syncPath, s.HandleSyncWebSocket)                           // Sync peer WebSocket (incoming sessions)
	s.mux.HandleFunc("/api/sync/status", s.corsMiddleware(s.HandleSyncStatus)) // Sessions and fingerprints (GET)
	s.mux.HandleFunc("/api/state", s.corsMiddleware(s.HandleState))            // Shared store (GET, POST merge, POST ?replace=true)
	s.mux.HandleFunc("/health", s.corsMiddleware(s.HandleHealth))
	s.mux.Handle("/metrics", metrics.Handler())
}

// corsMiddleware adds CORS headers to HTTP responses using configured allowed origins.
// Uses the same origin validation as WebSocket connections (server.allowed_origins config)
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// HandleHealth reports liveness and build info
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	status := http.StatusOK
	if s.getState() != ServerStateRunning {
		status = http.StatusServiceUnavailable
	}
	body := map[string]interface{}{
		"status":   stateString(s.getState()),
		"version":  version.Get(),
		"sessions": len(s.Status().Sessions),
		"log":      logger.Level().String(),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		body["memory"] = map[string]uint64{
			"total_bytes":     vm.Total,
			"available_bytes": vm.Available,
		}
	}
	_ = writeJSON(w, status, body)
}
