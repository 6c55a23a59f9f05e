package server

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/teranos/statesync/errors"
)

// errorResponse is the body of every non-2xx JSON reply
type errorResponse struct {
	Error string   `json:"error"`
	Hints []string `json:"hints,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return errors.Wrap(err, "failed to encode JSON")
	}
	return nil
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	_ = writeJSON(w, status, errorResponse{Error: message})
}

// writeErr maps err onto a status code and replies with its message and
// any hints attached with errors.WithHint.
func writeErr(w http.ResponseWriter, err error) {
	_ = writeJSON(w, statusFor(err), errorResponse{
		Error: err.Error(),
		Hints: errors.GetAllHints(err),
	})
}

func statusFor(err error) int {
	switch {
	case errors.IsShapeError(err), errors.IsInvalidConfigurationError(err):
		return http.StatusBadRequest
	case errors.IsDestroyedError(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// requireMethods replies 405 unless the request uses one of methods
func requireMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	if slices.Contains(methods, r.Method) {
		return true
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	return requireMethods(w, r, method)
}
