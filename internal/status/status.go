// Package status exposes the /status/ready and /status/live endpoints
// that the deliverer and relay processes mount when STATUS_ENDPOINT_HOST,
// STATUS_ENDPOINT_PORT and STATUS_ENDPOINT_API_KEY are all set, guarded by
// a shared-secret header rather than a standard auth scheme.
package status

import (
	"encoding/json"
	"net/http"
)

// Checker is implemented by any component whose health should roll up
// into the process-wide ready/live checks.
type Checker interface {
	Ready() bool
	IsRunning() bool
}

// Handler serves the status endpoints for a set of checkers.
type Handler struct {
	apiKey   string
	checkers []Checker
}

// NewHandler creates a status Handler guarded by apiKey.
func NewHandler(apiKey string, checkers ...Checker) *Handler {
	return &Handler{apiKey: apiKey, checkers: checkers}
}

// Mux returns an http.Handler serving /status/ready and /status/live.
func (h *Handler) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status/ready", h.handleReady)
	mux.HandleFunc("GET /status/live", h.handleLive)
	return mux
}

func (h *Handler) authorized(r *http.Request) bool {
	return h.apiKey != "" && r.Header.Get("access_token") == h.apiKey
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	ready := true
	for _, c := range h.checkers {
		if !c.Ready() {
			ready = false
			break
		}
	}
	writeJSON(w, map[string]bool{"ready": ready})
}

func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	alive := true
	for _, c := range h.checkers {
		if !c.IsRunning() {
			alive = false
			break
		}
	}
	writeJSON(w, map[string]bool{"alive": alive})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
