package handler

import (
	"net/http"
)

// Pinger reports whether an optional dependency is reachable.
type Pinger interface {
	IsConnected() bool
}

// SessionCounter reports how many conversations are held.
type SessionCounter interface {
	SessionCount() int
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	events   Pinger
	sessions SessionCounter
}

// NewHealthHandler creates a new health handler. events is nil when the
// event feed is disabled.
func NewHealthHandler(events Pinger, sessions SessionCounter) *HealthHandler {
	return &HealthHandler{
		events:   events,
		sessions: sessions,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.events != nil && !h.events.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"sessions": h.sessions.SessionCount(),
	})
}
