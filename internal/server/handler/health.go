package handler

import (
	"net/http"
	"time"
)

// HealthHandler serves liveness information.
type HealthHandler struct {
	startedAt time.Time
	clients   func() int // connected WebSocket clients
}

// NewHealthHandler creates a HealthHandler. clients may be nil when the hub
// is not running.
func NewHealthHandler(startedAt time.Time, clients func() int) *HealthHandler {
	return &HealthHandler{startedAt: startedAt, clients: clients}
}

// HealthCheck reports process health and uptime.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}
	if h.clients != nil {
		resp["ws_clients"] = h.clients()
	}
	writeJSON(w, http.StatusOK, resp)
}
