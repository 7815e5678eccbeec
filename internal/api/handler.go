// Package api provides the HTTP endpoints served alongside the
// WebSocket gateway: health and operational stats.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quangdm/shopchat/internal/store"
)

// BridgeHealth is the tool-server health surface consumed here. nil
// means tool mode is disabled and the bridge is not part of health.
type BridgeHealth interface {
	Health(ctx context.Context) error
}

// ConnectionCounter reports live gateway connections.
type ConnectionCounter interface {
	Count() int
}

// Handler provides the stats and health endpoints.
type Handler struct {
	store  store.SessionStore
	bridge BridgeHealth
	conns  ConnectionCounter
}

// NewHandler creates a new Handler.
func NewHandler(st store.SessionStore, bridge BridgeHealth, conns ConnectionCounter) *Handler {
	return &Handler{store: st, bridge: bridge, conns: conns}
}

// RegisterRoutes mounts the API endpoints on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/stats", h.Stats)
	r.Get("/api/health", h.Health)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Stats returns persisted session counts and the live connection count.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to load stats")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"sessions":    stats.Sessions,
		"messages":    stats.Messages,
		"connections": h.conns.Count(),
	})
}

// Health reports the store and tool-server status. Any degraded
// dependency turns the whole response into a 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{"status": "ok"}

	if err := h.store.Ping(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["store"] = err.Error()
	} else {
		body["store"] = "ok"
	}

	if h.bridge != nil {
		if err := h.bridge.Health(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["tools"] = err.Error()
		} else {
			body["tools"] = "ok"
		}
	} else {
		body["tools"] = "disabled"
	}

	JSON(w, status, body)
}
