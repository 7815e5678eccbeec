// Package gateway exposes the WebSocket chat endpoint: connection
// lifecycle, frame dispatch, and the session registry.
package gateway

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Registry tracks the live WebSocket connection for each session. A
// session has at most one connection; registering a second one closes
// the first.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*websocket.Conn
	conns    map[*websocket.Conn]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*websocket.Conn),
		conns:    make(map[*websocket.Conn]string),
	}
}

// Register binds a connection to a session, displacing any previous one.
func (r *Registry) Register(sessionID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[sessionID]; ok && existing != conn {
		delete(r.conns, existing)
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}

	r.sessions[sessionID] = conn
	r.conns[conn] = sessionID
	slog.Info("Chat session registered", "session_id", sessionID)
}

// Unregister removes the binding if conn is still the session's current
// connection. A connection displaced by Register is already gone and is
// left alone here.
func (r *Registry) Unregister(sessionID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sessions[sessionID]; ok && current == conn {
		delete(r.sessions, sessionID)
		delete(r.conns, conn)
		slog.Info("Chat session unregistered", "session_id", sessionID)
	}
}

// SessionID returns the session bound to a connection, if any.
func (r *Registry) SessionID(conn *websocket.Conn) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.conns[conn]
	return id, ok
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll terminates every live connection. Used during shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for sid, conn := range r.sessions {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(r.conns, conn)
		delete(r.sessions, sid)
		slog.Info("Chat session closed", "session_id", sid)
	}
}
