// Package ws provides the WebSocket chat surface.
package ws

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Registry tracks active WebSocket connections per user key and tab session.
type Registry struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewRegistry creates a new connection registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// GetActive returns the active connection for a user and session.
func (r *Registry) GetActive(userKey, sessionID string) *websocket.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if sessions, ok := r.active[userKey]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Register adds a connection for a user/session, replacing any prior
// connection for the same pair.
func (r *Registry) Register(userKey, sessionID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.active[userKey]; !exists {
		r.active[userKey] = make(map[string]*websocket.Conn)
	}

	if existing, exists := r.active[userKey][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}

	r.active[userKey][sessionID] = conn
	slog.Info("Chat connection registered", "user_key", userKey, "session_id", sessionID)
}

// Unregister removes a connection for a user/session.
func (r *Registry) Unregister(userKey, sessionID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sessions, ok := r.active[userKey]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(r.active, userKey)
			}
			slog.Info("Chat connection unregistered", "user_key", userKey, "session_id", sessionID)
		}
	}
}

// CloseAll forcefully terminates every active connection. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for userKey, sessions := range r.active {
		for sid, conn := range sessions {
			_ = conn.Close(websocket.StatusNormalClosure, "server shutting down")
			slog.Info("Chat connection closed", "user_key", userKey, "session_id", sid)
		}
		delete(r.active, userKey)
	}
}
