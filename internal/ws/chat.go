package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/nazlab/assistant-server/internal/chat"
	"github.com/nazlab/assistant-server/internal/identity"
)

// clientFrame is a message from the client.
type clientFrame struct {
	Type    string `json:"type"` // "send" | "clear"
	Content string `json:"content,omitempty"`
}

// serverFrame is a message pushed to the client.
type serverFrame struct {
	Type  string      `json:"type"` // "state" | "typing" | "error"
	State *chat.State `json:"state,omitempty"`
	Error string      `json:"error,omitempty"`
}

// ChatHandler handles WebSocket chat connections. Each connection mirrors the
// reactive binding of the original client: every transition pushes a full
// conversation state snapshot.
type ChatHandler struct {
	sessions      *chat.Manager
	registry      *Registry
	allowedOrigin string
	isDev         bool
}

// NewChatHandler creates a new WebSocket chat handler.
func NewChatHandler(sessions *chat.Manager, registry *Registry, allowedOrigin string, isDev bool) *ChatHandler {
	return &ChatHandler{
		sessions:      sessions,
		registry:      registry,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userKey := identity.UserKeyFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("Chat WebSocket connection request", "user_key", userKey, "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_key", userKey)
		return
	}
	defer func() {
		if closeErr := conn.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_key", userKey)
		}
	}()

	h.registry.Register(userKey, sessionID, conn)
	defer h.registry.Unregister(userKey, sessionID, conn)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := h.sessions.Session(ctx, userKey)

	// Initial snapshot so the client can render immediately.
	state := sess.State()
	if err := h.writeFrame(ctx, conn, serverFrame{Type: "state", State: &state}); err != nil {
		slog.Debug("Failed to send initial state", "error", err, "user_key", userKey)
		return
	}

	for {
		frame, err := h.readFrame(ctx, conn)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway ||
				errors.Is(err, context.Canceled) {
				return
			}
			slog.Debug("WebSocket read error", "error", err, "user_key", userKey)
			return
		}

		switch frame.Type {
		case "send":
			h.handleSend(ctx, conn, sess, userKey, frame.Content)
		case "clear":
			sess.Clear(ctx)
			h.pushState(ctx, conn, sess, userKey)
		default:
			if err := h.writeFrame(ctx, conn, serverFrame{Type: "error", Error: "unknown frame type"}); err != nil {
				return
			}
		}
	}
}

func (h *ChatHandler) handleSend(ctx context.Context, conn *websocket.Conn, sess *chat.Session, userKey, content string) {
	// The typing frame goes out before the blocking exchange so the client
	// can show its indicator while waiting.
	if err := h.writeFrame(ctx, conn, serverFrame{Type: "typing"}); err != nil {
		slog.Debug("Failed to send typing frame", "error", err, "user_key", userKey)
		return
	}

	if err := sess.Send(ctx, content); err != nil {
		msg := "send failed"
		switch {
		case errors.Is(err, chat.ErrEmptyMessage):
			msg = "message is required"
		case errors.Is(err, chat.ErrBusy):
			msg = "an exchange is already in flight"
		}
		if writeErr := h.writeFrame(ctx, conn, serverFrame{Type: "error", Error: msg}); writeErr != nil {
			slog.Debug("Failed to send error frame", "error", writeErr, "user_key", userKey)
		}
		return
	}

	h.pushState(ctx, conn, sess, userKey)
}

func (h *ChatHandler) pushState(ctx context.Context, conn *websocket.Conn, sess *chat.Session, userKey string) {
	state := sess.State()
	if err := h.writeFrame(ctx, conn, serverFrame{Type: "state", State: &state}); err != nil {
		slog.Debug("Failed to push state", "error", err, "user_key", userKey)
	}
}

func (h *ChatHandler) readFrame(ctx context.Context, conn *websocket.Conn) (clientFrame, error) {
	var frame clientFrame
	_, data, err := conn.Read(ctx)
	if err != nil {
		return frame, err
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return frame, err
	}
	return frame, nil
}

func (h *ChatHandler) writeFrame(ctx context.Context, conn *websocket.Conn, frame serverFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// checkOrigin allows same-origin requests and the configured frontend URL.
// Development mode accepts any origin.
func (h *ChatHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return h.allowedOrigin != "" && strings.HasPrefix(origin, h.allowedOrigin)
}
