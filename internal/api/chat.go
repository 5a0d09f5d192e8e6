package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nazlab/assistant-server/internal/chat"
	"github.com/nazlab/assistant-server/internal/identity"
)

// sendRequest is the body of POST /api/chat/send.
type sendRequest struct {
	Message string `json:"message"`
}

// HandleSend handles POST /api/chat/send. The call blocks for the exchange
// and returns the resulting conversation state.
func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	userKey := identity.UserKeyFromContext(r.Context())
	if userKey == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if !h.limiter.Allow(userKey) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess := h.sessions.Session(r.Context(), userKey)

	slog.Info("Chat send request", "user_key", userKey, "message_length", len(req.Message))

	if err := sess.Send(r.Context(), req.Message); err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyMessage):
			Error(w, http.StatusBadRequest, "message is required")
		case errors.Is(err, chat.ErrBusy):
			Error(w, http.StatusConflict, "an exchange is already in flight")
		default:
			Error(w, http.StatusInternalServerError, "send failed")
		}
		return
	}

	JSON(w, http.StatusOK, sess.State())
}

// HandleClear handles POST /api/chat/clear.
func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	userKey := identity.UserKeyFromContext(r.Context())
	if userKey == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sess := h.sessions.Session(r.Context(), userKey)
	sess.Clear(r.Context())

	slog.Info("Chat cleared", "user_key", userKey)
	JSON(w, http.StatusOK, sess.State())
}

// HandleHistory handles GET /api/chat/history.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userKey := identity.UserKeyFromContext(r.Context())
	if userKey == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sess := h.sessions.Session(r.Context(), userKey)
	state := sess.State()
	JSON(w, http.StatusOK, map[string]interface{}{"turns": state.Turns})
}

// HandleState handles GET /api/chat/state.
func (h *Handler) HandleState(w http.ResponseWriter, r *http.Request) {
	userKey := identity.UserKeyFromContext(r.Context())
	if userKey == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sess := h.sessions.Session(r.Context(), userKey)
	JSON(w, http.StatusOK, sess.State())
}

// RegisterRoutes registers chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/send", h.HandleSend)
		r.Post("/clear", h.HandleClear)
		r.Get("/history", h.HandleHistory)
		r.Get("/state", h.HandleState)
	})
}
