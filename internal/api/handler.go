// Package api provides HTTP handlers for the assistant API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/nazlab/assistant-server/internal/chat"
	"github.com/nazlab/assistant-server/internal/config"
)

// maxRequestBodySize bounds chat request bodies (64KB is generous for a message).
const maxRequestBodySize = 64 << 10

// Handler provides common handler dependencies.
type Handler struct {
	sessions *chat.Manager
	limiter  *RateLimiter
	cfg      *config.Config
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(sessions *chat.Manager, limiter *RateLimiter, cfg *config.Config) *Handler {
	return &Handler{
		sessions: sessions,
		limiter:  limiter,
		cfg:      cfg,
	}
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
