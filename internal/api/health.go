package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nazlab/assistant-server/internal/config"
	"github.com/nazlab/assistant-server/internal/store"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	store store.TranscriptStore
	cfg   *config.Config
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(ts store.TranscriptStore, cfg *config.Config) *HealthHandler {
	return &HealthHandler{store: ts, cfg: cfg}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbStatus := "ok"
	status := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		dbStatus = "unavailable"
		status = http.StatusServiceUnavailable
	}

	JSON(w, status, map[string]interface{}{
		"status":         dbStatus,
		"database":       dbStatus,
		"model":          h.cfg.Completion.Model,
		"context_window": h.cfg.Chat.ContextWindow,
	})
}

// RegisterHealth registers the health route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
