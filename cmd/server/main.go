// Nazlab Assistant Server - conversation backend for the Nazlab teaching app
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/nazlab/assistant-server/internal/api"
	"github.com/nazlab/assistant-server/internal/chat"
	"github.com/nazlab/assistant-server/internal/completion"
	"github.com/nazlab/assistant-server/internal/config"
	"github.com/nazlab/assistant-server/internal/identity"
	"github.com/nazlab/assistant-server/internal/middleware"
	"github.com/nazlab/assistant-server/internal/store"
	"github.com/nazlab/assistant-server/internal/ws"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"model", cfg.Completion.Model,
		"context_window", cfg.Chat.ContextWindow,
	)
	if cfg.Completion.APIKey == "" {
		slog.Warn("GROQ_API_KEY is not set; send requests will fail until configured")
	}

	// Initialize dependencies.
	transcripts, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := transcripts.Close(); closeErr != nil {
			slog.Error("Failed to close transcript store", "error", closeErr)
		}
	}()

	if err := transcripts.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	var audit chat.AuditLogger = chat.NopAuditLogger()
	if cfg.Audit.Enabled {
		fileAudit, err := chat.NewFileAuditLogger(cfg.Audit, logger)
		if err != nil {
			slog.Error("Failed to initialize audit logger", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := fileAudit.Close(); closeErr != nil {
				slog.Error("Failed to close audit logger", "error", closeErr)
			}
		}()
		audit = fileAudit
		slog.Info("Conversation audit logging enabled", "dir", cfg.Audit.Dir)
	}

	client := completion.NewGroqClient(cfg.Completion)
	sessions := chat.NewManager(transcripts, client, cfg.Chat, audit)
	defer sessions.CloseAll()

	registry := ws.NewRegistry()
	defer registry.CloseAll()

	// Initialize handlers.
	limiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	chatHandler := api.NewHandler(sessions, limiter, cfg)
	healthHandler := api.NewHealthHandler(transcripts, cfg)
	wsHandler := ws.NewChatHandler(sessions, registry, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	chatHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// Create server.
	// Note: WebSocket connections are long-lived, so no WriteTimeout.
	// The completion exchange is bounded by its own client timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
