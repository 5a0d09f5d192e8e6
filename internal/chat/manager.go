package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/nazlab/assistant-server/internal/completion"
	"github.com/nazlab/assistant-server/internal/config"
	"github.com/nazlab/assistant-server/internal/store"
)

// NormalizeKey canonicalizes a user identity string. Every store caller must
// see the same key for the same identity, so normalization lives in one place.
func NormalizeKey(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Manager holds one live session per normalized user key.
type Manager struct {
	store  store.TranscriptStore
	client completion.Client
	cfg    config.ChatConfig
	audit  AuditLogger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session registry over the given collaborators.
func NewManager(ts store.TranscriptStore, client completion.Client, cfg config.ChatConfig, audit AuditLogger) *Manager {
	return &Manager{
		store:    ts,
		client:   client,
		cfg:      cfg,
		audit:    audit,
		sessions: make(map[string]*Session),
	}
}

// Session returns the live session for a user identity, creating and loading
// it on first use. The raw identity is normalized here.
func (m *Manager) Session(ctx context.Context, rawKey string) *Session {
	key := NormalizeKey(rawKey)

	m.mu.Lock()
	sess, ok := m.sessions[key]
	if !ok {
		sess = NewSession(key, m.store, m.client, m.cfg, m.audit)
		m.sessions[key] = sess
		slog.Info("Chat session created", "user_key", key)
	}
	m.mu.Unlock()

	// Load is idempotent; doing it outside the registry lock keeps slow
	// store reads from blocking unrelated sessions.
	sess.Load(ctx)
	return sess
}

// CloseAll drops every live session. Persisted transcripts are untouched.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.sessions {
		delete(m.sessions, key)
	}
	slog.Info("All chat sessions closed")
}
