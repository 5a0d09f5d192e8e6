// Package chat implements conversation session management: transcript state,
// persistence, and the exchange with the completion endpoint.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nazlab/assistant-server/internal/completion"
	"github.com/nazlab/assistant-server/internal/config"
	"github.com/nazlab/assistant-server/internal/domain"
	"github.com/nazlab/assistant-server/internal/store"
)

// ErrBusy is returned by Send while another exchange is in flight.
// Requests are rejected, not queued.
var ErrBusy = errors.New("chat: exchange already in flight")

// ErrEmptyMessage is returned by Send for a message that is empty after trimming.
var ErrEmptyMessage = errors.New("chat: empty message")

// State is an observable snapshot of a conversation.
type State struct {
	Turns        []domain.Turn `json:"turns"`
	Sending      bool          `json:"sending"`
	Typing       bool          `json:"typing"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// Session owns the transcript of one conversation for one user key.
// All state is mutex-confined; the remote completion call is the only
// operation that runs outside the lock, guarded by the sending flag so
// at most one exchange is in flight per session.
type Session struct {
	userKey string
	store   store.TranscriptStore
	client  completion.Client
	cfg     config.ChatConfig
	audit   AuditLogger

	mu       sync.Mutex
	turns    []domain.Turn
	sending  bool
	typing   bool
	errMsg   string
	loaded   bool
	epoch    int
	inflight context.CancelFunc
}

// NewSession creates a session seeded with the synthetic system turn.
// The user key must already be normalized (see NormalizeKey).
func NewSession(userKey string, ts store.TranscriptStore, client completion.Client, cfg config.ChatConfig, audit AuditLogger) *Session {
	if audit == nil {
		audit = noopAuditLogger{}
	}
	return &Session{
		userKey: userKey,
		store:   ts,
		client:  client,
		cfg:     cfg,
		audit:   audit,
		turns:   []domain.Turn{domain.NewTurn(domain.RoleSystem, cfg.SystemPrompt)},
	}
}

// Load replaces the seeded transcript with persisted history, if any exists.
// Idempotent: only the first call has any effect. A store failure degrades to
// the seeded transcript rather than blocking the session.
func (s *Session) Load(ctx context.Context) {
	s.mu.Lock()
	if s.loaded {
		s.mu.Unlock()
		return
	}
	s.loaded = true
	s.mu.Unlock()

	history, err := s.store.LoadHistory(ctx, s.userKey)
	if err != nil {
		slog.Warn("Failed to load transcript history, starting fresh",
			"user_key", s.userKey, "error", err)
		s.audit.Log(AuditEvent{
			Timestamp: time.Now().UTC(),
			UserKey:   s.userKey,
			EventType: EventPersistenceError,
			Error:     err.Error(),
		})
		return
	}
	if len(history) == 0 {
		return
	}

	s.mu.Lock()
	s.turns = history
	s.mu.Unlock()
}

// Send appends and persists a user turn, exchanges the recent context with
// the completion endpoint, and appends the assistant's reply. The user turn
// is persisted before the remote call is issued and is never rolled back.
func (s *Session) Send(ctx context.Context, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	if s.sending {
		s.mu.Unlock()
		return ErrBusy
	}

	userTurn := domain.NewTurn(domain.RoleUser, trimmed)
	s.turns = append(s.turns, userTurn)
	s.sending = true
	s.typing = true
	s.errMsg = ""
	epoch := s.epoch

	callCtx, cancel := context.WithCancel(ctx)
	s.inflight = cancel

	window := s.contextWindowLocked()
	s.mu.Unlock()

	defer cancel()

	s.persist(ctx, userTurn)
	s.audit.Log(AuditEvent{
		Timestamp: time.Now().UTC(),
		UserKey:   s.userKey,
		EventType: EventUserTurn,
		Role:      domain.RoleUser,
		Content:   userTurn.Text,
	})

	reply, err := s.client.GenerateResponse(callCtx, window)

	s.mu.Lock()
	s.sending = false
	s.typing = false
	s.inflight = nil
	if epoch != s.epoch {
		// Cleared while the call was in flight; discard the result.
		s.mu.Unlock()
		return nil
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.mu.Unlock()
			return nil
		}
		s.errMsg = userFacingMessage(err)
		s.mu.Unlock()

		slog.Warn("Completion exchange failed", "user_key", s.userKey, "error", err)
		s.audit.Log(AuditEvent{
			Timestamp: time.Now().UTC(),
			UserKey:   s.userKey,
			EventType: EventSendFailed,
			Error:     err.Error(),
		})
		return nil
	}

	assistantTurn := domain.NewTurn(domain.RoleAssistant, reply)
	s.turns = append(s.turns, assistantTurn)
	s.mu.Unlock()

	s.persist(ctx, assistantTurn)
	s.audit.Log(AuditEvent{
		Timestamp: time.Now().UTC(),
		UserKey:   s.userKey,
		EventType: EventAssistantTurn,
		Role:      domain.RoleAssistant,
		Content:   assistantTurn.Text,
	})

	return nil
}

// Clear resets the transcript to the single synthetic system turn and erases
// the persisted copy. An in-flight exchange is cancelled and its result
// discarded. Durable deletion failure is logged, never surfaced.
func (s *Session) Clear(ctx context.Context) {
	s.mu.Lock()
	s.epoch++
	if s.inflight != nil {
		s.inflight()
	}
	s.turns = []domain.Turn{domain.NewTurn(domain.RoleSystem, s.cfg.SystemPrompt)}
	s.errMsg = ""
	s.mu.Unlock()

	if err := s.store.DeleteAll(ctx, s.userKey); err != nil {
		slog.Warn("Failed to delete persisted transcript", "user_key", s.userKey, "error", err)
		s.audit.Log(AuditEvent{
			Timestamp: time.Now().UTC(),
			UserKey:   s.userKey,
			EventType: EventPersistenceError,
			Error:     err.Error(),
		})
	}
	s.audit.Log(AuditEvent{
		Timestamp: time.Now().UTC(),
		UserKey:   s.userKey,
		EventType: EventCleared,
	})
}

// State returns an observable snapshot of the conversation.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := make([]domain.Turn, len(s.turns))
	copy(turns, s.turns)

	return State{
		Turns:        turns,
		Sending:      s.sending,
		Typing:       s.typing,
		ErrorMessage: s.errMsg,
	}
}

// contextWindowLocked returns a copy of the most recent turns, bounded by the
// configured window size. Only recent turns go to the endpoint: request size,
// latency and cost stay bounded at the expense of long-range coherence.
func (s *Session) contextWindowLocked() []domain.Turn {
	n := s.cfg.ContextWindow
	start := len(s.turns) - n
	if start < 0 {
		start = 0
	}
	window := make([]domain.Turn, len(s.turns)-start)
	copy(window, s.turns[start:])
	return window
}

// persist appends one turn to the store. Failure is non-fatal to the
// conversation: the in-memory transcript stays authoritative for the session.
func (s *Session) persist(ctx context.Context, turn domain.Turn) {
	if err := s.store.Append(ctx, s.userKey, turn); err != nil {
		slog.Warn("Failed to persist turn",
			"user_key", s.userKey, "turn_id", turn.ID, "role", turn.Role, "error", err)
		s.audit.Log(AuditEvent{
			Timestamp: time.Now().UTC(),
			UserKey:   s.userKey,
			EventType: EventPersistenceError,
			Error:     err.Error(),
		})
	}
}

// userFacingMessage maps a completion failure to the single human-readable
// message shown for that send.
func userFacingMessage(err error) string {
	var serverErr *completion.ServerError
	var transportErr *completion.TransportError
	var decodeErr *completion.DecodeError

	switch {
	case errors.Is(err, completion.ErrMissingCredential):
		return "The assistant is not configured: missing API credential."
	case errors.Is(err, completion.ErrInvalidRequest):
		return "Your message could not be sent. Please try again."
	case errors.As(err, &serverErr):
		return fmt.Sprintf("The assistant service returned an error (HTTP %d).", serverErr.Status)
	case errors.As(err, &transportErr):
		return "Could not reach the assistant service. Check your connection and try again."
	case errors.As(err, &decodeErr):
		return "The assistant returned an unreadable response."
	default:
		return "Something went wrong. Please try again."
	}
}
