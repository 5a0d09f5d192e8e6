package chat

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nazlab/assistant-server/internal/config"
	"github.com/nazlab/assistant-server/internal/domain"
)

// Audit event types.
const (
	EventUserTurn         = "user_turn"
	EventAssistantTurn    = "assistant_turn"
	EventSendFailed       = "send_failed"
	EventPersistenceError = "persistence_error"
	EventCleared          = "cleared"
)

// AuditEvent is one line in the NDJSON conversation audit log.
type AuditEvent struct {
	Timestamp time.Time   `json:"ts"`
	UserKey   string      `json:"user_key"`
	EventType string      `json:"event_type"`
	Role      domain.Role `json:"role,omitempty"`
	Content   string      `json:"content,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// AuditLogger records conversation events for operational visibility.
// Swallowed persistence failures go through here so they are not masked.
type AuditLogger interface {
	Log(event AuditEvent)
	Close() error
}

type noopAuditLogger struct{}

func (noopAuditLogger) Log(AuditEvent) {}
func (noopAuditLogger) Close() error   { return nil }

// NopAuditLogger returns an AuditLogger that discards every event.
func NopAuditLogger() AuditLogger { return noopAuditLogger{} }

// FileAuditLogger writes one NDJSON file per user key, asynchronously.
// Events are queued; when the queue is full they are dropped and counted
// rather than blocking the conversation.
type FileAuditLogger struct {
	dir     string
	logger  *slog.Logger
	queue   chan AuditEvent
	done    chan struct{}
	dropped atomic.Int64
	closeMu sync.Mutex
	closed  bool
}

// NewFileAuditLogger creates the audit directory and starts the writer goroutine.
func NewFileAuditLogger(cfg config.AuditConfig, logger *slog.Logger) (*FileAuditLogger, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	l := &FileAuditLogger{
		dir:    cfg.Dir,
		logger: logger,
		queue:  make(chan AuditEvent, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Log enqueues an event, dropping it if the queue is full.
func (l *FileAuditLogger) Log(event AuditEvent) {
	select {
	case l.queue <- event:
	default:
		if n := l.dropped.Add(1); n%100 == 1 {
			l.logger.Warn("audit queue full, dropping events", "dropped_total", n)
		}
	}
}

// Close stops the writer after draining queued events.
func (l *FileAuditLogger) Close() error {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.queue)
	<-l.done
	return nil
}

func (l *FileAuditLogger) run() {
	defer close(l.done)
	for event := range l.queue {
		if err := l.write(event); err != nil {
			l.logger.Warn("failed to write audit event",
				"user_key", event.UserKey, "event_type", event.EventType, "error", err)
		}
	}
}

func (l *FileAuditLogger) write(event AuditEvent) error {
	path := filepath.Join(l.dir, sanitizeKeyForPath(event.UserKey)+".ndjson")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			l.logger.Debug("failed to close audit file", "path", path, "error", closeErr)
		}
	}()

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

// sanitizeKeyForPath keeps user keys filesystem-safe. Keys are emails or
// anonymous IDs, so only a small set of characters needs replacing.
func sanitizeKeyForPath(key string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_", ":", "_")
	out := replacer.Replace(key)
	if out == "" {
		out = "unknown"
	}
	return out
}
