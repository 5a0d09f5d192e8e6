// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/nazlab/assistant-server/internal/domain"
)

// TranscriptStore defines the interface for persisting conversation turns,
// keyed by normalized user identity. Callers must normalize the key before
// calling; the store treats it as opaque.
type TranscriptStore interface {
	// LoadHistory returns all persisted turns for userKey ordered by
	// creation time ascending. Returns an empty slice if none exist.
	LoadHistory(ctx context.Context, userKey string) ([]domain.Turn, error)

	// Append durably stores one turn tagged with userKey.
	Append(ctx context.Context, userKey string, turn domain.Turn) error

	// DeleteAll removes every persisted turn tagged with userKey.
	DeleteAll(ctx context.Context, userKey string) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
