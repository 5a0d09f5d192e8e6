package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nazlab/assistant-server/internal/domain"
	"github.com/nazlab/assistant-server/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements TranscriptStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed transcript store.
func NewSQLite(dbPath string) (TranscriptStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	// created_at is Unix nanoseconds so load order matches insertion order
	// even for turns written within the same second.
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS chat_turns (
		id TEXT PRIMARY KEY,
		user_key TEXT NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_turns_user ON chat_turns(user_key, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LoadHistory returns all persisted turns for a user key, oldest first.
func (s *SQLiteStore) LoadHistory(ctx context.Context, userKey string) ([]domain.Turn, error) {
	query := `
		SELECT id, role, text, created_at
		FROM chat_turns WHERE user_key = ?
		ORDER BY created_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, userKey)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close history rows", "error", closeErr)
		}
	}()

	var turns []domain.Turn
	for rows.Next() {
		var turn domain.Turn
		var role string
		var createdAt int64

		if err := rows.Scan(&turn.ID, &role, &turn.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}

		turn.Role = domain.Role(role)
		turn.CreatedAt = time.Unix(0, createdAt)
		turns = append(turns, turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	return turns, nil
}

// Append durably stores one turn tagged with the user key.
// Retries with exponential backoff when another connection holds the write lock.
func (s *SQLiteStore) Append(ctx context.Context, userKey string, turn domain.Turn) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = s.appendOnce(ctx, userKey, turn)
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) {
			return err
		}
		if i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("Append hit SQLITE_BUSY, retrying",
				"user_key", userKey,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
		}
	}

	return fmt.Errorf("append turn after %d attempts: %w", maxRetries, err)
}

func (s *SQLiteStore) appendOnce(ctx context.Context, userKey string, turn domain.Turn) error {
	query := `
	INSERT INTO chat_turns (id, user_key, role, text, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		turn.ID, userKey, string(turn.Role), turn.Text, turn.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// DeleteAll removes every persisted turn for a user key.
func (s *SQLiteStore) DeleteAll(ctx context.Context, userKey string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM chat_turns WHERE user_key = ?`, userKey)
	if err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	slog.Debug("Deleted transcript", "user_key", userKey, "turns", rows)

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
