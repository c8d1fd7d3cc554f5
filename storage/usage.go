// Package storage provides SQLite-backed usage accounting for dispatches.
//
// Information Hiding:
// - SQLite connection management hidden behind the UsageRecorder interface
// - Schema details encapsulated
// - Thread-safe via sql.DB's built-in connection pooling

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/dumitrescustefan/llm-serv/llm"
)

// UsageEntry is one recorded dispatch.
type UsageEntry struct {
	ID           string
	ModelID      string
	Provider     string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	DurationMs   int64
	CreatedAt    int64
}

// UsageStore records per-dispatch token usage in a SQLite database.
type UsageStore struct {
	db *sql.DB
}

// Open opens or creates a usage database at the given path, creating
// parent directories if needed.
func Open(path string) (*UsageStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	return initStore(db)
}

// OpenInMemory creates an in-memory usage database (useful for testing).
func OpenInMemory() (*UsageStore, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite: %w", err)
	}
	return initStore(db)
}

func initStore(db *sql.DB) (*UsageStore, error) {
	store := &UsageStore{db: db}
	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *UsageStore) Close() error {
	return s.db.Close()
}

func (s *UsageStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS usage (
			id TEXT PRIMARY KEY,
			model_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_usage_model
		ON usage(model_id, created_at DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// RecordUsage stores one dispatch's token usage.
func (s *UsageStore) RecordUsage(ctx context.Context, modelID, provider string, tokens llm.ModelTokens, duration time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage
		(id, model_id, provider, input_tokens, output_tokens, total_tokens, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		modelID,
		provider,
		tokens.InputTokens,
		tokens.OutputTokens,
		tokens.TotalTokens,
		duration.Milliseconds(),
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// ByModel returns usage entries for one model, most recent first.
func (s *UsageStore) ByModel(ctx context.Context, modelID string) ([]UsageEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, model_id, provider, input_tokens, output_tokens, total_tokens, duration_ms, created_at
		FROM usage
		WHERE model_id = ?
		ORDER BY created_at DESC`,
		modelID)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	entries := []UsageEntry{}
	for rows.Next() {
		var e UsageEntry
		err := rows.Scan(
			&e.ID,
			&e.ModelID,
			&e.Provider,
			&e.InputTokens,
			&e.OutputTokens,
			&e.TotalTokens,
			&e.DurationMs,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage entries: %w", err)
	}
	return entries, nil
}

// Totals sums token usage across all recorded dispatches.
func (s *UsageStore) Totals(ctx context.Context) (llm.ModelTokens, error) {
	var totals llm.ModelTokens
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(total_tokens), 0)
		FROM usage`).Scan(&totals.InputTokens, &totals.OutputTokens, &totals.TotalTokens)
	if err != nil {
		return llm.ModelTokens{}, fmt.Errorf("failed to sum usage: %w", err)
	}
	return totals, nil
}

// Verify UsageStore implements the dispatcher's recorder interface.
var _ llm.UsageRecorder = (*UsageStore)(nil)
