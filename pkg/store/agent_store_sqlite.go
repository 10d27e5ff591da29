package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/loopwork-ai/governor/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteAgentStore persists agents in a local SQLite database.
type SQLiteAgentStore struct {
	db *sql.DB
}

// NewSQLiteAgentStore wraps an opened database handle and applies the
// schema migration.
func NewSQLiteAgentStore(db *sql.DB) (*SQLiteAgentStore, error) {
	s := &SQLiteAgentStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteAgentStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS agents (
        id TEXT PRIMARY KEY,
        maturity TEXT NOT NULL,
        confidence REAL NOT NULL DEFAULT 0,
        band_started_at DATETIME NOT NULL,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteAgentStore) Get(ctx context.Context, id string) (*contracts.Agent, error) {
	query := `
        SELECT id, maturity, confidence, band_started_at, created_at, updated_at
        FROM agents
        WHERE id = ?
    `
	row := s.db.QueryRowContext(ctx, query, id)

	var a contracts.Agent
	var maturity string
	var bandStarted, created, updated string
	err := row.Scan(&a.ID, &maturity, &a.Confidence, &bandStarted, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query agent %s: %w", id, err)
	}

	m, ok := contracts.ParseMaturity(maturity)
	if !ok {
		return nil, fmt.Errorf("agent %s has invalid maturity %q", id, maturity)
	}
	a.Maturity = m
	if a.BandStartedAt, err = parseStoredTime(bandStarted); err != nil {
		return nil, fmt.Errorf("agent %s band_started_at: %w", id, err)
	}
	if a.CreatedAt, err = parseStoredTime(created); err != nil {
		return nil, fmt.Errorf("agent %s created_at: %w", id, err)
	}
	if a.UpdatedAt, err = parseStoredTime(updated); err != nil {
		return nil, fmt.Errorf("agent %s updated_at: %w", id, err)
	}
	return &a, nil
}

func (s *SQLiteAgentStore) Create(ctx context.Context, a *contracts.Agent) error {
	query := `INSERT INTO agents (id, maturity, confidence, band_started_at, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		a.ID, string(a.Maturity), a.Confidence,
		formatStoredTime(a.BandStartedAt), formatStoredTime(a.CreatedAt), formatStoredTime(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert agent %s: %w", a.ID, err)
	}
	return nil
}

func (s *SQLiteAgentStore) Update(ctx context.Context, a *contracts.Agent) error {
	query := `UPDATE agents
        SET maturity = ?, confidence = ?, band_started_at = ?, updated_at = ?
        WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query,
		string(a.Maturity), a.Confidence,
		formatStoredTime(a.BandStartedAt), formatStoredTime(a.UpdatedAt), a.ID,
	)
	if err != nil {
		return fmt.Errorf("update agent %s: %w", a.ID, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, a.ID)
	}
	return nil
}

func formatStoredTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseStoredTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
