package episodes

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/loopwork-ai/governor/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists episodes in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an opened database handle and applies the schema
// migration.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS episodes (
        id TEXT PRIMARY KEY,
        agent_id TEXT NOT NULL,
        skill_name TEXT NOT NULL,
        source TEXT NOT NULL,
        type TEXT NOT NULL,
        sandboxed INTEGER NOT NULL DEFAULT 0,
        duration_ms INTEGER NOT NULL DEFAULT 0,
        intervened INTEGER NOT NULL DEFAULT 0,
        compliance REAL NOT NULL DEFAULT 0,
        recorded_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_episodes_agent_time ON episodes (agent_id, recorded_at);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Record inserts one episode. A missing ID or timestamp is filled in so a
// failed emission is always attributable.
func (s *SQLiteStore) Record(ctx context.Context, ep *contracts.EpisodeRecord) error {
	if ep.ID == "" {
		ep.ID = uuid.New().String()
	}
	if ep.RecordedAt.IsZero() {
		ep.RecordedAt = time.Now().UTC()
	}

	query := `INSERT INTO episodes
        (id, agent_id, skill_name, source, type, sandboxed, duration_ms, intervened, compliance, recorded_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		ep.ID, ep.AgentID, ep.SkillName, string(ep.Source), string(ep.Type),
		boolToInt(ep.Sandboxed), ep.Duration.Milliseconds(), boolToInt(ep.Intervened),
		ep.Compliance, ep.RecordedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert episode for agent %s: %w", ep.AgentID, err)
	}
	return nil
}

func (s *SQLiteStore) ListSince(ctx context.Context, agentID string, since time.Time) ([]*contracts.EpisodeRecord, error) {
	query := `
        SELECT id, agent_id, skill_name, source, type, sandboxed, duration_ms, intervened, compliance, recorded_at
        FROM episodes
        WHERE agent_id = ? AND recorded_at >= ?
        ORDER BY recorded_at ASC
    `
	rows, err := s.db.QueryContext(ctx, query, agentID, since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("query episodes for agent %s: %w", agentID, err)
	}
	defer func() { _ = rows.Close() }()

	var eps []*contracts.EpisodeRecord
	for rows.Next() {
		var ep contracts.EpisodeRecord
		var source, epType, recordedAt string
		var sandboxed, intervened int
		var durationMs int64
		if err := rows.Scan(&ep.ID, &ep.AgentID, &ep.SkillName, &source, &epType,
			&sandboxed, &durationMs, &intervened, &ep.Compliance, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		ep.Source = contracts.TriggerSource(source)
		ep.Type = contracts.EpisodeType(epType)
		ep.Sandboxed = sandboxed != 0
		ep.Intervened = intervened != 0
		ep.Duration = time.Duration(durationMs) * time.Millisecond
		if ep.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt); err != nil {
			return nil, fmt.Errorf("parse episode timestamp: %w", err)
		}
		eps = append(eps, &ep)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return eps, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
