package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
	_ "github.com/lib/pq"

	"github.com/loopwork-ai/governor/pkg/scanner"
)

// PostgresStore persists skills and the rejected-hash ledger in Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgresStore connects with a lib/pq DSN and applies the schema.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("registry: open postgres: %w", err)
	}
	s := NewPostgresStore(db)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS skills (
	name TEXT NOT NULL,
	version TEXT NOT NULL,
	skill_json JSONB NOT NULL,
	content_hash TEXT NOT NULL,
	status TEXT NOT NULL,
	registered_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (name, version)
);

CREATE TABLE IF NOT EXISTS rejected_hashes (
	content_hash TEXT PRIMARY KEY,
	violations_json JSONB NOT NULL,
	rejected_at TIMESTAMPTZ NOT NULL
);
`

// Init applies the schema.
func (s *PostgresStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, pgSchema); err != nil {
		return fmt.Errorf("registry: apply schema: %w", err)
	}
	return nil
}

// Put upserts one (name, version).
func (s *PostgresStore) Put(ctx context.Context, skill *Skill) error {
	if skill == nil {
		return errors.New("registry: nil skill")
	}
	skillJSON, err := json.Marshal(skill)
	if err != nil {
		return fmt.Errorf("registry: marshal skill: %w", err)
	}

	query := `
		INSERT INTO skills (name, version, skill_json, content_hash, status, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name, version) DO UPDATE
		SET skill_json = $3, content_hash = $4, status = $5, registered_at = $6
	`
	_, err = s.db.ExecContext(ctx, query,
		skill.Name, skill.Version, skillJSON, skill.ContentHash, string(skill.Status), skill.RegisteredAt)
	return err
}

// Get returns the highest semver version of a skill.
func (s *PostgresStore) Get(ctx context.Context, name string) (*Skill, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT version, skill_json FROM skills WHERE name = $1", name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	type versioned struct {
		v    *semver.Version
		body []byte
	}
	var all []versioned

	for rows.Next() {
		var verStr string
		var body []byte
		if err := rows.Scan(&verStr, &body); err != nil {
			return nil, err
		}
		v, err := semver.NewVersion(verStr)
		if err != nil {
			continue
		}
		all = append(all, versioned{v: v, body: body})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, ErrSkillNotFound
	}

	sort.Slice(all, func(i, j int) bool { return all[i].v.GreaterThan(all[j].v) })

	var skill Skill
	if err := json.Unmarshal(all[0].body, &skill); err != nil {
		return nil, fmt.Errorf("registry: decode skill: %w", err)
	}
	return &skill, nil
}

// GetVersion returns one exact (name, version).
func (s *PostgresStore) GetVersion(ctx context.Context, name, version string) (*Skill, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT skill_json FROM skills WHERE name = $1 AND version = $2", name, version).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSkillNotFound
	}
	if err != nil {
		return nil, err
	}

	var skill Skill
	if err := json.Unmarshal(body, &skill); err != nil {
		return nil, fmt.Errorf("registry: decode skill: %w", err)
	}
	return &skill, nil
}

// List returns the most recently registered version of every skill.
func (s *PostgresStore) List(ctx context.Context) ([]*Skill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (name) skill_json
		FROM skills
		ORDER BY name, registered_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var list []*Skill
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var skill Skill
		if err := json.Unmarshal(body, &skill); err != nil {
			return nil, fmt.Errorf("registry: decode skill: %w", err)
		}
		list = append(list, &skill)
	}
	return list, rows.Err()
}

// RecordRejection writes one content hash to the permanent rejection ledger.
func (s *PostgresStore) RecordRejection(ctx context.Context, contentHash string, violations []scanner.Violation) error {
	violationsJSON, err := json.Marshal(violations)
	if err != nil {
		return fmt.Errorf("registry: marshal violations: %w", err)
	}
	query := `
		INSERT INTO rejected_hashes (content_hash, violations_json, rejected_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (content_hash) DO NOTHING
	`
	_, err = s.db.ExecContext(ctx, query, contentHash, violationsJSON, time.Now().UTC())
	return err
}

// IsHashRejected reports whether a hash is on the rejection ledger.
func (s *PostgresStore) IsHashRejected(ctx context.Context, contentHash string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM rejected_hashes WHERE content_hash = $1)", contentHash).Scan(&exists)
	return exists, err
}
