// Package registry is the source of truth for registered skills.
//
// Registration is gated by the security scanner: REJECTED content hashes
// are recorded permanently and can never be registered again, FLAGGED
// skills register quarantined (sandbox execution only), PASS registers
// active. A registration either fully succeeds or leaves no trace.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/loopwork-ai/governor/pkg/audit"
	"github.com/loopwork-ai/governor/pkg/scanner"
)

var (
	// ErrSkillNotFound is returned for unknown skill names or versions.
	ErrSkillNotFound = errors.New("skill not found")
	// ErrHashRejected marks content whose hash was rejected by a previous
	// scan. There is no retry-without-fix path.
	ErrHashRejected = errors.New("content hash permanently rejected")
)

// SkillStatus gates where a skill may run.
type SkillStatus string

const (
	// StatusActive skills are eligible for any approved execution path.
	StatusActive SkillStatus = "ACTIVE"
	// StatusQuarantined skills run in the sandbox only, never unattended.
	StatusQuarantined SkillStatus = "QUARANTINED"
)

// Manifest describes one skill version as submitted by its author.
type Manifest struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Entry        string   `json:"entry"`
	Description  string   `json:"description,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Skill is one registered (name, version) with its vetting outcome.
type Skill struct {
	Name         string      `json:"name"`
	Version      string      `json:"version"`
	Entry        string      `json:"entry"`
	Description  string      `json:"description,omitempty"`
	Capabilities []string    `json:"capabilities,omitempty"`
	ContentHash  string      `json:"content_hash"`
	Status       SkillStatus `json:"status"`
	RegisteredAt time.Time   `json:"registered_at"`
}

// RejectionError carries the violation list of a failed registration.
type RejectionError struct {
	ContentHash string
	Violations  []scanner.Violation
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("registration rejected: %d violation(s) for hash %s", len(e.Violations), e.ContentHash)
}

func (e *RejectionError) Unwrap() error { return ErrHashRejected }

// Store persists skill metadata and the rejected-hash ledger.
type Store interface {
	Put(ctx context.Context, skill *Skill) error
	// Get returns the highest semver version of a skill.
	Get(ctx context.Context, name string) (*Skill, error)
	GetVersion(ctx context.Context, name, version string) (*Skill, error)
	List(ctx context.Context) ([]*Skill, error)
	RecordRejection(ctx context.Context, contentHash string, violations []scanner.Violation) error
	IsHashRejected(ctx context.Context, contentHash string) (bool, error)
}

// BlobPutter stores skill bundles content-addressed by hash. Implemented
// by skillblob stores; nil skips bundle storage (metadata-only registries).
type BlobPutter interface {
	Put(ctx context.Context, contentHash string, data []byte) error
}

// Service validates, scans and registers skills.
type Service struct {
	store    Store
	scan     *scanner.Scanner
	blobs    BlobPutter
	auditLog audit.Logger
	logger   *slog.Logger
	clock    func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithBlobs stores accepted skill bundles content-addressed.
func WithBlobs(b BlobPutter) ServiceOption {
	return func(s *Service) { s.blobs = b }
}

// WithAudit records registration outcomes to the audit chain.
func WithAudit(l audit.Logger) ServiceOption {
	return func(s *Service) { s.auditLog = l }
}

// WithLogger injects a structured logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) ServiceOption {
	return func(s *Service) { s.clock = clock }
}

// NewService creates a registry service over a store and a scanner.
func NewService(store Store, scan *scanner.Scanner, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		scan:   scan,
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register validates the manifest, scans the code and persists the skill.
// Rejections record the content hash permanently; nothing else is written.
func (s *Service) Register(ctx context.Context, manifestJSON, code []byte) (*Skill, error) {
	if err := ValidateManifest(manifestJSON); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(manifestJSON, &m); err != nil {
		return nil, fmt.Errorf("registry: decode manifest: %w", err)
	}
	if _, err := semver.StrictNewVersion(m.Version); err != nil {
		return nil, fmt.Errorf("registry: version %q: %w", m.Version, err)
	}

	hash := scanner.ContentHash(code)
	rejected, err := s.store.IsHashRejected(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("registry: rejection lookup: %w", err)
	}
	if rejected {
		return nil, &RejectionError{ContentHash: hash}
	}

	result, err := s.scan.Scan(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("registry: scan: %w", err)
	}

	if result.Verdict == scanner.VerdictRejected {
		if err := s.store.RecordRejection(ctx, hash, result.Violations); err != nil {
			return nil, fmt.Errorf("registry: record rejection: %w", err)
		}
		s.recordAudit(ctx, m.Name, "skill_rejected", hash, map[string]any{
			"version":    m.Version,
			"violations": len(result.Violations),
		})
		return nil, &RejectionError{ContentHash: hash, Violations: result.Violations}
	}

	status := StatusActive
	if result.Verdict == scanner.VerdictFlagged {
		status = StatusQuarantined
	}

	if s.blobs != nil {
		if err := s.blobs.Put(ctx, hash, code); err != nil {
			return nil, fmt.Errorf("registry: store bundle: %w", err)
		}
	}

	skill := &Skill{
		Name:         m.Name,
		Version:      m.Version,
		Entry:        m.Entry,
		Description:  m.Description,
		Capabilities: m.Capabilities,
		ContentHash:  hash,
		Status:       status,
		RegisteredAt: s.clock().UTC(),
	}
	if err := s.store.Put(ctx, skill); err != nil {
		return nil, fmt.Errorf("registry: persist skill: %w", err)
	}

	s.recordAudit(ctx, m.Name, "skill_registered", hash, map[string]any{
		"version": m.Version,
		"status":  string(status),
	})
	return skill, nil
}

// Get returns the highest registered version of a skill.
func (s *Service) Get(ctx context.Context, name string) (*Skill, error) {
	return s.store.Get(ctx, name)
}

// GetVersion returns one exact (name, version).
func (s *Service) GetVersion(ctx context.Context, name, version string) (*Skill, error) {
	return s.store.GetVersion(ctx, name, version)
}

// List returns the latest version of every registered skill.
func (s *Service) List(ctx context.Context) ([]*Skill, error) {
	return s.store.List(ctx)
}

func (s *Service) recordAudit(ctx context.Context, skillName, action, hash string, metadata map[string]any) {
	if s.auditLog == nil {
		return
	}
	metadata["content_hash"] = hash
	if err := s.auditLog.Record(ctx, audit.EventRegistration, "", action, skillName, metadata); err != nil {
		s.logger.Error("audit record failed", "skill", skillName, "action", action, "error", err)
	}
}
