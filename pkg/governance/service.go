// Package governance decides whether an agent may perform an action.
//
// The decision path is cache-then-store: a cache hit answers in-memory
// with no I/O; a miss reads persisted agent state and writes the decision
// back. Cache backend failures degrade to the store (fail open) — a broken
// cache must never silently deny.
package governance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loopwork-ai/governor/pkg/classify"
	"github.com/loopwork-ai/governor/pkg/contracts"
	"github.com/loopwork-ai/governor/pkg/permcache"
	"github.com/loopwork-ai/governor/pkg/store"
)

// ErrAgentNotFound is surfaced for unknown agents; never defaulted.
var ErrAgentNotFound = store.ErrAgentNotFound

// DecisionMetrics receives hot-path measurements. Implemented by
// observability.Provider; nil disables recording.
type DecisionMetrics interface {
	RecordDecision(ctx context.Context, allowed, cacheHit bool, elapsed time.Duration)
}

// Service combines the classifier with cached/persisted agent state.
type Service struct {
	cache   permcache.Cache
	agents  store.AgentStore
	logger  *slog.Logger
	metrics DecisionMetrics
	clock   func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger injects a structured logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithMetrics injects decision metrics recording.
func WithMetrics(m DecisionMetrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) ServiceOption {
	return func(s *Service) { s.clock = clock }
}

// NewService creates a governance service. Both cache and agent store are
// required; there is no global singleton — each tenant owns its instance.
func NewService(cache permcache.Cache, agents store.AgentStore, opts ...ServiceOption) *Service {
	s := &Service{
		cache:  cache,
		agents: agents,
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CanPerform returns the permission decision for (agentID, actionID).
// Unknown agents return ErrAgentNotFound.
func (s *Service) CanPerform(ctx context.Context, agentID, actionID string) (*contracts.PermissionDecision, error) {
	start := s.clock()
	key := permcache.ActionKey(agentID, actionID)

	if d, ok := s.cacheGet(ctx, key); ok {
		s.record(ctx, d.Allowed, true, s.clock().Sub(start))
		return d, nil
	}

	complexity := classify.Classify(actionID)
	d, err := s.decide(ctx, agentID, complexity)
	if err != nil {
		return nil, err
	}

	s.cacheSet(ctx, key, d)
	s.record(ctx, d.Allowed, false, s.clock().Sub(start))
	return d, nil
}

// CanAccessDirectory returns the access decision for (agentID, path),
// cached in the directory namespace of the same store.
func (s *Service) CanAccessDirectory(ctx context.Context, agentID, path string) (*contracts.PermissionDecision, error) {
	start := s.clock()
	key := permcache.DirKey(agentID, path)

	if d, ok := s.cacheGet(ctx, key); ok {
		s.record(ctx, d.Allowed, true, s.clock().Sub(start))
		return d, nil
	}

	d, err := s.decide(ctx, agentID, classifyDirectory(path))
	if err != nil {
		return nil, err
	}

	s.cacheSet(ctx, key, d)
	s.record(ctx, d.Allowed, false, s.clock().Sub(start))
	return d, nil
}

// ResolveAgent reads current agent state (store-backed, no decision cache).
func (s *Service) ResolveAgent(ctx context.Context, agentID string) (*contracts.Agent, error) {
	a, err := s.agents.Get(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("resolve agent: %w", err)
	}
	return a, nil
}

// InvalidateAgent drops all cached decisions for an agent. Called after
// promotion so stale maturity never answers a permission check.
func (s *Service) InvalidateAgent(ctx context.Context, agentID string) {
	if err := s.cache.Invalidate(ctx, agentID); err != nil {
		s.logger.Warn("cache invalidation failed", "agent_id", agentID, "error", err)
	}
}

// decide builds the immutable decision from persisted agent state.
func (s *Service) decide(ctx context.Context, agentID string, complexity contracts.ComplexityLevel) (*contracts.PermissionDecision, error) {
	agent, err := s.agents.Get(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("governance: %w", err)
	}

	required := complexity.RequiredMaturity()
	allowed := agent.Maturity.AtLeast(required)

	// INTERN agents attempting elevated work are denied automation but
	// flagged for human approval rather than dropped.
	requiresApproval := agent.Maturity == contracts.MaturityIntern &&
		complexity >= contracts.ComplexityElevated

	d := &contracts.PermissionDecision{
		Allowed:               allowed,
		Reason:                decisionReason(agent.Maturity, required, allowed, requiresApproval),
		AgentMaturity:         agent.Maturity,
		ActionComplexity:      complexity,
		RequiredMaturity:      required,
		RequiresHumanApproval: requiresApproval,
		Confidence:            agent.Confidence,
		DecidedAt:             s.clock().UTC(),
	}
	return d, nil
}

func decisionReason(m, required contracts.Maturity, allowed, approval bool) string {
	switch {
	case allowed:
		return fmt.Sprintf("maturity %s meets required %s", m, required)
	case approval:
		return fmt.Sprintf("maturity %s below required %s; eligible for human approval", m, required)
	default:
		return fmt.Sprintf("maturity %s below required %s", m, required)
	}
}

// cacheGet treats backend errors as misses so permission checks keep
// working on persisted state alone.
func (s *Service) cacheGet(ctx context.Context, key string) (*contracts.PermissionDecision, bool) {
	d, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("decision cache degraded, reading persisted state", "key", key, "error", err)
		return nil, false
	}
	return d, ok
}

func (s *Service) cacheSet(ctx context.Context, key string, d *contracts.PermissionDecision) {
	if err := s.cache.Set(ctx, key, d); err != nil {
		s.logger.Warn("decision cache write failed", "key", key, "error", err)
	}
}

func (s *Service) record(ctx context.Context, allowed, cacheHit bool, elapsed time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordDecision(ctx, allowed, cacheHit, elapsed)
	}
}

// classifyDirectory maps a directory path to a complexity level. Paths that
// escape the workspace or touch system locations are critical; shared
// workspace paths are elevated; anything else is standard.
func classifyDirectory(path string) contracts.ComplexityLevel {
	clean := strings.ToLower(path)
	switch {
	case strings.Contains(clean, ".."),
		strings.HasPrefix(clean, "/etc"),
		strings.HasPrefix(clean, "/proc"),
		strings.HasPrefix(clean, "/sys"):
		return contracts.ComplexityCritical
	case strings.Contains(clean, "/shared/"):
		return contracts.ComplexityElevated
	default:
		return contracts.ComplexityStandard
	}
}
