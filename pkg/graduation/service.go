// Package graduation turns episode history into promotion decisions.
//
// Readiness is assessed against fixed per-transition gates plus a weighted
// score (40% episode coverage, 30% inverse intervention rate, 30%
// compliance). Promotion advances exactly one band and is the only path
// that mutates agent maturity.
package graduation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loopwork-ai/governor/pkg/audit"
	"github.com/loopwork-ai/governor/pkg/contracts"
	"github.com/loopwork-ai/governor/pkg/episodes"
	"github.com/loopwork-ai/governor/pkg/store"
)

// ReadyScoreThreshold is the minimum weighted score for promotion. The
// gates must additionally each be satisfied; a high score alone is not
// enough.
const ReadyScoreThreshold = 70.0

var (
	// ErrNotReady is returned by Promote when the readiness assessment
	// fails.
	ErrNotReady = errors.New("agent is not ready for promotion")
	// ErrAlreadyAutonomous is returned for agents with no band above them.
	ErrAlreadyAutonomous = errors.New("agent is already autonomous")
	// ErrWrongTarget is returned when the requested target is not the
	// agent's next band. Graduation never skips bands.
	ErrWrongTarget = errors.New("target is not the next maturity band")
)

// transitionGates holds the fixed thresholds per starting band.
var transitionGates = map[contracts.Maturity]contracts.TransitionGate{
	contracts.MaturityStudent: {
		From: contracts.MaturityStudent, To: contracts.MaturityIntern,
		MinEpisodes: 10, MaxIntervention: 0.50, MinCompliance: 0.70,
	},
	contracts.MaturityIntern: {
		From: contracts.MaturityIntern, To: contracts.MaturitySupervised,
		MinEpisodes: 25, MaxIntervention: 0.20, MinCompliance: 0.85,
	},
	contracts.MaturitySupervised: {
		From: contracts.MaturitySupervised, To: contracts.MaturityAutonomous,
		MinEpisodes: 50, MaxIntervention: 0.00, MinCompliance: 0.95,
	},
}

// bandFloor is the lowest confidence score consistent with each band.
var bandFloor = map[contracts.Maturity]float64{
	contracts.MaturityIntern:     0.5,
	contracts.MaturitySupervised: 0.7,
	contracts.MaturityAutonomous: 0.9,
}

// CacheInvalidator drops cached permission decisions after promotion.
// Implemented by governance.Service.
type CacheInvalidator interface {
	InvalidateAgent(ctx context.Context, agentID string)
}

// Service assesses readiness and performs promotions.
type Service struct {
	agents      store.AgentStore
	history     episodes.Reader
	skills      SkillResolver
	exams       ExamRunner
	invalidator CacheInvalidator
	auditLog    audit.Logger
	logger      *slog.Logger
	clock       func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithExams wires the sandboxed graduation exam path.
func WithExams(skills SkillResolver, exams ExamRunner) ServiceOption {
	return func(s *Service) {
		s.skills = skills
		s.exams = exams
	}
}

// WithInvalidator drops cached decisions on promotion.
func WithInvalidator(inv CacheInvalidator) ServiceOption {
	return func(s *Service) { s.invalidator = inv }
}

// WithAudit records promotions and exams to the audit chain.
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

// NewService creates a graduation service over agent state and episode
// history.
func NewService(agents store.AgentStore, history episodes.Reader, opts ...ServiceOption) *Service {
	s := &Service{
		agents:  agents,
		history: history,
		logger:  slog.Default(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Readiness assesses one agent against the gate for target. target must be
// the agent's next band.
func (s *Service) Readiness(ctx context.Context, agentID string, target contracts.Maturity) (*contracts.GraduationReadiness, error) {
	agent, err := s.agents.Get(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("graduation: %w", err)
	}

	next, ok := agent.Maturity.Next()
	if !ok {
		return nil, fmt.Errorf("graduation: agent %s: %w", agentID, ErrAlreadyAutonomous)
	}
	if target != next {
		return nil, fmt.Errorf("graduation: agent %s is %s, requested %s: %w",
			agentID, agent.Maturity, target, ErrWrongTarget)
	}

	history, err := s.history.ListSince(ctx, agentID, agent.BandStartedAt)
	if err != nil {
		return nil, fmt.Errorf("graduation: episode history: %w", err)
	}

	return s.assess(agent, history), nil
}

// assess computes the readiness record from current-band episodes.
func (s *Service) assess(agent *contracts.Agent, history []*contracts.EpisodeRecord) *contracts.GraduationReadiness {
	gate := transitionGates[agent.Maturity]

	count := len(history)
	intervened := 0
	complianceSum := 0.0
	for _, ep := range history {
		if ep.Intervened {
			intervened++
		}
		complianceSum += ep.Compliance
	}

	rate := 0.0
	compliance := 0.0
	if count > 0 {
		rate = float64(intervened) / float64(count)
		compliance = complianceSum / float64(count)
	}

	coverage := float64(count) / float64(gate.MinEpisodes)
	if coverage > 1 {
		coverage = 1
	}
	score := coverage*40 + (1-rate)*30 + compliance*30

	var gaps []contracts.ReadinessGap
	if count < gate.MinEpisodes {
		gaps = append(gaps, contracts.ReadinessGap{
			Threshold: "episodes",
			Required:  float64(gate.MinEpisodes),
			Actual:    float64(count),
			Detail:    fmt.Sprintf("needs %d more completed episodes", gate.MinEpisodes-count),
		})
	}
	if rate > gate.MaxIntervention {
		gaps = append(gaps, contracts.ReadinessGap{
			Threshold: "intervention_rate",
			Required:  gate.MaxIntervention,
			Actual:    rate,
			Detail:    fmt.Sprintf("intervention rate %.0f%% exceeds the %.0f%% ceiling", rate*100, gate.MaxIntervention*100),
		})
	}
	if compliance < gate.MinCompliance {
		gaps = append(gaps, contracts.ReadinessGap{
			Threshold: "compliance",
			Required:  gate.MinCompliance,
			Actual:    compliance,
			Detail:    fmt.Sprintf("compliance %.2f is below the %.2f floor", compliance, gate.MinCompliance),
		})
	}

	ready := score >= ReadyScoreThreshold && len(gaps) == 0

	return &contracts.GraduationReadiness{
		AgentID:          agent.ID,
		From:             gate.From,
		To:               gate.To,
		Score:            score,
		Ready:            ready,
		Gaps:             gaps,
		Recommendation:   recommendation(gate, ready, score, gaps),
		EpisodeCount:     count,
		InterventionRate: rate,
		ComplianceScore:  compliance,
		AssessedAt:       s.clock().UTC(),
	}
}

func recommendation(gate contracts.TransitionGate, ready bool, score float64, gaps []contracts.ReadinessGap) string {
	if ready {
		return fmt.Sprintf("promote to %s", gate.To)
	}
	if len(gaps) == 0 {
		return fmt.Sprintf("score %.0f is below the %.0f promotion threshold", score, ReadyScoreThreshold)
	}
	details := make([]string, 0, len(gaps))
	for _, g := range gaps {
		details = append(details, g.Detail)
	}
	return strings.Join(details, "; ")
}

// Promote advances the agent exactly one band after a passing readiness
// assessment, resets the band clock and invalidates cached decisions.
func (s *Service) Promote(ctx context.Context, agentID string) (*contracts.Agent, error) {
	agent, err := s.agents.Get(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("graduation: %w", err)
	}

	next, ok := agent.Maturity.Next()
	if !ok {
		return nil, fmt.Errorf("graduation: agent %s: %w", agentID, ErrAlreadyAutonomous)
	}

	readiness, err := s.Readiness(ctx, agentID, next)
	if err != nil {
		return nil, err
	}
	if !readiness.Ready {
		return nil, fmt.Errorf("graduation: agent %s: %s: %w", agentID, readiness.Recommendation, ErrNotReady)
	}

	now := s.clock().UTC()
	from := agent.Maturity
	agent.Maturity = next
	agent.BandStartedAt = now
	agent.UpdatedAt = now
	if floor := bandFloor[next]; agent.Confidence < floor {
		agent.Confidence = floor
	}

	if err := s.agents.Update(ctx, agent); err != nil {
		return nil, fmt.Errorf("graduation: persist promotion: %w", err)
	}

	if s.invalidator != nil {
		s.invalidator.InvalidateAgent(ctx, agentID)
	}

	s.recordAudit(ctx, agentID, "agent_promoted", string(next), map[string]any{
		"from":  string(from),
		"to":    string(next),
		"score": readiness.Score,
	})

	s.logger.Info("agent promoted",
		"agent_id", agentID, "from", from, "to", next, "score", readiness.Score)
	return agent, nil
}

func (s *Service) recordAudit(ctx context.Context, agentID, action, resource string, metadata map[string]any) {
	if s.auditLog == nil {
		return
	}
	if err := s.auditLog.Record(ctx, audit.EventPromotion, agentID, action, resource, metadata); err != nil {
		s.logger.Error("audit record failed", "agent_id", agentID, "action", action, "error", err)
	}
}
