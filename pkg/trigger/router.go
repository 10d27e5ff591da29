// Package trigger routes action requests to a terminal execution path.
//
// Each request is evaluated exactly once: the router consults governance
// state and produces one TriggerDecision (EXECUTION, SUPERVISION, PROPOSAL
// or TRAINING). There are no transitions between outcomes within a single
// decision.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/loopwork-ai/governor/pkg/audit"
	"github.com/loopwork-ai/governor/pkg/classify"
	"github.com/loopwork-ai/governor/pkg/contracts"
	"github.com/loopwork-ai/governor/pkg/governance"
)

// SupervisorDirectory answers whether a live supervisor is available for a
// user right now.
type SupervisorDirectory interface {
	ShouldSupervise(ctx context.Context, userID string) (bool, error)
}

// MonitorSessions opens real-time monitoring sessions for supervised runs.
type MonitorSessions interface {
	Open(ctx context.Context, agentID, userID string) (sessionID string, err error)
}

// Router is the trigger-interception state machine.
type Router struct {
	gov         *governance.Service
	supervisors SupervisorDirectory
	monitors    MonitorSessions
	queue       *RetryQueue
	auditLog    audit.Logger
	launcher    *Launcher
	logger      *slog.Logger
	clock       func() time.Time
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithLogger injects a structured logger.
func WithLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) RouterOption {
	return func(r *Router) { r.clock = clock }
}

// WithLauncher hands approved executions to the sandbox. Without it the
// router only decides; the caller owns execution.
func WithLauncher(l *Launcher) RouterOption {
	return func(r *Router) { r.launcher = l }
}

// NewRouter creates a trigger router. queue may be nil when supervision
// retry is handled elsewhere (tests); auditLog is required — every blocked
// path must leave a record.
func NewRouter(gov *governance.Service, supervisors SupervisorDirectory, monitors MonitorSessions, queue *RetryQueue, auditLog audit.Logger, opts ...RouterOption) *Router {
	r := &Router{
		gov:         gov,
		supervisors: supervisors,
		monitors:    monitors,
		queue:       queue,
		auditLog:    auditLog,
		logger:      slog.Default(),
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// InterceptTrigger evaluates one action request and returns its routing
// decision. Rules are applied in a fixed order; MANUAL triggers always
// execute, everything else is gated on agent maturity.
func (r *Router) InterceptTrigger(ctx context.Context, agentID string, source contracts.TriggerSource, reqContext map[string]any, userID string) (*contracts.TriggerDecision, error) {
	agent, err := r.gov.ResolveAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("intercept trigger: %w", err)
	}

	actionID, _ := reqContext["action_id"].(string)

	// Rule 1: a human pressed the button. Never block, but leave a trace
	// when the agent is operating above its tier.
	if source == contracts.TriggerManual {
		if actionID != "" {
			required := classify.Classify(actionID).RequiredMaturity()
			if !agent.Maturity.AtLeast(required) {
				r.logger.Warn("manual trigger below required maturity",
					"agent_id", agentID, "action_id", actionID,
					"maturity", agent.Maturity, "required", required)
			}
		}
		d := &contracts.TriggerDecision{
			Outcome: contracts.RouteExecution,
			Execute: true,
			Reason:  "manual trigger bypasses maturity gating",
		}
		r.dispatch(ctx, agentID, source, contracts.EpisodeTypeExecution, actionID, reqContext, d)
		return d, nil
	}

	switch agent.Maturity {
	case contracts.MaturityStudent:
		return r.block(ctx, agent, source, actionID, reqContext,
			contracts.RouteTraining, "student agents run in training mode only")

	case contracts.MaturityIntern:
		return r.block(ctx, agent, source, actionID, reqContext,
			contracts.RouteProposal, "intern agents propose; a human approves")

	case contracts.MaturitySupervised:
		return r.superviseOrQueue(ctx, agent, source, actionID, reqContext, userID)

	case contracts.MaturityAutonomous:
		d := &contracts.TriggerDecision{
			Outcome: contracts.RouteExecution,
			Execute: true,
			Reason:  "autonomous agents execute unattended",
		}
		r.dispatch(ctx, agentID, source, contracts.EpisodeTypeExecution, actionID, reqContext, d)
		return d, nil

	default:
		// Stores reject unknown maturities, so this is unreachable via
		// supported backends; refuse rather than guess.
		return nil, fmt.Errorf("intercept trigger: agent %s has unknown maturity %q", agentID, agent.Maturity)
	}
}

// block produces a non-executing decision with its blocked-trigger record
// and audit entry.
func (r *Router) block(ctx context.Context, agent *contracts.Agent, source contracts.TriggerSource, actionID string, reqContext map[string]any, outcome contracts.RouteOutcome, reason string) (*contracts.TriggerDecision, error) {
	blocked := &contracts.BlockedTrigger{
		ID:        uuid.New().String(),
		AgentID:   agent.ID,
		ActionID:  actionID,
		Source:    source,
		Maturity:  agent.Maturity,
		Outcome:   outcome,
		Reason:    reason,
		Context:   reqContext,
		BlockedAt: r.clock().UTC(),
	}

	auditAction := "blocked_trigger"
	if outcome == contracts.RouteProposal {
		auditAction = "proposal_created"
	}
	r.recordAudit(ctx, agent.ID, auditAction, string(source), map[string]any{
		"blocked_id": blocked.ID,
		"outcome":    string(outcome),
		"action_id":  actionID,
	})

	return &contracts.TriggerDecision{
		Outcome: outcome,
		Execute: false,
		Reason:  reason,
		Blocked: blocked,
	}, nil
}

// superviseOrQueue handles SUPERVISED agents: execute under a live monitor
// when a supervisor is available, otherwise queue for retry. Never
// auto-execute, never silently drop.
func (r *Router) superviseOrQueue(ctx context.Context, agent *contracts.Agent, source contracts.TriggerSource, actionID string, reqContext map[string]any, userID string) (*contracts.TriggerDecision, error) {
	available, err := r.supervisors.ShouldSupervise(ctx, userID)
	if err != nil {
		r.logger.Warn("supervisor availability check failed, queueing",
			"agent_id", agent.ID, "user_id", userID, "error", err)
		available = false
	}

	if available {
		sessionID, err := r.monitors.Open(ctx, agent.ID, userID)
		if err != nil {
			return nil, fmt.Errorf("open monitoring session: %w", err)
		}
		r.recordAudit(ctx, agent.ID, "supervised_execution", string(source), map[string]any{
			"session_id": sessionID,
			"action_id":  actionID,
		})
		d := &contracts.TriggerDecision{
			Outcome:   contracts.RouteSupervision,
			Execute:   true,
			Reason:    "supervisor available; executing under live monitoring",
			SessionID: sessionID,
		}
		r.dispatch(ctx, agent.ID, source, contracts.EpisodeTypeSupervision, actionID, reqContext, d)
		return d, nil
	}

	queued := false
	if r.queue != nil {
		queued = r.queue.Enqueue(ctx, &PendingSupervision{
			AgentID:  agent.ID,
			UserID:   userID,
			ActionID: actionID,
			Source:   source,
			Context:  reqContext,
		})
	}

	r.recordAudit(ctx, agent.ID, "supervision_queued", string(source), map[string]any{
		"action_id": actionID,
		"queued":    queued,
	})

	return &contracts.TriggerDecision{
		Outcome: contracts.RouteSupervision,
		Execute: false,
		Reason:  "no supervisor available; queued for retry",
		Queued:  queued,
	}, nil
}

// dispatch hands an approved decision to the sandbox. Only runs when a
// launcher is wired and the request names a skill; failure to dispatch
// never retracts the decision, it is audited instead.
func (r *Router) dispatch(ctx context.Context, agentID string, source contracts.TriggerSource, epType contracts.EpisodeType, actionID string, reqContext map[string]any, d *contracts.TriggerDecision) {
	if r.launcher == nil {
		return
	}

	h, err := r.launcher.Launch(ctx, agentID, source, epType, reqContext)
	if err != nil {
		r.logger.Error("execution dispatch failed",
			"agent_id", agentID, "action_id", actionID, "error", err)
		r.recordAudit(ctx, agentID, "execution_dispatch_failed", string(source), map[string]any{
			"action_id": actionID,
			"error":     err.Error(),
		})
		return
	}
	if h == nil {
		return
	}

	d.Dispatched = true
	skillName, _ := reqContext["skill"].(string)
	r.recordAudit(ctx, agentID, "execution_dispatched", string(source), map[string]any{
		"action_id": actionID,
		"skill":     skillName,
	})
}

func (r *Router) recordAudit(ctx context.Context, agentID, action, resource string, metadata map[string]any) {
	if r.auditLog == nil {
		return
	}
	if err := r.auditLog.Record(ctx, audit.EventRouting, agentID, action, resource, metadata); err != nil {
		r.logger.Error("audit record failed", "agent_id", agentID, "action", action, "error", err)
	}
}
