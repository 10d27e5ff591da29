package trigger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loopwork-ai/governor/pkg/contracts"
	"github.com/loopwork-ai/governor/pkg/registry"
	"github.com/loopwork-ai/governor/pkg/sandbox"
)

// SkillResolver looks up a registered skill by name.
type SkillResolver interface {
	Get(ctx context.Context, name string) (*registry.Skill, error)
}

// ExecutionPool accepts sandboxed execution requests.
type ExecutionPool interface {
	Submit(ctx context.Context, req *sandbox.ExecRequest) (*sandbox.Handle, error)
}

// Launcher hands approved triggers to the sandbox. The pool records an
// episode for every run it executes, so routing approved work through the
// launcher is what keeps graduation scoring fed.
type Launcher struct {
	skills SkillResolver
	pool   ExecutionPool
	logger *slog.Logger
}

// NewLauncher wires skill resolution to the execution pool.
func NewLauncher(skills SkillResolver, pool ExecutionPool, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{skills: skills, pool: pool, logger: logger}
}

// Launch resolves the skill named in the request context and submits it to
// the pool. A request that names no skill has nothing to run; that returns
// a nil handle, not an error.
func (l *Launcher) Launch(ctx context.Context, agentID string, source contracts.TriggerSource, epType contracts.EpisodeType, reqContext map[string]any) (*sandbox.Handle, error) {
	skillName, _ := reqContext["skill"].(string)
	if skillName == "" {
		return nil, nil
	}

	skill, err := l.skills.Get(ctx, skillName)
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", skillName, err)
	}

	var input []byte
	if s, ok := reqContext["input"].(string); ok {
		input = []byte(s)
	}

	h, err := l.pool.Submit(ctx, &sandbox.ExecRequest{
		AgentID: agentID,
		Skill:   skill,
		Input:   input,
		Source:  source,
		Type:    epType,
	})
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", skillName, err)
	}
	return h, nil
}

// OnReady adapts the launcher for the retry queue: a resumed supervision
// request executes under its freshly opened monitoring session.
func (l *Launcher) OnReady() ReadyFunc {
	return func(ctx context.Context, p *PendingSupervision, sessionID string) {
		if _, err := l.Launch(ctx, p.AgentID, p.Source, contracts.EpisodeTypeSupervision, p.Context); err != nil {
			l.logger.Error("resumed supervision launch failed",
				"agent_id", p.AgentID, "session_id", sessionID, "error", err)
		}
	}
}
