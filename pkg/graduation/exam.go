package graduation

import (
	"context"
	"fmt"

	"github.com/loopwork-ai/governor/pkg/audit"
	"github.com/loopwork-ai/governor/pkg/contracts"
	"github.com/loopwork-ai/governor/pkg/registry"
	"github.com/loopwork-ai/governor/pkg/sandbox"
)

// SkillResolver looks up the registered exam skill for a target band.
// Implemented by registry.Service.
type SkillResolver interface {
	Get(ctx context.Context, name string) (*registry.Skill, error)
}

// ExamRunner executes the exam in isolation. Implemented by sandbox.Pool.
type ExamRunner interface {
	Execute(ctx context.Context, req *sandbox.ExecRequest) (*contracts.SandboxExecutionResult, error)
}

// examSkillNames maps each target band to its registered exam skill.
var examSkillNames = map[contracts.Maturity]string{
	contracts.MaturityIntern:     "governor.exam-intern",
	contracts.MaturitySupervised: "governor.exam-supervised",
	contracts.MaturityAutonomous: "governor.exam-autonomous",
}

// RunGraduationExam executes the target band's exam skill in the sandbox.
// The run emits an EXAM episode like any other sandboxed execution, so a
// failed exam also counts against the agent's intervention rate.
func (s *Service) RunGraduationExam(ctx context.Context, agentID, workspaceID string, target contracts.Maturity) (*contracts.ExamResult, error) {
	if s.skills == nil || s.exams == nil {
		return nil, fmt.Errorf("graduation: exam path is not configured")
	}

	agent, err := s.agents.Get(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("graduation: %w", err)
	}

	next, ok := agent.Maturity.Next()
	if !ok {
		return nil, fmt.Errorf("graduation: agent %s: %w", agentID, ErrAlreadyAutonomous)
	}
	if target != next {
		return nil, fmt.Errorf("graduation: agent %s is %s, requested exam for %s: %w",
			agentID, agent.Maturity, target, ErrWrongTarget)
	}

	skillName, ok := examSkillNames[target]
	if !ok {
		return nil, fmt.Errorf("graduation: no exam defined for target %s", target)
	}
	skill, err := s.skills.Get(ctx, skillName)
	if err != nil {
		return nil, fmt.Errorf("graduation: resolve exam skill %s: %w", skillName, err)
	}

	result, err := s.exams.Execute(ctx, &sandbox.ExecRequest{
		AgentID: agentID,
		Skill:   skill,
		Input:   []byte(workspaceID),
		Source:  contracts.TriggerManual,
		Type:    contracts.EpisodeTypeExam,
	})
	if err != nil {
		return nil, fmt.Errorf("graduation: run exam: %w", err)
	}

	exam := &contracts.ExamResult{
		AgentID:     agentID,
		WorkspaceID: workspaceID,
		Target:      target,
		Passed:      result.Success && result.Compliant,
		Score:       result.Score,
		Violations:  result.Violations,
		Duration:    result.Duration,
		RanAt:       s.clock().UTC(),
	}

	s.recordAuditExam(ctx, agentID, exam)
	return exam, nil
}

func (s *Service) recordAuditExam(ctx context.Context, agentID string, exam *contracts.ExamResult) {
	if s.auditLog == nil {
		return
	}
	err := s.auditLog.Record(ctx, audit.EventExecution, agentID, "graduation_exam", string(exam.Target), map[string]any{
		"workspace_id": exam.WorkspaceID,
		"passed":       exam.Passed,
		"score":        exam.Score,
	})
	if err != nil {
		s.logger.Error("audit record failed", "agent_id", agentID, "action", "graduation_exam", "error", err)
	}
}
