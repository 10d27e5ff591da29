package graduation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopwork-ai/governor/pkg/contracts"
	"github.com/loopwork-ai/governor/pkg/episodes"
	"github.com/loopwork-ai/governor/pkg/registry"
	"github.com/loopwork-ai/governor/pkg/sandbox"
	"github.com/loopwork-ai/governor/pkg/store"
)

type fakeSkills struct {
	skills map[string]*registry.Skill
}

func (f *fakeSkills) Get(ctx context.Context, name string) (*registry.Skill, error) {
	skill, ok := f.skills[name]
	if !ok {
		return nil, registry.ErrSkillNotFound
	}
	return skill, nil
}

func examFixture(t *testing.T, runner sandbox.Runner) (*Service, *episodes.MemoryStore) {
	t.Helper()
	agents := store.NewMemoryAgentStore()
	seedAgent(t, agents, contracts.MaturityStudent, 0.4)

	eps := episodes.NewMemoryStore()
	pool := sandbox.NewPool(runner, eps, 1)
	t.Cleanup(pool.Close)

	skills := &fakeSkills{skills: map[string]*registry.Skill{
		"governor.exam-intern": {
			Name: "governor.exam-intern", Version: "1.0.0", Entry: "main",
			ContentHash: "abc", Status: registry.StatusActive,
		},
	}}
	return NewService(agents, eps, WithExams(skills, pool)), eps
}

func TestRunGraduationExamPasses(t *testing.T) {
	svc, eps := examFixture(t, sandbox.NewInProcessRunner(nil))

	exam, err := svc.RunGraduationExam(context.Background(), "a1", "ws-1", contracts.MaturityIntern)
	require.NoError(t, err)

	assert.True(t, exam.Passed)
	assert.Equal(t, 100.0, exam.Score)
	assert.Equal(t, "ws-1", exam.WorkspaceID)

	records, err := eps.ListSince(context.Background(), "a1", time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, contracts.EpisodeTypeExam, records[0].Type)
	assert.True(t, records[0].Sandboxed)
}

func TestRunGraduationExamFailureIsRecorded(t *testing.T) {
	runner := sandbox.NewInProcessRunner(func(ctx context.Context, skill *registry.Skill, input []byte) ([]byte, error) {
		return nil, &sandbox.LimitError{Code: contracts.SandboxViolationTimeout, Message: "too slow"}
	})
	svc, eps := examFixture(t, runner)

	exam, err := svc.RunGraduationExam(context.Background(), "a1", "ws-1", contracts.MaturityIntern)
	require.NoError(t, err)

	assert.False(t, exam.Passed)
	assert.Zero(t, exam.Score)
	assert.Equal(t, []string{contracts.SandboxViolationTimeout}, exam.Violations)

	records, err := eps.ListSince(context.Background(), "a1", time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Intervened, "a failed exam counts against intervention rate")
}

func TestRunGraduationExamRejectsWrongTarget(t *testing.T) {
	svc, _ := examFixture(t, sandbox.NewInProcessRunner(nil))

	_, err := svc.RunGraduationExam(context.Background(), "a1", "ws-1", contracts.MaturityAutonomous)
	assert.ErrorIs(t, err, ErrWrongTarget)
}

func TestRunGraduationExamWithoutConfiguration(t *testing.T) {
	svc := NewService(store.NewMemoryAgentStore(), episodes.NewMemoryStore())

	_, err := svc.RunGraduationExam(context.Background(), "a1", "ws-1", contracts.MaturityIntern)
	assert.Error(t, err)
}
