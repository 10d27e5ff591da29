package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopwork-ai/governor/pkg/contracts"
	"github.com/loopwork-ai/governor/pkg/episodes"
	"github.com/loopwork-ai/governor/pkg/registry"
)

func testSkill() *registry.Skill {
	return &registry.Skill{
		Name: "acme.summarize", Version: "1.0.0", Entry: "main",
		ContentHash: "abc", Status: registry.StatusActive,
	}
}

func TestPoolSuccessfulRun(t *testing.T) {
	eps := episodes.NewMemoryStore()
	pool := NewPool(NewInProcessRunner(nil), eps, 2)
	t.Cleanup(pool.Close)

	result, err := pool.Execute(context.Background(), &ExecRequest{
		AgentID: "a1",
		Skill:   testSkill(),
		Input:   []byte("hello"),
		Source:  contracts.TriggerWorkflowEngine,
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, float64(100), result.Score)
	assert.True(t, result.Compliant)
	assert.Equal(t, []byte("echo: hello"), result.Output)

	records, err := eps.ListSince(context.Background(), "a1", time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Sandboxed)
	assert.False(t, records[0].Intervened)
	assert.Equal(t, 1.0, records[0].Compliance)
	assert.Equal(t, contracts.EpisodeTypeExecution, records[0].Type)
}

func TestPoolLimitViolationIsFailure(t *testing.T) {
	runner := NewInProcessRunner(func(ctx context.Context, skill *registry.Skill, input []byte) ([]byte, error) {
		return []byte("partial"), &LimitError{
			Code:    contracts.SandboxViolationMemory,
			Message: "memory limit exceeded",
		}
	})
	eps := episodes.NewMemoryStore()
	pool := NewPool(runner, eps, 1)
	t.Cleanup(pool.Close)

	result, err := pool.Execute(context.Background(), &ExecRequest{
		AgentID: "a1", Skill: testSkill(),
	})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Zero(t, result.Score)
	assert.Equal(t, []string{contracts.SandboxViolationMemory}, result.Violations)
	assert.Empty(t, result.Output, "partial output from a violated run is discarded")

	records, err := eps.ListSince(context.Background(), "a1", time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Intervened, "violations count against intervention rate")
}

func TestPoolTimeoutIsFailureNotSuccess(t *testing.T) {
	runner := NewInProcessRunner(func(ctx context.Context, skill *registry.Skill, input []byte) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	pool := NewPool(runner, episodes.NewMemoryStore(), 1, WithTimeout(30*time.Millisecond))
	t.Cleanup(pool.Close)

	result, err := pool.Execute(context.Background(), &ExecRequest{
		AgentID: "a1", Skill: testSkill(),
	})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, []string{contracts.SandboxViolationTimeout}, result.Violations)
}

func TestPoolTrapIsReported(t *testing.T) {
	runner := NewInProcessRunner(func(ctx context.Context, skill *registry.Skill, input []byte) ([]byte, error) {
		return nil, errors.New("unreachable executed")
	})
	pool := NewPool(runner, episodes.NewMemoryStore(), 1)
	t.Cleanup(pool.Close)

	result, err := pool.Execute(context.Background(), &ExecRequest{
		AgentID: "a1", Skill: testSkill(),
	})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, []string{contracts.SandboxViolationTrap}, result.Violations)
}

func TestPoolWaitHonorsContext(t *testing.T) {
	runner := NewInProcessRunner(func(ctx context.Context, skill *registry.Skill, input []byte) ([]byte, error) {
		time.Sleep(200 * time.Millisecond)
		return nil, nil
	})
	pool := NewPool(runner, episodes.NewMemoryStore(), 1)
	t.Cleanup(pool.Close)

	h, err := pool.Submit(context.Background(), &ExecRequest{AgentID: "a1", Skill: testSkill()})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = h.Wait(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolRejectsNilSkill(t *testing.T) {
	pool := NewPool(NewInProcessRunner(nil), episodes.NewMemoryStore(), 1)
	t.Cleanup(pool.Close)

	_, err := pool.Submit(context.Background(), &ExecRequest{AgentID: "a1"})
	assert.Error(t, err)
}

func TestPoolSubmitAfterClose(t *testing.T) {
	pool := NewPool(NewInProcessRunner(nil), episodes.NewMemoryStore(), 1)
	pool.Close()

	_, err := pool.Submit(context.Background(), &ExecRequest{AgentID: "a1", Skill: testSkill()})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolCloseCompletesQueuedHandles(t *testing.T) {
	started := make(chan struct{}, 1)
	var pool *Pool
	runner := NewInProcessRunner(func(ctx context.Context, skill *registry.Skill, input []byte) ([]byte, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-pool.stopped
		return []byte("done"), nil
	})
	pool = NewPool(runner, episodes.NewMemoryStore(), 1)

	running, err := pool.Submit(context.Background(), &ExecRequest{AgentID: "a1", Skill: testSkill()})
	require.NoError(t, err)
	queued, err := pool.Submit(context.Background(), &ExecRequest{AgentID: "a1", Skill: testSkill()})
	require.NoError(t, err)

	<-started
	pool.Close()

	result, err := running.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success, "the in-flight run finishes normally")

	result, err = queued.Wait(context.Background())
	require.NoError(t, err, "a queued handle must not block past Close")
	assert.False(t, result.Success)
	assert.Equal(t, []string{contracts.SandboxViolationAborted}, result.Violations)
}

func TestPoolConcurrentRuns(t *testing.T) {
	eps := episodes.NewMemoryStore()
	pool := NewPool(NewInProcessRunner(nil), eps, 4)
	t.Cleanup(pool.Close)

	handles := make([]*Handle, 0, 8)
	for i := 0; i < 8; i++ {
		h, err := pool.Submit(context.Background(), &ExecRequest{
			AgentID: "a1", Skill: testSkill(), Input: []byte("x"),
		})
		require.NoError(t, err)
		handles = append(handles, h)
	}

	for _, h := range handles {
		result, err := h.Wait(context.Background())
		require.NoError(t, err)
		assert.True(t, result.Success)
	}

	records, err := eps.ListSince(context.Background(), "a1", time.Time{})
	require.NoError(t, err)
	assert.Len(t, records, 8)
}
