package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loopwork-ai/governor/pkg/contracts"
	"github.com/loopwork-ai/governor/pkg/episodes"
	"github.com/loopwork-ai/governor/pkg/registry"
)

const (
	// HardTimeout is the wall-clock ceiling for one execution. Runs past
	// it are terminated and reported as timeout failures.
	HardTimeout = 5 * time.Minute

	// DefaultWorkers bounds concurrent executions.
	DefaultWorkers = 4

	defaultQueueDepth = 64
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("sandbox: pool closed")

// ExecRequest is one unit of sandboxed work.
type ExecRequest struct {
	AgentID string
	Skill   *registry.Skill
	Input   []byte
	Source  contracts.TriggerSource
	Type    contracts.EpisodeType
}

// Handle observes one submitted execution.
type Handle struct {
	done   chan struct{}
	result *contracts.SandboxExecutionResult
}

// Wait blocks until the execution completes or ctx expires. The result is
// owned by the handle and must not be mutated.
func (h *Handle) Wait(ctx context.Context) (*contracts.SandboxExecutionResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return h.result, nil
	}
}

type task struct {
	ctx    context.Context
	req    *ExecRequest
	handle *Handle
}

// Pool runs executions on a fixed set of workers. Every completed or
// failed run emits an episode record; that emission is a hard side effect,
// not telemetry.
type Pool struct {
	runner   Runner
	episodes episodes.Recorder
	logger   *slog.Logger
	clock    func() time.Time
	timeout  time.Duration

	tasks   chan *task
	stopped chan struct{}

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithLogger injects a structured logger.
func WithLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) PoolOption {
	return func(p *Pool) { p.clock = clock }
}

// WithTimeout lowers the per-run deadline. Values above HardTimeout are
// clamped to it.
func WithTimeout(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 && d < HardTimeout {
			p.timeout = d
		}
	}
}

// NewPool starts workers executions on runner. recorder is required: runs
// without episode emission would silently break graduation scoring.
func NewPool(runner Runner, recorder episodes.Recorder, workers int, opts ...PoolOption) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	p := &Pool{
		runner:   runner,
		episodes: recorder,
		logger:   slog.Default(),
		clock:    time.Now,
		timeout:  HardTimeout,
		tasks:    make(chan *task, defaultQueueDepth),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Submit queues one execution and returns its handle.
func (p *Pool) Submit(ctx context.Context, req *ExecRequest) (*Handle, error) {
	if req == nil || req.Skill == nil {
		return nil, errors.New("sandbox: nil request or skill")
	}

	t := &task{
		ctx:    ctx,
		req:    req,
		handle: &Handle{done: make(chan struct{})},
	}
	select {
	case <-p.stopped:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case p.tasks <- t:
		return t.handle, nil
	}
}

// Execute submits and waits, for callers with nothing to overlap.
func (p *Pool) Execute(ctx context.Context, req *ExecRequest) (*contracts.SandboxExecutionResult, error) {
	h, err := p.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	return h.Wait(ctx)
}

// Close stops the workers and drains the queue. Tasks that never ran are
// completed with a failure result so their handles do not block forever;
// no episode is emitted for a run that never started.
func (p *Pool) Close() {
	p.stopOnce.Do(func() { close(p.stopped) })
	p.wg.Wait()

	for {
		select {
		case t := <-p.tasks:
			t.handle.result = &contracts.SandboxExecutionResult{
				Success:    false,
				Compliant:  false,
				Violations: []string{contracts.SandboxViolationAborted},
			}
			close(t.handle.done)
		default:
			return
		}
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		// Stop takes priority over queued work: once Close is under way,
		// remaining tasks are drained there, not executed here.
		select {
		case <-p.stopped:
			return
		default:
		}
		select {
		case <-p.stopped:
			return
		case t := <-p.tasks:
			p.execute(t)
		}
	}
}

func (p *Pool) execute(t *task) {
	req := t.req
	start := p.clock()

	runCtx, cancel := context.WithTimeout(t.ctx, p.timeout)
	output, err := p.runner.Run(runCtx, req.Skill, req.Input)
	deadlineHit := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	cancel()

	duration := p.clock().Sub(start)
	result := p.buildResult(output, err, deadlineHit, duration)

	if !result.Success {
		p.logger.Warn("sandboxed execution failed",
			"agent_id", req.AgentID, "skill", req.Skill.Name,
			"violations", result.Violations, "duration", duration)
	}

	p.emitEpisode(req, result)

	t.handle.result = result
	close(t.handle.done)
}

// buildResult maps the runner outcome to the immutable execution result.
// Partial output from a violated run is discarded.
func (p *Pool) buildResult(output []byte, err error, deadlineHit bool, duration time.Duration) *contracts.SandboxExecutionResult {
	if err == nil {
		return &contracts.SandboxExecutionResult{
			Success:   true,
			Score:     100,
			Compliant: true,
			Output:    output,
			Duration:  duration,
		}
	}

	violation := contracts.SandboxViolationTrap
	var limitErr *LimitError
	switch {
	case errors.As(err, &limitErr):
		violation = limitErr.Code
	case deadlineHit:
		violation = contracts.SandboxViolationTimeout
	}

	return &contracts.SandboxExecutionResult{
		Success:    false,
		Score:      0,
		Compliant:  false,
		Violations: []string{violation},
		Duration:   duration,
	}
}

// emitEpisode records the run for graduation scoring. The submission
// context may already be dead, so the write uses its own context.
func (p *Pool) emitEpisode(req *ExecRequest, result *contracts.SandboxExecutionResult) {
	epType := req.Type
	if epType == "" {
		epType = contracts.EpisodeTypeExecution
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ep := &contracts.EpisodeRecord{
		AgentID:    req.AgentID,
		SkillName:  req.Skill.Name,
		Source:     req.Source,
		Type:       epType,
		Sandboxed:  true,
		Duration:   result.Duration,
		Intervened: !result.Success,
		Compliance: result.Score / 100,
	}
	if err := p.episodes.Record(ctx, ep); err != nil {
		p.logger.Error("episode record failed",
			"agent_id", req.AgentID, "skill", req.Skill.Name, "error", err)
	}
}
