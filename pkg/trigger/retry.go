package trigger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/loopwork-ai/governor/pkg/audit"
	"github.com/loopwork-ai/governor/pkg/contracts"
)

// Retry policy for supervision requests that found no supervisor.
// The cadence was left open by the product requirements; these values keep
// the queue responsive without hammering the availability check.
const (
	retryInitialInterval = 30 * time.Second
	retryMaxInterval     = 10 * time.Minute
	retryMaxAttempts     = 5

	// DefaultQueueDepth bounds the pending-supervision queue. When full,
	// the oldest entry is dropped with an audit record.
	DefaultQueueDepth = 256

	pollInterval = 5 * time.Second
)

// PendingSupervision is one queued request waiting for a supervisor.
type PendingSupervision struct {
	AgentID  string
	UserID   string
	ActionID string
	Source   contracts.TriggerSource
	Context  map[string]any

	attempts    int
	nextAttempt time.Time
	backoff     *backoff.ExponentialBackOff
}

// ReadyFunc is invoked when a queued request finally gets a supervisor.
// It receives the opened monitoring session.
type ReadyFunc func(ctx context.Context, p *PendingSupervision, sessionID string)

// RetryQueue retries queued supervision requests with exponential backoff.
type RetryQueue struct {
	supervisors SupervisorDirectory
	monitors    MonitorSessions
	auditLog    audit.Logger
	onReady     ReadyFunc
	logger      *slog.Logger
	depth       int
	clock       func() time.Time

	mu      sync.Mutex
	pending []*PendingSupervision

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRetryQueue creates a bounded retry queue. onReady may be nil; the
// session is then opened and only audited.
func NewRetryQueue(supervisors SupervisorDirectory, monitors MonitorSessions, auditLog audit.Logger, onReady ReadyFunc, logger *slog.Logger) *RetryQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryQueue{
		supervisors: supervisors,
		monitors:    monitors,
		auditLog:    auditLog,
		onReady:     onReady,
		logger:      logger,
		depth:       DefaultQueueDepth,
		clock:       time.Now,
		stop:        make(chan struct{}),
	}
}

// WithClock overrides the clock for deterministic testing.
func (q *RetryQueue) WithClock(clock func() time.Time) *RetryQueue {
	q.clock = clock
	return q
}

// Enqueue adds a request to the queue. When the queue is full the oldest
// entry is displaced and audited — the new request is still accepted.
// Returns false only for a nil request.
func (q *RetryQueue) Enqueue(ctx context.Context, p *PendingSupervision) bool {
	if p == nil {
		return false
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.Multiplier = 2
	p.backoff = b
	p.nextAttempt = q.clock().Add(b.NextBackOff())

	// Displace and append under one lock so the depth bound holds even
	// under concurrent enqueues; the audit write happens after.
	var dropped *PendingSupervision
	q.mu.Lock()
	if len(q.pending) >= q.depth {
		dropped = q.pending[0]
		q.pending = q.pending[1:]
	}
	q.pending = append(q.pending, p)
	q.mu.Unlock()

	if dropped != nil {
		q.recordAudit(ctx, dropped.AgentID, "supervision_dropped", string(dropped.Source), map[string]any{
			"action_id": dropped.ActionID,
			"reason":    "queue full",
		})
	}
	return true
}

// Len returns the number of queued requests.
func (q *RetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Run processes the queue until ctx is cancelled or Close is called.
func (q *RetryQueue) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		case <-ticker.C:
			q.Poll(ctx)
		}
	}
}

// Poll retries every due entry once. Exposed for deterministic tests.
func (q *RetryQueue) Poll(ctx context.Context) {
	now := q.clock()

	q.mu.Lock()
	due := make([]*PendingSupervision, 0, len(q.pending))
	rest := q.pending[:0]
	for _, p := range q.pending {
		if p.nextAttempt.After(now) {
			rest = append(rest, p)
			continue
		}
		due = append(due, p)
	}
	q.pending = rest
	q.mu.Unlock()

	for _, p := range due {
		q.retry(ctx, p)
	}
}

func (q *RetryQueue) retry(ctx context.Context, p *PendingSupervision) {
	p.attempts++

	available, err := q.supervisors.ShouldSupervise(ctx, p.UserID)
	if err != nil {
		q.logger.Warn("supervision retry availability check failed",
			"agent_id", p.AgentID, "attempt", p.attempts, "error", err)
		available = false
	}

	if available {
		sessionID, err := q.monitors.Open(ctx, p.AgentID, p.UserID)
		if err != nil {
			q.logger.Error("monitoring session open failed on retry",
				"agent_id", p.AgentID, "error", err)
			q.requeueOrExhaust(ctx, p)
			return
		}
		q.recordAudit(ctx, p.AgentID, "supervision_resumed", string(p.Source), map[string]any{
			"action_id":  p.ActionID,
			"session_id": sessionID,
			"attempts":   p.attempts,
		})
		if q.onReady != nil {
			q.onReady(ctx, p, sessionID)
		}
		return
	}

	q.requeueOrExhaust(ctx, p)
}

func (q *RetryQueue) requeueOrExhaust(ctx context.Context, p *PendingSupervision) {
	if p.attempts >= retryMaxAttempts {
		q.recordAudit(ctx, p.AgentID, "supervision_exhausted", string(p.Source), map[string]any{
			"action_id": p.ActionID,
			"attempts":  p.attempts,
		})
		return
	}

	p.nextAttempt = q.clock().Add(p.backoff.NextBackOff())
	q.mu.Lock()
	q.pending = append(q.pending, p)
	q.mu.Unlock()
}

// Close stops Run.
func (q *RetryQueue) Close() {
	q.stopOnce.Do(func() { close(q.stop) })
}

func (q *RetryQueue) recordAudit(ctx context.Context, agentID, action, resource string, metadata map[string]any) {
	if q.auditLog == nil {
		return
	}
	if err := q.auditLog.Record(ctx, audit.EventRouting, agentID, action, resource, metadata); err != nil {
		q.logger.Error("audit record failed", "agent_id", agentID, "action", action, "error", err)
	}
}
