package trigger

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StaticSupervisors is a SupervisorDirectory backed by a fixed set of user
// IDs with supervision coverage. Single-node deployments configure it from
// the environment; larger installs plug in a presence service instead.
type StaticSupervisors struct {
	mu      sync.RWMutex
	covered map[string]bool
}

// NewStaticSupervisors builds a directory from a comma-separated user list.
// Whitespace around entries is ignored; "*" covers every user.
func NewStaticSupervisors(userList string) *StaticSupervisors {
	covered := make(map[string]bool)
	for _, u := range strings.Split(userList, ",") {
		if u = strings.TrimSpace(u); u != "" {
			covered[u] = true
		}
	}
	return &StaticSupervisors{covered: covered}
}

// ShouldSupervise reports whether the user has supervision coverage.
func (s *StaticSupervisors) ShouldSupervise(ctx context.Context, userID string) (bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.covered["*"] || s.covered[userID], nil
}

// SetCoverage flips coverage for one user at runtime.
func (s *StaticSupervisors) SetCoverage(userID string, covered bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if covered {
		s.covered[userID] = true
	} else {
		delete(s.covered, userID)
	}
}

// MonitorSession is one live supervised run.
type MonitorSession struct {
	ID       string    `json:"id"`
	AgentID  string    `json:"agent_id"`
	UserID   string    `json:"user_id"`
	OpenedAt time.Time `json:"opened_at"`
}

// MemorySessionRegistry tracks open monitoring sessions in process memory.
type MemorySessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*MonitorSession
	clock    func() time.Time
}

// NewMemorySessionRegistry creates an empty registry.
func NewMemorySessionRegistry() *MemorySessionRegistry {
	return &MemorySessionRegistry{
		sessions: make(map[string]*MonitorSession),
		clock:    time.Now,
	}
}

// Open starts a monitoring session and returns its ID.
func (r *MemorySessionRegistry) Open(ctx context.Context, agentID, userID string) (string, error) {
	_ = ctx
	s := &MonitorSession{
		ID:       uuid.New().String(),
		AgentID:  agentID,
		UserID:   userID,
		OpenedAt: r.clock().UTC(),
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s.ID, nil
}

// Close ends a session. Unknown IDs are a no-op.
func (r *MemorySessionRegistry) Close(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}

// Active returns a snapshot of the open sessions.
func (r *MemorySessionRegistry) Active() []*MonitorSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*MonitorSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		copied := *s
		out = append(out, &copied)
	}
	return out
}
