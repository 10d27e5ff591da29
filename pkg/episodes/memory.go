package episodes

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loopwork-ai/governor/pkg/contracts"
)

// MemoryStore is an in-process episode store for tests and dev mode.
type MemoryStore struct {
	mu      sync.RWMutex
	byAgent map[string][]*contracts.EpisodeRecord
}

// NewMemoryStore creates an empty in-memory episode store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byAgent: make(map[string][]*contracts.EpisodeRecord)}
}

func (s *MemoryStore) Record(ctx context.Context, ep *contracts.EpisodeRecord) error {
	_ = ctx
	if ep.ID == "" {
		ep.ID = uuid.New().String()
	}
	if ep.RecordedAt.IsZero() {
		ep.RecordedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *ep
	s.byAgent[ep.AgentID] = append(s.byAgent[ep.AgentID], &copied)
	return nil
}

func (s *MemoryStore) ListSince(ctx context.Context, agentID string, since time.Time) ([]*contracts.EpisodeRecord, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*contracts.EpisodeRecord
	for _, ep := range s.byAgent[agentID] {
		if !ep.RecordedAt.Before(since) {
			copied := *ep
			out = append(out, &copied)
		}
	}
	return out, nil
}
