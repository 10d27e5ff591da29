package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/loopwork-ai/governor/pkg/contracts"
)

// MemoryAgentStore is an in-process AgentStore for tests and single-binary
// development mode.
type MemoryAgentStore struct {
	mu     sync.RWMutex
	agents map[string]contracts.Agent
}

// NewMemoryAgentStore creates an empty in-memory store.
func NewMemoryAgentStore() *MemoryAgentStore {
	return &MemoryAgentStore{agents: make(map[string]contracts.Agent)}
}

func (s *MemoryAgentStore) Get(ctx context.Context, id string) (*contracts.Agent, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	copied := a
	return &copied, nil
}

func (s *MemoryAgentStore) Create(ctx context.Context, a *contracts.Agent) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.agents[a.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAgentExists, a.ID)
	}
	s.agents[a.ID] = *a
	return nil
}

func (s *MemoryAgentStore) Update(ctx context.Context, a *contracts.Agent) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.agents[a.ID]; !exists {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, a.ID)
	}
	s.agents[a.ID] = *a
	return nil
}
