// Package store persists agent governance state. The SQLite implementation
// is the default single-node backend; tests use the in-memory store.
package store

import (
	"context"
	"errors"

	"github.com/loopwork-ai/governor/pkg/contracts"
)

// ErrAgentNotFound is returned for unknown agent IDs. Callers must surface
// it — an unknown agent is never defaulted to a maturity level.
var ErrAgentNotFound = errors.New("agent not found")

// ErrAgentExists is returned when Create collides with a stored agent ID.
var ErrAgentExists = errors.New("agent already exists")

// AgentStore is the persisted-state contract the governance core reads
// through on cache misses.
type AgentStore interface {
	// Get returns the agent or ErrAgentNotFound.
	Get(ctx context.Context, id string) (*contracts.Agent, error)
	// Create inserts a new agent record.
	Create(ctx context.Context, a *contracts.Agent) error
	// Update overwrites the stored record for a.ID.
	Update(ctx context.Context, a *contracts.Agent) error
}
