// Package episodes is the episodic-memory collaborator boundary. The
// governance core writes an EpisodeRecord after every sandboxed or approved
// execution and reads episode history back for graduation scoring.
package episodes

import (
	"context"
	"time"

	"github.com/loopwork-ai/governor/pkg/contracts"
)

// Recorder receives the mandatory post-execution side effect.
type Recorder interface {
	Record(ctx context.Context, ep *contracts.EpisodeRecord) error
}

// Reader provides the history slice graduation scoring consumes.
type Reader interface {
	// ListSince returns the agent's episodes recorded at or after since,
	// newest last.
	ListSince(ctx context.Context, agentID string, since time.Time) ([]*contracts.EpisodeRecord, error)
}

// Store combines both sides of the collaborator contract.
type Store interface {
	Recorder
	Reader
}
