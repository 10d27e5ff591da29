// Package audit records governance events as a hash-chained JSON log.
// Every blocked trigger, proposal, promotion, and registration decision
// lands here; entries are canonicalized per RFC 8785 before hashing so the
// chain is stable across Go versions and field ordering.
package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

// EventType defines the category of the audit event.
type EventType string

const (
	EventDecision     EventType = "DECISION"
	EventRouting      EventType = "ROUTING"
	EventPromotion    EventType = "PROMOTION"
	EventRegistration EventType = "REGISTRATION"
	EventExecution    EventType = "EXECUTION"
	EventSystem       EventType = "SYSTEM"
)

// Event is one structured audit record. Hash covers the canonical form of
// the record without Hash and MAC; PrevHash links it to its predecessor.
type Event struct {
	ID        string         `json:"id"`
	AgentID   string         `json:"agent_id,omitempty"`
	Type      EventType      `json:"type"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	PrevHash  string         `json:"prev_hash"`
	Hash      string         `json:"hash,omitempty"`
	MAC       string         `json:"mac,omitempty"`
}

// Logger records audit events.
type Logger interface {
	Record(ctx context.Context, eventType EventType, agentID, action, resource string, metadata map[string]any) error
}

// ChainLogger implements Logger, writing hash-chained JSON lines to a
// configurable writer. Safe for concurrent use; the chain order is the
// lock acquisition order.
type ChainLogger struct {
	mu       sync.Mutex
	writer   io.Writer
	macKey   []byte
	prevHash string
	clock    func() time.Time
}

// NewLogger creates a ChainLogger writing to os.Stdout.
func NewLogger() *ChainLogger {
	return NewLoggerWithWriter(os.Stdout, nil)
}

// NewLoggerWithWriter creates a ChainLogger for the given sink. macKey may
// be nil, in which case entries carry no MAC (dev mode); use DeriveMACKey
// for production keys.
func NewLoggerWithWriter(w io.Writer, macKey []byte) *ChainLogger {
	if w == nil {
		w = os.Stdout
	}
	return &ChainLogger{
		writer: w,
		macKey: macKey,
		clock:  time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (l *ChainLogger) WithClock(clock func() time.Time) *ChainLogger {
	l.clock = clock
	return l
}

// Record appends one event to the chain.
func (l *ChainLogger) Record(ctx context.Context, eventType EventType, agentID, action, resource string, metadata map[string]any) error {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()

	event := Event{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		Type:      eventType,
		Action:    action,
		Resource:  resource,
		Timestamp: l.clock().UTC(),
		Metadata:  metadata,
		PrevHash:  l.prevHash,
	}

	hash, err := canonicalHash(&event)
	if err != nil {
		return fmt.Errorf("audit hash: %w", err)
	}
	event.Hash = hash
	if len(l.macKey) > 0 {
		event.MAC = computeMAC(l.macKey, hash)
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit marshal: %w", err)
	}
	if _, err := l.writer.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit write: %w", err)
	}

	l.prevHash = hash
	return nil
}

// canonicalHash returns the SHA-256 hex digest of the RFC 8785 canonical
// JSON of the event with Hash and MAC cleared.
func canonicalHash(e *Event) (string, error) {
	unsealed := *e
	unsealed.Hash = ""
	unsealed.MAC = ""

	raw, err := json.Marshal(unsealed)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func computeMAC(key []byte, hash string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(hash))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify walks a slice of events in order and reports the first chain or
// MAC inconsistency. macKey may be nil to skip MAC checks.
func Verify(events []Event, macKey []byte) error {
	prev := ""
	for i := range events {
		e := events[i]
		if e.PrevHash != prev {
			return fmt.Errorf("event %d: broken chain (prev %q, want %q)", i, e.PrevHash, prev)
		}
		hash, err := canonicalHash(&e)
		if err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
		if hash != e.Hash {
			return fmt.Errorf("event %d: hash mismatch", i)
		}
		if len(macKey) > 0 && !hmac.Equal([]byte(computeMAC(macKey, hash)), []byte(e.MAC)) {
			return fmt.Errorf("event %d: MAC mismatch", i)
		}
		prev = e.Hash
	}
	return nil
}
