package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordedEvents(t *testing.T, buf *bytes.Buffer) []Event {
	t.Helper()
	var events []Event
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		events = append(events, e)
	}
	return events
}

func TestChainLoggerLinksEvents(t *testing.T) {
	var buf bytes.Buffer
	key, err := DeriveMACKey([]byte("root-secret"), []byte("salt"))
	require.NoError(t, err)

	l := NewLoggerWithWriter(&buf, key)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, EventRouting, "agent-1", "blocked_trigger", "trigger/workflow", nil))
	require.NoError(t, l.Record(ctx, EventPromotion, "agent-1", "promote", "agent/agent-1", map[string]any{"to": "INTERN"}))

	events := recordedEvents(t, &buf)
	require.Len(t, events, 2)

	assert.Empty(t, events[0].PrevHash)
	assert.Equal(t, events[0].Hash, events[1].PrevHash)
	require.NoError(t, Verify(events, key))
}

func TestVerifyDetectsTampering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(&buf, nil)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, EventRouting, "agent-1", "blocked_trigger", "trigger/workflow", nil))
	require.NoError(t, l.Record(ctx, EventRouting, "agent-1", "proposal", "trigger/workflow", nil))

	events := recordedEvents(t, &buf)
	events[0].Action = "forged"
	assert.Error(t, Verify(events, nil))
}

func TestDeriveMACKeyIsDeterministic(t *testing.T) {
	k1, err := DeriveMACKey([]byte("secret"), []byte("salt"))
	require.NoError(t, err)
	k2, err := DeriveMACKey([]byte("secret"), []byte("salt"))
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := DeriveMACKey([]byte("other"), []byte("salt"))
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	_, err = DeriveMACKey(nil, nil)
	assert.Error(t, err)
}

func TestChainLoggerDeterministicTimestamps(t *testing.T) {
	var buf bytes.Buffer
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l := NewLoggerWithWriter(&buf, nil).WithClock(func() time.Time { return fixed })

	require.NoError(t, l.Record(context.Background(), EventSystem, "", "startup", "governor", nil))
	events := recordedEvents(t, &buf)
	require.Len(t, events, 1)
	assert.True(t, events[0].Timestamp.Equal(fixed))
}
