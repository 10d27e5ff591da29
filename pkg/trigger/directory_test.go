package trigger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticSupervisorsCoverage(t *testing.T) {
	dir := NewStaticSupervisors("alice, bob ,")

	ok, err := dir.ShouldSupervise(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = dir.ShouldSupervise(context.Background(), "bob")
	assert.True(t, ok)

	ok, _ = dir.ShouldSupervise(context.Background(), "mallory")
	assert.False(t, ok)
}

func TestStaticSupervisorsWildcard(t *testing.T) {
	dir := NewStaticSupervisors("*")
	ok, _ := dir.ShouldSupervise(context.Background(), "anyone")
	assert.True(t, ok)
}

func TestStaticSupervisorsRuntimeToggle(t *testing.T) {
	dir := NewStaticSupervisors("")
	ok, _ := dir.ShouldSupervise(context.Background(), "carol")
	assert.False(t, ok)

	dir.SetCoverage("carol", true)
	ok, _ = dir.ShouldSupervise(context.Background(), "carol")
	assert.True(t, ok)

	dir.SetCoverage("carol", false)
	ok, _ = dir.ShouldSupervise(context.Background(), "carol")
	assert.False(t, ok)
}

func TestMemorySessionRegistry(t *testing.T) {
	reg := NewMemorySessionRegistry()

	id, err := reg.Open(context.Background(), "a1", "alice")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	active := reg.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "a1", active[0].AgentID)
	assert.Equal(t, "alice", active[0].UserID)

	reg.Close(id)
	assert.Empty(t, reg.Active())

	reg.Close("unknown")
}
