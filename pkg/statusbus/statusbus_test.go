package statusbus

import (
	"testing"
	"time"

	"github.com/bobain/overseer/pkg/role"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	bus, err := New(t.TempDir())
	require.NoError(t, err)

	now := time.Now()
	want := Status{
		Role:            role.Architect,
		ProcessID:       1234,
		State:           StateWorking,
		LastHeartbeatTS: now,
		StartedAt:       now,
		Metrics:         map[string]any{"specs_created": float64(2)},
	}

	require.NoError(t, bus.Write(want))

	got, err := bus.Read(role.Architect)
	require.NoError(t, err)
	assert.Equal(t, want.Role, got.Role)
	assert.Equal(t, want.ProcessID, got.ProcessID)
	assert.Equal(t, want.State, got.State)
	assert.WithinDuration(t, want.LastHeartbeatTS, got.LastHeartbeatTS, time.Millisecond)
}

func TestReadMissingReturnsError(t *testing.T) {
	bus, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = bus.Read(role.CodeDeveloper)
	assert.Error(t, err)
}

func TestIsStale(t *testing.T) {
	now := time.Now()
	fresh := Status{LastHeartbeatTS: now.Add(-10 * time.Second)}
	stale := Status{LastHeartbeatTS: now.Add(-400 * time.Second)}

	assert.False(t, IsStale(fresh, DefaultStaleAfter, now))
	assert.True(t, IsStale(stale, DefaultStaleAfter, now))
}

func TestWriteOverwritesPreviousStatus(t *testing.T) {
	bus, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, bus.Write(Status{Role: role.Assistant, State: StateStarting}))
	require.NoError(t, bus.Write(Status{Role: role.Assistant, State: StateIdle}))

	got, err := bus.Read(role.Assistant)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, got.State)
}
