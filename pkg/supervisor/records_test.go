package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobain/overseer/pkg/types"
)

func TestCrashReportAppendAndList(t *testing.T) {
	store, err := OpenRecords(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	id1, err := store.AppendCrash(ctx, types.CrashReport{
		Role: "architect", ProcessID: 4242,
		ErrorKind: "process_exit", ErrorMessage: "exit status 1",
		Respawned: true, Reported: true, ReportID: "r-1",
	})
	require.NoError(t, err)
	id2, err := store.AppendCrash(ctx, types.CrashReport{
		Role: "architect", ProcessID: 4243,
		ErrorKind: "process_exit", ErrorMessage: "signal: killed",
	})
	require.NoError(t, err)
	assert.Greater(t, id2, id1)

	crashes, err := store.Crashes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, crashes, 2)
	assert.Equal(t, "signal: killed", crashes[0].ErrorMessage, "newest first")
	assert.Equal(t, "r-1", crashes[1].ReportID)
	assert.True(t, crashes[1].Respawned)
	assert.WithinDuration(t, time.Now(), crashes[0].CrashedAt, time.Minute)
}

func TestHealthRecordRoundTrip(t *testing.T) {
	store, err := OpenRecords(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	_, err = store.AppendHealth(ctx, types.HealthRecord{
		Status:               types.HealthDegraded,
		ActiveAgents:         5,
		CrashedAgents:        1,
		Zombies:              1,
		SupervisorResponsive: true,
		LastTickAge:          31 * time.Second,
		ActionsTaken:         []string{"restarted architect (attempt 1)"},
		ReportsFiled:         []string{"r-1"},
	})
	require.NoError(t, err)

	_, err = store.AppendHealth(ctx, types.HealthRecord{
		Status:               types.HealthHealthy,
		ActiveAgents:         6,
		SupervisorResponsive: true,
	})
	require.NoError(t, err)

	history, err := store.HealthHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, types.HealthHealthy, history[0].Status)
	assert.Empty(t, history[0].ActionsTaken)

	degraded := history[1]
	assert.Equal(t, types.HealthDegraded, degraded.Status)
	assert.Equal(t, 31*time.Second, degraded.LastTickAge)
	assert.Equal(t, []string{"restarted architect (attempt 1)"}, degraded.ActionsTaken)
	assert.Equal(t, []string{"r-1"}, degraded.ReportsFiled)
	assert.Equal(t, 1, degraded.Zombies)
}

func TestHealthHistoryLimit(t *testing.T) {
	store, err := OpenRecords(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := store.AppendHealth(ctx, types.HealthRecord{Status: types.HealthHealthy, SupervisorResponsive: true})
		require.NoError(t, err)
	}

	history, err := store.HealthHistory(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}
