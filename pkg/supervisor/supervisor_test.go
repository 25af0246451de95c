package supervisor

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobain/overseer/pkg/config"
	"github.com/bobain/overseer/pkg/messagebus"
	"github.com/bobain/overseer/pkg/registry"
	"github.com/bobain/overseer/pkg/role"
	"github.com/bobain/overseer/pkg/statusbus"
	"github.com/bobain/overseer/pkg/types"
	"github.com/bobain/overseer/pkg/vcs"
)

func shellLaunch(script string) LaunchFunc {
	return func(r role.Role) (*exec.Cmd, error) {
		cmd := exec.Command("sh", "-c", script)
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		return cmd, nil
	}
}

func newTestSupervisor(t *testing.T, cfg config.Config, launch LaunchFunc) *Supervisor {
	t.Helper()

	dir := t.TempDir()
	cfg.StatusDir = dir + "/status"
	cfg.MessageDir = dir + "/messages"

	reg, err := registry.New(dir + "/registry")
	require.NoError(t, err)
	status, err := statusbus.New(cfg.StatusDir)
	require.NoError(t, err)
	bus, err := messagebus.New(dir + "/messages")
	require.NoError(t, err)
	records, err := OpenRecords(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { records.Close() })

	s := New(cfg, reg, status, bus, records, nil, launch)
	s.Stagger = 0
	return s
}

func crashyConfig(maxRestarts, backoffBase int) config.Config {
	cfg := config.Default()
	cfg.EnableRoles = []role.Role{role.Architect}
	cfg.MaxRestartsPerAgent = maxRestarts
	cfg.RestartBackoffBase = backoffBase
	return cfg
}

func TestCrashingChildIsHaltedAfterMaxRestarts(t *testing.T) {
	s := newTestSupervisor(t, crashyConfig(2, 0), shellLaunch("exit 1"))
	ctx := context.Background()

	require.NoError(t, s.DoBackgroundWork(ctx))

	require.Eventually(t, func() bool {
		_ = s.DoBackgroundWork(ctx)
		c := s.children[role.Architect]
		return c != nil && c.halted
	}, 10*time.Second, 50*time.Millisecond, "role should halt once restarts hit the cap")

	c := s.children[role.Architect]
	assert.Equal(t, 2, c.restarts)

	// Halting is permanent: further ticks never restart.
	before := c.restarts
	require.NoError(t, s.DoBackgroundWork(ctx))
	assert.Equal(t, before, c.restarts)

	// Two respawns plus the final crash that exhausted the budget.
	crashes, err := s.Records.Crashes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, crashes, 3)
	assert.False(t, crashes[0].Respawned, "newest report is the halting crash")
	for _, cr := range crashes {
		assert.Equal(t, string(role.Architect), cr.Role)
		assert.Equal(t, "process_exit", cr.ErrorKind)
	}

	history, err := s.Records.HealthHistory(ctx, 50)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, types.HealthCritical, history[0].Status)
}

func TestBackoffDefersRestart(t *testing.T) {
	// An hour of backoff base means the dead child must not restart
	// within this test's lifetime.
	s := newTestSupervisor(t, crashyConfig(5, 3600), shellLaunch("exit 1"))
	ctx := context.Background()

	require.NoError(t, s.DoBackgroundWork(ctx))

	require.Eventually(t, func() bool {
		_ = s.DoBackgroundWork(ctx)
		c := s.children[role.Architect]
		return c != nil && !c.alive
	}, 10*time.Second, 50*time.Millisecond)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.DoBackgroundWork(ctx))
	}
	assert.Equal(t, 0, s.children[role.Architect].restarts, "restart must wait out the backoff window")
}

func TestBackoffWindowsAreNonDecreasing(t *testing.T) {
	cfg := crashyConfig(4, 7)
	base := cfg.RestartBackoffBaseDuration()
	var prev time.Duration
	for k := 0; k < 4; k++ {
		window := base * (1 << k)
		assert.GreaterOrEqual(t, window, prev)
		assert.Equal(t, base*time.Duration(1<<uint(k)), window)
		prev = window
	}
}

func TestShutdownTerminatesChildren(t *testing.T) {
	cfg := crashyConfig(3, 10)
	cfg.ShutdownGrace = 5
	s := newTestSupervisor(t, cfg, shellLaunch("sleep 60"))
	ctx := context.Background()

	require.NoError(t, s.DoBackgroundWork(ctx))
	c := s.children[role.Architect]
	require.NotNil(t, c)
	require.True(t, c.alive)

	done := make(chan struct{})
	go func() {
		s.Shutdown(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(8 * time.Second):
		t.Fatal("shutdown did not complete within grace period")
	}
	assert.False(t, s.anyAlive())
}

func TestZombieSweepRemovesStaleRegistrations(t *testing.T) {
	s := newTestSupervisor(t, crashyConfig(3, 3600), shellLaunch("sleep 60"))
	defer s.Shutdown(context.Background())

	// Fabricate a registration for a pid that cannot exist.
	path := s.Registry.Dir + "/" + string(role.CodeDeveloper) + ".lock"
	require.NoError(t, os.WriteFile(path, []byte("999999999\n"), 0o644))

	swept := s.Registry.SweepStale(role.Agents)
	assert.Equal(t, []role.Role{role.CodeDeveloper}, swept)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSummaryRoundTrip(t *testing.T) {
	s := newTestSupervisor(t, crashyConfig(3, 3600), shellLaunch("sleep 60"))
	ctx := context.Background()
	defer s.Shutdown(ctx)

	require.NoError(t, s.DoBackgroundWork(ctx))

	updated, children, err := ReadSummary(s.Cfg.StatusDir)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), updated, time.Minute)
	require.Len(t, children, 1)
	assert.Equal(t, string(role.Architect), children[0].Role)
	assert.True(t, children[0].Alive)
	assert.Equal(t, 0, children[0].Restarts)
}

func TestStatusQueryGetsReply(t *testing.T) {
	s := newTestSupervisor(t, crashyConfig(3, 3600), shellLaunch("sleep 60"))
	ctx := context.Background()
	defer s.Shutdown(ctx)

	err := s.HandleMessage(ctx, role.Message{
		Kind: "status_query",
		From: role.ProjectManager,
	})
	require.NoError(t, err)

	claimed, err := s.Bus.Drain(role.ProjectManager)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "status_report", claimed[0].Message.Kind)
	assert.Equal(t, role.Supervisor, claimed[0].Message.From)
}

func TestShutdownRequestInvokesCallback(t *testing.T) {
	s := newTestSupervisor(t, crashyConfig(3, 3600), shellLaunch("sleep 60"))
	called := false
	s.OnShutdownRequest = func() { called = true }

	require.NoError(t, s.HandleMessage(context.Background(), role.Message{Kind: "shutdown_request", From: role.Assistant}))
	assert.True(t, called)
}

func TestStaleHeartbeatIsAdvisoryOnly(t *testing.T) {
	cfg := crashyConfig(3, 3600)
	cfg.StaleHeartbeat = 1
	s := newTestSupervisor(t, cfg, shellLaunch("sleep 60"))
	ctx := context.Background()
	defer s.Shutdown(ctx)

	require.NoError(t, s.DoBackgroundWork(ctx))
	c := s.children[role.Architect]
	require.NotNil(t, c)
	require.True(t, c.alive)

	// Publish a heartbeat far older than the threshold for the live
	// child.
	require.NoError(t, s.Status.Write(statusbus.Status{
		Role:            role.Architect,
		ProcessID:       c.pid,
		State:           statusbus.StateWorking,
		LastHeartbeatTS: time.Now().Add(-time.Hour),
	}))

	stale := s.checkHeartbeats()
	assert.True(t, stale[role.Architect])
	assert.Equal(t, types.HealthDegraded, s.overallHealth(stale))

	// The process stays alive: staleness alone never kills.
	require.NoError(t, s.DoBackgroundWork(ctx))
	assert.True(t, s.children[role.Architect].alive)
	assert.Equal(t, 0, s.children[role.Architect].restarts)
}

func TestCheckWorkBranch(t *testing.T) {
	fake := vcs.NewFake("main")
	require.NoError(t, CheckWorkBranch(context.Background(), fake, "main"))

	fake.Branch = "feature/wip"
	err := CheckWorkBranch(context.Background(), fake, "main")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWrongBranch)
}

func TestUnknownMessageKindIgnored(t *testing.T) {
	s := newTestSupervisor(t, crashyConfig(3, 3600), shellLaunch("sleep 60"))
	assert.NoError(t, s.HandleMessage(context.Background(), role.Message{Kind: "mystery", From: role.Assistant}))
}
