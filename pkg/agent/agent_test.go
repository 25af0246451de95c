package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobain/overseer/pkg/messagebus"
	"github.com/bobain/overseer/pkg/registry"
	"github.com/bobain/overseer/pkg/role"
	"github.com/bobain/overseer/pkg/statusbus"
)

type fakeBehavior struct {
	mu       sync.Mutex
	ticks    int
	messages []role.Message
}

func (f *fakeBehavior) Role() role.Role { return role.CodeDeveloper }

func (f *fakeBehavior) DoBackgroundWork(ctx context.Context) error {
	f.mu.Lock()
	f.ticks++
	f.mu.Unlock()
	return nil
}

func (f *fakeBehavior) HandleMessage(ctx context.Context, msg role.Message) error {
	f.mu.Lock()
	f.messages = append(f.messages, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeBehavior) snapshot() (int, []role.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ticks, append([]role.Message(nil), f.messages...)
}

func newTestAgent(t *testing.T, behavior role.Behavior, tick time.Duration) (*Agent, *messagebus.Bus) {
	t.Helper()
	dir := t.TempDir()

	reg, err := registry.New(dir + "/registry")
	require.NoError(t, err)
	sb, err := statusbus.New(dir + "/status")
	require.NoError(t, err)
	mb, err := messagebus.New(dir + "/messages")
	require.NoError(t, err)

	a := New(Config{
		Role:         role.CodeDeveloper,
		TickInterval: tick,
		Registry:     reg,
		StatusBus:    sb,
		MessageBus:   mb,
		Behavior:     behavior,
	})
	return a, mb
}

func TestRunTicksAndReportsStoppingOnExit(t *testing.T) {
	behavior := &fakeBehavior{}
	a, _ := newTestAgent(t, behavior, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := a.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	ticks, _ := behavior.snapshot()
	assert.Greater(t, ticks, 0)

	st, err := a.cfg.StatusBus.Read(role.CodeDeveloper)
	require.NoError(t, err)
	assert.Equal(t, statusbus.StateStopping, st.State)
}

func TestRunDeliversDrainedMessagesToBehavior(t *testing.T) {
	behavior := &fakeBehavior{}
	a, mb := newTestAgent(t, behavior, 20*time.Millisecond)

	_, err := mb.Send(role.Architect, role.CodeDeveloper, "spec_ready", map[string]any{"spec_id": "spec-1"}, messagebus.Normal)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = a.Run(ctx)

	_, messages := behavior.snapshot()
	require.Len(t, messages, 1)
	assert.Equal(t, "spec_ready", messages[0].Kind)

	depth, err := mb.Depth(role.CodeDeveloper)
	require.NoError(t, err)
	assert.Equal(t, 0, depth, "delivered message must be acked out of the inbox")
}

func TestStopEndsLoopBeforeContextDeadline(t *testing.T) {
	behavior := &fakeBehavior{}
	a, _ := newTestAgent(t, behavior, 20*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	time.Sleep(60 * time.Millisecond)
	a.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
