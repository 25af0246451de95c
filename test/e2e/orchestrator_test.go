// Package e2e exercises whole-team scenarios against real buses and
// stores in temporary directories, with the LLM and VCS adapters faked
// so every run is deterministic and offline.
package e2e

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobain/overseer/pkg/agents"
	"github.com/bobain/overseer/pkg/llm"
	"github.com/bobain/overseer/pkg/log"
	"github.com/bobain/overseer/pkg/messagebus"
	"github.com/bobain/overseer/pkg/roadmap"
	"github.com/bobain/overseer/pkg/role"
	"github.com/bobain/overseer/pkg/specstore"
	"github.com/bobain/overseer/pkg/vcs"
	"github.com/bobain/overseer/pkg/workstore"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true})
	os.Exit(m.Run())
}

const roadmapDoc = `# Roadmap

### 🎯 PRIORITY 7: Session token rotation
**Status**: 📝 Planned
Rotate session tokens on privilege elevation.

### 🎯 PRIORITY 8: Audit log export
**Status**: 📝 Planned
Export audit logs in CSV.
`

type fixture struct {
	bus    *messagebus.Bus
	reader *roadmap.Reader
	specs  *specstore.Store
	git    *vcs.Fake
	model  *llm.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	roadmapPath := filepath.Join(dir, "ROADMAP.md")
	require.NoError(t, os.WriteFile(roadmapPath, []byte(roadmapDoc), 0o644))

	bus, err := messagebus.New(filepath.Join(dir, "messages"))
	require.NoError(t, err)
	specs, err := specstore.Open(filepath.Join(dir, "specs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { specs.Close() })

	return &fixture{
		bus:    bus,
		reader: roadmap.New(roadmapPath),
		specs:  specs,
		git:    vcs.NewFake("main"),
		model:  llm.NewFake(llm.Result{Success: true, Content: "generated content"}),
	}
}

// Spec precedes implementation: within two architect ticks the planned
// item has a spec, and the developer's next tick produces a commit for
// it.
func TestSpecPrecedesImplementation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	architect := agents.NewArchitect(f.git, f.reader, f.specs, f.model, f.bus, "main")
	require.NoError(t, architect.DoBackgroundWork(ctx))

	spec, err := f.specs.Find(7)
	require.NoError(t, err)
	require.NotNil(t, spec, "first architect tick must produce the spec for priority 7")

	devGit := vcs.NewFake("main")
	devGit.Clean = false // the faked LLM "edited" the tree
	dev := agents.NewCodeDeveloper(devGit, f.reader, f.specs, f.model, f.bus, "main", []string{"true"}, 3)
	require.NoError(t, dev.DoBackgroundWork(ctx))

	require.Len(t, devGit.CommitCalls, 1)
	assert.Contains(t, devGit.CommitCalls[0], "priority 7")

	// The assistant was asked for a demo.
	claimed, err := f.bus.Drain(role.Assistant)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "demo_request", claimed[0].Message.Kind)
}

// Developer blocks on a missing spec: with no architect running, the
// developer sends an urgent spec_request and does not commit.
func TestDeveloperBlocksOnMissingSpec(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	devGit := vcs.NewFake("main")
	devGit.Clean = false
	dev := agents.NewCodeDeveloper(devGit, f.reader, f.specs, f.model, f.bus, "main", []string{"true"}, 3)

	for i := 0; i < 2; i++ {
		require.NoError(t, dev.DoBackgroundWork(ctx))
	}

	assert.Empty(t, devGit.CommitCalls, "no commit without a governing spec")

	claimed, err := f.bus.Drain(role.Architect)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	for _, c := range claimed {
		assert.Equal(t, "spec_request", c.Message.Kind)
		assert.Equal(t, messagebus.Urgent, c.Message.Priority)
		assert.EqualValues(t, 7, c.Message.Body["item_number"])
	}
}

// Work ordering: two racing claimants both see U1 as the only
// candidate; exactly one claim succeeds, and U2 stays unclaimable until
// U1 completes.
func TestWorkOrderingUnderContention(t *testing.T) {
	dir := t.TempDir()
	store, err := workstore.Open(filepath.Join(dir, "work.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	for i := 1; i <= 2; i++ {
		require.NoError(t, store.Create(ctx, workstore.WorkUnit{
			WorkID:         fmt.Sprintf("u%d", i),
			PriorityNumber: 1,
			GroupID:        "G1",
			Order:          i,
			SpecID:         "spec-7",
			AssignedFiles:  []string{fmt.Sprintf("file%d.go", i)},
		}))
	}

	for _, claimant := range []string{"dev-a", "dev-b"} {
		next, err := store.NextWorkForPriority(ctx, 1)
		require.NoError(t, err)
		require.NotNil(t, next, "claimant %s should see a candidate", claimant)
		assert.Equal(t, "u1", next.WorkID)
	}

	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i, claimant := range []string{"dev-a", "dev-b"} {
		wg.Add(1)
		go func(i int, claimant string) {
			defer wg.Done()
			ok, err := store.Claim(ctx, "u1", claimant)
			require.NoError(t, err)
			results[i] = ok
		}(i, claimant)
	}
	wg.Wait()

	assert.NotEqual(t, results[0], results[1], "exactly one racer wins the claim")

	// U2 is blocked while U1 is in progress.
	ok, err := store.Claim(ctx, "u2", "dev-a")
	require.NoError(t, err)
	assert.False(t, ok)
	next, err := store.NextWorkForPriority(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, next)

	require.NoError(t, store.UpdateStatus(ctx, "u1", workstore.StatusCompleted, ""))

	next, err = store.NextWorkForPriority(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "u2", next.WorkID)
	ok, err = store.Claim(ctx, "u2", "dev-b")
	require.NoError(t, err)
	assert.True(t, ok)
}

// File-capability violation: editing outside assigned_files fails the
// tick and the unit transitions to failed without a commit.
func TestFileCapabilityViolation(t *testing.T) {
	dir := t.TempDir()
	store, err := workstore.Open(filepath.Join(dir, "work.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Create(ctx, workstore.WorkUnit{
		WorkID:         "u1",
		PriorityNumber: 1,
		GroupID:        "G1",
		Order:          1,
		SpecID:         "spec-7",
		AssignedFiles:  []string{"a.md"},
	}))

	ok, err := store.Claim(ctx, "u1", "dev-a")
	require.NoError(t, err)
	require.True(t, ok)

	unit, err := store.Get(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, workstore.ValidateFileAccess(unit, "a.md"))
	err = workstore.ValidateFileAccess(unit, "b.md")
	require.ErrorIs(t, err, workstore.ErrFileAccessViolation)

	require.NoError(t, store.UpdateStatus(ctx, "u1", workstore.StatusFailed, err.Error()))

	_, err = store.RecordCommit(ctx, "u1", "dev-a", "deadbeef", "should be rejected")
	assert.ErrorIs(t, err, workstore.ErrCommitWithoutOwnership)
}

// Messages round-trip through the bus exactly once, urgent first.
func TestMessageRoundTripAcrossPriorities(t *testing.T) {
	f := newFixture(t)

	_, err := f.bus.Send(role.CodeDeveloper, role.Architect, "spec_request", map[string]any{"item_number": 8}, messagebus.Normal)
	require.NoError(t, err)
	_, err = f.bus.Send(role.CodeDeveloper, role.Architect, "spec_request", map[string]any{"item_number": 7}, messagebus.Urgent)
	require.NoError(t, err)

	claimed, err := f.bus.Drain(role.Architect)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, messagebus.Urgent, claimed[0].Message.Priority)
	for _, c := range claimed {
		require.NoError(t, f.bus.Ack(c))
	}

	claimed, err = f.bus.Drain(role.Architect)
	require.NoError(t, err)
	assert.Empty(t, claimed, "drained messages are never redelivered")
}
