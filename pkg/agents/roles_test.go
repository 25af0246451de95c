package agents

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobain/overseer/pkg/llm"
	"github.com/bobain/overseer/pkg/messagebus"
	"github.com/bobain/overseer/pkg/role"
)

type recordingNotifier struct {
	mu    sync.Mutex
	notes []string
}

func (r *recordingNotifier) Notify(ctx context.Context, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, subject)
	return nil
}

type recordingBugTracker struct {
	bugs []string
}

func (r *recordingBugTracker) FileBug(ctx context.Context, title, body string) (string, error) {
	r.bugs = append(r.bugs, title)
	return "bugs/1", nil
}

func TestProjectManagerReviewsCompletedItemsOnce(t *testing.T) {
	reader := writeRoadmap(t)
	bus := newBus(t)
	notifier := &recordingNotifier{}

	pm := NewProjectManager(reader, notifier, bus)
	ctx := context.Background()

	require.NoError(t, pm.DoBackgroundWork(ctx))
	require.NoError(t, pm.DoBackgroundWork(ctx))

	// Only priority 3 is complete in the fixture, and it is reviewed
	// exactly once across repeated ticks.
	claimed, err := bus.Drain(role.Architect)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, KindCommitReview, claimed[0].Message.Kind)
	assert.EqualValues(t, 3, claimed[0].Message.Body["item_number"])
	assert.Len(t, notifier.notes, 1)
}

func TestAssistantFilesBugForFailingDemo(t *testing.T) {
	bus := newBus(t)
	tracker := &recordingBugTracker{}
	model := llm.NewFake(llm.Result{Success: true, Content: "the demo is broken: nil pointer"})

	a := NewAssistant(model, tracker, bus)
	err := a.HandleMessage(context.Background(), role.Message{
		Kind: KindDemoRequest,
		From: role.CodeDeveloper,
		Body: map[string]any{"item_number": float64(1)},
	})
	require.NoError(t, err)
	assert.Len(t, tracker.bugs, 1)

	claimed, err := bus.Drain(role.ProjectManager)
	require.NoError(t, err)
	assert.Len(t, claimed, 1)
}

func TestAssistantHealthyDemoFilesNothing(t *testing.T) {
	tracker := &recordingBugTracker{}
	model := llm.NewFake(llm.Result{Success: true, Content: "demo went smoothly"})

	a := NewAssistant(model, tracker, newBus(t))
	err := a.HandleMessage(context.Background(), role.Message{
		Kind: KindDemoRequest,
		From: role.CodeDeveloper,
		Body: map[string]any{"item_number": float64(1)},
	})
	require.NoError(t, err)
	assert.Empty(t, tracker.bugs)
}

func TestUXExpertReviewsUIAdjacentItems(t *testing.T) {
	reader := writeRoadmap(t)
	bus := newBus(t)
	model := llm.NewFake(llm.Result{Success: true, Content: "spacing is inconsistent"})

	u := NewUXDesignExpert(reader, model, bus)
	ctx := context.Background()

	require.NoError(t, u.DoBackgroundWork(ctx))

	// Priority 2 mentions "UI"; priority 1 does not.
	claimed, err := bus.Drain(role.Architect)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, KindDesignReview, claimed[0].Message.Kind)
	assert.EqualValues(t, 2, claimed[0].Message.Body["item_number"])

	// Already-reviewed items are not re-reviewed.
	require.NoError(t, u.DoBackgroundWork(ctx))
	claimed, err = bus.Drain(role.Architect)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestUXExpertRepliesToDesignReviewRequest(t *testing.T) {
	bus := newBus(t)
	model := llm.NewFake(llm.Result{Success: true, Content: "looks fine"})

	u := NewUXDesignExpert(writeRoadmap(t), model, bus)
	err := u.HandleMessage(context.Background(), role.Message{
		ID:   "m-1",
		Kind: KindDesignReview,
		From: role.Architect,
		Body: map[string]any{"title": "dashboard", "description": "grid layout"},
	})
	require.NoError(t, err)

	claimed, err := bus.Drain(role.Architect)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "m-1", claimed[0].Message.Body["in_reply_to"])
}

func TestCodeSearcherForwardsSnapshotOnce(t *testing.T) {
	bus := newBus(t)
	model := llm.NewFake(llm.Result{Success: true, Content: "summary of tree"})

	c := NewCodeSearcher(t.TempDir(), model, bus)
	ctx := context.Background()

	require.NoError(t, c.DoBackgroundWork(ctx))
	claimed, err := bus.Drain(role.Architect)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, KindCodeSnapshot, claimed[0].Message.Kind)
	assert.Equal(t, messagebus.Low, claimed[0].Message.Priority)

	// An unchanged tree produces no duplicate snapshot.
	require.NoError(t, c.DoBackgroundWork(ctx))
	claimed, err = bus.Drain(role.Architect)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}
