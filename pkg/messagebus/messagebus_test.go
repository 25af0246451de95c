package messagebus

import (
	"testing"

	"github.com/bobain/overseer/pkg/role"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendDrainRoundTrip(t *testing.T) {
	bus, err := New(t.TempDir())
	require.NoError(t, err)

	sent, err := bus.Send(role.Architect, role.CodeDeveloper, "spec_ready", map[string]any{"item": 7}, Normal)
	require.NoError(t, err)

	claimed, err := bus.Drain(role.CodeDeveloper)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, sent.ID, claimed[0].Message.ID)
	assert.Equal(t, "spec_ready", claimed[0].Message.Kind)

	require.NoError(t, bus.Ack(claimed[0]))

	claimed, err = bus.Drain(role.CodeDeveloper)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestDrainEmptyInboxReturnsEmptyNotError(t *testing.T) {
	bus, err := New(t.TempDir())
	require.NoError(t, err)

	claimed, err := bus.Drain(role.Assistant)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestDrainOrdersByPriorityThenCreatedAt(t *testing.T) {
	bus, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = bus.Send(role.ProjectManager, role.Architect, "commit_review_request", nil, Low)
	require.NoError(t, err)
	_, err = bus.Send(role.CodeDeveloper, role.Architect, "spec_request", nil, Urgent)
	require.NoError(t, err)
	_, err = bus.Send(role.Assistant, role.Architect, "status_query", nil, Normal)
	require.NoError(t, err)

	claimed, err := bus.Drain(role.Architect)
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	assert.Equal(t, "spec_request", claimed[0].Message.Kind)
	assert.Equal(t, "status_query", claimed[1].Message.Kind)
	assert.Equal(t, "commit_review_request", claimed[2].Message.Kind)
}

func TestDeadLetterMovesMessageOutOfInbox(t *testing.T) {
	bus, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = bus.Send(role.Architect, role.CodeDeveloper, "bug_fix_request", nil, Normal)
	require.NoError(t, err)

	claimed, err := bus.Drain(role.CodeDeveloper)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, bus.DeadLetter(role.CodeDeveloper, claimed[0]))

	claimed, err = bus.Drain(role.CodeDeveloper)
	require.NoError(t, err)
	assert.Empty(t, claimed, "dead-lettered message must not be redelivered")
}

func TestDepthCountsUndrainedMessages(t *testing.T) {
	bus, err := New(t.TempDir())
	require.NoError(t, err)

	n, err := bus.Depth(role.UXDesignExpert)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = bus.Send(role.ProjectManager, role.UXDesignExpert, "design_review", nil, Normal)
	require.NoError(t, err)

	n, err = bus.Depth(role.UXDesignExpert)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
