package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTask_SetState(t *testing.T) {
	task := &Task{State: StatePending}

	changed := task.SetState(StateSent, "", "g1")
	require.True(t, changed)
	assert.Equal(t, StateSent, task.State)
	assert.Equal(t, "g1", task.GatewayRef)
	require.Len(t, task.StateHistory, 1)
	assert.Equal(t, StateSent, task.StateHistory[0].State)
	assert.False(t, task.StateHistory[0].Timestamp.IsZero())
}

func TestTask_SetState_NoOpOnSameState(t *testing.T) {
	task := &Task{State: StateSent}

	assert.False(t, task.SetState(StateSent, "", ""))
	assert.Empty(t, task.StateHistory)
}

func TestTask_SetState_SameStateNewDetails(t *testing.T) {
	task := &Task{State: StateFailed, StateDetails: "timeout"}

	assert.True(t, task.SetState(StateFailed, "rejected by carrier", ""))
	assert.Equal(t, "rejected by carrier", task.StateDetails)
}

func TestTask_SetState_RefusesRegressiveTransition(t *testing.T) {
	task := &Task{State: StateDelivered}

	assert.False(t, task.SetState(StatePending, "", ""))
	assert.Equal(t, StateDelivered, task.State)
	assert.Empty(t, task.StateHistory)
}

func TestTask_SetState_RefusesUnknownState(t *testing.T) {
	task := &Task{State: StatePending}

	assert.False(t, task.SetState(TaskState("exploded"), "", ""))
	assert.Equal(t, StatePending, task.State)
}

func TestTask_SetState_FirstState(t *testing.T) {
	task := &Task{}

	assert.True(t, task.SetState(StateScheduled, "", ""))
	assert.Equal(t, StateScheduled, task.State)
}

func TestTask_SetState_SkipsIntermediateStates(t *testing.T) {
	// Providers may report delivery straight from pending.
	task := &Task{State: StatePending}

	assert.True(t, task.SetState(StateDelivered, "", "g9"))
	assert.Equal(t, StateDelivered, task.State)
}

func TestTaskState_Terminal(t *testing.T) {
	assert.True(t, StateDelivered.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.True(t, StateDenied.Terminal())
	assert.True(t, StateCleared.Terminal())
	assert.False(t, StatePending.Terminal())
	assert.False(t, StateForwardedToGateway.Terminal())
	assert.False(t, TaskState("exploded").Terminal())
}

func TestTaskState_Valid(t *testing.T) {
	assert.True(t, StatePending.Valid())
	assert.True(t, StateReceivedByGateway.Valid())
	assert.False(t, TaskState("").Valid())
	assert.False(t, TaskState("exploded").Valid())
}
