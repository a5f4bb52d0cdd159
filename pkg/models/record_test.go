package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_SendableMessages(t *testing.T) {
	record := &Record{
		ID: "doc-1",
		Tasks: []*Task{
			{
				State: StatePending,
				Messages: []*Message{
					{UUID: "m1", To: "+100", Content: "hi"},
					{UUID: "m2", To: "+200", Content: "hello"},
				},
			},
			{
				State: StateDelivered,
				Messages: []*Message{
					{UUID: "m3", To: "+300", Content: "done"},
				},
			},
		},
		ScheduledTasks: []*Task{
			{
				State: StateForwardedToGateway,
				Messages: []*Message{
					{UUID: "m4", To: "+400", Content: "reminder"},
				},
			},
		},
	}

	messages := record.SendableMessages()
	require.Len(t, messages, 3)

	// Active collection first, then scheduled, preserving message order.
	assert.Equal(t, "m1", messages[0].ID)
	assert.Equal(t, "m2", messages[1].ID)
	assert.Equal(t, "m4", messages[2].ID)
	assert.Equal(t, "+400", messages[2].To)
	assert.Equal(t, "reminder", messages[2].Content)
}

func TestRecord_SendableMessages_Empty(t *testing.T) {
	assert.Empty(t, (&Record{ID: "empty"}).SendableMessages())

	delivered := &Record{
		Tasks: []*Task{
			{
				State:    StateDelivered,
				Messages: []*Message{{UUID: "m1", To: "+100", Content: "hi"}},
			},
		},
	}
	assert.Empty(t, delivered.SendableMessages())
}

func TestRecord_SendableMessages_SkipsIncompleteMessages(t *testing.T) {
	record := &Record{
		Tasks: []*Task{
			{
				State: StatePending,
				Messages: []*Message{
					{UUID: "", To: "+100", Content: "no uuid"},
					{UUID: "m2", To: "", Content: "no destination"},
					{UUID: "m3", To: "+300", Content: ""},
					{UUID: "m4", To: "+400", Content: "ok"},
				},
			},
		},
	}

	messages := record.SendableMessages()
	require.Len(t, messages, 1)
	assert.Equal(t, "m4", messages[0].ID)
}

func TestRecord_TaskForMessage(t *testing.T) {
	active := &Task{State: StatePending, Messages: []*Message{{UUID: "m1"}}}
	scheduled := &Task{State: StateScheduled, Messages: []*Message{{UUID: "m2"}}}
	record := &Record{
		Tasks:          []*Task{active},
		ScheduledTasks: []*Task{scheduled},
	}

	assert.Same(t, active, record.TaskForMessage("m1"))
	assert.Same(t, scheduled, record.TaskForMessage("m2"))
	assert.Nil(t, record.TaskForMessage("missing"))
}

func TestRecord_Completed(t *testing.T) {
	assert.False(t, (&Record{}).Completed())

	inFlight := &Record{Tasks: []*Task{{State: StateSent}}}
	assert.False(t, inFlight.Completed())

	done := &Record{
		Tasks:          []*Task{{State: StateDelivered}},
		ScheduledTasks: []*Task{{State: StateFailed}},
	}
	assert.True(t, done.Completed())
}

func TestNewInboundRecord(t *testing.T) {
	record := NewInboundRecord("+255123", "ANC visit", "G1")

	require.NotNil(t, record.SMS)
	assert.Equal(t, "+255123", record.From)
	assert.Equal(t, "ANC visit", record.SMS.Content)
	assert.Equal(t, "G1", record.SMS.GatewayRef)
}
