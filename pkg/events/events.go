// Package events defines event types and structures for messaging lifecycle
// notifications.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/dukex/smsbridge/pkg/models"
)

type EventType string

// Kafka topics.
const Topic = "smsbridge.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	RecordReceivedEvent      EventType = "record.received"
	MessageStateChangedEvent EventType = "message.state.changed"
	RecordArchivedEvent      EventType = "record.archived"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RecordID  string         `json:"record_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// RecordReceived is emitted after an inbound SMS has been stored as a record.
type RecordReceived struct {
	BaseEvent

	From       string `json:"from"`
	GatewayRef string `json:"gateway_ref,omitempty"`
}

func (r RecordReceived) GetType() EventType {
	return RecordReceivedEvent
}

// MessageStateChanged is emitted for every task state transition that was
// durably written, one event per message.
type MessageStateChanged struct {
	BaseEvent

	MessageID  string           `json:"message_id"`
	State      models.TaskState `json:"state"`
	Details    string           `json:"details,omitempty"`
	GatewayRef string           `json:"gateway_ref,omitempty"`
}

func (m MessageStateChanged) GetType() EventType {
	return MessageStateChangedEvent
}

// RecordArchived is emitted when a completed record has been copied to the
// archive store and purged from the primary one.
type RecordArchived struct {
	BaseEvent

	Rev string `json:"rev"`
}

func (r RecordArchived) GetType() EventType {
	return RecordArchivedEvent
}

func NewBaseEvent(eventType EventType, recordID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RecordID:  recordID,
		Metadata:  make(map[string]any),
	}
}
