// Package models defines the core domain models for the SMS store-and-forward layer.
package models

import "time"

// Record is a persisted workflow record. It owns tasks in two parallel
// collections, "tasks" and "scheduled_tasks"; both are equivalent for message
// lookup. Rev is the store's opaque revision token used for conditional writes.
type Record struct {
	ID             string      `json:"_id"`
	Rev            string      `json:"_rev,omitempty"`
	Form           string      `json:"form,omitempty"`
	From           string      `json:"from,omitempty"`
	SMS            *SMSMessage `json:"sms_message,omitempty"`
	Tasks          []*Task     `json:"tasks,omitempty"`
	ScheduledTasks []*Task     `json:"scheduled_tasks,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// SMSMessage is the originating inbound message of a record created by
// ingestion. GatewayRef is the provider's identifier and is what the
// deduplication index is keyed on.
type SMSMessage struct {
	From       string `json:"from"`
	Content    string `json:"message"`
	GatewayRef string `json:"gateway_ref"`
}

// Task is a workflow step inside a record, carrying a delivery state and the
// messages dispatched for it.
type Task struct {
	State        TaskState    `json:"state"`
	StateDetails string       `json:"state_details,omitempty"`
	StateHistory []StateEntry `json:"state_history,omitempty"`
	GatewayRef   string       `json:"gateway_ref,omitempty"`
	Messages     []*Message   `json:"messages,omitempty"`
}

// Message is a single outbound text unit. UUID is unique across the whole
// store (enforced by the message index) and never changes after creation.
type Message struct {
	UUID       string `json:"uuid"`
	To         string `json:"to"`
	Content    string `json:"message"`
	GatewayRef string `json:"gateway_ref,omitempty"`
}

// PendingMessage is the flattened form handed to a gateway provider. Element i
// of a batch pairs with element i of the provider's response.
type PendingMessage struct {
	ID      string `json:"id"`
	To      string `json:"to"`
	Content string `json:"content"`
}

// NewInboundRecord builds the record seed for one inbound message. The
// workflow pipeline fills in everything else.
func NewInboundRecord(from, content, gatewayRef string) *Record {
	return &Record{
		From: from,
		SMS: &SMSMessage{
			From:       from,
			Content:    content,
			GatewayRef: gatewayRef,
		},
	}
}

// AllTasks returns the record's tasks in lookup order: the active collection
// first, then the scheduled one.
func (r *Record) AllTasks() []*Task {
	tasks := make([]*Task, 0, len(r.Tasks)+len(r.ScheduledTasks))
	tasks = append(tasks, r.Tasks...)
	tasks = append(tasks, r.ScheduledTasks...)

	return tasks
}

// TaskForMessage returns the task owning the message with the given uuid, or
// nil if no task in either collection carries it.
func (r *Record) TaskForMessage(uuid string) *Task {
	for _, task := range r.AllTasks() {
		for _, msg := range task.Messages {
			if msg.UUID == uuid {
				return task
			}
		}
	}

	return nil
}

// SendableMessages returns the record's currently sendable messages in
// collection, task, message order. A message is sendable while its task is
// pending or forwarded-to-gateway and it has a uuid, destination and body.
func (r *Record) SendableMessages() []PendingMessage {
	pending := make([]PendingMessage, 0)

	for _, task := range r.AllTasks() {
		if task.State != StatePending && task.State != StateForwardedToGateway {
			continue
		}

		for _, msg := range task.Messages {
			if msg.UUID == "" || msg.To == "" || msg.Content == "" {
				continue
			}

			pending = append(pending, PendingMessage{
				ID:      msg.UUID,
				To:      msg.To,
				Content: msg.Content,
			})
		}
	}

	return pending
}

// Completed reports whether every task of the record reached a terminal state.
// Records with no tasks are never considered completed; they may still be
// waiting on the pipeline.
func (r *Record) Completed() bool {
	tasks := r.AllTasks()
	if len(tasks) == 0 {
		return false
	}

	for _, task := range tasks {
		if !task.State.Terminal() {
			return false
		}
	}

	return true
}
