package models

import "time"

// TaskState represents the delivery state of a task.
type TaskState string

const (
	StateScheduled          TaskState = "scheduled"
	StateMuted              TaskState = "muted"
	StatePending            TaskState = "pending"
	StateForwardedToGateway TaskState = "forwarded-to-gateway"
	StateReceivedByGateway  TaskState = "received-by-gateway"
	StateForwardedByGateway TaskState = "forwarded-by-gateway"
	StateSent               TaskState = "sent"
	StateDelivered          TaskState = "delivered"
	StateFailed             TaskState = "failed"
	StateDenied             TaskState = "denied"
	StateCleared            TaskState = "cleared"
)

// transitions is the allowed-successor table. A task only ever moves forward
// through the delivery chain; delivery reports may skip intermediate states
// (a provider can report "delivered" straight from "pending"), but never walk
// the chain backwards. delivered, failed, denied and cleared are terminal.
var transitions = map[TaskState][]TaskState{
	StateScheduled:          {StatePending, StateMuted, StateDenied, StateCleared},
	StateMuted:              {StateScheduled, StatePending, StateCleared},
	StatePending:            {StateForwardedToGateway, StateReceivedByGateway, StateForwardedByGateway, StateSent, StateDelivered, StateFailed, StateDenied, StateCleared},
	StateForwardedToGateway: {StateReceivedByGateway, StateForwardedByGateway, StateSent, StateDelivered, StateFailed, StateCleared},
	StateReceivedByGateway:  {StateForwardedByGateway, StateSent, StateDelivered, StateFailed},
	StateForwardedByGateway: {StateSent, StateDelivered, StateFailed},
	StateSent:               {StateDelivered, StateFailed},
	StateDelivered:          {},
	StateFailed:             {},
	StateDenied:             {},
	StateCleared:            {},
}

// Valid reports whether s is a known task state.
func (s TaskState) Valid() bool {
	_, ok := transitions[s]

	return ok
}

// Terminal reports whether s allows no further transitions.
func (s TaskState) Terminal() bool {
	next, ok := transitions[s]

	return ok && len(next) == 0
}

func (s TaskState) canTransitionTo(next TaskState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// StateEntry is one entry of a task's state-history log.
type StateEntry struct {
	State     TaskState `json:"state"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SetState applies a validated state transition to the task and reports
// whether the task was mutated. Unknown target states, disallowed transitions
// and no-ops (same state with the same details) leave the task untouched and
// return false. On mutation the transition is appended to the state history
// and a non-empty gatewayRef is recorded on the task.
func (t *Task) SetState(state TaskState, details string, gatewayRef string) bool {
	if !state.Valid() {
		return false
	}

	if t.State == state && t.StateDetails == details {
		return false
	}

	// A task fresh out of construction has no state yet; any valid state may
	// start the chain. Same-state updates with new details are allowed, only
	// moves to a different state consult the transition table.
	if t.State != "" && t.State != state && !t.State.canTransitionTo(state) {
		return false
	}

	t.State = state
	t.StateDetails = details
	t.StateHistory = append(t.StateHistory, StateEntry{
		State:     state,
		Details:   details,
		Timestamp: time.Now().UTC(),
	})

	if gatewayRef != "" {
		t.GatewayRef = gatewayRef
	}

	return true
}
