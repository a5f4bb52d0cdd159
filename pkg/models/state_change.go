package models

// StateChange is an ephemeral instruction to transition the task owning a
// message to a new delivery state. It is produced from gateway send responses
// or delivery reports and is never persisted itself.
type StateChange struct {
	MessageID  string    `json:"message_id"`
	State      TaskState `json:"state"`
	Details    string    `json:"details,omitempty"`
	GatewayRef string    `json:"gateway_ref,omitempty"`
}
