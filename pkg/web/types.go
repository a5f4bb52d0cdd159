package web

import (
	"github.com/dukex/smsbridge/pkg/ingest"
	"github.com/dukex/smsbridge/pkg/models"
)

// SubmitMessagesRequest is the inbound batch posted by a gateway.
type SubmitMessagesRequest struct {
	Messages []ingest.InboundMessage `json:"messages" validate:"required,min=1,dive"`
}

// StateChangeRequest is one delivery status update reported by a gateway.
type StateChangeRequest struct {
	MessageID  string `json:"message_id"  validate:"required"`
	State      string `json:"state"       validate:"required"`
	Details    string `json:"details"`
	GatewayRef string `json:"gateway_ref"`
}

// UpdateStatesRequest is a batch of delivery status updates.
type UpdateStatesRequest struct {
	Updates []StateChangeRequest `json:"updates" validate:"required,min=1,dive"`
}

// PendingMessagesResponse is what a pull gateway collects.
type PendingMessagesResponse struct {
	Messages []models.PendingMessage `json:"messages"`
}
