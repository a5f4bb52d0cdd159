// Package gateway defines the outbound SMS provider contract and the registry
// that resolves the configured provider by name.
package gateway

import (
	"context"

	"github.com/dukex/smsbridge/pkg/models"
)

// Result is the per-message outcome of a gateway send. Results are parallel
// to the input batch: result i belongs to message i. On success, State is the
// delivery state the provider reported and GatewayRef its identifier for the
// message.
type Result struct {
	Success    bool
	State      models.TaskState
	GatewayRef string
	Details    string
}

// Provider is an SMS gateway implementation. Push reports whether the
// provider accepts outbound batches; pull-only gateways collect messages
// themselves and must not be sent to, or the same message goes out twice.
type Provider interface {
	ID() string
	Push() bool
	Send(ctx context.Context, batch []models.PendingMessage) ([]Result, error)
}
