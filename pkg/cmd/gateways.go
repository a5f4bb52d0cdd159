package cmd

import (
	"log/slog"
	"os"

	"github.com/dukex/smsbridge/pkg/gateway"
	"github.com/dukex/smsbridge/pkg/gateway/africastalking"
	"github.com/dukex/smsbridge/pkg/gateway/smsgateway"
)

// NewGatewayRegistry registers every known gateway provider. Provider
// credentials come from the environment; a provider with no credentials is
// still registered and fails at send time, which surfaces misconfiguration in
// the logs instead of silently dropping messages.
func NewGatewayRegistry(logger *slog.Logger) *gateway.Registry {
	registry := gateway.NewRegistry(logger)

	registry.Register(africastalking.NewProvider(
		logger,
		os.Getenv("AFRICAS_TALKING_USERNAME"),
		os.Getenv("AFRICAS_TALKING_API_KEY"),
		os.Getenv("AFRICAS_TALKING_BASE_URL"),
	))
	registry.Register(smsgateway.NewProvider())

	return registry
}
