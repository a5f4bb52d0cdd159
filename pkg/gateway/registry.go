package gateway

import (
	"log/slog"
)

// Registry holds the known gateway providers keyed by id. The configured
// outgoing service is resolved against it once per call, never through global
// dispatch tables.
type Registry struct {
	logger    *slog.Logger
	providers map[string]Provider
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger,
		providers: make(map[string]Provider),
	}
}

func (r *Registry) Register(provider Provider) {
	r.providers[provider.ID()] = provider

	r.logger.Info("Registered gateway provider", "provider", provider.ID(), "push", provider.Push())
}

// Resolve returns the provider registered under the given id.
func (r *Registry) Resolve(id string) (Provider, bool) {
	provider, ok := r.providers[id]

	return provider, ok
}

// Providers returns the ids of all registered providers.
func (r *Registry) Providers() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}

	return ids
}
