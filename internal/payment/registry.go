package payment

import (
	"strings"

	"github.com/smallbiznis/tiendly/internal/payment/domain"
)

// Registry resolves providers by name. Lookups are case-insensitive.
type Registry struct {
	providers map[string]domain.Provider
}

func NewRegistry(providers ...domain.Provider) *Registry {
	registry := &Registry{providers: map[string]domain.Provider{}}
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(provider.Name()))
		if name == "" {
			continue
		}
		registry.providers[name] = provider
	}
	return registry
}

func (r *Registry) Exists(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

func (r *Registry) Get(name string) (domain.Provider, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return provider, nil
}
