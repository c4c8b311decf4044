// Package registry defines the service registry lookup collaborator. The
// registry itself is an external system; the orchestrator only asks it for
// live providers of a service definition.
package registry

import "context"

// ProviderDescriptor describes one live service instance known to the
// registry.
type ProviderDescriptor struct {
	SystemName        string            `json:"systemName"`
	ServiceInstanceID string            `json:"serviceInstanceId"`
	Addresses         []string          `json:"addresses"`
	Metadata          map[string]string `json:"metadata"`
}

// LookupFilter narrows a provider lookup.
type LookupFilter struct {
	PreferredProviders []string
}

// Lookup resolves live providers for a service definition.
type Lookup interface {
	FindProviders(ctx context.Context, serviceDefinition string, filter LookupFilter) ([]ProviderDescriptor, error)
}

// LookupFunc adapts a function to the Lookup interface.
type LookupFunc func(ctx context.Context, serviceDefinition string, filter LookupFilter) ([]ProviderDescriptor, error)

func (f LookupFunc) FindProviders(ctx context.Context, serviceDefinition string, filter LookupFilter) ([]ProviderDescriptor, error) {
	if f == nil {
		return nil, nil
	}
	return f(ctx, serviceDefinition, filter)
}
