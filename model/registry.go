//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

package model

import "fmt"

// Factory builds a Model instance for one provider. The name argument is the
// provider-specific model name, e.g. "gpt-4o-mini".
type Factory func(name string) (Model, error)

// Registry maps provider identifiers to model factories. The table is fixed
// at construction: supported providers are registered once at startup and
// the registry is read-only afterwards, so it is safe for concurrent use.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates a registry from the given provider table.
func NewRegistry(factories map[string]Factory) *Registry {
	table := make(map[string]Factory, len(factories))
	for provider, factory := range factories {
		table[provider] = factory
	}
	return &Registry{factories: table}
}

// Resolve builds a model for the given provider and model name.
func (r *Registry) Resolve(provider, name string) (Model, error) {
	factory, ok := r.factories[provider]
	if !ok {
		return nil, fmt.Errorf("model provider %q is not registered", provider)
	}
	return factory(name)
}

// Providers returns the registered provider identifiers.
func (r *Registry) Providers() []string {
	providers := make([]string, 0, len(r.factories))
	for provider := range r.factories {
		providers = append(providers, provider)
	}
	return providers
}
