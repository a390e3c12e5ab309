//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

package tool

// Registry is a read-only lookup table of callable tools, keyed by
// "<provider>/<tool>". It is built once at startup and passed by handle to
// the components that dispatch tool calls; there is no ambient global
// lookup.
type Registry struct {
	tools map[string]CallableTool
}

// NewRegistry creates a registry holding the given tools.
func NewRegistry(tools map[string]CallableTool) *Registry {
	table := make(map[string]CallableTool, len(tools))
	for key, t := range tools {
		table[key] = t
	}
	return &Registry{tools: table}
}

// Get returns the tool registered under provider/name.
func (r *Registry) Get(provider, name string) (CallableTool, bool) {
	t, ok := r.tools[provider+"/"+name]
	return t, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.tools)
}
