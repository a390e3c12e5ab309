//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

// Package tool provides tool interfaces and implementations for the agent
// and workflow systems.
package tool

import "context"

// Tool is implemented by anything that can describe itself to a model.
type Tool interface {
	// Declaration returns the metadata describing the tool.
	Declaration() *Declaration
}

// CallableTool defines the interface for tools that support calling operations.
type CallableTool interface {
	// Call calls the tool with the provided context and JSON-encoded
	// arguments. Returns the result of execution or an error.
	Call(ctx context.Context, jsonArgs []byte) (any, error)

	Tool
}

// Declaration describes the metadata of a tool, such as its name,
// description, and expected arguments.
type Declaration struct {
	// Name is the unique identifier of the tool.
	Name string `json:"name"`

	// Description explains the tool's purpose and functionality.
	Description string `json:"description"`

	// InputSchema defines the expected input in JSON schema format.
	InputSchema *Schema `json:"inputSchema,omitempty"`
}

// Schema represents the subset of JSON Schema used for declaring tool
// arguments.
type Schema struct {
	// Type specifies the data type ("object", "array", "string", "number", ...).
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Required    []string `json:"required,omitempty"`
	// Properties of the arguments, each with its own schema.
	Properties map[string]*Schema `json:"properties,omitempty"`
	// Items defines the schema of array elements for array types.
	Items *Schema `json:"items,omitempty"`
}
