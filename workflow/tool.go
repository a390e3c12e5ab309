//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/canopyai/canopy/tool"
)

// Workflow exposes an executor-backed graph as a callable tool, so an agent
// can invoke a whole workflow the way it invokes any other tool. Its input
// schema is derived from the start node's declared inputs.
type Workflow struct {
	name        string
	description string
	executor    *Executor
}

// NewWorkflow wraps an executor as a named tool.
func NewWorkflow(name, description string, executor *Executor) *Workflow {
	return &Workflow{name: name, description: description, executor: executor}
}

// Declaration implements tool.Tool.
func (w *Workflow) Declaration() *tool.Declaration {
	schema := &tool.Schema{
		Type:       "object",
		Properties: make(map[string]*tool.Schema),
	}
	start, _ := w.executor.graph.Node(w.executor.graph.StartID())
	for _, in := range start.Base().Inputs {
		schema.Properties[in.Name] = &tool.Schema{
			Type:        jsonSchemaType(in.Type),
			Description: in.Meta["description"],
		}
		if in.Required {
			schema.Required = append(schema.Required, in.Name)
		}
	}
	return &tool.Declaration{
		Name:        w.name,
		Description: w.description,
		InputSchema: schema,
	}
}

// Call implements tool.CallableTool: the JSON arguments become the run's
// inputs and the run's final outputs are returned as the result.
func (w *Workflow) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	var inputs map[string]any
	if len(jsonArgs) > 0 {
		if err := json.Unmarshal(jsonArgs, &inputs); err != nil {
			return nil, fmt.Errorf("decode workflow arguments: %w", err)
		}
	}
	return w.executor.Invoke(ctx, inputs)
}

// jsonSchemaType maps a variable type onto its JSON schema type name.
func jsonSchemaType(t VariableType) string {
	switch t {
	case VariableTypeInt:
		return "integer"
	case VariableTypeFloat:
		return "number"
	case VariableTypeBoolean:
		return "boolean"
	default:
		return "string"
	}
}
