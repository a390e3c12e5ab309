//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

// Package workflow provides the DAG validator and executor for user-authored
// workflows: typed nodes wired by edges, validated at construction and driven
// topologically over a shared accumulating state.
package workflow

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// VariableType is the declared type of a node input or output.
type VariableType string

// Variable types.
const (
	VariableTypeString  VariableType = "string"
	VariableTypeInt     VariableType = "int"
	VariableTypeFloat   VariableType = "float"
	VariableTypeBoolean VariableType = "boolean"
)

// variableTypeDefaults maps each variable type to its zero value, used when a
// referenced or returned value is absent.
var variableTypeDefaults = map[VariableType]any{
	VariableTypeString:  "",
	VariableTypeInt:     int64(0),
	VariableTypeFloat:   float64(0),
	VariableTypeBoolean: false,
}

// Default returns the type's zero value.
func (t VariableType) Default() any {
	if v, ok := variableTypeDefaults[t]; ok {
		return v
	}
	return ""
}

// Valid reports whether t is a known variable type.
func (t VariableType) Valid() bool {
	_, ok := variableTypeDefaults[t]
	return ok
}

// Cast coerces a dynamically typed value to the variable type.
func (t VariableType) Cast(v any) (any, error) {
	if v == nil {
		return t.Default(), nil
	}
	switch t {
	case VariableTypeString:
		switch x := v.(type) {
		case string:
			return x, nil
		default:
			return fmt.Sprintf("%v", x), nil
		}
	case VariableTypeInt:
		switch x := v.(type) {
		case int64:
			return x, nil
		case int:
			return int64(x), nil
		case float64:
			return int64(x), nil
		case string:
			n, err := strconv.ParseInt(x, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cast %q to int: %w", x, err)
			}
			return n, nil
		}
	case VariableTypeFloat:
		switch x := v.(type) {
		case float64:
			return x, nil
		case int64:
			return float64(x), nil
		case int:
			return float64(x), nil
		case string:
			f, err := strconv.ParseFloat(x, 64)
			if err != nil {
				return nil, fmt.Errorf("cast %q to float: %w", x, err)
			}
			return f, nil
		}
	case VariableTypeBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(x)
			if err != nil {
				return nil, fmt.Errorf("cast %q to boolean: %w", x, err)
			}
			return b, nil
		}
	}
	return nil, fmt.Errorf("cannot cast %T to %s", v, t)
}

// ValueKind distinguishes how a variable gets its value.
type ValueKind string

// Value kinds. Literal carries a fixed value, Ref points at another node's
// named output, Generated is produced by the node itself at run time.
const (
	ValueLiteral   ValueKind = "literal"
	ValueRef       ValueKind = "ref"
	ValueGenerated ValueKind = "generated"
)

// VariableValue is a literal, a reference to another node's output, or a
// marker for a run-time generated value.
type VariableValue struct {
	Kind       ValueKind `json:"type"`
	Literal    any       `json:"-"`
	RefNodeID  string    `json:"-"`
	RefVarName string    `json:"-"`
}

// refContent is the wire shape of a ref value's content.
type refContent struct {
	RefNodeID  string `json:"ref_node_id"`
	RefVarName string `json:"ref_var_name"`
}

// UnmarshalJSON decodes the tagged wire shape: `{"type":"literal","content":
// <any>}`, `{"type":"ref","content":{"ref_node_id":...,"ref_var_name":...}}`,
// or `{"type":"generated"}`.
func (v *VariableValue) UnmarshalJSON(data []byte) error {
	var raw struct {
		Kind    ValueKind       `json:"type"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v.Kind = raw.Kind
	switch raw.Kind {
	case ValueLiteral:
		if len(raw.Content) > 0 {
			if err := json.Unmarshal(raw.Content, &v.Literal); err != nil {
				return err
			}
		}
	case ValueRef:
		var ref refContent
		if err := json.Unmarshal(raw.Content, &ref); err != nil {
			return err
		}
		v.RefNodeID = ref.RefNodeID
		v.RefVarName = ref.RefVarName
	case ValueGenerated:
	default:
		return fmt.Errorf("unknown variable value type %q", raw.Kind)
	}
	return nil
}

// MarshalJSON encodes the tagged wire shape.
func (v VariableValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueLiteral:
		return json.Marshal(struct {
			Kind    ValueKind `json:"type"`
			Content any       `json:"content"`
		}{v.Kind, v.Literal})
	case ValueRef:
		return json.Marshal(struct {
			Kind    ValueKind  `json:"type"`
			Content refContent `json:"content"`
		}{v.Kind, refContent{v.RefNodeID, v.RefVarName}})
	default:
		return json.Marshal(struct {
			Kind ValueKind `json:"type"`
		}{v.Kind})
	}
}

// VariableEntity is one declared input or output of a workflow node.
type VariableEntity struct {
	Name     string            `json:"name"`
	Type     VariableType      `json:"type"`
	Required bool              `json:"required"`
	Meta     map[string]string `json:"meta,omitempty"`
	Value    VariableValue     `json:"value"`
}

// validate checks an entity's name and type.
func (e *VariableEntity) validate() error {
	if e.Name == "" {
		return fmt.Errorf("variable name cannot be empty")
	}
	if e.Type == "" {
		e.Type = VariableTypeString
	}
	if !e.Type.Valid() {
		return fmt.Errorf("variable %s: unknown type %q", e.Name, e.Type)
	}
	return nil
}
