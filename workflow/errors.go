//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

package workflow

import "fmt"

// ValidationErrorType identifies the validation stage that rejected a graph.
type ValidationErrorType string

// Validation stages, in the order NewGraph runs them.
const (
	ErrTypeNode         ValidationErrorType = "node"
	ErrTypeEdge         ValidationErrorType = "edge"
	ErrTypeStructure    ValidationErrorType = "structure"
	ErrTypeReachability ValidationErrorType = "reachability"
	ErrTypeCycle        ValidationErrorType = "cycle"
	ErrTypeReference    ValidationErrorType = "reference"
)

// ValidationError reports a malformed graph at construction time. A graph
// that fails validation is never returned, let alone executed.
type ValidationError struct {
	Type    ValidationErrorType
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return "workflow validation: " + e.Message
}

// validationErrorf builds a ValidationError from a format string.
func validationErrorf(typ ValidationErrorType, format string, args ...any) error {
	return &ValidationError{Type: typ, Message: fmt.Sprintf(format, args...)}
}
