//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

// Package codeexecutor is the isolation boundary for user-submitted code.
// Workflow code nodes never execute code in the host process; they hand it
// to a CodeExecutor implementation with its own resource limits.
package codeexecutor

import "context"

// Input carries one code execution request. Code must define a single
// function main(params) returning a JSON-serializable mapping.
type Input struct {
	// Code is the user-submitted source.
	Code string

	// Params is the argument mapping passed to main.
	Params map[string]any

	// ExecutionID correlates the execution with its originating run.
	ExecutionID string
}

// Result is the outcome of a code execution.
type Result struct {
	// Output is the raw JSON object returned by main.
	Output []byte

	// Stdout is everything the code printed before the result marker.
	Stdout string
}

// CodeExecutor executes user code outside the host process.
type CodeExecutor interface {
	ExecuteCode(ctx context.Context, input Input) (Result, error)
}
