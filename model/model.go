//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

// Package model provides interfaces for working with LLMs.
package model

import "context"

// Model is the interface for all language models.
//
// Error handling uses two layers:
//
//  1. Function-level errors (returned as `error`): system-level failures
//     that prevent communication, e.g. a nil request or network issues.
//  2. Response-level errors (Response.Error field): API-level errors
//     returned by the model service, delivered through the response channel
//     as structured errors.
type Model interface {
	// GenerateContent generates content from the given request.
	//
	// Returns a channel of Response objects for streaming results, and an
	// error for system-level failures. Response objects may carry their own
	// Error field for API-level errors.
	GenerateContent(ctx context.Context, request *Request) (<-chan *Response, error)

	// Info returns basic information about the model.
	Info() Info
}

// Info contains basic information about a Model.
type Info struct {
	Provider string
	Name     string
}
