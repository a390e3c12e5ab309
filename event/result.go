//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

package event

import "github.com/canopyai/canopy/model"

// Status is the terminal status of an aggregated agent run.
type Status string

// Run statuses. Stop, Timeout and Error mirror the terminal event kinds that
// produced them.
const (
	StatusNormal  Status = "normal"
	StatusStop    Status = "stop"
	StatusTimeout Status = "timeout"
	StatusError   Status = "error"
)

// AgentResult is the aggregate of a fully drained agent event stream, used
// by non-streaming callers.
type AgentResult struct {
	Query string `json:"query"`

	Message           []model.Message `json:"message"`
	MessageTokenCount int             `json:"message_token_count"`

	Answer           string `json:"answer"`
	AnswerTokenCount int    `json:"answer_token_count"`

	TotalTokenCount int     `json:"total_token_count"`
	TotalPrice      float64 `json:"total_price"`
	Latency         float64 `json:"latency"`

	Status Status `json:"status"`
	Error  string `json:"error"`

	// AgentThoughts is the merged, ordered event trace of the run, ping
	// events excluded.
	AgentThoughts []*Event `json:"agent_thoughts"`
}
