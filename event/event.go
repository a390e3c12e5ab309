//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

// Package event provides the typed event stream emitted by agent runs.
package event

import (
	"github.com/google/uuid"

	"github.com/canopyai/canopy/model"
)

// Kind identifies one observable step of an agent run.
type Kind string

// Event kinds.
const (
	KindLongTermMemoryRecall Kind = "long_term_memory_recall"
	KindAgentThought         Kind = "agent_thought"
	KindAgentMessage         Kind = "agent_message"
	KindAgentAction          Kind = "agent_action"
	KindDatasetRetrieval     Kind = "dataset_retrieval"
	KindAgentEnd             Kind = "agent_end"
	KindStop                 Kind = "stop"
	KindError                Kind = "error"
	KindTimeout              Kind = "timeout"
	KindPing                 Kind = "ping"
)

// Terminal reports whether the kind ends a run's event stream. Publishing a
// terminal event closes the task queue.
func (k Kind) Terminal() bool {
	switch k {
	case KindStop, KindError, KindTimeout, KindAgentEnd:
		return true
	}
	return false
}

// Event is one typed record of an agent run: a message delta, a reasoning
// step, a tool action, or a control signal. AgentMessage events belonging to
// one model turn share an ID and are merged by the consumer.
type Event struct {
	ID     string `json:"id"`
	TaskID string `json:"task_id"`
	Kind   Kind   `json:"event"`

	// Reasoning and observation of the step.
	Thought     string `json:"thought"`
	Observation string `json:"observation"`

	// Tool invocation fields.
	Tool      string         `json:"tool"`
	ToolInput map[string]any `json:"tool_input"`

	// Prompt snapshot for the turn.
	Message           []model.Message `json:"message"`
	MessageTokenCount int             `json:"message_token_count"`
	MessageUnitPrice  float64         `json:"message_unit_price"`
	MessagePriceUnit  float64         `json:"message_price_unit"`

	// Answer produced by the turn.
	Answer           string  `json:"answer"`
	AnswerTokenCount int     `json:"answer_token_count"`
	AnswerUnitPrice  float64 `json:"answer_unit_price"`
	AnswerPriceUnit  float64 `json:"answer_price_unit"`

	// Run statistics.
	TotalTokenCount int     `json:"total_token_count"`
	TotalPrice      float64 `json:"total_price"`
	Latency         float64 `json:"latency"`
}

// Option configures a new Event.
type Option func(*Event)

// WithID overrides the generated event ID. AgentMessage events of one turn
// use this to share the turn's message ID.
func WithID(id string) Option {
	return func(e *Event) { e.ID = id }
}

// WithThought sets the thought text.
func WithThought(thought string) Option {
	return func(e *Event) { e.Thought = thought }
}

// WithObservation sets the observation text.
func WithObservation(observation string) Option {
	return func(e *Event) { e.Observation = observation }
}

// WithAnswer sets the answer text.
func WithAnswer(answer string) Option {
	return func(e *Event) { e.Answer = answer }
}

// WithTool sets the tool name and its parsed input.
func WithTool(name string, input map[string]any) Option {
	return func(e *Event) {
		e.Tool = name
		e.ToolInput = input
	}
}

// WithMessage sets the prompt snapshot for the turn.
func WithMessage(messages []model.Message) Option {
	return func(e *Event) { e.Message = messages }
}

// WithLatency sets the latency in seconds.
func WithLatency(latency float64) Option {
	return func(e *Event) { e.Latency = latency }
}

// WithUsage records token counters from model usage.
func WithUsage(usage *model.Usage) Option {
	return func(e *Event) {
		if usage == nil {
			return
		}
		e.MessageTokenCount = usage.PromptTokens
		e.AnswerTokenCount = usage.CompletionTokens
		e.TotalTokenCount = usage.TotalTokens
	}
}

// New creates a new event of the given kind with a generated ID.
func New(taskID string, kind Kind, opts ...Option) *Event {
	e := &Event{
		ID:     uuid.NewString(),
		TaskID: taskID,
		Kind:   kind,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewError creates an error event carrying the failure as its observation.
func NewError(taskID string, err error) *Event {
	return New(taskID, KindError, WithObservation(err.Error()))
}

// Merge folds a later event of the same logical turn into e. Thought and
// answer text are concatenated; the prompt snapshot keeps the first non-empty
// value; counters and latency are replaced only when the delta carries them,
// which makes merging an empty-text event a no-op.
func (e *Event) Merge(delta *Event) {
	if delta == nil {
		return
	}
	e.Thought += delta.Thought
	e.Answer += delta.Answer
	if len(e.Message) == 0 {
		e.Message = delta.Message
	}
	if delta.Latency > 0 {
		e.Latency = delta.Latency
	}
	if delta.MessageTokenCount > 0 {
		e.MessageTokenCount = delta.MessageTokenCount
	}
	if delta.AnswerTokenCount > 0 {
		e.AnswerTokenCount = delta.AnswerTokenCount
	}
	if delta.TotalTokenCount > 0 {
		e.TotalTokenCount = delta.TotalTokenCount
	}
	if delta.TotalPrice > 0 {
		e.TotalPrice = delta.TotalPrice
	}
}
