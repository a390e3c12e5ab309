//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

// Package agent implements the tool-calling agent: a fixed reasoning
// pipeline that runs a bounded loop against a language model and external
// tools on a background goroutine, streaming typed events to a foreground
// consumer through a per-task queue.
package agent

import (
	"context"
	"strings"
	"time"

	"github.com/canopyai/canopy/model"
	"github.com/canopyai/canopy/tool"
)

// InvokeFrom identifies where a run was started from. It decides the
// ownership prefix used to authorize out-of-band stop requests.
type InvokeFrom string

// Invocation sources.
const (
	InvokeFromDebugger   InvokeFrom = "debugger"
	InvokeFromWebApp     InvokeFrom = "web_app"
	InvokeFromServiceAPI InvokeFrom = "service_api"
	InvokeFromEndUser    InvokeFrom = "end_user"
)

// SystemPromptTemplate is the agent's preset system prompt. The
// {preset_prompt} and {long_term_memory} slots are filled per run.
const SystemPromptTemplate = `You are a highly customized intelligent agent that generates accurate, professional content and answers for the user. Follow these rules strictly:

1. Execute the preset task: generate content according to the user's preset prompt (PRESET-PROMPT) so the output matches their expectations.
2. Tool calls: when the task requires it, call the bound external tools (knowledge retrieval, calculators, ...) with well-formed arguments.
3. Conversation history and long-term memory: use the conversation history together with the summarized long-term memory to keep replies consistent and personalized across turns.
4. External knowledge: when the question exceeds your knowledge, call dataset_retrieval to look up the linked knowledge bases.
5. Be precise and concise; avoid irrelevant padding.

<preset-prompt>
{preset_prompt}
</preset-prompt>

<long-term-memory>
{long_term_memory}
</long-term-memory>
`

// MaxIterationResponse is the canned answer emitted when the reasoning loop
// hits its iteration limit.
const MaxIterationResponse = "The agent has exceeded its iteration limit, please retry."

// defaultMaxIterationCount bounds the reasoning loop.
const defaultMaxIterationCount = 5

// ReviewConfig controls keyword moderation of agent input and output.
type ReviewConfig struct {
	// Enable turns moderation on.
	Enable bool `json:"enable"`

	// Keywords is the banned keyword list, matched case-insensitively.
	Keywords []string `json:"keywords"`

	// InputsConfig short-circuits runs whose query contains a keyword.
	InputsConfig struct {
		Enable         bool   `json:"enable"`
		PresetResponse string `json:"preset_response"`
	} `json:"inputs_config"`

	// OutputsConfig masks keywords in generated output.
	OutputsConfig struct {
		Enable bool `json:"enable"`
	} `json:"outputs_config"`
}

// Config carries everything one agent needs: the invoking identity, the
// preset prompt, bound tools, memory switches, and moderation settings.
type Config struct {
	// UserID is the invoking user identity.
	UserID string

	// InvokeFrom is the invocation source.
	InvokeFrom InvokeFrom

	// MaxIterationCount bounds the number of model calls in one run. Nil
	// means the default of 5. An explicit zero allows none: the first call
	// already trips the limit and yields the canned limit response.
	MaxIterationCount *int

	// SystemPrompt is the system prompt template.
	SystemPrompt string

	// PresetPrompt is the user-authored preset filled into the template.
	PresetPrompt string

	// EnableLongTermMemory turns long-term memory recall on.
	EnableLongTermMemory bool

	// Tools are the callable tools bound to the agent.
	Tools []tool.CallableTool

	// Review carries the moderation settings.
	Review ReviewConfig
}

// IterationLimit returns n as a Config.MaxIterationCount value, keeping an
// explicit zero distinguishable from an unset field.
func IterationLimit(n int) *int { return &n }

// normalize fills config defaults.
func (c *Config) normalize() {
	if c.MaxIterationCount == nil || *c.MaxIterationCount < 0 {
		c.MaxIterationCount = IterationLimit(defaultMaxIterationCount)
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = SystemPromptTemplate
	}
	if c.InvokeFrom == "" {
		c.InvokeFrom = InvokeFromWebApp
	}
}

// State is the mutable conversation state of one agent run. It is owned
// exclusively by that run and discarded after the terminal event.
type State struct {
	// TaskID is the run's task identifier.
	TaskID string

	// Messages is the working prompt, append-only from the pipeline's
	// perspective within one run.
	Messages []model.Message

	// History is the short-term memory, fixed at run start.
	History []model.Message

	// LongTermMemory is the summarized long-term memory text.
	LongTermMemory string

	// IterationCount counts completed tool-calling iterations.
	IterationCount int
}

// KeyValueStore is the shared store the engine coordinates through. It must
// support atomic set-with-TTL; it is the sole cross-process coordination
// point for ownership records and stop flags.
type KeyValueStore interface {
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// renderSystemPrompt fills the template slots.
func renderSystemPrompt(template, presetPrompt, longTermMemory string) string {
	return strings.NewReplacer(
		"{preset_prompt}", presetPrompt,
		"{long_term_memory}", longTermMemory,
	).Replace(template)
}
