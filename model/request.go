//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

package model

import "github.com/canopyai/canopy/tool"

// Role represents the role of a message author.
type Role string

// Role constants for message authors.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Message represents a single message in a conversation.
type Message struct {
	Role      Role       `json:"role"`                 // The role of the message author.
	Content   string     `json:"content"`              // The message content.
	ToolID    string     `json:"tool_id,omitempty"`    // Used by tool response messages.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"` // Tool calls requested by the model.
}

// ToolCall represents a single tool invocation requested by the model.
type ToolCall struct {
	// ID is the provider-assigned identifier correlating the call with its
	// tool response message.
	ID string `json:"id"`

	// Name is the tool to invoke.
	Name string `json:"name"`

	// Arguments is the raw JSON-encoded argument object.
	Arguments []byte `json:"arguments"`
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// NewToolMessage creates a new tool response message for the given call ID.
func NewToolMessage(toolID, content string) Message {
	return Message{Role: RoleTool, ToolID: toolID, Content: content}
}

// Append accumulates a streamed delta into the message. Content is
// concatenated; tool call fragments are merged by call index so that a full
// message can be assembled chunk by chunk.
func (m *Message) Append(delta Message) {
	if m.Role == "" {
		m.Role = delta.Role
	}
	m.Content += delta.Content
	for _, tc := range delta.ToolCalls {
		if tc.ID != "" || len(m.ToolCalls) == 0 {
			m.ToolCalls = append(m.ToolCalls, tc)
			continue
		}
		// Fragment without an ID extends the most recent call's arguments.
		last := &m.ToolCalls[len(m.ToolCalls)-1]
		last.Arguments = append(last.Arguments, tc.Arguments...)
		if tc.Name != "" {
			last.Name += tc.Name
		}
	}
}

// GenerationConfig contains configuration for text generation.
type GenerationConfig struct {
	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens *int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0 to 2.0).
	Temperature *float64 `json:"temperature,omitempty"`

	// TopP controls nucleus sampling (0.0 to 1.0).
	TopP *float64 `json:"top_p,omitempty"`

	// Stream indicates whether to stream the response.
	Stream bool `json:"stream"`

	// Stop sequences where the API will stop generating further tokens.
	Stop []string `json:"stop,omitempty"`
}

// Request is the request to the model.
type Request struct {
	// Messages is the conversation history.
	Messages []Message `json:"messages"`

	// Tools declares the tools the model may call.
	Tools []*tool.Declaration `json:"tools,omitempty"`

	// GenerationConfig carries the generation parameters.
	GenerationConfig `json:",inline"`
}
