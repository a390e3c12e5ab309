//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"

	"github.com/canopyai/canopy/event"
	"github.com/canopyai/canopy/knowledge"
	"github.com/canopyai/canopy/log"
	"github.com/canopyai/canopy/model"
	"github.com/canopyai/canopy/tool"
)

// FunctionCallAgent drives one agent run as a tool-calling loop: recall
// long-term memory, call the model, dispatch requested tools, and repeat
// until the model answers with plain text or the iteration limit is reached.
// Every observable step is published to the run's task queue.
type FunctionCallAgent struct {
	config Config
	model  model.Model
	tools  map[string]tool.CallableTool
}

// NewFunctionCallAgent creates the state machine for one agent configuration.
func NewFunctionCallAgent(cfg Config, m model.Model) *FunctionCallAgent {
	cfg.normalize()
	tools := make(map[string]tool.CallableTool, len(cfg.Tools))
	for _, t := range cfg.Tools {
		tools[t.Declaration().Name] = t
	}
	return &FunctionCallAgent{config: cfg, model: m, tools: tools}
}

// Run executes the full agent loop for the given state, publishing events to
// the queue. It returns once a terminal event has been published.
func (a *FunctionCallAgent) Run(ctx context.Context, state *State, queue *TaskQueue) error {
	if done, err := a.presetCheck(ctx, state, queue); done || err != nil {
		return err
	}
	if err := a.memoryRecall(ctx, state, queue); err != nil {
		return err
	}
	for {
		rsp, err := a.llmCall(ctx, state, queue)
		if err != nil || rsp == nil {
			return err
		}
		if err := a.toolDispatch(ctx, state, queue, rsp); err != nil {
			return err
		}
	}
}

// presetCheck screens the user query against the input review keywords. On a
// hit it publishes the preset response and ends the run.
func (a *FunctionCallAgent) presetCheck(ctx context.Context, state *State, queue *TaskQueue) (bool, error) {
	review := a.config.Review
	if !review.Enable || !review.InputsConfig.Enable {
		return false, nil
	}
	query := lastUserContent(state.Messages)
	for _, keyword := range review.Keywords {
		if keyword == "" || !strings.Contains(query, keyword) {
			continue
		}
		preset := review.InputsConfig.PresetResponse
		if err := queue.Publish(ctx, event.New(state.TaskID, event.KindAgentMessage,
			event.WithAnswer(preset),
			event.WithMessage(state.Messages),
		)); err != nil {
			return true, err
		}
		return true, queue.Publish(ctx, event.New(state.TaskID, event.KindAgentEnd))
	}
	return false, nil
}

// memoryRecall assembles the turn's prompt: system prompt, prior history, and
// the current query. When long-term memory is enabled a recall event records
// the memory that was injected.
func (a *FunctionCallAgent) memoryRecall(ctx context.Context, state *State, queue *TaskQueue) error {
	if a.config.EnableLongTermMemory {
		if err := queue.Publish(ctx, event.New(state.TaskID, event.KindLongTermMemoryRecall,
			event.WithObservation(state.LongTermMemory),
		)); err != nil {
			return err
		}
	}
	system := renderSystemPrompt(a.config.SystemPrompt, a.config.PresetPrompt, state.LongTermMemory)

	history := state.History
	if len(history)%2 != 0 {
		log.Warnf("task %s: history has odd message count %d, model may behave unexpectedly", state.TaskID, len(history))
	}

	messages := make([]model.Message, 0, len(history)+2)
	messages = append(messages, model.NewSystemMessage(system))
	messages = append(messages, history...)
	messages = append(messages, state.Messages...)
	state.Messages = messages
	return nil
}

// llmCall runs one model turn. Streamed content deltas are published as
// agent-message events sharing the turn's message ID. A text answer ends the
// run; requested tool calls are recorded as an agent-thought event and
// returned for dispatch.
func (a *FunctionCallAgent) llmCall(ctx context.Context, state *State, queue *TaskQueue) (*model.Response, error) {
	state.IterationCount++
	if state.IterationCount > *a.config.MaxIterationCount {
		if err := queue.Publish(ctx, event.New(state.TaskID, event.KindAgentMessage,
			event.WithAnswer(MaxIterationResponse),
			event.WithMessage(state.Messages),
		)); err != nil {
			return nil, err
		}
		return nil, queue.Publish(ctx, event.New(state.TaskID, event.KindAgentEnd))
	}

	start := time.Now()
	messageID := uuid.NewString()
	prompt := append([]model.Message(nil), state.Messages...)

	stream, err := a.model.GenerateContent(ctx, &model.Request{
		Messages: state.Messages,
		Tools:    a.declarations(),
		GenerationConfig: model.GenerationConfig{
			Stream: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}

	// The final Done response carries the fully accumulated message, so the
	// deltas only feed the outgoing stream, never the conversation state.
	var (
		assistant model.Message
		final     *model.Response
		streamed  bool
	)
	for rsp := range stream {
		if rsp.Error != nil {
			return nil, fmt.Errorf("model stream: %s", rsp.Error.Message)
		}
		if rsp.Done {
			final = rsp
			if len(rsp.Choices) > 0 {
				assistant = rsp.Choices[0].Message
			}
			continue
		}
		if len(rsp.Choices) == 0 || rsp.Choices[0].Delta.Content == "" {
			continue
		}
		if err := queue.Publish(ctx, event.New(state.TaskID, event.KindAgentMessage,
			event.WithID(messageID),
			event.WithAnswer(a.reviewOutput(rsp.Choices[0].Delta.Content)),
			event.WithMessage(prompt),
		)); err != nil {
			return nil, err
		}
		streamed = true
	}

	latency := time.Since(start).Seconds()
	assistant.Role = model.RoleAssistant
	state.Messages = append(state.Messages, assistant)

	var usage *model.Usage
	if final != nil {
		usage = final.Usage
	}

	if len(assistant.ToolCalls) > 0 {
		thought, _ := json.Marshal(assistant.ToolCalls)
		if err := queue.Publish(ctx, event.New(state.TaskID, event.KindAgentThought,
			event.WithThought(string(thought)),
			event.WithMessage(prompt),
			event.WithUsage(usage),
			event.WithLatency(latency),
		)); err != nil {
			return nil, err
		}
		return final, nil
	}

	// Plain answer, the run is complete. When nothing was streamed (a
	// single-shot response) the closing event carries the full answer;
	// otherwise the chunks already delivered it.
	finalAnswer := ""
	if !streamed {
		finalAnswer = a.reviewOutput(assistant.Content)
	}
	if err := queue.Publish(ctx, event.New(state.TaskID, event.KindAgentMessage,
		event.WithID(messageID),
		event.WithAnswer(finalAnswer),
		event.WithMessage(prompt),
		event.WithUsage(usage),
		event.WithLatency(latency),
	)); err != nil {
		return nil, err
	}
	return nil, queue.Publish(ctx, event.New(state.TaskID, event.KindAgentEnd))
}

// toolDispatch executes every tool call of the model turn, publishing one
// action event per call and appending the observation as a tool message. Tool
// failures become observations; the run continues.
func (a *FunctionCallAgent) toolDispatch(ctx context.Context, state *State, queue *TaskQueue, rsp *model.Response) error {
	calls := state.Messages[len(state.Messages)-1].ToolCalls
	for _, call := range calls {
		args := repairArguments(call.Arguments)
		observation := a.invokeTool(ctx, call.Name, args)

		kind := event.KindAgentAction
		if call.Name == knowledge.DatasetRetrievalToolName {
			kind = event.KindDatasetRetrieval
		}
		var input map[string]any
		if err := json.Unmarshal(args, &input); err != nil {
			input = map[string]any{"raw": string(args)}
		}
		if err := queue.Publish(ctx, event.New(state.TaskID, kind,
			event.WithTool(call.Name, input),
			event.WithObservation(observation),
		)); err != nil {
			return err
		}
		state.Messages = append(state.Messages, model.NewToolMessage(call.ID, observation))
	}
	return nil
}

// invokeTool looks up and executes one tool, rendering its result or failure
// as observation text.
func (a *FunctionCallAgent) invokeTool(ctx context.Context, name string, args []byte) string {
	t, ok := a.tools[name]
	if !ok {
		return fmt.Sprintf("tool %q is not available", name)
	}
	result, err := t.Call(ctx, args)
	if err != nil {
		log.Warnf("tool %s failed: %v", name, err)
		return fmt.Sprintf("tool %q failed: %v", name, err)
	}
	switch v := result.(type) {
	case string:
		return v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}

// declarations collects the declarations of the configured tools.
func (a *FunctionCallAgent) declarations() []*tool.Declaration {
	if len(a.config.Tools) == 0 {
		return nil
	}
	decls := make([]*tool.Declaration, 0, len(a.config.Tools))
	for _, t := range a.config.Tools {
		decls = append(decls, t.Declaration())
	}
	return decls
}

// reviewOutput masks banned keywords in model output when output review is
// enabled.
func (a *FunctionCallAgent) reviewOutput(text string) string {
	review := a.config.Review
	if !review.Enable || !review.OutputsConfig.Enable {
		return text
	}
	for _, keyword := range review.Keywords {
		if keyword == "" {
			continue
		}
		text = strings.ReplaceAll(text, keyword, "**")
	}
	return text
}

// repairArguments fixes up near-JSON tool arguments emitted by the model.
func repairArguments(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	if json.Valid(raw) {
		return raw
	}
	repaired, err := jsonrepair.JSONRepair(string(raw))
	if err != nil {
		log.Warnf("repair tool arguments: %v", err)
		return raw
	}
	return []byte(repaired)
}

// lastUserContent returns the content of the most recent user message.
func lastUserContent(messages []model.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == model.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
