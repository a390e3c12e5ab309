//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/canopyai/canopy/event"
	"github.com/canopyai/canopy/log"
	"github.com/canopyai/canopy/model"
	"github.com/canopyai/canopy/telemetry/trace"
)

// Runner ties one agent configuration to a model and a shared store, and
// launches runs as background state machines whose events the caller consumes
// from the foreground.
type Runner struct {
	config Config
	model  model.Model
	store  KeyValueStore

	queueOpts []TaskQueueOption
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTaskQueueOptions forwards options to every task queue the runner
// creates.
func WithTaskQueueOptions(opts ...TaskQueueOption) RunnerOption {
	return func(r *Runner) { r.queueOpts = opts }
}

// NewRunner creates a runner for one agent configuration.
func NewRunner(cfg Config, m model.Model, store KeyValueStore, opts ...RunnerOption) *Runner {
	cfg.normalize()
	r := &Runner{config: cfg, model: m, store: store}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts an agent run for the query and returns its ordered event
// stream. The machine runs on a background goroutine; failures surface as
// terminal error events on the stream, never as panics.
func (r *Runner) Run(ctx context.Context, query string, history []model.Message, longTermMemory string) (<-chan *event.Event, error) {
	state := &State{
		TaskID:         uuid.NewString(),
		Messages:       []model.Message{model.NewUserMessage(query)},
		History:        history,
		LongTermMemory: longTermMemory,
	}
	return r.Stream(ctx, state)
}

// Stream launches the state machine for a prepared state and returns the
// consumer side of its task queue.
func (r *Runner) Stream(ctx context.Context, state *State) (<-chan *event.Event, error) {
	queue, err := NewTaskQueue(ctx, state.TaskID, r.config.UserID, r.config.InvokeFrom, r.store, r.queueOpts...)
	if err != nil {
		return nil, fmt.Errorf("create task queue: %w", err)
	}
	machine := NewFunctionCallAgent(r.config, r.model)

	go func() {
		ctx, span := trace.Tracer.Start(ctx, "agent.run")
		defer span.End()
		defer func() {
			if rec := recover(); rec != nil {
				log.Errorf("task %s: agent panic: %v", state.TaskID, rec)
				queue.PublishError(ctx, fmt.Errorf("agent panic: %v", rec))
			}
		}()
		if err := machine.Run(ctx, state, queue); err != nil {
			log.Errorf("task %s: agent run: %v", state.TaskID, err)
			queue.PublishError(ctx, err)
		}
	}()

	return queue.Listen(ctx), nil
}

// Invoke runs the agent to completion and aggregates the event stream into a
// single result. Message events of the same turn are merged; the answer is
// the concatenation across turns.
func (r *Runner) Invoke(ctx context.Context, query string, history []model.Message, longTermMemory string) (*event.AgentResult, error) {
	stream, err := r.Run(ctx, query, history, longTermMemory)
	if err != nil {
		return nil, err
	}

	result := &event.AgentResult{
		Query:  query,
		Status: event.StatusNormal,
	}
	merged := make(map[string]*event.Event)

	for e := range stream {
		switch e.Kind {
		case event.KindPing, event.KindAgentEnd:
			continue
		case event.KindStop:
			result.Status = event.StatusStop
		case event.KindTimeout:
			result.Status = event.StatusTimeout
		case event.KindError:
			result.Status = event.StatusError
			result.Error = e.Observation
		case event.KindAgentMessage:
			if prev, ok := merged[e.ID]; ok {
				prev.Merge(e)
				result.Answer += e.Answer
				continue
			}
			copied := *e
			merged[e.ID] = &copied
			result.AgentThoughts = append(result.AgentThoughts, &copied)
			result.Answer += e.Answer
			if len(result.Message) == 0 {
				result.Message = e.Message
			}
		default:
			result.AgentThoughts = append(result.AgentThoughts, e)
		}
	}

	for _, e := range result.AgentThoughts {
		result.MessageTokenCount += e.MessageTokenCount
		result.AnswerTokenCount += e.AnswerTokenCount
		result.TotalTokenCount += e.TotalTokenCount
		result.TotalPrice += e.TotalPrice
		result.Latency += e.Latency
	}
	return result, nil
}

// Stop requests an in-flight run to stop, subject to ownership checks.
func (r *Runner) Stop(ctx context.Context, taskID string) error {
	return SetStopFlag(ctx, r.store, taskID, r.config.InvokeFrom, r.config.UserID)
}
