//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

package workflow

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/canopyai/canopy/codeexecutor"
	"github.com/canopyai/canopy/knowledge"
	"github.com/canopyai/canopy/log"
	"github.com/canopyai/canopy/model"
	"github.com/canopyai/canopy/telemetry/trace"
	"github.com/canopyai/canopy/tool"
)

// defaultMaxWorkers bounds how many nodes of one run execute concurrently.
const defaultMaxWorkers = 4

// Executor drives a validated graph: nodes are scheduled as their
// dependencies complete, parallel branches run on a bounded worker pool, and
// partial states are merged by a single coordinator.
type Executor struct {
	graph *Graph

	model        model.Model
	retrieval    knowledge.RetrievalService
	tools        *tool.Registry
	codeExecutor codeexecutor.CodeExecutor
	httpClient   *http.Client
	maxWorkers   int
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithModel sets the model used by llm nodes.
func WithModel(m model.Model) ExecutorOption {
	return func(e *Executor) { e.model = m }
}

// WithRetrievalService sets the retrieval collaborator used by
// dataset-retrieval nodes.
func WithRetrievalService(s knowledge.RetrievalService) ExecutorOption {
	return func(e *Executor) { e.retrieval = s }
}

// WithToolRegistry sets the registry tool nodes resolve against.
func WithToolRegistry(r *tool.Registry) ExecutorOption {
	return func(e *Executor) { e.tools = r }
}

// WithCodeExecutor sets the sandbox code nodes run in.
func WithCodeExecutor(c codeexecutor.CodeExecutor) ExecutorOption {
	return func(e *Executor) { e.codeExecutor = c }
}

// WithHTTPClient sets the client http-request nodes use.
func WithHTTPClient(c *http.Client) ExecutorOption {
	return func(e *Executor) { e.httpClient = c }
}

// WithMaxWorkers bounds per-run node concurrency.
func WithMaxWorkers(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxWorkers = n
		}
	}
}

// NewExecutor builds an executor for a validated graph.
func NewExecutor(graph *Graph, opts ...ExecutorOption) *Executor {
	e := &Executor{
		graph:      graph,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxWorkers: defaultMaxWorkers,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// completion carries one finished node invocation back to the coordinator.
type completion struct {
	partial *State
	err     error
}

// Stream executes the graph and yields one NodeResult per completed node, in
// completion order. A failed node yields its Failed result as the final
// record; no further nodes are scheduled after a failure.
func (e *Executor) Stream(ctx context.Context, inputs map[string]any) <-chan *NodeResult {
	out := make(chan *NodeResult, e.graph.Len())
	go func() {
		defer close(out)
		_, err := e.run(ctx, inputs, out)
		if err != nil {
			log.Errorf("workflow run: %v", err)
		}
	}()
	return out
}

// Invoke executes the graph to completion and returns the run's final
// outputs.
func (e *Executor) Invoke(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	state, err := e.run(ctx, inputs, nil)
	if err != nil {
		return nil, err
	}
	return state.Outputs, nil
}

// run is the scheduling loop shared by Stream and Invoke: a Kahn-style
// in-degree countdown over a worker pool, with all state merging done here
// on the coordinator goroutine.
func (e *Executor) run(ctx context.Context, inputs map[string]any, out chan<- *NodeResult) (*State, error) {
	ctx, span := trace.Tracer.Start(ctx, "workflow.run")
	defer span.End()

	pool, err := ants.NewPool(e.maxWorkers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	state := NewState(inputs)
	completions := make(chan completion, e.graph.Len())

	remaining := make(map[string]int, e.graph.Len())
	for id := range e.graph.nodes {
		remaining[id] = e.graph.inDegree[id]
	}

	submit := func(id string) error {
		data := e.graph.nodes[id]
		snapshot := &State{
			Inputs:      state.Inputs,
			NodeResults: append([]*NodeResult(nil), state.NodeResults...),
		}
		return pool.Submit(func() {
			partial, err := e.invokeNode(ctx, data, snapshot)
			completions <- completion{partial: partial, err: err}
		})
	}

	if err := submit(e.graph.startID); err != nil {
		return nil, fmt.Errorf("submit start node: %w", err)
	}

	for finished := 0; finished < e.graph.Len(); {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case c := <-completions:
			if c.err != nil {
				return nil, c.err
			}
			finished++
			result := c.partial.NodeResults[0]
			state.Merge(c.partial)
			if out != nil {
				select {
				case out <- result:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			if result.Status == NodeStatusFailed {
				return nil, fmt.Errorf("node %s failed: %s", result.NodeData.Base().ID, result.Error)
			}
			for _, next := range e.graph.adjacency[result.NodeData.Base().ID] {
				remaining[next]--
				if remaining[next] == 0 {
					if err := submit(next); err != nil {
						return nil, fmt.Errorf("submit node %s: %w", next, err)
					}
				}
			}
		}
	}
	return state, nil
}

// invokeNode runs one node against a state snapshot and wraps the outcome in
// a partial state carrying a single NodeResult. Node failures become Failed
// results, not errors.
func (e *Executor) invokeNode(ctx context.Context, data NodeData, snapshot *State) (*State, error) {
	start := time.Now()
	resolvedInputs, outputs, err := e.dispatch(ctx, data, snapshot)

	result := &NodeResult{
		NodeData: data,
		Status:   NodeStatusSucceeded,
		Inputs:   resolvedInputs,
		Outputs:  outputs,
		Latency:  time.Since(start).Seconds(),
	}
	partial := &State{NodeResults: []*NodeResult{result}}
	if err != nil {
		result.Status = NodeStatusFailed
		result.Error = err.Error()
		return partial, nil
	}
	if data.Base().Type == NodeTypeEnd {
		partial.Outputs = outputs
	}
	return partial, nil
}

// dispatch routes a node to its type's invocation.
func (e *Executor) dispatch(ctx context.Context, data NodeData, snapshot *State) (map[string]any, map[string]any, error) {
	switch d := data.(type) {
	case *StartNodeData:
		return e.invokeStart(d, snapshot)
	case *EndNodeData:
		return e.invokeEnd(d, snapshot)
	case *LLMNodeData:
		return e.invokeLLM(ctx, d, snapshot)
	case *TemplateTransformNodeData:
		return e.invokeTemplateTransform(d, snapshot)
	case *DatasetRetrievalNodeData:
		return e.invokeDatasetRetrieval(ctx, d, snapshot)
	case *CodeNodeData:
		return e.invokeCode(ctx, d, snapshot)
	case *ToolNodeData:
		return e.invokeTool(ctx, d, snapshot)
	case *HTTPRequestNodeData:
		return e.invokeHTTPRequest(ctx, d, snapshot)
	default:
		return nil, nil, fmt.Errorf("unsupported node type %s", data.Base().Type)
	}
}
