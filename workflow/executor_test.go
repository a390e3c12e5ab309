//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

package workflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/canopyai/canopy/codeexecutor"
	"github.com/canopyai/canopy/model"
	"github.com/canopyai/canopy/tool"
	"github.com/canopyai/canopy/tool/function"
)

// scriptedModel returns a fixed completion for every call and records the
// prompts it saw.
type scriptedModel struct {
	mu      sync.Mutex
	reply   string
	prompts []string
}

func (m *scriptedModel) GenerateContent(_ context.Context, req *model.Request) (<-chan *model.Response, error) {
	m.mu.Lock()
	if len(req.Messages) > 0 {
		m.prompts = append(m.prompts, req.Messages[len(req.Messages)-1].Content)
	}
	m.mu.Unlock()
	ch := make(chan *model.Response, 1)
	ch <- &model.Response{
		Choices: []model.Choice{{Message: model.NewAssistantMessage(m.reply)}},
		Done:    true,
	}
	close(ch)
	return ch, nil
}

func (m *scriptedModel) Info() model.Info {
	return model.Info{Provider: "fake", Name: "scripted"}
}

// fixedCodeExecutor returns a canned result object.
type fixedCodeExecutor struct {
	output string
}

func (e *fixedCodeExecutor) ExecuteCode(context.Context, codeexecutor.Input) (codeexecutor.Result, error) {
	return codeexecutor.Result{Output: []byte(e.output)}, nil
}

func drain(t *testing.T, stream <-chan *NodeResult) []*NodeResult {
	t.Helper()
	var results []*NodeResult
	deadline := time.After(5 * time.Second)
	for {
		select {
		case r, ok := <-stream:
			if !ok {
				return results
			}
			results = append(results, r)
		case <-deadline:
			t.Fatalf("stream did not close (got %d results)", len(results))
		}
	}
}

func llmNode(id, prompt string, inputs ...map[string]any) map[string]any {
	return map[string]any{
		"id": id, "title": "llm " + id, "node_type": "llm",
		"prompt": prompt, "inputs": inputs,
	}
}

func TestExecutorStartLLMEnd(t *testing.T) {
	nodes := rawNodes(t,
		startNode("s", stringInput("query", true)),
		llmNode("l", "{{ query }}", refInput("query", "s", "query")),
		endNode("e", map[string]any{
			"name": "answer", "type": "string",
			"value": refValue("l", "output"),
		}),
	)
	edges := []*EdgeData{
		edge("e1", "s", NodeTypeStart, "l", NodeTypeLLM),
		edge("e2", "l", NodeTypeLLM, "e", NodeTypeEnd),
	}
	g, err := NewGraph(nodes, edges)
	require.NoError(t, err)

	llm := &scriptedModel{reply: "model output"}
	executor := NewExecutor(g, WithModel(llm))

	outputs, err := executor.Invoke(context.Background(), map[string]any{"query": "hi"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"answer": "model output"}, outputs)
	require.Equal(t, []string{"hi"}, llm.prompts)

	results := drain(t, executor.Stream(context.Background(), map[string]any{"query": "hi"}))
	require.Len(t, results, 3)
	for _, r := range results {
		require.Equal(t, NodeStatusSucceeded, r.Status)
	}
	require.Equal(t, "e", results[2].NodeData.Base().ID)
}

func TestExecutorMissingRequiredInput(t *testing.T) {
	nodes, edges := linearGraph(t)
	g, err := NewGraph(nodes, edges)
	require.NoError(t, err)
	executor := NewExecutor(g)

	_, err = executor.Invoke(context.Background(), map[string]any{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "required input query is missing")

	results := drain(t, executor.Stream(context.Background(), map[string]any{}))
	require.Len(t, results, 1)
	require.Equal(t, NodeStatusFailed, results[0].Status)
	require.Contains(t, results[0].Error, "required input")
}

func TestExecutorTemplateTransform(t *testing.T) {
	nodes := rawNodes(t,
		startNode("s", stringInput("name", true)),
		templateNode("t", "hello {{ name }}!", refInput("name", "s", "name")),
		endNode("e", map[string]any{
			"name": "greeting", "type": "string",
			"value": refValue("t", "output"),
		}),
	)
	edges := []*EdgeData{
		edge("e1", "s", NodeTypeStart, "t", NodeTypeTemplateTransform),
		edge("e2", "t", NodeTypeTemplateTransform, "e", NodeTypeEnd),
	}
	g, err := NewGraph(nodes, edges)
	require.NoError(t, err)

	outputs, err := NewExecutor(g).Invoke(context.Background(), map[string]any{"name": "go"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"greeting": "hello go!"}, outputs)
}

func TestExecutorCodeNodeDefaults(t *testing.T) {
	code := map[string]any{
		"id": "c", "title": "code", "node_type": "code",
		"code": "def main(params):\n    return {\"x\": 1}\n",
		"outputs": []map[string]any{
			{"name": "x", "type": "int", "value": map[string]any{"type": "generated"}},
			{"name": "y", "type": "string", "value": map[string]any{"type": "generated"}},
		},
	}
	nodes := rawNodes(t,
		startNode("s"),
		code,
		endNode("e",
			map[string]any{"name": "x", "type": "int", "value": refValue("c", "x")},
			map[string]any{"name": "y", "type": "string", "value": refValue("c", "y")},
		),
	)
	edges := []*EdgeData{
		edge("e1", "s", NodeTypeStart, "c", NodeTypeCode),
		edge("e2", "c", NodeTypeCode, "e", NodeTypeEnd),
	}
	g, err := NewGraph(nodes, edges)
	require.NoError(t, err)

	executor := NewExecutor(g, WithCodeExecutor(&fixedCodeExecutor{output: `{"x": 1}`}))
	outputs, err := executor.Invoke(context.Background(), nil)
	require.NoError(t, err)
	// Declared but unreturned outputs fall back to type defaults.
	require.Equal(t, map[string]any{"x": int64(1), "y": ""}, outputs)
}

func TestExecutorFanInWaitsForAllBranches(t *testing.T) {
	nodes := rawNodes(t,
		startNode("s", stringInput("q", true)),
		templateNode("a", "A{{ q }}", refInput("q", "s", "q")),
		templateNode("b", "B{{ q }}", refInput("q", "s", "q")),
		templateNode("j", "{{ left }}|{{ right }}",
			refInput("left", "a", "output"),
			refInput("right", "b", "output"),
		),
		endNode("e", map[string]any{
			"name": "joined", "type": "string",
			"value": refValue("j", "output"),
		}),
	)
	edges := []*EdgeData{
		edge("e1", "s", NodeTypeStart, "a", NodeTypeTemplateTransform),
		edge("e2", "s", NodeTypeStart, "b", NodeTypeTemplateTransform),
		edge("e3", "a", NodeTypeTemplateTransform, "j", NodeTypeTemplateTransform),
		edge("e4", "b", NodeTypeTemplateTransform, "j", NodeTypeTemplateTransform),
		edge("e5", "j", NodeTypeTemplateTransform, "e", NodeTypeEnd),
	}
	g, err := NewGraph(nodes, edges)
	require.NoError(t, err)

	executor := NewExecutor(g, WithMaxWorkers(4))
	outputs, err := executor.Invoke(context.Background(), map[string]any{"q": "x"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"joined": "Ax|Bx"}, outputs)

	results := drain(t, executor.Stream(context.Background(), map[string]any{"q": "x"}))
	require.Len(t, results, 5)

	position := make(map[string]int, len(results))
	for i, r := range results {
		position[r.NodeData.Base().ID] = i
	}
	// The join runs only after both branches, end is last.
	require.Greater(t, position["j"], position["a"])
	require.Greater(t, position["j"], position["b"])
	require.Equal(t, len(results)-1, position["e"])
}

func TestExecutorToolNode(t *testing.T) {
	upper := function.New(func(_ context.Context, in struct {
		Text string `json:"text"`
	}) (map[string]any, error) {
		return map[string]any{"echoed": in.Text}, nil
	}, function.WithName("echo"))
	registry := tool.NewRegistry(map[string]tool.CallableTool{"builtin/echo": upper})

	toolNode := map[string]any{
		"id": "t", "title": "tool", "node_type": "tool",
		"provider_id": "builtin", "tool_id": "echo",
		"inputs": []map[string]any{refInput("text", "s", "q")},
	}
	nodes := rawNodes(t,
		startNode("s", stringInput("q", true)),
		toolNode,
		endNode("e", map[string]any{
			"name": "result", "type": "string",
			"value": refValue("t", "text"),
		}),
	)
	edges := []*EdgeData{
		edge("e1", "s", NodeTypeStart, "t", NodeTypeTool),
		edge("e2", "t", NodeTypeTool, "e", NodeTypeEnd),
	}
	g, err := NewGraph(nodes, edges)
	require.NoError(t, err)

	executor := NewExecutor(g, WithToolRegistry(registry))
	outputs, err := executor.Invoke(context.Background(), map[string]any{"q": "hi"})
	require.NoError(t, err)
	// Non-string tool results are serialized to JSON text.
	require.JSONEq(t, `{"echoed":"hi"}`, outputs["result"].(string))
}

func TestExecutorHTTPRequestNode(t *testing.T) {
	var gotQuery, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotHeader = r.Header.Get("X-Token")
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))
	defer srv.Close()

	httpNode := map[string]any{
		"id": "h", "title": "http", "node_type": "http_request",
		"url": srv.URL, "method": "get",
		"inputs": []map[string]any{
			{"name": "q", "type": "string", "meta": map[string]string{"type": "params"},
				"value": refValue("s", "q")},
			{"name": "X-Token", "type": "string", "meta": map[string]string{"type": "headers"},
				"value": map[string]any{"type": "literal", "content": "tok"}},
		},
	}
	nodes := rawNodes(t,
		startNode("s", stringInput("q", true)),
		httpNode,
		endNode("e",
			map[string]any{"name": "body", "type": "string", "value": refValue("h", "text")},
			map[string]any{"name": "code", "type": "int", "value": refValue("h", "status_code")},
		),
	)
	edges := []*EdgeData{
		edge("e1", "s", NodeTypeStart, "h", NodeTypeHTTPRequest),
		edge("e2", "h", NodeTypeHTTPRequest, "e", NodeTypeEnd),
	}
	g, err := NewGraph(nodes, edges)
	require.NoError(t, err)

	outputs, err := NewExecutor(g).Invoke(context.Background(), map[string]any{"q": "teapot"})
	require.NoError(t, err)
	require.Equal(t, "teapot", gotQuery)
	require.Equal(t, "tok", gotHeader)
	require.Equal(t, "short and stout", outputs["body"])
	require.Equal(t, int64(http.StatusTeapot), outputs["code"])
}

func TestWorkflowAsTool(t *testing.T) {
	nodes, edges := linearGraph(t)
	g, err := NewGraph(nodes, edges)
	require.NoError(t, err)
	wf := NewWorkflow("echo_flow", "echoes the query", NewExecutor(g))

	decl := wf.Declaration()
	require.Equal(t, "echo_flow", decl.Name)
	require.Contains(t, decl.InputSchema.Properties, "query")
	require.Contains(t, decl.InputSchema.Required, "query")

	args, err := json.Marshal(map[string]any{"query": "hi"})
	require.NoError(t, err)
	result, err := wf.Call(context.Background(), args)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"answer": "hi"}, result)
}
