//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/canopyai/canopy/agent"
	"github.com/canopyai/canopy/model"
	"github.com/canopyai/canopy/workflow"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore { return &memStore{data: make(map[string]string)} }

func (s *memStore) SetEx(_ context.Context, key, value string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *memStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok, nil
}

type cannedModel struct{ reply string }

func (m *cannedModel) GenerateContent(context.Context, *model.Request) (<-chan *model.Response, error) {
	ch := make(chan *model.Response, 1)
	ch <- &model.Response{
		Choices: []model.Choice{{Message: model.NewAssistantMessage(m.reply)}},
		Done:    true,
	}
	close(ch)
	return ch, nil
}

func (m *cannedModel) Info() model.Info { return model.Info{Provider: "fake", Name: "canned"} }

func testRunner() *agent.Runner {
	return agent.NewRunner(
		agent.Config{UserID: "u1"},
		&cannedModel{reply: "pong"},
		newMemStore(),
		agent.WithTaskQueueOptions(agent.WithPollInterval(2*time.Millisecond)),
	)
}

func testWorkflow(t *testing.T) *workflow.Executor {
	t.Helper()
	start, _ := json.Marshal(map[string]any{
		"id": "s", "title": "start", "node_type": "start",
		"inputs": []map[string]any{{
			"name": "q", "type": "string", "required": true,
			"value": map[string]any{"type": "generated"},
		}},
	})
	tmpl, _ := json.Marshal(map[string]any{
		"id": "t", "title": "echo", "node_type": "template_transform",
		"template": "{{ q }}",
		"inputs": []map[string]any{{
			"name": "q", "type": "string",
			"value": map[string]any{"type": "ref", "content": map[string]any{
				"ref_node_id": "s", "ref_var_name": "q",
			}},
		}},
	})
	end, _ := json.Marshal(map[string]any{
		"id": "e", "title": "end", "node_type": "end",
		"outputs": []map[string]any{{
			"name": "out", "type": "string",
			"value": map[string]any{"type": "ref", "content": map[string]any{
				"ref_node_id": "t", "ref_var_name": "output",
			}},
		}},
	})
	g, err := workflow.NewGraph(
		[]json.RawMessage{start, tmpl, end},
		[]*workflow.EdgeData{
			{ID: "e1", Source: "s", SourceType: workflow.NodeTypeStart,
				Target: "t", TargetType: workflow.NodeTypeTemplateTransform},
			{ID: "e2", Source: "t", SourceType: workflow.NodeTypeTemplateTransform,
				Target: "e", TargetType: workflow.NodeTypeEnd},
		},
	)
	require.NoError(t, err)
	return workflow.NewExecutor(g)
}

func TestAgentChatStreamsSSE(t *testing.T) {
	srv := New(WithAgent("default", testRunner()))

	body := strings.NewReader(`{"query":"ping"}`)
	req := httptest.NewRequest(http.MethodPost, "/agents/default/chat", body)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	payload := w.Body.String()
	require.Contains(t, payload, "event: agent_message")
	require.Contains(t, payload, "event: agent_end")
	// Frames are kind-tagged records followed by a JSON body.
	require.True(t, strings.HasSuffix(strings.TrimRight(payload, "\n"), "}"))
}

func TestAgentInvokeReturnsAggregate(t *testing.T) {
	srv := New(WithAgent("default", testRunner()))

	req := httptest.NewRequest(http.MethodPost, "/agents/default/invoke",
		strings.NewReader(`{"query":"ping"}`))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var result struct {
		Answer string `json:"answer"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.Equal(t, "pong", result.Answer)
	require.Equal(t, "normal", result.Status)
}

func TestUnknownAgentIs404(t *testing.T) {
	srv := New()
	req := httptest.NewRequest(http.MethodPost, "/agents/ghost/chat",
		strings.NewReader(`{"query":"hi"}`))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestWorkflowRunStreamsNodeResults(t *testing.T) {
	srv := New(WithWorkflow("echo", testWorkflow(t)))

	req := httptest.NewRequest(http.MethodPost, "/workflows/echo/run",
		strings.NewReader(`{"q":"hello"}`))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	frames := strings.Count(w.Body.String(), "event: workflow")
	require.Equal(t, 3, frames)
	require.Contains(t, w.Body.String(), `"status":"succeeded"`)
}

func TestWorkflowInvokeReturnsOutputs(t *testing.T) {
	srv := New(WithWorkflow("echo", testWorkflow(t)))

	req := httptest.NewRequest(http.MethodPost, "/workflows/echo/invoke",
		strings.NewReader(`{"q":"hello"}`))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var result struct {
		Outputs map[string]any `json:"outputs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.Equal(t, map[string]any{"out": "hello"}, result.Outputs)
}

func TestAgentStop(t *testing.T) {
	store := newMemStore()
	runner := agent.NewRunner(agent.Config{UserID: "u1", InvokeFrom: agent.InvokeFromWebApp},
		&cannedModel{reply: "x"}, store)
	srv := New(WithAgent("default", runner))

	// Register ownership as the same identity, then request the stop.
	ctx := context.Background()
	_, err := agent.NewTaskQueue(ctx, "task-1", "u1", agent.InvokeFromWebApp, store)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/agents/default/tasks/task-1/stop", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	stopped, err := store.Exists(ctx, "generate_task_stopped:task-1")
	require.NoError(t, err)
	require.True(t, stopped)
}
