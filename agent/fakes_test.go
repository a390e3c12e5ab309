//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

package agent

import (
	"context"
	"sync"
	"time"

	"github.com/canopyai/canopy/knowledge"
	"github.com/canopyai/canopy/model"
	"github.com/canopyai/canopy/tool"
)

// memStore is an in-memory KeyValueStore for tests. TTLs are recorded but
// never expire.
type memStore struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
}

func newMemStore() *memStore {
	return &memStore{
		data: make(map[string]string),
		ttls: make(map[string]time.Duration),
	}
}

func (s *memStore) SetEx(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	s.ttls[key] = ttl
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

// fakeModel replays scripted response sequences, one script per call.
type fakeModel struct {
	mu      sync.Mutex
	scripts [][]*model.Response
	calls   []*model.Request
}

func (m *fakeModel) GenerateContent(_ context.Context, req *model.Request) (<-chan *model.Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	var script []*model.Response
	if len(m.scripts) > 0 {
		script = m.scripts[0]
		m.scripts = m.scripts[1:]
	}
	m.mu.Unlock()

	ch := make(chan *model.Response, len(script))
	for _, rsp := range script {
		ch <- rsp
	}
	close(ch)
	return ch, nil
}

func (m *fakeModel) Info() model.Info {
	return model.Info{Provider: "fake", Name: "fake-model"}
}

func (m *fakeModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// textScript builds a streamed plain-text turn: one delta per chunk plus the
// final full message.
func textScript(chunks ...string) []*model.Response {
	var full string
	script := make([]*model.Response, 0, len(chunks)+1)
	for _, c := range chunks {
		full += c
		script = append(script, &model.Response{
			Choices:   []model.Choice{{Delta: model.Message{Role: model.RoleAssistant, Content: c}}},
			IsPartial: true,
		})
	}
	script = append(script, &model.Response{
		Choices: []model.Choice{{Message: model.NewAssistantMessage(full)}},
		Usage:   &model.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		Done:    true,
	})
	return script
}

// toolCallScript builds a turn that requests a single tool call.
func toolCallScript(callID, name string, args []byte) []*model.Response {
	return []*model.Response{{
		Choices: []model.Choice{{
			Message: model.Message{
				Role: model.RoleAssistant,
				ToolCalls: []model.ToolCall{{
					ID:        callID,
					Name:      name,
					Arguments: args,
				}},
			},
		}},
		Done: true,
	}}
}

func toolList(tools ...tool.CallableTool) []tool.CallableTool { return tools }

// panicTool panics when called, exercising the recover path.
type panicTool struct{}

func (p *panicTool) Declaration() *tool.Declaration {
	return &tool.Declaration{Name: "boom", Description: "panics"}
}

func (p *panicTool) Call(context.Context, []byte) (any, error) {
	panic("boom")
}

// stubRetrieval returns a fixed result for any query.
type stubRetrieval struct {
	result string
}

func (s stubRetrieval) Search(_ context.Context, _ string, _ knowledge.RetrievalConfig) (string, error) {
	return s.result, nil
}

// fastQueueOpts shortens the listen clocks so tests never wait on real
// defaults.
func fastQueueOpts() []TaskQueueOption {
	return []TaskQueueOption{
		WithPollInterval(2 * time.Millisecond),
		WithPingInterval(50 * time.Millisecond),
		WithListenTimeout(2 * time.Second),
	}
}
