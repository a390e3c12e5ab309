//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

// Package server exposes agent and workflow runs over HTTP with server-sent
// event streaming.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/canopyai/canopy/agent"
	"github.com/canopyai/canopy/log"
	"github.com/canopyai/canopy/model"
	"github.com/canopyai/canopy/workflow"
)

// Server routes agent and workflow requests. Agent runs stream their event
// sequence, workflow runs stream one record per completed node.
type Server struct {
	router    *mux.Router
	agents    map[string]*agent.Runner
	workflows map[string]*workflow.Executor
}

// Option configures the Server instance.
type Option func(*Server)

// WithAgent registers an agent runner under a name.
func WithAgent(name string, r *agent.Runner) Option {
	return func(s *Server) { s.agents[name] = r }
}

// WithWorkflow registers a workflow executor under a name.
func WithWorkflow(name string, e *workflow.Executor) Option {
	return func(s *Server) { s.workflows[name] = e }
}

// New creates the HTTP server.
func New(opts ...Option) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		agents:    make(map[string]*agent.Runner),
		workflows: make(map[string]*workflow.Executor),
	}
	for _, opt := range opts {
		opt(s)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
	})
	s.router.Use(c.Handler)
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/agents/{name}/chat",
		s.handleAgentChat).Methods(http.MethodPost)
	s.router.HandleFunc("/agents/{name}/invoke",
		s.handleAgentInvoke).Methods(http.MethodPost)
	s.router.HandleFunc("/agents/{name}/tasks/{taskID}/stop",
		s.handleAgentStop).Methods(http.MethodPost)
	s.router.HandleFunc("/workflows/{name}/run",
		s.handleWorkflowRun).Methods(http.MethodPost)
	s.router.HandleFunc("/workflows/{name}/invoke",
		s.handleWorkflowInvoke).Methods(http.MethodPost)
}

// chatRequest is the body of an agent chat or invoke call.
type chatRequest struct {
	Query          string          `json:"query"`
	History        []model.Message `json:"history,omitempty"`
	LongTermMemory string          `json:"long_term_memory,omitempty"`
}

func (s *Server) agentRunner(w http.ResponseWriter, r *http.Request) (*agent.Runner, bool) {
	runner, ok := s.agents[mux.Vars(r)["name"]]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown agent")
		return nil, false
	}
	return runner, true
}

// handleAgentChat streams an agent run as server-sent events, one record per
// event in queue order.
func (s *Server) handleAgentChat(w http.ResponseWriter, r *http.Request) {
	runner, ok := s.agentRunner(w, r)
	if !ok {
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	stream, err := runner.Run(r.Context(), req.Query, req.History, req.LongTermMemory)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	setSSEHeaders(w)
	for e := range stream {
		data, err := json.Marshal(e)
		if err != nil {
			log.Errorf("marshal event: %v", err)
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, data)
		flusher.Flush()
	}
}

// handleAgentInvoke drains an agent run and returns the aggregate result.
func (s *Server) handleAgentInvoke(w http.ResponseWriter, r *http.Request) {
	runner, ok := s.agentRunner(w, r)
	if !ok {
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := runner.Invoke(r.Context(), req.Query, req.History, req.LongTermMemory)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleAgentStop requests an in-flight run to stop. Ownership is checked
// against the runner's configured identity; a mismatch is a silent no-op.
func (s *Server) handleAgentStop(w http.ResponseWriter, r *http.Request) {
	runner, ok := s.agentRunner(w, r)
	if !ok {
		return
	}
	taskID := mux.Vars(r)["taskID"]
	if err := runner.Stop(r.Context(), taskID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "success"})
}

func (s *Server) workflowExecutor(w http.ResponseWriter, r *http.Request) (*workflow.Executor, bool) {
	executor, ok := s.workflows[mux.Vars(r)["name"]]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown workflow")
		return nil, false
	}
	return executor, true
}

// workflowRecord is one streamed workflow frame.
type workflowRecord struct {
	Event      string               `json:"event"`
	NodeResult *workflow.NodeResult `json:"node_result"`
}

// handleWorkflowRun streams one record per completed node in completion
// order.
func (s *Server) handleWorkflowRun(w http.ResponseWriter, r *http.Request) {
	executor, ok := s.workflowExecutor(w, r)
	if !ok {
		return
	}
	var inputs map[string]any
	if err := json.NewDecoder(r.Body).Decode(&inputs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	setSSEHeaders(w)
	for result := range executor.Stream(r.Context(), inputs) {
		data, err := json.Marshal(workflowRecord{Event: "workflow", NodeResult: result})
		if err != nil {
			log.Errorf("marshal node result: %v", err)
			continue
		}
		fmt.Fprintf(w, "event: workflow\ndata: %s\n\n", data)
		flusher.Flush()
	}
}

// handleWorkflowInvoke runs a workflow to completion and returns its final
// outputs.
func (s *Server) handleWorkflowInvoke(w http.ResponseWriter, r *http.Request) {
	executor, ok := s.workflowExecutor(w, r)
	if !ok {
		return
	}
	var inputs map[string]any
	if err := json.NewDecoder(r.Body).Decode(&inputs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	outputs, err := executor.Invoke(r.Context(), inputs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outputs": outputs})
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
