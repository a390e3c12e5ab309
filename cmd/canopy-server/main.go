//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

// canopy-server serves configured agents and workflows over HTTP.
package main

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/canopyai/canopy/agent"
	"github.com/canopyai/canopy/codeexecutor/local"
	"github.com/canopyai/canopy/log"
	"github.com/canopyai/canopy/model/openai"
	"github.com/canopyai/canopy/server"
	storageredis "github.com/canopyai/canopy/storage/redis"
	"github.com/canopyai/canopy/workflow"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	log.SetLevel(cfg.Server.LogLevel)

	client, err := storageredis.NewClient(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("connect redis: %v", err)
	}
	store := storageredis.NewStore(client)

	modelOpts := []openai.Option{openai.WithAPIKey(cfg.OpenAI.APIKey)}
	if cfg.OpenAI.BaseURL != "" {
		modelOpts = append(modelOpts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	llm := openai.New(cfg.OpenAI.Model, modelOpts...)

	runner := agent.NewRunner(agent.Config{
		UserID:            cfg.Agent.UserID,
		InvokeFrom:        agent.InvokeFromWebApp,
		MaxIterationCount: agent.IterationLimit(cfg.Agent.MaxIterationCount),
		SystemPrompt:      cfg.Agent.SystemPrompt,
		PresetPrompt:      cfg.Agent.PresetPrompt,
	}, llm, store)

	opts := []server.Option{server.WithAgent("default", runner)}
	if cfg.Server.WorkflowDir != "" {
		workflows, err := loadWorkflows(cfg.Server.WorkflowDir, llm)
		if err != nil {
			log.Fatalf("load workflows: %v", err)
		}
		for name, executor := range workflows {
			opts = append(opts, server.WithWorkflow(name, executor))
		}
	}

	srv := server.New(opts...)
	log.Infof("listening on %s", cfg.Server.Addr)
	if err := http.ListenAndServe(cfg.Server.Addr, srv.Handler()); err != nil {
		log.Fatalf("serve: %v", err)
	}
}

// workflowFile is the on-disk shape of one workflow definition.
type workflowFile struct {
	Name  string               `json:"name"`
	Nodes []json.RawMessage    `json:"nodes"`
	Edges []*workflow.EdgeData `json:"edges"`
}

// loadWorkflows parses and validates every *.json definition in dir into a
// ready executor. A definition that fails validation aborts startup.
func loadWorkflows(dir string, llm *openai.Model) (map[string]*workflow.Executor, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sandbox := local.New()
	executors := make(map[string]*workflow.Executor, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var def workflowFile
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, err
		}
		graph, err := workflow.NewGraph(def.Nodes, def.Edges)
		if err != nil {
			return nil, err
		}
		name := def.Name
		if name == "" {
			name = filepath.Base(path)
		}
		executors[name] = workflow.NewExecutor(graph,
			workflow.WithModel(llm),
			workflow.WithCodeExecutor(sandbox),
		)
		log.Infof("loaded workflow %s from %s", name, path)
	}
	return executors, nil
}
