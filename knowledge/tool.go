//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

package knowledge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/canopyai/canopy/tool"
)

// DatasetRetrievalToolName is the reserved tool name for dataset retrieval.
// Agents classify calls to this tool as retrieval events rather than plain
// actions.
const DatasetRetrievalToolName = "dataset_retrieval"

// RetrievalTool exposes a RetrievalService as a callable tool so a model can
// decide when to search the knowledge base.
type RetrievalTool struct {
	service RetrievalService
	config  RetrievalConfig
}

// NewRetrievalTool wraps the service with a fixed retrieval configuration.
func NewRetrievalTool(service RetrievalService, config RetrievalConfig) *RetrievalTool {
	return &RetrievalTool{service: service, config: config}
}

// Call searches the configured datasets with the query argument.
func (t *RetrievalTool) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(jsonArgs, &args); err != nil {
		return nil, fmt.Errorf("parse retrieval arguments: %w", err)
	}
	return t.service.Search(ctx, args.Query, t.config)
}

// Declaration returns the metadata describing the tool.
func (t *RetrievalTool) Declaration() *tool.Declaration {
	return &tool.Declaration{
		Name:        DatasetRetrievalToolName,
		Description: "Searches the linked knowledge bases and returns the combined text of relevant documents.",
		InputSchema: &tool.Schema{
			Type:     "object",
			Required: []string{"query"},
			Properties: map[string]*tool.Schema{
				"query": {Type: "string", Description: "The search query."},
			},
		},
	}
}
