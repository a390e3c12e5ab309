//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

// Package knowledge declares the retrieval capability consumed by agents and
// workflows. Concrete vector/keyword retrievers live behind this interface.
package knowledge

import "context"

// RetrievalStrategy selects how documents are matched.
type RetrievalStrategy string

// Retrieval strategies.
const (
	StrategySemantic RetrievalStrategy = "semantic"
	StrategyFullText RetrievalStrategy = "full_text"
	StrategyHybrid   RetrievalStrategy = "hybrid"
)

// RetrievalConfig tunes one retrieval call.
type RetrievalConfig struct {
	// Strategy selects the matching mode.
	Strategy RetrievalStrategy `json:"retrieval_strategy"`

	// K is the number of documents to retrieve.
	K int `json:"k"`

	// Score is the minimum relevance score; 0 disables the threshold.
	Score float64 `json:"score"`

	// DatasetIDs restricts the search to the given datasets.
	DatasetIDs []string `json:"dataset_ids,omitempty"`
}

// DefaultRetrievalConfig returns the retrieval defaults.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{Strategy: StrategySemantic, K: 4}
}

// RetrievalService searches datasets and returns the combined text of the
// matched documents.
type RetrievalService interface {
	Search(ctx context.Context, query string, config RetrievalConfig) (string, error)
}
