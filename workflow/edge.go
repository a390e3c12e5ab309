//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

package workflow

// EdgeData is one directed dependency between two nodes. SourceType and
// TargetType must match the node types of the referenced nodes.
type EdgeData struct {
	ID         string   `json:"id"`
	Source     string   `json:"source"`
	SourceType NodeType `json:"source_type"`
	Target     string   `json:"target"`
	TargetType NodeType `json:"target_type"`
}
