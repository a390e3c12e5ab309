//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

package workflow

// State is the accumulating state of one workflow run. Concurrent branches
// never write it directly; each node produces a partial State that the
// coordinator merges with the reducers below.
type State struct {
	// Inputs is the run's raw input map.
	Inputs map[string]any `json:"inputs"`

	// Outputs is the run's final output map, written by the end node.
	Outputs map[string]any `json:"outputs"`

	// NodeResults is the append-only execution trace.
	NodeResults []*NodeResult `json:"node_results"`
}

// NewState creates a run state seeded with the raw inputs.
func NewState(inputs map[string]any) *State {
	if inputs == nil {
		inputs = make(map[string]any)
	}
	return &State{
		Inputs:  inputs,
		Outputs: make(map[string]any),
	}
}

// Merge folds a partial state into s. Maps merge last-write-wins, the result
// list appends in arrival order.
func (s *State) Merge(partial *State) {
	if partial == nil {
		return
	}
	for k, v := range partial.Inputs {
		s.Inputs[k] = v
	}
	for k, v := range partial.Outputs {
		s.Outputs[k] = v
	}
	s.NodeResults = append(s.NodeResults, partial.NodeResults...)
}

// resultFor returns the first recorded result of the given node id.
func (s *State) resultFor(nodeID string) *NodeResult {
	for _, r := range s.NodeResults {
		if r.NodeData.Base().ID == nodeID {
			return r
		}
	}
	return nil
}
