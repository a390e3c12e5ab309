//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

package workflow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func rawNodes(t *testing.T, nodes ...map[string]any) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(nodes))
	for _, n := range nodes {
		data, err := json.Marshal(n)
		require.NoError(t, err)
		out = append(out, data)
	}
	return out
}

func startNode(id string, inputs ...map[string]any) map[string]any {
	return map[string]any{
		"id": id, "title": "start " + id, "node_type": "start",
		"inputs": inputs,
	}
}

func endNode(id string, outputs ...map[string]any) map[string]any {
	return map[string]any{
		"id": id, "title": "end " + id, "node_type": "end",
		"outputs": outputs,
	}
}

func templateNode(id, template string, inputs ...map[string]any) map[string]any {
	return map[string]any{
		"id": id, "title": "template " + id, "node_type": "template_transform",
		"template": template, "inputs": inputs,
	}
}

func refValue(nodeID, varName string) map[string]any {
	return map[string]any{
		"type": "ref",
		"content": map[string]any{
			"ref_node_id": nodeID, "ref_var_name": varName,
		},
	}
}

func stringInput(name string, required bool) map[string]any {
	return map[string]any{
		"name": name, "type": "string", "required": required,
		"value": map[string]any{"type": "generated"},
	}
}

func refInput(name, nodeID, varName string) map[string]any {
	return map[string]any{
		"name": name, "type": "string",
		"value": refValue(nodeID, varName),
	}
}

func edge(id, source string, sourceType NodeType, target string, targetType NodeType) *EdgeData {
	return &EdgeData{ID: id, Source: source, SourceType: sourceType, Target: target, TargetType: targetType}
}

// linearGraph is start -> template -> end referencing start.query.
func linearGraph(t *testing.T) ([]json.RawMessage, []*EdgeData) {
	nodes := rawNodes(t,
		startNode("s", stringInput("query", true)),
		templateNode("t", "{{ query }}", refInput("query", "s", "query")),
		endNode("e", map[string]any{
			"name": "answer", "type": "string",
			"value": refValue("t", "output"),
		}),
	)
	edges := []*EdgeData{
		edge("e1", "s", NodeTypeStart, "t", NodeTypeTemplateTransform),
		edge("e2", "t", NodeTypeTemplateTransform, "e", NodeTypeEnd),
	}
	return nodes, edges
}

func TestNewGraphValid(t *testing.T) {
	nodes, edges := linearGraph(t)
	g, err := NewGraph(nodes, edges)
	require.NoError(t, err)
	require.Equal(t, 3, g.Len())
	require.Equal(t, "s", g.StartID())
	require.Equal(t, "e", g.EndID())

	data, ok := g.Node("t")
	require.True(t, ok)
	require.Equal(t, NodeTypeTemplateTransform, data.Base().Type)
	// Template node received its default generated output.
	require.Len(t, data.Base().Outputs, 1)
	require.Equal(t, "output", data.Base().Outputs[0].Name)
}

func TestNewGraphUnknownNodeType(t *testing.T) {
	nodes := rawNodes(t, map[string]any{
		"id": "x", "title": "x", "node_type": "teleport",
	})
	_, err := NewGraph(nodes, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown node type")
}

func TestNewGraphTwoStartNodes(t *testing.T) {
	nodes := rawNodes(t,
		startNode("s1"),
		startNode("s2"),
		endNode("e"),
	)
	_, err := NewGraph(nodes, []*EdgeData{
		edge("e1", "s1", NodeTypeStart, "e", NodeTypeEnd),
	})
	require.Error(t, err)
	require.IsType(t, &ValidationError{}, err)
	require.Contains(t, err.Error(), "more than one start")
}

func TestNewGraphMissingEnd(t *testing.T) {
	nodes := rawNodes(t, startNode("s"))
	_, err := NewGraph(nodes, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no end node")
}

func TestNewGraphDuplicateIDAndTitle(t *testing.T) {
	dup := startNode("s")
	dup["node_type"] = "end"
	dup["title"] = "other"
	nodes := rawNodes(t, startNode("s"), dup)
	_, err := NewGraph(nodes, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate node id")

	a := templateNode("t1", "x")
	b := templateNode("t2", "x")
	b["title"] = a["title"]
	nodes = rawNodes(t, startNode("s"), a, b, endNode("e"))
	_, err = NewGraph(nodes, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "share title")
}

func TestNewGraphEdgeValidation(t *testing.T) {
	nodes, _ := linearGraph(t)

	// Duplicate edge id.
	_, err := NewGraph(nodes, []*EdgeData{
		edge("e1", "s", NodeTypeStart, "t", NodeTypeTemplateTransform),
		edge("e1", "t", NodeTypeTemplateTransform, "e", NodeTypeEnd),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate edge id")

	// Duplicate (source, target) pair.
	_, err = NewGraph(nodes, []*EdgeData{
		edge("e1", "s", NodeTypeStart, "t", NodeTypeTemplateTransform),
		edge("e2", "s", NodeTypeStart, "t", NodeTypeTemplateTransform),
		edge("e3", "t", NodeTypeTemplateTransform, "e", NodeTypeEnd),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate edge")

	// Source type mismatch.
	_, err = NewGraph(nodes, []*EdgeData{
		edge("e1", "s", NodeTypeLLM, "t", NodeTypeTemplateTransform),
		edge("e2", "t", NodeTypeTemplateTransform, "e", NodeTypeEnd),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "source type")

	// Unknown target.
	_, err = NewGraph(nodes, []*EdgeData{
		edge("e1", "s", NodeTypeStart, "ghost", NodeTypeTemplateTransform),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown target")
}

func TestNewGraphUnreachableNode(t *testing.T) {
	nodes := rawNodes(t,
		startNode("s"),
		templateNode("a", "x"),
		templateNode("b", "y"),
		endNode("e"),
	)
	// a and b feed each other but are disconnected from start.
	_, err := NewGraph(nodes, []*EdgeData{
		edge("e1", "s", NodeTypeStart, "e", NodeTypeEnd),
		edge("e2", "a", NodeTypeTemplateTransform, "b", NodeTypeTemplateTransform),
		edge("e3", "b", NodeTypeTemplateTransform, "a", NodeTypeTemplateTransform),
	})
	require.Error(t, err)
	require.IsType(t, &ValidationError{}, err)
	require.Contains(t, err.Error(), "not reachable")
}

func TestNewGraphCycle(t *testing.T) {
	nodes := rawNodes(t,
		startNode("s"),
		templateNode("a", "x"),
		templateNode("b", "y"),
		endNode("e"),
	)
	_, err := NewGraph(nodes, []*EdgeData{
		edge("e1", "s", NodeTypeStart, "a", NodeTypeTemplateTransform),
		edge("e2", "a", NodeTypeTemplateTransform, "b", NodeTypeTemplateTransform),
		edge("e3", "b", NodeTypeTemplateTransform, "a", NodeTypeTemplateTransform),
		edge("e4", "a", NodeTypeTemplateTransform, "e", NodeTypeEnd),
	})
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, ErrTypeCycle, verr.Type)
	require.Contains(t, err.Error(), "cycle")
}

func TestNewGraphDanglingReference(t *testing.T) {
	// Template references a node that is not its predecessor.
	nodes := rawNodes(t,
		startNode("s", stringInput("query", true)),
		templateNode("a", "{{ v }}", refInput("v", "b", "output")),
		templateNode("b", "y"),
		endNode("e", map[string]any{
			"name": "answer", "type": "string",
			"value": refValue("b", "output"),
		}),
	)
	_, err := NewGraph(nodes, []*EdgeData{
		edge("e1", "s", NodeTypeStart, "a", NodeTypeTemplateTransform),
		edge("e2", "s", NodeTypeStart, "b", NodeTypeTemplateTransform),
		edge("e3", "a", NodeTypeTemplateTransform, "e", NodeTypeEnd),
		edge("e4", "b", NodeTypeTemplateTransform, "e", NodeTypeEnd),
	})
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, ErrTypeReference, verr.Type)
	require.Contains(t, err.Error(), "not a predecessor")
}

func TestNewGraphMissingReferencedVariable(t *testing.T) {
	nodes := rawNodes(t,
		startNode("s", stringInput("query", true)),
		templateNode("t", "{{ v }}", refInput("v", "s", "missing")),
		endNode("e", map[string]any{
			"name": "answer", "type": "string",
			"value": refValue("t", "output"),
		}),
	)
	_, err := NewGraph(nodes, []*EdgeData{
		edge("e1", "s", NodeTypeStart, "t", NodeTypeTemplateTransform),
		edge("e2", "t", NodeTypeTemplateTransform, "e", NodeTypeEnd),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not exist")
}

func TestNewGraphOrphanEntryPoint(t *testing.T) {
	// A non-start node without inbound edges must be rejected even though
	// every typed invariant holds.
	nodes := rawNodes(t,
		startNode("s"),
		templateNode("a", "x"),
		endNode("e"),
	)
	_, err := NewGraph(nodes, []*EdgeData{
		edge("e1", "s", NodeTypeStart, "e", NodeTypeEnd),
		edge("e2", "a", NodeTypeTemplateTransform, "e", NodeTypeEnd),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no inbound edges")
}

func TestDatasetRetrievalNodeInputShape(t *testing.T) {
	node := map[string]any{
		"id": "r", "title": "retrieve", "node_type": "dataset_retrieval",
		"dataset_ids": []string{"d1"},
		"inputs": []map[string]any{
			{"name": "q", "type": "string", "required": true,
				"value": map[string]any{"type": "generated"}},
		},
	}
	data, err := json.Marshal(node)
	require.NoError(t, err)
	_, err = ParseNode(data)
	require.Error(t, err)
	require.Contains(t, err.Error(), "required string named query")
}
