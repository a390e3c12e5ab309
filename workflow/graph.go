//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

package workflow

import (
	"encoding/json"
)

// Graph is a validated, immutable workflow DAG. It is safe to share
// read-only across concurrent node executions; all invariants are enforced
// once at construction and never re-checked at run time.
type Graph struct {
	nodes map[string]NodeData
	edges []*EdgeData

	adjacency map[string][]string
	reverse   map[string][]string
	inDegree  map[string]int
	outDegree map[string]int

	startID string
	endID   string

	// predecessors maps each node to its full backward-reachable set,
	// computed during reference validation.
	predecessors map[string]map[string]struct{}
}

// NewGraph parses and validates raw node and edge configurations into an
// immutable graph. Any violated invariant returns a ValidationError and no
// graph.
func NewGraph(rawNodes []json.RawMessage, edges []*EdgeData) (*Graph, error) {
	g := &Graph{
		nodes:        make(map[string]NodeData, len(rawNodes)),
		adjacency:    make(map[string][]string),
		reverse:      make(map[string][]string),
		inDegree:     make(map[string]int, len(rawNodes)),
		outDegree:    make(map[string]int, len(rawNodes)),
		predecessors: make(map[string]map[string]struct{}),
	}
	if err := g.parseNodes(rawNodes); err != nil {
		return nil, err
	}
	if err := g.parseEdges(edges); err != nil {
		return nil, err
	}
	if err := g.checkEntryExit(); err != nil {
		return nil, err
	}
	if err := g.checkReachability(); err != nil {
		return nil, err
	}
	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	if err := g.checkReferences(); err != nil {
		return nil, err
	}
	return g, nil
}

// Node returns the typed data of the node with the given id.
func (g *Graph) Node(id string) (NodeData, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// StartID returns the entry node id.
func (g *Graph) StartID() string { return g.startID }

// EndID returns the exit node id.
func (g *Graph) EndID() string { return g.endID }

// Len returns the node count.
func (g *Graph) Len() int { return len(g.nodes) }

// parseNodes decodes every raw node, enforcing id/title uniqueness and
// Start/End cardinality.
func (g *Graph) parseNodes(rawNodes []json.RawMessage) error {
	if len(rawNodes) == 0 {
		return validationErrorf(ErrTypeNode, "graph has no nodes")
	}
	titles := make(map[string]string, len(rawNodes))
	for _, raw := range rawNodes {
		data, err := ParseNode(raw)
		if err != nil {
			return validationErrorf(ErrTypeNode, "%v", err)
		}
		base := data.Base()
		if _, dup := g.nodes[base.ID]; dup {
			return validationErrorf(ErrTypeNode, "duplicate node id %s", base.ID)
		}
		if other, dup := titles[base.Title]; dup {
			return validationErrorf(ErrTypeNode, "nodes %s and %s share title %q", other, base.ID, base.Title)
		}
		titles[base.Title] = base.ID

		switch base.Type {
		case NodeTypeStart:
			if g.startID != "" {
				return validationErrorf(ErrTypeNode, "graph has more than one start node")
			}
			g.startID = base.ID
		case NodeTypeEnd:
			if g.endID != "" {
				return validationErrorf(ErrTypeNode, "graph has more than one end node")
			}
			g.endID = base.ID
		}
		g.nodes[base.ID] = data
		g.inDegree[base.ID] = 0
		g.outDegree[base.ID] = 0
	}
	if g.startID == "" {
		return validationErrorf(ErrTypeNode, "graph has no start node")
	}
	if g.endID == "" {
		return validationErrorf(ErrTypeNode, "graph has no end node")
	}
	return nil
}

// parseEdges validates edges and builds the adjacency and degree maps.
func (g *Graph) parseEdges(edges []*EdgeData) error {
	ids := make(map[string]struct{}, len(edges))
	pairs := make(map[[2]string]struct{}, len(edges))
	for _, e := range edges {
		if e.ID == "" {
			return validationErrorf(ErrTypeEdge, "edge id cannot be empty")
		}
		if _, dup := ids[e.ID]; dup {
			return validationErrorf(ErrTypeEdge, "duplicate edge id %s", e.ID)
		}
		ids[e.ID] = struct{}{}

		pair := [2]string{e.Source, e.Target}
		if _, dup := pairs[pair]; dup {
			return validationErrorf(ErrTypeEdge, "duplicate edge %s -> %s", e.Source, e.Target)
		}
		pairs[pair] = struct{}{}

		src, ok := g.nodes[e.Source]
		if !ok {
			return validationErrorf(ErrTypeEdge, "edge %s: unknown source node %s", e.ID, e.Source)
		}
		dst, ok := g.nodes[e.Target]
		if !ok {
			return validationErrorf(ErrTypeEdge, "edge %s: unknown target node %s", e.ID, e.Target)
		}
		if src.Base().Type != e.SourceType {
			return validationErrorf(ErrTypeEdge, "edge %s: source type %s does not match node %s (%s)",
				e.ID, e.SourceType, e.Source, src.Base().Type)
		}
		if dst.Base().Type != e.TargetType {
			return validationErrorf(ErrTypeEdge, "edge %s: target type %s does not match node %s (%s)",
				e.ID, e.TargetType, e.Target, dst.Base().Type)
		}

		g.adjacency[e.Source] = append(g.adjacency[e.Source], e.Target)
		g.reverse[e.Target] = append(g.reverse[e.Target], e.Source)
		g.outDegree[e.Source]++
		g.inDegree[e.Target]++
		g.edges = append(g.edges, e)
	}
	return nil
}

// checkEntryExit requires that the unique in-degree-0 and out-degree-0 nodes
// coincide with the typed Start and End nodes.
func (g *Graph) checkEntryExit() error {
	for id := range g.nodes {
		if g.inDegree[id] == 0 && id != g.startID {
			return validationErrorf(ErrTypeStructure, "node %s has no inbound edges but is not the start node", id)
		}
		if g.outDegree[id] == 0 && id != g.endID {
			return validationErrorf(ErrTypeStructure, "node %s has no outbound edges but is not the end node", id)
		}
	}
	if g.inDegree[g.startID] != 0 {
		return validationErrorf(ErrTypeStructure, "start node %s has inbound edges", g.startID)
	}
	if g.outDegree[g.endID] != 0 {
		return validationErrorf(ErrTypeStructure, "end node %s has outbound edges", g.endID)
	}
	return nil
}

// checkReachability requires every node be reachable from start via a
// breadth-first walk over the forward adjacency.
func (g *Graph) checkReachability() error {
	seen := map[string]struct{}{g.startID: {}}
	queue := []string{g.startID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range g.adjacency[id] {
			if _, ok := seen[next]; ok {
				continue
			}
			seen[next] = struct{}{}
			queue = append(queue, next)
		}
	}
	for id := range g.nodes {
		if _, ok := seen[id]; !ok {
			return validationErrorf(ErrTypeReachability, "node %s is not reachable from the start node", id)
		}
	}
	return nil
}

// checkAcyclic runs an iterative DFS from start; an edge back into the
// current stack is a cycle.
func (g *Graph) checkAcyclic() error {
	const (
		white = 0 // unvisited
		gray  = 1 // on stack
		black = 2 // done
	)
	color := make(map[string]int, len(g.nodes))

	type frame struct {
		id   string
		next int
	}
	stack := []frame{{id: g.startID}}
	color[g.startID] = gray

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		succ := g.adjacency[top.id]
		if top.next >= len(succ) {
			color[top.id] = black
			stack = stack[:len(stack)-1]
			continue
		}
		next := succ[top.next]
		top.next++
		switch color[next] {
		case gray:
			return validationErrorf(ErrTypeCycle, "graph contains a cycle through node %s", next)
		case white:
			color[next] = gray
			stack = append(stack, frame{id: next})
		}
	}
	return nil
}

// checkReferences validates every Ref value against the referencing node's
// predecessor set and the referenced node's declared variables.
func (g *Graph) checkReferences() error {
	for id, data := range g.nodes {
		base := data.Base()

		// End outputs may reference; Start has no inbound refs to check.
		entities := base.Inputs
		if base.Type == NodeTypeEnd {
			entities = append(append([]*VariableEntity(nil), base.Inputs...), base.Outputs...)
		}
		if base.Type == NodeTypeStart {
			continue
		}

		preds := g.predecessorSet(id)
		for _, entity := range entities {
			if entity.Value.Kind != ValueRef {
				continue
			}
			refID := entity.Value.RefNodeID
			refVar := entity.Value.RefVarName
			if _, ok := preds[refID]; !ok {
				return validationErrorf(ErrTypeReference, "node %s: variable %s references node %s which is not a predecessor",
					id, entity.Name, refID)
			}
			target := g.nodes[refID].Base()
			vars := target.Outputs
			if target.Type == NodeTypeStart {
				vars = target.Inputs
			}
			if !hasVariable(vars, refVar) {
				return validationErrorf(ErrTypeReference, "node %s: variable %s references %s.%s which does not exist",
					id, entity.Name, refID, refVar)
			}
		}
	}
	return nil
}

// predecessorSet computes (and caches) the full backward-reachable set of a
// node via iterative DFS over the reverse adjacency.
func (g *Graph) predecessorSet(id string) map[string]struct{} {
	if cached, ok := g.predecessors[id]; ok {
		return cached
	}
	preds := make(map[string]struct{})
	stack := append([]string(nil), g.reverse[id]...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := preds[cur]; ok {
			continue
		}
		preds[cur] = struct{}{}
		stack = append(stack, g.reverse[cur]...)
	}
	g.predecessors[id] = preds
	return preds
}

// hasVariable reports whether the entity list declares the named variable.
func hasVariable(entities []*VariableEntity, name string) bool {
	for _, e := range entities {
		if e.Name == name {
			return true
		}
	}
	return false
}
