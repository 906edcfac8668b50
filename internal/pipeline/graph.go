package pipeline

import (
	"fmt"
	"sort"
)

// NodeID names an input or a derived node
type NodeID string

// Graph is a static dependency graph of inputs and derived nodes. It is
// sorted once at Build time; cycles and unknown dependencies are rejected.
type Graph struct {
	inputs     map[NodeID]bool
	deps       map[NodeID][]NodeID
	dependents map[NodeID][]NodeID
	order      []NodeID
	rank       map[NodeID]int
	built      bool
}

// NewGraph creates an empty graph
func NewGraph() *Graph {
	return &Graph{
		inputs:     make(map[NodeID]bool),
		deps:       make(map[NodeID][]NodeID),
		dependents: make(map[NodeID][]NodeID),
		rank:       make(map[NodeID]int),
	}
}

// AddInput declares a source value
func (g *Graph) AddInput(id NodeID) error {
	if g.built {
		return fmt.Errorf("graph already built")
	}
	if g.inputs[id] || g.deps[id] != nil {
		return fmt.Errorf("duplicate node %q", id)
	}
	g.inputs[id] = true
	return nil
}

// AddNode declares a derived node computed from deps
func (g *Graph) AddNode(id NodeID, deps ...NodeID) error {
	if g.built {
		return fmt.Errorf("graph already built")
	}
	if g.inputs[id] || g.deps[id] != nil {
		return fmt.Errorf("duplicate node %q", id)
	}
	if len(deps) == 0 {
		return fmt.Errorf("node %q has no dependencies", id)
	}
	g.deps[id] = append([]NodeID(nil), deps...)
	return nil
}

// Build validates the graph and fixes its topological order
func (g *Graph) Build() error {
	indegree := make(map[NodeID]int, len(g.deps))
	for id, deps := range g.deps {
		for _, d := range deps {
			if !g.inputs[d] && g.deps[d] == nil {
				return fmt.Errorf("node %q depends on unknown %q", id, d)
			}
			g.dependents[d] = append(g.dependents[d], id)
			if !g.inputs[d] {
				indegree[id]++
			}
		}
	}

	// Kahn's algorithm with sorted frontiers so the order is deterministic.
	var ready []NodeID
	for id := range g.deps {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sortIDs(ready)

	order := make([]NodeID, 0, len(g.deps))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		var next []NodeID
		for _, dep := range g.dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				next = append(next, dep)
			}
		}
		sortIDs(next)
		ready = append(ready, next...)
	}
	if len(order) != len(g.deps) {
		return fmt.Errorf("dependency cycle among derived nodes")
	}

	for i, id := range order {
		g.rank[id] = i
	}
	g.order = order
	g.built = true
	return nil
}

// Order returns the derived nodes in topological order
func (g *Graph) Order() []NodeID {
	return append([]NodeID(nil), g.order...)
}

// Affected returns every derived node downstream of changed, in
// topological order
func (g *Graph) Affected(changed ...NodeID) []NodeID {
	seen := map[NodeID]bool{}
	stack := append([]NodeID(nil), changed...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, dep := range g.dependents[id] {
			if !seen[dep] {
				seen[dep] = true
				stack = append(stack, dep)
			}
		}
	}

	out := make([]NodeID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return g.rank[out[i]] < g.rank[out[j]] })
	return out
}

func sortIDs(ids []NodeID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
