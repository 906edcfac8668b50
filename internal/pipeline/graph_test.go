package pipeline

import (
	"reflect"
	"testing"
)

func TestPipelineGraphOrder(t *testing.T) {
	g, err := NewGraphForPipeline()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	order := g.Order()
	pos := map[NodeID]int{}
	for i, id := range order {
		pos[id] = i
	}
	if pos[NodeScoped] > pos[NodeDated] || pos[NodeDated] > pos[NodeVisible] || pos[NodeDated] > pos[NodeWaypoints] {
		t.Fatalf("order = %v", order)
	}

	tests := []struct {
		changed []NodeID
		want    []NodeID
	}{
		{[]NodeID{InputOrdering}, []NodeID{NodeVisible}},
		{[]NodeID{InputDate}, []NodeID{NodeDated, NodeVisible, NodeWaypoints}},
		{[]NodeID{InputLocations}, []NodeID{NodeScoped, NodeDated, NodeVisible, NodeWaypoints}},
	}
	for _, tt := range tests {
		got := g.Affected(tt.changed...)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Affected(%v) = %v, want %v", tt.changed, got, tt.want)
		}
	}
}

func TestGraphRejectsCycles(t *testing.T) {
	g := NewGraph()
	g.AddInput("in")
	g.AddNode("a", "in", "b")
	g.AddNode("b", "a")
	if err := g.Build(); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestGraphRejectsBadDeclarations(t *testing.T) {
	g := NewGraph()
	if err := g.AddInput("in"); err != nil {
		t.Fatalf("add input: %v", err)
	}
	if err := g.AddInput("in"); err == nil {
		t.Fatal("expected duplicate error")
	}
	if err := g.AddNode("orphan"); err == nil {
		t.Fatal("expected error for node without deps")
	}
	g.AddNode("a", "missing")
	if err := g.Build(); err == nil {
		t.Fatal("expected unknown dependency error")
	}
}
