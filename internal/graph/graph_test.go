package graph

import (
	"errors"
	"testing"
)

func TestTopologicalSortRespectsEdges(t *testing.T) {
	g := New[string, struct{}, struct{}]()
	g.AddEdge("app", "lib", struct{}{})
	g.AddEdge("lib", "base", struct{}{})
	g.AddEdge("app", "base", struct{}{})

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pos := make(map[string]int, len(order))
	for i, v := range order {
		pos[v] = i
	}
	for _, edge := range g.Edges() {
		u, v := edge[0], edge[1]
		if pos[u] >= pos[v] {
			t.Errorf("edge %s->%s violated: pos[%s]=%d pos[%s]=%d", u, v, u, pos[u], v, pos[v])
		}
	}
}

func TestCycleDetected(t *testing.T) {
	g := New[string, struct{}, struct{}]()
	g.AddEdge("a", "b", struct{}{})
	g.AddEdge("b", "c", struct{}{})
	g.AddEdge("c", "a", struct{}{})

	_, err := g.TopologicalSort()
	var cycleErr *CycleError[string]
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if len(cycleErr.Path) == 0 {
		t.Errorf("expected non-empty cycle path")
	}
	if g.CycleFree() {
		t.Errorf("expected CycleFree() to be false")
	}
}

func TestVertexAndEdgeData(t *testing.T) {
	g := New[string, int, string]()
	g.SetVertexData("a", 1)
	g.AddEdge("a", "b", "dep")

	d, ok := g.VertexData("a")
	if !ok || d != 1 {
		t.Errorf("expected vertex data 1, got %v %v", d, ok)
	}
	ed, ok := g.EdgeData("a", "b")
	if !ok || ed != "dep" {
		t.Errorf("expected edge data 'dep', got %v %v", ed, ok)
	}
}

func TestSingleVertexNoCycle(t *testing.T) {
	g := New[string, struct{}, struct{}]()
	g.AddVertex("solo")
	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 1 || order[0] != "solo" {
		t.Errorf("expected [solo], got %v", order)
	}
}
