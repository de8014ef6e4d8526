// Package graph implements a generic directed graph with per-vertex and
// per-edge data slots, DFS-based topological sort and cycle detection.
// It is grounded on pisi/graph.py's Digraph ("the most simple minded
// digraph class ever"), generalized with Go type parameters so any
// comparable vertex type (here, package names) gets compile-time safety.
//
// The graph is rebuilt per planning pass; nothing here is persisted.
package graph

import "fmt"

// CycleError carries the vertex path of a detected cycle, starting at the
// re-encountered ancestor; the ancestor is not repeated at the end.
type CycleError[V comparable] struct {
	Path []V
}

func (e *CycleError[V]) Error() string {
	return fmt.Sprintf("encountered cycle %v", e.Path)
}

type color int

const (
	white color = iota
	gray
	black
)

// Digraph is a directed graph over comparable vertices V, carrying
// optional data of type VD per vertex and ED per edge.
type Digraph[V comparable, VD any, ED any] struct {
	order    []V
	vertices map[V]bool
	adj      map[V][]V
	vdata    map[V]VD
	edata    map[V]map[V]ED
}

// New returns an empty graph.
func New[V comparable, VD any, ED any]() *Digraph[V, VD, ED] {
	return &Digraph[V, VD, ED]{
		vertices: make(map[V]bool),
		adj:      make(map[V][]V),
		vdata:    make(map[V]VD),
		edata:    make(map[V]map[V]ED),
	}
}

// HasVertex reports whether u has been added to the graph.
func (g *Digraph[V, VD, ED]) HasVertex(u V) bool { return g.vertices[u] }

// AddVertex adds vertex u, if not already present. Calling it on an
// existing vertex is a no-op (idempotent, unlike pisi's assert-on-dup).
func (g *Digraph[V, VD, ED]) AddVertex(u V) {
	if g.vertices[u] {
		return
	}
	g.vertices[u] = true
	g.order = append(g.order, u)
	g.adj[u] = nil
	g.edata[u] = make(map[V]ED)
}

// SetVertexData attaches data to a vertex.
func (g *Digraph[V, VD, ED]) SetVertexData(u V, data VD) {
	g.AddVertex(u)
	g.vdata[u] = data
}

// VertexData returns the data attached to u, if any.
func (g *Digraph[V, VD, ED]) VertexData(u V) (VD, bool) {
	d, ok := g.vdata[u]
	return d, ok
}

// AddEdge adds edge u->v, creating either endpoint if absent.
func (g *Digraph[V, VD, ED]) AddEdge(u, v V, data ED) {
	g.AddVertex(u)
	g.AddVertex(v)
	for _, existing := range g.adj[u] {
		if existing == v {
			g.edata[u][v] = data
			return
		}
	}
	g.adj[u] = append(g.adj[u], v)
	g.edata[u][v] = data
}

// EdgeData returns the data attached to edge u->v.
func (g *Digraph[V, VD, ED]) EdgeData(u, v V) (ED, bool) {
	d, ok := g.edata[u][v]
	return d, ok
}

// HasEdge reports whether edge u->v exists.
func (g *Digraph[V, VD, ED]) HasEdge(u, v V) bool {
	if !g.vertices[u] {
		return false
	}
	for _, w := range g.adj[u] {
		if w == v {
			return true
		}
	}
	return false
}

// Vertices returns all vertices, in insertion order.
func (g *Digraph[V, VD, ED]) Vertices() []V {
	out := make([]V, len(g.order))
	copy(out, g.order)
	return out
}

// Adj returns the successors of u.
func (g *Digraph[V, VD, ED]) Adj(u V) []V {
	out := make([]V, len(g.adj[u]))
	copy(out, g.adj[u])
	return out
}

// Edges returns every (u, v) edge pair.
func (g *Digraph[V, VD, ED]) Edges() [][2]V {
	var out [][2]V
	for _, u := range g.order {
		for _, v := range g.adj[u] {
			out = append(out, [2]V{u, v})
		}
	}
	return out
}

// dfsState threads through one DFS pass without leaking into struct fields
// (pisi's Digraph.dfs stashes color/parent/time on self; kept local here).
type dfsState[V comparable] struct {
	color  map[V]color
	parent map[V]*V
}

// DFS performs a depth-first traversal over every vertex, calling
// finishHook (if non-nil) when a vertex is fully explored (black). It
// returns *CycleError[V] if a back-edge to a gray vertex is found.
func (g *Digraph[V, VD, ED]) DFS(finishHook func(V)) error {
	st := &dfsState[V]{
		color:  make(map[V]color, len(g.order)),
		parent: make(map[V]*V, len(g.order)),
	}
	for _, u := range g.order {
		st.color[u] = white
	}
	for _, u := range g.order {
		if st.color[u] == white {
			if err := g.visit(u, st, finishHook); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *Digraph[V, VD, ED]) visit(u V, st *dfsState[V], finishHook func(V)) error {
	st.color[u] = gray
	for _, v := range g.adj[u] {
		switch st.color[v] {
		case white:
			parent := u
			st.parent[v] = &parent
			if err := g.visit(v, st, finishHook); err != nil {
				return err
			}
		case gray:
			cycle := []V{u}
			cur := u
			for st.parent[cur] != nil {
				cur = *st.parent[cur]
				cycle = append(cycle, cur)
				if g.HasEdge(cycle[0], cur) {
					break
				}
			}
			// reverse in place
			for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
				cycle[i], cycle[j] = cycle[j], cycle[i]
			}
			return &CycleError[V]{Path: cycle}
		case black:
			// already fully explored, not a cycle
		}
	}
	st.color[u] = black
	if finishHook != nil {
		finishHook(u)
	}
	return nil
}

// CycleFree reports whether the graph currently contains no cycle.
func (g *Digraph[V, VD, ED]) CycleFree() bool {
	return g.DFS(nil) == nil
}

// TopologicalSort returns vertices in DFS finish-time order, reversed —
// i.e. dependencies before dependents. Returns *CycleError[V] if the
// graph is not a DAG.
func (g *Digraph[V, VD, ED]) TopologicalSort() ([]V, error) {
	var finished []V
	if err := g.DFS(func(u V) { finished = append(finished, u) }); err != nil {
		return nil, err
	}
	out := make([]V, len(finished))
	for i, v := range finished {
		out[len(finished)-1-i] = v
	}
	return out, nil
}
