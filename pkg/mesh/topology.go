package mesh

import (
	"fmt"
	"sort"

	"github.com/chazu/voxgraph/pkg/geomerr"
)

// Edge is a pair of vertex indices. Directed edges keep face order;
// undirected keys have A < B.
type Edge struct {
	A, B int
}

// Undirected returns the edge with its endpoints sorted.
func (e Edge) Undirected() Edge {
	if e.A > e.B {
		return Edge{e.B, e.A}
	}
	return e
}

// Reverse returns the edge traversed the other way.
func (e Edge) Reverse() Edge { return Edge{e.B, e.A} }

// Edges returns the three directed edges of f in winding order.
func (f Face) Edges() [3]Edge {
	return [3]Edge{{f[0], f[1]}, {f[1], f[2]}, {f[2], f[0]}}
}

// Degenerate reports whether f repeats a vertex index.
func (f Face) Degenerate() bool {
	return f[0] == f[1] || f[1] == f[2] || f[2] == f[0]
}

// Reversed returns f with opposite winding.
func (f Face) Reversed() Face { return Face{f[0], f[2], f[1]} }

// VertexFaces returns, for every vertex, the indices of the faces that use
// it in ascending order.
func (m *Mesh) VertexFaces() [][]int {
	adj := make([][]int, len(m.vertices))
	for fi, f := range m.faces {
		for k, v := range f {
			// a degenerate face lists the vertex once
			if k > 0 && f[k-1] == v || k == 2 && f[0] == v {
				continue
			}
			adj[v] = append(adj[v], fi)
		}
	}
	return adj
}

// EdgeFaces maps every undirected edge to the faces that contain it, in
// ascending face order. Manifold meshes have at most two faces per edge.
func (m *Mesh) EdgeFaces() map[Edge][]int {
	adj := make(map[Edge][]int, len(m.faces)*3/2)
	for fi, f := range m.faces {
		if f.Degenerate() {
			continue
		}
		for _, e := range f.Edges() {
			k := e.Undirected()
			adj[k] = append(adj[k], fi)
		}
	}
	return adj
}

// VertexNeighbors returns, for every vertex, the sorted set of vertices it
// shares an edge with.
func (m *Mesh) VertexNeighbors() [][]int {
	sets := make([]map[int]struct{}, len(m.vertices))
	for _, f := range m.faces {
		if f.Degenerate() {
			continue
		}
		for _, e := range f.Edges() {
			for _, p := range [2][2]int{{e.A, e.B}, {e.B, e.A}} {
				if sets[p[0]] == nil {
					sets[p[0]] = make(map[int]struct{}, 6)
				}
				sets[p[0]][p[1]] = struct{}{}
			}
		}
	}
	out := make([][]int, len(m.vertices))
	for v, s := range sets {
		if len(s) == 0 {
			continue
		}
		ns := make([]int, 0, len(s))
		for n := range s {
			ns = append(ns, n)
		}
		sort.Ints(ns)
		out[v] = ns
	}
	return out
}

// IsWatertight reports whether every edge is shared by exactly two faces
// that traverse it in opposite directions. Faces repeating a vertex make
// a mesh non-watertight. An empty mesh is watertight.
func (m *Mesh) IsWatertight() bool {
	directed := make(map[Edge]int, len(m.faces)*3)
	for _, f := range m.faces {
		if f.Degenerate() {
			return false
		}
		for _, e := range f.Edges() {
			directed[e]++
		}
	}
	for e, n := range directed {
		if n != 1 || directed[e.Reverse()] != 1 {
			return false
		}
	}
	return true
}

// RequireWatertight returns nil for watertight meshes and a wrapped
// ErrNonManifoldMesh describing the first problems otherwise.
func (m *Mesh) RequireWatertight() error {
	if m.IsWatertight() {
		return nil
	}
	if err := m.Validate().Err(); err != nil {
		return fmt.Errorf("mesh: %w", err)
	}
	return fmt.Errorf("mesh: %w", geomerr.ErrNonManifoldMesh)
}

// components labels every face with a connected-component index. Faces
// are connected when they share a vertex. Labels follow the order of each
// component's lowest face index.
func (m *Mesh) components() (labels []int, count int) {
	parent := make([]int, len(m.vertices))
	for i := range parent {
		parent[i] = i
	}
	find := func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		if ra < rb {
			parent[rb] = ra
		} else {
			parent[ra] = rb
		}
	}
	for _, f := range m.faces {
		union(f[0], f[1])
		union(f[1], f[2])
	}

	labels = make([]int, len(m.faces))
	ids := make(map[int]int)
	for fi, f := range m.faces {
		root := find(f[0])
		id, ok := ids[root]
		if !ok {
			id = len(ids)
			ids[root] = id
		}
		labels[fi] = id
	}
	return labels, len(ids)
}
