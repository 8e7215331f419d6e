package mesh

import (
	"fmt"

	"github.com/chazu/voxgraph/pkg/geom"
	"github.com/chazu/voxgraph/pkg/geomerr"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// MaxSmoothIterations bounds Laplacian smoothing.
	MaxSmoothIterations = 255
	// MaxSubdivisions bounds Loop subdivision; each pass quadruples faces.
	MaxSubdivisions = 3
)

// SmoothResult reports how a Laplacian smoothing run ended.
type SmoothResult struct {
	Iterations int  // passes actually executed
	Stable     bool // the last pass moved no vertex beyond tolerance
}

// Smooth relaxes the mesh by replacing every free vertex with the mean of
// its neighbours, up to iterations times. Vertices listed in fixed keep
// their position. With stopWhenStable the run ends early once a pass
// moves nothing. Topology is unchanged; cached normals are dropped.
func (m *Mesh) Smooth(iterations int, fixed []int, stopWhenStable bool) (*Mesh, SmoothResult, error) {
	if iterations < 0 || iterations > MaxSmoothIterations {
		return nil, SmoothResult{}, fmt.Errorf("mesh: smooth: %w", geomerr.Invalidf("iterations must be in [0,%d], got %d", MaxSmoothIterations, iterations))
	}
	pinned := make([]bool, len(m.vertices))
	for _, v := range fixed {
		if v < 0 || v >= len(m.vertices) {
			return nil, SmoothResult{}, fmt.Errorf("mesh: smooth: %w", geomerr.Invalidf("fixed vertex %d out of range", v))
		}
		pinned[v] = true
	}
	if iterations == 0 {
		return m, SmoothResult{}, nil
	}

	neighbors := m.VertexNeighbors()
	cur := append([]r3.Vec(nil), m.vertices...)
	next := make([]r3.Vec, len(cur))
	var res SmoothResult
	for res.Iterations < iterations {
		res.Stable = true
		for v, ns := range neighbors {
			if pinned[v] || len(ns) == 0 {
				next[v] = cur[v]
				continue
			}
			var sum r3.Vec
			for _, n := range ns {
				sum = r3.Add(sum, cur[n])
			}
			next[v] = r3.Scale(1/float64(len(ns)), sum)
			if !geom.DefaultTolerance.EqualVec(next[v], cur[v]) {
				res.Stable = false
			}
		}
		cur, next = next, cur
		res.Iterations++
		if stopWhenStable && res.Stable {
			break
		}
	}
	return build(cur, m.faces, nil), res, nil
}

// Subdivide applies Loop subdivision iterations times. The mesh must be
// watertight; each pass splits every triangle into four and moves the
// original vertices by Loop's valence weights.
func (m *Mesh) Subdivide(iterations int) (*Mesh, error) {
	if iterations < 0 || iterations > MaxSubdivisions {
		return nil, fmt.Errorf("mesh: subdivide: %w", geomerr.Invalidf("iterations must be in [0,%d], got %d", MaxSubdivisions, iterations))
	}
	if err := m.RequireWatertight(); err != nil {
		return nil, fmt.Errorf("mesh: subdivide: %w", err)
	}
	cur := m
	for i := 0; i < iterations; i++ {
		cur = cur.loopPass()
	}
	return cur, nil
}

func (m *Mesh) loopPass() *Mesh {
	neighbors := m.VertexNeighbors()
	edgeFaces := m.EdgeFaces()

	vertices := make([]r3.Vec, len(m.vertices), len(m.vertices)+len(edgeFaces))
	for v, ns := range neighbors {
		n := len(ns)
		if n == 0 {
			vertices[v] = m.vertices[v]
			continue
		}
		beta := 3.0 / (8.0 * float64(n))
		if n == 3 {
			beta = 3.0 / 16.0
		}
		var sum r3.Vec
		for _, u := range ns {
			sum = r3.Add(sum, m.vertices[u])
		}
		vertices[v] = r3.Add(r3.Scale(1-float64(n)*beta, m.vertices[v]), r3.Scale(beta, sum))
	}

	opposite := func(fi int, e Edge) int {
		for _, v := range m.faces[fi] {
			if v != e.A && v != e.B {
				return v
			}
		}
		return e.A
	}
	edgePoint := make(map[Edge]int, len(edgeFaces))
	split := func(a, b int) int {
		k := Edge{a, b}.Undirected()
		if idx, ok := edgePoint[k]; ok {
			return idx
		}
		adj := edgeFaces[k]
		c, d := opposite(adj[0], k), opposite(adj[1], k)
		p := r3.Add(
			r3.Scale(3.0/8.0, r3.Add(m.vertices[a], m.vertices[b])),
			r3.Scale(1.0/8.0, r3.Add(m.vertices[c], m.vertices[d])),
		)
		idx := len(vertices)
		vertices = append(vertices, p)
		edgePoint[k] = idx
		return idx
	}

	faces := make([]Face, 0, 4*len(m.faces))
	for _, f := range m.faces {
		a, b, c := f[0], f[1], f[2]
		ab, bc, ca := split(a, b), split(b, c), split(c, a)
		faces = append(faces,
			Face{a, ab, ca},
			Face{ab, b, bc},
			Face{ca, bc, c},
			Face{ab, bc, ca},
		)
	}
	return build(vertices, faces, nil)
}
