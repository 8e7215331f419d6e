package mesh

import (
	"fmt"
	"math"

	"github.com/chazu/voxgraph/pkg/geomerr"
	"gonum.org/v1/gonum/spatial/r3"
)

type cellKey [3]int64

// Weld merges vertices closer than tol. Vertices are visited in index
// order; each joins the oldest cluster whose seed lies within tol, and a
// cluster's final position is the mean of its members. Faces are remapped
// and faces that collapse to repeated indices or zero area are dropped.
// Cached normals are discarded.
func (m *Mesh) Weld(tol float64) (*Mesh, error) {
	if !(tol > 0) || math.IsInf(tol, 0) {
		return nil, fmt.Errorf("mesh: weld: %w", geomerr.Invalidf("tolerance must be positive, got %g", tol))
	}

	key := func(p r3.Vec) cellKey {
		return cellKey{int64(math.Floor(p.X / tol)), int64(math.Floor(p.Y / tol)), int64(math.Floor(p.Z / tol))}
	}

	var (
		seeds  []r3.Vec
		sums   []r3.Vec
		counts []int
		cells  = make(map[cellKey][]int)
		remap  = make([]int, len(m.vertices))
		tol2   = tol * tol
	)
	for vi, p := range m.vertices {
		k := key(p)
		cluster := -1
		for dx := int64(-1); dx <= 1; dx++ {
			for dy := int64(-1); dy <= 1; dy++ {
				for dz := int64(-1); dz <= 1; dz++ {
					for _, c := range cells[cellKey{k[0] + dx, k[1] + dy, k[2] + dz}] {
						if r3.Norm2(r3.Sub(seeds[c], p)) < tol2 && (cluster < 0 || c < cluster) {
							cluster = c
						}
					}
				}
			}
		}
		if cluster < 0 {
			cluster = len(seeds)
			seeds = append(seeds, p)
			sums = append(sums, r3.Vec{})
			counts = append(counts, 0)
			cells[k] = append(cells[k], cluster)
		}
		sums[cluster] = r3.Add(sums[cluster], p)
		counts[cluster]++
		remap[vi] = cluster
	}

	vertices := make([]r3.Vec, len(seeds))
	for c := range vertices {
		vertices[c] = r3.Scale(1/float64(counts[c]), sums[c])
	}

	faces := make([]Face, 0, len(m.faces))
	for _, f := range m.faces {
		nf := Face{remap[f[0]], remap[f[1]], remap[f[2]]}
		if nf.Degenerate() || zeroArea(vertices[nf[0]], vertices[nf[1]], vertices[nf[2]]) {
			continue
		}
		faces = append(faces, nf)
	}
	return build(vertices, faces, nil), nil
}

// zeroArea reports whether the triangle's area is negligible relative to
// its longest edge.
func zeroArea(a, b, c r3.Vec) bool {
	ab, ac, bc := r3.Sub(b, a), r3.Sub(c, a), r3.Sub(c, b)
	longest := math.Max(r3.Norm2(ab), math.Max(r3.Norm2(ac), r3.Norm2(bc)))
	if longest == 0 {
		return true
	}
	return r3.Norm(r3.Cross(ab, ac)) <= 1e-12*longest
}
