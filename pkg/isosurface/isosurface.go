// Package isosurface extracts triangle meshes from signed distance grids.
//
// Every lattice cube is split into six tetrahedra that share the cube's
// main diagonal, so neighbouring cubes agree on how their shared faces are
// cut and no ambiguous configurations arise. The grid is treated as
// surrounded by +Far, which closes surfaces that touch the lattice
// boundary. Output meshes are watertight and outward wound whenever any
// sample lies inside.
package isosurface

import (
	"context"
	"fmt"
	"math"

	"github.com/chazu/voxgraph/pkg/geomerr"
	"github.com/chazu/voxgraph/pkg/logging"
	"github.com/chazu/voxgraph/pkg/mesh"
	"github.com/chazu/voxgraph/pkg/voxel"
	"github.com/chazu/voxgraph/pkg/workpool"
	"gonum.org/v1/gonum/spatial/r3"
)

// Options tunes an extraction. The zero value extracts the zero level set
// inline.
type Options struct {
	// Iso is the level extracted; samples below it are inside.
	Iso float64
	// Pool fans extraction out over z-slabs. Nil runs inline.
	Pool *workpool.Pool
}

// tetra lists four cube corners (bits x=1, y=2, z=4) forming a chain from
// corner 0 to corner 7, and whether the ordering has positive volume.
type tetra struct {
	corners  [4]int
	positive bool
}

var tetras = func() [6]tetra {
	perms := [6]struct {
		axes   [3]int
		parity int
	}{
		{[3]int{0, 1, 2}, 1}, {[3]int{0, 2, 1}, -1}, {[3]int{1, 0, 2}, -1},
		{[3]int{1, 2, 0}, 1}, {[3]int{2, 0, 1}, 1}, {[3]int{2, 1, 0}, -1},
	}
	var out [6]tetra
	for n, p := range perms {
		c1 := 1 << p.axes[0]
		c2 := c1 | 1<<p.axes[1]
		out[n] = tetra{corners: [4]int{0, c1, c2, 7}, positive: p.parity > 0}
	}
	return out
}()

// key identifies a lattice edge by its lower endpoint (in a lattice grown
// by one sample on every side) and the corner offset to the upper one.
type key int64

type slabResult struct {
	tris      [][3]key
	positions map[key]r3.Vec
}

// Extract returns the surface where g crosses opts.Iso.
func Extract(ctx context.Context, g *voxel.Grid, opts Options) (*mesh.Mesh, error) {
	if math.IsNaN(opts.Iso) || math.Abs(opts.Iso) >= g.Far() {
		return nil, fmt.Errorf("isosurface: %w", geomerr.Invalidf("iso %g must lie within ±%g", opts.Iso, g.Far()))
	}
	d := g.Dims()
	parts := 1
	if opts.Pool != nil {
		parts = 4 * opts.Pool.Size()
	}
	// Cubes start one sample before the lattice so the +Far margin closes
	// the surface.
	slabs := workpool.Split(d.Z+1, parts)
	results := make([]slabResult, len(slabs))
	err := opts.Pool.Fanout(ctx, len(slabs), func(ctx context.Context, s int) error {
		r, err := extractSlab(ctx, g, opts.Iso, slabs[s][0]-1, slabs[s][1]-1)
		results[s] = r
		return err
	})
	if err != nil {
		return nil, err
	}

	index := make(map[key]int)
	var vertices []r3.Vec
	var faces []mesh.Face
	for _, r := range results {
		for _, t := range r.tris {
			var f mesh.Face
			for n, k := range t {
				v, ok := index[k]
				if !ok {
					v = len(vertices)
					index[k] = v
					vertices = append(vertices, r.positions[k])
				}
				f[n] = v
			}
			faces = append(faces, f)
		}
	}
	m, err := mesh.New(vertices, faces)
	if err != nil {
		return nil, fmt.Errorf("isosurface: %w", err)
	}
	logging.Logger().Debug("extracted isosurface",
		"iso", opts.Iso,
		"vertices", m.VertexCount(),
		"faces", m.FaceCount())
	return m, nil
}

// extractSlab handles cubes whose lower z index lies in [k0, k1).
func extractSlab(ctx context.Context, g *voxel.Grid, iso float64, k0, k1 int) (slabResult, error) {
	l := g.Lattice()
	d := l.Dims
	r := slabResult{positions: make(map[key]r3.Vec)}
	ex, ey := d.X+2, d.Y+2

	var vals [8]float64
	var pos [8]r3.Vec
	var keys [8]int64
	for k := k0; k < k1; k++ {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		for j := -1; j < d.Y; j++ {
			for i := -1; i < d.X; i++ {
				in := 0
				for c := 0; c < 8; c++ {
					ci, cj, ck := i+c&1, j+c>>1&1, k+c>>2&1
					vals[c] = g.At(ci, cj, ck)
					if vals[c] < iso {
						in++
					}
				}
				if in == 0 || in == 8 {
					continue
				}
				for c := 0; c < 8; c++ {
					ci, cj, ck := i+c&1, j+c>>1&1, k+c>>2&1
					pos[c] = l.Center(ci, cj, ck)
					keys[c] = int64(((ck+1)*ey+cj+1)*ex + ci + 1)
				}
				for _, t := range tetras {
					r.polygonize(t, &vals, &pos, &keys, iso)
				}
			}
		}
	}
	return r, nil
}

// polygonize emits the triangles of one tetrahedron.
func (r *slabResult) polygonize(t tetra, vals *[8]float64, pos *[8]r3.Vec, keys *[8]int64, iso float64) {
	// Order the corners inside-first, keeping chain order within each
	// group, and track the orientation of that ordering.
	var order [4]int
	n, inside := 0, 0
	for _, c := range t.corners {
		if vals[c] < iso {
			order[n] = c
			n++
			inside++
		}
	}
	if inside == 0 || inside == 4 {
		return
	}
	for _, c := range t.corners {
		if !(vals[c] < iso) {
			order[n] = c
			n++
		}
	}
	positive := t.positive
	for a := 0; a < 4; a++ {
		for b := a + 1; b < 4; b++ {
			// Chain corners are nested bit sets, so numeric order is
			// chain order.
			if order[a] > order[b] {
				positive = !positive
			}
		}
	}

	edge := func(a, b int) key {
		lo, hi := a, b
		if lo > hi {
			lo, hi = hi, lo
		}
		k := key(keys[lo]*8 + int64(hi^lo))
		if _, ok := r.positions[k]; !ok {
			va, vb := vals[lo], vals[hi]
			s := (iso - va) / (vb - va)
			r.positions[k] = r3.Add(pos[lo], r3.Scale(s, r3.Sub(pos[hi], pos[lo])))
		}
		return k
	}
	emit := func(a, b, c key) {
		if positive {
			r.tris = append(r.tris, [3]key{a, b, c})
		} else {
			r.tris = append(r.tris, [3]key{a, c, b})
		}
	}

	a, b, c, d := order[0], order[1], order[2], order[3]
	switch inside {
	case 1:
		emit(edge(a, b), edge(a, c), edge(a, d))
	case 3:
		emit(edge(a, d), edge(b, d), edge(c, d))
	case 2:
		ac, ad, bd, bc := edge(a, c), edge(a, d), edge(b, d), edge(b, c)
		emit(ac, ad, bd)
		emit(ac, bd, bc)
	}
}
