// Package voxelize converts watertight triangle meshes into narrow-band
// signed distance grids.
//
// Voxelization runs in two passes over the lattice. The distance pass
// splats every triangle into the cells within the band around it, keeping
// the minimum point-triangle distance. The sign pass casts a ray along +Z
// through every sample column and marks samples with a nonzero winding
// number as inside. Both passes partition the lattice so that every sample
// is written by exactly one task, visiting triangles in index order, which
// makes the output bit-identical for any worker count.
package voxelize

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/chazu/voxgraph/pkg/geomerr"
	"github.com/chazu/voxgraph/pkg/logging"
	"github.com/chazu/voxgraph/pkg/mesh"
	"github.com/chazu/voxgraph/pkg/voxel"
	"github.com/chazu/voxgraph/pkg/workpool"
	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultBand is the narrow-band half width in cells.
const DefaultBand = 3

// Options tunes a voxelization. The zero value is usable.
type Options struct {
	// Band is the half width of the exact distance band in cells. Samples
	// further from the surface clamp to ±Band*CellSize. Zero selects
	// DefaultBand.
	Band int
	// Pool fans the passes out over free worker slots. Nil runs inline.
	Pool *workpool.Pool
	// Buffers supplies the sample slice. Nil allocates.
	Buffers *voxel.BufferPool
}

func (o Options) band() (int, error) {
	switch {
	case o.Band == 0:
		return DefaultBand, nil
	case o.Band < 1:
		return 0, fmt.Errorf("voxelize: %w", geomerr.Invalidf("band must be at least 1 cell, got %d", o.Band))
	}
	return o.Band, nil
}

type triangle struct {
	a, b, c r3.Vec
	lo, hi  r3.Vec
}

func triangles(m *mesh.Mesh) []triangle {
	out := make([]triangle, m.FaceCount())
	for i := range out {
		a, b, c := m.Triangle(i)
		out[i] = triangle{
			a: a, b: b, c: c,
			lo: r3.Vec{X: math.Min(a.X, math.Min(b.X, c.X)), Y: math.Min(a.Y, math.Min(b.Y, c.Y)), Z: math.Min(a.Z, math.Min(b.Z, c.Z))},
			hi: r3.Vec{X: math.Max(a.X, math.Max(b.X, c.X)), Y: math.Max(a.Y, math.Max(b.Y, c.Y)), Z: math.Max(a.Z, math.Max(b.Z, c.Z))},
		}
	}
	return out
}

// span returns the sample indices along one axis whose coordinates may lie
// within [lo, hi], clipped to [0, n). The range is widened by one sample on
// each side; exact tests happen per sample.
func span(lo, hi, origin, h float64, n int) (int, int) {
	i0 := int(math.Floor((lo-origin)/h)) - 1
	i1 := int(math.Ceil((hi-origin)/h)) + 1
	if i0 < 0 {
		i0 = 0
	}
	if i1 > n-1 {
		i1 = n - 1
	}
	return i0, i1
}

// Voxelize samples the signed distance to m on lattice l. Values are
// negative inside, clamped to ±Band*CellSize. m must be watertight.
func Voxelize(ctx context.Context, m *mesh.Mesh, l voxel.Lattice, opts Options) (*voxel.Grid, error) {
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("voxelize: %w", err)
	}
	band, err := opts.band()
	if err != nil {
		return nil, err
	}
	if err := m.RequireWatertight(); err != nil {
		return nil, fmt.Errorf("voxelize: %w", err)
	}

	far := float64(band) * l.CellSize
	values := opts.Buffers.Get(l.Dims.Count())
	for i := range values {
		values[i] = far
	}

	tris := triangles(m)
	parts := 1
	if opts.Pool != nil {
		parts = 4 * opts.Pool.Size()
	}

	if err := distancePass(ctx, tris, l, far, values, opts.Pool, parts); err != nil {
		opts.Buffers.Put(values)
		return nil, err
	}
	if err := signPass(ctx, tris, l, values, opts.Pool, parts); err != nil {
		opts.Buffers.Put(values)
		return nil, err
	}

	g, err := voxel.Wrap(l, values, far)
	if err != nil {
		opts.Buffers.Put(values)
		return nil, err
	}
	logging.Logger().Debug("voxelized mesh",
		"faces", m.FaceCount(),
		"dims", fmt.Sprintf("%dx%dx%d", l.Dims.X, l.Dims.Y, l.Dims.Z),
		"cell_size", l.CellSize,
		"inside", g.Inside())
	return g, nil
}

// distancePass writes unsigned band distances. Tasks own z-slabs.
func distancePass(ctx context.Context, tris []triangle, l voxel.Lattice, far float64, values []float64, pool *workpool.Pool, parts int) error {
	slabs := workpool.Split(l.Dims.Z, parts)
	h, o := l.CellSize, l.Origin
	return pool.Fanout(ctx, len(slabs), func(ctx context.Context, s int) error {
		k0, k1 := slabs[s][0], slabs[s][1]
		for ti := range tris {
			if ti%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			t := &tris[ti]
			ka, kb := span(t.lo.Z-far, t.hi.Z+far, o.Z, h, l.Dims.Z)
			if ka < k0 {
				ka = k0
			}
			if kb > k1-1 {
				kb = k1 - 1
			}
			if ka > kb {
				continue
			}
			ia, ib := span(t.lo.X-far, t.hi.X+far, o.X, h, l.Dims.X)
			ja, jb := span(t.lo.Y-far, t.hi.Y+far, o.Y, h, l.Dims.Y)
			for k := ka; k <= kb; k++ {
				for j := ja; j <= jb; j++ {
					for i := ia; i <= ib; i++ {
						idx := l.Index(i, j, k)
						if d := distance(l.Center(i, j, k), t.a, t.b, t.c); d < values[idx] {
							values[idx] = d
						}
					}
				}
			}
		}
		return nil
	})
}

// signPass negates the samples inside the surface. Tasks own ranges of
// rows (j) and bin the triangles covering each column of their rows.
func signPass(ctx context.Context, tris []triangle, l voxel.Lattice, values []float64, pool *workpool.Pool, parts int) error {
	rows := workpool.Split(l.Dims.Y, parts)
	h, o, d := l.CellSize, l.Origin, l.Dims
	return pool.Fanout(ctx, len(rows), func(ctx context.Context, r int) error {
		j0, j1 := rows[r][0], rows[r][1]
		bins := make([][]int32, (j1-j0)*d.X)
		for ti := range tris {
			t := &tris[ti]
			ja, jb := span(t.lo.Y, t.hi.Y, o.Y, h, d.Y)
			if ja < j0 {
				ja = j0
			}
			if jb > j1-1 {
				jb = j1 - 1
			}
			if ja > jb {
				continue
			}
			ia, ib := span(t.lo.X, t.hi.X, o.X, h, d.X)
			for j := ja; j <= jb; j++ {
				row := (j - j0) * d.X
				for i := ia; i <= ib; i++ {
					bins[row+i] = append(bins[row+i], int32(ti))
				}
			}
		}

		var hits []crossing
		for j := j0; j < j1; j++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			for i := 0; i < d.X; i++ {
				bin := bins[(j-j0)*d.X+i]
				if len(bin) == 0 {
					continue
				}
				p := l.Center(i, j, 0)
				hits = hits[:0]
				for _, ti := range bin {
					t := &tris[ti]
					if c, ok := cross(p.X, p.Y, t.a, t.b, t.c); ok {
						hits = append(hits, c)
					}
				}
				if len(hits) == 0 {
					continue
				}
				sort.Slice(hits, func(a, b int) bool {
					if hits[a].z != hits[b].z {
						return hits[a].z < hits[b].z
					}
					return hits[a].winding < hits[b].winding
				})
				winding, next := 0, 0
				for k := 0; k < d.Z; k++ {
					z := l.Center(i, j, k).Z
					for next < len(hits) && hits[next].z < z {
						winding += hits[next].winding
						next++
					}
					if winding != 0 {
						idx := l.Index(i, j, k)
						values[idx] = -values[idx]
					}
				}
			}
		}
		return nil
	})
}
