package voxel

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/chazu/voxgraph/pkg/geomerr"
	"gonum.org/v1/gonum/spatial/r3"
)

// Grid is an immutable signed distance field sampled on a Lattice.
type Grid struct {
	lattice Lattice
	values  []float64
	far     float64
}

// New copies values into a grid. len(values) must match the lattice and
// far must be positive.
func New(l Lattice, values []float64, far float64) (*Grid, error) {
	g, err := Wrap(l, append([]float64(nil), values...), far)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Wrap builds a grid that takes ownership of values. Producers that fill
// a fresh slice (voxelizers, samplers) use it to avoid a copy; the slice
// must not be modified afterwards.
func Wrap(l Lattice, values []float64, far float64) (*Grid, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	if len(values) != l.Dims.Count() {
		return nil, fmt.Errorf("voxel: grid: %w", geomerr.Invalidf("%d values for %v dims", len(values), l.Dims))
	}
	if !(far > 0) || math.IsInf(far, 0) {
		return nil, fmt.Errorf("voxel: grid: %w", geomerr.Invalidf("far must be positive, got %g", far))
	}
	return &Grid{lattice: l, values: values, far: far}, nil
}

// Lattice returns the grid's lattice.
func (g *Grid) Lattice() Lattice { return g.lattice }

// Dims returns the sample counts.
func (g *Grid) Dims() Dims { return g.lattice.Dims }

// Far is the clamp magnitude: values at or beyond ±Far mean "far outside"
// or "far inside".
func (g *Grid) Far() float64 { return g.far }

// Len returns the number of samples.
func (g *Grid) Len() int { return len(g.values) }

// At returns sample (i, j, k). Indices outside the grid read as +Far.
func (g *Grid) At(i, j, k int) float64 {
	d := g.lattice.Dims
	if i < 0 || j < 0 || k < 0 || i >= d.X || j >= d.Y || k >= d.Z {
		return g.far
	}
	return g.values[g.lattice.Index(i, j, k)]
}

// Value returns the sample at flat offset idx.
func (g *Grid) Value(idx int) float64 { return g.values[idx] }

// Values returns a copy of the samples.
func (g *Grid) Values() []float64 { return append([]float64(nil), g.values...) }

// Sample interpolates the field trilinearly at p. Points outside the
// lattice read as +Far.
func (g *Grid) Sample(p r3.Vec) float64 {
	l := g.lattice
	u := (p.X - l.Origin.X) / l.CellSize
	v := (p.Y - l.Origin.Y) / l.CellSize
	w := (p.Z - l.Origin.Z) / l.CellSize
	i0, fu, ok := cellOf(u, l.Dims.X)
	if !ok {
		return g.far
	}
	j0, fv, ok := cellOf(v, l.Dims.Y)
	if !ok {
		return g.far
	}
	k0, fw, ok := cellOf(w, l.Dims.Z)
	if !ok {
		return g.far
	}
	lerp := func(a, b, t float64) float64 { return a + (b-a)*t }
	c00 := lerp(g.At(i0, j0, k0), g.At(i0+1, j0, k0), fu)
	c10 := lerp(g.At(i0, j0+1, k0), g.At(i0+1, j0+1, k0), fu)
	c01 := lerp(g.At(i0, j0, k0+1), g.At(i0+1, j0, k0+1), fu)
	c11 := lerp(g.At(i0, j0+1, k0+1), g.At(i0+1, j0+1, k0+1), fu)
	return lerp(lerp(c00, c10, fv), lerp(c01, c11, fv), fw)
}

// cellOf splits a continuous index into the lower sample and the fraction
// towards the next one. The last sample is addressed as fraction 1 of the
// cell before it.
func cellOf(u float64, n int) (int, float64, bool) {
	if math.IsNaN(u) || u < 0 || u > float64(n-1) {
		return 0, 0, false
	}
	if n == 1 {
		return 0, 0, true
	}
	i := int(math.Floor(u))
	if i >= n-1 {
		i = n - 2
	}
	return i, u - float64(i), true
}

// Inside counts samples with a negative value.
func (g *Grid) Inside() int {
	n := 0
	for _, v := range g.values {
		if v < 0 {
			n++
		}
	}
	return n
}

// Equal reports whether both grids share a lattice and hold bit-identical
// values.
func (g *Grid) Equal(o *Grid) bool {
	if !g.lattice.Equal(o.lattice) || g.far != o.far || len(g.values) != len(o.values) {
		return false
	}
	for i, v := range g.values {
		if math.Float64bits(v) != math.Float64bits(o.values[i]) {
			return false
		}
	}
	return true
}

// Checksum hashes the lattice, far value and every sample bit pattern.
func (g *Grid) Checksum() uint64 {
	d := xxhash.New()
	l := g.lattice
	buf := make([]byte, 0, 64)
	for _, f := range []float64{l.Origin.X, l.Origin.Y, l.Origin.Z, l.CellSize, g.far} {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(f))
	}
	for _, n := range []int{l.Dims.X, l.Dims.Y, l.Dims.Z} {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(n))
	}
	_, _ = d.Write(buf)
	chunk := make([]byte, 0, 8*1024)
	for _, v := range g.values {
		chunk = binary.LittleEndian.AppendUint64(chunk, math.Float64bits(v))
		if len(chunk) == cap(chunk) {
			_, _ = d.Write(chunk)
			chunk = chunk[:0]
		}
	}
	_, _ = d.Write(chunk)
	return d.Sum64()
}

// Offset returns g with d subtracted from every sample, growing the
// enclosed volume by d (shrinking it for negative d). Results stay within
// ±Far.
func (g *Grid) Offset(d float64) *Grid {
	out := make([]float64, len(g.values))
	for i, v := range g.values {
		out[i] = clamp(v-d, g.far)
	}
	return &Grid{lattice: g.lattice, values: out, far: g.far}
}

// Resample samples g trilinearly at every point of target.
func (g *Grid) Resample(target Lattice) *Grid {
	out := make([]float64, target.Dims.Count())
	g.ResampleInto(target, out, 0, target.Dims.Z)
	return &Grid{lattice: target, values: out, far: g.far}
}

// ResampleInto fills the z-slabs [k0, k1) of dst, laid out on target.
func (g *Grid) ResampleInto(target Lattice, dst []float64, k0, k1 int) {
	d := target.Dims
	for k := k0; k < k1; k++ {
		for j := 0; j < d.Y; j++ {
			for i := 0; i < d.X; i++ {
				dst[target.Index(i, j, k)] = g.Sample(target.Center(i, j, k))
			}
		}
	}
}

func clamp(v, far float64) float64 {
	return math.Max(-far, math.Min(far, v))
}

// BufferPool recycles sample buffers for intermediate grids. It wraps a
// sync.Pool, whose per-P caches keep buffers local to the worker that
// released them.
type BufferPool struct {
	pool sync.Pool
}

// Get returns a buffer of length n with unspecified contents.
func (p *BufferPool) Get(n int) []float64 {
	if p != nil {
		if bp, ok := p.pool.Get().(*[]float64); ok && cap(*bp) >= n {
			return (*bp)[:n]
		}
	}
	return make([]float64, n)
}

// Put returns buf to the pool.
func (p *BufferPool) Put(buf []float64) {
	if p == nil || cap(buf) == 0 {
		return
	}
	buf = buf[:0]
	p.pool.Put(&buf)
}

// Recycle returns an intermediate grid's storage to the pool. The grid
// must not be used afterwards.
func (p *BufferPool) Recycle(g *Grid) {
	if g == nil {
		return
	}
	p.Put(g.values)
	g.values = nil
}
