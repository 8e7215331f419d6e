// Package voxel implements the dense scalar-field grid the boolean engine
// works on: lattices, sizing rules, resource limits, trilinear sampling,
// resampling and pooled scratch buffers.
//
// Grids hold signed distances, negative inside. Cells beyond the narrow
// band around a surface are clamped to plus or minus the grid's Far value
// instead of being stored sparsely.
package voxel

import (
	"fmt"
	"math"

	"github.com/chazu/voxgraph/pkg/geom"
	"github.com/chazu/voxgraph/pkg/geomerr"
	"gonum.org/v1/gonum/spatial/r3"
)

// Dims is the number of samples along each axis.
type Dims struct {
	X, Y, Z int
}

// Count returns X*Y*Z.
func (d Dims) Count() int { return d.X * d.Y * d.Z }

// Lattice maps grid indices to world space. Sample (i, j, k) sits at
// Origin + (i, j, k)*CellSize; it is the centre of cell (i, j, k).
type Lattice struct {
	Origin   r3.Vec  `json:"origin" yaml:"origin"`
	CellSize float64 `json:"cell_size" yaml:"cell_size"`
	Dims     Dims    `json:"dims" yaml:"dims"`
}

// Validate checks that the cell size and every dimension are positive.
func (l Lattice) Validate() error {
	if !(l.CellSize > 0) || math.IsInf(l.CellSize, 0) {
		return fmt.Errorf("voxel: lattice: %w", geomerr.Invalidf("cell size must be positive, got %g", l.CellSize))
	}
	if l.Dims.X <= 0 || l.Dims.Y <= 0 || l.Dims.Z <= 0 {
		return fmt.Errorf("voxel: lattice: %w", geomerr.Invalidf("dimensions must be positive, got %v", l.Dims))
	}
	return nil
}

// Check validates l and enforces limits before anything is allocated.
func (l Lattice) Check(limits Limits) error {
	if err := l.Validate(); err != nil {
		return err
	}
	return limits.Allow(l.Dims)
}

// Index returns the flat offset of (i, j, k); i varies fastest.
func (l Lattice) Index(i, j, k int) int {
	return (k*l.Dims.Y+j)*l.Dims.X + i
}

// Center returns the world position of sample (i, j, k).
func (l Lattice) Center(i, j, k int) r3.Vec {
	return r3.Vec{
		X: l.Origin.X + float64(i)*l.CellSize,
		Y: l.Origin.Y + float64(j)*l.CellSize,
		Z: l.Origin.Z + float64(k)*l.CellSize,
	}
}

// Bounds returns the box spanned by the sample positions.
func (l Lattice) Bounds() r3.Box {
	return r3.Box{Min: l.Origin, Max: l.Center(l.Dims.X-1, l.Dims.Y-1, l.Dims.Z-1)}
}

// Equal reports whether two lattices have bit-identical origin, cell size
// and dimensions. Grids combine cell by cell only when this holds.
func (l Lattice) Equal(o Lattice) bool {
	return l.Origin == o.Origin && l.CellSize == o.CellSize && l.Dims == o.Dims
}

// Near reports whether two lattices agree within tol.
func (l Lattice) Near(o Lattice, tol geom.Tolerance) bool {
	return l.Dims == o.Dims && tol.Equal(l.CellSize, o.CellSize) && tol.EqualVec(l.Origin, o.Origin)
}

// LatticeFor returns the lattice with the given cell size that covers
// bounds plus padding cells on every side, centred on bounds.
func LatticeFor(bounds r3.Box, cellSize float64, padding int, limits Limits) (Lattice, error) {
	if geom.BoxIsEmpty(bounds) {
		return Lattice{}, fmt.Errorf("voxel: lattice: %w", geomerr.Invalidf("empty bounds"))
	}
	if !(cellSize > 0) || math.IsInf(cellSize, 0) {
		return Lattice{}, fmt.Errorf("voxel: lattice: %w", geomerr.Invalidf("cell size must be positive, got %g", cellSize))
	}
	if padding < 0 {
		return Lattice{}, fmt.Errorf("voxel: lattice: %w", geomerr.Invalidf("padding must be non-negative, got %d", padding))
	}

	size := geom.BoxSize(bounds)
	axis := func(extent float64) (int, error) {
		steps := math.Ceil(extent/cellSize - 1e-9)
		if steps < 0 {
			steps = 0
		}
		n := steps + 1 + 2*float64(padding)
		if n > math.MaxInt32 {
			return 0, fmt.Errorf("voxel: lattice: %w: %g samples along one axis", geomerr.ErrResourceLimitExceeded, n)
		}
		return int(n), nil
	}
	var dims Dims
	var err error
	if dims.X, err = axis(size.X); err != nil {
		return Lattice{}, err
	}
	if dims.Y, err = axis(size.Y); err != nil {
		return Lattice{}, err
	}
	if dims.Z, err = axis(size.Z); err != nil {
		return Lattice{}, err
	}
	if err := limits.Allow(dims); err != nil {
		return Lattice{}, err
	}

	span := func(n int, extent float64) float64 {
		return (float64(n-1)*cellSize - extent) / 2
	}
	origin := r3.Vec{
		X: bounds.Min.X - span(dims.X, size.X),
		Y: bounds.Min.Y - span(dims.Y, size.Y),
		Z: bounds.Min.Z - span(dims.Z, size.Z),
	}
	return Lattice{Origin: origin, CellSize: cellSize, Dims: dims}, nil
}

// CommonLattice returns the lattice at the finer of the two cell sizes
// that covers both lattices' extents.
func CommonLattice(a, b Lattice, limits Limits) (Lattice, error) {
	h := math.Min(a.CellSize, b.CellSize)
	return LatticeFor(geom.UnionBox(a.Bounds(), b.Bounds()), h, 0, limits)
}
