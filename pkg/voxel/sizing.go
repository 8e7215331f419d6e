package voxel

import (
	"fmt"
	"math"

	"github.com/chazu/voxgraph/pkg/geom"
	"github.com/chazu/voxgraph/pkg/geomerr"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// DefaultResolution is the cell count along the longest axis when
	// neither a resolution nor a cell size is given.
	DefaultResolution = 64
	// DefaultPadding is the number of extra samples kept on every side of
	// the source bounds.
	DefaultPadding = 2
	// MaxResolution caps the per-axis resolution parameter.
	MaxResolution = 4096
)

// Sizing chooses a lattice for a bounding box. An explicit CellSize wins;
// otherwise the cell size is the longest axis (or the diagonal, when
// Diagonal is set) divided by Resolution.
type Sizing struct {
	Resolution int     `json:"resolution,omitempty" yaml:"resolution,omitempty"`
	CellSize   float64 `json:"cell_size,omitempty" yaml:"cell_size,omitempty"`
	Diagonal   bool    `json:"diagonal,omitempty" yaml:"diagonal,omitempty"`
	Padding    int     `json:"padding,omitempty" yaml:"padding,omitempty"`
}

// Validate rejects negative or out-of-range values. Zero values select
// defaults.
func (s Sizing) Validate() error {
	switch {
	case s.Resolution < 0 || s.Resolution > MaxResolution:
		return fmt.Errorf("voxel: sizing: %w", geomerr.Invalidf("resolution must be in [1,%d], got %d", MaxResolution, s.Resolution))
	case s.CellSize < 0 || math.IsNaN(s.CellSize) || math.IsInf(s.CellSize, 0):
		return fmt.Errorf("voxel: sizing: %w", geomerr.Invalidf("cell size must be positive, got %g", s.CellSize))
	case s.Padding < 0:
		return fmt.Errorf("voxel: sizing: %w", geomerr.Invalidf("padding must be non-negative, got %d", s.Padding))
	}
	return nil
}

func (s Sizing) padding() int {
	if s.Padding == 0 {
		return DefaultPadding
	}
	return s.Padding
}

// CellSizeFor resolves the cell size for bounds.
func (s Sizing) CellSizeFor(bounds r3.Box) (float64, error) {
	if err := s.Validate(); err != nil {
		return 0, err
	}
	if s.CellSize > 0 {
		return s.CellSize, nil
	}
	res := s.Resolution
	if res == 0 {
		res = DefaultResolution
	}
	extent := geom.LongestAxis(bounds)
	if s.Diagonal {
		extent = geom.BoxDiagonal(bounds)
	}
	if geom.BoxIsEmpty(bounds) || !(extent > 0) {
		return 0, fmt.Errorf("voxel: sizing: %w", geomerr.Invalidf("bounds have no extent to derive a cell size from"))
	}
	return extent / float64(res), nil
}

// LatticeFor resolves the full lattice for bounds, enforcing limits.
func (s Sizing) LatticeFor(bounds r3.Box, limits Limits) (Lattice, error) {
	h, err := s.CellSizeFor(bounds)
	if err != nil {
		return Lattice{}, err
	}
	return LatticeFor(bounds, h, s.padding(), limits)
}

// Limits caps grid allocations.
type Limits struct {
	MaxCells int64 `json:"max_cells" yaml:"max_cells"`
}

// DefaultLimits allows 2^26 samples, 512 MiB of float64 values.
var DefaultLimits = Limits{MaxCells: 1 << 26}

// Allow returns ErrResourceLimitExceeded when dims holds more samples than
// permitted. A zero MaxCells means DefaultLimits.
func (l Limits) Allow(d Dims) error {
	max := l.MaxCells
	if max <= 0 {
		max = DefaultLimits.MaxCells
	}
	n := int64(d.X)
	for _, v := range []int64{int64(d.Y), int64(d.Z)} {
		if v != 0 && n > math.MaxInt64/v {
			return fmt.Errorf("voxel: %w: %dx%dx%d samples", geomerr.ErrResourceLimitExceeded, d.X, d.Y, d.Z)
		}
		n *= v
	}
	if n > max {
		return fmt.Errorf("voxel: %w: %d samples exceeds limit %d", geomerr.ErrResourceLimitExceeded, n, max)
	}
	return nil
}
