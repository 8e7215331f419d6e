package kernel

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/chazu/voxgraph/pkg/geom"
	"github.com/chazu/voxgraph/pkg/geomerr"
	"github.com/chazu/voxgraph/pkg/voxel"
	"github.com/chazu/voxgraph/pkg/workpool"
)

// Op is a boolean operation over signed distance grids.
type Op int

const (
	Union Op = iota
	Intersect
	Difference
)

var opNames = [...]string{Union: "union", Intersect: "intersect", Difference: "difference"}

func (o Op) String() string {
	if o >= 0 && int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// ParseOp maps "union", "intersect" or "difference" to an Op.
func ParseOp(s string) (Op, error) {
	for i, name := range opNames {
		if strings.EqualFold(s, name) {
			return Op(i), nil
		}
	}
	return 0, fmt.Errorf("kernel: %w", geomerr.Invalidf("unknown boolean op %q", s))
}

// MarshalText implements encoding.TextMarshaler.
func (o Op) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Op) UnmarshalText(b []byte) error {
	v, err := ParseOp(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

func (o Op) apply(a, b float64) float64 {
	switch o {
	case Intersect:
		return math.Max(a, b)
	case Difference:
		return math.Max(a, -b)
	default:
		return math.Min(a, b)
	}
}

// ResamplePolicy decides what Combine does with grids on different
// lattices.
type ResamplePolicy int

const (
	// ResampleAuto resamples both grids onto the finer cell size over the
	// union of their extents.
	ResampleAuto ResamplePolicy = iota
	// ResampleReject fails with ErrDimensionMismatch.
	ResampleReject
)

func (p ResamplePolicy) String() string {
	switch p {
	case ResampleAuto:
		return "auto"
	case ResampleReject:
		return "reject"
	}
	return fmt.Sprintf("ResamplePolicy(%d)", int(p))
}

// ParsePolicy maps "auto" (or "") and "reject" to a policy.
func ParsePolicy(s string) (ResamplePolicy, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return ResampleAuto, nil
	case "reject":
		return ResampleReject, nil
	}
	return 0, fmt.Errorf("kernel: %w", geomerr.Invalidf("unknown resample policy %q", s))
}

// MarshalText implements encoding.TextMarshaler.
func (p ResamplePolicy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *ResamplePolicy) UnmarshalText(b []byte) error {
	v, err := ParsePolicy(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Combine applies op sample by sample. The result's Far is the larger of
// the inputs'.
func Combine(ctx context.Context, a, b *voxel.Grid, op Op, policy ResamplePolicy, limits voxel.Limits) (*voxel.Grid, error) {
	return combine(ctx, nil, nil, a, b, op, policy, limits)
}

func combine(ctx context.Context, pool *workpool.Pool, buffers *voxel.BufferPool, a, b *voxel.Grid, op Op, policy ResamplePolicy, limits voxel.Limits) (*voxel.Grid, error) {
	if op < Union || op > Difference {
		return nil, fmt.Errorf("kernel: combine: %w", geomerr.Invalidf("unknown op %d", int(op)))
	}
	// Lattices that differ only by rounding noise are sampled as one.
	if !a.Lattice().Near(b.Lattice(), geom.DefaultTolerance) {
		if policy == ResampleReject {
			return nil, fmt.Errorf("kernel: combine: %w: %v at %g vs %v at %g",
				geomerr.ErrDimensionMismatch, a.Dims(), a.Lattice().CellSize, b.Dims(), b.Lattice().CellSize)
		}
		l, err := voxel.CommonLattice(a.Lattice(), b.Lattice(), limits)
		if err != nil {
			return nil, fmt.Errorf("kernel: combine: %w", err)
		}
		if !a.Lattice().Equal(l) {
			a = a.Resample(l)
		}
		if !b.Lattice().Equal(l) {
			b = b.Resample(l)
		}
	}

	far := math.Max(a.Far(), b.Far())
	out := buffers.Get(a.Len())
	slabs := workpool.Split(a.Len(), 64)
	err := pool.Fanout(ctx, len(slabs), func(ctx context.Context, s int) error {
		for i := slabs[s][0]; i < slabs[s][1]; i++ {
			out[i] = op.apply(a.Value(i), b.Value(i))
		}
		return ctx.Err()
	})
	if err != nil {
		buffers.Put(out)
		return nil, err
	}
	return voxel.Wrap(a.Lattice(), out, far)
}
