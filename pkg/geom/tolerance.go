// Package geom provides the geometric primitives shared by the kernel:
// tolerance-aware comparisons, 4x4 affine transforms and bounding-box
// helpers. Points and vectors are gonum r3.Vec values.
package geom

import (
	"math"

	"github.com/chazu/voxgraph/pkg/geomerr"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/spatial/r3"
)

// Tolerance is a combined absolute and relative comparison tolerance.
// Two values are equal when they are within Abs of each other or within
// Rel of the larger magnitude.
type Tolerance struct {
	Abs float64 `json:"abs" yaml:"abs"`
	Rel float64 `json:"rel" yaml:"rel"`
}

// DefaultTolerance is used wherever a caller does not supply one.
var DefaultTolerance = Tolerance{Abs: 1e-9, Rel: 1e-9}

// Validate reports whether both components are finite and non-negative.
func (t Tolerance) Validate() error {
	if !(t.Abs >= 0) || !(t.Rel >= 0) || math.IsInf(t.Abs, 0) || math.IsInf(t.Rel, 0) {
		return geomerr.Invalidf("tolerance must be finite and non-negative, got abs=%g rel=%g", t.Abs, t.Rel)
	}
	return nil
}

// Equal reports whether a and b are equal within the tolerance.
func (t Tolerance) Equal(a, b float64) bool {
	return scalar.EqualWithinAbsOrRel(a, b, t.Abs, t.Rel)
}

// EqualVec compares two vectors component-wise.
func (t Tolerance) EqualVec(a, b r3.Vec) bool {
	return t.Equal(a.X, b.X) && t.Equal(a.Y, b.Y) && t.Equal(a.Z, b.Z)
}

// IsZero reports whether v is within the absolute tolerance of zero.
func (t Tolerance) IsZero(v float64) bool {
	return math.Abs(v) <= t.Abs
}

// BoxContains reports whether p lies inside b, allowing points on or just
// outside the faces by the tolerance.
func (t Tolerance) BoxContains(b r3.Box, p r3.Vec) bool {
	in := func(v, lo, hi float64) bool {
		return (v >= lo || t.Equal(v, lo)) && (v <= hi || t.Equal(v, hi))
	}
	return in(p.X, b.Min.X, b.Max.X) && in(p.Y, b.Min.Y, b.Max.Y) && in(p.Z, b.Min.Z, b.Max.Z)
}
