package geom

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// EmptyBox returns a box that contains nothing; extending it with a point
// yields a degenerate box at that point.
func EmptyBox() r3.Box {
	inf := math.Inf(1)
	return r3.Box{
		Min: r3.Vec{X: inf, Y: inf, Z: inf},
		Max: r3.Vec{X: -inf, Y: -inf, Z: -inf},
	}
}

// BoxIsEmpty reports whether Min exceeds Max on any axis.
func BoxIsEmpty(b r3.Box) bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z
}

// ExtendBox grows b to include p.
func ExtendBox(b r3.Box, p r3.Vec) r3.Box {
	b.Min = r3.Vec{X: math.Min(b.Min.X, p.X), Y: math.Min(b.Min.Y, p.Y), Z: math.Min(b.Min.Z, p.Z)}
	b.Max = r3.Vec{X: math.Max(b.Max.X, p.X), Y: math.Max(b.Max.Y, p.Y), Z: math.Max(b.Max.Z, p.Z)}
	return b
}

// UnionBox returns the smallest box containing a and b.
func UnionBox(a, b r3.Box) r3.Box {
	if BoxIsEmpty(a) {
		return b
	}
	if BoxIsEmpty(b) {
		return a
	}
	return ExtendBox(ExtendBox(a, b.Min), b.Max)
}

// ExpandBox pads every face of b outward by d.
func ExpandBox(b r3.Box, d float64) r3.Box {
	pad := r3.Vec{X: d, Y: d, Z: d}
	return r3.Box{Min: r3.Sub(b.Min, pad), Max: r3.Add(b.Max, pad)}
}

// BoxSize returns the extent of b along each axis.
func BoxSize(b r3.Box) r3.Vec {
	if BoxIsEmpty(b) {
		return r3.Vec{}
	}
	return r3.Sub(b.Max, b.Min)
}

// BoxCenter returns the midpoint of b.
func BoxCenter(b r3.Box) r3.Vec {
	return r3.Scale(0.5, r3.Add(b.Min, b.Max))
}

// BoxDiagonal returns the length of the diagonal of b.
func BoxDiagonal(b r3.Box) float64 {
	return r3.Norm(BoxSize(b))
}

// LongestAxis returns the largest extent of b.
func LongestAxis(b r3.Box) float64 {
	s := BoxSize(b)
	return math.Max(s.X, math.Max(s.Y, s.Z))
}

// Component returns v's coordinate on axis 0, 1 or 2.
func Component(v r3.Vec, axis int) float64 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}
