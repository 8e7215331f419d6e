package voxelize

import "gonum.org/v1/gonum/spatial/r3"

// The sign pass casts rays along +Z through every (x, y) sample column and
// accumulates a winding number from the triangles they cross. Points on a
// shared edge or vertex must be counted by exactly one triangle, so edge
// functions are evaluated on a canonical endpoint order (making a shared
// edge's values exact negatives of each other) and ties go to top-left
// edges only.

type vec2 struct{ x, y float64 }

func less(u, v vec2) bool {
	return u.x < v.x || u.x == v.x && u.y < v.y
}

func rawEdge(u, v, p vec2) float64 {
	return (v.x-u.x)*(p.y-u.y) - (v.y-u.y)*(p.x-u.x)
}

// edgeFn is positive when p lies left of u->v. edgeFn(v, u, p) is exactly
// -edgeFn(u, v, p).
func edgeFn(u, v, p vec2) float64 {
	if less(u, v) {
		return rawEdge(u, v, p)
	}
	return -rawEdge(v, u, p)
}

// topLeft decides which of the two triangles sharing an edge owns points
// exactly on it. Reversing the edge flips the answer.
func topLeft(u, v vec2) bool {
	dy, dx := v.y-u.y, v.x-u.x
	return dy > 0 || dy == 0 && dx < 0
}

// crossing is where a column ray pierces the surface. Winding is +1 when
// the ray enters through a face whose normal points down and -1 when it
// leaves through one pointing up.
type crossing struct {
	z       float64
	winding int
}

// cross tests the column through (x, y) against triangle abc and returns
// the crossing, if any.
func cross(x, y float64, a, b, c r3.Vec) (crossing, bool) {
	p := vec2{x, y}
	pa, pb, pc := vec2{a.X, a.Y}, vec2{b.X, b.Y}, vec2{c.X, c.Y}

	orient := edgeFn(pa, pb, pc)
	if orient == 0 {
		return crossing{}, false
	}
	w0 := edgeFn(pb, pc, p) // weight of a
	w1 := edgeFn(pc, pa, p) // weight of b
	w2 := edgeFn(pa, pb, p) // weight of c

	type edge struct {
		u, v vec2
		w    float64
	}
	edges := [3]edge{{pb, pc, w0}, {pc, pa, w1}, {pa, pb, w2}}
	winding := -1
	if orient < 0 {
		// Walk the clockwise projection backwards so the interior is on
		// the left.
		edges = [3]edge{{pc, pb, -w0}, {pa, pc, -w1}, {pb, pa, -w2}}
		winding = 1
	}
	for _, e := range edges {
		if e.w < 0 || e.w == 0 && !topLeft(e.u, e.v) {
			return crossing{}, false
		}
	}

	sum := w0 + w1 + w2
	if sum == 0 {
		return crossing{}, false
	}
	z := (w0*a.Z + w1*b.Z + w2*c.Z) / sum
	return crossing{z: z, winding: winding}, true
}
