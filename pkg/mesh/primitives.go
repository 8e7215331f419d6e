package mesh

import (
	"fmt"
	"math"

	"github.com/chazu/voxgraph/pkg/geomerr"
	"gonum.org/v1/gonum/spatial/r3"
)

// Box returns an axis-aligned box of the given size centred on the origin.
// Vertex i sits at the corner selected by bits x=1, y=2, z=4.
func Box(size r3.Vec) (*Mesh, error) {
	if !(size.X > 0 && size.Y > 0 && size.Z > 0) {
		return nil, fmt.Errorf("mesh: box: %w", geomerr.Invalidf("size must be positive, got %v", size))
	}
	h := r3.Scale(0.5, size)
	vertices := make([]r3.Vec, 8)
	for i := range vertices {
		v := r3.Scale(-1, h)
		if i&1 != 0 {
			v.X = h.X
		}
		if i&2 != 0 {
			v.Y = h.Y
		}
		if i&4 != 0 {
			v.Z = h.Z
		}
		vertices[i] = v
	}
	faces := []Face{
		{0, 2, 1}, {1, 2, 3}, // -Z
		{4, 5, 6}, {5, 7, 6}, // +Z
		{0, 1, 4}, {1, 5, 4}, // -Y
		{2, 6, 3}, {3, 6, 7}, // +Y
		{0, 4, 2}, {2, 4, 6}, // -X
		{1, 3, 5}, {3, 7, 5}, // +X
	}
	return build(vertices, faces, nil), nil
}

// UVSphere returns a latitude/longitude sphere centred on the origin with
// segments around the equator and rings from pole to pole.
func UVSphere(radius float64, segments, rings int) (*Mesh, error) {
	if !(radius > 0) || segments < 3 || rings < 2 {
		return nil, fmt.Errorf("mesh: sphere: %w", geomerr.Invalidf("need radius > 0, segments >= 3, rings >= 2; got %g, %d, %d", radius, segments, rings))
	}
	vertices := []r3.Vec{{Z: radius}}
	for r := 1; r < rings; r++ {
		theta := math.Pi * float64(r) / float64(rings)
		st, ct := math.Sincos(theta)
		for j := 0; j < segments; j++ {
			sp, cp := math.Sincos(2 * math.Pi * float64(j) / float64(segments))
			vertices = append(vertices, r3.Vec{X: radius * st * cp, Y: radius * st * sp, Z: radius * ct})
		}
	}
	south := len(vertices)
	vertices = append(vertices, r3.Vec{Z: -radius})

	at := func(r, j int) int { return 1 + r*segments + j%segments }
	var faces []Face
	for j := 0; j < segments; j++ {
		faces = append(faces, Face{0, at(0, j), at(0, j+1)})
	}
	for r := 0; r < rings-2; r++ {
		for j := 0; j < segments; j++ {
			a, b := at(r, j), at(r, j+1)
			c, d := at(r+1, j), at(r+1, j+1)
			faces = append(faces, Face{a, c, b}, Face{b, c, d})
		}
	}
	last := rings - 2
	for j := 0; j < segments; j++ {
		faces = append(faces, Face{at(last, j+1), at(last, j), south})
	}
	return build(vertices, faces, nil), nil
}

// Cylinder returns a capped cylinder along Z centred on the origin.
func Cylinder(radius, height float64, segments int) (*Mesh, error) {
	if !(radius > 0) || !(height > 0) || segments < 3 {
		return nil, fmt.Errorf("mesh: cylinder: %w", geomerr.Invalidf("need radius > 0, height > 0, segments >= 3; got %g, %g, %d", radius, height, segments))
	}
	hz := height / 2
	vertices := []r3.Vec{{Z: -hz}, {Z: hz}}
	for j := 0; j < segments; j++ {
		sp, cp := math.Sincos(2 * math.Pi * float64(j) / float64(segments))
		vertices = append(vertices, r3.Vec{X: radius * cp, Y: radius * sp, Z: -hz})
	}
	for j := 0; j < segments; j++ {
		sp, cp := math.Sincos(2 * math.Pi * float64(j) / float64(segments))
		vertices = append(vertices, r3.Vec{X: radius * cp, Y: radius * sp, Z: hz})
	}
	bottom := func(j int) int { return 2 + j%segments }
	top := func(j int) int { return 2 + segments + j%segments }

	var faces []Face
	for j := 0; j < segments; j++ {
		faces = append(faces,
			Face{1, top(j), top(j + 1)},
			Face{top(j), bottom(j), top(j + 1)},
			Face{top(j + 1), bottom(j), bottom(j + 1)},
			Face{0, bottom(j + 1), bottom(j)},
		)
	}
	return build(vertices, faces, nil), nil
}
