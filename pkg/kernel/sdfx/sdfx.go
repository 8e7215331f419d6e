// Package sdfx builds analytic signed distance fields with the
// github.com/deadsy/sdfx SDF library and samples them onto voxel grids, so
// graphs can start from exact implicit shapes instead of meshes. It also
// writes meshes out as STL through sdfx's renderer.
package sdfx

import (
	"context"
	"fmt"
	"math"

	"github.com/chazu/voxgraph/pkg/geomerr"
	"github.com/chazu/voxgraph/pkg/mesh"
	"github.com/chazu/voxgraph/pkg/voxel"
	"github.com/chazu/voxgraph/pkg/workpool"
	"github.com/deadsy/sdfx/render"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"gonum.org/v1/gonum/spatial/r3"
)

// Shape names accepted by Build.
const (
	ShapeBox      = "box"
	ShapeSphere   = "sphere"
	ShapeCylinder = "cylinder"
)

// Shape describes an analytic solid centred on the origin, then placed by
// scale, rotation (Euler degrees, applied X, Y, Z) and translation.
type Shape struct {
	Kind   string  `json:"shape" yaml:"shape" validate:"oneof=box sphere cylinder"`
	Size   r3.Vec  `json:"size,omitempty" yaml:"size,omitempty"`
	Radius float64 `json:"radius,omitempty" yaml:"radius,omitempty"`
	Height float64 `json:"height,omitempty" yaml:"height,omitempty"`
	// Round rounds box edges and cylinder rims.
	Round float64 `json:"round,omitempty" yaml:"round,omitempty"`

	Translate r3.Vec `json:"translate,omitempty" yaml:"translate,omitempty"`
	Rotate    r3.Vec `json:"rotate,omitempty" yaml:"rotate,omitempty"`
	Scale     r3.Vec `json:"scale,omitempty" yaml:"scale,omitempty"`
}

func vec(v r3.Vec) v3.Vec { return v3.Vec{X: v.X, Y: v.Y, Z: v.Z} }

// Build returns the sdfx field for s.
func Build(s Shape) (sdf.SDF3, error) {
	var (
		field sdf.SDF3
		err   error
	)
	switch s.Kind {
	case ShapeBox:
		if !(s.Size.X > 0 && s.Size.Y > 0 && s.Size.Z > 0) {
			return nil, fmt.Errorf("sdfx: box: %w", geomerr.Invalidf("size must be positive, got %v", s.Size))
		}
		field, err = sdf.Box3D(vec(s.Size), s.Round)
	case ShapeSphere:
		if !(s.Radius > 0) {
			return nil, fmt.Errorf("sdfx: sphere: %w", geomerr.Invalidf("radius must be positive, got %g", s.Radius))
		}
		field, err = sdf.Sphere3D(s.Radius)
	case ShapeCylinder:
		if !(s.Radius > 0 && s.Height > 0) {
			return nil, fmt.Errorf("sdfx: cylinder: %w", geomerr.Invalidf("radius and height must be positive, got %g, %g", s.Radius, s.Height))
		}
		field, err = sdf.Cylinder3D(s.Height, s.Radius, s.Round)
	default:
		return nil, fmt.Errorf("sdfx: %w", geomerr.Invalidf("unknown shape %q", s.Kind))
	}
	if err != nil {
		return nil, fmt.Errorf("sdfx: %s: %w", s.Kind, geomerr.Invalidf("%v", err))
	}
	return place(field, s)
}

func place(field sdf.SDF3, s Shape) (sdf.SDF3, error) {
	scale := s.Scale
	if scale == (r3.Vec{}) {
		scale = r3.Vec{X: 1, Y: 1, Z: 1}
	}
	if !(scale.X > 0 && scale.Y > 0 && scale.Z > 0) {
		return nil, fmt.Errorf("sdfx: %w", geomerr.Invalidf("scale must be positive, got %v", scale))
	}
	if scale.X == scale.Y && scale.Y == scale.Z && scale.X != 1 {
		field = sdf.ScaleUniform3D(field, scale.X)
	} else if scale != (r3.Vec{X: 1, Y: 1, Z: 1}) {
		// Non-uniform scaling keeps the sign but stretches distances.
		field = sdf.Transform3D(field, sdf.Scale3d(vec(scale)))
	}
	if s.Rotate != (r3.Vec{}) {
		rad := func(deg float64) float64 { return deg * math.Pi / 180 }
		m := sdf.RotateZ(rad(s.Rotate.Z)).Mul(sdf.RotateY(rad(s.Rotate.Y))).Mul(sdf.RotateX(rad(s.Rotate.X)))
		field = sdf.Transform3D(field, m)
	}
	if s.Translate != (r3.Vec{}) {
		field = sdf.Transform3D(field, sdf.Translate3d(vec(s.Translate)))
	}
	return field, nil
}

// Bounds returns the field's bounding box.
func Bounds(field sdf.SDF3) r3.Box {
	bb := field.BoundingBox()
	return r3.Box{
		Min: r3.Vec{X: bb.Min.X, Y: bb.Min.Y, Z: bb.Min.Z},
		Max: r3.Vec{X: bb.Max.X, Y: bb.Max.Y, Z: bb.Max.Z},
	}
}

// SampleOptions controls Sample.
type SampleOptions struct {
	Sizing voxel.Sizing
	// Band clamps values to ±Band cells. Zero selects 3.
	Band   int
	Limits voxel.Limits
	Pool   *workpool.Pool
}

// Sample evaluates field at every sample of a lattice covering its bounds.
func Sample(ctx context.Context, field sdf.SDF3, opts SampleOptions) (*voxel.Grid, error) {
	band := opts.Band
	switch {
	case band == 0:
		band = 3
	case band < 1:
		return nil, fmt.Errorf("sdfx: sample: %w", geomerr.Invalidf("band must be at least 1 cell, got %d", band))
	}
	l, err := opts.Sizing.LatticeFor(Bounds(field), opts.Limits)
	if err != nil {
		return nil, fmt.Errorf("sdfx: sample: %w", err)
	}
	far := float64(band) * l.CellSize
	values := make([]float64, l.Dims.Count())

	parts := 1
	if opts.Pool != nil {
		parts = 4 * opts.Pool.Size()
	}
	slabs := workpool.Split(l.Dims.Z, parts)
	err = opts.Pool.Fanout(ctx, len(slabs), func(ctx context.Context, s int) error {
		for k := slabs[s][0]; k < slabs[s][1]; k++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			for j := 0; j < l.Dims.Y; j++ {
				for i := 0; i < l.Dims.X; i++ {
					d := field.Evaluate(vec(l.Center(i, j, k)))
					values[l.Index(i, j, k)] = math.Max(-far, math.Min(far, d))
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return voxel.Wrap(l, values, far)
}

// SaveSTL writes m as a binary STL file.
func SaveSTL(path string, m *mesh.Mesh) error {
	tris := make([]*sdf.Triangle3, m.FaceCount())
	for i := range tris {
		a, b, c := m.Triangle(i)
		tris[i] = &sdf.Triangle3{vec(a), vec(b), vec(c)}
	}
	if err := render.SaveSTL(path, tris); err != nil {
		return fmt.Errorf("sdfx: save stl %s: %w", path, err)
	}
	return nil
}
