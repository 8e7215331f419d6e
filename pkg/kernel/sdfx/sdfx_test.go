package sdfx

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/voxgraph/pkg/geomerr"
	"github.com/chazu/voxgraph/pkg/isosurface"
	"github.com/chazu/voxgraph/pkg/mesh"
	"github.com/chazu/voxgraph/pkg/voxel"
	"github.com/chazu/voxgraph/pkg/workpool"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestBuildBoxBounds(t *testing.T) {
	field, err := Build(Shape{Kind: ShapeBox, Size: r3.Vec{X: 100, Y: 50, Z: 25}})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	b := Bounds(field)

	const tol = 0.01
	expectMin := [3]float64{-50, -25, -12.5}
	expectMax := [3]float64{50, 25, 12.5}
	got := [2][3]float64{{b.Min.X, b.Min.Y, b.Min.Z}, {b.Max.X, b.Max.Y, b.Max.Z}}
	for i := 0; i < 3; i++ {
		if math.Abs(got[0][i]-expectMin[i]) > tol {
			t.Errorf("min[%d] = %f, expected %f", i, got[0][i], expectMin[i])
		}
		if math.Abs(got[1][i]-expectMax[i]) > tol {
			t.Errorf("max[%d] = %f, expected %f", i, got[1][i], expectMax[i])
		}
	}
}

func TestTranslate(t *testing.T) {
	field, err := Build(Shape{Kind: ShapeBox, Size: r3.Vec{X: 10, Y: 10, Z: 10}, Translate: r3.Vec{X: 100, Y: 200, Z: 300}})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	b := Bounds(field)
	// A 10-unit box moved to (100,200,300) spans (95,195,295)-(105,205,305).
	const tol = 0.5
	if math.Abs(b.Min.X-95) > tol || math.Abs(b.Max.Z-305) > tol {
		t.Errorf("bounds = %v, expected (95,195,295)-(105,205,305)", b)
	}
	if d := field.Evaluate(v3.Vec{X: 100, Y: 200, Z: 300}); math.Abs(d+5) > 1e-9 {
		t.Errorf("distance at centre = %f, expected -5", d)
	}
}

func TestRotate(t *testing.T) {
	// A long box along X rotated 90 degrees around Z extends along Y.
	field, err := Build(Shape{Kind: ShapeBox, Size: r3.Vec{X: 100, Y: 10, Z: 10}, Rotate: r3.Vec{Z: 90}})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	b := Bounds(field)
	const tol = 1.0
	if x := b.Max.X - b.Min.X; math.Abs(x-10) > tol {
		t.Errorf("rotated X extent = %f, expected ~10", x)
	}
	if y := b.Max.Y - b.Min.Y; math.Abs(y-100) > tol {
		t.Errorf("rotated Y extent = %f, expected ~100", y)
	}
}

func TestBuildRejectsBadShapes(t *testing.T) {
	tests := []struct {
		name  string
		shape Shape
	}{
		{"unknown", Shape{Kind: "torus"}},
		{"flat box", Shape{Kind: ShapeBox, Size: r3.Vec{X: 1, Y: 0, Z: 1}}},
		{"zero sphere", Shape{Kind: ShapeSphere}},
		{"cylinder without height", Shape{Kind: ShapeCylinder, Radius: 1}},
		{"negative scale", Shape{Kind: ShapeSphere, Radius: 1, Scale: r3.Vec{X: -1, Y: 1, Z: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Build(tt.shape); !errors.Is(err, geomerr.ErrInvalidParameters) {
				t.Errorf("Build(%+v) error = %v, want ErrInvalidParameters", tt.shape, err)
			}
		})
	}
}

func TestSampleSphere(t *testing.T) {
	field, err := Build(Shape{Kind: ShapeSphere, Radius: 1})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	g, err := Sample(context.Background(), field, SampleOptions{Sizing: voxel.Sizing{Resolution: 20}, Pool: workpool.New(4)})
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if got := g.Sample(r3.Vec{X: 0.9}); math.Abs(got+0.1) > 1e-9 {
		t.Errorf("sample near the surface = %f, expected -0.1", got)
	}
	if got := g.Sample(r3.Vec{}); got != -g.Far() {
		t.Errorf("centre = %f, expected clamped -%f", got, g.Far())
	}

	m, err := isosurface.Extract(context.Background(), g, isosurface.Options{})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if !m.IsWatertight() {
		t.Fatal("extracted sphere is not watertight")
	}
	want := 4.0 / 3.0 * math.Pi
	if v := m.Volume(); math.Abs(v-want)/want > 0.05 {
		t.Errorf("volume = %f, expected ~%f", v, want)
	}
}

func TestSampleRespectsLimits(t *testing.T) {
	field, err := Build(Shape{Kind: ShapeCylinder, Radius: 10, Height: 50})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	_, err = Sample(context.Background(), field, SampleOptions{Sizing: voxel.Sizing{Resolution: 500}, Limits: voxel.Limits{MaxCells: 1000}})
	if !errors.Is(err, geomerr.ErrResourceLimitExceeded) {
		t.Errorf("error = %v, want ErrResourceLimitExceeded", err)
	}
}

func TestSaveSTL(t *testing.T) {
	box, err := mesh.Box(r3.Vec{X: 1, Y: 2, Z: 3})
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "box.stl")
	if err := SaveSTL(path, box); err != nil {
		t.Fatalf("SaveSTL failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	// 80-byte header, triangle count, 50 bytes per triangle.
	if want := int64(84 + 50*box.FaceCount()); info.Size() != want {
		t.Errorf("file size = %d, want %d", info.Size(), want)
	}
}
