package ops

import (
	"context"
	"testing"

	"github.com/chazu/voxgraph/pkg/geomerr"
	"github.com/chazu/voxgraph/pkg/graph"
	"github.com/chazu/voxgraph/pkg/kernel"
	"github.com/chazu/voxgraph/pkg/kernel/sdfx"
	"github.com/chazu/voxgraph/pkg/mesh"
	"github.com/chazu/voxgraph/pkg/voxel"
	"github.com/chazu/voxgraph/pkg/workpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func testEnv() *Env {
	return &Env{Engine: kernel.NewEngine(workpool.New(2), nil)}
}

func cube(t *testing.T) Value {
	t.Helper()
	m, err := mesh.Box(r3.Vec{X: 1, Y: 1, Z: 1})
	require.NoError(t, err)
	return MeshValue(m)
}

func TestSources(t *testing.T) {
	ctx := context.Background()
	env := testEnv()
	imp, err := graph.NewImport(cube(t).Mesh.Buffers())
	require.NoError(t, err)

	tests := []struct {
		name   string
		params graph.Params
		volume float64
		delta  float64
	}{
		{"import", imp, 1, 1e-9},
		{"box", graph.BoxParams{Size: r3.Vec{X: 1, Y: 2, Z: 3}}, 6, 1e-9},
		{"sphere", graph.SphereParams{Radius: 1}, 4.18879, 0.15},
		{"cylinder", graph.CylinderParams{Radius: 1, Height: 2}, 6.28318, 0.05},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Eval(ctx, env, tt.params, nil)
			require.NoError(t, err)
			require.NotNil(t, v.Mesh)
			assert.Equal(t, graph.TypeMesh, v.Type())
			assert.True(t, v.Mesh.IsWatertight())
			assert.InDelta(t, tt.volume, v.Mesh.Volume(), tt.delta)
		})
	}
}

func TestMeshOperations(t *testing.T) {
	ctx := context.Background()
	env := testEnv()
	in := []Value{cube(t)}

	moved, err := Eval(ctx, env, graph.TransformParams{Translate: r3.Vec{X: 2}, Scale: r3.Vec{X: 2, Y: 1, Z: 1}}, in)
	require.NoError(t, err)
	assert.InDelta(t, 2, moved.Mesh.Volume(), 1e-9)
	assert.InDelta(t, 2, moved.Mesh.Centroid().X, 1e-9)

	mirrored, err := Eval(ctx, env, graph.TransformParams{Scale: r3.Vec{X: -1, Y: 1, Z: 1}}, in)
	require.NoError(t, err)
	assert.InDelta(t, 1, mirrored.Mesh.Volume(), 1e-9, "mirroring keeps outward winding")

	flipped, err := Eval(ctx, env, graph.FlipParams{}, in)
	require.NoError(t, err)
	assert.InDelta(t, -1, flipped.Mesh.Volume(), 1e-9)

	synced, err := Eval(ctx, env, graph.SyncWindingParams{}, []Value{flipped})
	require.NoError(t, err)
	assert.InDelta(t, 1, synced.Mesh.Volume(), 1e-9)

	joined, err := Eval(ctx, env, graph.JoinParams{}, []Value{cube(t), moved})
	require.NoError(t, err)
	assert.Len(t, joined.Mesh.Islands(), 2)

	first, err := Eval(ctx, env, graph.IslandsParams{}, []Value{joined})
	require.NoError(t, err)
	assert.InDelta(t, 1, first.Mesh.Volume(), 1e-9)
	assert.True(t, first.Mesh.IsWatertight())
	second, err := Eval(ctx, env, graph.IslandsParams{Index: 1}, []Value{joined})
	require.NoError(t, err)
	assert.InDelta(t, 2, second.Mesh.Volume(), 1e-9)
	assert.InDelta(t, 2, second.Mesh.Centroid().X, 1e-9)
	_, err = Eval(ctx, env, graph.IslandsParams{Index: 2}, []Value{joined})
	assert.ErrorIs(t, err, geomerr.ErrInvalidParameters)

	welded, err := Eval(ctx, env, graph.WeldParams{Tolerance: 1e-6}, in)
	require.NoError(t, err)
	assert.Equal(t, 8, welded.Mesh.VertexCount())

	smooth, err := Eval(ctx, env, graph.SmoothParams{Iterations: 2}, in)
	require.NoError(t, err)
	assert.Less(t, smooth.Mesh.Volume(), 1.0)

	sub, err := Eval(ctx, env, graph.SubdivideParams{Iterations: 1}, in)
	require.NoError(t, err)
	assert.Equal(t, 4*in[0].Mesh.FaceCount(), sub.Mesh.FaceCount())
}

func TestTransformTinyScaleWithNormals(t *testing.T) {
	big, err := mesh.Box(r3.Vec{X: 1000, Y: 1000, Z: 1000})
	require.NoError(t, err)
	big = big.ComputeNormals()
	require.True(t, big.HasNormals())

	p := graph.TransformParams{Scale: r3.Vec{X: 5e-4, Y: 5e-4, Z: 5e-4}}
	require.NoError(t, p.Validate())
	v, err := Eval(context.Background(), testEnv(), p, []Value{MeshValue(big)})
	require.NoError(t, err)
	assert.InDelta(t, 0.125, v.Mesh.Volume(), 1e-9)
	assert.True(t, v.Mesh.HasNormals())
}

func TestGridPipeline(t *testing.T) {
	ctx := context.Background()
	env := testEnv()
	sizing := voxel.Sizing{CellSize: 0.05}

	vox, err := Eval(ctx, env, graph.VoxelizeParams{Sizing: sizing}, []Value{cube(t)})
	require.NoError(t, err)
	require.NotNil(t, vox.Grid)
	assert.Equal(t, graph.TypeGrid, vox.Type())

	ball, err := Eval(ctx, env, graph.FieldParams{
		Shape:  sdfx.Shape{Kind: sdfx.ShapeSphere, Radius: 0.4, Translate: r3.Vec{X: 0.5}},
		Sizing: sizing,
	}, nil)
	require.NoError(t, err)

	carved, err := Eval(ctx, env, graph.CombineParams{Op: kernel.Difference}, []Value{vox, ball})
	require.NoError(t, err)

	out, err := Eval(ctx, env, graph.ExtractParams{}, []Value{carved})
	require.NoError(t, err)
	assert.True(t, out.Mesh.IsWatertight())
	// Half the ball lies inside the cube.
	want := 1 - 0.5*4.0/3*3.14159265*0.4*0.4*0.4
	assert.InDelta(t, want, out.Mesh.Volume(), 0.05)

	_, err = Eval(ctx, env, graph.CombineParams{Op: kernel.Union, Policy: "reject"}, []Value{vox, ball})
	assert.ErrorIs(t, err, geomerr.ErrDimensionMismatch)
}

func TestVoxelizeGrow(t *testing.T) {
	ctx := context.Background()
	env := testEnv()
	sizing := voxel.Sizing{CellSize: 0.1}
	in := []Value{cube(t)}

	volume := func(grow float64) float64 {
		t.Helper()
		g, err := Eval(ctx, env, graph.VoxelizeParams{Sizing: sizing, Grow: grow}, in)
		require.NoError(t, err)
		m, err := Eval(ctx, env, graph.ExtractParams{}, []Value{g})
		require.NoError(t, err)
		return m.Mesh.Volume()
	}
	assert.InDelta(t, 1, volume(0), 0.05)
	// Offsetting a box rounds its edges, so compare against the bounding
	// cubes with slack.
	grown := volume(2)
	assert.Greater(t, grown, 1.2*1.2*1.2*0.9)
	assert.Less(t, grown, 1.4*1.4*1.4)
	shrunk := volume(-2)
	assert.InDelta(t, 0.6*0.6*0.6, shrunk, 0.06)

	_, err := Eval(ctx, env, graph.VoxelizeParams{Sizing: sizing, Grow: -6}, in)
	assert.ErrorIs(t, err, geomerr.ErrEmptyVolume)
}

func TestBooleanAndRemesh(t *testing.T) {
	ctx := context.Background()
	env := testEnv()
	a := cube(t)
	b, err := Eval(ctx, env, graph.TransformParams{Translate: r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}}, []Value{a})
	require.NoError(t, err)

	u, err := Eval(ctx, env, graph.BooleanParams{Op: kernel.Union, Sizing: voxel.Sizing{Resolution: 32}}, []Value{a, b})
	require.NoError(t, err)
	assert.InDelta(t, 1.875, u.Mesh.Volume(), 0.08)

	r, err := Eval(ctx, env, graph.RemeshParams{Sizing: voxel.Sizing{Resolution: 16}}, []Value{a})
	require.NoError(t, err)
	assert.True(t, r.Mesh.IsWatertight())
}

func TestEvalRejectsBadInputs(t *testing.T) {
	ctx := context.Background()
	env := testEnv()

	_, err := Eval(ctx, env, graph.FlipParams{}, nil)
	assert.ErrorIs(t, err, geomerr.ErrInvalidParameters)

	_, err = Eval(ctx, env, graph.FlipParams{}, []Value{{}})
	assert.ErrorIs(t, err, geomerr.ErrInvalidParameters)

	vox, err := Eval(ctx, env, graph.VoxelizeParams{Sizing: voxel.Sizing{Resolution: 8}}, []Value{cube(t)})
	require.NoError(t, err)
	_, err = Eval(ctx, env, graph.FlipParams{}, []Value{vox})
	assert.ErrorIs(t, err, geomerr.ErrTypeMismatch)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = Eval(cancelled, env, graph.BoxParams{Size: r3.Vec{X: 1, Y: 1, Z: 1}}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
