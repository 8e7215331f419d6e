package kernel

import (
	"context"
	"math"
	"testing"

	"github.com/chazu/voxgraph/pkg/geom"
	"github.com/chazu/voxgraph/pkg/geomerr"
	"github.com/chazu/voxgraph/pkg/mesh"
	"github.com/chazu/voxgraph/pkg/voxel"
	"github.com/chazu/voxgraph/pkg/workpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func unitCube(t *testing.T, center r3.Vec) *mesh.Mesh {
	t.Helper()
	m, err := mesh.Box(r3.Vec{X: 1, Y: 1, Z: 1})
	require.NoError(t, err)
	m, err = m.Transform(geom.Translate(center))
	require.NoError(t, err)
	return m
}

func twoCubes(t *testing.T) (*mesh.Mesh, *mesh.Mesh) {
	return unitCube(t, r3.Vec{}), unitCube(t, r3.Vec{X: 0.5, Y: 0.5, Z: 0.5})
}

func TestOpAndPolicyNames(t *testing.T) {
	tests := []struct {
		name string
		op   Op
	}{
		{"union", Union},
		{"INTERSECT", Intersect},
		{"difference", Difference},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := ParseOp(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.op, op)
		})
	}
	_, err := ParseOp("xor")
	assert.ErrorIs(t, err, geomerr.ErrInvalidParameters)
	assert.Equal(t, "Op(9)", Op(9).String())

	var p ResamplePolicy
	require.NoError(t, p.UnmarshalText([]byte("reject")))
	assert.Equal(t, ResampleReject, p)
	text, err := ResampleAuto.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "auto", string(text))
	assert.Error(t, p.UnmarshalText([]byte("sometimes")))
}

func TestBooleanTwoCubes(t *testing.T) {
	a, b := twoCubes(t)
	e := NewEngine(workpool.New(4), nil)
	s := Settings{Sizing: voxel.Sizing{Resolution: 32}}
	ctx := context.Background()

	tests := []struct {
		op     Op
		volume float64
	}{
		// Overlap is the 0.5^3 corner cube shared by both.
		{Union, 2 - 0.125},
		{Intersect, 0.125},
		{Difference, 1 - 0.125},
	}
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			m, err := e.Boolean(ctx, a, b, tt.op, s)
			require.NoError(t, err)
			assert.True(t, m.IsWatertight(), m.Validate().Err())
			assert.InDelta(t, tt.volume, m.Volume(), 0.08)
		})
	}
}

func TestBooleanIsCommutative(t *testing.T) {
	a, b := twoCubes(t)
	e := NewEngine(workpool.New(2), nil)
	s := Settings{Sizing: voxel.Sizing{Resolution: 24}}
	ctx := context.Background()

	ab, err := e.Boolean(ctx, a, b, Union, s)
	require.NoError(t, err)
	ba, err := e.Boolean(ctx, b, a, Union, s)
	require.NoError(t, err)
	assert.Equal(t, ab.VertexCount(), ba.VertexCount())
	assert.Equal(t, ab.FaceCount(), ba.FaceCount())
	assert.Equal(t, ab.Checksum(), ba.Checksum())
}

func TestCombineAbsorption(t *testing.T) {
	a, b := twoCubes(t)
	e := NewEngine(nil, nil)
	s := Settings{Sizing: voxel.Sizing{Resolution: 16}}
	ctx := context.Background()

	l, err := s.Sizing.LatticeFor(geom.UnionBox(a.Bounds(), b.Bounds()), s.Limits)
	require.NoError(t, err)
	ga, err := e.voxelize(ctx, a, l, s, false)
	require.NoError(t, err)
	gb, err := e.voxelize(ctx, b, l, s, false)
	require.NoError(t, err)

	union, err := Combine(ctx, ga, gb, Union, ResampleReject, voxel.DefaultLimits)
	require.NoError(t, err)
	absorbed, err := Combine(ctx, ga, union, Intersect, ResampleReject, voxel.DefaultLimits)
	require.NoError(t, err)
	for i := 0; i < ga.Len(); i++ {
		assert.InDelta(t, ga.Value(i), absorbed.Value(i), 1e-12)
	}

	// Union is commutative sample by sample.
	rev, err := Combine(ctx, gb, ga, Union, ResampleReject, voxel.DefaultLimits)
	require.NoError(t, err)
	assert.True(t, union.Equal(rev))
}

func TestCombineResamplePolicy(t *testing.T) {
	a, b := twoCubes(t)
	e := NewEngine(nil, nil)
	ctx := context.Background()

	ga, err := e.Voxelize(ctx, a, Settings{Sizing: voxel.Sizing{Resolution: 16}})
	require.NoError(t, err)
	gb, err := e.Voxelize(ctx, b, Settings{Sizing: voxel.Sizing{Resolution: 24}})
	require.NoError(t, err)

	_, err = Combine(ctx, ga, gb, Union, ResampleReject, voxel.DefaultLimits)
	assert.ErrorIs(t, err, geomerr.ErrDimensionMismatch)

	g, err := Combine(ctx, ga, gb, Union, ResampleAuto, voxel.DefaultLimits)
	require.NoError(t, err)
	assert.Equal(t, gb.Lattice().CellSize, g.Lattice().CellSize)
	assert.Equal(t, math.Max(ga.Far(), gb.Far()), g.Far())
	assert.Less(t, g.Sample(r3.Vec{}), 0.0)
	assert.Less(t, g.Sample(r3.Vec{X: 0.8, Y: 0.8, Z: 0.8}), 0.0)
	assert.Greater(t, g.Sample(r3.Vec{X: 0.8, Y: -0.4, Z: 0.8}), 0.0)

	m, err := e.Extract(ctx, g, 0)
	require.NoError(t, err)
	assert.True(t, m.IsWatertight())
	assert.InDelta(t, 1.875, m.Volume(), 0.15)

	_, err = Combine(ctx, ga, gb, Union, ResampleAuto, voxel.Limits{MaxCells: 100})
	assert.ErrorIs(t, err, geomerr.ErrResourceLimitExceeded)
}

func TestCombineToleratesLatticeRoundoff(t *testing.T) {
	ctx := context.Background()
	l := voxel.Lattice{Origin: r3.Vec{X: -1, Y: -1, Z: -1}, CellSize: 0.1, Dims: voxel.Dims{X: 4, Y: 4, Z: 4}}
	drifted := l
	drifted.Origin.X += 1e-13
	drifted.CellSize = 0.1 + 1e-14

	fill := func(v float64) []float64 {
		out := make([]float64, l.Dims.Count())
		for i := range out {
			out[i] = v
		}
		return out
	}
	a, err := voxel.New(l, fill(-0.2), 1)
	require.NoError(t, err)
	b, err := voxel.New(drifted, fill(0.3), 1)
	require.NoError(t, err)

	g, err := Combine(ctx, a, b, Union, ResampleReject, voxel.DefaultLimits)
	require.NoError(t, err)
	assert.Equal(t, l, g.Lattice())
	assert.Equal(t, -0.2, g.Value(0))

	far := drifted
	far.Origin.X += 0.05
	c, err := voxel.New(far, fill(0.3), 1)
	require.NoError(t, err)
	_, err = Combine(ctx, a, c, Union, ResampleReject, voxel.DefaultLimits)
	assert.ErrorIs(t, err, geomerr.ErrDimensionMismatch)
}

func TestBooleanRejectsOpenMeshes(t *testing.T) {
	a, b := twoCubes(t)
	faces := b.Faces()
	open, err := mesh.New(b.Vertices(), faces[2:])
	require.NoError(t, err)

	e := NewEngine(nil, nil)
	_, err = e.Boolean(context.Background(), a, open, Union, Settings{})
	assert.ErrorIs(t, err, geomerr.ErrNonManifoldMesh)
	_, err = e.Remesh(context.Background(), open, Settings{})
	assert.ErrorIs(t, err, geomerr.ErrNonManifoldMesh)
}

func TestBooleanRespectsLimits(t *testing.T) {
	a, b := twoCubes(t)
	e := NewEngine(nil, nil)
	_, err := e.Boolean(context.Background(), a, b, Union, Settings{
		Sizing: voxel.Sizing{Resolution: 1000},
		Limits: voxel.Limits{MaxCells: 1 << 20},
	})
	assert.ErrorIs(t, err, geomerr.ErrResourceLimitExceeded)
}

func TestRemeshSphere(t *testing.T) {
	s, err := mesh.UVSphere(1, 16, 8)
	require.NoError(t, err)
	e := NewEngine(workpool.New(3), nil)
	out, err := e.Remesh(context.Background(), s, Settings{Sizing: voxel.Sizing{Resolution: 24}})
	require.NoError(t, err)
	assert.True(t, out.IsWatertight())
	assert.InEpsilon(t, s.Volume(), out.Volume(), 0.05)
}

func TestVoxelizeEmptyMesh(t *testing.T) {
	e := NewEngine(nil, nil)
	_, err := e.Voxelize(context.Background(), mesh.Empty(), Settings{})
	assert.ErrorIs(t, err, geomerr.ErrEmptyVolume)
}
