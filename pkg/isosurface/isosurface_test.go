package isosurface

import (
	"context"
	"math"
	"testing"

	"github.com/chazu/voxgraph/pkg/geomerr"
	"github.com/chazu/voxgraph/pkg/mesh"
	"github.com/chazu/voxgraph/pkg/voxel"
	"github.com/chazu/voxgraph/pkg/voxelize"
	"github.com/chazu/voxgraph/pkg/workpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func fieldGrid(t *testing.T, bounds r3.Box, h, far float64, f func(r3.Vec) float64) *voxel.Grid {
	t.Helper()
	l, err := voxel.LatticeFor(bounds, h, 2, voxel.DefaultLimits)
	require.NoError(t, err)
	values := make([]float64, l.Dims.Count())
	for k := 0; k < l.Dims.Z; k++ {
		for j := 0; j < l.Dims.Y; j++ {
			for i := 0; i < l.Dims.X; i++ {
				v := f(l.Center(i, j, k))
				values[l.Index(i, j, k)] = math.Max(-far, math.Min(far, v))
			}
		}
	}
	g, err := voxel.New(l, values, far)
	require.NoError(t, err)
	return g
}

func cube(s float64) r3.Box {
	return r3.Box{Min: r3.Vec{X: -s, Y: -s, Z: -s}, Max: r3.Vec{X: s, Y: s, Z: s}}
}

func sphereGrid(t *testing.T, radius, h float64) *voxel.Grid {
	return fieldGrid(t, cube(radius), h, 0.5, func(p r3.Vec) float64 { return r3.Norm(p) - radius })
}

func TestExtractSphere(t *testing.T) {
	const radius = 0.8
	g := sphereGrid(t, radius, 0.1)
	m, err := Extract(context.Background(), g, Options{})
	require.NoError(t, err)

	require.False(t, m.IsEmpty())
	assert.True(t, m.IsWatertight(), m.Validate().Err())
	assert.InEpsilon(t, 4.0/3.0*math.Pi*radius*radius*radius, m.Volume(), 0.05)
	for _, v := range m.Vertices() {
		assert.InDelta(t, radius, r3.Norm(v), 0.01)
	}
}

func TestExtractVoxelizedBox(t *testing.T) {
	box, err := mesh.Box(r3.Vec{X: 1, Y: 1, Z: 1})
	require.NoError(t, err)
	l, err := voxel.Sizing{Resolution: 32}.LatticeFor(box.Bounds(), voxel.DefaultLimits)
	require.NoError(t, err)
	g, err := voxelize.Voxelize(context.Background(), box, l, voxelize.Options{})
	require.NoError(t, err)

	m, err := Extract(context.Background(), g, Options{})
	require.NoError(t, err)
	assert.True(t, m.IsWatertight())
	assert.InDelta(t, 1.0, m.Volume(), 0.05)
	b := m.Bounds()
	assert.InDelta(t, -0.5, b.Min.X, l.CellSize)
	assert.InDelta(t, 0.5, b.Max.Z, l.CellSize)
}

func TestExtractClosesSurfacesAtTheLatticeBoundary(t *testing.T) {
	g := fieldGrid(t, cube(0.5), 0.25, 1, func(r3.Vec) float64 { return -1 })
	m, err := Extract(context.Background(), g, Options{})
	require.NoError(t, err)
	assert.True(t, m.IsWatertight())
	assert.Positive(t, m.Volume())

	// The surface sits halfway between the outer samples and the +Far
	// margin.
	lb := g.Lattice().Bounds()
	b := m.Bounds()
	assert.InDelta(t, lb.Min.X-0.125, b.Min.X, 1e-12)
	assert.InDelta(t, lb.Max.Y+0.125, b.Max.Y, 1e-12)
}

func TestExtractIsDeterministicAcrossWorkerCounts(t *testing.T) {
	g := fieldGrid(t, cube(1), 0.1, 0.5, func(p r3.Vec) float64 {
		// Two overlapping spheres.
		a := r3.Norm(r3.Sub(p, r3.Vec{X: -0.3})) - 0.5
		b := r3.Norm(r3.Sub(p, r3.Vec{X: 0.35, Y: 0.1})) - 0.45
		return math.Min(a, b)
	})
	ctx := context.Background()
	want, err := Extract(ctx, g, Options{})
	require.NoError(t, err)
	assert.True(t, want.IsWatertight())
	assert.Len(t, want.Islands(), 1)

	for _, workers := range []int{1, 3, 8} {
		got, err := Extract(ctx, g, Options{Pool: workpool.New(workers)})
		require.NoError(t, err)
		assert.Equal(t, want.Checksum(), got.Checksum(), "workers=%d", workers)
	}
}

func TestExtractIsoLevels(t *testing.T) {
	g := sphereGrid(t, 0.6, 0.05)
	ctx := context.Background()

	grown, err := Extract(ctx, g, Options{Iso: 0.1})
	require.NoError(t, err)
	shrunk, err := Extract(ctx, g, Options{Iso: -0.1})
	require.NoError(t, err)
	assert.Greater(t, grown.Volume(), shrunk.Volume())
	assert.True(t, grown.IsWatertight())
	assert.True(t, shrunk.IsWatertight())

	_, err = Extract(ctx, g, Options{Iso: 0.5})
	assert.ErrorIs(t, err, geomerr.ErrInvalidParameters)
	_, err = Extract(ctx, g, Options{Iso: math.NaN()})
	assert.ErrorIs(t, err, geomerr.ErrInvalidParameters)
}

func TestExtractEmptyField(t *testing.T) {
	g := fieldGrid(t, cube(1), 0.5, 1, func(r3.Vec) float64 { return 1 })
	m, err := Extract(context.Background(), g, Options{})
	require.NoError(t, err)
	assert.True(t, m.IsEmpty())
}

func TestTetraTableCoversTheCube(t *testing.T) {
	// Six tetrahedra of volume 1/6 each, all sharing the main diagonal.
	total := 0.0
	for _, tet := range tetras {
		corner := func(c int) r3.Vec {
			return r3.Vec{X: float64(c & 1), Y: float64(c >> 1 & 1), Z: float64(c >> 2 & 1)}
		}
		a, b, c, d := corner(tet.corners[0]), corner(tet.corners[1]), corner(tet.corners[2]), corner(tet.corners[3])
		vol := r3.Dot(r3.Sub(b, a), r3.Cross(r3.Sub(c, a), r3.Sub(d, a))) / 6
		assert.Equal(t, tet.positive, vol > 0)
		total += math.Abs(vol)
		assert.Equal(t, 0, tet.corners[0])
		assert.Equal(t, 7, tet.corners[3])
	}
	assert.InDelta(t, 1.0, total, 1e-12)
}
