package mesh

import (
	"math"
	"testing"

	"github.com/chazu/voxgraph/pkg/geom"
	"github.com/chazu/voxgraph/pkg/geomerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func unitBox(t *testing.T) *Mesh {
	t.Helper()
	m, err := Box(r3.Vec{X: 1, Y: 1, Z: 1})
	require.NoError(t, err)
	return m
}

// soup gives every face its own three vertices.
func soup(m *Mesh) *Mesh {
	var vertices []r3.Vec
	var faces []Face
	for i := 0; i < m.FaceCount(); i++ {
		a, b, c := m.Triangle(i)
		n := len(vertices)
		vertices = append(vertices, a, b, c)
		faces = append(faces, Face{n, n + 1, n + 2})
	}
	return MustNew(vertices, faces)
}

func TestNewRejectsBadInput(t *testing.T) {
	tests := []struct {
		name     string
		vertices []r3.Vec
		faces    []Face
	}{
		{"index out of range", []r3.Vec{{}, {X: 1}, {Y: 1}}, []Face{{0, 1, 3}}},
		{"negative index", []r3.Vec{{}, {X: 1}, {Y: 1}}, []Face{{-1, 1, 2}}},
		{"nan vertex", []r3.Vec{{X: math.NaN()}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.vertices, tt.faces)
			assert.ErrorIs(t, err, geomerr.ErrInvalidParameters)
		})
	}
}

func TestPrimitivesAreWatertight(t *testing.T) {
	box := unitBox(t)
	sphere, err := UVSphere(1, 24, 12)
	require.NoError(t, err)
	cyl, err := Cylinder(0.5, 2, 32)
	require.NoError(t, err)

	tests := []struct {
		name   string
		m      *Mesh
		volume float64
		delta  float64
	}{
		{"box", box, 1, 1e-12},
		{"sphere", sphere, 4.0 / 3.0 * math.Pi, 0.25},
		{"cylinder", cyl, math.Pi * 0.25 * 2, 0.02},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.m.IsWatertight())
			r := tt.m.Validate()
			assert.True(t, r.Watertight)
			assert.True(t, r.Manifold)
			assert.Equal(t, 1, r.Components)
			assert.Empty(t, r.Findings)
			assert.InDelta(t, tt.volume, tt.m.Volume(), tt.delta)
		})
	}
}

func TestPrimitivesRejectBadParameters(t *testing.T) {
	_, err := Box(r3.Vec{X: 1, Y: 0, Z: 1})
	assert.ErrorIs(t, err, geomerr.ErrInvalidParameters)
	_, err = UVSphere(1, 2, 4)
	assert.ErrorIs(t, err, geomerr.ErrInvalidParameters)
	_, err = Cylinder(1, -1, 8)
	assert.ErrorIs(t, err, geomerr.ErrInvalidParameters)
}

func TestAdjacency(t *testing.T) {
	box := unitBox(t)
	assert.Equal(t, []int{0, 4, 8}, box.VertexFaces()[0])

	ef := box.EdgeFaces()
	assert.Len(t, ef, 18)
	for e, faces := range ef {
		assert.Len(t, faces, 2, "edge %v", e)
	}

	ns := box.VertexNeighbors()
	assert.Equal(t, []int{1, 2, 4}, ns[0][:3])

	b := box.Bounds()
	assert.Equal(t, r3.Vec{X: -0.5, Y: -0.5, Z: -0.5}, b.Min)
	assert.Equal(t, r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, b.Max)
}

func TestValidateOpenMesh(t *testing.T) {
	box := unitBox(t)
	open := MustNew(box.Vertices(), box.Faces()[1:])

	assert.False(t, open.IsWatertight())
	r := open.Validate()
	assert.False(t, r.Watertight)
	assert.True(t, r.Manifold)
	assert.Equal(t, 3, r.BoundaryEdges)
	assert.NotEmpty(t, r.Findings)
	assert.ErrorIs(t, open.RequireWatertight(), geomerr.ErrNonManifoldMesh)
	assert.ErrorIs(t, r.Err(), geomerr.ErrNonManifoldMesh)
}

func TestValidateInconsistentWinding(t *testing.T) {
	box := unitBox(t)
	faces := box.Faces()
	faces[0] = faces[0].Reversed()
	bad := MustNew(box.Vertices(), faces)

	r := bad.Validate()
	assert.False(t, r.Watertight)
	assert.Equal(t, 3, r.InconsistentEdges)

	fixed, conflicts := bad.SynchronizeWinding()
	assert.Zero(t, conflicts)
	assert.True(t, fixed.IsWatertight())
	assert.InDelta(t, 1, fixed.Volume(), 1e-12)
}

func TestSynchronizeWindingTurnsInsideOutMeshOutward(t *testing.T) {
	inverted := unitBox(t).FlipWinding()
	assert.InDelta(t, -1, inverted.Volume(), 1e-12)

	fixed, conflicts := inverted.SynchronizeWinding()
	assert.Zero(t, conflicts)
	assert.InDelta(t, 1, fixed.Volume(), 1e-12)
}

func TestValidateDegenerateFace(t *testing.T) {
	m := MustNew([]r3.Vec{{}, {X: 1}, {Y: 1}}, []Face{{0, 1, 1}})
	r := m.Validate()
	assert.Equal(t, 1, r.DegenerateFaces)
	assert.False(t, r.Manifold)
	assert.False(t, m.IsWatertight())
	assert.Equal(t, 1, r.UnreferencedVertices)
}

func TestWeld(t *testing.T) {
	box := unitBox(t)
	s := soup(box)
	require.False(t, s.IsWatertight())
	require.Equal(t, 36, s.VertexCount())

	welded, err := s.Weld(1e-6)
	require.NoError(t, err)
	assert.Equal(t, 8, welded.VertexCount())
	assert.Equal(t, 12, welded.FaceCount())
	assert.True(t, welded.IsWatertight())
	assert.InDelta(t, 1, welded.Volume(), 1e-12)
}

func TestWeldMergesWithinToleranceAndDropsCollapsedFaces(t *testing.T) {
	m := MustNew([]r3.Vec{
		{}, {X: 1}, {Y: 1},
		{X: 1e-4}, {X: 1, Y: 1e-4}, {X: 2},
	}, []Face{
		{0, 1, 2},
		{3, 4, 5}, // remaps to 0, 1, 3: stays
		{0, 3, 1}, // 0 and 3 merge: dropped
	})
	welded, err := m.Weld(1e-3)
	require.NoError(t, err)
	assert.Equal(t, 4, welded.VertexCount())
	assert.Equal(t, 2, welded.FaceCount())
	assert.InDelta(t, 0.5e-4, welded.Vertex(0).X, 1e-12)
}

func TestWeldRejectsBadTolerance(t *testing.T) {
	for _, tol := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := unitBox(t).Weld(tol)
		assert.ErrorIs(t, err, geomerr.ErrInvalidParameters, "tol=%v", tol)
	}
}

func TestTransform(t *testing.T) {
	box := unitBox(t).ComputeNormals()

	moved, err := box.Transform(geom.Translate(r3.Vec{X: 2}))
	require.NoError(t, err)
	assert.InDelta(t, 1.5, moved.Bounds().Min.X, 1e-12)
	for i, n := range moved.Normals() {
		assert.InDelta(t, 0, r3.Norm(r3.Sub(n, box.Normals()[i])), 1e-12)
	}

	mirrored, err := box.Transform(geom.Scale(r3.Vec{X: -1, Y: 1, Z: 1}))
	require.NoError(t, err)
	assert.True(t, mirrored.IsWatertight())
	assert.InDelta(t, 1, mirrored.Volume(), 1e-12)

	stretched, err := box.Transform(geom.Scale(r3.Vec{X: 4, Y: 1, Z: 1}))
	require.NoError(t, err)
	for _, n := range stretched.Normals() {
		assert.InDelta(t, 1, r3.Norm(n), 1e-12)
	}
	assert.InDelta(t, 4, stretched.Volume(), 1e-12)

	notAffine := geom.Identity()
	notAffine[12] = 1
	_, err = box.Transform(notAffine)
	assert.ErrorIs(t, err, geomerr.ErrInvalidParameters)
}

func TestBuffersRoundTrip(t *testing.T) {
	box := unitBox(t)
	b := box.Buffers()
	assert.Equal(t, 8, b.VertexCount())
	assert.Equal(t, 12, b.TriangleCount())
	assert.False(t, b.IsEmpty())

	back, err := FromBuffers(b)
	require.NoError(t, err)
	assert.Equal(t, box.Vertices(), back.Vertices())
	assert.Equal(t, box.Faces(), back.Faces())
	assert.Equal(t, box.Checksum(), back.Checksum())

	_, err = FromBuffers(Buffers{Positions: []float32{1, 2}})
	assert.ErrorIs(t, err, geomerr.ErrInvalidParameters)
	_, err = FromBuffers(Buffers{Positions: []float32{0, 0, 0}, Indices: []uint32{0, 0, 1}})
	assert.ErrorIs(t, err, geomerr.ErrInvalidParameters)
}

func TestIslandsAndJoin(t *testing.T) {
	a := unitBox(t)
	b, err := a.Transform(geom.Translate(r3.Vec{X: 3}))
	require.NoError(t, err)

	joined := Join(a, b)
	assert.Equal(t, 16, joined.VertexCount())
	assert.Equal(t, 24, joined.FaceCount())
	assert.True(t, joined.IsWatertight())
	assert.Equal(t, 2, joined.Validate().Components)

	islands := joined.Islands()
	require.Len(t, islands, 2)
	assert.Equal(t, a.Checksum(), islands[0].Checksum())
	assert.Equal(t, b.Checksum(), islands[1].Checksum())
}

func TestMeasurements(t *testing.T) {
	box := unitBox(t)
	assert.InDelta(t, 6, box.Area(), 1e-12)
	assert.Equal(t, r3.Vec{}, box.Centroid())
	c, r := box.BoundingSphere()
	assert.Equal(t, r3.Vec{}, c)
	assert.InDelta(t, math.Sqrt(0.75), r, 1e-12)
	assert.InDelta(t, -1, box.FaceNormal(0).Z, 1e-12)
}

func TestSmooth(t *testing.T) {
	box := unitBox(t)

	_, _, err := box.Smooth(MaxSmoothIterations+1, nil, false)
	assert.ErrorIs(t, err, geomerr.ErrInvalidParameters)
	_, _, err = box.Smooth(1, []int{99}, false)
	assert.ErrorIs(t, err, geomerr.ErrInvalidParameters)

	all := []int{0, 1, 2, 3, 4, 5, 6, 7}
	same, res, err := box.Smooth(10, all, true)
	require.NoError(t, err)
	assert.Equal(t, SmoothResult{Iterations: 1, Stable: true}, res)
	assert.Equal(t, box.Vertices(), same.Vertices())

	shrunk, res, err := box.Smooth(3, []int{0}, false)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Iterations)
	assert.False(t, res.Stable)
	assert.Equal(t, box.Vertex(0), shrunk.Vertex(0))
	assert.Equal(t, box.Faces(), shrunk.Faces())
	assert.Less(t, shrunk.Volume(), box.Volume())
}

func TestSubdivide(t *testing.T) {
	box := unitBox(t)
	once, err := box.Subdivide(1)
	require.NoError(t, err)
	assert.Equal(t, 48, once.FaceCount())
	assert.Equal(t, 26, once.VertexCount())
	assert.True(t, once.IsWatertight())
	assert.Greater(t, once.Volume(), 0.0)

	_, err = box.Subdivide(MaxSubdivisions + 1)
	assert.ErrorIs(t, err, geomerr.ErrInvalidParameters)

	open := MustNew(box.Vertices(), box.Faces()[1:])
	_, err = open.Subdivide(1)
	assert.ErrorIs(t, err, geomerr.ErrNonManifoldMesh)
}

func TestChecksum(t *testing.T) {
	a, b := unitBox(t), unitBox(t)
	assert.Equal(t, a.Checksum(), b.Checksum())
	moved, err := a.Transform(geom.Translate(r3.Vec{Z: 1e-9}))
	require.NoError(t, err)
	assert.NotEqual(t, a.Checksum(), moved.Checksum())
	assert.Equal(t, a.Checksum(), a.ComputeNormals().Checksum())
}
