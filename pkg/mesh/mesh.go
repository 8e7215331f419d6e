// Package mesh implements the indexed triangle mesh used throughout the
// kernel: construction, adjacency queries, welding, watertightness checks,
// validation reports, transforms and the repair and refinement tools built
// on top of them.
//
// A Mesh is immutable. Every operation returns a new Mesh, which is what
// lets the executor cache meshes by content fingerprint.
package mesh

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/chazu/voxgraph/pkg/geom"
	"github.com/chazu/voxgraph/pkg/geomerr"
	"gonum.org/v1/gonum/spatial/r3"
)

// Face is a triangle given by three vertex indices, wound counter-clockwise
// when seen from outside.
type Face [3]int

// Mesh is an indexed triangle mesh. Vertices are unique by index, not by
// position. Normals are optional and, when present, hold one unit normal
// per vertex.
type Mesh struct {
	vertices []r3.Vec
	faces    []Face
	normals  []r3.Vec
}

// New copies vertices and faces into a new Mesh. Every face index must be
// in range and every coordinate finite.
func New(vertices []r3.Vec, faces []Face) (*Mesh, error) {
	for i, v := range vertices {
		if !finite(v) {
			return nil, fmt.Errorf("mesh: vertex %d: %w", i, geomerr.Invalidf("non-finite coordinate %v", v))
		}
	}
	n := len(vertices)
	for i, f := range faces {
		for _, idx := range f {
			if idx < 0 || idx >= n {
				return nil, fmt.Errorf("mesh: face %d: %w", i, geomerr.Invalidf("index %d out of range [0,%d)", idx, n))
			}
		}
	}
	return &Mesh{
		vertices: append([]r3.Vec(nil), vertices...),
		faces:    append([]Face(nil), faces...),
	}, nil
}

// MustNew is New for static geometry known to be valid. It panics on error.
func MustNew(vertices []r3.Vec, faces []Face) *Mesh {
	m, err := New(vertices, faces)
	if err != nil {
		panic(err)
	}
	return m
}

// build wraps slices the caller hands over without copying.
func build(vertices []r3.Vec, faces []Face, normals []r3.Vec) *Mesh {
	return &Mesh{vertices: vertices, faces: faces, normals: normals}
}

// Empty returns a mesh with no vertices and no faces.
func Empty() *Mesh { return &Mesh{} }

// WithNormals returns a copy of m carrying the given per-vertex normals.
func (m *Mesh) WithNormals(normals []r3.Vec) (*Mesh, error) {
	if len(normals) != len(m.vertices) {
		return nil, fmt.Errorf("mesh: normals: %w", geomerr.Invalidf("got %d normals for %d vertices", len(normals), len(m.vertices)))
	}
	return build(m.vertices, m.faces, append([]r3.Vec(nil), normals...)), nil
}

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int { return len(m.vertices) }

// FaceCount returns the number of triangles.
func (m *Mesh) FaceCount() int { return len(m.faces) }

// IsEmpty reports whether the mesh has no faces.
func (m *Mesh) IsEmpty() bool { return len(m.faces) == 0 }

// Vertex returns vertex i.
func (m *Mesh) Vertex(i int) r3.Vec { return m.vertices[i] }

// Face returns face i.
func (m *Mesh) Face(i int) Face { return m.faces[i] }

// Vertices returns a copy of the vertex positions.
func (m *Mesh) Vertices() []r3.Vec { return append([]r3.Vec(nil), m.vertices...) }

// Faces returns a copy of the faces.
func (m *Mesh) Faces() []Face { return append([]Face(nil), m.faces...) }

// HasNormals reports whether per-vertex normals are cached.
func (m *Mesh) HasNormals() bool { return m.normals != nil }

// Normals returns a copy of the cached normals, or nil.
func (m *Mesh) Normals() []r3.Vec {
	if m.normals == nil {
		return nil
	}
	return append([]r3.Vec(nil), m.normals...)
}

// Triangle returns the corner positions of face i.
func (m *Mesh) Triangle(i int) (a, b, c r3.Vec) {
	f := m.faces[i]
	return m.vertices[f[0]], m.vertices[f[1]], m.vertices[f[2]]
}

// Bounds returns the bounding box of all vertices.
func (m *Mesh) Bounds() r3.Box {
	b := geom.EmptyBox()
	for _, v := range m.vertices {
		b = geom.ExtendBox(b, v)
	}
	return b
}

// Checksum is a content hash of positions and faces. Normals are excluded
// because they never change the geometry.
func (m *Mesh) Checksum() uint64 {
	d := xxhash.New()
	buf := make([]byte, 0, 24)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(m.vertices)))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(m.faces)))
	_, _ = d.Write(buf)
	for _, v := range m.vertices {
		buf = buf[:0]
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.X))
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.Y))
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.Z))
		_, _ = d.Write(buf)
	}
	for _, f := range m.faces {
		buf = buf[:0]
		for _, idx := range f {
			buf = binary.LittleEndian.AppendUint64(buf, uint64(idx))
		}
		_, _ = d.Write(buf)
	}
	return d.Sum64()
}

// String summarises the mesh for logs.
func (m *Mesh) String() string {
	return fmt.Sprintf("mesh(%d vertices, %d faces)", len(m.vertices), len(m.faces))
}

func finite(v r3.Vec) bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}
