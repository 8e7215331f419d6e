package mesh

import (
	"fmt"

	"github.com/chazu/voxgraph/pkg/geomerr"
	"gonum.org/v1/gonum/spatial/r3"
)

// Buffers is the neutral flat form used at the import/export and
// rendering boundaries. Positions has 3 floats per vertex, Normals is
// empty or has 3 floats per vertex, Indices has 3 entries per triangle.
type Buffers struct {
	Positions []float32 `json:"positions" yaml:"positions,flow"`
	Normals   []float32 `json:"normals,omitempty" yaml:"normals,flow,omitempty"`
	Indices   []uint32  `json:"indices" yaml:"indices,flow"`
	Name      string    `json:"name,omitempty" yaml:"name,omitempty"`
}

// VertexCount returns the number of vertices.
func (b *Buffers) VertexCount() int {
	return len(b.Positions) / 3
}

// TriangleCount returns the number of triangles.
func (b *Buffers) TriangleCount() int {
	return len(b.Indices) / 3
}

// IsEmpty returns true if the buffers hold no geometry.
func (b *Buffers) IsEmpty() bool {
	return len(b.Positions) == 0
}

// FromBuffers builds a Mesh from flat buffers, checking lengths and
// index ranges.
func FromBuffers(b Buffers) (*Mesh, error) {
	if len(b.Positions)%3 != 0 {
		return nil, fmt.Errorf("mesh: buffers: %w", geomerr.Invalidf("%d position floats is not a multiple of 3", len(b.Positions)))
	}
	if len(b.Indices)%3 != 0 {
		return nil, fmt.Errorf("mesh: buffers: %w", geomerr.Invalidf("%d indices is not a multiple of 3", len(b.Indices)))
	}
	if len(b.Normals) != 0 && len(b.Normals) != len(b.Positions) {
		return nil, fmt.Errorf("mesh: buffers: %w", geomerr.Invalidf("%d normal floats for %d position floats", len(b.Normals), len(b.Positions)))
	}

	vertices := make([]r3.Vec, len(b.Positions)/3)
	for i := range vertices {
		vertices[i] = r3.Vec{X: float64(b.Positions[3*i]), Y: float64(b.Positions[3*i+1]), Z: float64(b.Positions[3*i+2])}
	}
	faces := make([]Face, len(b.Indices)/3)
	for i := range faces {
		faces[i] = Face{int(b.Indices[3*i]), int(b.Indices[3*i+1]), int(b.Indices[3*i+2])}
	}
	m, err := New(vertices, faces)
	if err != nil {
		return nil, err
	}
	if len(b.Normals) == 0 {
		return m, nil
	}
	normals := make([]r3.Vec, len(vertices))
	for i := range normals {
		normals[i] = r3.Vec{X: float64(b.Normals[3*i]), Y: float64(b.Normals[3*i+1]), Z: float64(b.Normals[3*i+2])}
	}
	m.normals = normals
	return m, nil
}

// Buffers flattens m into the neutral form. Normals are included when
// cached.
func (m *Mesh) Buffers() Buffers {
	b := Buffers{
		Positions: make([]float32, 0, 3*len(m.vertices)),
		Indices:   make([]uint32, 0, 3*len(m.faces)),
	}
	for _, v := range m.vertices {
		b.Positions = append(b.Positions, float32(v.X), float32(v.Y), float32(v.Z))
	}
	for _, f := range m.faces {
		b.Indices = append(b.Indices, uint32(f[0]), uint32(f[1]), uint32(f[2]))
	}
	if m.normals != nil {
		b.Normals = make([]float32, 0, 3*len(m.normals))
		for _, n := range m.normals {
			b.Normals = append(b.Normals, float32(n.X), float32(n.Y), float32(n.Z))
		}
	}
	return b
}
