package mesh

import (
	"fmt"

	"github.com/chazu/voxgraph/pkg/geom"
	"github.com/chazu/voxgraph/pkg/geomerr"
	"gonum.org/v1/gonum/spatial/r3"
)

// Transform maps every vertex by t. Cached normals are mapped by the
// inverse-transpose of t's linear part and renormalised. A mirroring
// transform (negative determinant) also reverses every face so the mesh
// stays outward wound.
func (m *Mesh) Transform(t geom.Transform) (*Mesh, error) {
	if !t.IsAffine() {
		return nil, fmt.Errorf("mesh: transform: %w", geomerr.Invalidf("matrix is not affine"))
	}
	vertices := make([]r3.Vec, len(m.vertices))
	for i, v := range m.vertices {
		vertices[i] = t.Apply(v)
	}

	var normals []r3.Vec
	if m.normals != nil {
		nm, err := t.NormalMatrix()
		if err != nil {
			return nil, fmt.Errorf("mesh: transform normals: %w", err)
		}
		normals = make([]r3.Vec, len(m.normals))
		for i, n := range m.normals {
			normals[i] = unit(nm.ApplyVector(n))
		}
	}

	faces := append([]Face(nil), m.faces...)
	if t.Determinant() < 0 {
		for i, f := range faces {
			faces[i] = f.Reversed()
		}
	}
	return build(vertices, faces, normals), nil
}

// FlipWinding reverses every face and negates cached normals.
func (m *Mesh) FlipWinding() *Mesh {
	faces := make([]Face, len(m.faces))
	for i, f := range m.faces {
		faces[i] = f.Reversed()
	}
	var normals []r3.Vec
	if m.normals != nil {
		normals = make([]r3.Vec, len(m.normals))
		for i, n := range m.normals {
			normals[i] = r3.Scale(-1, n)
		}
	}
	return build(m.vertices, faces, normals)
}

// Join concatenates meshes into one, offsetting face indices. Normals are
// kept only when every input carries them.
func Join(meshes ...*Mesh) *Mesh {
	var (
		vertices    []r3.Vec
		faces       []Face
		normals     []r3.Vec
		keepNormals = len(meshes) > 0
	)
	for _, m := range meshes {
		keepNormals = keepNormals && m.normals != nil
	}
	for _, m := range meshes {
		offset := len(vertices)
		vertices = append(vertices, m.vertices...)
		for _, f := range m.faces {
			faces = append(faces, Face{f[0] + offset, f[1] + offset, f[2] + offset})
		}
		if keepNormals {
			normals = append(normals, m.normals...)
		}
	}
	return build(vertices, faces, normals)
}

// Islands splits m into its connected components, ordered by each
// component's lowest face index. Each island keeps its vertices in their
// original relative order.
func (m *Mesh) Islands() []*Mesh {
	labels, count := m.components()
	if count <= 1 {
		return []*Mesh{m}
	}
	vertexLabel := make([]int, len(m.vertices))
	for i := range vertexLabel {
		vertexLabel[i] = -1
	}
	for fi, f := range m.faces {
		for _, v := range f {
			vertexLabel[v] = labels[fi]
		}
	}

	vertices := make([][]r3.Vec, count)
	normals := make([][]r3.Vec, count)
	remap := make([]int, len(m.vertices))
	for v, l := range vertexLabel {
		if l < 0 {
			continue
		}
		remap[v] = len(vertices[l])
		vertices[l] = append(vertices[l], m.vertices[v])
		if m.normals != nil {
			normals[l] = append(normals[l], m.normals[v])
		}
	}
	faces := make([][]Face, count)
	for fi, f := range m.faces {
		l := labels[fi]
		faces[l] = append(faces[l], Face{remap[f[0]], remap[f[1]], remap[f[2]]})
	}

	out := make([]*Mesh, count)
	for i := range out {
		out[i] = build(vertices[i], faces[i], normals[i])
	}
	return out
}

func unit(v r3.Vec) r3.Vec {
	n := r3.Norm(v)
	if n == 0 {
		return v
	}
	return r3.Scale(1/n, v)
}
