package mesh

import (
	"math"

	"github.com/chazu/voxgraph/pkg/geom"
	"gonum.org/v1/gonum/spatial/r3"
)

func signedVolume(v []r3.Vec, f Face) float64 {
	return r3.Dot(v[f[0]], r3.Cross(v[f[1]], v[f[2]])) / 6
}

// Volume returns the signed enclosed volume by the divergence theorem. It
// is positive for closed outward-wound meshes and meaningless for open
// ones.
func (m *Mesh) Volume() float64 {
	var vol float64
	for _, f := range m.faces {
		vol += signedVolume(m.vertices, f)
	}
	return vol
}

// Area returns the total surface area.
func (m *Mesh) Area() float64 {
	var area float64
	for i := range m.faces {
		a, b, c := m.Triangle(i)
		area += r3.Norm(r3.Cross(r3.Sub(b, a), r3.Sub(c, a))) / 2
	}
	return area
}

// Centroid returns the mean of the vertices used by at least one face.
func (m *Mesh) Centroid() r3.Vec {
	used := make([]bool, len(m.vertices))
	for _, f := range m.faces {
		used[f[0]], used[f[1]], used[f[2]] = true, true, true
	}
	var sum r3.Vec
	n := 0
	for i, u := range used {
		if u {
			sum = r3.Add(sum, m.vertices[i])
			n++
		}
	}
	if n == 0 {
		return r3.Vec{}
	}
	return r3.Scale(1/float64(n), sum)
}

// BoundingSphere returns a sphere centred on the bounding box that
// contains every vertex. It is not minimal.
func (m *Mesh) BoundingSphere() (center r3.Vec, radius float64) {
	if len(m.vertices) == 0 {
		return r3.Vec{}, 0
	}
	center = geom.BoxCenter(m.Bounds())
	for _, v := range m.vertices {
		radius = math.Max(radius, r3.Norm(r3.Sub(v, center)))
	}
	return center, radius
}

// FaceNormal returns the unit normal of face i, or the zero vector for a
// degenerate face.
func (m *Mesh) FaceNormal(i int) r3.Vec {
	a, b, c := m.Triangle(i)
	return unit(r3.Cross(r3.Sub(b, a), r3.Sub(c, a)))
}

// ComputeNormals returns a copy of m with area-weighted per-vertex normals.
func (m *Mesh) ComputeNormals() *Mesh {
	normals := make([]r3.Vec, len(m.vertices))
	for i, f := range m.faces {
		a, b, c := m.Triangle(i)
		n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
		for _, v := range f {
			normals[v] = r3.Add(normals[v], n)
		}
	}
	for i := range normals {
		normals[i] = unit(normals[i])
	}
	return build(m.vertices, m.faces, normals)
}
