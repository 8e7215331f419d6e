package mesh

// SynchronizeWinding makes face winding consistent within every connected
// component, starting from each component's lowest face and walking across
// edges shared by exactly two faces. Closed components that end up with
// negative volume are flipped so they face outward. The second result
// counts edges whose faces could not be made consistent (non-orientable
// surfaces or non-manifold edges).
func (m *Mesh) SynchronizeWinding() (*Mesh, int) {
	edgeFaces := m.EdgeFaces()
	faces := append([]Face(nil), m.faces...)
	visited := make([]bool, len(faces))
	conflicts := 0

	contains := func(f Face, a, b int) bool {
		for _, e := range f.Edges() {
			if e.A == a && e.B == b {
				return true
			}
		}
		return false
	}

	for seed := range faces {
		if visited[seed] || faces[seed].Degenerate() {
			continue
		}
		visited[seed] = true
		component := []int{seed}
		queue := []int{seed}
		for len(queue) > 0 {
			fi := queue[0]
			queue = queue[1:]
			for _, e := range faces[fi].Edges() {
				adj := edgeFaces[e.Undirected()]
				if len(adj) != 2 {
					continue
				}
				g := adj[0]
				if g == fi {
					g = adj[1]
				}
				if visited[g] {
					if contains(faces[g], e.A, e.B) {
						conflicts++
					}
					continue
				}
				if contains(faces[g], e.A, e.B) {
					faces[g] = faces[g].Reversed()
				}
				visited[g] = true
				component = append(component, g)
				queue = append(queue, g)
			}
		}

		var vol float64
		for _, fi := range component {
			vol += signedVolume(m.vertices, faces[fi])
		}
		if vol < 0 {
			for _, fi := range component {
				faces[fi] = faces[fi].Reversed()
			}
		}
	}
	// Each inconsistent edge is seen from both of its faces.
	conflicts /= 2
	for _, adj := range edgeFaces {
		if len(adj) > 2 {
			conflicts++
		}
	}
	return build(m.vertices, faces, m.normals), conflicts
}
