package mesh

import (
	"fmt"
	"sort"

	"github.com/chazu/voxgraph/pkg/geomerr"
	"gonum.org/v1/gonum/spatial/r3"
)

// Severity indicates whether a finding makes the mesh unusable for the
// boolean pipeline or is merely informational.
type Severity int

const (
	SeverityError   Severity = iota // blocks booleans and voxelization
	SeverityWarning                 // informational
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// Finding describes a single validation finding.
type Finding struct {
	Severity Severity
	Face     int // -1 when the finding is about an edge or the whole mesh
	Message  string
}

func (f Finding) String() string {
	if f.Face < 0 {
		return fmt.Sprintf("[%s] %s", f.Severity, f.Message)
	}
	return fmt.Sprintf("[%s] face %d: %s", f.Severity, f.Face, f.Message)
}

// maxFindings caps the per-category detail messages in a Report.
const maxFindings = 8

// Report is the structured result of Validate. Counts are always complete;
// Findings holds at most a handful of examples per category.
type Report struct {
	Vertices             int
	Faces                int
	DegenerateFaces      int // repeated index or zero area
	BoundaryEdges        int // used by one face
	NonManifoldEdges     int // used by more than two faces
	InconsistentEdges    int // two faces traversing the edge the same way
	UnreferencedVertices int
	Components           int
	Watertight           bool
	Manifold             bool
	Findings             []Finding
}

// Err returns nil for a watertight report and a wrapped
// ErrNonManifoldMesh otherwise.
func (r Report) Err() error {
	if r.Watertight {
		return nil
	}
	return fmt.Errorf("%w: %d boundary, %d non-manifold, %d inconsistent edges, %d degenerate faces",
		geomerr.ErrNonManifoldMesh, r.BoundaryEdges, r.NonManifoldEdges, r.InconsistentEdges, r.DegenerateFaces)
}

// Validate inspects m and reports every topological problem it finds. It
// never fails: callers decide whether a non-manifold mesh is acceptable,
// e.g. for display but not for booleans.
func (m *Mesh) Validate() Report {
	r := Report{Vertices: len(m.vertices), Faces: len(m.faces)}
	counts := map[string]int{}
	add := func(category string, f Finding) {
		counts[category]++
		if counts[category] <= maxFindings {
			r.Findings = append(r.Findings, f)
		}
	}

	used := make([]bool, len(m.vertices))
	for fi, f := range m.faces {
		for _, v := range f {
			used[v] = true
		}
		if f.Degenerate() {
			r.DegenerateFaces++
			add("degenerate", Finding{SeverityError, fi, fmt.Sprintf("repeats a vertex %v", f)})
			continue
		}
		a, b, c := m.Triangle(fi)
		if r3.Norm2(r3.Cross(r3.Sub(b, a), r3.Sub(c, a))) == 0 {
			r.DegenerateFaces++
			add("degenerate", Finding{SeverityWarning, fi, "zero area"})
		}
	}
	for v, u := range used {
		if !u {
			r.UnreferencedVertices++
			add("unreferenced", Finding{SeverityWarning, -1, fmt.Sprintf("vertex %d is not used by any face", v)})
		}
	}

	directed := make(map[Edge]int, len(m.faces)*3)
	for _, f := range m.faces {
		if f.Degenerate() {
			continue
		}
		for _, e := range f.Edges() {
			directed[e]++
		}
	}
	edgeFaces := m.EdgeFaces()
	for _, e := range sortedEdges(edgeFaces) {
		faces := edgeFaces[e]
		switch {
		case len(faces) == 1:
			r.BoundaryEdges++
			add("boundary", Finding{SeverityError, faces[0], fmt.Sprintf("edge %d-%d is a boundary edge", e.A, e.B)})
		case len(faces) > 2:
			r.NonManifoldEdges++
			add("nonmanifold", Finding{SeverityError, faces[0], fmt.Sprintf("edge %d-%d is shared by %d faces", e.A, e.B, len(faces))})
		case directed[e] != 1 || directed[e.Reverse()] != 1:
			r.InconsistentEdges++
			add("winding", Finding{SeverityError, faces[1], fmt.Sprintf("edge %d-%d is wound the same way by faces %d and %d", e.A, e.B, faces[0], faces[1])})
		}
	}

	_, r.Components = m.components()
	hardDegenerate := 0
	for _, f := range m.faces {
		if f.Degenerate() {
			hardDegenerate++
		}
	}
	r.Manifold = r.NonManifoldEdges == 0 && hardDegenerate == 0
	r.Watertight = r.Manifold && r.BoundaryEdges == 0 && r.InconsistentEdges == 0
	return r
}

func sortedEdges(adj map[Edge][]int) []Edge {
	keys := make([]Edge, 0, len(adj))
	for e := range adj {
		keys = append(keys, e)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].A != keys[j].A {
			return keys[i].A < keys[j].A
		}
		return keys[i].B < keys[j].B
	})
	return keys
}
