package graph

import (
	"fmt"
	"strconv"
)

// NodeID identifies a node within one graph. IDs are allocated in
// increasing order and never reused.
type NodeID uint64

// IsZero reports whether the ID is unset.
func (id NodeID) IsZero() bool { return id == 0 }

func (id NodeID) String() string { return "#" + strconv.FormatUint(uint64(id), 10) }

// Kind enumerates the operations a node can perform.
type Kind int

const (
	KindImport Kind = iota + 1 // mesh supplied as neutral buffers
	KindBox
	KindSphere
	KindCylinder
	KindField // analytic sdfx shape sampled onto a grid
	KindTransform
	KindWeld
	KindSmooth
	KindSubdivide
	KindFlip
	KindSyncWinding
	KindJoin
	KindUnion
	KindIntersect
	KindDifference
	KindRemesh
	KindVoxelize
	KindCombine
	KindOffset
	KindExtract
	KindIslands // one connected component of a mesh
)

var kindNames = map[Kind]string{
	KindImport:      "import",
	KindBox:         "box",
	KindSphere:      "sphere",
	KindCylinder:    "cylinder",
	KindField:       "field",
	KindTransform:   "transform",
	KindWeld:        "weld",
	KindSmooth:      "smooth",
	KindSubdivide:   "subdivide",
	KindFlip:        "flip",
	KindSyncWinding: "sync-winding",
	KindJoin:        "join",
	KindUnion:       "union",
	KindIntersect:   "intersect",
	KindDifference:  "difference",
	KindRemesh:      "remesh",
	KindVoxelize:    "voxelize",
	KindCombine:     "combine",
	KindOffset:      "offset",
	KindExtract:     "extract",
	KindIslands:     "islands",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind maps a kind name back to its Kind.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// Kinds returns every kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kindNames))
	for k := KindImport; k <= KindIslands; k++ {
		out = append(out, k)
	}
	return out
}

// ValueType is the type of value flowing along an edge.
type ValueType int

const (
	TypeMesh ValueType = iota
	TypeGrid
)

func (t ValueType) String() string {
	switch t {
	case TypeMesh:
		return "mesh"
	case TypeGrid:
		return "grid"
	default:
		return fmt.Sprintf("ValueType(%d)", int(t))
	}
}

// Signature lists a kind's input slot types and its output type. Every
// kind has exactly one output.
type Signature struct {
	Inputs []ValueType
	Output ValueType
}

var (
	meshToMesh = Signature{Inputs: []ValueType{TypeMesh}, Output: TypeMesh}
	meshPair   = Signature{Inputs: []ValueType{TypeMesh, TypeMesh}, Output: TypeMesh}
	meshSource = Signature{Output: TypeMesh}
	gridToGrid = Signature{Inputs: []ValueType{TypeGrid}, Output: TypeGrid}
	signatures = map[Kind]Signature{
		KindImport:      meshSource,
		KindBox:         meshSource,
		KindSphere:      meshSource,
		KindCylinder:    meshSource,
		KindField:       {Output: TypeGrid},
		KindTransform:   meshToMesh,
		KindWeld:        meshToMesh,
		KindSmooth:      meshToMesh,
		KindSubdivide:   meshToMesh,
		KindFlip:        meshToMesh,
		KindSyncWinding: meshToMesh,
		KindJoin:        meshPair,
		KindUnion:       meshPair,
		KindIntersect:   meshPair,
		KindDifference:  meshPair,
		KindRemesh:      meshToMesh,
		KindVoxelize:    {Inputs: []ValueType{TypeMesh}, Output: TypeGrid},
		KindCombine:     {Inputs: []ValueType{TypeGrid, TypeGrid}, Output: TypeGrid},
		KindOffset:      gridToGrid,
		KindExtract:     {Inputs: []ValueType{TypeGrid}, Output: TypeMesh},
		KindIslands:     meshToMesh,
	}
)

// SignatureOf returns the signature of k.
func SignatureOf(k Kind) Signature { return signatures[k] }

// Edge is an input connection: output Slot of node From feeding one input
// slot of the owning node. Every kind has a single output, so Slot is
// always 0 today.
type Edge struct {
	From NodeID `json:"from" yaml:"from"`
	Slot int    `json:"slot,omitempty" yaml:"slot,omitempty"`
}

// Node is one operation in the graph. Inputs has one entry per input slot
// of the node's kind; a zero From marks an unconnected slot.
type Node struct {
	ID     NodeID
	Name   string
	Params Params
	Inputs []Edge
}

// Kind returns the node's operation kind.
func (n *Node) Kind() Kind { return n.Params.Kind() }

// Label returns the node's name, or its ID when unnamed.
func (n *Node) Label() string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID.String()
}

func (n *Node) clone() *Node {
	c := *n
	c.Inputs = append([]Edge(nil), n.Inputs...)
	return &c
}
