package graph

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/chazu/voxgraph/pkg/geomerr"
	"github.com/chazu/voxgraph/pkg/kernel"
	"github.com/chazu/voxgraph/pkg/kernel/sdfx"
	"github.com/chazu/voxgraph/pkg/mesh"
	"github.com/chazu/voxgraph/pkg/voxel"
	"github.com/go-playground/validator/v10"
	"gonum.org/v1/gonum/spatial/r3"
)

// Params is the kind-specific payload of a node. Implementations are the
// value types in this file.
type Params interface {
	Kind() Kind
	// Validate returns a wrapped ErrInvalidParameters for out-of-range
	// values.
	Validate() error
	params() // marker method restricting implementations to this package
}

var paramValidate = validator.New()

// check runs the struct tags of p and converts the first failure into
// ErrInvalidParameters.
func check(kind Kind, p any) error {
	err := paramValidate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		detail := fe.Tag()
		if fe.Param() != "" {
			detail += "=" + fe.Param()
		}
		return fmt.Errorf("graph: %s: %w", kind, geomerr.Invalidf("%s = %v fails %s", strings.ToLower(fe.Field()), fe.Value(), detail))
	}
	return fmt.Errorf("graph: %s: %w", kind, geomerr.Invalidf("%v", err))
}

func finite(v r3.Vec) bool {
	for _, f := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

func checkVec(kind Kind, name string, v r3.Vec, positive bool) error {
	if !finite(v) || positive && !(v.X > 0 && v.Y > 0 && v.Z > 0) {
		want := "finite"
		if positive {
			want = "positive"
		}
		return fmt.Errorf("graph: %s: %w", kind, geomerr.Invalidf("%s %v must be %s", name, v, want))
	}
	return nil
}

func checkSizing(kind Kind, s voxel.Sizing) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("graph: %s: %w", kind, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Sources
// ---------------------------------------------------------------------------

// ImportParams carries a mesh supplied by the host. Checksum, when set, is
// the mesh checksum of the decoded buffers and guards against corrupted
// documents.
type ImportParams struct {
	Buffers  mesh.Buffers `json:"buffers" yaml:"buffers"`
	Checksum uint64       `json:"checksum,omitempty" yaml:"checksum,omitempty"`
}

// NewImport returns import params for b with its checksum filled in.
func NewImport(b mesh.Buffers) (ImportParams, error) {
	m, err := mesh.FromBuffers(b)
	if err != nil {
		return ImportParams{}, fmt.Errorf("graph: import: %w", err)
	}
	return ImportParams{Buffers: b, Checksum: m.Checksum()}, nil
}

func (ImportParams) Kind() Kind { return KindImport }
func (ImportParams) params()    {}

func (p ImportParams) Validate() error {
	m, err := mesh.FromBuffers(p.Buffers)
	if err != nil {
		return fmt.Errorf("graph: import: %w", err)
	}
	if p.Checksum != 0 && m.Checksum() != p.Checksum {
		return fmt.Errorf("graph: import: %w", geomerr.Invalidf("checksum %016x does not match buffers (%016x)", p.Checksum, m.Checksum()))
	}
	return nil
}

// BoxParams is an axis-aligned box centred on the origin.
type BoxParams struct {
	Size r3.Vec `json:"size" yaml:"size"`
}

func (BoxParams) Kind() Kind { return KindBox }
func (BoxParams) params()    {}

func (p BoxParams) Validate() error { return checkVec(KindBox, "size", p.Size, true) }

// SphereParams is a UV sphere centred on the origin. Zero Segments and
// Rings select 32 and 16.
type SphereParams struct {
	Radius   float64 `json:"radius" yaml:"radius" validate:"gt=0"`
	Segments int     `json:"segments,omitempty" yaml:"segments,omitempty" validate:"omitempty,min=3,max=4096"`
	Rings    int     `json:"rings,omitempty" yaml:"rings,omitempty" validate:"omitempty,min=2,max=4096"`
}

func (SphereParams) Kind() Kind { return KindSphere }
func (SphereParams) params()    {}

func (p SphereParams) Validate() error { return check(KindSphere, p) }

// CylinderParams is a Z-aligned cylinder centred on the origin. Zero
// Segments selects 32.
type CylinderParams struct {
	Radius   float64 `json:"radius" yaml:"radius" validate:"gt=0"`
	Height   float64 `json:"height" yaml:"height" validate:"gt=0"`
	Segments int     `json:"segments,omitempty" yaml:"segments,omitempty" validate:"omitempty,min=3,max=4096"`
}

func (CylinderParams) Kind() Kind { return KindCylinder }
func (CylinderParams) params()    {}

func (p CylinderParams) Validate() error { return check(KindCylinder, p) }

// FieldParams samples an analytic shape directly onto a grid.
type FieldParams struct {
	Shape  sdfx.Shape   `json:"shape" yaml:"shape"`
	Sizing voxel.Sizing `json:"sizing" yaml:"sizing"`
	Band   int          `json:"band,omitempty" yaml:"band,omitempty" validate:"min=0,max=64"`
}

func (FieldParams) Kind() Kind { return KindField }
func (FieldParams) params()    {}

func (p FieldParams) Validate() error {
	if err := check(KindField, p); err != nil {
		return err
	}
	if err := checkSizing(KindField, p.Sizing); err != nil {
		return err
	}
	if _, err := sdfx.Build(p.Shape); err != nil {
		return fmt.Errorf("graph: field: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Mesh operations
// ---------------------------------------------------------------------------

// TransformParams scales, then rotates (Euler degrees, X then Y then Z),
// then translates. A zero Scale means no scaling.
type TransformParams struct {
	Translate r3.Vec `json:"translate,omitempty" yaml:"translate,omitempty"`
	Rotate    r3.Vec `json:"rotate,omitempty" yaml:"rotate,omitempty"`
	Scale     r3.Vec `json:"scale,omitempty" yaml:"scale,omitempty"`
}

func (TransformParams) Kind() Kind { return KindTransform }
func (TransformParams) params()    {}

// ScaleOrIdentity returns Scale, substituting (1,1,1) for the zero value.
func (p TransformParams) ScaleOrIdentity() r3.Vec {
	if p.Scale == (r3.Vec{}) {
		return r3.Vec{X: 1, Y: 1, Z: 1}
	}
	return p.Scale
}

func (p TransformParams) Validate() error {
	if err := checkVec(KindTransform, "translate", p.Translate, false); err != nil {
		return err
	}
	if err := checkVec(KindTransform, "rotate", p.Rotate, false); err != nil {
		return err
	}
	s := p.ScaleOrIdentity()
	if !finite(s) || s.X == 0 || s.Y == 0 || s.Z == 0 {
		return fmt.Errorf("graph: transform: %w", geomerr.Invalidf("scale %v must be finite and non-zero", s))
	}
	return nil
}

// WeldParams merges vertices closer than Tolerance.
type WeldParams struct {
	Tolerance float64 `json:"tolerance" yaml:"tolerance" validate:"gt=0"`
}

func (WeldParams) Kind() Kind { return KindWeld }
func (WeldParams) params()    {}

func (p WeldParams) Validate() error { return check(KindWeld, p) }

// SmoothParams runs Laplacian smoothing. Fixed lists vertex indices that
// stay in place.
type SmoothParams struct {
	Iterations     int   `json:"iterations" yaml:"iterations" validate:"min=0,max=255"`
	Fixed          []int `json:"fixed,omitempty" yaml:"fixed,flow,omitempty" validate:"dive,min=0"`
	StopWhenStable bool  `json:"stop_when_stable,omitempty" yaml:"stop_when_stable,omitempty"`
}

func (SmoothParams) Kind() Kind { return KindSmooth }
func (SmoothParams) params()    {}

func (p SmoothParams) Validate() error { return check(KindSmooth, p) }

// SubdivideParams runs Loop subdivision.
type SubdivideParams struct {
	Iterations int `json:"iterations" yaml:"iterations" validate:"min=0,max=3"`
}

func (SubdivideParams) Kind() Kind { return KindSubdivide }
func (SubdivideParams) params()    {}

func (p SubdivideParams) Validate() error { return check(KindSubdivide, p) }

// FlipParams reverses every face.
type FlipParams struct{}

func (FlipParams) Kind() Kind      { return KindFlip }
func (FlipParams) params()         {}
func (FlipParams) Validate() error { return nil }

// IslandsParams selects one connected component. Islands are numbered by
// their lowest face index.
type IslandsParams struct {
	Index int `json:"index" yaml:"index" validate:"min=0"`
}

func (IslandsParams) Kind() Kind { return KindIslands }
func (IslandsParams) params()    {}

func (p IslandsParams) Validate() error { return check(KindIslands, p) }

// SyncWindingParams makes face winding consistent and outward.
type SyncWindingParams struct{}

func (SyncWindingParams) Kind() Kind      { return KindSyncWinding }
func (SyncWindingParams) params()         {}
func (SyncWindingParams) Validate() error { return nil }

// JoinParams concatenates two meshes without merging them.
type JoinParams struct{}

func (JoinParams) Kind() Kind      { return KindJoin }
func (JoinParams) params()         {}
func (JoinParams) Validate() error { return nil }

// ---------------------------------------------------------------------------
// Grid-backed operations
// ---------------------------------------------------------------------------

// BooleanParams configures union, intersect and difference nodes. Op
// selects the kind.
type BooleanParams struct {
	Op     kernel.Op    `json:"op" yaml:"op"`
	Sizing voxel.Sizing `json:"sizing" yaml:"sizing"`
	Band   int          `json:"band,omitempty" yaml:"band,omitempty" validate:"min=0,max=64"`
}

func (p BooleanParams) Kind() Kind {
	switch p.Op {
	case kernel.Intersect:
		return KindIntersect
	case kernel.Difference:
		return KindDifference
	default:
		return KindUnion
	}
}
func (BooleanParams) params() {}

func (p BooleanParams) Validate() error {
	if p.Op < kernel.Union || p.Op > kernel.Difference {
		return fmt.Errorf("graph: boolean: %w", geomerr.Invalidf("unknown op %d", int(p.Op)))
	}
	if err := check(p.Kind(), p); err != nil {
		return err
	}
	return checkSizing(p.Kind(), p.Sizing)
}

// RemeshParams rebuilds a mesh through a grid.
type RemeshParams struct {
	Sizing voxel.Sizing `json:"sizing" yaml:"sizing"`
	Band   int          `json:"band,omitempty" yaml:"band,omitempty" validate:"min=0,max=64"`
}

func (RemeshParams) Kind() Kind { return KindRemesh }
func (RemeshParams) params()    {}

func (p RemeshParams) Validate() error {
	if err := check(KindRemesh, p); err != nil {
		return err
	}
	return checkSizing(KindRemesh, p.Sizing)
}

// VoxelizeParams converts a mesh into a grid. Grow offsets the surface
// outward by that many cells (inward when negative).
type VoxelizeParams struct {
	Sizing voxel.Sizing `json:"sizing" yaml:"sizing"`
	Band   int          `json:"band,omitempty" yaml:"band,omitempty" validate:"min=0,max=64"`
	Grow   float64      `json:"grow,omitempty" yaml:"grow,omitempty" validate:"gte=-64,lte=64"`
}

func (VoxelizeParams) Kind() Kind { return KindVoxelize }
func (VoxelizeParams) params()    {}

func (p VoxelizeParams) Validate() error {
	if err := check(KindVoxelize, p); err != nil {
		return err
	}
	return checkSizing(KindVoxelize, p.Sizing)
}

// CombineParams combines two grids. An empty Policy defers to the
// executor's configured resample policy.
type CombineParams struct {
	Op     kernel.Op `json:"op" yaml:"op"`
	Policy string    `json:"policy,omitempty" yaml:"policy,omitempty" validate:"omitempty,oneof=auto reject"`
}

func (CombineParams) Kind() Kind { return KindCombine }
func (CombineParams) params()    {}

func (p CombineParams) Validate() error {
	if p.Op < kernel.Union || p.Op > kernel.Difference {
		return fmt.Errorf("graph: combine: %w", geomerr.Invalidf("unknown op %d", int(p.Op)))
	}
	return check(KindCombine, p)
}

// OffsetParams shifts a grid's surface by Distance world units.
type OffsetParams struct {
	Distance float64 `json:"distance" yaml:"distance"`
}

func (OffsetParams) Kind() Kind { return KindOffset }
func (OffsetParams) params()    {}

func (p OffsetParams) Validate() error {
	if math.IsNaN(p.Distance) || math.IsInf(p.Distance, 0) {
		return fmt.Errorf("graph: offset: %w", geomerr.Invalidf("distance must be finite"))
	}
	return nil
}

// ExtractParams turns a grid back into a mesh at level Iso.
type ExtractParams struct {
	Iso float64 `json:"iso,omitempty" yaml:"iso,omitempty"`
}

func (ExtractParams) Kind() Kind { return KindExtract }
func (ExtractParams) params()    {}

func (p ExtractParams) Validate() error {
	if math.IsNaN(p.Iso) || math.IsInf(p.Iso, 0) {
		return fmt.Errorf("graph: extract: %w", geomerr.Invalidf("iso must be finite"))
	}
	return nil
}

func decodeAs[T Params](decode func(any) error) (Params, error) {
	var v T
	if err := decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

var booleanOps = map[Kind]kernel.Op{KindUnion: kernel.Union, KindIntersect: kernel.Intersect, KindDifference: kernel.Difference}

// decodeParams decodes the params of kind k with decode, which fills the
// value it is given (json.Unmarshal or yaml.Node.Decode).
func decodeParams(k Kind, decode func(any) error) (Params, error) {
	var (
		p   Params
		err error
	)
	switch k {
	case KindImport:
		p, err = decodeAs[ImportParams](decode)
	case KindBox:
		p, err = decodeAs[BoxParams](decode)
	case KindSphere:
		p, err = decodeAs[SphereParams](decode)
	case KindCylinder:
		p, err = decodeAs[CylinderParams](decode)
	case KindField:
		p, err = decodeAs[FieldParams](decode)
	case KindTransform:
		p, err = decodeAs[TransformParams](decode)
	case KindWeld:
		p, err = decodeAs[WeldParams](decode)
	case KindSmooth:
		p, err = decodeAs[SmoothParams](decode)
	case KindSubdivide:
		p, err = decodeAs[SubdivideParams](decode)
	case KindFlip:
		p = FlipParams{}
	case KindSyncWinding:
		p = SyncWindingParams{}
	case KindJoin:
		p = JoinParams{}
	case KindUnion, KindIntersect, KindDifference:
		var v BooleanParams
		err = decode(&v)
		v.Op = booleanOps[k]
		p = v
	case KindRemesh:
		p, err = decodeAs[RemeshParams](decode)
	case KindVoxelize:
		p, err = decodeAs[VoxelizeParams](decode)
	case KindCombine:
		p, err = decodeAs[CombineParams](decode)
	case KindOffset:
		p, err = decodeAs[OffsetParams](decode)
	case KindExtract:
		p, err = decodeAs[ExtractParams](decode)
	case KindIslands:
		p, err = decodeAs[IslandsParams](decode)
	default:
		return nil, fmt.Errorf("graph: %w", geomerr.Invalidf("unknown kind %d", int(k)))
	}
	if err != nil {
		return nil, fmt.Errorf("graph: %s params: %w", k, geomerr.Invalidf("%v", err))
	}
	return p, nil
}
