package engine

import (
	"fmt"
	"strings"

	"github.com/chazu/voxgraph/pkg/graph"
	"github.com/chazu/voxgraph/pkg/kernel"
	"github.com/chazu/voxgraph/pkg/kernel/sdfx"
	"github.com/chazu/voxgraph/pkg/voxel"
	zygo "github.com/glycerine/zygomys/zygo"
	"gonum.org/v1/gonum/spatial/r3"
)

// ---------------------------------------------------------------------------
// Source preprocessing
// ---------------------------------------------------------------------------

// preprocessSource rewrites DSL source into something zygomys accepts:
//
//   - :keyword becomes the string literal "__kw_keyword", so keywords need
//     no global symbols and cannot collide with user variables.
//   - kebab-case identifiers become snake_case (sync-winding ->
//     sync_winding). zygomys reads a hyphen as subtraction.
//   - ; comments become // comments.
//
// String literals are copied untouched.
func preprocessSource(source string) string {
	out := make([]byte, 0, len(source)+len(source)/4)
	b := []byte(source)
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c == '"':
			j := i + 1
			for j < len(b) && b[j] != '"' {
				if b[j] == '\\' && j+1 < len(b) {
					j++
				}
				j++
			}
			if j < len(b) {
				j++
			}
			out = append(out, b[i:j]...)
			i = j

		case c == '`':
			j := i + 1
			for j < len(b) && b[j] != '`' {
				j++
			}
			if j < len(b) {
				j++
			}
			out = append(out, b[i:j]...)
			i = j

		case c == ';':
			out = append(out, '/', '/')
			i++
			for i < len(b) && b[i] == ';' {
				i++
			}
			for i < len(b) && b[i] != '\n' {
				out = append(out, b[i])
				i++
			}

		case c == ':' && i+1 < len(b) && b[i+1] == '=':
			out = append(out, ':', '=')
			i += 2

		case c == ':' && i+1 < len(b) && isLetter(b[i+1]):
			j := i + 1
			for j < len(b) && isKWChar(b[j]) {
				j++
			}
			out = append(out, '"')
			out = append(out, kwPrefix...)
			out = append(out, b[i+1:j]...)
			out = append(out, '"')
			i = j

		case c == '-' && i > 0 && i+1 < len(b) && isIdentChar(b[i-1]) && isLetter(b[i+1]):
			out = append(out, '_')
			i++

		default:
			out = append(out, c)
			i++
		}
	}
	return string(out)
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isKWChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '-' || c == '_'
}

func isIdentChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '_'
}

// ---------------------------------------------------------------------------
// Go values passed through the zygomys environment
// ---------------------------------------------------------------------------

// sexpNodeRef is what every node builtin returns: a handle on a node of
// the graph under construction.
type sexpNodeRef struct {
	id   graph.NodeID
	kind graph.Kind
}

func (n *sexpNodeRef) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(%s %s)", n.kind, n.id)
}
func (n *sexpNodeRef) Type() *zygo.RegisteredType { return nil }

type sexpVec3 struct {
	vec r3.Vec
}

func (v *sexpVec3) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(vec3 %g %g %g)", v.vec.X, v.vec.Y, v.vec.Z)
}
func (v *sexpVec3) Type() *zygo.RegisteredType { return nil }

// ---------------------------------------------------------------------------
// Keyword arguments
// ---------------------------------------------------------------------------

const kwPrefix = "__kw_"

func isKW(s zygo.Sexp) (string, bool) {
	str, ok := s.(*zygo.SexpStr)
	if !ok || !strings.HasPrefix(str.S, kwPrefix) {
		return "", false
	}
	return str.S[len(kwPrefix):], true
}

// kwArgs is an argument list split into keyword and positional arguments.
type kwArgs struct {
	fn         string
	kw         map[string]zygo.Sexp
	positional []zygo.Sexp
}

func parseArgs(fn string, args []zygo.Sexp) kwArgs {
	pa := kwArgs{fn: fn, kw: make(map[string]zygo.Sexp)}
	for i := 0; i < len(args); i++ {
		if name, ok := isKW(args[i]); ok {
			if i+1 < len(args) {
				pa.kw[name] = args[i+1]
				i++
			} else {
				pa.kw[name] = zygo.SexpNull
			}
			continue
		}
		pa.positional = append(pa.positional, args[i])
	}
	return pa
}

// float reads keyword name into dst when present.
func (pa kwArgs) float(name string, dst *float64) error {
	v, ok := pa.kw[name]
	if !ok {
		return nil
	}
	f, err := toFloat64(v)
	if err != nil {
		return fmt.Errorf("%s: %s: %w", pa.fn, name, err)
	}
	*dst = f
	return nil
}

func (pa kwArgs) int(name string, dst *int) error {
	v, ok := pa.kw[name]
	if !ok {
		return nil
	}
	n, err := toInt(v)
	if err != nil {
		return fmt.Errorf("%s: %s: %w", pa.fn, name, err)
	}
	*dst = n
	return nil
}

func (pa kwArgs) bool(name string, dst *bool) error {
	v, ok := pa.kw[name]
	if !ok {
		return nil
	}
	switch b := v.(type) {
	case *zygo.SexpBool:
		*dst = b.Val
	case *zygo.SexpSentinel:
		// A trailing keyword with no value is a flag.
		*dst = true
	default:
		return fmt.Errorf("%s: %s: expected boolean, got %s", pa.fn, name, v.SexpString(nil))
	}
	return nil
}

func (pa kwArgs) vec(name string, dst *r3.Vec) error {
	v, ok := pa.kw[name]
	if !ok {
		return nil
	}
	vec, err := toVec3(v)
	if err != nil {
		return fmt.Errorf("%s: %s: %w", pa.fn, name, err)
	}
	*dst = vec
	return nil
}

func (pa kwArgs) str(name string, dst *string) error {
	v, ok := pa.kw[name]
	if !ok {
		return nil
	}
	s, err := toKeywordString(v)
	if err != nil {
		return fmt.Errorf("%s: %s: %w", pa.fn, name, err)
	}
	*dst = s
	return nil
}

// sizing reads :resolution, :cell-size, :diagonal and :padding.
func (pa kwArgs) sizing() (voxel.Sizing, error) {
	var s voxel.Sizing
	for _, err := range []error{
		pa.int("resolution", &s.Resolution),
		pa.float("cell-size", &s.CellSize),
		pa.bool("diagonal", &s.Diagonal),
		pa.int("padding", &s.Padding),
	} {
		if err != nil {
			return voxel.Sizing{}, err
		}
	}
	return s, nil
}

// arity checks the number of positional arguments.
func (pa kwArgs) arity(n int) error {
	if len(pa.positional) != n {
		return fmt.Errorf("%s takes %d positional arguments, got %d", pa.fn, n, len(pa.positional))
	}
	return nil
}

// nodes reads every positional argument as a node reference.
func (pa kwArgs) nodes() ([]graph.NodeID, error) {
	out := make([]graph.NodeID, len(pa.positional))
	for i, s := range pa.positional {
		id, err := toNodeRef(s)
		if err != nil {
			return nil, fmt.Errorf("%s: argument %d: %w", pa.fn, i+1, err)
		}
		out[i] = id
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Value extraction
// ---------------------------------------------------------------------------

func toFloat64(s zygo.Sexp) (float64, error) {
	switch v := s.(type) {
	case *zygo.SexpInt:
		return float64(v.Val), nil
	case *zygo.SexpFloat:
		return v.Val, nil
	}
	return 0, fmt.Errorf("expected number, got %T (%s)", s, s.SexpString(nil))
}

func toInt(s zygo.Sexp) (int, error) {
	if v, ok := s.(*zygo.SexpInt); ok {
		return int(v.Val), nil
	}
	return 0, fmt.Errorf("expected integer, got %T (%s)", s, s.SexpString(nil))
}

func toString(s zygo.Sexp) (string, error) {
	if str, ok := s.(*zygo.SexpStr); ok {
		return str.S, nil
	}
	return "", fmt.Errorf("expected string, got %T (%s)", s, s.SexpString(nil))
}

// toKeywordString accepts both :name and "name".
func toKeywordString(s zygo.Sexp) (string, error) {
	str, err := toString(s)
	if err != nil {
		return "", fmt.Errorf("expected keyword or string: %w", err)
	}
	return strings.TrimPrefix(str, kwPrefix), nil
}

func toNodeRef(s zygo.Sexp) (graph.NodeID, error) {
	if ref, ok := s.(*sexpNodeRef); ok {
		return ref.id, nil
	}
	return 0, fmt.Errorf("expected node, got %T (%s)", s, s.SexpString(nil))
}

func toVec3(s zygo.Sexp) (r3.Vec, error) {
	if v, ok := s.(*sexpVec3); ok {
		return v.vec, nil
	}
	return r3.Vec{}, fmt.Errorf("expected vec3, got %T (%s)", s, s.SexpString(nil))
}

func sexpListToSlice(s zygo.Sexp) ([]zygo.Sexp, error) {
	switch v := s.(type) {
	case *zygo.SexpPair:
		return zygo.ListToArray(v)
	case *zygo.SexpArray:
		return v.Val, nil
	case *zygo.SexpSentinel:
		if v == zygo.SexpNull {
			return nil, nil
		}
	}
	return nil, fmt.Errorf("expected list or array, got %T", s)
}

// ---------------------------------------------------------------------------
// Builtins
// ---------------------------------------------------------------------------

// builder adds the nodes created by builtins to g.
type builder struct {
	g *graph.Graph
}

// add creates a node with params p and wires inputs into its slots in
// order.
func (b *builder) add(p graph.Params, inputs ...graph.NodeID) (zygo.Sexp, error) {
	id, err := b.g.AddNode("", p)
	if err != nil {
		return zygo.SexpNull, err
	}
	for slot, in := range inputs {
		if err := b.g.Connect(in, 0, id, slot); err != nil {
			return zygo.SexpNull, fmt.Errorf("%s input %d: %w", p.Kind(), slot+1, err)
		}
	}
	return &sexpNodeRef{id: id, kind: p.Kind()}, nil
}

type builtin func(b *builder, pa kwArgs) (zygo.Sexp, error)

// unary builds a one-input node from the first positional argument.
func unary(params func(pa kwArgs) (graph.Params, error)) builtin {
	return func(b *builder, pa kwArgs) (zygo.Sexp, error) {
		if err := pa.arity(1); err != nil {
			return zygo.SexpNull, err
		}
		in, err := pa.nodes()
		if err != nil {
			return zygo.SexpNull, err
		}
		p, err := params(pa)
		if err != nil {
			return zygo.SexpNull, err
		}
		return b.add(p, in...)
	}
}

// boolean folds two or more meshes left to right: (union a b c) is
// (union (union a b) c).
func boolean(op kernel.Op) builtin {
	return func(b *builder, pa kwArgs) (zygo.Sexp, error) {
		if len(pa.positional) < 2 {
			return zygo.SexpNull, fmt.Errorf("%s takes at least 2 meshes, got %d", pa.fn, len(pa.positional))
		}
		in, err := pa.nodes()
		if err != nil {
			return zygo.SexpNull, err
		}
		p := graph.BooleanParams{Op: op}
		if p.Sizing, err = pa.sizing(); err != nil {
			return zygo.SexpNull, err
		}
		if err := pa.int("band", &p.Band); err != nil {
			return zygo.SexpNull, err
		}
		acc := in[0]
		var ref zygo.Sexp
		for _, next := range in[1:] {
			if ref, err = b.add(p, acc, next); err != nil {
				return zygo.SexpNull, err
			}
			acc = ref.(*sexpNodeRef).id
		}
		return ref, nil
	}
}

// vec3Args reads either three positional numbers or one vec3.
func vec3Args(pa kwArgs, from int) (r3.Vec, error) {
	rest := pa.positional[from:]
	switch len(rest) {
	case 1:
		return toVec3(rest[0])
	case 3:
		var xyz [3]float64
		for i, s := range rest {
			f, err := toFloat64(s)
			if err != nil {
				return r3.Vec{}, fmt.Errorf("%s: %w", pa.fn, err)
			}
			xyz[i] = f
		}
		return r3.Vec{X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
	}
	return r3.Vec{}, fmt.Errorf("%s: expected a vec3 or three numbers", pa.fn)
}

// placement builds translate, rotate and scale: (translate node x y z) or
// (translate node (vec3 x y z)).
func placement(set func(*graph.TransformParams, r3.Vec)) builtin {
	return func(b *builder, pa kwArgs) (zygo.Sexp, error) {
		if len(pa.positional) < 2 {
			return zygo.SexpNull, fmt.Errorf("%s takes a mesh and a vector", pa.fn)
		}
		in, err := toNodeRef(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("%s: %w", pa.fn, err)
		}
		v, err := vec3Args(pa, 1)
		if err != nil {
			return zygo.SexpNull, err
		}
		var p graph.TransformParams
		set(&p, v)
		return b.add(p, in)
	}
}

func shapeArgs(pa kwArgs) (sdfx.Shape, error) {
	var s sdfx.Shape
	for _, err := range []error{
		pa.str("shape", &s.Kind),
		pa.vec("size", &s.Size),
		pa.float("radius", &s.Radius),
		pa.float("height", &s.Height),
		pa.float("round", &s.Round),
		pa.vec("translate", &s.Translate),
		pa.vec("rotate", &s.Rotate),
		pa.vec("scale", &s.Scale),
	} {
		if err != nil {
			return sdfx.Shape{}, err
		}
	}
	return s, nil
}

var builtins = map[string]builtin{
	// (vec3 x y z)
	"vec3": func(_ *builder, pa kwArgs) (zygo.Sexp, error) {
		if err := pa.arity(3); err != nil {
			return zygo.SexpNull, err
		}
		v, err := vec3Args(pa, 0)
		if err != nil {
			return zygo.SexpNull, err
		}
		return &sexpVec3{vec: v}, nil
	},

	// (box x y z) or (box :size (vec3 x y z))
	"box": func(b *builder, pa kwArgs) (zygo.Sexp, error) {
		var p graph.BoxParams
		if len(pa.positional) > 0 {
			v, err := vec3Args(pa, 0)
			if err != nil {
				return zygo.SexpNull, err
			}
			p.Size = v
		}
		if err := pa.vec("size", &p.Size); err != nil {
			return zygo.SexpNull, err
		}
		return b.add(p)
	},

	// (sphere r :segments n :rings n)
	"sphere": func(b *builder, pa kwArgs) (zygo.Sexp, error) {
		var p graph.SphereParams
		if len(pa.positional) == 1 {
			r, err := toFloat64(pa.positional[0])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("sphere: radius: %w", err)
			}
			p.Radius = r
		}
		for _, err := range []error{
			pa.float("radius", &p.Radius),
			pa.int("segments", &p.Segments),
			pa.int("rings", &p.Rings),
		} {
			if err != nil {
				return zygo.SexpNull, err
			}
		}
		return b.add(p)
	},

	// (cylinder r h :segments n)
	"cylinder": func(b *builder, pa kwArgs) (zygo.Sexp, error) {
		var p graph.CylinderParams
		if len(pa.positional) == 2 {
			var err error
			if p.Radius, err = toFloat64(pa.positional[0]); err != nil {
				return zygo.SexpNull, fmt.Errorf("cylinder: radius: %w", err)
			}
			if p.Height, err = toFloat64(pa.positional[1]); err != nil {
				return zygo.SexpNull, fmt.Errorf("cylinder: height: %w", err)
			}
		}
		for _, err := range []error{
			pa.float("radius", &p.Radius),
			pa.float("height", &p.Height),
			pa.int("segments", &p.Segments),
		} {
			if err != nil {
				return zygo.SexpNull, err
			}
		}
		return b.add(p)
	},

	// (field :shape :sphere :radius 1 :resolution 48)
	"field": func(b *builder, pa kwArgs) (zygo.Sexp, error) {
		if err := pa.arity(0); err != nil {
			return zygo.SexpNull, err
		}
		var p graph.FieldParams
		var err error
		if p.Shape, err = shapeArgs(pa); err != nil {
			return zygo.SexpNull, err
		}
		if p.Sizing, err = pa.sizing(); err != nil {
			return zygo.SexpNull, err
		}
		if err := pa.int("band", &p.Band); err != nil {
			return zygo.SexpNull, err
		}
		return b.add(p)
	},

	// (transform m :translate v :rotate v :scale v)
	"transform": unary(func(pa kwArgs) (graph.Params, error) {
		var p graph.TransformParams
		for _, err := range []error{
			pa.vec("translate", &p.Translate),
			pa.vec("rotate", &p.Rotate),
			pa.vec("scale", &p.Scale),
		} {
			if err != nil {
				return nil, err
			}
		}
		return p, nil
	}),
	"translate": placement(func(p *graph.TransformParams, v r3.Vec) { p.Translate = v }),
	"rotate":    placement(func(p *graph.TransformParams, v r3.Vec) { p.Rotate = v }),
	"scale":     placement(func(p *graph.TransformParams, v r3.Vec) { p.Scale = v }),

	// (weld m :tolerance t)
	"weld": unary(func(pa kwArgs) (graph.Params, error) {
		p := graph.WeldParams{Tolerance: 1e-6}
		err := pa.float("tolerance", &p.Tolerance)
		return p, err
	}),

	// (smooth m :iterations n :fixed (list 0 1) :stop-when-stable true)
	"smooth": unary(func(pa kwArgs) (graph.Params, error) {
		p := graph.SmoothParams{Iterations: 1}
		if err := pa.int("iterations", &p.Iterations); err != nil {
			return nil, err
		}
		if err := pa.bool("stop-when-stable", &p.StopWhenStable); err != nil {
			return nil, err
		}
		if v, ok := pa.kw["fixed"]; ok {
			items, err := sexpListToSlice(v)
			if err != nil {
				return nil, fmt.Errorf("smooth: fixed: %w", err)
			}
			for _, it := range items {
				n, err := toInt(it)
				if err != nil {
					return nil, fmt.Errorf("smooth: fixed: %w", err)
				}
				p.Fixed = append(p.Fixed, n)
			}
		}
		return p, nil
	}),

	// (subdivide m :iterations n)
	"subdivide": unary(func(pa kwArgs) (graph.Params, error) {
		p := graph.SubdivideParams{Iterations: 1}
		err := pa.int("iterations", &p.Iterations)
		return p, err
	}),

	"flip":         unary(func(kwArgs) (graph.Params, error) { return graph.FlipParams{}, nil }),
	"sync_winding": unary(func(kwArgs) (graph.Params, error) { return graph.SyncWindingParams{}, nil }),

	// (join a b)
	"join": func(b *builder, pa kwArgs) (zygo.Sexp, error) {
		if err := pa.arity(2); err != nil {
			return zygo.SexpNull, err
		}
		in, err := pa.nodes()
		if err != nil {
			return zygo.SexpNull, err
		}
		return b.add(graph.JoinParams{}, in...)
	},

	// (islands m :index i)
	"islands": unary(func(pa kwArgs) (graph.Params, error) {
		var p graph.IslandsParams
		err := pa.int("index", &p.Index)
		return p, err
	}),

	// (union a b ... :resolution n :band n)
	"union":      boolean(kernel.Union),
	"intersect":  boolean(kernel.Intersect),
	"difference": boolean(kernel.Difference),

	// (remesh m :resolution n)
	"remesh": unary(func(pa kwArgs) (graph.Params, error) {
		var p graph.RemeshParams
		var err error
		if p.Sizing, err = pa.sizing(); err != nil {
			return nil, err
		}
		err = pa.int("band", &p.Band)
		return p, err
	}),

	// (voxelize m :resolution n :grow g)
	"voxelize": unary(func(pa kwArgs) (graph.Params, error) {
		var p graph.VoxelizeParams
		var err error
		if p.Sizing, err = pa.sizing(); err != nil {
			return nil, err
		}
		if err := pa.int("band", &p.Band); err != nil {
			return nil, err
		}
		err = pa.float("grow", &p.Grow)
		return p, err
	}),

	// (combine a b :op :difference :policy :reject)
	"combine": func(b *builder, pa kwArgs) (zygo.Sexp, error) {
		if err := pa.arity(2); err != nil {
			return zygo.SexpNull, err
		}
		in, err := pa.nodes()
		if err != nil {
			return zygo.SexpNull, err
		}
		opName := "union"
		if err := pa.str("op", &opName); err != nil {
			return zygo.SexpNull, err
		}
		var p graph.CombineParams
		if p.Op, err = kernel.ParseOp(opName); err != nil {
			return zygo.SexpNull, fmt.Errorf("combine: %w", err)
		}
		if err := pa.str("policy", &p.Policy); err != nil {
			return zygo.SexpNull, err
		}
		return b.add(p, in...)
	},

	// (offset g d)
	"offset": func(b *builder, pa kwArgs) (zygo.Sexp, error) {
		if err := pa.arity(2); err != nil {
			return zygo.SexpNull, err
		}
		in, err := toNodeRef(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("offset: %w", err)
		}
		d, err := toFloat64(pa.positional[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("offset: distance: %w", err)
		}
		return b.add(graph.OffsetParams{Distance: d}, in)
	},

	// (extract g :iso i)
	"extract": unary(func(pa kwArgs) (graph.Params, error) {
		var p graph.ExtractParams
		err := pa.float("iso", &p.Iso)
		return p, err
	}),

	// (defnode "name" expr) names the node expr evaluates to.
	"defnode": func(b *builder, pa kwArgs) (zygo.Sexp, error) {
		if err := pa.arity(2); err != nil {
			return zygo.SexpNull, err
		}
		name, err := toString(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("defnode: name: %w", err)
		}
		ref, ok := pa.positional[1].(*sexpNodeRef)
		if !ok {
			return zygo.SexpNull, fmt.Errorf("defnode: expected node expression, got %s", pa.positional[1].SexpString(nil))
		}
		if err := b.g.SetName(ref.id, name); err != nil {
			return zygo.SexpNull, fmt.Errorf("defnode: %w", err)
		}
		return ref, nil
	},

	// (node "name") looks up a node named by defnode.
	"node": func(b *builder, pa kwArgs) (zygo.Sexp, error) {
		if err := pa.arity(1); err != nil {
			return zygo.SexpNull, err
		}
		name, err := toString(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("node: name: %w", err)
		}
		n, ok := b.g.Lookup(name)
		if !ok {
			return zygo.SexpNull, fmt.Errorf("node: no node named %q", name)
		}
		return &sexpNodeRef{id: n.ID, kind: n.Kind()}, nil
	},
}

// registerBuiltins installs the DSL into env. Every node builtin adds to g.
// Source must go through preprocessSource first so keywords are
// recognisable.
func registerBuiltins(env *zygo.Zlisp, g *graph.Graph) {
	b := &builder{g: g}
	for name, fn := range builtins {
		env.AddFunction(name, func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			return fn(b, parseArgs(strings.ReplaceAll(name, "_", "-"), args))
		})
	}
}
