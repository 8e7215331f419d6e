// Package ops evaluates a single graph node: given its params and the
// values of its inputs it produces the node's output value. Every function
// here is pure apart from the worker pool and scratch buffers it borrows
// from the kernel engine.
package ops

import (
	"context"
	"fmt"
	"math"

	"github.com/chazu/voxgraph/pkg/geom"
	"github.com/chazu/voxgraph/pkg/geomerr"
	"github.com/chazu/voxgraph/pkg/graph"
	"github.com/chazu/voxgraph/pkg/kernel"
	"github.com/chazu/voxgraph/pkg/kernel/sdfx"
	"github.com/chazu/voxgraph/pkg/mesh"
	"github.com/chazu/voxgraph/pkg/voxel"
	"github.com/chazu/voxgraph/pkg/voxelize"
)

const (
	defaultSegments = 32
	defaultRings    = 16
)

// Value is the output of a node: exactly one of Mesh and Grid is set.
type Value struct {
	Mesh *mesh.Mesh
	Grid *voxel.Grid
}

// MeshValue wraps m.
func MeshValue(m *mesh.Mesh) Value { return Value{Mesh: m} }

// GridValue wraps g.
func GridValue(g *voxel.Grid) Value { return Value{Grid: g} }

// Type returns the value's type.
func (v Value) Type() graph.ValueType {
	if v.Grid != nil {
		return graph.TypeGrid
	}
	return graph.TypeMesh
}

// IsZero reports whether v holds nothing.
func (v Value) IsZero() bool { return v.Mesh == nil && v.Grid == nil }

func (v Value) String() string {
	switch {
	case v.Mesh != nil:
		return v.Mesh.String()
	case v.Grid != nil:
		d := v.Grid.Dims()
		return fmt.Sprintf("grid %dx%dx%d h=%g", d.X, d.Y, d.Z, v.Grid.Lattice().CellSize)
	}
	return "empty"
}

// Env carries what evaluations share: the kernel engine and the default
// grid policy and limits.
type Env struct {
	Engine *kernel.Engine
	Policy kernel.ResamplePolicy
	Limits voxel.Limits
}

func (env *Env) settings(s voxel.Sizing, band int) kernel.Settings {
	return kernel.Settings{Sizing: s, Band: band, Policy: env.Policy, Limits: env.Limits}
}

// Eval computes the output of a node with params p from its input values,
// given in slot order. Input types must match the kind's signature.
func Eval(ctx context.Context, env *Env, p graph.Params, in []Value) (Value, error) {
	if err := checkInputs(p.Kind(), in); err != nil {
		return Value{}, err
	}
	if err := ctx.Err(); err != nil {
		return Value{}, err
	}

	switch p := p.(type) {
	case graph.ImportParams:
		m, err := mesh.FromBuffers(p.Buffers)
		return meshOrErr(m, err)
	case graph.BoxParams:
		m, err := mesh.Box(p.Size)
		return meshOrErr(m, err)
	case graph.SphereParams:
		m, err := mesh.UVSphere(p.Radius, orDefault(p.Segments, defaultSegments), orDefault(p.Rings, defaultRings))
		return meshOrErr(m, err)
	case graph.CylinderParams:
		m, err := mesh.Cylinder(p.Radius, p.Height, orDefault(p.Segments, defaultSegments))
		return meshOrErr(m, err)
	case graph.FieldParams:
		return field(ctx, env, p)

	case graph.TransformParams:
		t := geom.Compose(p.Translate, p.Rotate, p.ScaleOrIdentity())
		m, err := in[0].Mesh.Transform(t)
		return meshOrErr(m, err)
	case graph.WeldParams:
		m, err := in[0].Mesh.Weld(p.Tolerance)
		return meshOrErr(m, err)
	case graph.SmoothParams:
		m, _, err := in[0].Mesh.Smooth(p.Iterations, p.Fixed, p.StopWhenStable)
		return meshOrErr(m, err)
	case graph.SubdivideParams:
		m, err := in[0].Mesh.Subdivide(p.Iterations)
		return meshOrErr(m, err)
	case graph.FlipParams:
		return MeshValue(in[0].Mesh.FlipWinding()), nil
	case graph.SyncWindingParams:
		m, _ := in[0].Mesh.SynchronizeWinding()
		return MeshValue(m), nil
	case graph.JoinParams:
		return MeshValue(mesh.Join(in[0].Mesh, in[1].Mesh)), nil
	case graph.IslandsParams:
		islands := in[0].Mesh.Islands()
		if p.Index >= len(islands) {
			return Value{}, fmt.Errorf("ops: islands: %w", geomerr.Invalidf("index %d out of range, mesh has %d islands", p.Index, len(islands)))
		}
		return MeshValue(islands[p.Index]), nil

	case graph.BooleanParams:
		m, err := env.Engine.Boolean(ctx, in[0].Mesh, in[1].Mesh, p.Op, env.settings(p.Sizing, p.Band))
		return meshOrErr(m, err)
	case graph.RemeshParams:
		m, err := env.Engine.Remesh(ctx, in[0].Mesh, env.settings(p.Sizing, p.Band))
		return meshOrErr(m, err)
	case graph.VoxelizeParams:
		return voxelizeGrow(ctx, env, p, in[0].Mesh)
	case graph.CombineParams:
		s := env.settings(voxel.Sizing{}, 0)
		if p.Policy != "" {
			policy, err := kernel.ParsePolicy(p.Policy)
			if err != nil {
				return Value{}, err
			}
			s.Policy = policy
		}
		g, err := env.Engine.Combine(ctx, in[0].Grid, in[1].Grid, p.Op, s)
		return gridOrErr(g, err)
	case graph.OffsetParams:
		return GridValue(in[0].Grid.Offset(p.Distance)), nil
	case graph.ExtractParams:
		m, err := env.Engine.Extract(ctx, in[0].Grid, p.Iso)
		return meshOrErr(m, err)
	}
	return Value{}, fmt.Errorf("ops: %w", geomerr.Invalidf("no evaluator for %s", p.Kind()))
}

func checkInputs(k graph.Kind, in []Value) error {
	sig := graph.SignatureOf(k)
	if len(in) != len(sig.Inputs) {
		return fmt.Errorf("ops: %s: %w", k, geomerr.Invalidf("want %d inputs, got %d", len(sig.Inputs), len(in)))
	}
	for i, v := range in {
		if v.IsZero() {
			return fmt.Errorf("ops: %s: %w", k, geomerr.Invalidf("input %d is not connected", i))
		}
		if v.Type() != sig.Inputs[i] {
			return fmt.Errorf("ops: %s input %d: %w: got %s, want %s", k, i, geomerr.ErrTypeMismatch, v.Type(), sig.Inputs[i])
		}
	}
	return nil
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func meshOrErr(m *mesh.Mesh, err error) (Value, error) {
	if err != nil {
		return Value{}, err
	}
	return MeshValue(m), nil
}

func gridOrErr(g *voxel.Grid, err error) (Value, error) {
	if err != nil {
		return Value{}, err
	}
	return GridValue(g), nil
}

func field(ctx context.Context, env *Env, p graph.FieldParams) (Value, error) {
	f, err := sdfx.Build(p.Shape)
	if err != nil {
		return Value{}, err
	}
	g, err := sdfx.Sample(ctx, f, sdfx.SampleOptions{
		Sizing: p.Sizing,
		Band:   p.Band,
		Limits: env.Limits,
		Pool:   env.Engine.Pool(),
	})
	return gridOrErr(g, err)
}

// voxelizeGrow voxelizes m and offsets the surface by Grow cells. The band
// is widened so the moved surface still lies inside it, and the lattice is
// padded so a grown surface stays inside the grid.
func voxelizeGrow(ctx context.Context, env *Env, p graph.VoxelizeParams, m *mesh.Mesh) (Value, error) {
	s := env.settings(p.Sizing, p.Band)
	if p.Grow != 0 {
		reach := int(math.Ceil(math.Abs(p.Grow))) + 1
		band := s.Band
		if band == 0 {
			band = voxelize.DefaultBand
		}
		s.Band = max(band, reach)
		pad := s.Sizing.Padding
		if pad == 0 {
			pad = voxel.DefaultPadding
		}
		if p.Grow > 0 {
			s.Sizing.Padding = max(pad, reach+1)
		}
	}

	g, err := env.Engine.Voxelize(ctx, m, s)
	if err != nil {
		return Value{}, err
	}
	if p.Grow != 0 {
		g = g.Offset(p.Grow * g.Lattice().CellSize)
	}
	if g.Inside() == 0 {
		return Value{}, fmt.Errorf("ops: voxelize: %w: no sample lies inside the surface", geomerr.ErrEmptyVolume)
	}
	return GridValue(g), nil
}
