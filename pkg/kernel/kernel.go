// Package kernel runs boolean and remeshing operations on triangle meshes
// by way of signed distance grids: meshes are voxelized onto one shared
// lattice, combined sample by sample and extracted back into watertight
// meshes.
package kernel

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chazu/voxgraph/pkg/geom"
	"github.com/chazu/voxgraph/pkg/geomerr"
	"github.com/chazu/voxgraph/pkg/isosurface"
	"github.com/chazu/voxgraph/pkg/logging"
	"github.com/chazu/voxgraph/pkg/mesh"
	"github.com/chazu/voxgraph/pkg/voxel"
	"github.com/chazu/voxgraph/pkg/voxelize"
	"github.com/chazu/voxgraph/pkg/workpool"
)

// Settings controls grid resolution and resource use for one operation.
type Settings struct {
	Sizing voxel.Sizing `json:"sizing" yaml:"sizing"`
	// Band is the narrow-band half width in cells; zero selects
	// voxelize.DefaultBand.
	Band   int            `json:"band,omitempty" yaml:"band,omitempty"`
	Policy ResamplePolicy `json:"policy" yaml:"policy"`
	Limits voxel.Limits   `json:"limits" yaml:"limits"`
}

// Engine owns the worker pool and scratch buffers shared by kernel
// operations. It is safe for concurrent use.
type Engine struct {
	pool    *workpool.Pool
	buffers voxel.BufferPool
	logger  *slog.Logger
}

// NewEngine returns an engine fanning work out over pool. A nil pool runs
// everything on the calling goroutine; a nil logger uses the kernel
// logger.
func NewEngine(pool *workpool.Pool, logger *slog.Logger) *Engine {
	return &Engine{pool: pool, logger: logger}
}

// Pool returns the engine's worker pool.
func (e *Engine) Pool() *workpool.Pool { return e.pool }

func (e *Engine) log() *slog.Logger { return logging.Or(e.logger) }

func (e *Engine) lattice(m *mesh.Mesh, s Settings) (voxel.Lattice, error) {
	return s.Sizing.LatticeFor(m.Bounds(), s.Limits)
}

func (e *Engine) voxelize(ctx context.Context, m *mesh.Mesh, l voxel.Lattice, s Settings, pooled bool) (*voxel.Grid, error) {
	opts := voxelize.Options{Band: s.Band, Pool: e.pool}
	if pooled {
		opts.Buffers = &e.buffers
	}
	return voxelize.Voxelize(ctx, m, l, opts)
}

// Voxelize samples m onto a lattice sized for its bounds.
func (e *Engine) Voxelize(ctx context.Context, m *mesh.Mesh, s Settings) (*voxel.Grid, error) {
	if m.IsEmpty() {
		return nil, fmt.Errorf("kernel: voxelize: %w: mesh has no faces", geomerr.ErrEmptyVolume)
	}
	l, err := e.lattice(m, s)
	if err != nil {
		return nil, fmt.Errorf("kernel: voxelize: %w", err)
	}
	return e.voxelize(ctx, m, l, s, false)
}

// Extract returns the iso level set of g.
func (e *Engine) Extract(ctx context.Context, g *voxel.Grid, iso float64) (*mesh.Mesh, error) {
	return isosurface.Extract(ctx, g, isosurface.Options{Iso: iso, Pool: e.pool})
}

// Combine is Combine using the engine's pool.
func (e *Engine) Combine(ctx context.Context, a, b *voxel.Grid, op Op, s Settings) (*voxel.Grid, error) {
	return combine(ctx, e.pool, nil, a, b, op, s.Policy, s.Limits)
}

// Boolean computes op(a, b). Both meshes must be watertight. They are
// voxelized onto one lattice covering both, so no resampling happens.
func (e *Engine) Boolean(ctx context.Context, a, b *mesh.Mesh, op Op, s Settings) (*mesh.Mesh, error) {
	if err := a.RequireWatertight(); err != nil {
		return nil, fmt.Errorf("kernel: %s: first operand: %w", op, err)
	}
	if err := b.RequireWatertight(); err != nil {
		return nil, fmt.Errorf("kernel: %s: second operand: %w", op, err)
	}
	bounds := geom.UnionBox(a.Bounds(), b.Bounds())
	if geom.BoxIsEmpty(bounds) {
		return mesh.Empty(), nil
	}
	l, err := s.Sizing.LatticeFor(bounds, s.Limits)
	if err != nil {
		return nil, fmt.Errorf("kernel: %s: %w", op, err)
	}

	var grids [2]*voxel.Grid
	defer func() {
		for _, g := range grids {
			e.buffers.Recycle(g)
		}
	}()
	operands := [2]*mesh.Mesh{a, b}
	err = e.pool.Fanout(ctx, 2, func(ctx context.Context, i int) error {
		g, err := e.voxelize(ctx, operands[i], l, s, true)
		grids[i] = g
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("kernel: %s: %w", op, err)
	}

	combined, err := combine(ctx, e.pool, &e.buffers, grids[0], grids[1], op, s.Policy, s.Limits)
	if err != nil {
		return nil, err
	}
	defer e.buffers.Recycle(combined)

	out, err := e.Extract(ctx, combined, 0)
	if err != nil {
		return nil, fmt.Errorf("kernel: %s: %w", op, err)
	}
	e.log().Debug("boolean",
		"op", op.String(),
		"dims", fmt.Sprintf("%dx%dx%d", l.Dims.X, l.Dims.Y, l.Dims.Z),
		"cell_size", l.CellSize,
		"faces", out.FaceCount())
	return out, nil
}

// Remesh rebuilds m from its voxelization, producing a watertight mesh
// with a uniform triangle size.
func (e *Engine) Remesh(ctx context.Context, m *mesh.Mesh, s Settings) (*mesh.Mesh, error) {
	if err := m.RequireWatertight(); err != nil {
		return nil, fmt.Errorf("kernel: remesh: %w", err)
	}
	if m.IsEmpty() {
		return mesh.Empty(), nil
	}
	l, err := e.lattice(m, s)
	if err != nil {
		return nil, fmt.Errorf("kernel: remesh: %w", err)
	}
	g, err := e.voxelize(ctx, m, l, s, true)
	if err != nil {
		return nil, fmt.Errorf("kernel: remesh: %w", err)
	}
	defer e.buffers.Recycle(g)
	out, err := e.Extract(ctx, g, 0)
	if err != nil {
		return nil, fmt.Errorf("kernel: remesh: %w", err)
	}
	return out, nil
}
