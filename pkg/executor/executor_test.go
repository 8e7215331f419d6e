package executor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/chazu/voxgraph/pkg/geomerr"
	"github.com/chazu/voxgraph/pkg/graph"
	"github.com/chazu/voxgraph/pkg/kernel"
	"github.com/chazu/voxgraph/pkg/store"
	"github.com/chazu/voxgraph/pkg/voxel"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func box(s float64) graph.BoxParams {
	return graph.BoxParams{Size: r3.Vec{X: s, Y: s, Z: s}}
}

func move(x, y, z float64) graph.TransformParams {
	return graph.TransformParams{Translate: r3.Vec{X: x, Y: y, Z: z}}
}

func add(t *testing.T, e *Executor, name string, p graph.Params) graph.NodeID {
	t.Helper()
	id, err := e.AddNode(name, p)
	require.NoError(t, err)
	return id
}

func connect(t *testing.T, e *Executor, from, to graph.NodeID, slot int) {
	t.Helper()
	require.NoError(t, e.Connect(from, 0, to, slot))
}

// diamond builds
//
//	a(box) -> t(transform) -> j(join) <- b(box) -> f(flip)
type diamond struct {
	a, b, t, j, f graph.NodeID
}

func newDiamond(t *testing.T, e *Executor) diamond {
	t.Helper()
	var d diamond
	d.a = add(t, e, "a", box(1))
	d.b = add(t, e, "b", box(2))
	d.t = add(t, e, "moved", move(3, 0, 0))
	d.j = add(t, e, "joined", graph.JoinParams{})
	d.f = add(t, e, "flipped", graph.FlipParams{})
	connect(t, e, d.a, d.t, 0)
	connect(t, e, d.t, d.j, 0)
	connect(t, e, d.b, d.j, 1)
	connect(t, e, d.b, d.f, 0)
	return d
}

func state(t *testing.T, e *Executor, id graph.NodeID) State {
	t.Helper()
	v, err := e.View(id)
	require.NoError(t, err)
	return v.State
}

func TestEvaluate(t *testing.T) {
	e := New(Options{Workers: 2})
	d := newDiamond(t, e)

	for _, v := range e.Views() {
		assert.Equal(t, Stale, v.State, v.Name)
	}

	out, err := e.Evaluate(context.Background(), d.j)
	require.NoError(t, err)
	require.NotNil(t, out.Mesh)
	assert.InDelta(t, 9.0, out.Mesh.Volume(), 1e-9)
	assert.Equal(t, 24, out.Mesh.FaceCount())

	// Only ancestors of j were evaluated.
	assert.Equal(t, Fresh, state(t, e, d.a))
	assert.Equal(t, Fresh, state(t, e, d.b))
	assert.Equal(t, Fresh, state(t, e, d.j))
	assert.Equal(t, Stale, state(t, e, d.f))
	assert.Equal(t, []graph.NodeID{d.f}, e.Pending())

	v, err := e.View(d.j)
	require.NoError(t, err)
	assert.False(t, v.Fingerprint.IsZero())
	assert.Equal(t, out.Mesh, v.Output.Mesh)
	assert.Equal(t, graph.KindJoin, v.Kind)
	assert.Equal(t, "joined", v.Name)

	_, err = e.View(99)
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestZeroRecomputation(t *testing.T) {
	ctx := context.Background()
	e := New(Options{})
	newDiamond(t, e)

	_, err := e.EvaluateAll(ctx)
	require.NoError(t, err)
	first := e.Stats()
	assert.Equal(t, uint64(5), first.Computations)
	assert.Zero(t, first.FreshHits)

	_, err = e.EvaluateAll(ctx)
	require.NoError(t, err)
	second := e.Stats()
	assert.Equal(t, first.Computations, second.Computations, "nothing changed, nothing recomputed")
	assert.Equal(t, uint64(5), second.FreshHits)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics().Computations.WithLabelValues("join")))
	assert.Equal(t, 5.0, testutil.ToFloat64(e.Metrics().Hits.WithLabelValues("fresh")))
}

func TestEditMarksExactlyDownstreamStale(t *testing.T) {
	ctx := context.Background()
	e := New(Options{})
	d := newDiamond(t, e)
	_, err := e.EvaluateAll(ctx)
	require.NoError(t, err)
	require.Empty(t, e.Pending())

	before, err := e.View(d.a)
	require.NoError(t, err)
	require.NoError(t, e.SetParams(d.a, box(1.5)))
	assert.Equal(t, []graph.NodeID{d.a, d.t, d.j}, e.Pending())
	after, err := e.View(d.a)
	require.NoError(t, err)
	assert.Greater(t, after.Generation, before.Generation)
	assert.NotNil(t, after.Output.Mesh, "stale nodes keep their last output")

	base := e.Stats()
	out, err := e.Evaluate(ctx, d.j)
	require.NoError(t, err)
	assert.InDelta(t, 1.5*1.5*1.5+8, out.Mesh.Volume(), 1e-9)
	s := e.Stats()
	assert.Equal(t, base.Computations+3, s.Computations, "a, t and j recompute")
	assert.Equal(t, base.FreshHits+1, s.FreshHits, "b is reused")
	assert.Equal(t, Fresh, state(t, e, d.f))
}

func TestEditsThatKeepFingerprintsHitTheStore(t *testing.T) {
	ctx := context.Background()
	e := New(Options{})
	d := newDiamond(t, e)
	_, err := e.EvaluateAll(ctx)
	require.NoError(t, err)

	require.NoError(t, e.SetName(d.b, "renamed"))
	assert.Equal(t, []graph.NodeID{d.b, d.j, d.f}, e.Pending())

	base := e.Stats()
	_, err = e.EvaluateAll(ctx)
	require.NoError(t, err)
	s := e.Stats()
	assert.Equal(t, base.Computations, s.Computations)
	assert.Equal(t, base.StoreHits+3, s.StoreHits)
}

func TestConnectRejectsCycle(t *testing.T) {
	ctx := context.Background()
	e := New(Options{})
	d := newDiamond(t, e)
	_, err := e.EvaluateAll(ctx)
	require.NoError(t, err)

	err = e.Connect(d.j, 0, d.t, 0)
	assert.ErrorIs(t, err, geomerr.ErrCycleRejected)
	assert.Empty(t, e.Pending(), "a rejected edit changes nothing")

	err = e.Connect(d.f, 0, d.j, 1)
	require.NoError(t, err)
	assert.Equal(t, []graph.NodeID{d.j}, e.Pending())
}

func TestFailurePropagatesDownstream(t *testing.T) {
	ctx := context.Background()
	e := New(Options{})
	a := add(t, e, "", box(1))
	tr := add(t, e, "", move(1, 0, 0)) // input left unconnected
	fl := add(t, e, "", graph.FlipParams{})
	connect(t, e, tr, fl, 0)

	_, err := e.Evaluate(ctx, fl)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamFailed)
	assert.ErrorIs(t, err, geomerr.ErrInvalidParameters, "root cause is kept")
	var ne *NodeError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, fl, ne.Node)
	assert.Equal(t, graph.KindFlip, ne.Kind)

	v, err := e.View(tr)
	require.NoError(t, err)
	assert.Equal(t, Error, v.State)
	assert.ErrorIs(t, v.Err, geomerr.ErrInvalidParameters)
	assert.Equal(t, Error, state(t, e, fl))

	// Error is terminal until an edit.
	base := e.Stats()
	_, err = e.Evaluate(ctx, fl)
	assert.ErrorIs(t, err, ErrUpstreamFailed)
	assert.Equal(t, base.Computations, e.Stats().Computations)

	connect(t, e, a, tr, 0)
	assert.Equal(t, Stale, state(t, e, tr))
	assert.Equal(t, Stale, state(t, e, fl))
	out, err := e.Evaluate(ctx, fl)
	require.NoError(t, err)
	assert.InDelta(t, -1.0, out.Mesh.Volume(), 1e-9)
}

func TestSupersededResultIsDiscarded(t *testing.T) {
	ctx := context.Background()
	e := New(Options{})
	a := add(t, e, "", box(1))
	tr := add(t, e, "", move(1, 0, 0))
	connect(t, e, a, tr, 0)

	var once sync.Once
	e.afterCompute = func(id graph.NodeID) {
		if id == a {
			once.Do(func() { assert.NoError(t, e.SetParams(a, box(2))) })
		}
	}
	_, err := e.Evaluate(ctx, tr)
	assert.ErrorIs(t, err, ErrSuperseded)
	assert.Equal(t, uint64(1), e.Stats().Discards)
	assert.Equal(t, Stale, state(t, e, a))
	assert.Equal(t, Stale, state(t, e, tr))

	e.afterCompute = nil
	out, err := e.Evaluate(ctx, tr)
	require.NoError(t, err)
	assert.InDelta(t, 8.0, out.Mesh.Volume(), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics().Discards))
}

func TestRemoveNode(t *testing.T) {
	e := New(Options{})
	d := newDiamond(t, e)

	_, err := e.RemoveNode(d.b, false)
	assert.ErrorIs(t, err, graph.ErrNodeReferenced)

	removed, err := e.RemoveNode(d.b, true)
	require.NoError(t, err)
	assert.Equal(t, []graph.NodeID{d.b, d.j, d.f}, removed)
	_, err = e.View(d.j)
	assert.ErrorIs(t, err, ErrNodeNotFound)
	assert.Len(t, e.Views(), 2)

	_, err = e.Evaluate(context.Background(), d.j)
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestStoreSharedAcrossExecutors(t *testing.T) {
	ctx := context.Background()
	shared := store.NewMemory(0)
	first := New(Options{Store: shared})
	newDiamond(t, first)
	_, err := first.EvaluateAll(ctx)
	require.NoError(t, err)

	second := New(Options{Store: shared})
	require.NoError(t, second.Load(first.Graph()))
	_, err = second.EvaluateAll(ctx)
	require.NoError(t, err)
	s := second.Stats()
	assert.Zero(t, s.Computations)
	assert.Equal(t, uint64(5), s.StoreHits)
}

func TestLoadResetsEveryNode(t *testing.T) {
	ctx := context.Background()
	e := New(Options{})
	d := newDiamond(t, e)
	_, err := e.EvaluateAll(ctx)
	require.NoError(t, err)

	g := e.Graph()
	require.NoError(t, g.SetParams(d.b, box(3)))
	require.NoError(t, e.Load(g))
	assert.Len(t, e.Pending(), 5)

	base := e.Stats()
	_, err = e.EvaluateAll(ctx)
	require.NoError(t, err)
	s := e.Stats()
	assert.Equal(t, base.Computations+3, s.Computations, "b, j and f changed")
	assert.Equal(t, base.StoreHits+2, s.StoreHits, "a and t did not")

	assert.Error(t, e.Load(nil))
}

func TestBooleanThroughExecutor(t *testing.T) {
	ctx := context.Background()
	e := New(Options{Workers: 4, Policy: kernel.ResampleAuto})
	a := add(t, e, "a", box(1))
	b := add(t, e, "b", box(1))
	moved := add(t, e, "", move(0.5, 0.5, 0.5))
	u := add(t, e, "u", graph.BooleanParams{Op: kernel.Union, Sizing: voxel.Sizing{Resolution: 48}})
	connect(t, e, b, moved, 0)
	connect(t, e, a, u, 0)
	connect(t, e, moved, u, 1)

	out, err := e.Evaluate(ctx, u)
	require.NoError(t, err)
	assert.True(t, out.Mesh.IsWatertight())
	assert.InDelta(t, 1.875, out.Mesh.Volume(), 0.08)
}

func TestConcurrentEvaluations(t *testing.T) {
	ctx := context.Background()
	e := New(Options{Workers: 2})
	d := newDiamond(t, e)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			target := d.j
			if i%2 == 1 {
				target = d.f
			}
			_, errs[i] = e.Evaluate(ctx, target)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		// A concurrent evaluation may observe another's in-flight work but
		// never fails outright.
		if err != nil {
			assert.ErrorIs(t, err, ErrSuperseded)
		}
	}
	_, err := e.EvaluateAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, e.Pending())
}

func TestCancelledEvaluationLeavesNodesStale(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := New(Options{})
	d := newDiamond(t, e)

	_, err := e.Evaluate(ctx, d.j)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	for _, v := range e.Views() {
		assert.NotEqual(t, Error, v.State)
	}
}

func TestFingerprintFailureLeavesStatesUntouched(t *testing.T) {
	ctx := context.Background()
	e := New(Options{})
	d := newDiamond(t, e)
	_, err := e.EvaluateAll(ctx)
	require.NoError(t, err)
	require.NoError(t, e.SetParams(d.a, box(1.5)))

	broken := errors.New("unencodable params")
	fingerprint = func(n *graph.Node, inputs []graph.Fingerprint) (graph.Fingerprint, error) {
		if n.ID == d.j {
			return graph.Fingerprint{}, broken
		}
		return graph.NodeFingerprint(n, inputs)
	}
	t.Cleanup(func() { fingerprint = graph.NodeFingerprint })

	_, err = e.Evaluate(ctx, d.j)
	require.ErrorIs(t, err, broken)
	for _, v := range e.Views() {
		assert.NotEqual(t, Computing, v.State, v.Name)
	}
	assert.Equal(t, Stale, state(t, e, d.a))
	assert.Equal(t, Stale, state(t, e, d.t))
	assert.Equal(t, Fresh, state(t, e, d.b))

	fingerprint = graph.NodeFingerprint
	out, err := e.Evaluate(ctx, d.j)
	require.NoError(t, err)
	assert.InDelta(t, 1.5*1.5*1.5+8, out.Mesh.Volume(), 1e-9)
}
