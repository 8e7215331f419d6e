// Package executor evaluates a dataflow graph incrementally.
//
// Every node carries a state and a generation. Edits mark the edited node
// and everything downstream of it Stale and bump their generations.
// Evaluation reuses Fresh results whose fingerprint still matches, then
// results found in the content store, and computes the rest on a bounded
// worker pool with independent subtrees running in parallel. A result
// computed for an old generation is discarded rather than published.
//
// An Executor is safe for concurrent use: edits may run while an
// evaluation is in flight.
package executor

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/chazu/voxgraph/pkg/geomerr"
	"github.com/chazu/voxgraph/pkg/graph"
	"github.com/chazu/voxgraph/pkg/kernel"
	"github.com/chazu/voxgraph/pkg/logging"
	"github.com/chazu/voxgraph/pkg/ops"
	"github.com/chazu/voxgraph/pkg/store"
	"github.com/chazu/voxgraph/pkg/voxel"
	"github.com/chazu/voxgraph/pkg/workpool"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

// State is the evaluation state of a node.
type State int

const (
	Stale State = iota
	Computing
	Fresh
	Error
)

func (s State) String() string {
	switch s {
	case Stale:
		return "stale"
	case Computing:
		return "computing"
	case Fresh:
		return "fresh"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures an Executor. The zero value is usable.
type Options struct {
	// Pool bounds concurrent node computations. Nil creates a pool with
	// Workers slots.
	Pool    *workpool.Pool
	Workers int
	// Store holds results by fingerprint. Nil uses a private memory store
	// with the default budget.
	Store store.Store
	// Policy and Limits apply to grid operations that do not set their
	// own.
	Policy kernel.ResamplePolicy
	Limits voxel.Limits
	// Registry receives the executor's collectors. Nil creates a private
	// registry.
	Registry *prometheus.Registry
	Logger   *slog.Logger
}

type record struct {
	state State
	gen   uint64
	fp    graph.Fingerprint // fingerprint of out or err
	out   ops.Value         // last good output, kept while Stale
	err   error
	root  error // failing ancestor behind an ErrUpstreamFailed err
}

// Executor owns a graph and the evaluation state of its nodes.
type Executor struct {
	mu   sync.Mutex
	g    *graph.Graph
	recs map[graph.NodeID]*record

	env      *ops.Env
	pool     *workpool.Pool
	store    store.Store
	flight   singleflight.Group
	registry *prometheus.Registry
	metrics  *Metrics
	logger   *slog.Logger

	computations atomic.Uint64
	freshHits    atomic.Uint64
	storeHits    atomic.Uint64
	discards     atomic.Uint64

	// afterCompute runs between producing a node's result and publishing
	// it. Tests use it to edit the graph mid-flight.
	afterCompute func(graph.NodeID)
}

// New returns an executor over an empty graph.
func New(opts Options) *Executor {
	pool := opts.Pool
	if pool == nil {
		pool = workpool.New(opts.Workers)
	}
	st := opts.Store
	if st == nil {
		st = store.NewMemory(0)
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	limits := opts.Limits
	if limits.MaxCells == 0 {
		limits = voxel.DefaultLimits
	}
	return &Executor{
		g:    graph.New(),
		recs: make(map[graph.NodeID]*record),
		env: &ops.Env{
			Engine: kernel.NewEngine(pool, opts.Logger),
			Policy: opts.Policy,
			Limits: limits,
		},
		pool:     pool,
		store:    st,
		registry: reg,
		metrics:  newMetrics(reg),
		logger:   opts.Logger,
	}
}

func (e *Executor) log() *slog.Logger { return logging.Or(e.logger) }

// Registry returns the registry holding the executor's metrics.
func (e *Executor) Registry() *prometheus.Registry { return e.registry }

// Metrics returns the executor's collectors.
func (e *Executor) Metrics() *Metrics { return e.metrics }

// Store returns the content store.
func (e *Executor) Store() store.Store { return e.store }

// Graph returns a snapshot of the current graph. Later edits do not
// affect it.
func (e *Executor) Graph() *graph.Graph {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.g.Clone()
}

// Validate reports structural problems in the current graph.
func (e *Executor) Validate() graph.Report {
	return graph.Validate(e.Graph())
}

// markStale resets ids to Stale under a new generation. Caller holds mu.
func (e *Executor) markStale(ids ...graph.NodeID) {
	for _, id := range ids {
		rec, ok := e.recs[id]
		if !ok {
			rec = &record{}
			e.recs[id] = rec
		}
		rec.state = Stale
		rec.gen++
		rec.err = nil
		rec.root = nil
	}
}

func (e *Executor) markDownstream(id graph.NodeID) {
	e.markStale(id)
	e.markStale(e.g.Descendants(id)...)
}

// AddNode adds an unconnected node.
func (e *Executor) AddNode(name string, p graph.Params) (graph.NodeID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, err := e.g.AddNode(name, p)
	if err != nil {
		return 0, err
	}
	e.markStale(id)
	return id, nil
}

// RemoveNode removes id, or with cascade id and everything downstream of
// it, returning the removed IDs.
func (e *Executor) RemoveNode(id graph.NodeID, cascade bool) ([]graph.NodeID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	removed, err := e.g.RemoveNode(id, cascade)
	if err != nil {
		return nil, err
	}
	for _, r := range removed {
		delete(e.recs, r)
	}
	return removed, nil
}

// SetParams replaces the params of id.
func (e *Executor) SetParams(id graph.NodeID, p graph.Params) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.g.SetParams(id, p); err != nil {
		return err
	}
	e.markDownstream(id)
	return nil
}

// SetName renames id.
func (e *Executor) SetName(id graph.NodeID, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.g.SetName(id, name); err != nil {
		return err
	}
	e.markDownstream(id)
	return nil
}

// Connect feeds output outSlot of from into input inSlot of to.
func (e *Executor) Connect(from graph.NodeID, outSlot int, to graph.NodeID, inSlot int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.g.Connect(from, outSlot, to, inSlot); err != nil {
		return err
	}
	e.markDownstream(to)
	return nil
}

// Disconnect clears input inSlot of to.
func (e *Executor) Disconnect(to graph.NodeID, inSlot int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.g.Disconnect(to, inSlot); err != nil {
		return err
	}
	e.markDownstream(to)
	return nil
}

// Load replaces the graph with a copy of g. Every node becomes Stale;
// nodes that existed before keep their last output for views and their
// results stay reachable through the store.
func (e *Executor) Load(g *graph.Graph) error {
	if g == nil {
		return geomerr.Invalidf("executor: load: nil graph")
	}
	g = g.Clone()
	if _, err := g.TopoOrder(); err != nil {
		return fmt.Errorf("executor: load: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.g = g
	keep := make(map[graph.NodeID]*record, g.Len())
	for _, n := range g.Nodes() {
		if rec, ok := e.recs[n.ID]; ok {
			keep[n.ID] = rec
		}
	}
	e.recs = keep
	for _, n := range g.Nodes() {
		e.markStale(n.ID)
	}
	return nil
}

// View is a read-only snapshot of one node for renderers.
type View struct {
	ID          graph.NodeID
	Name        string
	Kind        graph.Kind
	State       State
	Generation  uint64
	Fingerprint graph.Fingerprint
	// Output is the last good result. It is kept while the node is Stale
	// or Computing so renderers can keep drawing it.
	Output ops.Value
	Err    error
}

func (e *Executor) view(n *graph.Node) View {
	v := View{ID: n.ID, Name: n.Name, Kind: n.Kind()}
	if rec, ok := e.recs[n.ID]; ok {
		v.State = rec.state
		v.Generation = rec.gen
		v.Fingerprint = rec.fp
		v.Output = rec.out
		v.Err = rec.err
	}
	return v
}

// View returns the state of id.
func (e *Executor) View(id graph.NodeID) (View, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.g.Node(id)
	if !ok {
		return View{}, fmt.Errorf("executor: %w: %s", ErrNodeNotFound, id)
	}
	return e.view(n), nil
}

// Views returns the state of every node in ID order.
func (e *Executor) Views() []View {
	e.mu.Lock()
	defer e.mu.Unlock()
	nodes := e.g.Nodes()
	out := make([]View, len(nodes))
	for i, n := range nodes {
		out[i] = e.view(n)
	}
	return out
}

// Stats counts evaluation work since the executor was created.
type Stats struct {
	Computations uint64 // operations run, successful or not
	FreshHits    uint64 // Fresh results reused as is
	StoreHits    uint64 // results loaded from the content store
	Discards     uint64 // results dropped as superseded
}

// Stats returns the current counters.
func (e *Executor) Stats() Stats {
	return Stats{
		Computations: e.computations.Load(),
		FreshHits:    e.freshHits.Load(),
		StoreHits:    e.storeHits.Load(),
		Discards:     e.discards.Load(),
	}
}

// Close closes the content store.
func (e *Executor) Close() error {
	return e.store.Close()
}
