package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chazu/voxgraph/pkg/graph"
	"github.com/chazu/voxgraph/pkg/ops"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("voxgraph.executor")

// fingerprint is replaced in tests.
var fingerprint = graph.NodeFingerprint

// task is one node of an evaluation plan. done is closed once out or err
// is final.
type task struct {
	node   *graph.Node
	gen    uint64
	fp     graph.Fingerprint
	inputs []*task // by slot; nil for unconnected slots
	done   chan struct{}

	out  ops.Value
	err  error
	root error // the failure behind an upstream error
}

// plan snapshots everything targets depend on. Nodes that need work are
// switched to Computing; the returned tasks are in topological order.
func (e *Executor) plan(targets []graph.NodeID) (map[graph.NodeID]*task, []*task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	need := make(map[graph.NodeID]bool)
	for _, id := range targets {
		anc, err := e.g.Ancestors(id)
		if err != nil {
			return nil, nil, fmt.Errorf("executor: %w", err)
		}
		for _, a := range anc {
			need[a] = true
		}
	}
	order, err := e.g.TopoOrder()
	if err != nil {
		return nil, nil, fmt.Errorf("executor: %w", err)
	}

	// Fingerprint everything before touching records so a failure leaves
	// every node as it was.
	tasks := make(map[graph.NodeID]*task, len(need))
	planned := make([]*task, 0, len(need))
	for _, id := range order {
		if !need[id] {
			continue
		}
		n, _ := e.g.Node(id)
		t := &task{node: n, inputs: make([]*task, len(n.Inputs)), done: make(chan struct{})}
		fps := make([]graph.Fingerprint, len(n.Inputs))
		for i, in := range n.Inputs {
			if dep, ok := tasks[in.From]; ok {
				t.inputs[i] = dep
				fps[i] = dep.fp
			}
		}
		if t.fp, err = fingerprint(n, fps); err != nil {
			return nil, nil, fmt.Errorf("executor: %w", err)
		}
		tasks[id] = t
		planned = append(planned, t)
	}

	var pending []*task
	for _, t := range planned {
		rec, ok := e.recs[t.node.ID]
		if !ok {
			rec = &record{}
			e.recs[t.node.ID] = rec
		}
		t.gen = rec.gen
		switch {
		case rec.state == Fresh && rec.fp == t.fp:
			t.out = rec.out
			close(t.done)
			e.freshHits.Add(1)
			e.metrics.Hits.WithLabelValues("fresh").Inc()
		case rec.state == Error:
			t.err = rec.err
			t.root = rec.root
			close(t.done)
		default:
			rec.state = Computing
			pending = append(pending, t)
		}
	}
	return tasks, pending, nil
}

// Evaluate brings id up to date and returns its output.
func (e *Executor) Evaluate(ctx context.Context, id graph.NodeID) (ops.Value, error) {
	ctx, span := tracer.Start(ctx, "executor.Evaluate",
		trace.WithAttributes(attribute.String("node", id.String())))
	defer span.End()

	tasks, err := e.run(ctx, []graph.NodeID{id})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ops.Value{}, err
	}
	t := tasks[id]
	if t.err != nil {
		span.RecordError(t.err)
		span.SetStatus(codes.Error, t.err.Error())
		return ops.Value{}, t.err
	}
	return t.out, nil
}

// EvaluateAll evaluates every sink. The outputs of sinks that succeeded are
// returned along with the joined errors of those that did not.
func (e *Executor) EvaluateAll(ctx context.Context) (map[graph.NodeID]ops.Value, error) {
	ctx, span := tracer.Start(ctx, "executor.EvaluateAll")
	defer span.End()

	e.mu.Lock()
	sinks := e.g.Sinks()
	e.mu.Unlock()

	tasks, err := e.run(ctx, sinks)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	out := make(map[graph.NodeID]ops.Value, len(sinks))
	var errs []error
	for _, id := range sinks {
		t := tasks[id]
		if t.err != nil {
			errs = append(errs, t.err)
			continue
		}
		out[id] = t.out
	}
	if err := errors.Join(errs...); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return out, err
	}
	return out, nil
}

// run plans targets and executes every pending task, one goroutine per
// task. Each waits for its inputs, so independent subtrees proceed in
// parallel while the pool bounds how many compute at once.
func (e *Executor) run(ctx context.Context, targets []graph.NodeID) (map[graph.NodeID]*task, error) {
	session := uuid.NewString()[:8]
	start := time.Now()
	tasks, pending, err := e.plan(targets)
	if err != nil {
		return nil, err
	}
	e.log().Debug("executor: evaluation started",
		"session", session, "targets", len(targets), "nodes", len(tasks), "pending", len(pending))

	var wg sync.WaitGroup
	for _, t := range pending {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.runTask(ctx, t)
		}()
	}
	wg.Wait()

	e.log().Debug("executor: evaluation finished",
		"session", session, "pending", len(pending), "duration", time.Since(start))
	return tasks, nil
}

func (e *Executor) runTask(ctx context.Context, t *task) {
	defer close(t.done)

	in := make([]ops.Value, len(t.inputs))
	for i, dep := range t.inputs {
		if dep == nil {
			continue
		}
		<-dep.done
		if dep.err != nil {
			switch {
			case transient(dep.err):
				t.err = dep.err
			default:
				t.root = dep.root
				if t.root == nil {
					t.root = dep.err
				}
				t.err = &NodeError{Node: t.node.ID, Kind: t.node.Kind(),
					Err: fmt.Errorf("%w: %w", ErrUpstreamFailed, t.root)}
			}
			e.publish(t)
			return
		}
		in[i] = dep.out
	}

	v, err := e.produce(ctx, t, in)
	if err != nil {
		if transient(err) {
			t.err = err
		} else {
			t.err = &NodeError{Node: t.node.ID, Kind: t.node.Kind(), Err: err}
		}
	} else {
		t.out = v
	}
	if e.afterCompute != nil {
		e.afterCompute(t.node.ID)
	}
	e.publish(t)
}

// produce loads t's result from the store or computes it. Concurrent
// evaluations needing the same fingerprint share one computation.
func (e *Executor) produce(ctx context.Context, t *task, in []ops.Value) (ops.Value, error) {
	if v, ok, err := e.store.Get(ctx, t.fp); err != nil {
		e.log().Warn("executor: store lookup failed", "node", t.node.ID, "key", t.fp.Short(), "error", err)
	} else if ok {
		e.storeHits.Add(1)
		e.metrics.Hits.WithLabelValues("store").Inc()
		return v, nil
	}

	res, err, _ := e.flight.Do(string(t.fp[:]), func() (any, error) {
		return e.compute(ctx, t, in)
	})
	if err != nil {
		return ops.Value{}, err
	}
	return res.(ops.Value), nil
}

func (e *Executor) compute(ctx context.Context, t *task, in []ops.Value) (ops.Value, error) {
	if err := e.pool.Acquire(ctx); err != nil {
		return ops.Value{}, err
	}
	defer e.pool.Release()
	e.metrics.InFlight.Inc()
	defer e.metrics.InFlight.Dec()

	kind := t.node.Kind().String()
	ctx, span := tracer.Start(ctx, "executor.compute", trace.WithAttributes(
		attribute.String("node", t.node.ID.String()),
		attribute.String("kind", kind),
		attribute.String("fingerprint", t.fp.Short()),
	))
	defer span.End()

	start := time.Now()
	v, err := ops.Eval(ctx, e.env, t.node.Params, in)
	elapsed := time.Since(start)
	e.computations.Add(1)
	e.metrics.Computations.WithLabelValues(kind).Inc()
	e.metrics.ComputeSeconds.WithLabelValues(kind).Observe(elapsed.Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ops.Value{}, err
	}
	e.log().Debug("executor: node computed",
		"node", t.node.ID, "kind", kind, "result", v.String(), "duration", elapsed)

	if err := e.store.Put(ctx, t.fp, v); err != nil {
		e.log().Warn("executor: store write failed", "node", t.node.ID, "key", t.fp.Short(), "error", err)
	}
	return v, nil
}

// publish commits t to its node's record unless the node was edited or
// removed since planning, in which case t becomes ErrSuperseded.
func (e *Executor) publish(t *task) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.recs[t.node.ID]
	if !ok || rec.gen != t.gen {
		if t.err == nil || !errors.Is(t.err, ErrSuperseded) {
			e.discards.Add(1)
			e.metrics.Discards.Inc()
		}
		t.out = ops.Value{}
		t.err = fmt.Errorf("executor: node %s: %w", t.node.ID, ErrSuperseded)
		return
	}
	switch {
	case t.err == nil:
		rec.state = Fresh
		rec.fp = t.fp
		rec.out = t.out
		rec.err = nil
	case transient(t.err):
		rec.state = Stale
	default:
		rec.state = Error
		rec.fp = t.fp
		rec.err = t.err
		rec.root = t.root
		if rec.root == nil {
			rec.root = t.err
		}
		e.metrics.Failures.WithLabelValues(t.node.Kind().String()).Inc()
		e.log().Debug("executor: node failed", "node", t.node.ID, "error", t.err)
	}
}

// Pending returns the nodes that are not Fresh, in ID order.
func (e *Executor) Pending() []graph.NodeID {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []graph.NodeID
	for id, rec := range e.recs {
		if rec.state != Fresh {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
