package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chazu/voxgraph/pkg/graph"
)

// EvalTimeout is the default limit for a single evaluation.
const EvalTimeout = 5 * time.Second

// ErrSuperseded is returned by an evaluation overtaken by a newer one on
// the same engine.
var ErrSuperseded = errors.New("evaluation superseded by newer request")

// ErrTimeout is returned when a script runs past its time limit.
var ErrTimeout = errors.New("evaluation timed out")

type evalResult struct {
	graph  *graph.Graph
	errors []EvalError
	err    error
}

// waitWithTimeout waits for ch, giving up after timeout or when ctx ends.
// A result arriving after a newer evaluation started is discarded: the
// generation check compares gen with the engine's current generation.
//
// On timeout the interpreter goroutine keeps running; its result lands in
// the buffered channel and is dropped.
func waitWithTimeout(
	ctx context.Context,
	ch <-chan evalResult,
	gen uint64,
	mu *sync.Mutex,
	currentGen *uint64,
	timeout time.Duration,
) (*graph.Graph, []EvalError, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		mu.Lock()
		current := *currentGen
		mu.Unlock()
		if gen != current {
			return nil, nil, fmt.Errorf("engine: %w", ErrSuperseded)
		}
		return res.graph, res.errors, res.err

	case <-timer.C:
		return nil, nil, fmt.Errorf("engine: %w after %s", ErrTimeout, timeout)

	case <-ctx.Done():
		return nil, nil, fmt.Errorf("engine: %w", ctx.Err())
	}
}
