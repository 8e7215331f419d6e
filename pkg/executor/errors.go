package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/chazu/voxgraph/pkg/graph"
)

var (
	// ErrSuperseded is returned when a node was edited while its result
	// was being computed. The result is discarded.
	ErrSuperseded = errors.New("superseded by a newer edit")

	// ErrUpstreamFailed is returned for nodes whose inputs failed. It
	// wraps the failing node's error.
	ErrUpstreamFailed = errors.New("upstream node failed")

	// ErrNodeNotFound is returned for IDs not in the graph.
	ErrNodeNotFound = graph.ErrNodeNotFound
)

// NodeError attributes a failure to the node that produced it.
type NodeError struct {
	Node graph.NodeID
	Kind graph.Kind
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s (%s): %v", e.Node, e.Kind, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// transient reports whether err says nothing about the node itself, so the
// node should be retried by the next evaluation instead of entering Error.
func transient(err error) bool {
	return errors.Is(err, ErrSuperseded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
