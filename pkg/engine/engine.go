// Package engine evaluates the voxgraph Lisp DSL. Scripts run in a
// sandboxed zygomys environment whose builtins add nodes to a fresh
// graph.Graph, so evaluating the same source always yields the same graph
// and therefore the same fingerprints.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chazu/voxgraph/pkg/graph"
	"github.com/chazu/voxgraph/pkg/logging"
	zygo "github.com/glycerine/zygomys/zygo"
)

// EvalError is a non-fatal error in user code: a parse error or a builtin
// rejecting its arguments.
type EvalError struct {
	Line    int
	Col     int
	Message string
}

func (e EvalError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// EvalWarning is a structural warning about the built graph.
type EvalWarning struct {
	Message string
	NodeID  graph.NodeID
}

// EvalResult bundles everything one evaluation produced.
type EvalResult struct {
	Graph    *graph.Graph
	Errors   []EvalError
	Warnings []EvalWarning
}

// OK reports whether the script built a graph without errors.
func (r *EvalResult) OK() bool { return r.Graph != nil && len(r.Errors) == 0 }

// Engine runs DSL scripts. It is safe for concurrent use; every call gets
// its own sandbox.
type Engine struct {
	// Timeout bounds a single evaluation; zero selects EvalTimeout.
	Timeout time.Duration
	Logger  *slog.Logger

	mu         sync.Mutex
	generation uint64
}

// NewEngine returns an engine with the default timeout.
func NewEngine() *Engine {
	return &Engine{}
}

func (e *Engine) timeout() time.Duration {
	if e.Timeout > 0 {
		return e.Timeout
	}
	return EvalTimeout
}

// Evaluate runs source and returns the graph it built.
//
//   - On success: graph, nil, nil.
//   - When the script fails: nil, eval errors, nil.
//   - On timeout, panic or a newer evaluation superseding this one:
//     nil, nil, error.
func (e *Engine) Evaluate(source string) (*graph.Graph, []EvalError, error) {
	return e.EvaluateContext(context.Background(), source)
}

// EvaluateContext is Evaluate bounded by ctx as well as the timeout.
func (e *Engine) EvaluateContext(ctx context.Context, source string) (*graph.Graph, []EvalError, error) {
	e.mu.Lock()
	e.generation++
	gen := e.generation
	e.mu.Unlock()

	ch := make(chan evalResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- evalResult{err: fmt.Errorf("engine: panic during evaluation: %v", r)}
			}
		}()
		g, evalErrs, err := e.evaluate(source)
		ch <- evalResult{graph: g, errors: evalErrs, err: err}
	}()

	return waitWithTimeout(ctx, ch, gen, &e.mu, &e.generation, e.timeout())
}

// Run evaluates source and validates the resulting graph, reporting
// structural warnings alongside script errors.
func (e *Engine) Run(ctx context.Context, source string) (*EvalResult, error) {
	start := time.Now()
	g, evalErrs, err := e.EvaluateContext(ctx, source)
	if err != nil {
		return nil, err
	}
	res := &EvalResult{Graph: g, Errors: evalErrs}
	if g != nil {
		report := graph.Validate(g)
		for _, f := range report.Findings {
			if f.Severity == graph.SeverityError {
				res.Errors = append(res.Errors, EvalError{Message: f.Error()})
				continue
			}
			res.Warnings = append(res.Warnings, EvalWarning{Message: f.Message, NodeID: f.Node})
		}
	}
	logging.Or(e.Logger).Debug("engine: script evaluated",
		"nodes", nodeCount(g), "errors", len(res.Errors), "warnings", len(res.Warnings),
		"duration", time.Since(start))
	return res, nil
}

func nodeCount(g *graph.Graph) int {
	if g == nil {
		return 0
	}
	return g.Len()
}

// sandboxMu serializes interpreter runs process-wide: zygomys keeps global
// state that is not safe for concurrent sandboxes.
var sandboxMu sync.Mutex

func (e *Engine) evaluate(source string) (*graph.Graph, []EvalError, error) {
	g := graph.New()
	if strings.TrimSpace(source) == "" {
		return g, nil, nil
	}

	sandboxMu.Lock()
	defer sandboxMu.Unlock()

	// The sandbox keeps scripts away from the filesystem and syscalls.
	env := zygo.NewZlispSandbox()
	defer env.Stop()
	registerBuiltins(env, g)

	if err := env.LoadString(preprocessSource(source)); err != nil {
		return nil, parseZygomysError(err), nil
	}
	if _, err := env.Run(); err != nil {
		return nil, parseZygomysError(err), nil
	}
	return g, nil, nil
}

// linePattern matches zygomys messages of the form "Error on line N: ...".
var linePattern = regexp.MustCompile(`(?i)(?:error )?on line (\d+):\s*(.*)`)

// linePatternShort matches "line N: ...".
var linePatternShort = regexp.MustCompile(`(?i)^line (\d+):\s*(.*)`)

// parseZygomysError turns a zygomys error into EvalErrors, recovering the
// line number when the message carries one.
func parseZygomysError(err error) []EvalError {
	msg := err.Error()
	for _, re := range []*regexp.Regexp{linePattern, linePatternShort} {
		if m := re.FindStringSubmatch(msg); m != nil {
			line, _ := strconv.Atoi(m[1])
			return []EvalError{{Line: line, Message: strings.TrimSpace(m[2])}}
		}
	}
	return []EvalError{{Message: strings.TrimSpace(msg)}}
}
