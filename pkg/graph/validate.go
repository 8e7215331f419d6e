package graph

import (
	"fmt"
	"strings"

	"github.com/chazu/voxgraph/pkg/geomerr"
)

// ValidationSeverity indicates whether a finding blocks evaluation or is
// merely informational.
type ValidationSeverity int

const (
	SeverityError   ValidationSeverity = iota // blocks evaluation
	SeverityWarning                           // informational
)

func (s ValidationSeverity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return fmt.Sprintf("ValidationSeverity(%d)", int(s))
	}
}

// ValidationError describes a single validation finding.
type ValidationError struct {
	Node     NodeID // zero for graph-level findings
	Message  string
	Severity ValidationSeverity
}

func (e ValidationError) Error() string {
	if e.Node.IsZero() {
		return fmt.Sprintf("[%s] %s", e.Severity, e.Message)
	}
	return fmt.Sprintf("[%s] node %s: %s", e.Severity, e.Node, e.Message)
}

// Report collects the findings of Validate.
type Report struct {
	Findings []ValidationError
}

// Errors returns the blocking findings.
func (r Report) Errors() []ValidationError { return r.filter(SeverityError) }

// Warnings returns the advisory findings.
func (r Report) Warnings() []ValidationError { return r.filter(SeverityWarning) }

func (r Report) filter(s ValidationSeverity) []ValidationError {
	var out []ValidationError
	for _, f := range r.Findings {
		if f.Severity == s {
			out = append(out, f)
		}
	}
	return out
}

// OK reports whether the graph has no blocking findings.
func (r Report) OK() bool { return len(r.Errors()) == 0 }

// Err joins the blocking findings, wrapped in ErrInvalidParameters, or
// returns nil.
func (r Report) Err() error {
	errs := r.Errors()
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("graph: %w", geomerr.Invalidf("%d validation errors: %s", len(errs), strings.Join(msgs, "; ")))
}

func (r *Report) add(id NodeID, sev ValidationSeverity, format string, args ...any) {
	r.Findings = append(r.Findings, ValidationError{Node: id, Message: fmt.Sprintf(format, args...), Severity: sev})
}

// Validate runs the structural checks on g. It never mutates the graph.
func Validate(g *Graph) Report {
	var r Report
	validateDAG(g, &r)
	validateEdges(g, &r)
	validateParams(g, &r)
	validateNames(g, &r)
	validateSinks(g, &r)
	return r
}

// validateDAG checks for cycles using DFS with 3-colour marking. White
// (0) is unvisited, grey (1) is on the current path, black (2) is fully
// explored. Reaching a grey node closes a cycle.
func validateDAG(g *Graph, r *Report) {
	const (
		white = iota
		grey
		black
	)
	colour := make(map[NodeID]int)

	var visit func(id NodeID) bool
	visit = func(id NodeID) bool {
		switch colour[id] {
		case black:
			return false
		case grey:
			r.add(id, SeverityError, "cycle detected: node %s is part of a cycle", id)
			return true
		}
		colour[id] = grey
		n, ok := g.nodes.Get(id)
		if !ok {
			// Dangling; reported by validateEdges.
			colour[id] = black
			return false
		}
		for _, e := range n.Inputs {
			if !e.From.IsZero() && visit(e.From) {
				return true
			}
		}
		colour[id] = black
		return false
	}

	for _, n := range g.Nodes() {
		if colour[n.ID] == white && visit(n.ID) {
			// One cycle is enough.
			return
		}
	}
}

// validateEdges reports unconnected slots, dangling sources and type
// mismatches.
func validateEdges(g *Graph, r *Report) {
	for _, n := range g.Nodes() {
		sig := SignatureOf(n.Kind())
		if len(n.Inputs) != len(sig.Inputs) {
			r.add(n.ID, SeverityError, "%s takes %d inputs, node has %d slots", n.Kind(), len(sig.Inputs), len(n.Inputs))
			continue
		}
		for slot, e := range n.Inputs {
			if e.From.IsZero() {
				r.add(n.ID, SeverityError, "input %d (%s) is not connected", slot, sig.Inputs[slot])
				continue
			}
			src, ok := g.nodes.Get(e.From)
			if !ok {
				r.add(n.ID, SeverityError, "input %d references missing node %s", slot, e.From)
				continue
			}
			if out := SignatureOf(src.Kind()).Output; out != sig.Inputs[slot] {
				r.add(n.ID, SeverityError, "input %d expects %s, %s produces %s", slot, sig.Inputs[slot], src.Label(), out)
			}
		}
	}
}

func validateParams(g *Graph, r *Report) {
	for _, n := range g.Nodes() {
		if err := n.Params.Validate(); err != nil {
			r.add(n.ID, SeverityError, "%v", err)
		}
	}
}

// validateNames checks the name index is consistent with the node names.
func validateNames(g *Graph, r *Report) {
	for name, id := range g.names {
		n, ok := g.nodes.Get(id)
		if !ok {
			r.add(0, SeverityError, "name %q references missing node %s", name, id)
			continue
		}
		if n.Name != name {
			r.add(id, SeverityError, "name index says %q, node says %q", name, n.Name)
		}
	}
	seen := make(map[string]NodeID)
	for _, n := range g.Nodes() {
		if n.Name == "" {
			continue
		}
		if prev, dup := seen[n.Name]; dup {
			r.add(n.ID, SeverityError, "name %q is also used by %s", n.Name, prev)
			continue
		}
		seen[n.Name] = n.ID
	}
}

// validateSinks warns about work whose result nobody can use: grid sinks,
// which no renderer displays, and sources nothing reads in a graph with
// other nodes.
func validateSinks(g *Graph, r *Report) {
	if g.Len() < 2 {
		return
	}
	for _, id := range g.Sinks() {
		n, _ := g.nodes.Get(id)
		switch {
		case SignatureOf(n.Kind()).Output == TypeGrid:
			r.add(id, SeverityWarning, "grid output of %s is never extracted", n.Label())
		case len(n.Inputs) == 0:
			r.add(id, SeverityWarning, "%s is not used by any node", n.Label())
		}
	}
}
