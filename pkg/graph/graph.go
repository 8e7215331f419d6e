package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/chazu/voxgraph/pkg/geomerr"
	"github.com/tidwall/btree"
)

var (
	// ErrNodeNotFound is returned for IDs that are not in the graph.
	ErrNodeNotFound = errors.New("node not found")
	// ErrNodeReferenced is returned when removing a node other nodes still
	// consume, without cascading.
	ErrNodeReferenced = errors.New("node is referenced")
	// ErrDuplicateName is returned when a name is already taken.
	ErrDuplicateName = errors.New("duplicate node name")
)

// Graph is a directed acyclic graph of operations. Nodes are owned by the
// graph and referenced by ID; edges live in each consumer's Inputs. Node
// values are never modified in place, so pointers returned by accessors
// stay valid snapshots.
type Graph struct {
	nodes  *btree.Map[NodeID, *Node]
	names  map[string]NodeID
	nextID NodeID

	// Derived, rebuilt lazily after structural edits.
	order     []NodeID
	consumers map[NodeID][]NodeID
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes:  btree.NewMap[NodeID, *Node](32),
		names:  make(map[string]NodeID),
		nextID: 1,
	}
}

// Clone returns an independent copy of g. Node values are shared, which is
// safe because they are immutable.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		nodes:  g.nodes.Copy(),
		names:  make(map[string]NodeID, len(g.names)),
		nextID: g.nextID,
	}
	for k, v := range g.names {
		c.names[k] = v
	}
	return c
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return g.nodes.Len() }

// Node returns the node with the given ID.
func (g *Graph) Node(id NodeID) (*Node, bool) {
	return g.nodes.Get(id)
}

// Lookup returns the node with the given name.
func (g *Graph) Lookup(name string) (*Node, bool) {
	id, ok := g.names[name]
	if !ok {
		return nil, false
	}
	return g.nodes.Get(id)
}

// Nodes returns every node in ID order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, g.nodes.Len())
	g.nodes.Scan(func(_ NodeID, n *Node) bool {
		out = append(out, n)
		return true
	})
	return out
}

// NextID returns the ID the next AddNode will allocate.
func (g *Graph) NextID() NodeID { return g.nextID }

func (g *Graph) get(id NodeID) (*Node, error) {
	n, ok := g.nodes.Get(id)
	if !ok {
		return nil, fmt.Errorf("graph: %w: %s", ErrNodeNotFound, id)
	}
	return n, nil
}

func (g *Graph) invalidate() {
	g.order = nil
	g.consumers = nil
}

func (g *Graph) put(n *Node) {
	g.nodes.Set(n.ID, n)
	g.invalidate()
}

// AddNode validates p and adds an unconnected node. name may be empty.
func (g *Graph) AddNode(name string, p Params) (NodeID, error) {
	if p == nil {
		return 0, fmt.Errorf("graph: add: %w", geomerr.Invalidf("nil params"))
	}
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if name != "" {
		if _, taken := g.names[name]; taken {
			return 0, fmt.Errorf("graph: add: %w: %q", ErrDuplicateName, name)
		}
	}
	id := g.nextID
	g.nextID++
	n := &Node{ID: id, Name: name, Params: p, Inputs: make([]Edge, len(SignatureOf(p.Kind()).Inputs))}
	if name != "" {
		g.names[name] = id
	}
	g.put(n)
	return id, nil
}

// insert adds n with its own ID, as loaded from a document. Edges are
// checked by the caller once every node is present.
func (g *Graph) insert(n *Node) error {
	if n.ID.IsZero() {
		return fmt.Errorf("graph: %w", geomerr.Invalidf("node id must be positive"))
	}
	if _, dup := g.nodes.Get(n.ID); dup {
		return fmt.Errorf("graph: %w", geomerr.Invalidf("duplicate node id %s", n.ID))
	}
	if n.Name != "" {
		if _, taken := g.names[n.Name]; taken {
			return fmt.Errorf("graph: %w: %q", ErrDuplicateName, n.Name)
		}
		g.names[n.Name] = n.ID
	}
	if n.ID >= g.nextID {
		g.nextID = n.ID + 1
	}
	g.put(n)
	return nil
}

// RemoveNode deletes id. If other nodes consume it, RemoveNode fails with
// ErrNodeReferenced unless cascade is set, in which case every transitive
// consumer is removed too. It returns the removed IDs in ascending order.
func (g *Graph) RemoveNode(id NodeID, cascade bool) ([]NodeID, error) {
	if _, err := g.get(id); err != nil {
		return nil, err
	}
	if users := g.Consumers(id); len(users) > 0 && !cascade {
		return nil, fmt.Errorf("graph: remove %s: %w by %v", id, ErrNodeReferenced, users)
	}
	removed := append([]NodeID{id}, g.Descendants(id)...)
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	for _, r := range removed {
		n, _ := g.nodes.Delete(r)
		if n != nil && n.Name != "" {
			delete(g.names, n.Name)
		}
	}
	g.invalidate()
	return removed, nil
}

// SetParams replaces the params of id. The kind cannot change.
func (g *Graph) SetParams(id NodeID, p Params) error {
	n, err := g.get(id)
	if err != nil {
		return err
	}
	if p == nil || p.Kind() != n.Kind() {
		return fmt.Errorf("graph: set params %s: %w", id, geomerr.Invalidf("node is %s, params are %v", n.Kind(), kindOf(p)))
	}
	if err := p.Validate(); err != nil {
		return err
	}
	c := n.clone()
	c.Params = p
	g.nodes.Set(id, c)
	return nil
}

func kindOf(p Params) string {
	if p == nil {
		return "nil"
	}
	return p.Kind().String()
}

// SetName renames id. An empty name clears it.
func (g *Graph) SetName(id NodeID, name string) error {
	n, err := g.get(id)
	if err != nil {
		return err
	}
	if name == n.Name {
		return nil
	}
	if name != "" {
		if _, taken := g.names[name]; taken {
			return fmt.Errorf("graph: rename %s: %w: %q", id, ErrDuplicateName, name)
		}
		g.names[name] = id
	}
	if n.Name != "" {
		delete(g.names, n.Name)
	}
	c := n.clone()
	c.Name = name
	g.nodes.Set(id, c)
	return nil
}

// Connect wires output outSlot of from into input inSlot of to, replacing
// any existing connection in that slot. It fails, leaving g unchanged,
// with ErrInvalidParameters for bad slots, ErrTypeMismatch when the value
// types differ and ErrCycleRejected when from already depends on to.
func (g *Graph) Connect(from NodeID, outSlot int, to NodeID, inSlot int) error {
	src, err := g.get(from)
	if err != nil {
		return err
	}
	dst, err := g.get(to)
	if err != nil {
		return err
	}
	if outSlot != 0 {
		return fmt.Errorf("graph: connect: %w", geomerr.Invalidf("%s has a single output, got slot %d", src.Kind(), outSlot))
	}
	sig := SignatureOf(dst.Kind())
	if inSlot < 0 || inSlot >= len(sig.Inputs) {
		return fmt.Errorf("graph: connect: %w", geomerr.Invalidf("%s has %d inputs, got slot %d", dst.Kind(), len(sig.Inputs), inSlot))
	}
	if out, in := SignatureOf(src.Kind()).Output, sig.Inputs[inSlot]; out != in {
		return fmt.Errorf("graph: connect %s -> %s[%d]: %w: %s into %s", from, to, inSlot, geomerr.ErrTypeMismatch, out, in)
	}
	if from == to || g.dependsOn(from, to) {
		return fmt.Errorf("graph: connect %s -> %s: %w", from, to, geomerr.ErrCycleRejected)
	}
	c := dst.clone()
	c.Inputs[inSlot] = Edge{From: from, Slot: outSlot}
	g.put(c)
	return nil
}

// Disconnect clears input inSlot of to.
func (g *Graph) Disconnect(to NodeID, inSlot int) error {
	n, err := g.get(to)
	if err != nil {
		return err
	}
	if inSlot < 0 || inSlot >= len(n.Inputs) {
		return fmt.Errorf("graph: disconnect: %w", geomerr.Invalidf("%s has %d inputs, got slot %d", n.Kind(), len(n.Inputs), inSlot))
	}
	if n.Inputs[inSlot].From.IsZero() {
		return nil
	}
	c := n.clone()
	c.Inputs[inSlot] = Edge{}
	g.put(c)
	return nil
}

// dependsOn reports whether target is a transitive input of id.
func (g *Graph) dependsOn(id, target NodeID) bool {
	seen := map[NodeID]bool{}
	stack := []NodeID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, ok := g.nodes.Get(cur)
		if !ok {
			continue
		}
		for _, e := range n.Inputs {
			if e.From.IsZero() || seen[e.From] {
				continue
			}
			if e.From == target {
				return true
			}
			seen[e.From] = true
			stack = append(stack, e.From)
		}
	}
	return false
}

func (g *Graph) consumerIndex() map[NodeID][]NodeID {
	if g.consumers != nil {
		return g.consumers
	}
	idx := make(map[NodeID][]NodeID)
	g.nodes.Scan(func(id NodeID, n *Node) bool {
		for _, e := range n.Inputs {
			if e.From.IsZero() {
				continue
			}
			users := idx[e.From]
			if len(users) == 0 || users[len(users)-1] != id {
				idx[e.From] = append(users, id)
			}
		}
		return true
	})
	g.consumers = idx
	return idx
}

// Consumers returns the nodes reading id's output directly, in ID order.
func (g *Graph) Consumers(id NodeID) []NodeID {
	return append([]NodeID(nil), g.consumerIndex()[id]...)
}

// Descendants returns every node that transitively consumes id, excluding
// id, in ID order.
func (g *Graph) Descendants(id NodeID) []NodeID {
	idx := g.consumerIndex()
	seen := map[NodeID]bool{id: true}
	queue := []NodeID{id}
	var out []NodeID
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range idx[cur] {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
				queue = append(queue, c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Ancestors returns id and every node it transitively reads from, in
// topological order.
func (g *Graph) Ancestors(id NodeID) ([]NodeID, error) {
	if _, err := g.get(id); err != nil {
		return nil, err
	}
	need := map[NodeID]bool{id: true}
	stack := []NodeID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, ok := g.nodes.Get(cur)
		if !ok {
			continue
		}
		for _, e := range n.Inputs {
			if !e.From.IsZero() && !need[e.From] {
				need[e.From] = true
				stack = append(stack, e.From)
			}
		}
	}
	order, err := g.TopoOrder()
	if err != nil {
		return nil, err
	}
	out := make([]NodeID, 0, len(need))
	for _, n := range order {
		if need[n] {
			out = append(out, n)
		}
	}
	return out, nil
}

// Sinks returns the nodes nothing consumes, in ID order.
func (g *Graph) Sinks() []NodeID {
	idx := g.consumerIndex()
	var out []NodeID
	g.nodes.Scan(func(id NodeID, _ *Node) bool {
		if len(idx[id]) == 0 {
			out = append(out, id)
		}
		return true
	})
	return out
}

// TopoOrder returns every node after all of its inputs, breaking ties by
// ascending ID. Edits keep graphs acyclic, so an error means the graph was
// assembled from an inconsistent document.
func (g *Graph) TopoOrder() ([]NodeID, error) {
	if g.order != nil {
		return append([]NodeID(nil), g.order...), nil
	}
	idx := g.consumerIndex()
	indegree := make(map[NodeID]int, g.nodes.Len())
	var ready []NodeID
	g.nodes.Scan(func(id NodeID, n *Node) bool {
		for _, e := range n.Inputs {
			if _, ok := g.nodes.Get(e.From); ok {
				indegree[id]++
			}
		}
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
		return true
	})

	order := make([]NodeID, 0, g.nodes.Len())
	for len(ready) > 0 {
		cur := ready[0]
		ready = ready[1:]
		order = append(order, cur)
		for _, c := range idx[cur] {
			// A consumer may read cur through several slots.
			cn, _ := g.nodes.Get(c)
			for _, e := range cn.Inputs {
				if e.From == cur {
					indegree[c]--
				}
			}
			if indegree[c] == 0 {
				at := sort.Search(len(ready), func(i int) bool { return ready[i] > c })
				ready = append(ready, 0)
				copy(ready[at+1:], ready[at:])
				ready[at] = c
			}
		}
	}
	if len(order) != g.nodes.Len() {
		return nil, fmt.Errorf("graph: %w: %d nodes on a cycle", geomerr.ErrCycleRejected, g.nodes.Len()-len(order))
	}
	g.order = order
	return append([]NodeID(nil), order...), nil
}
