package graph

import (
	"bytes"
	"fmt"
	"io"

	"github.com/chazu/voxgraph/pkg/geomerr"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Document is the persisted form of a graph: node ids, names, kinds,
// params and input edges. Loading a document reproduces the ids and
// therefore the fingerprints of the saved graph. NextID keeps ids of
// removed nodes from being handed out again after a reload.
type Document struct {
	ID     string         `yaml:"id"`
	NextID NodeID         `yaml:"next_id,omitempty"`
	Nodes  []DocumentNode `yaml:"nodes"`
}

// DocumentNode is one node of a Document. Inputs holds one source id per
// input slot, 0 for unconnected slots.
type DocumentNode struct {
	ID     NodeID    `yaml:"id"`
	Name   string    `yaml:"name,omitempty"`
	Kind   string    `yaml:"kind"`
	Params yaml.Node `yaml:"params,omitempty"`
	Inputs []NodeID  `yaml:"inputs,flow,omitempty"`
}

// NewDocument captures g under document id. A zero id is replaced with a
// fresh random one.
func NewDocument(g *Graph, id uuid.UUID) (*Document, error) {
	if id == uuid.Nil {
		id = uuid.New()
	}
	doc := &Document{ID: id.String(), NextID: g.NextID()}
	for _, n := range g.Nodes() {
		dn := DocumentNode{ID: n.ID, Name: n.Name, Kind: n.Kind().String()}
		if err := dn.Params.Encode(n.Params); err != nil {
			return nil, fmt.Errorf("graph: encode %s: %w", n.Label(), err)
		}
		for _, e := range n.Inputs {
			dn.Inputs = append(dn.Inputs, e.From)
		}
		doc.Nodes = append(doc.Nodes, dn)
	}
	return doc, nil
}

// DocumentID parses the document's uuid.
func (d *Document) DocumentID() (uuid.UUID, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("graph: document id: %w", geomerr.Invalidf("%v", err))
	}
	return id, nil
}

// Graph rebuilds the graph. Every params value is validated and every edge
// is checked for existence and type; cycles are rejected.
func (d *Document) Graph() (*Graph, error) {
	g := New()
	for _, dn := range d.Nodes {
		kind, ok := ParseKind(dn.Kind)
		if !ok {
			return nil, fmt.Errorf("graph: node %s: %w", dn.ID, geomerr.Invalidf("unknown kind %q", dn.Kind))
		}
		decode := func(any) error { return nil }
		if dn.Params.Kind != 0 {
			decode = dn.Params.Decode
		}
		p, err := decodeParams(kind, decode)
		if err != nil {
			return nil, fmt.Errorf("graph: node %s: %w", dn.ID, err)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("graph: node %s: %w", dn.ID, err)
		}
		slots := len(SignatureOf(kind).Inputs)
		if len(dn.Inputs) > slots {
			return nil, fmt.Errorf("graph: node %s: %w", dn.ID, geomerr.Invalidf("%s takes %d inputs, document lists %d", kind, slots, len(dn.Inputs)))
		}
		n := &Node{ID: dn.ID, Name: dn.Name, Params: p, Inputs: make([]Edge, slots)}
		for i, from := range dn.Inputs {
			n.Inputs[i] = Edge{From: from}
		}
		if err := g.insert(n); err != nil {
			return nil, err
		}
	}

	for _, n := range g.Nodes() {
		sig := SignatureOf(n.Kind())
		for slot, e := range n.Inputs {
			if e.From.IsZero() {
				continue
			}
			src, ok := g.Node(e.From)
			if !ok {
				return nil, fmt.Errorf("graph: node %s input %d: %w: %s", n.ID, slot, ErrNodeNotFound, e.From)
			}
			if out := SignatureOf(src.Kind()).Output; out != sig.Inputs[slot] {
				return nil, fmt.Errorf("graph: node %s input %d: %w: %s into %s", n.ID, slot, geomerr.ErrTypeMismatch, out, sig.Inputs[slot])
			}
		}
	}
	if _, err := g.TopoOrder(); err != nil {
		return nil, err
	}
	if d.NextID > g.nextID {
		g.nextID = d.NextID
	}
	return g, nil
}

// Encode writes d as YAML.
func (d *Document) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("graph: write document: %w", err)
	}
	return enc.Close()
}

// ReadDocument parses a YAML document.
func ReadDocument(r io.Reader) (*Document, error) {
	var d Document
	if err := yaml.NewDecoder(r).Decode(&d); err != nil {
		return nil, fmt.Errorf("graph: read document: %w", geomerr.Invalidf("%v", err))
	}
	if _, err := d.DocumentID(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Marshal is NewDocument followed by Encode.
func Marshal(g *Graph, id uuid.UUID) ([]byte, error) {
	doc, err := NewDocument(g, id)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := doc.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal is ReadDocument followed by Graph.
func Unmarshal(data []byte) (*Graph, uuid.UUID, error) {
	doc, err := ReadDocument(bytes.NewReader(data))
	if err != nil {
		return nil, uuid.Nil, err
	}
	g, err := doc.Graph()
	if err != nil {
		return nil, uuid.Nil, err
	}
	id, _ := doc.DocumentID()
	return g, id, nil
}
