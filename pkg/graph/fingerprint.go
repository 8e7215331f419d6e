package graph

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint identifies a node's output by content: its kind, its params
// and the fingerprints of its inputs. Equal fingerprints mean equal
// outputs.
type Fingerprint [blake2b.Size256]byte

// IsZero reports whether f is unset. Unconnected inputs contribute the
// zero fingerprint.
func (f Fingerprint) IsZero() bool { return f == Fingerprint{} }

func (f Fingerprint) String() string { return hex.EncodeToString(f[:]) }

// Short returns the first 12 hex digits, for logs.
func (f Fingerprint) Short() string { return hex.EncodeToString(f[:6]) }

// ParamBytes returns the canonical JSON encoding of p.
func ParamBytes(p Params) ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("graph: encode %s params: %w", p.Kind(), err)
	}
	return b, nil
}

// NodeFingerprint hashes the kind tag, the canonical params and the input
// fingerprints in slot order.
func NodeFingerprint(n *Node, inputs []Fingerprint) (Fingerprint, error) {
	if len(inputs) != len(n.Inputs) {
		return Fingerprint{}, fmt.Errorf("graph: fingerprint %s: want %d input fingerprints, got %d", n.ID, len(n.Inputs), len(inputs))
	}
	params, err := ParamBytes(n.Params)
	if err != nil {
		return Fingerprint{}, err
	}
	h, _ := blake2b.New256(nil)
	h.Write([]byte(n.Kind().String()))
	h.Write([]byte{0})
	h.Write(params)
	h.Write([]byte{0})
	for _, in := range inputs {
		h.Write(in[:])
	}
	var f Fingerprint
	h.Sum(f[:0])
	return f, nil
}

// Fingerprints computes the fingerprint of every node in topological order.
func (g *Graph) Fingerprints() (map[NodeID]Fingerprint, error) {
	order, err := g.TopoOrder()
	if err != nil {
		return nil, err
	}
	out := make(map[NodeID]Fingerprint, len(order))
	for _, id := range order {
		n, _ := g.nodes.Get(id)
		inputs := make([]Fingerprint, len(n.Inputs))
		for i, e := range n.Inputs {
			inputs[i] = out[e.From]
		}
		f, err := NodeFingerprint(n, inputs)
		if err != nil {
			return nil, err
		}
		out[id] = f
	}
	return out, nil
}
