package graph

import (
	"testing"

	"github.com/chazu/voxgraph/pkg/kernel"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestFingerprintStable(t *testing.T) {
	g1, _, _, r1 := chain(t)
	g2, _, _, r2 := chain(t)
	f1, err := g1.Fingerprints()
	if err != nil {
		t.Fatal(err)
	}
	f2, err := g2.Fingerprints()
	if err != nil {
		t.Fatal(err)
	}
	if f1[r1] != f2[r2] || f1[r1].IsZero() {
		t.Errorf("identical graphs fingerprint differently: %s vs %s", f1[r1], f2[r2])
	}
	if len(f1[r1].String()) != 64 || len(f1[r1].Short()) != 12 {
		t.Errorf("hex forms %q / %q", f1[r1], f1[r1].Short())
	}
}

func TestFingerprintTracksUpstreamOnly(t *testing.T) {
	g, box, move, remesh := chain(t)
	before, _ := g.Fingerprints()

	if err := g.SetParams(move, TransformParams{Translate: r3.Vec{X: 2}}); err != nil {
		t.Fatal(err)
	}
	after, _ := g.Fingerprints()

	if before[box] != after[box] {
		t.Error("upstream fingerprint changed")
	}
	if before[move] == after[move] {
		t.Error("edited node fingerprint unchanged")
	}
	if before[remesh] == after[remesh] {
		t.Error("downstream fingerprint unchanged")
	}
}

func TestFingerprintNamesDoNotMatter(t *testing.T) {
	g, box, _, remesh := chain(t)
	before, _ := g.Fingerprints()
	if err := g.SetName(box, "renamed"); err != nil {
		t.Fatal(err)
	}
	after, _ := g.Fingerprints()
	if before[remesh] != after[remesh] {
		t.Error("renaming changed a fingerprint")
	}
}

func TestFingerprintSlotOrder(t *testing.T) {
	g := New()
	a := mustAdd(t, g, "", unitBox())
	b := mustAdd(t, g, "", SphereParams{Radius: 1})
	ab := mustAdd(t, g, "", BooleanParams{Op: kernel.Difference})
	ba := mustAdd(t, g, "", BooleanParams{Op: kernel.Difference})
	mustConnect(t, g, a, ab, 0)
	mustConnect(t, g, b, ab, 1)
	mustConnect(t, g, b, ba, 0)
	mustConnect(t, g, a, ba, 1)
	fps, err := g.Fingerprints()
	if err != nil {
		t.Fatal(err)
	}
	if fps[ab] == fps[ba] {
		t.Error("swapped inputs share a fingerprint")
	}
}

func TestFingerprintKindTag(t *testing.T) {
	flip := &Node{ID: 1, Params: FlipParams{}, Inputs: make([]Edge, 1)}
	sync := &Node{ID: 1, Params: SyncWindingParams{}, Inputs: make([]Edge, 1)}
	in := []Fingerprint{{}}
	f1, err := NodeFingerprint(flip, in)
	if err != nil {
		t.Fatal(err)
	}
	f2, err := NodeFingerprint(sync, in)
	if err != nil {
		t.Fatal(err)
	}
	if f1 == f2 {
		t.Error("kinds with identical params share a fingerprint")
	}
	if _, err := NodeFingerprint(flip, nil); err == nil {
		t.Error("wrong input count accepted")
	}
}
