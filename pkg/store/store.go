// Package store keeps node results addressed by their fingerprints, so an
// unchanged subgraph is never computed twice: not within one executor, and
// with a disk tier not across runs either.
//
// Stored values are shared and must be treated as immutable.
package store

import (
	"context"
	"log/slog"

	"github.com/chazu/voxgraph/pkg/graph"
	"github.com/chazu/voxgraph/pkg/logging"
	"github.com/chazu/voxgraph/pkg/ops"
)

// Store maps fingerprints to node results.
type Store interface {
	// Get returns the value for key. A miss is (zero, false, nil).
	Get(ctx context.Context, key graph.Fingerprint) (ops.Value, bool, error)
	Put(ctx context.Context, key graph.Fingerprint, v ops.Value) error
	Close() error
}

// Stats is a snapshot of store counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Entries   int
	Bytes     int
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Tiered fronts a slower store with a Memory tier. Disk hits are promoted
// into memory; writes go to both tiers. A failing disk tier degrades to a
// miss rather than failing the evaluation.
type Tiered struct {
	Memory *Memory
	Disk   Store
	logger *slog.Logger
}

var _ Store = (*Tiered)(nil)

// NewTiered layers mem over disk. disk may be nil.
func NewTiered(mem *Memory, disk Store, logger *slog.Logger) *Tiered {
	return &Tiered{Memory: mem, Disk: disk, logger: logger}
}

func (t *Tiered) log() *slog.Logger { return logging.Or(t.logger) }

// Get checks memory, then disk.
func (t *Tiered) Get(ctx context.Context, key graph.Fingerprint) (ops.Value, bool, error) {
	if v, ok, _ := t.Memory.Get(ctx, key); ok {
		return v, true, nil
	}
	if t.Disk == nil {
		return ops.Value{}, false, nil
	}
	v, ok, err := t.Disk.Get(ctx, key)
	if err != nil {
		t.log().Warn("store: disk read failed", "key", key.Short(), "error", err)
		return ops.Value{}, false, nil
	}
	if ok {
		_ = t.Memory.Put(ctx, key, v)
	}
	return v, ok, nil
}

// Put writes v to both tiers.
func (t *Tiered) Put(ctx context.Context, key graph.Fingerprint, v ops.Value) error {
	_ = t.Memory.Put(ctx, key, v)
	if t.Disk == nil {
		return nil
	}
	if err := t.Disk.Put(ctx, key, v); err != nil {
		t.log().Warn("store: disk write failed", "key", key.Short(), "error", err)
	}
	return nil
}

// Close closes the disk tier.
func (t *Tiered) Close() error {
	if t.Disk == nil {
		return nil
	}
	return t.Disk.Close()
}
