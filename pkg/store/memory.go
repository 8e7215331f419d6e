package store

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"github.com/chazu/voxgraph/pkg/graph"
	"github.com/chazu/voxgraph/pkg/ops"
)

const (
	// shardCount must be a power of two.
	shardCount = 8
	shardMask  = shardCount - 1

	// DefaultMemoryBudget is the default byte budget of a Memory store.
	DefaultMemoryBudget = 512 << 20
)

// Memory is a sharded, byte-bounded LRU of node results. Fingerprints are
// uniformly distributed, so the first byte picks the shard.
type Memory struct {
	shards [shardCount]*memoryShard

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type memoryShard struct {
	mu      sync.Mutex
	entries map[graph.Fingerprint]*list.Element
	lru     *list.List // front is most recent
	bytes   int
	budget  int
}

type memoryEntry struct {
	key   graph.Fingerprint
	value ops.Value
	size  int
}

var _ Store = (*Memory)(nil)

// NewMemory returns a store holding at most budget bytes of results. A
// non-positive budget selects DefaultMemoryBudget.
func NewMemory(budget int) *Memory {
	if budget <= 0 {
		budget = DefaultMemoryBudget
	}
	m := &Memory{}
	for i := range m.shards {
		m.shards[i] = &memoryShard{
			entries: make(map[graph.Fingerprint]*list.Element),
			lru:     list.New(),
			budget:  budget / shardCount,
		}
	}
	return m
}

func (m *Memory) shard(key graph.Fingerprint) *memoryShard {
	return m.shards[key[0]&shardMask]
}

// Get returns the value stored under key.
func (m *Memory) Get(_ context.Context, key graph.Fingerprint) (ops.Value, bool, error) {
	s := m.shard(key)
	s.mu.Lock()
	el, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		m.misses.Add(1)
		return ops.Value{}, false, nil
	}
	s.lru.MoveToFront(el)
	v := el.Value.(*memoryEntry).value
	s.mu.Unlock()
	m.hits.Add(1)
	return v, true, nil
}

// Put stores v under key, evicting least recently used entries to stay
// within budget. Values larger than a shard's budget are not kept.
func (m *Memory) Put(_ context.Context, key graph.Fingerprint, v ops.Value) error {
	size := Size(v)
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		e := el.Value.(*memoryEntry)
		s.bytes += size - e.size
		e.value, e.size = v, size
		s.lru.MoveToFront(el)
	} else {
		if size > s.budget {
			return nil
		}
		s.entries[key] = s.lru.PushFront(&memoryEntry{key: key, value: v, size: size})
		s.bytes += size
	}
	for s.bytes > s.budget && s.lru.Len() > 1 {
		oldest := s.lru.Back()
		e := oldest.Value.(*memoryEntry)
		s.lru.Remove(oldest)
		delete(s.entries, e.key)
		s.bytes -= e.size
		m.evictions.Add(1)
	}
	return nil
}

// Delete drops key.
func (m *Memory) Delete(key graph.Fingerprint) bool {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.entries[key]
	if !ok {
		return false
	}
	s.bytes -= el.Value.(*memoryEntry).size
	s.lru.Remove(el)
	delete(s.entries, key)
	return true
}

// Len returns the number of stored results.
func (m *Memory) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Bytes returns the estimated footprint of the stored results.
func (m *Memory) Bytes() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += s.bytes
		s.mu.Unlock()
	}
	return n
}

// Stats returns hit, miss and eviction counts.
func (m *Memory) Stats() Stats {
	return Stats{
		Hits:      m.hits.Load(),
		Misses:    m.misses.Load(),
		Evictions: m.evictions.Load(),
		Entries:   m.Len(),
		Bytes:     m.Bytes(),
	}
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
