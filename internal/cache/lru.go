// Package cache provides the sharded LRU cache the engine keeps in front
// of disk for parsed table blocks and de-indirected blob values, plus the
// file-id key types. Open table files are cached separately by
// table.FileCache, which does not use this LRU core.
package cache

import (
	"container/list"
	"sync"
)

// Cache is the interface every LRU variant in this package satisfies.
type Cache[K comparable, V any] interface {
	Insert(key K, value V, charge uint64) *Handle[V]
	Lookup(key K) *Handle[V]
	Release(h *Handle[V])
	Erase(key K)
	SetCapacity(capacity uint64)
	Capacity() uint64
	Usage() uint64
	OccupancyCount() int
}

// Handle is a pinned reference to a cached value. Callers must Release it
// once done; an entry is only evicted once its reference count is zero.
type Handle[V any] struct {
	key     any
	value   V
	charge  uint64
	refs    int32
	deleted bool
}

func (h *Handle[V]) Value() V { return h.value }

// LRU is a thread-safe, single-shard LRU cache over an arbitrary key/value
// type, keyed and evicted by reference-counted charge.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	capacity uint64
	usage    uint64
	table    map[K]*list.Element
	order    *list.List

	hits, misses uint64
}

type entry[K comparable, V any] struct {
	key    K
	handle *Handle[V]
}

// NewLRU creates a single-shard LRU cache with the given byte capacity.
func NewLRU[K comparable, V any](capacity uint64) *LRU[K, V] {
	return &LRU[K, V]{
		capacity: capacity,
		table:    make(map[K]*list.Element),
		order:    list.New(),
	}
}

func (c *LRU[K, V]) Insert(key K, value V, charge uint64) *Handle[V] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.table[key]; ok {
		e := elem.Value.(*entry[K, V])
		c.usage -= e.handle.charge
		e.handle.value = value
		e.handle.charge = charge
		c.usage += charge
		c.order.MoveToFront(elem)
		e.handle.refs++
		return e.handle
	}

	h := &Handle[V]{key: key, value: value, charge: charge, refs: 1}
	for c.usage+charge > c.capacity && c.order.Len() > 0 {
		if !c.evictOneLocked() {
			break
		}
	}
	elem := c.order.PushFront(&entry[K, V]{key: key, handle: h})
	c.table[key] = elem
	c.usage += charge
	return h
}

func (c *LRU[K, V]) Lookup(key K) *Handle[V] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.table[key]; ok {
		e := elem.Value.(*entry[K, V])
		if !e.handle.deleted {
			c.order.MoveToFront(elem)
			e.handle.refs++
			c.hits++
			return e.handle
		}
	}
	c.misses++
	return nil
}

func (c *LRU[K, V]) Release(h *Handle[V]) {
	if h == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	h.refs--
	if h.refs == 0 && h.deleted {
		c.removeKeyLocked(h.key.(K))
	}
}

func (c *LRU[K, V]) Erase(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.table[key]; ok {
		e := elem.Value.(*entry[K, V])
		e.handle.deleted = true
		if e.handle.refs == 0 {
			c.removeElemLocked(elem)
		}
	}
}

func (c *LRU[K, V]) SetCapacity(capacity uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capacity = capacity
	for c.usage > c.capacity && c.order.Len() > 0 {
		if !c.evictOneLocked() {
			break
		}
	}
}

func (c *LRU[K, V]) Capacity() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacity
}

func (c *LRU[K, V]) Usage() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

func (c *LRU[K, V]) OccupancyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.table)
}

// HitRate returns the running hit ratio across this shard's lifetime.
func (c *LRU[K, V]) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

// evictOneLocked evicts the least-recently-used unpinned entry. Reports
// whether anything was evicted, so callers stop looping once every
// remaining entry is pinned.
func (c *LRU[K, V]) evictOneLocked() bool {
	for e := c.order.Back(); e != nil; e = e.Prev() {
		ent := e.Value.(*entry[K, V])
		if ent.handle.refs == 0 && !ent.handle.deleted {
			c.removeElemLocked(e)
			return true
		}
	}
	return false
}

func (c *LRU[K, V]) removeElemLocked(elem *list.Element) {
	e := elem.Value.(*entry[K, V])
	delete(c.table, e.key)
	c.order.Remove(elem)
	c.usage -= e.handle.charge
}

func (c *LRU[K, V]) removeKeyLocked(key K) {
	if elem, ok := c.table[key]; ok {
		c.removeElemLocked(elem)
	}
}

// Sharded spreads entries across a power-of-two number of independent LRU
// shards, keyed by a caller-supplied hash of K, to cut lock contention
// under concurrent point reads.
type Sharded[K comparable, V any] struct {
	shards  []*LRU[K, V]
	mask    uint64
	hashKey func(K) uint64
}

// NewSharded creates a Sharded cache with numShards (rounded up to a power
// of two) independent shards sharing capacity evenly.
func NewSharded[K comparable, V any](capacity uint64, numShards int, hashKey func(K) uint64) *Sharded[K, V] {
	if numShards <= 0 {
		numShards = 16
	}
	numShards = nextPow2(numShards)
	perShard := capacity / uint64(numShards)
	if perShard == 0 {
		perShard = 1
	}
	s := &Sharded[K, V]{
		shards:  make([]*LRU[K, V], numShards),
		mask:    uint64(numShards - 1),
		hashKey: hashKey,
	}
	for i := range s.shards {
		s.shards[i] = NewLRU[K, V](perShard)
	}
	return s
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (s *Sharded[K, V]) shard(key K) *LRU[K, V] {
	return s.shards[s.hashKey(key)&s.mask]
}

func (s *Sharded[K, V]) Insert(key K, value V, charge uint64) *Handle[V] {
	return s.shard(key).Insert(key, value, charge)
}

func (s *Sharded[K, V]) Lookup(key K) *Handle[V] { return s.shard(key).Lookup(key) }

func (s *Sharded[K, V]) Release(h *Handle[V]) {
	if h == nil {
		return
	}
	s.shard(h.key.(K)).Release(h)
}

func (s *Sharded[K, V]) Erase(key K) { s.shard(key).Erase(key) }

func (s *Sharded[K, V]) SetCapacity(capacity uint64) {
	perShard := capacity / uint64(len(s.shards))
	if perShard == 0 {
		perShard = 1
	}
	for _, sh := range s.shards {
		sh.SetCapacity(perShard)
	}
}

func (s *Sharded[K, V]) Capacity() uint64 {
	var total uint64
	for _, sh := range s.shards {
		total += sh.Capacity()
	}
	return total
}

func (s *Sharded[K, V]) Usage() uint64 {
	var total uint64
	for _, sh := range s.shards {
		total += sh.Usage()
	}
	return total
}

func (s *Sharded[K, V]) OccupancyCount() int {
	var total int
	for _, sh := range s.shards {
		total += sh.OccupancyCount()
	}
	return total
}
