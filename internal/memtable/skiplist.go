// Package memtable implements the engine's in-memory sorted write buffer:
// a lock-free-read skip list keyed by internal key, wrapped in a Memtable
// that tracks approximate memory usage for flush-threshold decisions.
package memtable

import (
	"math/rand"
	"sync/atomic"

	"github.com/aalhour/lsmtree/internal/dbformat"
)

const (
	// DefaultMaxHeight bounds the tallest possible skip-list tower.
	DefaultMaxHeight = 12

	// DefaultBranchingFactor: on average 1/branchingFactor of nodes are
	// promoted to the next level up.
	DefaultBranchingFactor = 4
)

// node is a skip-list tower. Keys are never mutated or removed once
// inserted — readers only ever walk forward pointers that were visible at
// some point in the past, so lookups need no locking.
type node struct {
	key   dbformat.InternalKey
	value []byte
	next  []atomic.Pointer[node]
}

func newNode(key dbformat.InternalKey, value []byte, height int) *node {
	return &node{key: key, value: value, next: make([]atomic.Pointer[node], height)}
}

func (n *node) getNext(level int) *node   { return n.next[level].Load() }
func (n *node) setNext(level int, v *node) { n.next[level].Store(v) }

// SkipList is a concurrent-read, externally-synchronized-write ordered
// map from dbformat.InternalKey to a value payload (a literal value or an
// encoded blob handle, per the entry's ValueType).
type SkipList struct {
	head      *node
	maxHeight atomic.Int32
	rng       *rand.Rand

	maxH       int
	branching  int
	scaledInvB uint32

	count atomic.Int64
}

// NewSkipList creates an empty SkipList using dbformat.Compare ordering.
func NewSkipList() *SkipList {
	return NewSkipListWithParams(DefaultMaxHeight, DefaultBranchingFactor)
}

func NewSkipListWithParams(maxHeight, branchingFactor int) *SkipList {
	if maxHeight <= 0 {
		maxHeight = DefaultMaxHeight
	}
	if branchingFactor <= 0 {
		branchingFactor = DefaultBranchingFactor
	}
	sl := &SkipList{
		head:       newNode(nil, nil, maxHeight),
		rng:        rand.New(rand.NewSource(rand.Int63())),
		maxH:       maxHeight,
		branching:  branchingFactor,
		scaledInvB: uint32(0xFFFFFFFF) / uint32(branchingFactor),
	}
	sl.maxHeight.Store(1)
	return sl
}

// Insert adds (key, value). REQUIRES external synchronization against
// concurrent writers, and that key is not already present.
func (sl *SkipList) Insert(key dbformat.InternalKey, value []byte) {
	prev := make([]*node, sl.maxH)
	sl.findGreaterOrEqual(key, prev)

	height := sl.randomHeight()
	maxH := int(sl.maxHeight.Load())
	if height > maxH {
		for i := maxH; i < height; i++ {
			prev[i] = sl.head
		}
		sl.maxHeight.Store(int32(height))
	}

	n := newNode(key, value, height)
	for i := 0; i < height; i++ {
		n.setNext(i, prev[i].getNext(i))
		prev[i].setNext(i, n)
	}
	sl.count.Add(1)
}

// Count returns the number of entries ever inserted.
func (sl *SkipList) Count() int64 { return sl.count.Load() }

func (sl *SkipList) findGreaterOrEqual(key []byte, prev []*node) *node {
	x := sl.head
	level := int(sl.maxHeight.Load()) - 1
	for {
		next := x.getNext(level)
		if next != nil && dbformat.Compare(next.key, key) < 0 {
			x = next
			continue
		}
		if prev != nil {
			prev[level] = x
		}
		if level == 0 {
			return next
		}
		level--
	}
}

// findLessThan returns the last node strictly less than key, or nil if
// none exists. The skip list has no back-pointers, so a reverse step
// walks forward from head again (O(log n), same as findGreaterOrEqual).
func (sl *SkipList) findLessThan(key []byte) *node {
	x := sl.head
	level := int(sl.maxHeight.Load()) - 1
	for {
		next := x.getNext(level)
		if next != nil && dbformat.Compare(next.key, key) < 0 {
			x = next
			continue
		}
		if level == 0 {
			if x == sl.head {
				return nil
			}
			return x
		}
		level--
	}
}

func (sl *SkipList) findLast() *node {
	x := sl.head
	level := int(sl.maxHeight.Load()) - 1
	for {
		next := x.getNext(level)
		if next != nil {
			x = next
			continue
		}
		if level == 0 {
			if x == sl.head {
				return nil
			}
			return x
		}
		level--
	}
}

func (sl *SkipList) randomHeight() int {
	h := 1
	for h < sl.maxH && sl.rng.Uint32() < sl.scaledInvB {
		h++
	}
	return h
}

// Iterator walks a SkipList forward. It never observes entries inserted
// after it was created reaching positions it has already passed, but may
// observe new entries ahead of its current position (standard lock-free
// skip-list semantics).
type Iterator struct {
	list *SkipList
	n    *node
}

func (sl *SkipList) NewIterator() *Iterator { return &Iterator{list: sl} }

func (it *Iterator) Valid() bool                 { return it.n != nil }
func (it *Iterator) Key() dbformat.InternalKey   { return it.n.key }
func (it *Iterator) Value() []byte               { return it.n.value }
func (it *Iterator) Next()                       { it.n = it.n.getNext(0) }
func (it *Iterator) Seek(target []byte)          { it.n = it.list.findGreaterOrEqual(target, nil) }
func (it *Iterator) SeekToFirst()                { it.n = it.list.head.getNext(0) }
func (it *Iterator) SeekToLast()                 { it.n = it.list.findLast() }

// Prev steps backward. REQUIRES Valid() to be true; the skip list has no
// back-pointers so this re-walks from head, same cost as a fresh Seek.
func (it *Iterator) Prev() {
	if it.n == nil {
		return
	}
	it.n = it.list.findLessThan(it.n.key)
}

// Error always returns nil: a skip list has no I/O and cannot fail.
func (it *Iterator) Error() error { return nil }
