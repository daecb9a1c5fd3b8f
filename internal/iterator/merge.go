package iterator

import (
	"container/heap"

	"github.com/aalhour/lsmtree/internal/dbformat"
)

// Merging fans multiple sorted Iterators into one sorted stream using a
// heap keyed on (key, source index). Children are given in newest-first
// order (index 0 = newest source); when two children yield equal keys the
// lower index wins the tie, since the caller always wants the newest
// version to sort first.
//
// Errors propagate as soon as the erroring child becomes the
// next-to-yield source, not the instant the error occurs in some other
// child — a child that is behind in the merge order may never surface its
// error if a result is never read from it.
type Merging struct {
	children []Iterator
	heap     mergeHeap
	dir      direction
	curIdx   int
	curKey   dbformat.InternalKey
	err      error
}

type direction uint8

const (
	dirNone direction = iota
	dirForward
	dirBackward
)

type heapEntry struct {
	idx int
	key dbformat.InternalKey
}

// mergeHeap implements container/heap.Interface. reverse flips the
// ordering to make it a max-heap for backward iteration.
type mergeHeap struct {
	items   []heapEntry
	reverse bool
}

func (h *mergeHeap) Len() int { return len(h.items) }
func (h *mergeHeap) Less(i, j int) bool {
	c := dbformat.Compare(h.items[i].key, h.items[j].key)
	if c == 0 {
		// Lower source index is newer and wins the tie in both
		// directions: forward iteration yields it first, and backward
		// iteration must mirror the same tie-break so switching
		// direction at an equal-key boundary is well-defined.
		return h.items[i].idx < h.items[j].idx
	}
	if h.reverse {
		return c > 0
	}
	return c < 0
}
func (h *mergeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *mergeHeap) Push(x any)    { h.items = append(h.items, x.(heapEntry)) }
func (h *mergeHeap) Pop() any {
	old := h.items
	n := len(old)
	e := old[n-1]
	h.items = old[:n-1]
	return e
}

// NewMerging creates a Merging iterator over children, given newest-first.
func NewMerging(children []Iterator) *Merging {
	return &Merging{children: children, curIdx: -1}
}

func (m *Merging) Valid() bool               { return m.curIdx >= 0 && m.err == nil }
func (m *Merging) Key() dbformat.InternalKey { return m.curKey }
func (m *Merging) Value() []byte {
	if !m.Valid() {
		return nil
	}
	return m.children[m.curIdx].Value()
}
func (m *Merging) Error() error { return m.err }

func (m *Merging) SeekToFirst() {
	m.err = nil
	m.heap.items = m.heap.items[:0]
	m.heap.reverse = false
	for i, c := range m.children {
		c.SeekToFirst()
		m.pushIfValid(i, c)
	}
	heap.Init(&m.heap)
	m.dir = dirForward
	m.advanceHeapTop()
}

func (m *Merging) SeekToLast() {
	m.err = nil
	m.heap.items = m.heap.items[:0]
	m.heap.reverse = true
	for i, c := range m.children {
		c.SeekToLast()
		m.pushIfValid(i, c)
	}
	heap.Init(&m.heap)
	m.dir = dirBackward
	m.advanceHeapTop()
}

func (m *Merging) Seek(target []byte) {
	m.err = nil
	m.heap.items = m.heap.items[:0]
	m.heap.reverse = false
	for i, c := range m.children {
		c.Seek(target)
		m.pushIfValid(i, c)
	}
	heap.Init(&m.heap)
	m.dir = dirForward
	m.advanceHeapTop()
}

func (m *Merging) Next() {
	if !m.Valid() {
		return
	}
	if m.dir != dirForward {
		m.switchDirection(dirForward)
		if !m.Valid() {
			return
		}
	}

	c := m.children[m.curIdx]
	c.Next()
	if c.Valid() {
		m.heap.items[0].key = c.Key()
		heap.Fix(&m.heap, 0)
	} else {
		heap.Pop(&m.heap)
	}
	if err := c.Error(); err != nil {
		m.err = err
		m.curIdx = -1
		return
	}
	m.advanceHeapTop()
}

func (m *Merging) Prev() {
	if !m.Valid() {
		return
	}
	if m.dir != dirBackward {
		m.switchDirection(dirBackward)
		if !m.Valid() {
			return
		}
	}

	c := m.children[m.curIdx]
	c.Prev()
	if c.Valid() {
		m.heap.items[0].key = c.Key()
		heap.Fix(&m.heap, 0)
	} else {
		heap.Pop(&m.heap)
	}
	if err := c.Error(); err != nil {
		m.err = err
		m.curIdx = -1
		return
	}
	m.advanceHeapTop()
}

// switchDirection re-synchronizes every child to its position relative to
// the last-yielded (curKey, curIdx) boundary for the new direction, then
// rebuilds the heap. This is the "ping-pong" transition: a child that was
// behind the boundary in the old direction must be advanced past it (or
// retreated to just before it) before it can rejoin the merge.
func (m *Merging) switchDirection(newDir direction) {
	boundaryKey := append(dbformat.InternalKey(nil), m.curKey...)
	boundaryIdx := m.curIdx

	m.heap.items = m.heap.items[:0]
	m.heap.reverse = newDir == dirBackward

	for i, c := range m.children {
		if i == boundaryIdx {
			// Already positioned exactly at the boundary; it stays put
			// and simply rejoins the heap for the new direction.
			m.pushIfValid(i, c)
			continue
		}

		if newDir == dirForward {
			c.Seek(boundaryKey)
			// Seek lands at the first key >= boundary. If it landed
			// exactly on the boundary key, a lower source index sorts
			// before the boundary in forward order and must be skipped
			// past (it was already yielded, in a prior pass, by
			// definition of the merge order); a higher index sorts
			// after and is correctly positioned already.
			if c.Valid() && dbformat.Compare(c.Key(), boundaryKey) == 0 && i < boundaryIdx {
				c.Next()
			}
		} else {
			c.Seek(boundaryKey)
			if !c.Valid() {
				c.SeekToLast()
			} else if dbformat.Compare(c.Key(), boundaryKey) > 0 || (dbformat.Compare(c.Key(), boundaryKey) == 0 && i < boundaryIdx) {
				c.Prev()
			}
		}
		if err := c.Error(); err != nil {
			m.err = err
			m.curIdx = -1
			return
		}
		m.pushIfValid(i, c)
	}

	heap.Init(&m.heap)
	m.dir = newDir
}

func (m *Merging) pushIfValid(idx int, c Iterator) {
	if c.Valid() {
		heap.Push(&m.heap, heapEntry{idx: idx, key: c.Key()})
	}
	if err := c.Error(); err != nil && m.err == nil {
		m.err = err
	}
}

func (m *Merging) advanceHeapTop() {
	if m.err != nil || m.heap.Len() == 0 {
		m.curIdx = -1
		return
	}
	top := m.heap.items[0]
	m.curIdx = top.idx
	m.curKey = top.key
}
