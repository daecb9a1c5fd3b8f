package lsmtree

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/aalhour/lsmtree/internal/cache"
	"github.com/aalhour/lsmtree/internal/dbformat"
	"github.com/aalhour/lsmtree/internal/iterator"
	"github.com/aalhour/lsmtree/internal/mvcc"
	"github.com/aalhour/lsmtree/internal/version"
)

// Bounds restricts a range scan. A nil Lower/Upper leaves that side
// unbounded; Upper is always exclusive.
type Bounds struct {
	Lower []byte
	Upper []byte
}

// Range opens a bounded range scan as of the tree's current seqno.
func (t *Tree) Range(bounds Bounds) *Iterator {
	return t.rangeAt(bounds, dbformat.MaxSeqNo)
}

// Prefix opens a scan over every live key sharing prefix.
func (t *Tree) Prefix(prefix []byte) *Iterator {
	upper := prefixUpperBound(prefix)
	return t.Range(Bounds{Lower: prefix, Upper: upper})
}

// prefixUpperBound returns the smallest key greater than every key with
// prefix p, or nil if p is all 0xff bytes (no finite upper bound exists).
func prefixUpperBound(p []byte) []byte {
	bound := append([]byte(nil), p...)
	for i := len(bound) - 1; i >= 0; i-- {
		if bound[i] != 0xff {
			bound[i]++
			return bound[:i+1]
		}
	}
	return nil
}

// Iterator walks a bounded, MVCC-collapsed range of live entries,
// resolving Indirection values lazily as they are visited (spec §4.8's
// range scans never materialize more than the current entry's value).
type Iterator struct {
	tree    *Tree
	stream  *mvcc.Stream
	bounds  Bounds
	version *version.Version
	release []func()

	done bool
	err  error
}

func (t *Tree) rangeAt(bounds Bounds, readSeqno dbformat.SeqNo) *Iterator {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return &Iterator{err: ErrClosed}
	}

	children := make([]iterator.Iterator, 0, 4+len(t.sealed))
	children = append(children, t.active.NewIterator())
	for _, mem := range t.sealed {
		children = append(children, mem.NewIterator())
	}

	v := t.manifest.Current()
	v.Ref()

	var release []func()
	l0 := v.Tables(0)
	for i := len(l0) - 1; i >= 0; i-- {
		tm := l0[i]
		it, cleanup, err := t.openTableIteratorLocked(tm)
		if err != nil {
			t.mu.RUnlock()
			v.Unref()
			runCleanups(release)
			return &Iterator{err: fmt.Errorf("lsmtree: open l0 table %d: %w", tm.ID, err)}
		}
		children = append(children, it)
		release = append(release, cleanup)
	}

	for level := 1; level < v.NumLevels(); level++ {
		for _, tm := range overlapping(v.Tables(level), bounds) {
			it, cleanup, err := t.openTableIteratorLocked(tm)
			if err != nil {
				t.mu.RUnlock()
				v.Unref()
				runCleanups(release)
				return &Iterator{err: fmt.Errorf("lsmtree: open table %d: %w", tm.ID, err)}
			}
			children = append(children, it)
			release = append(release, cleanup)
		}
	}
	t.mu.RUnlock()

	merged := iterator.NewMerging(children)
	stream := mvcc.New(merged).WithEvictOldVersions(true).WithSnapshotSeqno(readSeqno + 1)

	it := &Iterator{tree: t, stream: stream, bounds: bounds, version: v, release: release}
	if bounds.Lower != nil {
		it.stream.Seek(bounds.Lower)
	} else {
		it.stream.SeekToFirst()
	}
	it.skipOutOfBounds()
	return it
}

// overlapping returns level's tables whose key range intersects bounds,
// honoring the level's ascending-by-KeyMin, pairwise-disjoint invariant.
func overlapping(tables []version.TableMeta, bounds Bounds) []version.TableMeta {
	lo, hi := 0, len(tables)
	if bounds.Lower != nil {
		lo = sort.Search(len(tables), func(i int) bool {
			return dbformat.UserCompare(tables[i].KeyMax, bounds.Lower) >= 0
		})
	}
	if bounds.Upper != nil {
		hi = sort.Search(len(tables), func(i int) bool {
			return dbformat.UserCompare(tables[i].KeyMin, bounds.Upper) >= 0
		})
	}
	if lo >= hi {
		return nil
	}
	return tables[lo:hi]
}

func (t *Tree) openTableIteratorLocked(tm version.TableMeta) (iterator.Iterator, func(), error) {
	gid := cache.GlobalFileID(tm.ID)
	rd, err := t.fileCache.Get(gid, version.TableFileName(t.dir, tm.ID), 0)
	if err != nil {
		return nil, nil, err
	}
	return rd.NewIterator(), func() { t.fileCache.Release(gid) }, nil
}

func runCleanups(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}

// Valid reports whether the iterator currently sits on an in-bounds entry.
func (it *Iterator) Valid() bool {
	return it.err == nil && !it.done && it.stream != nil && it.stream.Valid()
}

// Error returns the first error encountered, if any.
func (it *Iterator) Error() error {
	if it.err != nil {
		return it.err
	}
	if it.stream != nil {
		return it.stream.Error()
	}
	return nil
}

// Key returns the current entry's user key. Valid only while Valid().
func (it *Iterator) Key() []byte { return it.stream.Key().UserKey() }

// Value returns the current entry's value, resolving an Indirection
// handle through the tree's blob reader if necessary.
func (it *Iterator) Value() ([]byte, error) {
	vt := it.stream.Key().ValueType()
	return it.tree.resolveValue(vt, it.stream.Value())
}

// Next advances to the next in-bounds entry.
func (it *Iterator) Next() {
	if it.err != nil {
		return
	}
	it.stream.Next()
	it.skipOutOfBounds()
}

// skipOutOfBounds steps past tombstones (a deleted key has no live entry)
// and marks the iterator done once it reaches bounds.Upper.
func (it *Iterator) skipOutOfBounds() {
	for it.stream.Valid() && it.stream.Key().ValueType().IsTombstone() {
		it.stream.Next()
	}
	if it.bounds.Upper == nil {
		return
	}
	if it.stream.Valid() && bytes.Compare(it.stream.Key().UserKey(), it.bounds.Upper) >= 0 {
		it.done = true
	}
}

// Close releases every table reference and Version pin the scan holds.
// Must be called once iteration is done.
func (it *Iterator) Close() error {
	runCleanups(it.release)
	if it.version != nil {
		it.version.Unref()
	}
	return it.err
}
