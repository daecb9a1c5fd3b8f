package lsmtree

import (
	"fmt"
	"sort"

	"github.com/aalhour/lsmtree/internal/blob"
	"github.com/aalhour/lsmtree/internal/cache"
	"github.com/aalhour/lsmtree/internal/dbformat"
	"github.com/aalhour/lsmtree/internal/version"
)

// Get returns the current value of key, or ErrNotFound if no live entry
// exists (spec §4.8's Option<value>).
func (t *Tree) Get(key []byte) ([]byte, error) {
	return t.GetWithSeqno(key, dbformat.MaxSeqNo)
}

// GetWithSeqno returns the value visible for key as of readSeqno,
// descending active memtable -> sealed memtables (newest first) -> L0
// tables (newest first, since L0 ranges may overlap) -> level>0 tables
// (binary search, since each level's ranges are disjoint and sorted).
// The first ValueType::Value or tombstone encountered wins; no indexing
// order or later read could produce anything before that point (spec
// §4.8 invariant).
func (t *Tree) GetWithSeqno(key []byte, readSeqno dbformat.SeqNo) ([]byte, error) {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return nil, ErrClosed
	}
	if value, t2, found := t.active.Get(key, readSeqno); found {
		t.mu.RUnlock()
		if t2.IsTombstone() {
			return nil, ErrNotFound
		}
		return t.resolveValue(t2, value)
	}
	for _, mem := range t.sealed {
		if value, t2, found := mem.Get(key, readSeqno); found {
			t.mu.RUnlock()
			if t2.IsTombstone() {
				return nil, ErrNotFound
			}
			return t.resolveValue(t2, value)
		}
	}
	v := t.manifest.Current()
	v.Ref()
	t.mu.RUnlock()
	defer v.Unref()

	value, vt, found, err := t.getFromVersion(v, key, readSeqno)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return t.resolveValue(vt, value)
}

func (t *Tree) getFromVersion(v *version.Version, key []byte, readSeqno dbformat.SeqNo) ([]byte, dbformat.ValueType, bool, error) {
	l0 := v.Tables(0)
	for i := len(l0) - 1; i >= 0; i-- {
		value, vt, found, err := t.getFromTable(l0[i], key, readSeqno)
		if err != nil {
			return nil, 0, false, err
		}
		if found {
			if vt.IsTombstone() {
				return nil, 0, false, nil
			}
			return value, vt, true, nil
		}
	}

	for level := 1; level < v.NumLevels(); level++ {
		tables := v.Tables(level)
		idx := sort.Search(len(tables), func(i int) bool {
			return dbformat.UserCompare(tables[i].KeyMax, key) >= 0
		})
		if idx >= len(tables) || dbformat.UserCompare(tables[idx].KeyMin, key) > 0 {
			continue
		}
		value, vt, found, err := t.getFromTable(tables[idx], key, readSeqno)
		if err != nil {
			return nil, 0, false, err
		}
		if found {
			if vt.IsTombstone() {
				return nil, 0, false, nil
			}
			return value, vt, true, nil
		}
	}
	return nil, 0, false, nil
}

func (t *Tree) getFromTable(tm version.TableMeta, key []byte, readSeqno dbformat.SeqNo) ([]byte, dbformat.ValueType, bool, error) {
	gid := cache.GlobalFileID(tm.ID)
	rd, err := t.fileCache.Get(gid, version.TableFileName(t.dir, tm.ID), 0)
	if err != nil {
		return nil, 0, false, fmt.Errorf("lsmtree: open table %d: %w", tm.ID, err)
	}
	defer t.fileCache.Release(gid)
	return rd.Get(key, readSeqno)
}

// resolveValue dereferences an Indirection value into its blob-log bytes,
// or returns value unchanged for any other ValueType.
func (t *Tree) resolveValue(vt dbformat.ValueType, value []byte) ([]byte, error) {
	if vt != dbformat.Indirection {
		return value, nil
	}
	handle, err := blob.DecodeHandle(value)
	if err != nil {
		return nil, fmt.Errorf("lsmtree: decode blob handle: %w", err)
	}
	reader, err := t.blobReader(handle.FileID)
	if err != nil {
		return nil, err
	}
	return reader.Resolve(handle)
}

// blobReader returns a cached CachedReader for blob file id, opening it
// lazily on first access. Entries stay until dropBlobReader removes them
// after GC relocates their file (Close closes their files) — simpler than
// table.FileCache's bounded LRU, since the tree's blob-file
// count is bounded by its GC compaction policy rather than by every point
// lookup touching an unbounded number of distinct files.
func (t *Tree) blobReader(id uint64) (*blob.CachedReader, error) {
	t.blobMu.Lock()
	defer t.blobMu.Unlock()
	if r, ok := t.blobReaders[id]; ok {
		return r, nil
	}
	f, err := t.fs.OpenRandomAccess(version.BlobFileName(t.dir, id))
	if err != nil {
		return nil, fmt.Errorf("lsmtree: open blob file %d: %w", id, err)
	}
	br, err := blob.Open(f, f.Size())
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("lsmtree: open blob reader %d: %w", id, err)
	}
	cr := blob.NewCachedReader(br, cache.GlobalFileID(id), t.blobCache)
	t.blobFiles[id] = f
	t.blobReaders[id] = cr
	return cr, nil
}
