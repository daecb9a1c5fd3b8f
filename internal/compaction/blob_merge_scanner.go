package compaction

import (
	"container/heap"
	"errors"

	"github.com/aalhour/lsmtree/internal/blob"
	"github.com/aalhour/lsmtree/internal/dbformat"
)

// ErrBlobScannerMiss is returned by RelocatingCompaction when an
// Indirection entry claims to point at a blob file under relocation but
// no scanner positioned on that file ever produces a matching
// (key, blob_file_id, offset) record. It is a hard error, not a
// best-effort skip (SPEC_FULL §C.3): a miss means the tree's blob-file
// inventory and its indirection entries have already diverged, and
// papering over it would silently drop a value.
var ErrBlobScannerMiss = errors.New("compaction: blob merge scanner missed a relocated handle")

// blobScannerEntry tracks one open blob.Scanner positioned on its current
// record, keyed by the originating file so the merge can resolve ties.
type blobScannerEntry struct {
	fileID  uint64
	scanner *blob.Scanner
}

// blobMergeScannerHeap orders live scanners by (key, fileID, offset),
// matching the ordering original_source's RelocatingCompaction::write
// relies on to find the record behind a specific Indirection handle.
type blobMergeScannerHeap []*blobScannerEntry

func (h blobMergeScannerHeap) Len() int { return len(h) }
func (h blobMergeScannerHeap) Less(i, j int) bool {
	a, b := h[i].scanner, h[j].scanner
	if c := dbformat.UserCompare(a.Key(), b.Key()); c != 0 {
		return c < 0
	}
	if h[i].fileID != h[j].fileID {
		return h[i].fileID < h[j].fileID
	}
	return a.Offset() < b.Offset()
}
func (h blobMergeScannerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *blobMergeScannerHeap) Push(x any)        { *h = append(*h, x.(*blobScannerEntry)) }
func (h *blobMergeScannerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// BlobFileMergeScanner k-way merges every blob.Scanner feeding it (one
// per blob file being relocated) into one (key, file, offset)-ascending
// stream, so RelocatingCompaction can walk it in lockstep with the
// Indirection handles it encounters and find each handle's matching
// surviving record (grounded on original_source/src/compaction/flavour.rs's
// RelocatingCompaction::write, which drives an analogous sorted merge of
// per-blob-file iterators keyed the same way).
type BlobFileMergeScanner struct {
	h   blobMergeScannerHeap
	cur *blobScannerEntry
	err error
}

// NewBlobFileMergeScanner wraps one blob.Scanner per relocated file,
// already primed to their first record via Next.
func NewBlobFileMergeScanner(scanners map[uint64]*blob.Scanner) *BlobFileMergeScanner {
	m := &BlobFileMergeScanner{}
	for fileID, s := range scanners {
		if s.Next() {
			heap.Push(&m.h, &blobScannerEntry{fileID: fileID, scanner: s})
		} else if err := s.Err(); err != nil {
			m.err = err
		}
	}
	heap.Init(&m.h)
	return m
}

func (m *BlobFileMergeScanner) Err() error { return m.err }

// Seek advances the merge until it reaches an entry at or past
// (key, fileID, offset), matching file/offset ties by the same ordering
// the heap uses. It returns false if no such entry exists (the relocated
// handle has no surviving record in any of the merge's scanners).
func (m *BlobFileMergeScanner) Seek(key []byte, fileID uint64, offset int64) bool {
	for m.h.Len() > 0 {
		top := m.h[0]
		if !m.before(top, key, fileID, offset) {
			m.cur = top
			return true
		}
		m.advanceTop()
		if m.err != nil {
			return false
		}
	}
	m.cur = nil
	return false
}

// before reports whether entry e sorts strictly before (key, fileID, offset).
func (m *BlobFileMergeScanner) before(e *blobScannerEntry, key []byte, fileID uint64, offset int64) bool {
	if c := dbformat.UserCompare(e.scanner.Key(), key); c != 0 {
		return c < 0
	}
	if e.fileID != fileID {
		return e.fileID < fileID
	}
	return e.scanner.Offset() < offset
}

func (m *BlobFileMergeScanner) advanceTop() {
	top := heap.Pop(&m.h).(*blobScannerEntry)
	if top.scanner.Next() {
		heap.Push(&m.h, top)
	} else if err := top.scanner.Err(); err != nil {
		m.err = err
	}
}

// Current returns the scanner the last successful Seek landed on.
func (m *BlobFileMergeScanner) Current() *blob.Scanner {
	if m.cur == nil {
		return nil
	}
	return m.cur.scanner
}

// Advance moves past the entry Seek last returned, so a subsequent Seek
// never re-matches it against a later handle.
func (m *BlobFileMergeScanner) Advance() {
	if m.cur == nil {
		return
	}
	for i, e := range m.h {
		if e == m.cur {
			m.h[i] = m.h[len(m.h)-1]
			m.h = m.h[:len(m.h)-1]
			heap.Init(&m.h)
			break
		}
	}
	if m.cur.scanner.Next() {
		heap.Push(&m.h, m.cur)
	} else if err := m.cur.scanner.Err(); err != nil {
		m.err = err
	}
	m.cur = nil
}
