package lsmtree

import "github.com/aalhour/lsmtree/internal/dbformat"

// Snapshot pins a read-time seqno: every Get/Scan issued through it sees
// the tree exactly as of the moment it was taken, regardless of writes
// or compactions that happen afterward (spec §4.8's MVCC read view).
// Must be released via Close once done, so the tree can advance its GC
// eviction watermark past superseded versions again.
type Snapshot struct {
	tree  *Tree
	seqno dbformat.SeqNo
}

// Snapshot captures the tree's current seqno as a read view.
func (t *Tree) Snapshot() *Snapshot {
	t.snapMu.Lock()
	defer t.snapMu.Unlock()
	seqno := dbformat.SeqNo(t.lastSeqno.Load())
	t.snapCounts[seqno]++
	return &Snapshot{tree: t, seqno: seqno}
}

// Seqno returns the read-time seqno this snapshot pins.
func (s *Snapshot) Seqno() dbformat.SeqNo { return s.seqno }

// Get reads key as visible at the snapshot's seqno.
func (s *Snapshot) Get(key []byte) ([]byte, error) {
	return s.tree.GetWithSeqno(key, s.seqno)
}

// Range opens a bounded range scan as visible at the snapshot's seqno.
func (s *Snapshot) Range(bounds Bounds) *Iterator {
	return s.tree.rangeAt(bounds, s.seqno)
}

// Close releases the snapshot, allowing the tree's GC eviction watermark
// to advance past it once it is the oldest open snapshot.
func (s *Snapshot) Close() error {
	s.tree.snapMu.Lock()
	defer s.tree.snapMu.Unlock()
	if n := s.tree.snapCounts[s.seqno]; n <= 1 {
		delete(s.tree.snapCounts, s.seqno)
	} else {
		s.tree.snapCounts[s.seqno] = n - 1
	}
	return nil
}

// minOpenSnapshotSeqno returns the oldest seqno any open Snapshot still
// pins, or MaxSeqNo if none are open (nothing constrains eviction).
func (t *Tree) minOpenSnapshotSeqno() dbformat.SeqNo {
	t.snapMu.Lock()
	defer t.snapMu.Unlock()
	min := dbformat.MaxSeqNo
	for seqno := range t.snapCounts {
		if seqno < min {
			min = seqno
		}
	}
	return min
}
