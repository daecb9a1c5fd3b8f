// Package mvcc implements the stateful filter that sits on top of the k-way
// merge iterator (internal/iterator): multi-version eviction, weak-tombstone
// ("single delete") cancellation, snapshot-seqno visibility filtering, and
// the compaction-time GC-seqno-threshold collapse. Grounded directly on
// fjall-rs's mvcc_stream.rs, translated from a pull/peek iterator into a
// Go cursor that exposes the same head-then-drain decisions.
package mvcc

import (
	"errors"

	"github.com/aalhour/lsmtree/internal/dbformat"
	"github.com/aalhour/lsmtree/internal/iterator"
)

// ErrIteratorMisuse is returned by Prev when reverse iteration is attempted
// while a gc-seqno-threshold collapse is active — the reverse (next_back)
// side of that collapse is never exercised by any caller in this engine
// (compaction and flush only ever read forward), so it is left unsupported
// rather than silently wrong.
var ErrIteratorMisuse = errors.New("mvcc: reverse iteration unsupported with a gc seqno threshold")

// Stream wraps a merged iterator.Iterator and applies MVCC visibility
// rules to the entries it yields.
type Stream struct {
	inner iterator.Iterator

	evictOldVersions bool
	dropTombstones   bool // only meaningful when hasGC, spec's "unless bottommost level"

	hasSnapshot   bool
	snapshotSeqno dbformat.SeqNo

	hasGC      bool
	gcSeqno    dbformat.SeqNo

	dir      dir
	curKey   dbformat.InternalKey
	curValue []byte
	err      error
}

type dir uint8

const (
	dirFwd dir = iota
	dirBwd
)

// New wraps inner with no filtering; configure it with the With* methods.
func New(inner iterator.Iterator) *Stream {
	return &Stream{inner: inner}
}

// WithEvictOldVersions makes the stream yield at most one version per user
// key (spec's "latest-version selection").
func (s *Stream) WithEvictOldVersions(v bool) *Stream {
	s.evictOldVersions = v
	return s
}

// WithSnapshotSeqno makes the stream skip any entry whose seqno >= seqno,
// i.e. any write not yet visible to a reader holding this snapshot.
func (s *Stream) WithSnapshotSeqno(seqno dbformat.SeqNo) *Stream {
	s.hasSnapshot = true
	s.snapshotSeqno = seqno
	return s
}

// WithGCSeqnoThreshold switches the stream into compaction mode: for each
// user key, if the entry behind the head has seqno < threshold, the head's
// tail is fully expired and gets drained; the head's own seqno is rewritten
// to 0 once proven to be below threshold (zero varint-encodes in one byte).
// dropTombstones additionally discards (rather than retains) Tombstone
// heads once expired — pass true only when compacting into the bottommost
// level, per spec's tombstone-retention rule.
func (s *Stream) WithGCSeqnoThreshold(threshold dbformat.SeqNo, dropTombstones bool) *Stream {
	s.hasGC = true
	s.gcSeqno = threshold
	s.dropTombstones = dropTombstones
	return s
}

func (s *Stream) Valid() bool               { return s.err == nil && s.curKey != nil }
func (s *Stream) Key() dbformat.InternalKey { return s.curKey }
func (s *Stream) Value() []byte             { return s.curValue }
func (s *Stream) Error() error              { return s.err }

func (s *Stream) SeekToFirst() {
	s.inner.SeekToFirst()
	s.dir = dirFwd
	s.pullNext()
}

func (s *Stream) Seek(target []byte) {
	s.inner.Seek(target)
	s.dir = dirFwd
	s.pullNext()
}

func (s *Stream) Next() {
	if s.dir != dirFwd {
		// The cursor is already sitting on the next candidate head from a
		// prior Prev-direction walk; re-seeking would re-scan entries we
		// already decided about. Forward-only compaction/flush paths never
		// hit this, so treat it as a fresh forward pull from here.
		s.dir = dirFwd
	}
	s.pullNext()
}

// SeekToLast and Prev implement the non-GC reverse walk (spec's
// double-ended merge requirement for range scans); the GC-threshold
// collapse has no reverse form, matching the original implementation.
func (s *Stream) SeekToLast() {
	if s.hasGC {
		s.err = ErrIteratorMisuse
		return
	}
	s.inner.SeekToLast()
	s.dir = dirBwd
	s.pullPrev()
}

func (s *Stream) Prev() {
	if s.hasGC {
		s.err = ErrIteratorMisuse
		return
	}
	s.dir = dirBwd
	s.pullPrev()
}

// pullNext implements the forward next()/next_back() logic of
// mvcc_stream.rs, folded into one pass over the pull-iterator interface
// (inner.Key()/Value() act as Rust's peek(); inner.Next() acts as next()).
func (s *Stream) pullNext() {
	for {
		if !s.inner.Valid() {
			s.clear()
			return
		}
		if err := s.inner.Error(); err != nil {
			s.err = err
			s.clear()
			return
		}

		headKey := cloneKey(s.inner.Key())
		headVal := cloneVal(s.inner.Value())
		head, err := dbformat.Parse(headKey)
		if err != nil {
			s.err = err
			s.clear()
			return
		}

		if s.hasSnapshot && head.Seq >= s.snapshotSeqno {
			s.inner.Next()
			continue
		}

		if s.hasGC {
			if s.pullNextGC(headKey, headVal, head) {
				return
			}
			continue
		}

		if head.Type == dbformat.WeakTombstone {
			s.inner.Next() // consume head
			if err := s.checkErr(); err != nil {
				return
			}
			if s.inner.Valid() {
				next, err := dbformat.Parse(s.inner.Key())
				if err == nil && dbformat.UserCompare(next.UserKey, head.UserKey) == 0 &&
					next.Type != dbformat.Tombstone && next.Type != dbformat.WeakTombstone {
					s.inner.Next() // cancel it
					if err := s.checkErr(); err != nil {
						return
					}
				}
			}
			continue
		}

		s.inner.Next() // consume head
		if err := s.checkErr(); err != nil {
			return
		}
		if s.evictOldVersions {
			s.drainUserKey(head.UserKey)
			if err := s.checkErr(); err != nil {
				return
			}
		}

		if head.Type == dbformat.Tombstone && s.dropTombstones {
			continue
		}

		s.curKey, s.curValue = headKey, headVal
		return
	}
}

// pullNextGC implements the gc_seqno_threshold branch of mvcc_stream.rs.
// Returns true once a head has been committed to s.curKey/s.curValue
// (false means the caller should loop and pull another candidate head).
func (s *Stream) pullNextGC(headKey dbformat.InternalKey, headVal []byte, head dbformat.ParsedKey) bool {
	s.inner.Next() // consume head
	if err := s.checkErr(); err != nil {
		return true
	}

	if s.inner.Valid() {
		peeked, err := dbformat.Parse(s.inner.Key())
		if err != nil {
			s.err = err
			s.clear()
			return true
		}

		if dbformat.UserCompare(peeked.UserKey, head.UserKey) != 0 {
			return s.commitGCHead(headKey, headVal, head)
		}

		if peeked.Seq < s.gcSeqno {
			dropWeak := peeked.Type == dbformat.Value && head.Type == dbformat.WeakTombstone
			s.drainUserKey(head.UserKey)
			if err := s.checkErr(); err != nil {
				return true
			}
			if dropWeak {
				return false // nothing to yield for this key; pull the next head
			}
		}
	}

	return s.commitGCHead(headKey, headVal, head)
}

// commitGCHead yields head and returns true, or returns false when head is
// an expired Tombstone being dropped, so the caller's loop pulls again.
func (s *Stream) commitGCHead(headKey dbformat.InternalKey, headVal []byte, head dbformat.ParsedKey) bool {
	if head.Seq < s.gcSeqno {
		headKey.SetSeqNo(0)
		if head.Type == dbformat.Tombstone && s.dropTombstones {
			return false
		}
	}
	s.curKey, s.curValue = headKey, headVal
	return true
}

// drainUserKey consumes every remaining entry for key from the front of
// the inner iterator (spec's evict_old_versions / GC-tail behavior).
func (s *Stream) drainUserKey(key []byte) {
	for s.inner.Valid() {
		if err := s.inner.Error(); err != nil {
			s.err = err
			return
		}
		next, err := dbformat.Parse(s.inner.Key())
		if err != nil {
			s.err = err
			return
		}
		if dbformat.UserCompare(next.UserKey, key) != 0 {
			return
		}
		s.inner.Next()
	}
}

// pullPrev implements the DoubleEndedIterator next_back() side: a
// stack-buffered scan that walks backward, collecting same-user-key runs,
// applying weak-tombstone cancellation against the entry immediately ahead
// of it in forward order (i.e. behind it in this backward walk).
func (s *Stream) pullPrev() {
	var stack []entry

	for {
		if !s.inner.Valid() {
			if len(stack) > 0 {
				e := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				s.curKey, s.curValue = e.key, e.value
				return
			}
			s.clear()
			return
		}
		if err := s.inner.Error(); err != nil {
			s.err = err
			s.clear()
			return
		}

		tailKey := cloneKey(s.inner.Key())
		tailVal := cloneVal(s.inner.Value())
		tail, err := dbformat.Parse(tailKey)
		if err != nil {
			s.err = err
			s.clear()
			return
		}
		if s.hasSnapshot && tail.Seq >= s.snapshotSeqno {
			s.inner.Prev()
			continue
		}
		s.inner.Prev()

		if !s.inner.Valid() {
			if tail.Type == dbformat.WeakTombstone {
				if len(stack) > 0 {
					e := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					s.curKey, s.curValue = e.key, e.value
					return
				}
				s.clear()
				return
			}
			s.curKey, s.curValue = tailKey, tailVal
			return
		}

		prev, err := dbformat.Parse(s.inner.Key())
		if err != nil {
			s.err = err
			s.clear()
			return
		}

		if dbformat.UserCompare(prev.UserKey, tail.UserKey) != 0 {
			if tail.Type == dbformat.WeakTombstone {
				if len(stack) > 0 {
					e := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					s.curKey, s.curValue = e.key, e.value
					return
				}
				continue
			}
			s.curKey, s.curValue = tailKey, tailVal
			return
		}

		if !s.evictOldVersions {
			if !tail.Type.IsTombstone() {
				stack = append(stack, entry{tailKey, tailVal})
			}
		} else if len(stack) == 0 && !tail.Type.IsTombstone() {
			stack = append(stack, entry{tailKey, tailVal})
		}

		if prev.Type == dbformat.WeakTombstone && len(stack) > 0 {
			stack = stack[:len(stack)-1]
		}
	}
}

type entry struct {
	key   dbformat.InternalKey
	value []byte
}

func (s *Stream) checkErr() error {
	if err := s.inner.Error(); err != nil {
		s.err = err
		s.clear()
		return err
	}
	return nil
}

func (s *Stream) clear() {
	s.curKey, s.curValue = nil, nil
}

func cloneKey(k dbformat.InternalKey) dbformat.InternalKey {
	return append(dbformat.InternalKey(nil), k...)
}

func cloneVal(v []byte) []byte {
	if v == nil {
		return nil
	}
	return append([]byte(nil), v...)
}
