package memtable

import (
	"sync/atomic"

	"github.com/aalhour/lsmtree/internal/dbformat"
)

// Memtable is the active (or a sealed) in-memory write buffer: a skip
// list of internal keys plus a running approximate byte-size counter used
// to decide when to seal and flush.
type Memtable struct {
	list            *SkipList
	approximateSize atomic.Uint64
}

// New creates an empty Memtable.
func New() *Memtable {
	return &Memtable{list: NewSkipList()}
}

// Insert records one write. value is the literal value for dbformat.Value
// entries, empty for Tombstone/WeakTombstone, or an encoded blob handle
// for Indirection entries.
func (m *Memtable) Insert(userKey []byte, seq dbformat.SeqNo, t dbformat.ValueType, value []byte) {
	ikey := dbformat.New(userKey, seq, t)
	m.list.Insert(ikey, value)
	m.approximateSize.Add(uint64(len(ikey) + len(value)))
}

// ApproximateSize returns the running estimate of bytes held, used to
// decide when this memtable should be sealed.
func (m *Memtable) ApproximateSize() uint64 {
	return m.approximateSize.Load()
}

// Count returns the number of entries ever inserted (including entries
// later shadowed by a newer write to the same user key).
func (m *Memtable) Count() int64 {
	return m.list.Count()
}

// Get returns the newest entry for userKey visible at or before seq, i.e.
// the first entry the skip list yields for userKey whose own seqno is
// <= seq. found is false if no entry for userKey has a visible seqno.
func (m *Memtable) Get(userKey []byte, seq dbformat.SeqNo) (value []byte, t dbformat.ValueType, found bool) {
	it := m.list.NewIterator()
	it.Seek(dbformat.SeekKey(userKey))
	for it.Valid() {
		parsed, err := dbformat.Parse(it.Key())
		if err != nil {
			return nil, 0, false
		}
		if dbformat.UserCompare(parsed.UserKey, userKey) != 0 {
			return nil, 0, false
		}
		if parsed.Seq <= seq {
			return it.Value(), parsed.Type, true
		}
		it.Next()
	}
	return nil, 0, false
}

// NewIterator returns a fresh iterator over every entry in m, in internal
// key order (user key ascending, seqno/type descending).
func (m *Memtable) NewIterator() *Iterator {
	return m.list.NewIterator()
}
