package table

import (
	"github.com/aalhour/lsmtree/internal/block"
	"github.com/aalhour/lsmtree/internal/dbformat"
)

// IndexIterator walks (end_key, BlockHandle) pairs in a table's index,
// hiding whether the index is Full or Two-level (partitioned).
type IndexIterator interface {
	Valid() bool
	EndKey() dbformat.InternalKey
	Handle() BlockHandle
	Next()
	Prev()
	Error() error
}

// Index is the table's block index: either a single Full index block, or
// a Two-level (partitioned) index whose top-level block points at
// second-level index blocks.
type Index interface {
	// SeekLower returns an iterator positioned at the first entry whose
	// end key is >= key (the lowest block that could contain key).
	SeekLower(key []byte) IndexIterator
	// SeekUpper returns an iterator positioned at the last entry whose
	// end key is <= key.
	SeekUpper(key []byte) IndexIterator
	First() IndexIterator
	Last() IndexIterator
}

func decodeEntry(it *block.Iterator) (dbformat.InternalKey, BlockHandle, error) {
	h, _, err := DecodeBlockHandle(it.Value())
	if err != nil {
		return nil, BlockHandle{}, err
	}
	return it.Key(), h, nil
}

// -----------------------------------------------------------------------
// Full index: one block, every entry points straight at a data block.
// -----------------------------------------------------------------------

// FullIndex is a single-block index (spec §4.2 "Full" variant).
type FullIndex struct {
	blk *block.Block
}

func NewFullIndex(blk *block.Block) *FullIndex { return &FullIndex{blk: blk} }

func (fi *FullIndex) SeekLower(key []byte) IndexIterator {
	it := fi.blk.Iterator()
	it.Seek(dbformat.SeekKey(trimKey(key)))
	return &fullIndexIter{it: it}
}

func (fi *FullIndex) SeekUpper(key []byte) IndexIterator {
	it := fi.blk.Iterator()
	it.Seek(dbformat.SeekKey(trimKey(key)))
	if !it.Valid() {
		it.SeekToLast()
	} else if dbformat.UserCompare(it.Key().UserKey(), trimKey(key)) > 0 {
		it.Prev()
	}
	return &fullIndexIter{it: it}
}

func (fi *FullIndex) First() IndexIterator {
	it := fi.blk.Iterator()
	it.SeekToFirst()
	return &fullIndexIter{it: it}
}

func (fi *FullIndex) Last() IndexIterator {
	it := fi.blk.Iterator()
	it.SeekToLast()
	return &fullIndexIter{it: it}
}

type fullIndexIter struct {
	it  *block.Iterator
	err error
}

func (i *fullIndexIter) Valid() bool { return i.it.Valid() && i.err == nil }
func (i *fullIndexIter) EndKey() dbformat.InternalKey { return i.it.Key() }
func (i *fullIndexIter) Handle() BlockHandle {
	h, _, err := DecodeBlockHandle(i.it.Value())
	if err != nil {
		i.err = err
	}
	return h
}
func (i *fullIndexIter) Next() { i.it.Next() }
func (i *fullIndexIter) Prev() { i.it.Prev() }
func (i *fullIndexIter) Error() error {
	if i.err != nil {
		return i.err
	}
	return i.it.Error()
}

// trimKey strips the trailer from key when it parses as an internal key,
// leaving the bare user key dbformat.SeekKey expects; a key too short for
// a trailer, or one that does not parse, is returned unchanged.
func trimKey(key []byte) []byte {
	if len(key) < dbformat.TrailerSize {
		return key
	}
	if p, err := dbformat.Parse(key); err == nil {
		return p.UserKey
	}
	return key
}

// -----------------------------------------------------------------------
// Two-level (partitioned) index.
// -----------------------------------------------------------------------

// BlockLoader fetches and parses a block given its handle — the table
// reader's cache-then-descriptor-then-pread path (spec §4.2 point-read
// step 4), reused here to fetch second-level index blocks on demand.
type BlockLoader func(h BlockHandle) (*block.Block, error)

// TwoLevelIndex is a partitioned index: a small top-level block pinned in
// memory, whose entries point at second-level index blocks loaded lazily.
type TwoLevelIndex struct {
	top    *block.Block
	loader BlockLoader
}

func NewTwoLevelIndex(top *block.Block, loader BlockLoader) *TwoLevelIndex {
	return &TwoLevelIndex{top: top, loader: loader}
}

func (ti *TwoLevelIndex) SeekLower(key []byte) IndexIterator {
	top := ti.top.Iterator()
	top.Seek(dbformat.SeekKey(trimKey(key)))
	it := &twoLevelIter{ti: ti, top: top}
	it.descendForward(key)
	return it
}

func (ti *TwoLevelIndex) SeekUpper(key []byte) IndexIterator {
	top := ti.top.Iterator()
	top.Seek(dbformat.SeekKey(trimKey(key)))
	if !top.Valid() {
		top.SeekToLast()
	} else if dbformat.UserCompare(top.Key().UserKey(), trimKey(key)) > 0 {
		top.Prev()
	}
	it := &twoLevelIter{ti: ti, top: top}
	it.descendBackward(key)
	return it
}

func (ti *TwoLevelIndex) First() IndexIterator {
	top := ti.top.Iterator()
	top.SeekToFirst()
	it := &twoLevelIter{ti: ti, top: top}
	it.loadSecondLevel()
	if it.second != nil {
		it.second.SeekToFirst()
	}
	return it
}

func (ti *TwoLevelIndex) Last() IndexIterator {
	top := ti.top.Iterator()
	top.SeekToLast()
	it := &twoLevelIter{ti: ti, top: top}
	it.loadSecondLevel()
	if it.second != nil {
		it.second.SeekToLast()
	}
	return it
}

type twoLevelIter struct {
	ti     *TwoLevelIndex
	top    *block.Iterator
	second *block.Iterator
	err    error
}

func (i *twoLevelIter) loadSecondLevel() {
	if !i.top.Valid() {
		i.second = nil
		return
	}
	h, _, err := DecodeBlockHandle(i.top.Value())
	if err != nil {
		i.err = err
		return
	}
	blk, err := i.ti.loader(h)
	if err != nil {
		i.err = err
		return
	}
	i.second = blk.Iterator()
}

func (i *twoLevelIter) descendForward(key []byte) {
	i.loadSecondLevel()
	if i.second == nil {
		return
	}
	i.second.Seek(dbformat.SeekKey(trimKey(key)))
	for !i.second.Valid() {
		i.top.Next()
		if !i.top.Valid() {
			i.second = nil
			return
		}
		i.loadSecondLevel()
		if i.second == nil {
			return
		}
		i.second.SeekToFirst()
	}
}

func (i *twoLevelIter) descendBackward(key []byte) {
	i.loadSecondLevel()
	if i.second == nil {
		return
	}
	i.second.Seek(dbformat.SeekKey(trimKey(key)))
	if !i.second.Valid() || dbformat.UserCompare(i.second.Key().UserKey(), trimKey(key)) > 0 {
		i.second.Prev()
	}
	for !i.second.Valid() {
		i.top.Prev()
		if !i.top.Valid() {
			i.second = nil
			return
		}
		i.loadSecondLevel()
		if i.second == nil {
			return
		}
		i.second.SeekToLast()
	}
}

func (i *twoLevelIter) Valid() bool { return i.second != nil && i.second.Valid() && i.err == nil }
func (i *twoLevelIter) EndKey() dbformat.InternalKey { return i.second.Key() }
func (i *twoLevelIter) Handle() BlockHandle {
	h, _, err := DecodeBlockHandle(i.second.Value())
	if err != nil {
		i.err = err
	}
	return h
}

func (i *twoLevelIter) Next() {
	i.second.Next()
	for !i.second.Valid() {
		i.top.Next()
		if !i.top.Valid() {
			i.second = nil
			return
		}
		i.loadSecondLevel()
		if i.second == nil {
			return
		}
		i.second.SeekToFirst()
	}
}

func (i *twoLevelIter) Prev() {
	i.second.Prev()
	for !i.second.Valid() {
		i.top.Prev()
		if !i.top.Valid() {
			i.second = nil
			return
		}
		i.loadSecondLevel()
		if i.second == nil {
			return
		}
		i.second.SeekToLast()
	}
}

func (i *twoLevelIter) Error() error {
	if i.err != nil {
		return i.err
	}
	if i.top.Error() != nil {
		return i.top.Error()
	}
	if i.second != nil {
		return i.second.Error()
	}
	return nil
}
