package table

import (
	"errors"
	"io"

	"github.com/aalhour/lsmtree/internal/block"
	"github.com/aalhour/lsmtree/internal/cache"
	"github.com/aalhour/lsmtree/internal/dbformat"
	"github.com/aalhour/lsmtree/internal/filter"
)

// ReaderAt is the minimal file capability a Reader needs; *os.File
// satisfies it.
type ReaderAt interface {
	io.ReaderAt
}

// Reader opens and serves reads against one table file.
type Reader struct {
	r        ReaderAt
	fileID   cache.GlobalFileID
	fileSize int64
	blockCache *cache.Sharded[cache.BlockKey, *block.Block]

	toc   *TOC
	props Properties

	index      Index
	filterR    *filter.Reader
	globalSeqno dbformat.SeqNo
}

// ErrBadTable covers structural table-file errors not already named by a
// more specific sentinel.
var ErrBadTable = errors.New("table: malformed table file")

// Open parses the trailer, TOC, meta block, index, and filter of a table
// file and returns a Reader ready to serve Get and NewIterator.
// blockCache may be nil to skip caching.
func Open(r ReaderAt, fileID cache.GlobalFileID, fileSize int64, globalSeqno dbformat.SeqNo, blockCache *cache.Sharded[cache.BlockKey, *block.Block]) (*Reader, error) {
	if fileSize < int64(trailerSize) {
		return nil, ErrBadTable
	}
	trailerBuf := make([]byte, trailerSize)
	if _, err := r.ReadAt(trailerBuf, fileSize-int64(trailerSize)); err != nil {
		return nil, err
	}
	trailer, err := DecodeTrailer(trailerBuf)
	if err != nil {
		return nil, err
	}

	tocBuf := make([]byte, trailer.TOCLength)
	if _, err := r.ReadAt(tocBuf, int64(trailer.TOCOffset)); err != nil {
		return nil, err
	}
	toc, err := DecodeTOC(tocBuf)
	if err != nil {
		return nil, err
	}

	rd := &Reader{r: r, fileID: fileID, fileSize: fileSize, blockCache: blockCache, toc: toc, globalSeqno: globalSeqno}

	metaOff, metaLen, err := toc.Require(RegionMeta)
	if err != nil {
		return nil, err
	}
	metaBody, err := rd.readBlockAt(metaOff, metaLen)
	if err != nil {
		return nil, err
	}
	props, err := DecodeMetaBlock(metaBody)
	if err != nil {
		return nil, err
	}
	rd.props = props

	if err := rd.openIndex(); err != nil {
		return nil, err
	}

	if off, length, ok := toc.Lookup(RegionFilter); ok {
		raw := make([]byte, length)
		if _, err := r.ReadAt(raw, int64(off)); err != nil {
			return nil, err
		}
		rd.filterR = filter.NewReader(raw)
	}

	return rd, nil
}

func (r *Reader) openIndex() error {
	if r.props.Partitioned {
		off, length, err := r.toc.Require(RegionTLI)
		if err != nil {
			return err
		}
		top, err := r.readBlockAt(off, length)
		if err != nil {
			return err
		}
		topBlk, err := block.Parse(top)
		if err != nil {
			return err
		}
		r.index = NewTwoLevelIndex(topBlk, r.loadIndexBlock)
		return nil
	}

	off, length, err := r.toc.Require(RegionIndex)
	if err != nil {
		return err
	}
	body, err := r.readBlockAt(off, length)
	if err != nil {
		return err
	}
	blk, err := block.Parse(body)
	if err != nil {
		return err
	}
	r.index = NewFullIndex(blk)
	return nil
}

func (r *Reader) loadIndexBlock(h BlockHandle) (*block.Block, error) {
	body, err := r.readBlockAt(h.Offset, uint64(h.Size))
	if err != nil {
		return nil, err
	}
	return block.Parse(body)
}

// readBlockAt reads and opens (checksum+decompress) the block at
// [offset, offset+length) and parses its body.
func (r *Reader) readBlockAt(offset, length uint64) ([]byte, error) {
	raw := make([]byte, length)
	if _, err := r.r.ReadAt(raw, int64(offset)); err != nil {
		return nil, err
	}
	return block.Open(raw)
}

// dataBlock fetches a parsed data block, through the block cache if one
// was supplied.
func (r *Reader) dataBlock(h BlockHandle) (*block.Block, error) {
	if r.blockCache != nil {
		key := cache.BlockKey{File: r.fileID, Offset: h.Offset}
		if handle := r.blockCache.Lookup(key); handle != nil {
			defer r.blockCache.Release(handle)
			return handle.Value(), nil
		}
	}
	body, err := r.readBlockAt(h.Offset, uint64(h.Size))
	if err != nil {
		return nil, err
	}
	blk, err := block.Parse(body)
	if err != nil {
		return nil, err
	}
	if r.blockCache != nil {
		key := cache.BlockKey{File: r.fileID, Offset: h.Offset}
		handle := r.blockCache.Insert(key, blk, uint64(len(body)))
		r.blockCache.Release(handle)
	}
	return blk, nil
}

// Properties returns the table's decoded meta-block properties.
func (r *Reader) Properties() Properties { return r.props }

// MinSeqno returns the lowest seqno stored in the table, adjusted by the
// table's global_seqno offset.
func (r *Reader) MinSeqno() dbformat.SeqNo { return r.props.SeqnoMin + r.globalSeqno }

// Get performs a point read (spec §4.2): filter probe, then index descent,
// then an in-block point-read, honoring readSeqno visibility.
func (r *Reader) Get(userKey []byte, readSeqno dbformat.SeqNo) (value []byte, t dbformat.ValueType, found bool, err error) {
	if readSeqno <= r.MinSeqno() {
		return nil, 0, false, nil
	}
	if r.filterR != nil && !r.filterR.MayContain(userKey) {
		return nil, 0, false, nil
	}

	idxIt := r.index.SeekLower(userKey)
	for idxIt.Valid() {
		if err := idxIt.Error(); err != nil {
			return nil, 0, false, err
		}
		if dbformat.UserCompare(idxIt.EndKey().UserKey(), userKey) < 0 {
			idxIt.Next()
			continue
		}
		blk, err := r.dataBlock(idxIt.Handle())
		if err != nil {
			return nil, 0, false, err
		}
		bIt := blk.Iterator()
		bIt.Seek(dbformat.SeekKey(userKey))
		for bIt.Valid() {
			parsed, perr := dbformat.Parse(bIt.Key())
			if perr != nil {
				return nil, 0, false, perr
			}
			if dbformat.UserCompare(parsed.UserKey, userKey) != 0 {
				break
			}
			seq := parsed.Seq + r.globalSeqno
			if seq < readSeqno {
				return bIt.Value(), parsed.Type, true, nil
			}
			bIt.Next()
		}
		if err := bIt.Error(); err != nil {
			return nil, 0, false, err
		}
		if bIt.Valid() {
			// The block holds an entry past userKey's versions: no later
			// block can hold a visible one.
			break
		}
		// The block ran out inside userKey's versions; older versions
		// can continue in the next block.
		idxIt.Next()
	}
	return nil, 0, false, nil
}

// NewIterator returns a forward+reverse iterator over every entry in the
// table (bounds, if any, are applied by the caller at the data-block
// level per spec §4.2's "bound exclusivity is enforced inside the data
// block" rule).
func (r *Reader) NewIterator() *Iterator {
	return &Iterator{reader: r}
}

// Iterator lazily materializes data blocks as it is driven; construction
// is cheap and does no I/O until the first Seek/SeekToFirst/SeekToLast.
type Iterator struct {
	reader *Reader
	idx    IndexIterator
	blk    *block.Iterator
	err    error
}

func (it *Iterator) Valid() bool { return it.blk != nil && it.blk.Valid() && it.err == nil }

func (it *Iterator) Key() dbformat.InternalKey {
	k := it.blk.Key()
	if it.reader.globalSeqno == 0 {
		return k
	}
	p, err := dbformat.Parse(k)
	if err != nil {
		return k
	}
	return dbformat.New(p.UserKey, p.Seq+it.reader.globalSeqno, p.Type)
}

func (it *Iterator) Value() []byte { return it.blk.Value() }
func (it *Iterator) Error() error {
	if it.err != nil {
		return it.err
	}
	if it.idx != nil {
		if err := it.idx.Error(); err != nil {
			return err
		}
	}
	if it.blk != nil {
		return it.blk.Error()
	}
	return nil
}

func (it *Iterator) SeekToFirst() {
	it.idx = it.reader.index.First()
	it.loadBlockAndSeekFirst()
}

func (it *Iterator) SeekToLast() {
	it.idx = it.reader.index.Last()
	it.loadBlockAndSeekLast()
}

func (it *Iterator) Seek(target []byte) {
	it.idx = it.reader.index.SeekLower(target)
	it.loadBlockAndSeek(target, false)
}

func (it *Iterator) loadBlockAndSeekFirst() {
	if !it.loadBlock() {
		return
	}
	it.blk.SeekToFirst()
	for !it.blk.Valid() && it.advanceIndex() {
		it.blk.SeekToFirst()
	}
}

func (it *Iterator) loadBlockAndSeekLast() {
	if !it.loadBlock() {
		return
	}
	it.blk.SeekToLast()
	for !it.blk.Valid() && it.retreatIndex() {
		it.blk.SeekToLast()
	}
}

func (it *Iterator) loadBlockAndSeek(target []byte, upper bool) {
	if !it.loadBlock() {
		return
	}
	it.blk.Seek(dbformat.SeekKey(trimKey(target)))
	for !it.blk.Valid() && it.advanceIndex() {
		it.blk.SeekToFirst()
	}
}

func (it *Iterator) loadBlock() bool {
	if !it.idx.Valid() {
		it.blk = nil
		return false
	}
	blk, err := it.reader.dataBlock(it.idx.Handle())
	if err != nil {
		it.err = err
		return false
	}
	it.blk = blk.Iterator()
	return true
}

func (it *Iterator) advanceIndex() bool {
	it.idx.Next()
	return it.loadBlock()
}

func (it *Iterator) retreatIndex() bool {
	it.idx.Prev()
	return it.loadBlock()
}

func (it *Iterator) Next() {
	it.blk.Next()
	for !it.blk.Valid() && it.advanceIndex() {
		it.blk.SeekToFirst()
	}
}

func (it *Iterator) Prev() {
	it.blk.Prev()
	for !it.blk.Valid() && it.retreatIndex() {
		it.blk.SeekToLast()
	}
}
