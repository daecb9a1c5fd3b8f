package block

import (
	"errors"

	"github.com/aalhour/lsmtree/internal/dbformat"
	"github.com/aalhour/lsmtree/internal/encoding"
)

// ErrCorrupt is returned when a block body's trailing structure (binary
// index, hash index, footer) fails to parse.
var ErrCorrupt = errors.New("block: corrupt body")

// footerSize is the two fixed uint32s at the very end of a block body:
// the restart-point count and the hash-index bucket count (0 if absent).
const footerSize = 8

// Block is a parsed block body: the decoded entry region plus its binary
// and (optional) hash indexes. It holds no reference to the compressed
// on-disk form; construct one from block.Open's output via Parse.
type Block struct {
	body        []byte // entries only, i.e. body[:entriesEnd]
	restarts    []byte // numRestarts * 4 bytes, little-endian offsets
	numRestarts int
	hashBuckets []byte // nil if no hash index
}

// Parse decodes a decompressed block body (as returned by Open) into a
// Block ready for iteration and lookup.
func Parse(body []byte) (*Block, error) {
	if len(body) < footerSize {
		return nil, ErrCorrupt
	}
	footerOff := len(body) - footerSize
	numRestarts := int(encoding.DecodeFixed32(body[footerOff:]))
	numBuckets := int(encoding.DecodeFixed32(body[footerOff+4:]))

	restartsSize := numRestarts * 4
	if numRestarts <= 0 || footerOff < restartsSize {
		return nil, ErrCorrupt
	}
	restartsOff := footerOff - restartsSize
	restarts := body[restartsOff:footerOff]

	bucketsOff := restartsOff
	var buckets []byte
	if numBuckets > 0 {
		if restartsOff < numBuckets {
			return nil, ErrCorrupt
		}
		bucketsOff = restartsOff - numBuckets
		buckets = body[bucketsOff : bucketsOff+numBuckets]
	}

	return &Block{
		body:        body[:bucketsOff],
		restarts:    restarts,
		numRestarts: numRestarts,
		hashBuckets: buckets,
	}, nil
}

// RestartPoint returns the byte offset, within the entry region, of the
// i-th restart point.
func (b *Block) RestartPoint(i int) int {
	return int(encoding.DecodeFixed32(b.restarts[i*4:]))
}

// NumRestarts returns the number of restart points in the block.
func (b *Block) NumRestarts() int { return b.numRestarts }

// Iterator returns a fresh Iterator over b.
func (b *Block) Iterator() *Iterator {
	return &Iterator{block: b, data: b.body, dataEnd: len(b.body)}
}

// Entry is a decoded key-value pair.
type Entry struct {
	Key   dbformat.InternalKey
	Value []byte
}

// Iterator walks a Block's entries forward and backward, and supports
// binary-search seeks accelerated by the block's hash index when present.
type Iterator struct {
	block   *Block
	data    []byte
	dataEnd int

	current    int
	nextOffset int
	key        []byte
	value      []byte
	valid      bool
	err        error
}

func (it *Iterator) Valid() bool           { return it.valid && it.err == nil }
func (it *Iterator) Key() dbformat.InternalKey { return it.key }
func (it *Iterator) Value() []byte         { return it.value }
func (it *Iterator) Error() error          { return it.err }

func (it *Iterator) SeekToFirst() {
	it.key = it.key[:0]
	it.value = nil
	it.current, it.nextOffset = 0, 0
	it.Next()
}

func (it *Iterator) SeekToLast() {
	it.seekToRestart(it.block.numRestarts - 1)
	var lastKey, lastValue []byte
	var lastCurrent, lastNext int
	found := false
	for {
		it.Next()
		if !it.Valid() {
			break
		}
		lastKey = append(lastKey[:0], it.key...)
		lastValue = it.value
		lastCurrent, lastNext = it.current, it.nextOffset
		found = true
	}
	if found {
		it.key, it.value = lastKey, lastValue
		it.current, it.nextOffset = lastCurrent, lastNext
		it.valid = true
	}
}

func (it *Iterator) Next() {
	if it.err != nil {
		it.valid = false
		return
	}
	if it.nextOffset >= it.dataEnd {
		it.valid = false
		return
	}
	it.current = it.nextOffset
	it.parseEntry()
}

func (it *Iterator) Prev() {
	if it.err != nil {
		it.valid = false
		return
	}
	original := it.current
	idx := it.restartBefore(original)
	if it.block.RestartPoint(idx) == original && idx > 0 {
		idx--
	}
	it.seekToRestart(idx)

	var prevKey, prevValue []byte
	var prevCurrent, prevNext int
	found := false
	for {
		it.Next()
		if !it.Valid() || it.current >= original {
			break
		}
		prevKey = append(prevKey[:0], it.key...)
		prevValue = it.value
		prevCurrent, prevNext = it.current, it.nextOffset
		found = true
	}
	if found {
		it.key, it.value = prevKey, prevValue
		it.current, it.nextOffset = prevCurrent, prevNext
		it.valid = true
	} else {
		it.valid = false
	}
}

// Seek positions the iterator at the first entry with key >= target. It
// tries the block's hash index first (exact restart-point hit), falling
// back to binary search over restart points when the index is absent or
// the bucket was marked conflicted, and also when the restart the index
// names begins after target.
func (it *Iterator) Seek(target []byte) {
	parsed, err := dbformat.Parse(target)
	startRestart := 0
	if err == nil && it.block.hashBuckets != nil {
		if idx, ok := probeHashIndex(it.block.hashBuckets, parsed.UserKey); ok {
			startRestart = idx
		} else {
			it.binarySeek(target)
			return
		}
	} else {
		it.binarySeek(target)
		return
	}

	it.seekToRestart(startRestart)
	it.Next()
	if it.Valid() && dbformat.Compare(it.key, target) > 0 {
		// The restart begins past target (a hash collision, or target's
		// newer versions sit in an earlier restart), so entries before it
		// may still be >= target.
		it.binarySeek(target)
		return
	}
	for it.Valid() && dbformat.Compare(it.key, target) < 0 {
		it.Next()
	}
}

func (it *Iterator) binarySeek(target []byte) {
	left, right := 0, it.block.numRestarts-1
	for left < right {
		mid := (left + right + 1) / 2
		it.seekToRestart(mid)
		it.Next()
		if !it.Valid() || dbformat.Compare(it.key, target) > 0 {
			right = mid - 1
		} else {
			left = mid
		}
	}
	it.seekToRestart(left)
	for {
		it.Next()
		if !it.Valid() {
			return
		}
		if dbformat.Compare(it.key, target) >= 0 {
			return
		}
	}
}

func (it *Iterator) restartBefore(target int) int {
	left, right := 0, it.block.numRestarts-1
	for left < right {
		mid := (left + right + 1) / 2
		if it.block.RestartPoint(mid) <= target {
			left = mid
		} else {
			right = mid - 1
		}
	}
	return left
}

func (it *Iterator) seekToRestart(idx int) {
	it.key = it.key[:0]
	it.value = nil
	it.valid = false
	off := 0
	if idx >= 0 {
		off = it.block.RestartPoint(idx)
	}
	it.current, it.nextOffset = off, off
}

func (it *Iterator) parseEntry() {
	if it.current >= it.dataEnd {
		it.valid = false
		return
	}
	data := it.data[it.current:]

	shared, n1, err := encoding.DecodeVarint32(data)
	if err != nil {
		it.err, it.valid = ErrCorrupt, false
		return
	}
	data = data[n1:]

	unshared, n2, err := encoding.DecodeVarint32(data)
	if err != nil {
		it.err, it.valid = ErrCorrupt, false
		return
	}
	data = data[n2:]

	valueLen, n3, err := encoding.DecodeVarint32(data)
	if err != nil {
		it.err, it.valid = ErrCorrupt, false
		return
	}
	data = data[n3:]

	if int(shared) > len(it.key) || len(data) < int(unshared)+int(valueLen) {
		it.err, it.valid = ErrCorrupt, false
		return
	}

	it.key = append(it.key[:shared], data[:unshared]...)
	data = data[unshared:]
	it.value = data[:valueLen]

	consumed := n1 + n2 + n3 + int(unshared) + int(valueLen)
	it.nextOffset = it.current + consumed
	it.valid = true
}
