// builder.go assembles a block body: restart-interval prefix-compressed
// entries, a binary index of restart-point offsets, and an optional hash
// index for O(1) point lookups. Adapted from a LevelDB/RocksDB-style
// block builder, generalized with the hash index the spec's point-read
// path wants.
package block

import (
	"github.com/aalhour/lsmtree/internal/dbformat"
	"github.com/aalhour/lsmtree/internal/encoding"
)

// DefaultRestartInterval matches the common RocksDB/LevelDB default: one
// full key stored every 16 entries, the rest delta-encoded against it.
const DefaultRestartInterval = 16

// Builder accumulates key-value entries in sorted order and serializes
// them into a block body (the region Header.Seal compresses and wraps).
type Builder struct {
	buf             []byte
	restartOffsets  []uint32 // byte offset, in buf, of each restart point
	restartKeys     [][]byte // first key at each restart point, for the hash index
	counter         int
	restartInterval int
	useHashIndex    bool
	lastKey         []byte
	finished        bool
}

// NewBuilder creates a Builder with the given restart interval and whether
// to also build a hash index (skipped automatically once the restart count
// exceeds what the hash index format can address).
func NewBuilder(restartInterval int, useHashIndex bool) *Builder {
	if restartInterval < 1 {
		restartInterval = 1
	}
	return &Builder{
		buf:             make([]byte, 0, 4096),
		restartInterval: restartInterval,
		useHashIndex:    useHashIndex,
		restartOffsets:  []uint32{0},
	}
}

// Reset clears b for reuse.
func (b *Builder) Reset() {
	b.buf = b.buf[:0]
	b.restartOffsets = b.restartOffsets[:1]
	b.restartOffsets[0] = 0
	b.restartKeys = b.restartKeys[:0]
	b.counter = 0
	b.lastKey = b.lastKey[:0]
	b.finished = false
}

// Empty reports whether any entry has been added since the last Reset.
func (b *Builder) Empty() bool { return len(b.buf) == 0 }

// Add appends a key-value entry. REQUIRES: key > every previously added
// key, and Finish has not been called since the last Reset.
func (b *Builder) Add(key, value []byte) {
	if b.finished {
		panic("block: Add called after Finish")
	}

	shared := 0
	if b.counter < b.restartInterval {
		shared = sharedPrefixLen(b.lastKey, key)
	} else {
		b.restartOffsets = append(b.restartOffsets, uint32(len(b.buf)))
		b.restartKeys = append(b.restartKeys, append([]byte(nil), key...))
		b.counter = 0
	}
	if len(b.restartKeys) == 0 {
		b.restartKeys = append(b.restartKeys, append([]byte(nil), key...))
	}

	unshared := len(key) - shared
	b.buf = encoding.AppendVarint32(b.buf, uint32(shared))
	b.buf = encoding.AppendVarint32(b.buf, uint32(unshared))
	b.buf = encoding.AppendVarint32(b.buf, uint32(len(value)))
	b.buf = append(b.buf, key[shared:]...)
	b.buf = append(b.buf, value...)

	b.lastKey = append(b.lastKey[:0], key...)
	b.counter++
}

// CurrentSizeEstimate estimates the serialized size of the block body if
// Finish were called right now.
func (b *Builder) CurrentSizeEstimate() int {
	n := len(b.buf) + len(b.restartOffsets)*4 + 8
	if b.useHashIndex && len(b.restartOffsets) <= maxHashIndexRestarts {
		n += int(float64(len(b.restartOffsets))/hashIndexLoadFactor) + 1
	}
	return n
}

// Finish serializes the accumulated entries, binary index, and (if
// requested and eligible) hash index into a single body slice, valid until
// the next Reset.
func (b *Builder) Finish() []byte {
	numRestarts := len(b.restartOffsets)

	var numBuckets uint32
	if b.useHashIndex {
		buckets := buildHashIndex(func(i int) []byte {
			if p, err := dbformat.Parse(b.restartKeys[i]); err == nil {
				return p.UserKey
			}
			return b.restartKeys[i]
		}, numRestarts)
		if buckets != nil {
			numBuckets = uint32(len(buckets))
			b.buf = append(b.buf, buckets...)
		}
	}

	for _, off := range b.restartOffsets {
		b.buf = encoding.AppendFixed32(b.buf, off)
	}

	b.buf = encoding.AppendFixed32(b.buf, uint32(numRestarts))
	b.buf = encoding.AppendFixed32(b.buf, numBuckets)

	b.finished = true
	return b.buf
}

func sharedPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
