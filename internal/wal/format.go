// Package wal implements the write-ahead log Tree.Insert/Remove append to
// before touching the memtable (spec §1 scopes the WAL itself out as an
// external collaborator; this package is kept deliberately thin — one
// record type, no block recycling — but real: every write is checksummed
// and replayable).
//
// Record format: [checksum u64][length varint32][payload]. Checksummed
// bytes are length+payload, so truncation is itself detected as a
// checksum mismatch rather than needing a separate length sanity check.
package wal

import (
	"errors"

	"github.com/aalhour/lsmtree/internal/checksum"
	"github.com/aalhour/lsmtree/internal/encoding"
)

// MaxHeaderSize is checksum(8) + length varint32 (up to MaxVarint32Len).
const MaxHeaderSize = 8 + encoding.MaxVarint32Len

var (
	ErrCorruptRecord  = errors.New("wal: corrupt record")
	ErrChecksumFailed = errors.New("wal: checksum mismatch")
)

// encodeRecord returns the on-disk bytes for one WAL record.
func encodeRecord(payload []byte) []byte {
	body := encoding.AppendVarint32(nil, uint32(len(payload)))
	body = append(body, payload...)
	sum := checksum.Sum64(body)
	out := encoding.AppendFixed64(nil, sum)
	out = append(out, body...)
	return out
}
