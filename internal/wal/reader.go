package wal

import (
	"io"

	"github.com/aalhour/lsmtree/internal/checksum"
	"github.com/aalhour/lsmtree/internal/encoding"
)

// Reader replays records from a WAL file, stopping at the first
// truncated or checksum-mismatched record — a torn trailing record is
// exactly what an unsynced crash leaves behind, so replay treats it as
// end-of-log rather than a hard error (spec §7: partial writes are
// recoverable, not Unrecoverable).
type Reader struct {
	data   []byte
	offset int
}

// NewReader reads every byte of r (a WAL file is replayed once, in full,
// at recovery) and returns a Reader positioned at the start.
func NewReader(r io.Reader) (*Reader, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return &Reader{data: data}, nil
}

// Next returns the next record's payload, or ok=false when the log ends
// cleanly or a torn/corrupt trailing record is encountered. truncated
// reports whether bytes remain that could not be parsed as a full record
// (the caller may want to truncate the file back to Offset() before
// appending further writes).
func (r *Reader) Next() (payload []byte, ok bool, truncated bool) {
	if r.offset+8 > len(r.data) {
		return nil, false, r.offset != len(r.data)
	}
	sumWant := encoding.DecodeFixed64(r.data[r.offset : r.offset+8])
	body := r.data[r.offset+8:]

	length, n, err := encoding.DecodeVarint32(body)
	if err != nil {
		return nil, false, true
	}
	bodyLen := n + int(length)
	if bodyLen > len(body) {
		return nil, false, true
	}
	if !checksum.Verify(body[:bodyLen], sumWant) {
		return nil, false, true
	}

	payload = body[n:bodyLen]
	r.offset += 8 + bodyLen
	return payload, true, false
}

// Offset returns the byte position up to which every record has verified
// cleanly.
func (r *Reader) Offset() int { return r.offset }
