package blob

import (
	"io"

	"github.com/aalhour/lsmtree/internal/checksum"
	"github.com/aalhour/lsmtree/internal/compression"
)

// Scanner streams every record of a blob file in on-disk (user-key-ascending)
// order, used by GC and by RelocatingCompaction's merge scanner to rewrite
// surviving values into a fresh blob file.
type Scanner struct {
	r          ReaderAt
	offset     int64
	end        int64 // stop before meta block / trailer
	compression compression.Type

	key      []byte
	value    []byte
	checksum uint64
	curStart int64
	err      error
}

// NewScanner opens a forward scanner over every record in a blob file.
func NewScanner(r ReaderAt, fileSize int64) (*Scanner, error) {
	rd, err := Open(r, fileSize)
	if err != nil {
		return nil, err
	}
	trailerBuf := make([]byte, trailerSize)
	if _, err := r.ReadAt(trailerBuf, fileSize-trailerSize); err != nil {
		return nil, err
	}
	trailer, err := DecodeTrailer(trailerBuf)
	if err != nil {
		return nil, err
	}
	return &Scanner{r: r, offset: 0, end: int64(trailer.MetaOffset), compression: rd.props.Compression}, nil
}

// Next advances to the next record, returning false at end-of-file or on
// error (check Err()).
func (s *Scanner) Next() bool {
	if s.err != nil || s.offset >= s.end {
		return false
	}
	start := s.offset
	hdr := make([]byte, headerLen)
	if _, err := s.r.ReadAt(hdr, s.offset); err != nil {
		if err != io.EOF {
			s.err = err
		}
		return false
	}
	sumWant, keyLen, uncompressedLen, onDiskLen, err := decodeRecordHeader(hdr)
	if err != nil {
		s.err = err
		return false
	}
	rest := make([]byte, keyLen+int(onDiskLen))
	if _, err := s.r.ReadAt(rest, s.offset+int64(headerLen)); err != nil {
		s.err = err
		return false
	}
	key := rest[:keyLen]
	payload := rest[keyLen:]
	if !checksum.Verify(payload, sumWant) {
		s.err = ErrChecksum
		return false
	}
	value, err := compression.Decompress(s.compression, payload, int(uncompressedLen))
	if err != nil {
		s.err = err
		return false
	}
	s.key = key
	s.value = value
	s.checksum = sumWant
	s.curStart = start
	s.offset += int64(headerLen + keyLen + int(onDiskLen))
	return true
}

func (s *Scanner) Key() []byte      { return s.key }
func (s *Scanner) Value() []byte    { return s.value }
func (s *Scanner) Checksum() uint64 { return s.checksum }
func (s *Scanner) Err() error       { return s.err }

// Offset returns the file offset at which the current record (the one
// last returned by Next) begins, matching blob.Handle.Offset so a
// caller can line up an Indirection's handle against the record a
// merge scanner is positioned on.
func (s *Scanner) Offset() int64 { return s.curStart }
