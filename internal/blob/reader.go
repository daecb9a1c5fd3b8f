package blob

import (
	"errors"
	"io"

	"github.com/aalhour/lsmtree/internal/checksum"
	"github.com/aalhour/lsmtree/internal/compression"
)

// ReaderAt is the minimal file capability a Reader needs.
type ReaderAt interface {
	io.ReaderAt
}

// Reader serves point reads of an already-known Handle against one blob
// file, e.g. to resolve an Indirection entry lazily during a range scan.
type Reader struct {
	r        ReaderAt
	fileSize int64
	props    Properties
}

var ErrBadBlobFile = errors.New("blob: malformed blob file")

// ErrDanglingHandle is returned when an Indirection entry's handle no
// longer resolves to a live record — the blob file was GC'd out from
// under it without the tree's indirection also being rewritten. Callers
// see this as an ordinary error, never a panic.
var ErrDanglingHandle = errors.New("blob: dangling indirection handle")

// Open parses the trailer and meta block of a blob file.
func Open(r ReaderAt, fileSize int64) (*Reader, error) {
	if fileSize < trailerSize {
		return nil, ErrBadBlobFile
	}
	trailerBuf := make([]byte, trailerSize)
	if _, err := r.ReadAt(trailerBuf, fileSize-trailerSize); err != nil {
		return nil, err
	}
	trailer, err := DecodeTrailer(trailerBuf)
	if err != nil {
		return nil, err
	}
	metaBuf := make([]byte, trailer.MetaLength)
	if _, err := r.ReadAt(metaBuf, int64(trailer.MetaOffset)); err != nil {
		return nil, err
	}
	props, err := DecodeMetaBlock(metaBuf)
	if err != nil {
		return nil, err
	}
	return &Reader{r: r, fileSize: fileSize, props: props}, nil
}

func (r *Reader) Properties() Properties { return r.props }

// Resolve reads and decompresses the value addressed by h, verifying its
// checksum against the on-disk payload.
func (r *Reader) Resolve(h Handle) ([]byte, error) {
	if int64(h.Offset)+int64(h.OnDiskSize) > r.fileSize-trailerSize {
		return nil, ErrDanglingHandle
	}
	buf := make([]byte, h.OnDiskSize)
	if _, err := r.r.ReadAt(buf, int64(h.Offset)); err != nil {
		return nil, err
	}
	sumWant, keyLen, uncompressedLen, onDiskLen, err := decodeRecordHeader(buf)
	if err != nil {
		return nil, err
	}
	if headerLen+keyLen+int(onDiskLen) > len(buf) {
		return nil, ErrShortRecord
	}
	payload := buf[headerLen+keyLen : headerLen+keyLen+int(onDiskLen)]
	if !checksum.Verify(payload, sumWant) {
		return nil, ErrChecksum
	}
	return compression.Decompress(r.props.Compression, payload, int(uncompressedLen))
}
