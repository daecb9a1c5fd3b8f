package blob

import (
	"io"

	"github.com/aalhour/lsmtree/internal/compression"
)

// Writer appends records to one blob file in user-key-ascending order and
// finishes with a meta block + trailer, mirroring table.Builder's
// write-as-you-go shape so a blob file never needs to be buffered whole.
type Writer struct {
	w      io.Writer
	fileID uint64
	codec  compression.Type

	offset uint64

	itemCount      uint64
	keyMin, keyMax []byte
	totalBytes     uint64
	seenFirst      bool
	err            error
}

// NewWriter creates a Writer for blob file fileID, writing to w with the
// given compression codec, used as given (zero, compression.None, stores
// values uncompressed).
func NewWriter(w io.Writer, fileID uint64, codec compression.Type) *Writer {
	return &Writer{w: w, fileID: fileID, codec: codec}
}

// Write appends one (key, value) record, compressing the value with the
// writer's codec, and returns the Handle an Indirection entry should carry
// to find this record again.
func (bw *Writer) Write(key, value []byte) (Handle, error) {
	if bw.err != nil {
		return Handle{}, bw.err
	}
	payload, err := compression.Compress(bw.codec, value)
	if err != nil {
		bw.err = err
		return Handle{}, err
	}
	rec := encodeRecord(key, payload, uint32(len(value)))
	start := bw.offset

	if !bw.seenFirst {
		bw.keyMin = append([]byte(nil), key...)
		bw.seenFirst = true
	}
	bw.keyMax = append(bw.keyMax[:0], key...)
	bw.itemCount++
	bw.totalBytes += uint64(len(payload))

	if _, err := bw.w.Write(rec); err != nil {
		bw.err = err
		return Handle{}, err
	}
	bw.offset += uint64(len(rec))
	return Handle{FileID: bw.fileID, Offset: start, OnDiskSize: uint32(len(rec))}, nil
}

// Offset returns the writer's current position: the offset the next
// record will start at, and the offset a just-returned record's handle
// should subtract onDiskSize from to recover its start.
func (bw *Writer) Offset() uint64 { return bw.offset }

// BlobFileID returns the id this writer is producing.
func (bw *Writer) BlobFileID() uint64 { return bw.fileID }

// Finish writes the meta block and trailer and returns the file's
// properties for the caller to hand to the manifest as a version edit.
func (bw *Writer) Finish() (Properties, error) {
	if bw.err != nil {
		return Properties{}, bw.err
	}
	props := Properties{
		FileID:      bw.fileID,
		ItemCount:   bw.itemCount,
		KeyMin:      bw.keyMin,
		KeyMax:      bw.keyMax,
		TotalBytes:  bw.totalBytes,
		Compression: bw.codec,
	}
	metaBody := EncodeMetaBlock(props, 16)
	metaOff := bw.offset
	if _, err := bw.w.Write(metaBody); err != nil {
		return Properties{}, err
	}
	bw.offset += uint64(len(metaBody))

	trailer := Trailer{
		MetaOffset:    metaOff,
		MetaLength:    uint64(len(metaBody)),
		Magic:         fileMagic,
		FormatVersion: formatVersion,
	}
	if _, err := bw.w.Write(trailer.Encode()); err != nil {
		return Properties{}, err
	}
	bw.offset += trailerSize
	return props, nil
}
