// Package blob implements the value log: append-only blob files holding
// large values out-of-line from the LSM tree proper, addressed by
// InternalValue entries tagged Indirection (spec §4.7).
package blob

import (
	"encoding/binary"
	"errors"

	"github.com/aalhour/lsmtree/internal/checksum"
	"github.com/aalhour/lsmtree/internal/compression"
	"github.com/aalhour/lsmtree/internal/encoding"
)

// recordMagic marks the start of every blob record, letting a scanner
// resynchronize after a torn write during recovery.
const recordMagic uint32 = 0x424C4F42 // "BLOB"

// checksumFieldLen is the on-disk width of the record checksum. The
// engine's one checksum primitive (internal/checksum) is 64 bits; the
// upper 8 bytes are reserved/zero so the wire format has room to widen
// without another format revision.
const checksumFieldLen = 16

// headerLen is magic(4) + checksum(16) + key_len(2) + uncompressed_len(4)
// + on_disk_len(4).
const headerLen = 4 + checksumFieldLen + 2 + 4 + 4

var (
	ErrBadMagic      = errors.New("blob: bad record magic")
	ErrChecksum      = errors.New("blob: checksum mismatch")
	ErrShortRecord   = errors.New("blob: truncated record")
)

// Handle is the indirection payload stored in place of a literal value:
// where in the value log the real bytes live.
type Handle struct {
	FileID    uint64
	Offset    uint64
	OnDiskSize uint32
}

// Encode appends the handle's encoding to dst (used as the payload of a
// dbformat.Indirection entry).
func (h Handle) Encode(dst []byte) []byte {
	dst = encoding.AppendFixed64(dst, h.FileID)
	dst = encoding.AppendFixed64(dst, h.Offset)
	dst = encoding.AppendFixed32(dst, h.OnDiskSize)
	return dst
}

var ErrShortHandle = errors.New("blob: buffer shorter than handle")

// DecodeHandle decodes a Handle previously written by Encode.
func DecodeHandle(src []byte) (Handle, error) {
	if len(src) < 20 {
		return Handle{}, ErrShortHandle
	}
	return Handle{
		FileID:     encoding.DecodeFixed64(src[0:8]),
		Offset:     encoding.DecodeFixed64(src[8:16]),
		OnDiskSize: encoding.DecodeFixed32(src[16:20]),
	}, nil
}

// record is one encoded blob-log entry; header fields are big-endian per
// spec §6's rule for blob-record headers and magic prefixes.
type record struct {
	Key              []byte
	Value            []byte // on-disk bytes (possibly compressed)
	UncompressedLen  uint32
}

func encodeRecord(key, onDiskValue []byte, uncompressedLen uint32) []byte {
	out := make([]byte, 0, headerLen+len(key)+len(onDiskValue))
	var magicBuf [4]byte
	binary.BigEndian.PutUint32(magicBuf[:], recordMagic)
	out = append(out, magicBuf[:]...)

	sum := checksum.Sum64(onDiskValue)
	var sumBuf [checksumFieldLen]byte
	binary.BigEndian.PutUint64(sumBuf[8:], sum)
	out = append(out, sumBuf[:]...)

	out = encoding.AppendFixed16BE(out, uint16(len(key)))
	out = encoding.AppendFixed32BE(out, uncompressedLen)
	out = encoding.AppendFixed32BE(out, uint32(len(onDiskValue)))
	out = append(out, key...)
	out = append(out, onDiskValue...)
	return out
}

// decodeRecordHeader parses the fixed header at the front of buf,
// returning the key length and the two value-length fields.
func decodeRecordHeader(buf []byte) (checksumWant uint64, keyLen int, uncompressedLen, onDiskLen uint32, err error) {
	if len(buf) < headerLen {
		return 0, 0, 0, 0, ErrShortRecord
	}
	if binary.BigEndian.Uint32(buf[0:4]) != recordMagic {
		return 0, 0, 0, 0, ErrBadMagic
	}
	checksumWant = binary.BigEndian.Uint64(buf[4+8 : 4+checksumFieldLen])
	keyLen = int(binary.BigEndian.Uint16(buf[4+checksumFieldLen : 4+checksumFieldLen+2]))
	uncompressedLen = binary.BigEndian.Uint32(buf[4+checksumFieldLen+2 : 4+checksumFieldLen+6])
	onDiskLen = binary.BigEndian.Uint32(buf[4+checksumFieldLen+6 : headerLen])
	return checksumWant, keyLen, uncompressedLen, onDiskLen, nil
}

// DefaultCodec is the compression codec blob files are written with; value
// logs typically favor a stronger/slower codec than table data blocks
// since large values amortize the encoder cost (spec's domain-stack note
// on Zstd for blob files).
var DefaultCodec = compression.Zstd
