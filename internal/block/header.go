// Package block implements the on-disk block format shared by data blocks,
// index blocks (both full and two-level), and filter blocks: a small fixed
// header, a compressed/uncompressed payload, and — for data and index
// blocks — a restart-interval prefix-compressed body with a binary index
// and an optional hash index.
package block

import (
	"errors"
	"fmt"

	"github.com/aalhour/lsmtree/internal/checksum"
	"github.com/aalhour/lsmtree/internal/compression"
	"github.com/aalhour/lsmtree/internal/encoding"
)

// Type identifies the kind of content a block carries. It is stored in the
// block header so a reader can tell a corrupt/mis-sized block apart from a
// block of the wrong kind.
type Type uint8

const (
	Data   Type = 0
	Index  Type = 1
	Filter Type = 2
	Meta   Type = 3
)

func (t Type) String() string {
	switch t {
	case Data:
		return "Data"
	case Index:
		return "Index"
	case Filter:
		return "Filter"
	case Meta:
		return "Meta"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// HeaderSize is the encoded length of Header: type(1) + compression(1) +
// reserved(2) + checksum(8) + data_length(4) + uncompressed_length(4).
const HeaderSize = 20

// Header precedes every on-disk block: block_type, a 64-bit checksum of the
// (possibly compressed) payload, the on-disk payload length, and the
// length the payload inflates to once decompressed.
type Header struct {
	Type               Type
	Compression        compression.Type
	Checksum           uint64
	DataLength         uint32
	UncompressedLength uint32
}

var (
	// ErrShortHeader is returned when fewer than HeaderSize bytes are
	// available to decode a Header.
	ErrShortHeader = errors.New("block: buffer shorter than header")

	// ErrChecksumMismatch is returned when a block's payload does not hash
	// to the checksum recorded in its header.
	ErrChecksumMismatch = errors.New("block: checksum mismatch")

	// ErrTruncated is returned when a block's recorded data_length exceeds
	// what is actually available.
	ErrTruncated = errors.New("block: truncated payload")
)

// Encode writes h's encoding to the front of dst, growing it as needed.
func (h Header) Encode(dst []byte) []byte {
	dst = append(dst, byte(h.Type), byte(h.Compression), 0, 0)
	dst = encoding.AppendFixed64(dst, h.Checksum)
	dst = encoding.AppendFixed32(dst, h.DataLength)
	dst = encoding.AppendFixed32(dst, h.UncompressedLength)
	return dst
}

// DecodeHeader decodes a Header from the front of src.
func DecodeHeader(src []byte) (Header, error) {
	if len(src) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	h := Header{
		Type:        Type(src[0]),
		Compression: compression.Type(src[1]),
	}
	h.Checksum = encoding.DecodeFixed64(src[4:12])
	h.DataLength = encoding.DecodeFixed32(src[12:16])
	h.UncompressedLength = encoding.DecodeFixed32(src[16:20])
	return h, nil
}

// Seal compresses body with codec c, wraps it in a Header + payload, and
// returns the full on-disk encoding of the block.
func Seal(t Type, c compression.Type, body []byte) ([]byte, error) {
	compressed, err := compression.Compress(c, body)
	if err != nil {
		return nil, fmt.Errorf("block: compress: %w", err)
	}
	h := Header{
		Type:               t,
		Compression:        c,
		Checksum:           checksum.Sum64(compressed),
		DataLength:         uint32(len(compressed)),
		UncompressedLength: uint32(len(body)),
	}
	out := make([]byte, 0, HeaderSize+len(compressed))
	out = h.Encode(out)
	out = append(out, compressed...)
	return out, nil
}

// Open decodes the header from the front of raw, verifies its checksum, and
// decompresses the payload, returning the body ready for Parse.
func Open(raw []byte) ([]byte, error) {
	h, err := DecodeHeader(raw)
	if err != nil {
		return nil, err
	}
	payload := raw[HeaderSize:]
	if uint32(len(payload)) < h.DataLength {
		return nil, ErrTruncated
	}
	payload = payload[:h.DataLength]
	if !checksum.Verify(payload, h.Checksum) {
		return nil, ErrChecksumMismatch
	}
	body, err := compression.Decompress(h.Compression, payload, int(h.UncompressedLength))
	if err != nil {
		return nil, fmt.Errorf("block: decompress: %w", err)
	}
	return body, nil
}
