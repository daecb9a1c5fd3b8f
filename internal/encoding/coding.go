// Package encoding provides the binary primitives used across the engine's
// on-disk formats: LEB128 varints and fixed-width integers.
//
// Per spec §6: multi-byte fixed-width integers are little-endian inside
// blocks, but big-endian in blob-record headers and magic prefixes. Both
// endiannesses are provided here so callers never reach for
// encoding/binary directly and risk picking the wrong one.
package encoding

import (
	"encoding/binary"
	"errors"
)

// MaxVarint32Len is the maximum number of bytes a varint32 can occupy.
const MaxVarint32Len = 5

// MaxVarint64Len is the maximum number of bytes a varint64 can occupy.
const MaxVarint64Len = 10

var (
	// ErrBufferTooSmall is returned when a buffer doesn't have enough
	// bytes to satisfy a decode.
	ErrBufferTooSmall = errors.New("encoding: buffer too small")

	// ErrVarintOverflow is returned when a varint would need more than
	// 32 or 64 bits to represent.
	ErrVarintOverflow = errors.New("encoding: varint overflow")

	// ErrVarintTruncated is returned when a varint's continuation bit is
	// set on the final byte of the input.
	ErrVarintTruncated = errors.New("encoding: varint truncated")
)

// -----------------------------------------------------------------------
// Fixed-width, little-endian (block-internal integers)
// -----------------------------------------------------------------------

func EncodeFixed16(dst []byte, v uint16) { binary.LittleEndian.PutUint16(dst, v) }
func DecodeFixed16(src []byte) uint16    { return binary.LittleEndian.Uint16(src) }

func EncodeFixed32(dst []byte, v uint32) { binary.LittleEndian.PutUint32(dst, v) }
func DecodeFixed32(src []byte) uint32    { return binary.LittleEndian.Uint32(src) }

func EncodeFixed64(dst []byte, v uint64) { binary.LittleEndian.PutUint64(dst, v) }
func DecodeFixed64(src []byte) uint64    { return binary.LittleEndian.Uint64(src) }

func AppendFixed16(dst []byte, v uint16) []byte { return binary.LittleEndian.AppendUint16(dst, v) }
func AppendFixed32(dst []byte, v uint32) []byte { return binary.LittleEndian.AppendUint32(dst, v) }
func AppendFixed64(dst []byte, v uint64) []byte { return binary.LittleEndian.AppendUint64(dst, v) }

// -----------------------------------------------------------------------
// Fixed-width, big-endian (blob-record headers, magic prefixes)
// -----------------------------------------------------------------------

func EncodeFixed16BE(dst []byte, v uint16) { binary.BigEndian.PutUint16(dst, v) }
func DecodeFixed16BE(src []byte) uint16    { return binary.BigEndian.Uint16(src) }

func EncodeFixed32BE(dst []byte, v uint32) { binary.BigEndian.PutUint32(dst, v) }
func DecodeFixed32BE(src []byte) uint32    { return binary.BigEndian.Uint32(src) }

func EncodeFixed64BE(dst []byte, v uint64) { binary.BigEndian.PutUint64(dst, v) }
func DecodeFixed64BE(src []byte) uint64    { return binary.BigEndian.Uint64(src) }

func AppendFixed16BE(dst []byte, v uint16) []byte { return binary.BigEndian.AppendUint16(dst, v) }
func AppendFixed32BE(dst []byte, v uint32) []byte { return binary.BigEndian.AppendUint32(dst, v) }
func AppendFixed64BE(dst []byte, v uint64) []byte { return binary.BigEndian.AppendUint64(dst, v) }

// -----------------------------------------------------------------------
// LEB128 varints
// -----------------------------------------------------------------------

// EncodeVarint32 writes value into dst as a varint and returns the number
// of bytes written. REQUIRES len(dst) >= MaxVarint32Len.
func EncodeVarint32(dst []byte, value uint32) int {
	i := 0
	for value >= 0x80 {
		dst[i] = byte(value) | 0x80
		value >>= 7
		i++
	}
	dst[i] = byte(value)
	return i + 1
}

// AppendVarint32 appends value to dst as a varint.
func AppendVarint32(dst []byte, value uint32) []byte {
	var buf [MaxVarint32Len]byte
	n := EncodeVarint32(buf[:], value)
	return append(dst, buf[:n]...)
}

// DecodeVarint32 decodes a varint32 from the front of src.
func DecodeVarint32(src []byte) (value uint32, n int, err error) {
	var result uint32
	for shift := uint(0); shift < 32; shift += 7 {
		if n >= len(src) {
			return 0, 0, ErrVarintTruncated
		}
		b := src[n]
		n++
		if b < 0x80 {
			return result | uint32(b)<<shift, n, nil
		}
		result |= uint32(b&0x7f) << shift
	}
	return 0, 0, ErrVarintOverflow
}

// EncodeVarint64 writes value into dst as a varint and returns the number
// of bytes written. REQUIRES len(dst) >= MaxVarint64Len.
func EncodeVarint64(dst []byte, value uint64) int {
	i := 0
	for value >= 0x80 {
		dst[i] = byte(value) | 0x80
		value >>= 7
		i++
	}
	dst[i] = byte(value)
	return i + 1
}

// AppendVarint64 appends value to dst as a varint.
func AppendVarint64(dst []byte, value uint64) []byte {
	var buf [MaxVarint64Len]byte
	n := EncodeVarint64(buf[:], value)
	return append(dst, buf[:n]...)
}

// DecodeVarint64 decodes a varint64 from the front of src.
func DecodeVarint64(src []byte) (value uint64, n int, err error) {
	var result uint64
	for shift := uint(0); shift < 64; shift += 7 {
		if n >= len(src) {
			return 0, 0, ErrVarintTruncated
		}
		b := src[n]
		n++
		if b < 0x80 {
			return result | uint64(b)<<shift, n, nil
		}
		result |= uint64(b&0x7f) << shift
	}
	return 0, 0, ErrVarintOverflow
}

// VarintLen32 returns the number of bytes EncodeVarint32 would write for v.
func VarintLen32(v uint32) int { return VarintLen64(uint64(v)) }

// VarintLen64 returns the number of bytes EncodeVarint64 would write for v.
func VarintLen64(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// -----------------------------------------------------------------------
// Length-prefixed byte strings
// -----------------------------------------------------------------------

// AppendLengthPrefixed appends value to dst as [varint32 len][bytes].
func AppendLengthPrefixed(dst []byte, value []byte) []byte {
	dst = AppendVarint32(dst, uint32(len(value)))
	return append(dst, value...)
}

// DecodeLengthPrefixed decodes a length-prefixed byte string from the
// front of src. The returned slice aliases src.
func DecodeLengthPrefixed(src []byte) (value []byte, n int, err error) {
	length, hn, err := DecodeVarint32(src)
	if err != nil {
		return nil, 0, err
	}
	if hn+int(length) > len(src) {
		return nil, 0, ErrBufferTooSmall
	}
	return src[hn : hn+int(length)], hn + int(length), nil
}

// Cursor sequentially decodes fields out of a byte slice, tracking
// position. It is a small convenience wrapper, used by the table TOC
// decoder, to avoid re-slicing by hand.
type Cursor struct {
	data []byte
	pos  int
}

func NewCursor(data []byte) *Cursor { return &Cursor{data: data} }

func (c *Cursor) Remaining() int  { return len(c.data) - c.pos }
func (c *Cursor) Rest() []byte    { return c.data[c.pos:] }
func (c *Cursor) Advance(n int)   { c.pos += n }
func (c *Cursor) Pos() int        { return c.pos }

func (c *Cursor) Fixed32() (uint32, error) {
	if c.Remaining() < 4 {
		return 0, ErrBufferTooSmall
	}
	v := DecodeFixed32(c.data[c.pos:])
	c.pos += 4
	return v, nil
}

func (c *Cursor) Fixed64() (uint64, error) {
	if c.Remaining() < 8 {
		return 0, ErrBufferTooSmall
	}
	v := DecodeFixed64(c.data[c.pos:])
	c.pos += 8
	return v, nil
}

func (c *Cursor) Varint32() (uint32, error) {
	v, n, err := DecodeVarint32(c.data[c.pos:])
	if err != nil {
		return 0, err
	}
	c.pos += n
	return v, nil
}

func (c *Cursor) Varint64() (uint64, error) {
	v, n, err := DecodeVarint64(c.data[c.pos:])
	if err != nil {
		return 0, err
	}
	c.pos += n
	return v, nil
}

func (c *Cursor) LengthPrefixed() ([]byte, error) {
	v, n, err := DecodeLengthPrefixed(c.data[c.pos:])
	if err != nil {
		return nil, err
	}
	c.pos += n
	return v, nil
}

func (c *Cursor) Bytes(n int) ([]byte, error) {
	if c.Remaining() < n {
		return nil, ErrBufferTooSmall
	}
	v := c.data[c.pos : c.pos+n]
	c.pos += n
	return v, nil
}
