// Package dbformat defines the internal key format shared by every layer
// of the engine: the memtable, the table (SST) reader/writer, the merge
// iterator, and the MVCC stream.
//
// An InternalKey is a UserKey plus an 8-byte trailer packing a 56-bit
// SeqNo and an 8-bit ValueType. Keys sort by user key ascending, then by
// trailer descending — so for any user key, the newest write sorts first.
package dbformat

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/aalhour/lsmtree/internal/encoding"
)

// SeqNo is a monotonically increasing write counter. Higher shadows lower
// for the same user key. SeqNo 0 is reserved for "GC-collapsed" entries
// (internal/mvcc zeroes the seqno of entries it knows are expired).
type SeqNo uint64

// MaxSeqNo is the largest seqno representable in the 56-bit trailer field.
const MaxSeqNo SeqNo = (1 << 56) - 1

// TrailerSize is the length in bytes of the (seqno, value_type) trailer
// appended to every user key to form an InternalKey.
const TrailerSize = 8

// ValueType tags the variant carried by an InternalValue. These values are
// embedded in the on-disk block format and must never be renumbered.
type ValueType uint8

const (
	// Value is a normal, live key-value pair.
	Value ValueType = 0

	// Tombstone is a deletion marker that shadows every earlier version of
	// the same user key.
	Tombstone ValueType = 1

	// WeakTombstone cancels exactly one subsequent Value for the same user
	// key ("single delete" / undo-last-put semantics).
	WeakTombstone ValueType = 2

	// Indirection means the value body is an encoded BlobHandle pointing
	// into the value log rather than the literal value bytes.
	Indirection ValueType = 3
)

// maxValueType is the highest value type currently defined; used to reject
// corrupt trailers during decode.
const maxValueType = Indirection

func (t ValueType) String() string {
	switch t {
	case Value:
		return "Value"
	case Tombstone:
		return "Tombstone"
	case WeakTombstone:
		return "WeakTombstone"
	case Indirection:
		return "Indirection"
	default:
		return fmt.Sprintf("ValueType(%d)", uint8(t))
	}
}

// IsTombstone reports whether t shadows (rather than carries) data.
func (t ValueType) IsTombstone() bool {
	return t == Tombstone || t == WeakTombstone
}

var (
	// ErrKeyTooShort is returned when a buffer is shorter than TrailerSize.
	ErrKeyTooShort = errors.New("dbformat: internal key shorter than trailer")

	// ErrInvalidValueType is returned when a trailer's type byte is outside
	// the four known variants.
	ErrInvalidValueType = errors.New("dbformat: invalid value type byte")
)

// packTrailer packs a seqno and value type into the 64-bit trailer word.
// The seqno occupies the upper 56 bits, the type the lower 8.
func packTrailer(seq SeqNo, t ValueType) uint64 {
	return (uint64(seq) << 8) | uint64(t)
}

func unpackTrailer(word uint64) (SeqNo, ValueType) {
	return SeqNo(word >> 8), ValueType(word & 0xFF)
}

// ParsedKey is the decomposed form of an InternalKey, convenient for
// construction and for passing around without re-parsing the trailer.
type ParsedKey struct {
	UserKey []byte
	Seq     SeqNo
	Type    ValueType
}

// EncodedLen returns the length of p once encoded as an InternalKey.
func (p *ParsedKey) EncodedLen() int {
	return len(p.UserKey) + TrailerSize
}

// AppendTo appends the InternalKey encoding of p to dst and returns the
// extended slice.
func (p *ParsedKey) AppendTo(dst []byte) []byte {
	dst = append(dst, p.UserKey...)
	return encoding.AppendFixed64(dst, packTrailer(p.Seq, p.Type))
}

func (p *ParsedKey) String() string {
	return fmt.Sprintf("%q@%d/%s", p.UserKey, p.Seq, p.Type)
}

// InternalKey is an encoded (user_key, seqno, value_type) triple.
type InternalKey []byte

// New encodes a fresh InternalKey from its parts.
func New(userKey []byte, seq SeqNo, t ValueType) InternalKey {
	p := ParsedKey{UserKey: userKey, Seq: seq, Type: t}
	return p.AppendTo(make([]byte, 0, p.EncodedLen()))
}

// Parse decodes k into its parts. The returned UserKey aliases k.
func Parse(k []byte) (ParsedKey, error) {
	if len(k) < TrailerSize {
		return ParsedKey{}, ErrKeyTooShort
	}
	n := len(k)
	word := encoding.DecodeFixed64(k[n-TrailerSize:])
	seq, t := unpackTrailer(word)
	if t > maxValueType {
		return ParsedKey{}, ErrInvalidValueType
	}
	return ParsedKey{UserKey: k[:n-TrailerSize], Seq: seq, Type: t}, nil
}

// UserKey returns the user-key portion of k without validating the trailer.
// REQUIRES: len(k) >= TrailerSize.
func (k InternalKey) UserKey() []byte {
	if len(k) < TrailerSize {
		return nil
	}
	return k[:len(k)-TrailerSize]
}

// SeqNo returns the sequence number encoded in k's trailer.
func (k InternalKey) SeqNo() SeqNo {
	if len(k) < TrailerSize {
		return 0
	}
	word := encoding.DecodeFixed64(k[len(k)-TrailerSize:])
	seq, _ := unpackTrailer(word)
	return seq
}

// ValueType returns the value type encoded in k's trailer.
func (k InternalKey) ValueType() ValueType {
	if len(k) < TrailerSize {
		return Value
	}
	word := encoding.DecodeFixed64(k[len(k)-TrailerSize:])
	_, t := unpackTrailer(word)
	return t
}

// SetSeqNo rewrites k's trailer in place with a new seqno, preserving the
// value type. Used by the MVCC stream to zero the seqno of entries it has
// proven are already expired (spec §4.5, GC-seqno-threshold collapse).
func (k InternalKey) SetSeqNo(seq SeqNo) {
	if len(k) < TrailerSize {
		return
	}
	n := len(k)
	word := encoding.DecodeFixed64(k[n-TrailerSize:])
	_, t := unpackTrailer(word)
	encoding.EncodeFixed64(k[n-TrailerSize:], packTrailer(seq, t))
}

// SetValueType rewrites k's trailer in place with a new value type,
// preserving the seqno. Used by flush to rewrite a Value entry into an
// Indirection once its payload has been relocated to the value log.
func (k InternalKey) SetValueType(t ValueType) {
	if len(k) < TrailerSize {
		return
	}
	n := len(k)
	word := encoding.DecodeFixed64(k[n-TrailerSize:])
	seq, _ := unpackTrailer(word)
	encoding.EncodeFixed64(k[n-TrailerSize:], packTrailer(seq, t))
}

// UserCompare orders two user keys lexicographically.
func UserCompare(a, b []byte) int {
	return bytes.Compare(a, b)
}

// Compare orders two InternalKeys: user key ascending, then trailer
// descending (so a higher seqno/value-type sorts first for equal user
// keys). Keys shorter than TrailerSize are treated as bare user keys with
// an implicit trailer of zero, which lets callers probe with a plain user
// key via Seek.
func Compare(a, b []byte) int {
	ua, ta := splitTrailer(a)
	ub, tb := splitTrailer(b)

	if c := bytes.Compare(ua, ub); c != 0 {
		return c
	}
	switch {
	case ta > tb:
		return -1
	case ta < tb:
		return 1
	default:
		return 0
	}
}

func splitTrailer(k []byte) ([]byte, uint64) {
	if len(k) < TrailerSize {
		return k, 0
	}
	n := len(k)
	return k[:n-TrailerSize], encoding.DecodeFixed64(k[n-TrailerSize:])
}

// SeekKey builds an InternalKey suitable for seeking to the first entry of
// userKey visible to any reader: the largest possible trailer (max seqno,
// max value type) sorts first among same-user-key entries.
func SeekKey(userKey []byte) InternalKey {
	return New(userKey, MaxSeqNo, maxValueType)
}
