// Package batch implements WriteBatch: a sequence of Put/Delete/
// SingleDelete operations applied to the memtable atomically, with one
// WAL record per batch (spec §1 treats WAL/Batch as external
// collaborators; this package exists only so Tree.Insert/Remove have
// somewhere realistic to accumulate writes before the memtable).
package batch

import (
	"errors"

	"github.com/aalhour/lsmtree/internal/encoding"
)

// Tag identifies one record's operation within a batch's encoded form.
type Tag byte

const (
	TagPut          Tag = 1
	TagDelete       Tag = 2
	TagSingleDelete Tag = 3
)

// Batch accumulates operations and encodes them as
// [count varint32]{[tag][key len-prefixed]([value len-prefixed] if Put)}*.
type Batch struct {
	count uint32
	buf   []byte
}

// New returns an empty batch.
func New() *Batch { return &Batch{} }

func (b *Batch) Put(key, value []byte) {
	b.buf = append(b.buf, byte(TagPut))
	b.buf = encoding.AppendLengthPrefixed(b.buf, key)
	b.buf = encoding.AppendLengthPrefixed(b.buf, value)
	b.count++
}

func (b *Batch) Delete(key []byte) {
	b.buf = append(b.buf, byte(TagDelete))
	b.buf = encoding.AppendLengthPrefixed(b.buf, key)
	b.count++
}

func (b *Batch) SingleDelete(key []byte) {
	b.buf = append(b.buf, byte(TagSingleDelete))
	b.buf = encoding.AppendLengthPrefixed(b.buf, key)
	b.count++
}

func (b *Batch) Count() uint32 { return b.count }

func (b *Batch) Clear() {
	b.count = 0
	b.buf = b.buf[:0]
}

// Data returns the batch's wire encoding: [count varint32][records...].
func (b *Batch) Data() []byte {
	out := encoding.AppendVarint32(nil, b.count)
	return append(out, b.buf...)
}

var ErrCorruptBatch = errors.New("batch: corrupt encoding")

// NewFromData decodes a batch previously produced by Data, e.g. after
// reading it back from a WAL record during recovery.
func NewFromData(data []byte) (*Batch, error) {
	count, n, err := encoding.DecodeVarint32(data)
	if err != nil {
		return nil, ErrCorruptBatch
	}
	return &Batch{count: count, buf: append([]byte(nil), data[n:]...)}, nil
}

// Handler receives each operation during Iterate, in the order the batch
// was built.
type Handler interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	SingleDelete(key []byte) error
}

// Iterate replays every record in the batch against h, e.g. applying a
// recovered batch to the memtable.
func (b *Batch) Iterate(h Handler) error {
	data := b.buf
	for len(data) > 0 {
		tag := Tag(data[0])
		data = data[1:]
		key, n, err := encoding.DecodeLengthPrefixed(data)
		if err != nil {
			return ErrCorruptBatch
		}
		data = data[n:]
		switch tag {
		case TagPut:
			value, n, err := encoding.DecodeLengthPrefixed(data)
			if err != nil {
				return ErrCorruptBatch
			}
			data = data[n:]
			if err := h.Put(key, value); err != nil {
				return err
			}
		case TagDelete:
			if err := h.Delete(key); err != nil {
				return err
			}
		case TagSingleDelete:
			if err := h.SingleDelete(key); err != nil {
				return err
			}
		default:
			return ErrCorruptBatch
		}
	}
	return nil
}
