// Package table implements the on-disk SST-style table format (spec §4.2):
// data blocks, a full or two-level (partitioned) index, an optional filter
// block, a meta block, and a table-of-contents trailer mapping region
// names to (offset, length).
package table

import "github.com/aalhour/lsmtree/internal/encoding"

// BlockHandle locates a block within a table file.
type BlockHandle struct {
	Offset uint64
	Size   uint32
}

// Encode appends the handle's varint encoding to dst.
func (h BlockHandle) Encode(dst []byte) []byte {
	dst = encoding.AppendVarint64(dst, h.Offset)
	dst = encoding.AppendVarint32(dst, h.Size)
	return dst
}

// DecodeBlockHandle decodes a handle from the front of src, returning the
// number of bytes consumed.
func DecodeBlockHandle(src []byte) (BlockHandle, int, error) {
	off, n1, err := encoding.DecodeVarint64(src)
	if err != nil {
		return BlockHandle{}, 0, err
	}
	size, n2, err := encoding.DecodeVarint32(src[n1:])
	if err != nil {
		return BlockHandle{}, 0, err
	}
	return BlockHandle{Offset: off, Size: size}, n1 + n2, nil
}
