package manifest

import (
	"errors"

	"github.com/aalhour/lsmtree/internal/dbformat"
	"github.com/aalhour/lsmtree/internal/encoding"
)

var (
	ErrCorruptEdit  = errors.New("manifest: corrupt version edit")
	ErrUnknownTag   = errors.New("manifest: unknown tag")
)

// TableInfo describes one table file being added to a level.
type TableInfo struct {
	ID       uint64
	Level    int
	KeyMin   []byte
	KeyMax   []byte
	SeqnoMin dbformat.SeqNo
	SeqnoMax dbformat.SeqNo
	ItemCount uint64
	FileSize  uint64
}

// RemovedTable identifies a table file being dropped from a level.
type RemovedTable struct {
	ID    uint64
	Level int
}

// BlobFileInfo describes one blob (value-log) file being added.
type BlobFileInfo struct {
	ID         uint64
	TotalBytes uint64
}

// Edit is the set of changes one compaction, flush, or GC sweep applies
// to a Version: added/removed tables, added/removed blob files, the
// change in dead (fragmented) blob bytes, and optionally a new eviction
// watermark (spec §4.6's VersionEdit).
type Edit struct {
	AddedTables   []TableInfo
	RemovedTables []RemovedTable

	AddedBlobFiles   []BlobFileInfo
	RemovedBlobFiles []uint64

	HasFragmentationDelta bool
	FragmentationDelta    int64

	HasNewEvictionSeqno bool
	NewEvictionSeqno    uint64

	HasNextFileID bool
	NextFileID    uint64

	HasLastSeqno bool
	LastSeqno    uint64
}

func putVarint64(dst []byte, v uint64) []byte { return encoding.AppendVarint64(dst, v) }
func putVarint32(dst []byte, v uint32) []byte { return encoding.AppendVarint32(dst, v) }
func putBytes(dst []byte, b []byte) []byte    { return encoding.AppendLengthPrefixed(dst, b) }

// Encode serializes e as a sequence of [tag varint32][fields...] entries.
func (e *Edit) Encode() []byte {
	var buf []byte

	for _, t := range e.AddedTables {
		buf = putVarint32(buf, uint32(TagAddedTable))
		buf = putVarint32(buf, uint32(t.Level))
		buf = putVarint64(buf, t.ID)
		buf = putBytes(buf, t.KeyMin)
		buf = putBytes(buf, t.KeyMax)
		buf = putVarint64(buf, uint64(t.SeqnoMin))
		buf = putVarint64(buf, uint64(t.SeqnoMax))
		buf = putVarint64(buf, t.ItemCount)
		buf = putVarint64(buf, t.FileSize)
	}
	for _, r := range e.RemovedTables {
		buf = putVarint32(buf, uint32(TagRemovedTable))
		buf = putVarint32(buf, uint32(r.Level))
		buf = putVarint64(buf, r.ID)
	}
	for _, b := range e.AddedBlobFiles {
		buf = putVarint32(buf, uint32(TagAddedBlobFile))
		buf = putVarint64(buf, b.ID)
		buf = putVarint64(buf, b.TotalBytes)
	}
	for _, id := range e.RemovedBlobFiles {
		buf = putVarint32(buf, uint32(TagRemovedBlobFile))
		buf = putVarint64(buf, id)
	}
	if e.HasFragmentationDelta {
		buf = putVarint32(buf, uint32(TagFragmentationDelta))
		buf = putVarint64(buf, uint64(e.FragmentationDelta))
	}
	if e.HasNewEvictionSeqno {
		buf = putVarint32(buf, uint32(TagNewEvictionSeqno))
		buf = putVarint64(buf, e.NewEvictionSeqno)
	}
	if e.HasNextFileID {
		buf = putVarint32(buf, uint32(TagNextFileID))
		buf = putVarint64(buf, e.NextFileID)
	}
	if e.HasLastSeqno {
		buf = putVarint32(buf, uint32(TagLastSeqno))
		buf = putVarint64(buf, e.LastSeqno)
	}
	return buf
}

// Decode parses an Edit previously produced by Encode.
func Decode(data []byte) (*Edit, error) {
	e := &Edit{}
	for len(data) > 0 {
		tagVal, n, err := encoding.DecodeVarint32(data)
		if err != nil {
			return nil, ErrCorruptEdit
		}
		data = data[n:]

		switch Tag(tagVal) {
		case TagAddedTable:
			level, n, err := encoding.DecodeVarint32(data)
			if err != nil {
				return nil, ErrCorruptEdit
			}
			data = data[n:]
			id, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return nil, ErrCorruptEdit
			}
			data = data[n:]
			keyMin, n, err := encoding.DecodeLengthPrefixed(data)
			if err != nil {
				return nil, ErrCorruptEdit
			}
			data = data[n:]
			keyMax, n, err := encoding.DecodeLengthPrefixed(data)
			if err != nil {
				return nil, ErrCorruptEdit
			}
			data = data[n:]
			seqMin, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return nil, ErrCorruptEdit
			}
			data = data[n:]
			seqMax, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return nil, ErrCorruptEdit
			}
			data = data[n:]
			items, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return nil, ErrCorruptEdit
			}
			data = data[n:]
			size, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return nil, ErrCorruptEdit
			}
			data = data[n:]
			e.AddedTables = append(e.AddedTables, TableInfo{
				ID:        id,
				Level:     int(level),
				KeyMin:    append([]byte(nil), keyMin...),
				KeyMax:    append([]byte(nil), keyMax...),
				SeqnoMin:  dbformat.SeqNo(seqMin),
				SeqnoMax:  dbformat.SeqNo(seqMax),
				ItemCount: items,
				FileSize:  size,
			})

		case TagRemovedTable:
			level, n, err := encoding.DecodeVarint32(data)
			if err != nil {
				return nil, ErrCorruptEdit
			}
			data = data[n:]
			id, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return nil, ErrCorruptEdit
			}
			data = data[n:]
			e.RemovedTables = append(e.RemovedTables, RemovedTable{ID: id, Level: int(level)})

		case TagAddedBlobFile:
			id, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return nil, ErrCorruptEdit
			}
			data = data[n:]
			total, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return nil, ErrCorruptEdit
			}
			data = data[n:]
			e.AddedBlobFiles = append(e.AddedBlobFiles, BlobFileInfo{ID: id, TotalBytes: total})

		case TagRemovedBlobFile:
			id, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return nil, ErrCorruptEdit
			}
			data = data[n:]
			e.RemovedBlobFiles = append(e.RemovedBlobFiles, id)

		case TagFragmentationDelta:
			v, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return nil, ErrCorruptEdit
			}
			data = data[n:]
			e.HasFragmentationDelta = true
			e.FragmentationDelta = int64(v)

		case TagNewEvictionSeqno:
			v, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return nil, ErrCorruptEdit
			}
			data = data[n:]
			e.HasNewEvictionSeqno = true
			e.NewEvictionSeqno = v

		case TagNextFileID:
			v, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return nil, ErrCorruptEdit
			}
			data = data[n:]
			e.HasNextFileID = true
			e.NextFileID = v

		case TagLastSeqno:
			v, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return nil, ErrCorruptEdit
			}
			data = data[n:]
			e.HasLastSeqno = true
			e.LastSeqno = v

		default:
			return nil, ErrUnknownTag
		}
	}
	return e, nil
}
