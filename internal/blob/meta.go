package blob

import (
	"errors"

	"github.com/aalhour/lsmtree/internal/block"
	"github.com/aalhour/lsmtree/internal/compression"
	"github.com/aalhour/lsmtree/internal/encoding"
)

// Properties is a blob file's meta block: everything GC and the manifest
// need without scanning every record (spec §4.7).
type Properties struct {
	FileID         uint64
	ItemCount      uint64
	KeyMin, KeyMax []byte
	TotalBytes     uint64 // sum of on-disk (possibly compressed) record payload sizes
	Compression    compression.Type
}

const (
	metaKeyFileID      = "file_id"
	metaKeyItemCount   = "item_count"
	metaKeyKeyMin      = "key#min"
	metaKeyKeyMax      = "key#max"
	metaKeyTotalBytes  = "total_bytes"
	metaKeyCompression = "compression"
)

// EncodeMetaBlock serializes p the same way internal/table encodes table
// meta blocks: a restart-compressed data block of name->value pairs.
func EncodeMetaBlock(p Properties, restartInterval int) []byte {
	b := block.NewBuilder(restartInterval, false)
	put := func(name string, value []byte) { b.Add([]byte(name), value) }
	putU64 := func(name string, v uint64) {
		var buf [encoding.MaxVarint64Len]byte
		n := encoding.EncodeVarint64(buf[:], v)
		put(name, buf[:n])
	}
	putU64(metaKeyFileID, p.FileID)
	putU64(metaKeyItemCount, p.ItemCount)
	put(metaKeyKeyMin, p.KeyMin)
	put(metaKeyKeyMax, p.KeyMax)
	putU64(metaKeyTotalBytes, p.TotalBytes)
	putU64(metaKeyCompression, uint64(p.Compression))
	return b.Finish()
}

var ErrInvalidBlobFile = errors.New("blob: invalid or incomplete meta block")

func DecodeMetaBlock(body []byte) (Properties, error) {
	blk, err := block.Parse(body)
	if err != nil {
		return Properties{}, err
	}
	seen := make(map[string][]byte)
	it := blk.Iterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		seen[string(it.Key())] = append([]byte(nil), it.Value()...)
	}
	if err := it.Error(); err != nil {
		return Properties{}, err
	}
	getU64 := func(name string) (uint64, bool) {
		v, ok := seen[name]
		if !ok {
			return 0, false
		}
		n, _, err := encoding.DecodeVarint64(v)
		if err != nil {
			return 0, false
		}
		return n, true
	}

	var p Properties
	var ok bool
	var fid, ic, tb, comp uint64
	if fid, ok = getU64(metaKeyFileID); !ok {
		return Properties{}, ErrInvalidBlobFile
	}
	if ic, ok = getU64(metaKeyItemCount); !ok {
		return Properties{}, ErrInvalidBlobFile
	}
	if p.KeyMin, ok = seen[metaKeyKeyMin]; !ok {
		return Properties{}, ErrInvalidBlobFile
	}
	if p.KeyMax, ok = seen[metaKeyKeyMax]; !ok {
		return Properties{}, ErrInvalidBlobFile
	}
	tb, _ = getU64(metaKeyTotalBytes)
	comp, _ = getU64(metaKeyCompression)

	p.FileID = fid
	p.ItemCount = ic
	p.TotalBytes = tb
	p.Compression = compression.Type(comp)
	return p, nil
}
