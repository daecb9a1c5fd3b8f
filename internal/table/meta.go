package table

import (
	"fmt"

	"github.com/aalhour/lsmtree/internal/block"
	"github.com/aalhour/lsmtree/internal/compression"
	"github.com/aalhour/lsmtree/internal/dbformat"
	"github.com/aalhour/lsmtree/internal/encoding"
)

// Properties is the meta block's decoded name->value pairs (spec §4.2):
// everything a reader needs to validate and efficiently open a table
// without touching the data blocks.
type Properties struct {
	TableVersion    uint32
	ItemCount       uint64
	KeyMin, KeyMax  []byte
	SeqnoMin        dbformat.SeqNo
	SeqnoMax        dbformat.SeqNo
	DataBlockCount  uint64
	IndexBlockCount uint64
	FilterBlockCount uint64
	DataCompression compression.Type
	IndexCompression compression.Type
	Partitioned     bool
}

const (
	keyTableVersion     = "table_version"
	keyItemCount        = "item_count"
	keyKeyMin           = "key#min"
	keyKeyMax           = "key#max"
	keySeqnoMin         = "seqno#min"
	keySeqnoMax         = "seqno#max"
	keyDataBlockCount   = "block_count#data"
	keyIndexBlockCount  = "block_count#index"
	keyFilterBlockCount = "block_count#filter"
	keyDataCompression  = "compression#data"
	keyIndexCompression = "compression#index"
	keyPartitioned      = "index#partitioned"
)

// EncodeMetaBlock serializes p as a data block of name->value pairs.
func EncodeMetaBlock(p Properties, restartInterval int) []byte {
	b := block.NewBuilder(restartInterval, false)
	put := func(name string, value []byte) {
		b.Add([]byte(name), value)
	}
	putU64 := func(name string, v uint64) {
		var buf [encoding.MaxVarint64Len]byte
		n := encoding.EncodeVarint64(buf[:], v)
		put(name, buf[:n])
	}

	putU64(keyTableVersion, uint64(p.TableVersion))
	putU64(keyItemCount, p.ItemCount)
	put(keyKeyMin, p.KeyMin)
	put(keyKeyMax, p.KeyMax)
	putU64(keySeqnoMin, uint64(p.SeqnoMin))
	putU64(keySeqnoMax, uint64(p.SeqnoMax))
	putU64(keyDataBlockCount, p.DataBlockCount)
	putU64(keyIndexBlockCount, p.IndexBlockCount)
	putU64(keyFilterBlockCount, p.FilterBlockCount)
	putU64(keyDataCompression, uint64(p.DataCompression))
	putU64(keyIndexCompression, uint64(p.IndexCompression))
	if p.Partitioned {
		putU64(keyPartitioned, 1)
	} else {
		putU64(keyPartitioned, 0)
	}
	return b.Finish()
}

// ErrInvalidTable is returned when a meta block is missing a property a
// reader requires to safely open the table.
var ErrInvalidTable = fmt.Errorf("table: invalid or incomplete meta block")

// DecodeMetaBlock parses a meta block body (as produced by EncodeMetaBlock)
// back into Properties. Unknown keys are ignored; missing required keys
// are ErrInvalidTable.
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
	var tv, ic, sn, sx, dbc, ibc, fbc, dc, xc, part uint64

	if tv, ok = getU64(keyTableVersion); !ok {
		return Properties{}, ErrInvalidTable
	}
	if ic, ok = getU64(keyItemCount); !ok {
		return Properties{}, ErrInvalidTable
	}
	if p.KeyMin, ok = seen[keyKeyMin]; !ok {
		return Properties{}, ErrInvalidTable
	}
	if p.KeyMax, ok = seen[keyKeyMax]; !ok {
		return Properties{}, ErrInvalidTable
	}
	if sn, ok = getU64(keySeqnoMin); !ok {
		return Properties{}, ErrInvalidTable
	}
	if sx, ok = getU64(keySeqnoMax); !ok {
		return Properties{}, ErrInvalidTable
	}
	dbc, _ = getU64(keyDataBlockCount)
	ibc, _ = getU64(keyIndexBlockCount)
	fbc, _ = getU64(keyFilterBlockCount)
	dc, _ = getU64(keyDataCompression)
	xc, _ = getU64(keyIndexCompression)
	part, _ = getU64(keyPartitioned)

	p.TableVersion = uint32(tv)
	p.ItemCount = ic
	p.SeqnoMin = dbformat.SeqNo(sn)
	p.SeqnoMax = dbformat.SeqNo(sx)
	p.DataBlockCount = dbc
	p.IndexBlockCount = ibc
	p.FilterBlockCount = fbc
	p.DataCompression = compression.Type(dc)
	p.IndexCompression = compression.Type(xc)
	p.Partitioned = part != 0
	return p, nil
}
