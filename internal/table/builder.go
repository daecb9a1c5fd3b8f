package table

import (
	"fmt"
	"io"

	"github.com/aalhour/lsmtree/internal/block"
	"github.com/aalhour/lsmtree/internal/compression"
	"github.com/aalhour/lsmtree/internal/dbformat"
	"github.com/aalhour/lsmtree/internal/filter"
)

// BuilderOptions configures a Builder. Zero values fall back to sane
// defaults via NewBuilder.
type BuilderOptions struct {
	BlockSize            int // target uncompressed data-block size, in bytes
	RestartInterval      int
	UseHashIndex         bool
	DataCompression      compression.Type
	IndexCompression     compression.Type
	Partitioned          bool // build a two-level index instead of Full
	PartitionEntries     int  // second-level index entries per partition, when Partitioned
	FilterPolicy         filter.Policy
	FilterVariant        filter.Variant
	DisableFilter        bool
}

func (o BuilderOptions) withDefaults() BuilderOptions {
	if o.BlockSize == 0 {
		o.BlockSize = 4096
	}
	if o.RestartInterval == 0 {
		o.RestartInterval = block.DefaultRestartInterval
	}
	if o.PartitionEntries == 0 {
		o.PartitionEntries = 512
	}
	if o.FilterPolicy == (filter.Policy{}) {
		o.FilterPolicy = filter.BitsPerKey(10)
	}
	return o
}

// Builder assembles a table file, one sorted entry at a time, writing
// regions to w as it goes so the whole table never needs to be buffered in
// memory at once (aside from the current data/index block).
type Builder struct {
	w    io.Writer
	opts BuilderOptions

	offset uint64

	dataBuilder *block.Builder
	dataFirst   dbformat.InternalKey
	dataLast    dbformat.InternalKey

	indexEntries    []indexEntry // Full, or buffered for the current partition
	partitionBlocks []indexEntry // top-level entries once Partitioned

	filterBuilder *filter.Builder
	filterBlocks  [][]byte

	itemCount      uint64
	keyMin, keyMax []byte
	seqnoMin       dbformat.SeqNo
	seqnoMax       dbformat.SeqNo
	seenFirst      bool

	dataBlockCount, indexBlockCount, filterBlockCount uint64

	toc *TOC
	err error
}

type indexEntry struct {
	endKey dbformat.InternalKey
	handle BlockHandle
}

// NewBuilder creates a Builder that writes a table file to w.
func NewBuilder(w io.Writer, opts BuilderOptions) *Builder {
	opts = opts.withDefaults()
	b := &Builder{
		w:             w,
		opts:          opts,
		dataBuilder:   block.NewBuilder(opts.RestartInterval, opts.UseHashIndex),
		filterBuilder: filter.NewBuilder(opts.FilterPolicy, opts.FilterVariant, 0),
		toc:           newTOC(),
		seqnoMin:      dbformat.MaxSeqNo,
	}
	return b
}

// Add appends one entry. REQUIRES: key > every previously added key.
func (b *Builder) Add(key dbformat.InternalKey, value []byte) error {
	if b.err != nil {
		return b.err
	}
	parsed, err := dbformat.Parse(key)
	if err != nil {
		b.err = err
		return err
	}

	if !b.seenFirst {
		b.keyMin = append([]byte(nil), parsed.UserKey...)
		b.seenFirst = true
	}
	b.keyMax = append(b.keyMax[:0], parsed.UserKey...)
	if parsed.Seq < b.seqnoMin {
		b.seqnoMin = parsed.Seq
	}
	if parsed.Seq > b.seqnoMax {
		b.seqnoMax = parsed.Seq
	}
	b.itemCount++

	if !b.opts.DisableFilter {
		b.filterBuilder.AddKey(parsed.UserKey)
	}

	if b.dataBuilder.Empty() {
		b.dataFirst = append(dbformat.InternalKey(nil), key...)
	}
	b.dataBuilder.Add(key, value)
	b.dataLast = append(b.dataLast[:0], key...)

	if b.dataBuilder.CurrentSizeEstimate() >= b.opts.BlockSize {
		return b.flushDataBlock()
	}
	return nil
}

func (b *Builder) flushDataBlock() error {
	if b.dataBuilder.Empty() {
		return nil
	}
	body := b.dataBuilder.Finish()
	sealed, err := block.Seal(block.Data, b.opts.DataCompression, body)
	if err != nil {
		b.err = err
		return err
	}
	handle := BlockHandle{Offset: b.offset, Size: uint32(len(sealed))}
	if err := b.write(sealed); err != nil {
		return err
	}
	b.dataBlockCount++

	b.indexEntries = append(b.indexEntries, indexEntry{endKey: append(dbformat.InternalKey(nil), b.dataLast...), handle: handle})
	b.dataBuilder.Reset()

	if b.opts.Partitioned && len(b.indexEntries) >= b.opts.PartitionEntries {
		return b.flushIndexPartition()
	}
	return nil
}

func (b *Builder) flushIndexPartition() error {
	if len(b.indexEntries) == 0 {
		return nil
	}
	ib := block.NewBuilder(b.opts.RestartInterval, false)
	for _, e := range b.indexEntries {
		ib.Add(e.endKey, e.handle.Encode(nil))
	}
	body := ib.Finish()
	sealed, err := block.Seal(block.Index, b.opts.IndexCompression, body)
	if err != nil {
		b.err = err
		return err
	}
	handle := BlockHandle{Offset: b.offset, Size: uint32(len(sealed))}
	if err := b.write(sealed); err != nil {
		return err
	}
	b.indexBlockCount++
	last := b.indexEntries[len(b.indexEntries)-1].endKey
	b.partitionBlocks = append(b.partitionBlocks, indexEntry{endKey: last, handle: handle})
	b.indexEntries = b.indexEntries[:0]
	return nil
}

func (b *Builder) write(p []byte) error {
	if _, err := b.w.Write(p); err != nil {
		b.err = err
		return err
	}
	b.offset += uint64(len(p))
	return nil
}

// Finish flushes any buffered data, writes the index/filter/meta/TOC
// regions and trailer, and returns the table's decoded Properties.
func (b *Builder) Finish() (Properties, error) {
	if b.err != nil {
		return Properties{}, b.err
	}
	if err := b.flushDataBlock(); err != nil {
		return Properties{}, err
	}

	if b.opts.Partitioned {
		if err := b.flushIndexPartition(); err != nil {
			return Properties{}, err
		}
		if err := b.writeTopLevelIndex(b.partitionBlocks, RegionTLI); err != nil {
			return Properties{}, err
		}
	} else {
		if err := b.writeTopLevelIndex(b.indexEntries, RegionIndex); err != nil {
			return Properties{}, err
		}
	}

	if !b.opts.DisableFilter && b.filterBuilder.NumKeys() > 0 {
		data := b.filterBuilder.Finish()
		b.filterBlockCount++
		off := b.offset
		if err := b.write(data); err != nil {
			return Properties{}, err
		}
		b.toc.set(RegionFilter, off, uint64(len(data)))
	}

	props := Properties{
		TableVersion:     1,
		ItemCount:        b.itemCount,
		KeyMin:           b.keyMin,
		KeyMax:           b.keyMax,
		SeqnoMin:         b.seqnoMin,
		SeqnoMax:         b.seqnoMax,
		DataBlockCount:   b.dataBlockCount,
		IndexBlockCount:  b.indexBlockCount,
		FilterBlockCount: b.filterBlockCount,
		DataCompression:  b.opts.DataCompression,
		IndexCompression: b.opts.IndexCompression,
		Partitioned:      b.opts.Partitioned,
	}

	metaBody := EncodeMetaBlock(props, b.opts.RestartInterval)
	metaSealed, err := block.Seal(block.Meta, compression.None, metaBody)
	if err != nil {
		return Properties{}, err
	}
	metaOff := b.offset
	if err := b.write(metaSealed); err != nil {
		return Properties{}, err
	}
	b.toc.set(RegionMeta, metaOff, uint64(len(metaSealed)))

	tocBytes := b.toc.Encode()
	tocOff := b.offset
	if err := b.write(tocBytes); err != nil {
		return Properties{}, err
	}

	trailer := Trailer{
		TOCOffset:     tocOff,
		TOCLength:     uint64(len(tocBytes)),
		Magic:         magic,
		FormatVersion: formatVersion,
	}
	if err := b.write(trailer.Encode()); err != nil {
		return Properties{}, err
	}
	return props, nil
}

func (b *Builder) writeTopLevelIndex(entries []indexEntry, region string) error {
	if len(entries) == 0 {
		return fmt.Errorf("table: builder produced no entries")
	}
	ib := block.NewBuilder(b.opts.RestartInterval, false)
	for _, e := range entries {
		ib.Add(e.endKey, e.handle.Encode(nil))
	}
	body := ib.Finish()
	sealed, err := block.Seal(block.Index, b.opts.IndexCompression, body)
	if err != nil {
		return err
	}
	off := b.offset
	if err := b.write(sealed); err != nil {
		return err
	}
	b.indexBlockCount++
	b.toc.set(region, off, uint64(len(sealed)))
	return nil
}
