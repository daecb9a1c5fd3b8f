// Package flush implements the memtable-to-L0 flush operation (spec
// §4.5): a sealed memtable is written out as a single new level-0 table,
// performing key-value separation along the way for any value at or
// above the configured blob threshold. Grounded on rockyardkv's
// internal/flush/job.go (Job.Run writes every memtable entry through a
// table.Builder, no MVCC filtering) and fjall-rs's
// BlobTree::flush_memtable (value_log separation happens here, at flush
// time, not at insert time — the memtable always holds values inline).
package flush

import (
	"errors"
	"fmt"

	"github.com/aalhour/lsmtree/internal/blob"
	"github.com/aalhour/lsmtree/internal/dbformat"
	"github.com/aalhour/lsmtree/internal/logging"
	"github.com/aalhour/lsmtree/internal/manifest"
	"github.com/aalhour/lsmtree/internal/memtable"
	"github.com/aalhour/lsmtree/internal/table"
	"github.com/aalhour/lsmtree/internal/vfs"
	"github.com/aalhour/lsmtree/internal/version"
)

// ErrNoOutput is returned when a flush produces no output (empty memtable).
var ErrNoOutput = errors.New("flush: no output")

// Job flushes one sealed memtable to a new L0 table, separating values
// at or above BlobThreshold into a new blob file. BlobThreshold of 0
// disables key-value separation entirely.
type Job struct {
	FS       vfs.FS
	Dir      string
	Manifest *version.LevelManifest
	Opts     table.BuilderOptions

	BlobThreshold uint32
	Logger        logging.Logger

	// LastSeqno, when nonzero, is recorded as the manifest's durable
	// high-water seqno alongside this flush's edit — the tree's insert
	// path only records the caller's seqnos in the WAL and memtable, and
	// only the next flush/compaction commit gives the manifest a chance
	// to durably remember them
	// (spec §4.8: insert takes a caller-supplied seqno; nothing about
	// insert touches the manifest directly).
	LastSeqno dbformat.SeqNo
}

// Result describes what a flush produced.
type Result struct {
	Table    manifest.TableInfo
	BlobFile *blob.Properties
}

// Run writes every entry of mem to a new L0 table, in memtable order
// (user key ascending, seqno descending) — unlike compaction, flush never
// drops or collapses versions, since a sealed memtable may still be
// visible to an in-flight snapshot reader.
func (j *Job) Run(mem *memtable.Memtable) (*Result, error) {
	logger := j.Logger
	if logger == nil {
		logger = logging.Discard
	}

	tableID := j.Manifest.AllocFileID()
	tablePath := version.TableFileName(j.Dir, tableID)
	tableFile, err := j.FS.Create(tablePath)
	if err != nil {
		return nil, fmt.Errorf("flush: create table file: %w", err)
	}
	builder := table.NewBuilder(tableFile, j.Opts)

	var blobWriter *blob.Writer
	var blobFile vfs.WritableFile
	var blobFileID uint64

	abandon := func() {
		_ = tableFile.Close()
		_ = j.FS.Remove(tablePath)
		if blobFile != nil {
			_ = blobFile.Close()
			_ = j.FS.Remove(version.BlobFileName(j.Dir, blobFileID))
		}
	}

	count := 0
	it := mem.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		key := it.Key()
		value := it.Value()

		if j.BlobThreshold > 0 && key.ValueType() == dbformat.Value && uint32(len(value)) >= j.BlobThreshold {
			if blobWriter == nil {
				blobFileID = j.Manifest.AllocFileID()
				blobFile, err = j.FS.Create(version.BlobFileName(j.Dir, blobFileID))
				if err != nil {
					abandon()
					return nil, fmt.Errorf("flush: create blob file: %w", err)
				}
				blobWriter = blob.NewWriter(blobFile, blobFileID, blob.DefaultCodec)
			}
			handle, err := blobWriter.Write(key.UserKey(), value)
			if err != nil {
				abandon()
				return nil, fmt.Errorf("flush: write blob record: %w", err)
			}
			rewritten := append(dbformat.InternalKey(nil), key...)
			rewritten.SetValueType(dbformat.Indirection)
			key = rewritten
			value = handle.Encode(nil)
		}

		if err := builder.Add(key, value); err != nil {
			abandon()
			return nil, fmt.Errorf("flush: add entry: %w", err)
		}
		count++
	}
	if err := it.Error(); err != nil {
		abandon()
		return nil, fmt.Errorf("flush: memtable iteration: %w", err)
	}

	if count == 0 {
		abandon()
		return nil, ErrNoOutput
	}

	props, err := builder.Finish()
	if err != nil {
		abandon()
		return nil, fmt.Errorf("flush: finish table: %w", err)
	}
	if err := tableFile.Sync(); err != nil {
		abandon()
		return nil, fmt.Errorf("flush: sync table: %w", err)
	}
	tableSize, err := tableFile.Size()
	if err != nil {
		abandon()
		return nil, fmt.Errorf("flush: size table: %w", err)
	}
	if err := tableFile.Close(); err != nil {
		return nil, fmt.Errorf("flush: close table: %w", err)
	}

	edit := &manifest.Edit{
		AddedTables: []manifest.TableInfo{{
			ID:        tableID,
			Level:     0,
			KeyMin:    props.KeyMin,
			KeyMax:    props.KeyMax,
			SeqnoMin:  props.SeqnoMin,
			SeqnoMax:  props.SeqnoMax,
			ItemCount: props.ItemCount,
			FileSize:  uint64(tableSize),
		}},
		HasLastSeqno: true,
		LastSeqno:    props.SeqnoMax,
	}
	if j.LastSeqno > edit.LastSeqno {
		edit.LastSeqno = j.LastSeqno
	}

	result := &Result{Table: edit.AddedTables[0]}

	if blobWriter != nil {
		blobProps, err := blobWriter.Finish()
		if err != nil {
			_ = blobFile.Close()
			return nil, fmt.Errorf("flush: finish blob file: %w", err)
		}
		if err := blobFile.Sync(); err != nil {
			_ = blobFile.Close()
			return nil, fmt.Errorf("flush: sync blob file: %w", err)
		}
		if err := blobFile.Close(); err != nil {
			return nil, fmt.Errorf("flush: close blob file: %w", err)
		}
		if blobProps.ItemCount > 0 {
			edit.AddedBlobFiles = append(edit.AddedBlobFiles, manifest.BlobFileInfo{
				ID:         blobProps.FileID,
				TotalBytes: blobProps.TotalBytes,
			})
			result.BlobFile = &blobProps
		} else {
			_ = j.FS.Remove(version.BlobFileName(j.Dir, blobFileID))
		}
	}

	if _, err := j.Manifest.LogAndApply(edit); err != nil {
		return nil, fmt.Errorf("flush: log and apply: %w", err)
	}

	logger.Debugf(logging.NSFlush+"wrote table %d (%d entries, %d bytes)", tableID, props.ItemCount, tableSize)
	return result, nil
}
