package compaction

import (
	"github.com/aalhour/lsmtree/internal/blob"
	"github.com/aalhour/lsmtree/internal/cache"
	"github.com/aalhour/lsmtree/internal/dbformat"
	"github.com/aalhour/lsmtree/internal/iterator"
	"github.com/aalhour/lsmtree/internal/mvcc"
	"github.com/aalhour/lsmtree/internal/table"
	"github.com/aalhour/lsmtree/internal/vfs"
	"github.com/aalhour/lsmtree/internal/version"
)

// Flavour drives one compaction's output: it consumes an already-MVCC
// filtered stream of survivors and decides what, if anything, to do about
// Indirection entries (grounded on original_source/src/compaction/flavour.rs's
// CompactionFlavour trait, which splits the same concern from the merge
// itself).
type Flavour interface {
	// Write consumes stream and emits every surviving (key, value) pair to
	// out, rewriting Indirection values as this flavour sees fit.
	Write(stream *mvcc.Stream, out *MultiWriter) error
}

// StandardCompaction passes every entry through unchanged, including
// Indirection handles: the blob files they point at are untouched by this
// compaction, so their handles stay valid.
type StandardCompaction struct{}

func (StandardCompaction) Write(stream *mvcc.Stream, out *MultiWriter) error {
	for stream.SeekToFirst(); stream.Valid(); stream.Next() {
		if err := out.Write(stream.Key(), stream.Value()); err != nil {
			return err
		}
	}
	return stream.Error()
}

// RelocatingCompaction wraps StandardCompaction's merge but additionally
// rewrites values living in blob files that are being garbage-collected:
// every Indirection entry addressing one of RelocatedFiles is resolved
// through Scanner (a BlobFileMergeScanner positioned over exactly those
// files) and its payload rewritten into a fresh blob file via Out, with
// the entry's handle updated to point at the new location (grounded on
// original_source/src/compaction/flavour.rs's RelocatingCompaction::write).
type RelocatingCompaction struct {
	// RelocatedFiles is the set of blob file ids being rewritten away.
	RelocatedFiles map[uint64]bool
	Scanner        *BlobFileMergeScanner
	// Out writes every relocated record's new bytes to a fresh blob file.
	Out *blob.Writer
}

func (rc *RelocatingCompaction) Write(stream *mvcc.Stream, out *MultiWriter) error {
	for stream.SeekToFirst(); stream.Valid(); stream.Next() {
		key := stream.Key()
		value := stream.Value()

		if key.ValueType() == dbformat.Indirection {
			handle, err := blob.DecodeHandle(value)
			if err != nil {
				return err
			}
			if rc.RelocatedFiles[handle.FileID] {
				newHandle, err := rc.relocate(key.UserKey(), handle)
				if err != nil {
					return err
				}
				value = newHandle.Encode(nil)
			}
		}

		if err := out.Write(key, value); err != nil {
			return err
		}
	}
	return stream.Error()
}

// relocate finds the surviving record behind handle in rc.Scanner and
// rewrites it into rc.Out, returning the handle the new location gets.
func (rc *RelocatingCompaction) relocate(userKey []byte, handle blob.Handle) (blob.Handle, error) {
	if !rc.Scanner.Seek(userKey, handle.FileID, int64(handle.Offset)) {
		if err := rc.Scanner.Err(); err != nil {
			return blob.Handle{}, err
		}
		return blob.Handle{}, ErrBlobScannerMiss
	}
	s := rc.Scanner.Current()
	if dbformat.UserCompare(s.Key(), userKey) != 0 || s.Offset() != int64(handle.Offset) {
		return blob.Handle{}, ErrBlobScannerMiss
	}
	newHandle, err := rc.Out.Write(s.Key(), s.Value())
	if err != nil {
		return blob.Handle{}, err
	}
	rc.Scanner.Advance()
	return newHandle, nil
}

// openTableIterators opens every input table as a raw iterator.Iterator,
// in the order given. Level 0 tables keep the plan's order, which for
// plans built from a Version is oldest first; iterator.Merging only uses
// child order to break ties between identical internal keys, and every
// other level has at most one table per key range.
func openTableIterators(fs vfs.FS, dir string, tables []version.TableMeta) ([]iterator.Iterator, []vfs.RandomAccessFile, error) {
	var iters []iterator.Iterator
	var files []vfs.RandomAccessFile
	for _, t := range tables {
		f, err := fs.OpenRandomAccess(version.TableFileName(dir, t.ID))
		if err != nil {
			return nil, files, err
		}
		files = append(files, f)
		rd, err := table.Open(f, cache.GlobalFileID(t.ID), f.Size(), 0, nil)
		if err != nil {
			return nil, files, err
		}
		iters = append(iters, rd.NewIterator())
	}
	return iters, files, nil
}
