package compaction

import (
	"github.com/aalhour/lsmtree/internal/blob"
	"github.com/aalhour/lsmtree/internal/iterator"
	"github.com/aalhour/lsmtree/internal/logging"
	"github.com/aalhour/lsmtree/internal/manifest"
	"github.com/aalhour/lsmtree/internal/mvcc"
	"github.com/aalhour/lsmtree/internal/table"
	"github.com/aalhour/lsmtree/internal/vfs"
	"github.com/aalhour/lsmtree/internal/version"
)

// Executor runs a Plan end to end: open the plan's input tables, merge
// and MVCC-filter them, write the survivors through a MultiWriter (and,
// for a RelocatingCompaction, rewrite any blob files being garbage
// collected alongside it), then commit the result as one manifest.Edit so
// the switch from old tables to new ones is atomic from a reader's point
// of view (grounded on rockyardkv's db_impl_compaction_flush.go's
// InstallCompactionResults, simplified to this engine's single-keyspace
// manifest).
type Executor struct {
	FS      vfs.FS
	Dir     string
	Manifest *version.LevelManifest
	Opts     table.BuilderOptions
	TargetTableSize uint64
	Logger   logging.Logger
}

// Result reports what one Execute call did, for callers that want to log
// or test against specifics beyond the committed Version.
type Result struct {
	Plan          *Plan
	OutputTables  []manifest.TableInfo
	RemovedBlobFileIDs []uint64
	AddedBlobFile *blob.Properties
}

// Execute runs plan against the manifest's current Version and, unless
// plan.Action is DoNothing, commits the outcome via LogAndApply. relocate,
// when non-nil, names the blob files this compaction should also garbage
// collect by rewriting their live records into a fresh blob file.
func (ex *Executor) Execute(plan *Plan, relocate map[uint64]bool) (*Result, error) {
	logger := ex.Logger
	if logger == nil {
		logger = logging.Discard
	}

	switch plan.Action {
	case DoNothing:
		return &Result{Plan: plan}, nil

	case Drop:
		return ex.executeDrop(plan, logger)

	case Move:
		return ex.executeMove(plan)

	case Merge:
		return ex.executeMerge(plan, relocate, logger)
	}
	return &Result{Plan: plan}, nil
}

func (ex *Executor) executeDrop(plan *Plan, logger logging.Logger) (*Result, error) {
	edit := &manifest.Edit{}
	for level, tables := range plan.Inputs {
		for _, t := range tables {
			edit.RemovedTables = append(edit.RemovedTables, manifest.RemovedTable{ID: t.ID, Level: level})
		}
	}
	if _, err := ex.Manifest.LogAndApply(edit); err != nil {
		return nil, err
	}
	if err := ex.removeTableFiles(plan.InputTables()); err != nil {
		logger.Warnf(logging.NSCompact+"dropped tables but failed removing files: %v", err)
	}
	return &Result{Plan: plan}, nil
}

// executeMove relocates every input table to plan.OutputLevel without
// reading or rewriting a single byte: used when a table's key range
// doesn't overlap anything already at the destination level, so the
// bytes on disk are already valid there.
func (ex *Executor) executeMove(plan *Plan) (*Result, error) {
	edit := &manifest.Edit{}
	for level, tables := range plan.Inputs {
		for _, t := range tables {
			edit.RemovedTables = append(edit.RemovedTables, manifest.RemovedTable{ID: t.ID, Level: level})
			edit.AddedTables = append(edit.AddedTables, manifest.TableInfo{
				ID: t.ID, Level: plan.OutputLevel,
				KeyMin: t.KeyMin, KeyMax: t.KeyMax,
				SeqnoMin: t.SeqnoMin, SeqnoMax: t.SeqnoMax,
				ItemCount: t.ItemCount, FileSize: t.FileSize,
			})
		}
	}
	if _, err := ex.Manifest.LogAndApply(edit); err != nil {
		return nil, err
	}
	return &Result{Plan: plan, OutputTables: edit.AddedTables}, nil
}

func (ex *Executor) executeMerge(plan *Plan, relocate map[uint64]bool, logger logging.Logger) (*Result, error) {
	inputs := plan.InputTables()
	iters, files, err := openTableIterators(ex.FS, ex.Dir, inputs)
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	if err != nil {
		closeAll()
		return nil, err
	}
	defer closeAll()

	merged := iterator.NewMerging(iters)
	stream := mvcc.New(merged).
		WithEvictOldVersions(true).
		WithGCSeqnoThreshold(ex.Manifest.Current().EvictionSeqno(), plan.IsLastLevel)

	mw := NewMultiWriter(ex.FS, ex.Dir, ex.Manifest, ex.Opts, ex.TargetTableSize)

	var flavour Flavour = StandardCompaction{}
	var blobWriter *blob.Writer
	var blobFile vfs.WritableFile
	var blobFileID uint64
	var relocating *RelocatingCompaction

	if len(relocate) > 0 {
		scanners, openBlobFiles, err := openBlobScanners(ex.FS, ex.Dir, relocate)
		defer func() {
			for _, f := range openBlobFiles {
				_ = f.Close()
			}
		}()
		if err != nil {
			return nil, err
		}
		blobFileID = ex.Manifest.AllocFileID()
		blobFile, err = ex.FS.Create(version.BlobFileName(ex.Dir, blobFileID))
		if err != nil {
			return nil, err
		}
		blobWriter = blob.NewWriter(blobFile, blobFileID, blob.DefaultCodec)
		relocating = &RelocatingCompaction{
			RelocatedFiles: relocate,
			Scanner:        NewBlobFileMergeScanner(scanners),
			Out:            blobWriter,
		}
		flavour = relocating
	}

	if err := flavour.Write(stream, mw); err != nil {
		if blobFile != nil {
			_ = blobFile.Close()
		}
		return nil, err
	}

	outputs, err := mw.Finish()
	if err != nil {
		return nil, err
	}
	for i := range outputs {
		outputs[i].Level = plan.OutputLevel
	}

	edit := &manifest.Edit{AddedTables: outputs}
	for level, tables := range plan.Inputs {
		for _, t := range tables {
			edit.RemovedTables = append(edit.RemovedTables, manifest.RemovedTable{ID: t.ID, Level: level})
		}
	}

	result := &Result{Plan: plan, OutputTables: outputs}

	if blobWriter != nil {
		props, err := blobWriter.Finish()
		if err != nil {
			_ = blobFile.Close()
			return nil, err
		}
		if err := blobFile.Sync(); err != nil {
			_ = blobFile.Close()
			return nil, err
		}
		if err := blobFile.Close(); err != nil {
			return nil, err
		}
		if props.ItemCount > 0 {
			edit.AddedBlobFiles = append(edit.AddedBlobFiles, manifest.BlobFileInfo{ID: props.FileID, TotalBytes: props.TotalBytes})
			result.AddedBlobFile = &props
		}
		for id := range relocate {
			edit.RemovedBlobFiles = append(edit.RemovedBlobFiles, id)
			result.RemovedBlobFileIDs = append(result.RemovedBlobFileIDs, id)
		}
	}

	if _, err := ex.Manifest.LogAndApply(edit); err != nil {
		return nil, err
	}

	if err := ex.removeTableFiles(inputs); err != nil {
		logger.Warnf(logging.NSCompact+"compacted but failed removing old table files: %v", err)
	}
	for id := range relocate {
		if err := ex.FS.Remove(version.BlobFileName(ex.Dir, id)); err != nil {
			logger.Warnf(logging.NSCompact+"relocated blob file %d but failed removing it: %v", id, err)
		}
	}

	return result, nil
}

func (ex *Executor) removeTableFiles(tables []version.TableMeta) error {
	var firstErr error
	for _, t := range tables {
		if err := ex.FS.Remove(version.TableFileName(ex.Dir, t.ID)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func openBlobScanners(fs vfs.FS, dir string, fileIDs map[uint64]bool) (map[uint64]*blob.Scanner, []vfs.RandomAccessFile, error) {
	scanners := make(map[uint64]*blob.Scanner, len(fileIDs))
	var files []vfs.RandomAccessFile
	for id := range fileIDs {
		f, err := fs.OpenRandomAccess(version.BlobFileName(dir, id))
		if err != nil {
			return nil, files, err
		}
		files = append(files, f)
		s, err := blob.NewScanner(f, f.Size())
		if err != nil {
			return nil, files, err
		}
		scanners[id] = s
	}
	return scanners, files, nil
}
