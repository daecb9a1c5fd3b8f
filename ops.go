package lsmtree

import (
	"fmt"

	"github.com/aalhour/lsmtree/internal/blob"
	"github.com/aalhour/lsmtree/internal/cache"
	"github.com/aalhour/lsmtree/internal/compaction"
	"github.com/aalhour/lsmtree/internal/dbformat"
	"github.com/aalhour/lsmtree/internal/manifest"
)

// Compact runs one round of strategy against the tree's current Version,
// publishing the oldest open snapshot's seqno as the GC eviction
// watermark first so any Merge this round performs can safely drop
// fully-shadowed versions (spec §4.6, §4.8).
func (t *Tree) Compact(strategy compaction.CompactionStrategy) (*compaction.Result, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	if err := t.publishEvictionSeqnoLocked(); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	v := t.manifest.Current()
	v.Ref()
	t.mu.Unlock()
	defer v.Unref()

	plan := strategy.Pick(v)
	if plan.Action == compaction.DoNothing {
		return &compaction.Result{Plan: plan}, nil
	}

	var relocate map[uint64]bool
	if plan.Action == compaction.Merge {
		relocate = compaction.PickBlobFilesForGC(v, blob.StaleThresholdStrategy{StaleRatio: t.cfg.GCStaleThreshold})
	}

	result, err := t.executeLocked(plan, relocate)
	if err != nil {
		return nil, fmt.Errorf("lsmtree: compact: %w", err)
	}
	return result, nil
}

// RunGC sweeps the value log for reclaimable space using strategy: it
// pulls every table down to the last level (the only plan guaranteed to
// touch every blob-referencing table), relocating the selected files'
// live records into a fresh blob file along the way, and reports what it
// did instead of only logging it (supplements spec §4.7/§4.8 with the
// report shape original_source surfaces to callers).
func (t *Tree) RunGC(strategy blob.Strategy) (blob.GCReport, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return blob.GCReport{}, ErrClosed
	}
	if err := t.publishEvictionSeqnoLocked(); err != nil {
		t.mu.Unlock()
		return blob.GCReport{}, err
	}
	v := t.manifest.Current()
	v.Ref()
	t.mu.Unlock()
	defer v.Unref()

	relocate := compaction.PickBlobFilesForGC(v, strategy)
	if len(relocate) == 0 {
		return blob.GCReport{}, nil
	}

	var reclaimed uint64
	for id := range relocate {
		if meta, ok := v.BlobFiles()[id]; ok {
			reclaimed += meta.DeadBytes
		}
	}

	plan := (compaction.PullDown{}).Pick(v)
	if plan.Action == compaction.DoNothing {
		return blob.GCReport{}, nil
	}

	result, err := t.executeLocked(plan, relocate)
	if err != nil {
		return blob.GCReport{}, fmt.Errorf("lsmtree: gc: %w", err)
	}

	return blob.GCReport{
		FilesRewritten: len(result.RemovedBlobFileIDs),
		BytesReclaimed: reclaimed,
	}, nil
}

// executeLocked runs an Executor over plan/relocate and evicts any
// now-stale FileCache/blob-reader entries the swap invalidates. Must NOT
// be called with t.mu held: the executor only touches the manifest and
// filesystem, both already safe for concurrent use independent of t.mu.
func (t *Tree) executeLocked(plan *compaction.Plan, relocate map[uint64]bool) (*compaction.Result, error) {
	ex := &compaction.Executor{
		FS:              t.fs,
		Dir:             t.dir,
		Manifest:        t.manifest,
		Opts:            builderOptionsForLevel(t.cfg.Config, plan.OutputLevel),
		TargetTableSize: t.cfg.TargetTableSize,
		Logger:          t.logger,
	}
	result, err := ex.Execute(plan, relocate)
	if err != nil {
		return nil, err
	}
	for _, tables := range plan.Inputs {
		for _, tm := range tables {
			t.fileCache.Evict(cache.GlobalFileID(tm.ID))
		}
	}
	for id := range relocate {
		t.dropBlobReader(id)
	}
	return result, nil
}

func (t *Tree) publishEvictionSeqnoLocked() error {
	watermark := t.minOpenSnapshotSeqno()
	if watermark == dbformat.MaxSeqNo {
		watermark = dbformat.SeqNo(t.lastSeqno.Load())
	}
	current := t.manifest.Current().EvictionSeqno()
	if uint64(watermark) <= current {
		return nil
	}
	edit := &manifest.Edit{HasNewEvictionSeqno: true, NewEvictionSeqno: uint64(watermark)}
	_, err := t.manifest.LogAndApply(edit)
	return err
}

func (t *Tree) dropBlobReader(id uint64) {
	t.blobMu.Lock()
	defer t.blobMu.Unlock()
	delete(t.blobReaders, id)
	if f, ok := t.blobFiles[id]; ok {
		_ = f.Close()
		delete(t.blobFiles, id)
	}
}

// MultiGet reads several keys through one Snapshot, so every lookup uses
// the same read seqno; each lookup reads the Version current at that
// moment rather than one pinned for the whole batch. A missing key yields
// a nil entry.
func (t *Tree) MultiGet(keys [][]byte) ([][]byte, error) {
	snap := t.Snapshot()
	defer snap.Close()

	out := make([][]byte, len(keys))
	for i, k := range keys {
		v, err := snap.Get(k)
		if err != nil && err != ErrNotFound {
			return nil, fmt.Errorf("lsmtree: multi-get key %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// DiskSpace reports the on-disk byte footprint of every table and blob
// file the tree's current Version references.
func (t *Tree) DiskSpace() uint64 {
	t.mu.RLock()
	v := t.manifest.Current()
	v.Ref()
	t.mu.RUnlock()
	defer v.Unref()

	var total uint64
	for level := 0; level < v.NumLevels(); level++ {
		total += v.LevelBytes(level)
	}
	for _, meta := range v.BlobFiles() {
		total += meta.TotalBytes
	}
	return total
}
