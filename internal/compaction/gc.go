package compaction

import (
	"github.com/aalhour/lsmtree/internal/blob"
	"github.com/aalhour/lsmtree/internal/version"
)

// BlobFileStatsFrom derives the per-file dead/total byte accounting a
// blob.Strategy needs straight from the current Version's blob-file
// inventory (spec §4.7/§4.8); it is a reshape, not a recompute. Only
// version.Builder.MarkBlobDead raises BlobFileMeta.DeadBytes, and no
// compaction or flush path calls it, so DeadBytes is zero for every file
// and dead bytes from shadowed or tombstoned entries are not counted.
func BlobFileStatsFrom(v *version.Version) []blob.FileStats {
	files := v.BlobFiles()
	out := make([]blob.FileStats, 0, len(files))
	for id, meta := range files {
		out = append(out, blob.FileStats{FileID: id, TotalBytes: meta.TotalBytes, DeadBytes: meta.DeadBytes})
	}
	return out
}

// PickBlobFilesForGC runs strategy against the current Version's blob
// inventory and returns the file ids it selected, ready to hand to
// Executor.Execute's relocate parameter. Used by Tree.Compact for Merge
// plans (with a StaleThresholdStrategy) and by Tree.RunGC (with the
// caller's strategy).
func PickBlobFilesForGC(v *version.Version, strategy blob.Strategy) map[uint64]bool {
	ids := strategy.PickFiles(BlobFileStatsFrom(v))
	if len(ids) == 0 {
		return nil
	}
	out := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}
