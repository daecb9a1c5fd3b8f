package version

import (
	"sort"

	"github.com/aalhour/lsmtree/internal/dbformat"
	"github.com/aalhour/lsmtree/internal/manifest"
)

// Builder accumulates one or more manifest.Edits against a base Version
// and produces the resulting Version, the same role rockyardkv's
// version.Builder plays between LogAndApply calls.
type Builder struct {
	base *Version
}

// NewBuilder returns a Builder seeded from base (base is not mutated).
func NewBuilder(base *Version) *Builder { return &Builder{base: base} }

// Apply folds one Edit's changes into the builder's pending state.
func (b *Builder) Apply(e *manifest.Edit) {
	next := b.base.clone()

	removedByLevel := make(map[int]map[uint64]bool)
	for _, r := range e.RemovedTables {
		if removedByLevel[r.Level] == nil {
			removedByLevel[r.Level] = make(map[uint64]bool)
		}
		removedByLevel[r.Level][r.ID] = true
	}
	for level, ids := range removedByLevel {
		if level < 0 || level >= len(next.levels) {
			continue
		}
		filtered := next.levels[level][:0]
		for _, t := range next.levels[level] {
			if !ids[t.ID] {
				filtered = append(filtered, t)
			}
		}
		next.levels[level] = filtered
	}

	for _, t := range e.AddedTables {
		if t.Level < 0 || t.Level >= len(next.levels) {
			continue
		}
		next.levels[t.Level] = append(next.levels[t.Level], TableMeta{
			ID:        t.ID,
			KeyMin:    t.KeyMin,
			KeyMax:    t.KeyMax,
			SeqnoMin:  t.SeqnoMin,
			SeqnoMax:  t.SeqnoMax,
			ItemCount: t.ItemCount,
			FileSize:  t.FileSize,
		})
	}
	for level := range next.levels {
		if level == 0 {
			continue // L0 keeps insertion (recency) order; its ranges may overlap
		}
		sort.Slice(next.levels[level], func(i, j int) bool {
			return dbformat.UserCompare(next.levels[level][i].KeyMin, next.levels[level][j].KeyMin) < 0
		})
	}

	for _, removedID := range e.RemovedBlobFiles {
		delete(next.blobs, removedID)
	}
	for _, added := range e.AddedBlobFiles {
		next.blobs[added.ID] = BlobFileMeta{ID: added.ID, TotalBytes: added.TotalBytes}
	}

	if e.HasFragmentationDelta {
		next.fragmentation += e.FragmentationDelta
	}
	if e.HasNewEvictionSeqno && e.NewEvictionSeqno > next.evictionSeqno {
		next.evictionSeqno = e.NewEvictionSeqno
	}

	b.base = next
}

// MarkBlobDead records deadBytes extra garbage in blob file id's
// accounting without a manifest.Edit, so the count is not persisted. No
// compaction or flush path calls it.
func (b *Builder) MarkBlobDead(id uint64, deadBytes uint64) {
	next := b.base.clone()
	if meta, ok := next.blobs[id]; ok {
		meta.DeadBytes += deadBytes
		next.blobs[id] = meta
	}
	b.base = next
}

// SaveTo returns the fully built Version. The returned Version shares no
// mutable state with the builder's base.
func (b *Builder) SaveTo() *Version { return b.base }
