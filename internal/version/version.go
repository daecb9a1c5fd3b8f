// Package version holds the Version and LevelManifest types: the
// in-memory table/blob-file inventory compaction and reads operate
// against, and the durable log (CURRENT + MANIFEST-NNNNNN files) that
// makes changes to that inventory crash-safe (spec §3 invariants 7-8,
// §4.6, §6 — grounded on rockyardkv's internal/version/version.go and
// version_set.go, trimmed from RocksDB's multi-column-family VersionSet
// down to the single keyspace this tree manages).
package version

import (
	"sync/atomic"

	"github.com/aalhour/lsmtree/internal/dbformat"
)

// TableMeta is one table file's entry in a Version's level array.
type TableMeta struct {
	ID        uint64
	KeyMin    []byte
	KeyMax    []byte
	SeqnoMin  dbformat.SeqNo
	SeqnoMax  dbformat.SeqNo
	ItemCount uint64
	FileSize  uint64
}

// BlobFileMeta is one blob file's entry in a Version's value-log
// inventory, including the dead-byte bookkeeping GC strategies consume.
type BlobFileMeta struct {
	ID         uint64
	TotalBytes uint64
	DeadBytes  uint64
}

// LiveRatio returns the fraction of TotalBytes still referenced by a
// live table entry (1 - dead/total; a file with TotalBytes==0 reports 0).
func (b BlobFileMeta) LiveRatio() float64 {
	if b.TotalBytes == 0 {
		return 0
	}
	return 1 - float64(b.DeadBytes)/float64(b.TotalBytes)
}

// Version is an immutable snapshot of the tree's table and blob-file
// inventory. Readers take a reference (Ref) before iterating it and
// release it (Unref) when done, so a compaction that installs a new
// Version never invalidates an iterator already in flight over an older
// one (spec §3 invariant 8).
type Version struct {
	levels [][]TableMeta
	blobs  map[uint64]BlobFileMeta

	fragmentation int64
	evictionSeqno uint64

	refs int32
}

// newVersion returns an empty Version with levelCount levels.
func newVersion(levelCount int) *Version {
	return &Version{
		levels: make([][]TableMeta, levelCount),
		blobs:  make(map[uint64]BlobFileMeta),
	}
}

// NewEmpty returns an empty Version with levelCount levels, for callers
// outside this package that need a starting point to apply manifest.Edits
// to (compaction strategy tests, and any future in-memory bootstrap that
// doesn't go through a LevelManifest).
func NewEmpty(levelCount int) *Version { return newVersion(levelCount) }

// Ref increments the Version's reference count. Safe for concurrent use.
func (v *Version) Ref() { atomic.AddInt32(&v.refs, 1) }

// Unref decrements the reference count. The caller must not touch v
// after a call that drops refs to zero.
func (v *Version) Unref() { atomic.AddInt32(&v.refs, -1) }

// NumLevels reports how many levels this Version tracks.
func (v *Version) NumLevels() int { return len(v.levels) }

// Tables returns the tables at level, sorted by KeyMin (levels above 0;
// level 0 keeps insertion order since its tables may overlap).
func (v *Version) Tables(level int) []TableMeta {
	if level < 0 || level >= len(v.levels) {
		return nil
	}
	return v.levels[level]
}

// NumTables returns the number of tables at level.
func (v *Version) NumTables(level int) int { return len(v.Tables(level)) }

// LevelBytes sums FileSize across every table at level.
func (v *Version) LevelBytes(level int) uint64 {
	var total uint64
	for _, t := range v.Tables(level) {
		total += t.FileSize
	}
	return total
}

// BlobFiles returns every blob file known to this Version, keyed by ID.
func (v *Version) BlobFiles() map[uint64]BlobFileMeta { return v.blobs }

// Fragmentation returns the running total of dead (garbage-collectable)
// blob bytes across the whole value log.
func (v *Version) Fragmentation() int64 { return v.fragmentation }

// EvictionSeqno is the watermark below which MVCC versions with no
// live reader may be dropped (spec §4.5's evict_old_versions cutoff).
func (v *Version) EvictionSeqno() uint64 { return v.evictionSeqno }

// OverlappingInputs returns the tables at level whose [KeyMin, KeyMax]
// range intersects [begin, end]. A nil bound means unbounded on that
// side.
func (v *Version) OverlappingInputs(level int, begin, end []byte) []TableMeta {
	var out []TableMeta
	for _, t := range v.Tables(level) {
		if begin != nil && dbformat.UserCompare(t.KeyMax, begin) < 0 {
			continue
		}
		if end != nil && dbformat.UserCompare(t.KeyMin, end) > 0 {
			continue
		}
		out = append(out, t)
	}
	return out
}

// EstimateSpaceAmplification returns the ratio of total on-disk blob
// bytes to live blob bytes: 1.0 means no garbage, 2.0 means half the
// value log is dead (SPEC_FULL §C.2). blob.SpaceAmpStrategy computes its
// own ratio from blob.FileStats and does not call this.
func (v *Version) EstimateSpaceAmplification() float64 {
	var total, dead uint64
	for _, b := range v.blobs {
		total += b.TotalBytes
		dead += b.DeadBytes
	}
	live := total - dead
	if live == 0 {
		if total == 0 {
			return 1
		}
		return float64(total)
	}
	return float64(total) / float64(live)
}

// clone returns a shallow copy of v whose level slices are fresh (so a
// Builder can append/remove without mutating v), used as the base for
// applying the next Edit.
func (v *Version) clone() *Version {
	nv := newVersion(len(v.levels))
	for i, lvl := range v.levels {
		nv.levels[i] = append([]TableMeta(nil), lvl...)
	}
	for id, b := range v.blobs {
		nv.blobs[id] = b
	}
	nv.fragmentation = v.fragmentation
	nv.evictionSeqno = v.evictionSeqno
	return nv
}
