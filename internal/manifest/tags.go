// Package manifest implements VersionEdit: the durable record of one
// change to the tree's table/blob-file set, appended to the manifest log
// and replayed at recovery (spec §4.6, §6; rockyardkv's much larger
// RocksDB-compatible tag set in internal/manifest/tags.go is trimmed here
// to exactly the fields SPEC_FULL §4.6's VersionEdit names — there is no
// column-family, write-ahead-log-addition, or blob-garbage bookkeeping to
// carry).
package manifest

// Tag identifies one field of an encoded VersionEdit. Values are written
// to disk and must not be renumbered.
type Tag uint32

const (
	TagAddedTable        Tag = 1
	TagRemovedTable       Tag = 2
	TagAddedBlobFile      Tag = 3
	TagRemovedBlobFile    Tag = 4
	TagFragmentationDelta Tag = 5
	TagNewEvictionSeqno   Tag = 6
	TagNextFileID         Tag = 7
	TagLastSeqno          Tag = 8
)
