// Package iterator provides the engine's sequential-access abstraction and
// its k-way double-ended merge: the shared interface every memtable,
// table, and blob-aware range scan implements, and the fan-in that unions
// them into a single sorted stream for range queries and compaction.
package iterator

import "github.com/aalhour/lsmtree/internal/dbformat"

// Iterator walks a sorted sequence of (InternalKey, value) pairs. It
// supports bidirectional movement so range scans can run in either
// direction without re-seeking from an endpoint.
type Iterator interface {
	Valid() bool
	Key() dbformat.InternalKey
	Value() []byte
	SeekToFirst()
	SeekToLast()
	Seek(target []byte)
	Next()
	Prev()
	Error() error
}
