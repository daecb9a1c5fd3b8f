package cache

// GlobalFileID identifies a table or blob file uniquely within a tree,
// independent of level or run position, so cache entries survive
// compactions that merely move a file to a different level.
type GlobalFileID uint64

// BlockKey addresses a single decoded block within a file: the block
// cache's key for data/index/filter blocks.
type BlockKey struct {
	File   GlobalFileID
	Offset uint64
}

// HashBlockKey derives a shard/bucket hash for a BlockKey.
func HashBlockKey(k BlockKey) uint64 {
	return uint64(k.File)*0x9E3779B97F4A7C15 ^ (k.Offset * 0xC2B2AE3D27D4EB4F)
}

// BlobKey addresses a de-indirected value read out of the value log: the
// user-value cache's key, keyed by the blob file and the offset of the
// record within it (spec's indirection handle).
type BlobKey struct {
	File   GlobalFileID
	Offset uint64
}

// HashBlobKey derives a shard/bucket hash for a BlobKey.
func HashBlobKey(k BlobKey) uint64 {
	return uint64(k.File)*0xC2B2AE3D27D4EB4F ^ (k.Offset * 0x9E3779B97F4A7C15)
}

// HashFileID derives a shard/bucket hash for a bare GlobalFileID. No cache
// in the engine uses it; table.FileCache keys a plain map by GlobalFileID.
func HashFileID(id GlobalFileID) uint64 {
	return uint64(id) * 0x9E3779B97F4A7C15
}
