package blob

import "github.com/aalhour/lsmtree/internal/cache"

// CachedReader wraps Reader with the sharded user-value cache, so repeated
// resolution of the same indirection handle (a hot large value read
// across many range scans) skips the decompress-from-disk path.
type CachedReader struct {
	*Reader
	fileID cache.GlobalFileID
	values *cache.Sharded[cache.BlobKey, []byte]
}

// NewCachedReader wires r into the shared blob-value cache. cacheValues
// may be nil to skip caching entirely.
func NewCachedReader(r *Reader, fileID cache.GlobalFileID, cacheValues *cache.Sharded[cache.BlobKey, []byte]) *CachedReader {
	return &CachedReader{Reader: r, fileID: fileID, values: cacheValues}
}

// Resolve behaves like Reader.Resolve but consults/populates the cache
// first, keyed by (fileID, handle offset).
func (cr *CachedReader) Resolve(h Handle) ([]byte, error) {
	if cr.values == nil {
		return cr.Reader.Resolve(h)
	}
	key := cache.BlobKey{File: cr.fileID, Offset: h.Offset}
	if handle := cr.values.Lookup(key); handle != nil {
		defer cr.values.Release(handle)
		return handle.Value(), nil
	}
	value, err := cr.Reader.Resolve(h)
	if err != nil {
		return nil, err
	}
	handle := cr.values.Insert(key, value, uint64(len(value)))
	cr.values.Release(handle)
	return value, nil
}
