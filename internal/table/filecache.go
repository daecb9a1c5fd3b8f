package table

import (
	"sync"

	"github.com/aalhour/lsmtree/internal/block"
	"github.com/aalhour/lsmtree/internal/cache"
	"github.com/aalhour/lsmtree/internal/dbformat"
	"github.com/aalhour/lsmtree/internal/vfs"
)

// FileCache keeps a bounded number of table files open across point
// lookups and range scans, evicting the least-recently-used unreferenced
// entry once MaxOpen is reached (grounded on rockyardkv's
// internal/table/cache.go TableCache). Kept as its own hand-rolled LRU
// rather than building on internal/cache.Sharded: closing a Reader means
// closing the vfs.RandomAccessFile underneath it, and Sharded's generic
// core has no eviction-dispose hook to run that cleanup.
type FileCache struct {
	mu sync.Mutex

	fs         vfs.FS
	maxOpen    int
	blockCache *cache.Sharded[cache.BlockKey, *block.Block]

	entries map[cache.GlobalFileID]*cachedFile
	lruHead *cachedFile
	lruTail *cachedFile
}

type cachedFile struct {
	id     cache.GlobalFileID
	file   vfs.RandomAccessFile
	reader *Reader

	prev, next *cachedFile
	refs       int
}

// NewFileCache creates a FileCache that opens table files through fs,
// keeping at most maxOpen descriptors live and sharing blockCache (nil
// disables block caching) across every Reader it opens.
func NewFileCache(fs vfs.FS, maxOpen int, blockCache *cache.Sharded[cache.BlockKey, *block.Block]) *FileCache {
	if maxOpen <= 0 {
		maxOpen = 500
	}
	return &FileCache{
		fs:         fs,
		maxOpen:    maxOpen,
		blockCache: blockCache,
		entries:    make(map[cache.GlobalFileID]*cachedFile),
	}
}

// Get returns the Reader for table id at path, opening and parsing it on
// first access. The caller must call Release(id) exactly once when done
// with the Reader (or any iterator derived from it).
func (fc *FileCache) Get(id cache.GlobalFileID, path string, globalSeqno dbformat.SeqNo) (*Reader, error) {
	fc.mu.Lock()
	if cf, ok := fc.entries[id]; ok {
		cf.refs++
		fc.moveToFront(cf)
		fc.mu.Unlock()
		return cf.reader, nil
	}
	fc.mu.Unlock()

	f, err := fc.fs.OpenRandomAccess(path)
	if err != nil {
		return nil, err
	}
	rd, err := Open(f, id, f.Size(), globalSeqno, fc.blockCache)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if cf, ok := fc.entries[id]; ok {
		// Lost the race with a concurrent opener: keep theirs, close ours.
		_ = f.Close()
		cf.refs++
		fc.moveToFront(cf)
		return cf.reader, nil
	}
	cf := &cachedFile{id: id, file: f, reader: rd, refs: 1}
	fc.entries[id] = cf
	fc.addToFront(cf)
	fc.evictIfNeeded()
	return rd, nil
}

// Release drops one reference to id's open reader, allowing it to be
// evicted once every reference has been released.
func (fc *FileCache) Release(id cache.GlobalFileID) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if cf, ok := fc.entries[id]; ok {
		cf.refs--
	}
}

// Evict closes and drops id's cached entry regardless of its position in
// the LRU order, used once a compaction has removed the underlying file
// from disk.
func (fc *FileCache) Evict(id cache.GlobalFileID) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if cf, ok := fc.entries[id]; ok {
		fc.remove(cf)
	}
}

// Close closes every cached file descriptor.
func (fc *FileCache) Close() error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	var firstErr error
	for _, cf := range fc.entries {
		if err := cf.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	fc.entries = make(map[cache.GlobalFileID]*cachedFile)
	fc.lruHead, fc.lruTail = nil, nil
	return firstErr
}

func (fc *FileCache) addToFront(cf *cachedFile) {
	cf.prev = nil
	cf.next = fc.lruHead
	if fc.lruHead != nil {
		fc.lruHead.prev = cf
	}
	fc.lruHead = cf
	if fc.lruTail == nil {
		fc.lruTail = cf
	}
}

func (fc *FileCache) moveToFront(cf *cachedFile) {
	if cf == fc.lruHead {
		return
	}
	fc.unlink(cf)
	fc.addToFront(cf)
}

func (fc *FileCache) unlink(cf *cachedFile) {
	if cf.prev != nil {
		cf.prev.next = cf.next
	} else {
		fc.lruHead = cf.next
	}
	if cf.next != nil {
		cf.next.prev = cf.prev
	} else {
		fc.lruTail = cf.prev
	}
	cf.prev, cf.next = nil, nil
}

func (fc *FileCache) remove(cf *cachedFile) {
	fc.unlink(cf)
	delete(fc.entries, cf.id)
	_ = cf.file.Close()
}

func (fc *FileCache) evictIfNeeded() {
	for cf := fc.lruTail; cf != nil && len(fc.entries) > fc.maxOpen; {
		prev := cf.prev
		if cf.refs == 0 {
			fc.remove(cf)
		}
		cf = prev
	}
}
