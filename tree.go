// Package lsmtree implements an embeddable, log-structured merge-tree
// key-value store with optional key-value separation (spec §1): the
// Tree facade ties together the memtable, WAL, level manifest, flush,
// and compaction packages into the single handle an embedder opens,
// writes through, reads through, and eventually closes. Grounded on
// rockyardkv's db_apis.go for field naming and locking idiom (db.mu,
// db.mem/db.imm, db.versions) — rockyardkv's own dbImpl/Open were not
// part of the retrieval pack, so this facade is synthesized from that
// idiom plus the fully-built internal packages it wires together.
package lsmtree

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/aalhour/lsmtree/internal/batch"
	"github.com/aalhour/lsmtree/internal/blob"
	"github.com/aalhour/lsmtree/internal/block"
	"github.com/aalhour/lsmtree/internal/cache"
	"github.com/aalhour/lsmtree/internal/dbformat"
	"github.com/aalhour/lsmtree/internal/encoding"
	"github.com/aalhour/lsmtree/internal/filter"
	"github.com/aalhour/lsmtree/internal/flush"
	"github.com/aalhour/lsmtree/internal/logging"
	"github.com/aalhour/lsmtree/internal/memtable"
	"github.com/aalhour/lsmtree/internal/options"
	"github.com/aalhour/lsmtree/internal/table"
	"github.com/aalhour/lsmtree/internal/vfs"
	"github.com/aalhour/lsmtree/internal/version"
	"github.com/aalhour/lsmtree/internal/wal"
)

const (
	walDirName    = "wal"
	markerName    = "LSM_MARKER"
	markerVersion = 1
)

// Config is the tree's open-time configuration: the per-level policy
// knobs of options.Config plus the resource/size knobs spec §6 groups
// under "Configuration (enumerated)" that aren't per-level (cache sizes,
// the memtable rotation threshold, the per-output-file size MultiWriter
// rolls over at).
type Config struct {
	options.Config

	// MemtableSizeTrigger seals and flushes the active memtable once its
	// ApproximateSize reaches this many bytes (spec §2's "rotated").
	MemtableSizeTrigger uint64

	// TargetTableSize bounds how large one compaction output table is
	// allowed to grow before MultiWriter rolls over to a new file. A flush
	// always writes a single table and does not use it.
	TargetTableSize uint64

	BlockCacheSize      uint64
	BlockCacheShards    int
	BlobValueCacheSize  uint64
	BlobValueCacheShards int
	DescriptorCacheSize int

	Logger logging.Logger
}

// DefaultConfig returns a Config with levelCount levels and reasonable
// resource defaults, mirroring options.Default's role for the per-level
// arrays.
func DefaultConfig(levelCount int) Config {
	return Config{
		Config:               options.Default(levelCount),
		MemtableSizeTrigger:  4 << 20,
		TargetTableSize:      64 << 20,
		BlockCacheSize:       32 << 20,
		BlockCacheShards:     16,
		BlobValueCacheSize:   32 << 20,
		BlobValueCacheShards: 16,
		DescriptorCacheSize:  500,
	}
}

// Tree is an open handle to one tree directory. Safe for concurrent use:
// writes hold mu for the duration of the memtable insert and WAL append,
// reads take a read-guard just long enough to snapshot the active/sealed
// memtables and Ref the current Version (spec §5's lock order
// LevelManifest -> Memtable -> SealedMemtables is respected since the
// manifest's own locking is internal to LevelManifest and never held
// across a call back into Tree).
type Tree struct {
	mu sync.RWMutex

	dir    string
	fs     vfs.FS
	cfg    Config
	logger logging.Logger

	manifest *version.LevelManifest

	active *memtable.Memtable
	// sealed holds memtables awaiting flush, newest first (spec §4.8's
	// point-lookup descent order).
	sealed []*memtable.Memtable

	wal     *wal.Writer
	walFile vfs.WritableFile
	walPath string

	fileCache  *table.FileCache
	blockCache *cache.Sharded[cache.BlockKey, *block.Block]
	blobCache  *cache.Sharded[cache.BlobKey, []byte]

	blobMu      sync.Mutex
	blobReaders map[uint64]*blob.CachedReader
	blobFiles   map[uint64]vfs.RandomAccessFile

	snapMu     sync.Mutex
	snapCounts map[dbformat.SeqNo]int

	lastSeqno atomic.Uint64

	lock   io.Closer
	closed bool
}

// Open recovers a tree rooted at dir, or creates one if dir is empty
// (spec §6's on-disk layout: <manifest> + segments/ + blobs/ + <lsm
// marker>). On a fresh tree the marker is written and fsynced first,
// before the manifest is opened; it does not mark a completed create.
func Open(dir string, cfg Config) (*Tree, error) {
	fs := vfs.Default()
	return OpenFS(fs, dir, cfg)
}

// OpenFS is Open with an injectable vfs.FS, used by crash-safety tests
// driven through vfs.FaultInjectionFS.
func OpenFS(fs vfs.FS, dir string, cfg Config) (*Tree, error) {
	logger := logging.OrDefault(cfg.Logger)

	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lsmtree: create dir: %w", err)
	}

	markerPath := filepath.Join(dir, markerName)
	fresh := !fs.Exists(markerPath)
	if fresh {
		if err := writeMarker(fs, markerPath); err != nil {
			return nil, err
		}
	} else if err := checkMarker(fs, markerPath); err != nil {
		return nil, err
	}

	lock, err := fs.Lock(markerPath)
	if err != nil {
		return nil, fmt.Errorf("lsmtree: lock tree directory: %w", err)
	}

	lm, err := version.Open(fs, dir, cfg.LevelCount, logger)
	if err != nil {
		_ = lock.Close()
		return nil, fmt.Errorf("lsmtree: open manifest: %w", err)
	}

	walDir := filepath.Join(dir, walDirName)
	if err := fs.MkdirAll(walDir, 0o755); err != nil {
		_ = lm.Close()
		_ = lock.Close()
		return nil, fmt.Errorf("lsmtree: create wal dir: %w", err)
	}

	blockCache := cache.NewSharded[cache.BlockKey, *block.Block](cfg.BlockCacheSize, shardsOrDefault(cfg.BlockCacheShards), cache.HashBlockKey)
	blobCache := cache.NewSharded[cache.BlobKey, []byte](cfg.BlobValueCacheSize, shardsOrDefault(cfg.BlobValueCacheShards), cache.HashBlobKey)

	t := &Tree{
		dir:         dir,
		fs:          fs,
		cfg:         cfg,
		logger:      logger,
		manifest:    lm,
		active:      memtable.New(),
		fileCache:   table.NewFileCache(fs, cfg.DescriptorCacheSize, blockCache),
		blockCache:  blockCache,
		blobCache:   blobCache,
		blobReaders: make(map[uint64]*blob.CachedReader),
		blobFiles:   make(map[uint64]vfs.RandomAccessFile),
		snapCounts:  make(map[dbformat.SeqNo]int),
		lock:        lock,
	}

	walPaths, err := t.recoverWAL(walDir)
	if err != nil {
		_ = lm.Close()
		_ = lock.Close()
		return nil, fmt.Errorf("lsmtree: recover wal: %w", err)
	}

	if t.active.Count() > 0 {
		if _, err := t.flushLocked(t.active); err != nil {
			_ = lm.Close()
			_ = lock.Close()
			return nil, fmt.Errorf("lsmtree: flush recovered memtable: %w", err)
		}
		t.active = memtable.New()
	}
	for _, path := range walPaths {
		if err := t.fs.Remove(path); err != nil {
			t.logger.Warnf(logging.NSTree+"remove recovered wal %s: %v", path, err)
		}
	}

	if err := t.rollWALLocked(); err != nil {
		_ = lm.Close()
		_ = lock.Close()
		return nil, fmt.Errorf("lsmtree: open wal: %w", err)
	}

	return t, nil
}

func shardsOrDefault(n int) int {
	if n <= 0 {
		return 16
	}
	return n
}

func writeMarker(fs vfs.FS, path string) error {
	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("lsmtree: create lsm marker: %w", err)
	}
	if _, err := f.Write([]byte{markerVersion}); err != nil {
		_ = f.Close()
		return fmt.Errorf("lsmtree: write lsm marker: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("lsmtree: sync lsm marker: %w", err)
	}
	return f.Close()
}

func checkMarker(fs vfs.FS, path string) error {
	f, err := fs.Open(path)
	if err != nil {
		return fmt.Errorf("lsmtree: open lsm marker: %w", err)
	}
	defer f.Close()
	buf := make([]byte, 1)
	if _, err := io.ReadFull(f, buf); err != nil {
		return fmt.Errorf("lsmtree: read lsm marker: %w", err)
	}
	if buf[0] != markerVersion {
		return ErrIncompatibleMarker
	}
	return nil
}

// recoverWAL replays every WAL file found under walDir, oldest first,
// into t.active, tracking the highest seqno it observes, and returns
// their paths. It does not delete the files or open a fresh WAL: a
// caller that finds t.active non-empty afterward must flush it
// successfully before removing them, since vfs.FS has no append-open
// primitive to safely resume writing an existing WAL file partway
// through, and deleting them before the flush durably lands would lose
// data a crash mid-recovery could still need to replay again.
func (t *Tree) recoverWAL(walDir string) ([]string, error) {
	names, err := t.fs.ListDir(walDir)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	applier := &memtableApplier{mem: t.active}
	paths := make([]string, 0, len(names))
	for _, name := range names {
		path := filepath.Join(walDir, name)
		f, err := t.fs.Open(path)
		if err != nil {
			return nil, err
		}
		if err := t.replayWALFile(f, applier); err != nil {
			_ = f.Close()
			return nil, err
		}
		_ = f.Close()
		paths = append(paths, path)
	}
	return paths, nil
}

func (t *Tree) replayWALFile(f vfs.SequentialFile, applier *memtableApplier) error {
	r, err := wal.NewReader(f)
	if err != nil {
		return err
	}
	for {
		payload, ok, _ := r.Next()
		if !ok {
			return nil
		}
		if len(payload) < 8 {
			continue // malformed record without a seqno prefix: skip it, keep reading
		}
		seqno := dbformat.SeqNo(encoding.DecodeFixed64(payload[:8]))
		b, err := batch.NewFromData(payload[8:])
		if err != nil {
			continue
		}
		applier.seqno = seqno
		if err := b.Iterate(applier); err != nil {
			continue
		}
		if seqno > dbformat.SeqNo(t.lastSeqno.Load()) {
			t.lastSeqno.Store(uint64(seqno))
		}
	}
}

// rollWALLocked opens a fresh WAL file for the (already rotated-in)
// active memtable. Callers must hold mu.
func (t *Tree) rollWALLocked() error {
	id := t.manifest.AllocFileID()
	path := walFileName(t.dir, id)
	f, err := t.fs.Create(path)
	if err != nil {
		return err
	}
	t.walFile = f
	t.wal = wal.NewWriter(f)
	t.walPath = path
	return nil
}

func walFileName(dir string, id uint64) string {
	return filepath.Join(dir, walDirName, fmt.Sprintf("%06d.wal", id))
}

// memtableApplier replays a recovered (or freshly written) batch.Batch
// against a memtable, stamping every record with the seqno the WAL
// record carried (spec §4.8: Tree.Insert/Remove never allocate a seqno
// themselves, the caller supplies one; recovery just replays what was
// supplied at write time).
type memtableApplier struct {
	mem   *memtable.Memtable
	seqno dbformat.SeqNo
}

func (a *memtableApplier) Put(key, value []byte) error {
	a.mem.Insert(key, a.seqno, dbformat.Value, value)
	return nil
}

func (a *memtableApplier) Delete(key []byte) error {
	a.mem.Insert(key, a.seqno, dbformat.Tombstone, nil)
	return nil
}

func (a *memtableApplier) SingleDelete(key []byte) error {
	a.mem.Insert(key, a.seqno, dbformat.WeakTombstone, nil)
	return nil
}

// Close flushes nothing implicitly: any unflushed memtable is recovered
// from the WAL on the next Open. Close releases the tree's file
// descriptors and directory lock.
func (t *Tree) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if t.wal != nil {
		record(t.wal.Sync())
		record(t.wal.Close())
	}
	record(t.fileCache.Close())

	t.blobMu.Lock()
	for id, f := range t.blobFiles {
		record(f.Close())
		delete(t.blobFiles, id)
	}
	t.blobMu.Unlock()

	record(t.manifest.Close())
	record(t.lock.Close())
	return firstErr
}

func builderOptionsForLevel(cfg options.Config, level int) table.BuilderOptions {
	policy := cfg.FilterPolicyAt(level)
	fp, has := policy.Resolve()
	return table.BuilderOptions{
		BlockSize:        cfg.DataBlockSizeAt(level),
		RestartInterval:  cfg.DataBlockRestartIntervalAt(level),
		UseHashIndex:     cfg.DataBlockHashRatioAt(level) > 0,
		DataCompression:  cfg.DataBlockCompressionAt(level),
		IndexCompression: cfg.IndexBlockCompressionAt(level),
		FilterPolicy:     fp,
		FilterVariant:    filter.Standard,
		DisableFilter:    !has,
	}
}
