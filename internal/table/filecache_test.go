package table

import (
	"path/filepath"
	"testing"

	"github.com/aalhour/lsmtree/internal/cache"
	"github.com/aalhour/lsmtree/internal/dbformat"
	"github.com/aalhour/lsmtree/internal/vfs"
)

func writeTestTableFile(t *testing.T, fs vfs.FS, path string) {
	t.Helper()
	f, err := fs.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b := NewBuilder(f, BuilderOptions{})
	for i, k := range []string{"a", "b", "c"} {
		key := dbformat.New([]byte(k), dbformat.SeqNo(i+1), dbformat.Value)
		if err := b.Add(key, []byte("v"+k)); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if _, err := b.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestFileCacheGetReturnsSameReaderWhileReferenced(t *testing.T) {
	fs := vfs.Default()
	dir := t.TempDir()
	path := filepath.Join(dir, "000001.sst")
	writeTestTableFile(t, fs, path)

	fc := NewFileCache(fs, 0, nil)
	defer fc.Close()

	r1, err := fc.Get(1, path, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	iter := r1.NewIterator()
	iter.SeekToFirst()
	if !iter.Valid() {
		t.Fatal("expected a valid iterator over the freshly cached reader")
	}

	r2, err := fc.Get(1, path, 0)
	if err != nil {
		t.Fatalf("Get (cached): %v", err)
	}
	if r1 != r2 {
		t.Fatal("expected the second Get to return the same cached Reader")
	}
	fc.Release(1)
	fc.Release(1)
}

func TestFileCacheEvictsLeastRecentlyUsedUnreferencedEntry(t *testing.T) {
	fs := vfs.Default()
	dir := t.TempDir()
	var paths []string
	for i := 1; i <= 3; i++ {
		p := filepath.Join(dir, string(rune('0'+i))+".sst")
		writeTestTableFile(t, fs, p)
		paths = append(paths, p)
	}

	fc := NewFileCache(fs, 2, nil)
	defer fc.Close()

	for i, p := range paths[:2] {
		if _, err := fc.Get(cache.GlobalFileID(i+1), p, 0); err != nil {
			t.Fatalf("Get: %v", err)
		}
		fc.Release(cache.GlobalFileID(i + 1))
	}
	if len(fc.entries) != 2 {
		t.Fatalf("expected 2 entries cached, got %d", len(fc.entries))
	}

	if _, err := fc.Get(3, paths[2], 0); err != nil {
		t.Fatalf("Get: %v", err)
	}
	fc.Release(3)

	if len(fc.entries) != 2 {
		t.Fatalf("expected the oldest unreferenced entry to be evicted, have %d entries", len(fc.entries))
	}
	if _, stillCached := fc.entries[1]; stillCached {
		t.Fatal("expected file 1 (least recently used) to have been evicted")
	}
}

func TestFileCacheDoesNotEvictReferencedEntry(t *testing.T) {
	fs := vfs.Default()
	dir := t.TempDir()
	var paths []string
	for i := 1; i <= 3; i++ {
		p := filepath.Join(dir, string(rune('0'+i))+".sst")
		writeTestTableFile(t, fs, p)
		paths = append(paths, p)
	}

	fc := NewFileCache(fs, 2, nil)
	defer fc.Close()

	if _, err := fc.Get(1, paths[0], 0); err != nil {
		t.Fatalf("Get: %v", err)
	}
	// File 1 is never released, so it must survive being the LRU tail.
	if _, err := fc.Get(2, paths[1], 0); err != nil {
		t.Fatalf("Get: %v", err)
	}
	fc.Release(2)
	if _, err := fc.Get(3, paths[2], 0); err != nil {
		t.Fatalf("Get: %v", err)
	}
	fc.Release(3)

	if _, stillCached := fc.entries[1]; !stillCached {
		t.Fatal("a still-referenced entry must never be evicted")
	}
	fc.Release(1)
}

func TestFileCacheEvictClosesAndDropsEntry(t *testing.T) {
	fs := vfs.Default()
	dir := t.TempDir()
	path := filepath.Join(dir, "1.sst")
	writeTestTableFile(t, fs, path)

	fc := NewFileCache(fs, 0, nil)
	defer fc.Close()

	if _, err := fc.Get(1, path, 0); err != nil {
		t.Fatalf("Get: %v", err)
	}
	fc.Release(1)
	fc.Evict(1)

	if _, stillCached := fc.entries[1]; stillCached {
		t.Fatal("Evict should drop the entry immediately")
	}

	r, err := fc.Get(1, path, 0)
	if err != nil {
		t.Fatalf("Get after evict should reopen the file: %v", err)
	}
	fc.Release(1)
	_ = r
}
