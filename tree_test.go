package lsmtree

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/aalhour/lsmtree/internal/compaction"
	"github.com/aalhour/lsmtree/internal/dbformat"
)

func testConfig() Config {
	cfg := DefaultConfig(4)
	cfg.MemtableSizeTrigger = 1 << 20
	return cfg
}

func TestInsertAndGet(t *testing.T) {
	dir := t.TempDir()
	tr, err := Open(dir, testConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()

	if err := tr.Insert([]byte("a"), []byte("1"), 1); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tr.Insert([]byte("b"), []byte("2"), 2); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	v, err := tr.Get([]byte("a"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(v, []byte("1")) {
		t.Errorf("Get(a) = %q, want %q", v, "1")
	}

	if _, err := tr.Get([]byte("missing")); err != ErrNotFound {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestRemoveShadowsEarlierInsert(t *testing.T) {
	dir := t.TempDir()
	tr, err := Open(dir, testConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()

	if err := tr.Insert([]byte("k"), []byte("v"), 1); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tr.Remove([]byte("k"), 2); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, err := tr.Get([]byte("k")); err != ErrNotFound {
		t.Errorf("Get after Remove = %v, want ErrNotFound", err)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	dir := t.TempDir()
	tr, err := Open(dir, testConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()

	if err := tr.Insert([]byte("k"), []byte("v1"), 1); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	snap := tr.Snapshot()
	defer snap.Close()

	if err := tr.Insert([]byte("k"), []byte("v2"), 2); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	v, err := snap.Get([]byte("k"))
	if err != nil {
		t.Fatalf("snapshot Get: %v", err)
	}
	if !bytes.Equal(v, []byte("v1")) {
		t.Errorf("snapshot Get(k) = %q, want %q (snapshot should not see the later write)", v, "v1")
	}

	v, err = tr.Get([]byte("k"))
	if err != nil {
		t.Fatalf("current Get: %v", err)
	}
	if !bytes.Equal(v, []byte("v2")) {
		t.Errorf("current Get(k) = %q, want %q", v, "v2")
	}
}

func TestFlushRotatesMemtableAndSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.MemtableSizeTrigger = 256

	tr, err := Open(dir, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		value := bytes.Repeat([]byte{byte(i)}, 32)
		if err := tr.Insert(key, value, dbformat.SeqNo(i+1)); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(dir, cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		want := bytes.Repeat([]byte{byte(i)}, 32)
		got, err := reopened.Get(key)
		if err != nil {
			t.Fatalf("Get(%s) after reopen: %v", key, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("Get(%s) = %x, want %x", key, got, want)
		}
	}
}

func TestRangeScanOrderedAndBounded(t *testing.T) {
	dir := t.TempDir()
	tr, err := Open(dir, testConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()

	keys := []string{"a", "b", "c", "d", "e"}
	for i, k := range keys {
		if err := tr.Insert([]byte(k), []byte(k+k), dbformat.SeqNo(i+1)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	it := tr.Range(Bounds{Lower: []byte("b"), Upper: []byte("e")})
	defer it.Close()

	var got []string
	for it.Valid() {
		got = append(got, string(it.Key()))
		it.Next()
	}
	if err := it.Error(); err != nil {
		t.Fatalf("scan error: %v", err)
	}

	want := []string{"b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPrefixScan(t *testing.T) {
	dir := t.TempDir()
	tr, err := Open(dir, testConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()

	for i, k := range []string{"foo/1", "foo/2", "bar/1", "foo/3"} {
		if err := tr.Insert([]byte(k), []byte("v"), dbformat.SeqNo(i+1)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	it := tr.Prefix([]byte("foo/"))
	defer it.Close()

	count := 0
	for it.Valid() {
		if !bytes.HasPrefix(it.Key(), []byte("foo/")) {
			t.Errorf("key %q does not share prefix foo/", it.Key())
		}
		count++
		it.Next()
	}
	if count != 3 {
		t.Errorf("got %d keys, want 3", count)
	}
}

func TestCompactMergesFlushedTables(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.MemtableSizeTrigger = 128

	tr, err := Open(dir, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()

	for i := 0; i < 200; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		if err := tr.Insert(key, bytes.Repeat([]byte{'x'}, 16), dbformat.SeqNo(i+1)); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	picker := compaction.DefaultLevelled(cfg.Config)
	for i := 0; i < 8; i++ {
		if _, err := tr.Compact(picker); err != nil {
			t.Fatalf("Compact iteration %d: %v", i, err)
		}
	}

	for i := 0; i < 200; i += 17 {
		key := []byte(fmt.Sprintf("key-%05d", i))
		if _, err := tr.Get(key); err != nil {
			t.Errorf("Get(%s) after compaction: %v", key, err)
		}
	}
}

func TestDiskSpaceReflectsFlushedData(t *testing.T) {
	dir := t.TempDir()
	tr, err := Open(dir, testConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()

	before := tr.DiskSpace()
	for i := 0; i < 10; i++ {
		key := []byte(fmt.Sprintf("k%02d", i))
		if err := tr.Insert(key, bytes.Repeat([]byte{'y'}, 64), dbformat.SeqNo(i+1)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if _, err := tr.flushLocked(tr.active); err != nil {
		t.Fatalf("flush: %v", err)
	}

	after := tr.DiskSpace()
	if after <= before {
		t.Errorf("DiskSpace after flush = %d, want > %d", after, before)
	}
}

func TestKeyTooLarge(t *testing.T) {
	dir := t.TempDir()
	tr, err := Open(dir, testConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()

	big := bytes.Repeat([]byte{'k'}, maxKeySize+1)
	if err := tr.Insert(big, []byte("v"), 1); err != ErrKeyTooLarge {
		t.Errorf("Insert with oversized key error = %v, want ErrKeyTooLarge", err)
	}
}

func TestClosedTreeRejectsOperations(t *testing.T) {
	dir := t.TempDir()
	tr, err := Open(dir, testConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := tr.Insert([]byte("a"), []byte("b"), 1); err != ErrClosed {
		t.Errorf("Insert after Close error = %v, want ErrClosed", err)
	}
	if _, err := tr.Get([]byte("a")); err != ErrClosed {
		t.Errorf("Get after Close error = %v, want ErrClosed", err)
	}
}
