package flush

import (
	"testing"

	"github.com/aalhour/lsmtree/internal/blob"
	"github.com/aalhour/lsmtree/internal/dbformat"
	"github.com/aalhour/lsmtree/internal/logging"
	"github.com/aalhour/lsmtree/internal/memtable"
	"github.com/aalhour/lsmtree/internal/table"
	"github.com/aalhour/lsmtree/internal/vfs"
	"github.com/aalhour/lsmtree/internal/version"
)

func openTestManifest(t *testing.T, dir string) *version.LevelManifest {
	t.Helper()
	lm, err := version.Open(vfs.Default(), dir, 3, logging.Discard)
	if err != nil {
		t.Fatalf("version.Open: %v", err)
	}
	t.Cleanup(func() { _ = lm.Close() })
	return lm
}

func TestJobRunWritesAllMemtableVersions(t *testing.T) {
	dir := t.TempDir()
	lm := openTestManifest(t, dir)

	mem := memtable.New()
	mem.Insert([]byte("k1"), 1, dbformat.Value, []byte("v1-old"))
	mem.Insert([]byte("k1"), 2, dbformat.Value, []byte("v1-new"))
	mem.Insert([]byte("k2"), 3, dbformat.Tombstone, nil)

	j := &Job{FS: vfs.Default(), Dir: dir, Manifest: lm, Logger: logging.Discard}
	result, err := j.Run(mem)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Table.ItemCount != 3 {
		t.Fatalf("expected flush to preserve every version (3 entries), got %d", result.Table.ItemCount)
	}
	if result.BlobFile != nil {
		t.Fatalf("expected no blob file when BlobThreshold is unset")
	}

	if lm.Current().NumTables(0) != 1 {
		t.Fatalf("expected 1 table at L0, got %d", lm.Current().NumTables(0))
	}
	if !vfs.Default().Exists(version.TableFileName(dir, result.Table.ID)) {
		t.Fatalf("table file not found on disk")
	}
}

func TestJobRunSeparatesLargeValuesIntoBlobFile(t *testing.T) {
	dir := t.TempDir()
	lm := openTestManifest(t, dir)

	bigValue := make([]byte, 32)
	for i := range bigValue {
		bigValue[i] = 'x'
	}

	mem := memtable.New()
	mem.Insert([]byte("k1"), 1, dbformat.Value, []byte("small"))
	mem.Insert([]byte("k2"), 2, dbformat.Value, bigValue)

	j := &Job{FS: vfs.Default(), Dir: dir, Manifest: lm, BlobThreshold: 16, Logger: logging.Discard}
	result, err := j.Run(mem)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.BlobFile == nil {
		t.Fatalf("expected a blob file since k2's value exceeds the threshold")
	}
	if result.BlobFile.ItemCount != 1 {
		t.Fatalf("expected 1 blob record, got %d", result.BlobFile.ItemCount)
	}

	r, err := vfs.Default().OpenRandomAccess(version.TableFileName(dir, result.Table.ID))
	if err != nil {
		t.Fatalf("open table: %v", err)
	}
	defer r.Close()
	rd, err := table.Open(r, 0, r.Size(), 0, nil)
	if err != nil {
		t.Fatalf("table.Open: %v", err)
	}

	value, typ, found, err := rd.Get([]byte("k1"), dbformat.MaxSeqNo)
	if err != nil || !found {
		t.Fatalf("Get(k1): found=%v err=%v", found, err)
	}
	if typ != dbformat.Value || string(value) != "small" {
		t.Fatalf("k1 should remain inline, got type=%v value=%q", typ, value)
	}

	value, typ, found, err = rd.Get([]byte("k2"), dbformat.MaxSeqNo)
	if err != nil || !found {
		t.Fatalf("Get(k2): found=%v err=%v", found, err)
	}
	if typ != dbformat.Indirection {
		t.Fatalf("k2 should have been separated into an indirection, got type=%v", typ)
	}
	handle, err := blob.DecodeHandle(value)
	if err != nil {
		t.Fatalf("DecodeHandle: %v", err)
	}
	if handle.FileID != result.BlobFile.FileID {
		t.Fatalf("handle points at file %d, want %d", handle.FileID, result.BlobFile.FileID)
	}

	br, err := vfs.Default().OpenRandomAccess(version.BlobFileName(dir, result.BlobFile.FileID))
	if err != nil {
		t.Fatalf("open blob file: %v", err)
	}
	defer br.Close()
	breader, err := blob.Open(br, br.Size())
	if err != nil {
		t.Fatalf("blob.Open: %v", err)
	}
	got, err := breader.Resolve(handle)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if string(got) != string(bigValue) {
		t.Fatalf("resolved blob value mismatch")
	}
}

func TestJobRunEmptyMemtableReturnsErrNoOutput(t *testing.T) {
	dir := t.TempDir()
	lm := openTestManifest(t, dir)

	j := &Job{FS: vfs.Default(), Dir: dir, Manifest: lm, Logger: logging.Discard}
	if _, err := j.Run(memtable.New()); err != ErrNoOutput {
		t.Fatalf("expected ErrNoOutput, got %v", err)
	}
	if lm.Current().NumTables(0) != 0 {
		t.Fatalf("expected no table to be registered for an empty flush")
	}
}
