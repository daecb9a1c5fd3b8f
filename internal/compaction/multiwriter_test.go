package compaction

import (
	"testing"

	"github.com/aalhour/lsmtree/internal/dbformat"
	"github.com/aalhour/lsmtree/internal/logging"
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

func TestMultiWriterWritesSingleFileUnderTargetSize(t *testing.T) {
	dir := t.TempDir()
	lm := openTestManifest(t, dir)

	mw := NewMultiWriter(vfs.Default(), dir, lm, table.BuilderOptions{}, 0)
	for i := 0; i < 10; i++ {
		key := dbformat.New([]byte{byte('a' + i)}, dbformat.SeqNo(i+1), dbformat.Value)
		if err := mw.Write(key, []byte("value")); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	tables, err := mw.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if len(tables) != 1 {
		t.Fatalf("expected 1 output table, got %d", len(tables))
	}
	if tables[0].ItemCount != 10 {
		t.Fatalf("ItemCount = %d, want 10", tables[0].ItemCount)
	}
	if tables[0].FileSize == 0 {
		t.Fatalf("FileSize not populated")
	}
	if !vfs.Default().Exists(version.TableFileName(dir, tables[0].ID)) {
		t.Fatalf("output table file missing on disk")
	}
}

func TestMultiWriterRollsOverPastTargetSize(t *testing.T) {
	dir := t.TempDir()
	lm := openTestManifest(t, dir)

	mw := NewMultiWriter(vfs.Default(), dir, lm, table.BuilderOptions{}, 20)
	for i := 0; i < 10; i++ {
		key := dbformat.New([]byte{byte('a' + i)}, dbformat.SeqNo(i+1), dbformat.Value)
		if err := mw.Write(key, []byte("0123456789")); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	tables, err := mw.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if len(tables) < 2 {
		t.Fatalf("expected multiple output tables from rollover, got %d", len(tables))
	}
	var total uint64
	for _, tb := range tables {
		total += tb.ItemCount
		if !vfs.Default().Exists(version.TableFileName(dir, tb.ID)) {
			t.Fatalf("output table %d missing on disk", tb.ID)
		}
	}
	if total != 10 {
		t.Fatalf("total items across output tables = %d, want 10", total)
	}
}
