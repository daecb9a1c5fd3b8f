package version

import (
	"testing"

	"github.com/aalhour/lsmtree/internal/logging"
	"github.com/aalhour/lsmtree/internal/manifest"
	"github.com/aalhour/lsmtree/internal/vfs"
)

func TestLevelManifestOpenCreatesEmptyVersion(t *testing.T) {
	dir := t.TempDir()
	lm, err := Open(vfs.Default(), dir, 4, logging.Discard)
	if err != nil {
		t.Fatal(err)
	}
	defer lm.Close()

	if got := lm.Current().NumLevels(); got != 4 {
		t.Fatalf("NumLevels() = %d, want 4", got)
	}
	first := lm.AllocFileID()
	if second := lm.AllocFileID(); second <= first {
		t.Fatalf("AllocFileID() not monotonic: %d then %d", first, second)
	}
}

func TestLevelManifestLogAndApplyThenRecover(t *testing.T) {
	dir := t.TempDir()
	fs := vfs.Default()

	lm, err := Open(fs, dir, 3, logging.Discard)
	if err != nil {
		t.Fatal(err)
	}
	id := lm.AllocFileID()
	edit := &manifest.Edit{
		AddedTables: []manifest.TableInfo{
			{ID: id, Level: 0, KeyMin: []byte("a"), KeyMax: []byte("z"), ItemCount: 3, FileSize: 256},
		},
		HasLastSeqno: true,
		LastSeqno:    99,
	}
	if _, err := lm.LogAndApply(edit); err != nil {
		t.Fatalf("LogAndApply: %v", err)
	}
	if err := lm.Close(); err != nil {
		t.Fatal(err)
	}

	lm2, err := Open(fs, dir, 3, logging.Discard)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer lm2.Close()

	v := lm2.Current()
	if got := v.NumTables(0); got != 1 {
		t.Fatalf("recovered NumTables(0) = %d, want 1", got)
	}
	if v.Tables(0)[0].ID != id {
		t.Fatalf("recovered table ID = %d, want %d", v.Tables(0)[0].ID, id)
	}
	if got := lm2.LastSeqno(); got != 99 {
		t.Fatalf("recovered LastSeqno() = %d, want 99", got)
	}
	// File ID allocation must continue past what was already used.
	if next := lm2.AllocFileID(); next <= id {
		t.Fatalf("AllocFileID() after recovery = %d, want > %d", next, id)
	}
}

func TestLevelManifestMultipleEditsAccumulate(t *testing.T) {
	dir := t.TempDir()
	fs := vfs.Default()

	lm, err := Open(fs, dir, 2, logging.Discard)
	if err != nil {
		t.Fatal(err)
	}
	defer lm.Close()

	id1 := lm.AllocFileID()
	if _, err := lm.LogAndApply(&manifest.Edit{
		AddedTables: []manifest.TableInfo{{ID: id1, Level: 0, KeyMin: []byte("a"), KeyMax: []byte("c")}},
	}); err != nil {
		t.Fatal(err)
	}

	id2 := lm.AllocFileID()
	if _, err := lm.LogAndApply(&manifest.Edit{
		AddedTables:   []manifest.TableInfo{{ID: id2, Level: 0, KeyMin: []byte("d"), KeyMax: []byte("f")}},
		RemovedTables: []manifest.RemovedTable{{ID: id1, Level: 0}},
	}); err != nil {
		t.Fatal(err)
	}

	v := lm.Current()
	if got := v.NumTables(0); got != 1 {
		t.Fatalf("NumTables(0) = %d, want 1", got)
	}
	if v.Tables(0)[0].ID != id2 {
		t.Fatalf("surviving table = %d, want %d", v.Tables(0)[0].ID, id2)
	}
}
