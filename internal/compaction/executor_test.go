package compaction

import (
	"testing"

	"github.com/aalhour/lsmtree/internal/blob"
	"github.com/aalhour/lsmtree/internal/dbformat"
	"github.com/aalhour/lsmtree/internal/logging"
	"github.com/aalhour/lsmtree/internal/manifest"
	"github.com/aalhour/lsmtree/internal/table"
	"github.com/aalhour/lsmtree/internal/vfs"
	"github.com/aalhour/lsmtree/internal/version"
)

func writeTestTable(t *testing.T, lm *version.LevelManifest, dir string, entries []struct {
	key   string
	seq   dbformat.SeqNo
	typ   dbformat.ValueType
	value []byte
}) manifest.TableInfo {
	t.Helper()
	id := lm.AllocFileID()
	f, err := vfs.Default().Create(version.TableFileName(dir, id))
	if err != nil {
		t.Fatalf("create table file: %v", err)
	}
	b := table.NewBuilder(f, table.BuilderOptions{})
	for _, e := range entries {
		if err := b.Add(dbformat.New([]byte(e.key), e.seq, e.typ), e.value); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	props, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := f.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	size, err := f.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return manifest.TableInfo{
		ID: id, Level: 0, KeyMin: props.KeyMin, KeyMax: props.KeyMax,
		SeqnoMin: props.SeqnoMin, SeqnoMax: props.SeqnoMax,
		ItemCount: props.ItemCount, FileSize: size,
	}
}

func TestExecutorStandardMergeDropsShadowedVersion(t *testing.T) {
	dir := t.TempDir()
	lm := openTestManifest(t, dir)

	older := writeTestTable(t, lm, dir, []struct {
		key   string
		seq   dbformat.SeqNo
		typ   dbformat.ValueType
		value []byte
	}{
		{"k1", 1, dbformat.Value, []byte("v1-old")},
		{"k2", 2, dbformat.Value, []byte("v2")},
	})
	newer := writeTestTable(t, lm, dir, []struct {
		key   string
		seq   dbformat.SeqNo
		typ   dbformat.ValueType
		value []byte
	}{
		{"k1", 3, dbformat.Value, []byte("v1-new")},
	})

	addEdit := &manifest.Edit{AddedTables: []manifest.TableInfo{older, newer}}
	if _, err := lm.LogAndApply(addEdit); err != nil {
		t.Fatalf("LogAndApply add: %v", err)
	}

	plan := &Plan{
		Action: Merge,
		// newer must come first: iterator.Merging takes children newest-first.
		Inputs:      map[int][]version.TableMeta{0: {tableMetaFrom(newer), tableMetaFrom(older)}},
		OutputLevel: 1,
		IsLastLevel: true,
	}

	ex := &Executor{FS: vfs.Default(), Dir: dir, Manifest: lm, Logger: logging.Discard}
	result, err := ex.Execute(plan, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(result.OutputTables) != 1 {
		t.Fatalf("expected 1 output table, got %d", len(result.OutputTables))
	}
	if result.OutputTables[0].ItemCount != 2 {
		t.Fatalf("expected 2 surviving items (k1-new, k2), got %d", result.OutputTables[0].ItemCount)
	}

	current := lm.Current()
	if current.NumTables(0) != 0 {
		t.Fatalf("expected input tables removed from level 0, got %d", current.NumTables(0))
	}
	if current.NumTables(1) != 1 {
		t.Fatalf("expected 1 table at output level 1, got %d", current.NumTables(1))
	}
	if vfs.Default().Exists(version.TableFileName(dir, older.ID)) {
		t.Fatalf("old input table file %d should have been removed", older.ID)
	}
}

func tableMetaFrom(ti manifest.TableInfo) version.TableMeta {
	return version.TableMeta{
		ID: ti.ID, KeyMin: ti.KeyMin, KeyMax: ti.KeyMax,
		SeqnoMin: ti.SeqnoMin, SeqnoMax: ti.SeqnoMax,
		ItemCount: ti.ItemCount, FileSize: ti.FileSize,
	}
}

func TestExecutorRelocatingCompactionRewritesBlobFile(t *testing.T) {
	dir := t.TempDir()
	lm := openTestManifest(t, dir)

	blobID := lm.AllocFileID()
	blobData, handles := writeTestBlobFile(t, blobID, []string{"k1"}, []string{"big-value"})
	blobFile, err := vfs.Default().Create(version.BlobFileName(dir, blobID))
	if err != nil {
		t.Fatalf("create blob file: %v", err)
	}
	if _, err := blobFile.Write(blobData); err != nil {
		t.Fatalf("write blob file: %v", err)
	}
	if err := blobFile.Close(); err != nil {
		t.Fatalf("close blob file: %v", err)
	}
	if _, err := lm.LogAndApply(&manifest.Edit{AddedBlobFiles: []manifest.BlobFileInfo{{ID: blobID, TotalBytes: uint64(len(blobData))}}}); err != nil {
		t.Fatalf("LogAndApply blob: %v", err)
	}

	indirectionValue := handles[0].Encode(nil)
	tableInfo := writeTestTable(t, lm, dir, []struct {
		key   string
		seq   dbformat.SeqNo
		typ   dbformat.ValueType
		value []byte
	}{
		{"k1", 1, dbformat.Indirection, indirectionValue},
	})
	if _, err := lm.LogAndApply(&manifest.Edit{AddedTables: []manifest.TableInfo{tableInfo}}); err != nil {
		t.Fatalf("LogAndApply table: %v", err)
	}

	plan := &Plan{
		Action:      Merge,
		Inputs:      map[int][]version.TableMeta{0: {tableMetaFrom(tableInfo)}},
		OutputLevel: 1,
		IsLastLevel: true,
	}

	ex := &Executor{FS: vfs.Default(), Dir: dir, Manifest: lm, Logger: logging.Discard}
	result, err := ex.Execute(plan, map[uint64]bool{blobID: true})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.AddedBlobFile == nil {
		t.Fatalf("expected a new blob file to be produced")
	}
	if len(result.RemovedBlobFileIDs) != 1 || result.RemovedBlobFileIDs[0] != blobID {
		t.Fatalf("expected old blob file %d marked removed, got %+v", blobID, result.RemovedBlobFileIDs)
	}

	newBlobID := result.AddedBlobFile.FileID
	r, err := vfs.Default().OpenRandomAccess(version.BlobFileName(dir, newBlobID))
	if err != nil {
		t.Fatalf("open new blob file: %v", err)
	}
	defer r.Close()
	reader, err := blob.Open(r, r.Size())
	if err != nil {
		t.Fatalf("blob.Open: %v", err)
	}

	tr, err := vfs.Default().OpenRandomAccess(version.TableFileName(dir, result.OutputTables[0].ID))
	if err != nil {
		t.Fatalf("open output table: %v", err)
	}
	defer tr.Close()
	rd, err := table.Open(tr, 0, tr.Size(), 0, nil)
	if err != nil {
		t.Fatalf("table.Open: %v", err)
	}
	value, typ, found, err := rd.Get([]byte("k1"), dbformat.MaxSeqNo)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found || typ != dbformat.Indirection {
		t.Fatalf("expected an indirection entry for k1, found=%v type=%v", found, typ)
	}
	rewrittenHandle, err := blob.DecodeHandle(value)
	if err != nil {
		t.Fatalf("DecodeHandle: %v", err)
	}
	if rewrittenHandle.FileID != newBlobID {
		t.Fatalf("rewritten handle points at file %d, want %d", rewrittenHandle.FileID, newBlobID)
	}
	got, err := reader.Resolve(rewrittenHandle)
	if err != nil {
		t.Fatalf("resolve rewritten value: %v", err)
	}
	if string(got) != "big-value" {
		t.Fatalf("rewritten value = %q, want %q", got, "big-value")
	}
}
