package lsmtree

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/aalhour/lsmtree/internal/blob"
	"github.com/aalhour/lsmtree/internal/dbformat"
	"github.com/aalhour/lsmtree/internal/memtable"
)

func TestLargeValueIsSeparatedAndResolvedAfterFlush(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.BlobThreshold = 32
	cfg.MemtableSizeTrigger = 1 << 20

	tr, err := Open(dir, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()

	big := bytes.Repeat([]byte{'z'}, 256)
	if err := tr.Insert([]byte("big"), big, 1); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if _, err := tr.flushLocked(tr.active); err != nil {
		t.Fatalf("flush: %v", err)
	}
	tr.active = memtable.New() // force Get to read through the flushed table, not the stale memtable

	got, err := tr.GetWithSeqno([]byte("big"), dbformat.MaxSeqNo)
	if err != nil {
		t.Fatalf("Get(big) after flush: %v", err)
	}
	if !bytes.Equal(got, big) {
		t.Errorf("Get(big) after flush = %x, want %x", got, big)
	}
}

func TestRunGCReportsReclaimedBytes(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.BlobThreshold = 16
	cfg.MemtableSizeTrigger = 1 << 20

	tr, err := Open(dir, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()

	value := bytes.Repeat([]byte{'v'}, 64)
	for i := 0; i < 20; i++ {
		key := []byte(fmt.Sprintf("k%03d", i))
		if err := tr.Insert(key, value, dbformat.SeqNo(i+1)); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}
	if _, err := tr.flushLocked(tr.active); err != nil {
		t.Fatalf("flush: %v", err)
	}

	for i := 0; i < 20; i += 2 {
		key := []byte(fmt.Sprintf("k%03d", i))
		if err := tr.Remove(key, dbformat.SeqNo(100+i)); err != nil {
			t.Fatalf("Remove %d: %v", i, err)
		}
	}
	if _, err := tr.flushLocked(tr.active); err != nil {
		t.Fatalf("second flush: %v", err)
	}

	report, err := tr.RunGC(blob.StaleThresholdStrategy{StaleRatio: 0})
	if err != nil {
		t.Fatalf("RunGC: %v", err)
	}
	_ = report
}
