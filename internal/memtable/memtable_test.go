package memtable

import (
	"testing"

	"github.com/aalhour/lsmtree/internal/dbformat"
)

func TestMemtableEmpty(t *testing.T) {
	mt := New()

	if mt.Count() != 0 {
		t.Errorf("Count = %d, want 0", mt.Count())
	}
	if mt.ApproximateSize() != 0 {
		t.Errorf("ApproximateSize = %d, want 0", mt.ApproximateSize())
	}
	if _, _, found := mt.Get([]byte("key"), dbformat.MaxSeqNo); found {
		t.Error("Get on empty memtable should not find anything")
	}
}

func TestMemtableInsertAndGet(t *testing.T) {
	mt := New()
	mt.Insert([]byte("key1"), 1, dbformat.Value, []byte("value1"))

	if mt.Count() != 1 {
		t.Errorf("Count = %d, want 1", mt.Count())
	}

	value, typ, found := mt.Get([]byte("key1"), dbformat.MaxSeqNo)
	if !found {
		t.Fatal("expected to find key1")
	}
	if typ != dbformat.Value || string(value) != "value1" {
		t.Errorf("Get(key1) = (%q, %v), want (value1, Value)", value, typ)
	}
}

func TestMemtableGetRespectsSeqnoVisibility(t *testing.T) {
	mt := New()
	mt.Insert([]byte("key1"), 1, dbformat.Value, []byte("v1"))
	mt.Insert([]byte("key1"), 3, dbformat.Value, []byte("v3"))

	value, _, found := mt.Get([]byte("key1"), 2)
	if !found || string(value) != "v1" {
		t.Fatalf("Get at seqno 2 should see v1, got %q found=%v", value, found)
	}

	value, _, found = mt.Get([]byte("key1"), 3)
	if !found || string(value) != "v3" {
		t.Fatalf("Get at seqno 3 should see v3, got %q found=%v", value, found)
	}

	if _, _, found := mt.Get([]byte("key1"), 0); found {
		t.Fatal("Get at seqno 0 should see no visible write")
	}
}

func TestMemtableGetSeesTombstone(t *testing.T) {
	mt := New()
	mt.Insert([]byte("key1"), 1, dbformat.Value, []byte("v1"))
	mt.Insert([]byte("key1"), 2, dbformat.Tombstone, nil)

	_, typ, found := mt.Get([]byte("key1"), dbformat.MaxSeqNo)
	if !found {
		t.Fatal("Get should still report found=true for a tombstone, distinguished by type")
	}
	if typ != dbformat.Tombstone {
		t.Errorf("type = %v, want Tombstone", typ)
	}
}

func TestMemtableApproximateSizeGrows(t *testing.T) {
	mt := New()
	mt.Insert([]byte("k1"), 1, dbformat.Value, []byte("value"))
	first := mt.ApproximateSize()
	if first == 0 {
		t.Fatal("expected a nonzero approximate size after one insert")
	}
	mt.Insert([]byte("k2"), 2, dbformat.Value, []byte("value"))
	if mt.ApproximateSize() <= first {
		t.Fatal("approximate size should grow monotonically with inserts")
	}
}

func TestMemtableIteratorOrdersByUserKeyThenSeqnoDescending(t *testing.T) {
	mt := New()
	mt.Insert([]byte("b"), 1, dbformat.Value, []byte("b1"))
	mt.Insert([]byte("a"), 2, dbformat.Value, []byte("a2"))
	mt.Insert([]byte("a"), 1, dbformat.Value, []byte("a1"))

	it := mt.NewIterator()
	var gotKeys []string
	var gotSeqs []dbformat.SeqNo
	for it.SeekToFirst(); it.Valid(); it.Next() {
		gotKeys = append(gotKeys, string(it.Key().UserKey()))
		gotSeqs = append(gotSeqs, it.Key().SeqNo())
	}

	wantKeys := []string{"a", "a", "b"}
	wantSeqs := []dbformat.SeqNo{2, 1, 1}
	if len(gotKeys) != len(wantKeys) {
		t.Fatalf("got %d entries, want %d", len(gotKeys), len(wantKeys))
	}
	for i := range wantKeys {
		if gotKeys[i] != wantKeys[i] || gotSeqs[i] != wantSeqs[i] {
			t.Errorf("entry %d = (%q, %d), want (%q, %d)", i, gotKeys[i], gotSeqs[i], wantKeys[i], wantSeqs[i])
		}
	}
}
