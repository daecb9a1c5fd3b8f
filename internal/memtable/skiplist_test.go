package memtable

import (
	"testing"

	"github.com/aalhour/lsmtree/internal/dbformat"
)

func TestSkipListEmpty(t *testing.T) {
	sl := NewSkipList()

	if sl.Count() != 0 {
		t.Errorf("Count = %d, want 0", sl.Count())
	}

	iter := sl.NewIterator()
	iter.SeekToFirst()
	if iter.Valid() {
		t.Error("Iterator should be invalid on empty list")
	}

	iter.SeekToLast()
	if iter.Valid() {
		t.Error("Iterator should be invalid on empty list (SeekToLast)")
	}
}

func TestSkipListIteratorForward(t *testing.T) {
	sl := NewSkipList()

	keys := []string{"a", "b", "c", "d"}
	for i, k := range keys {
		sl.Insert(dbformat.New([]byte(k), dbformat.SeqNo(i+1), dbformat.Value), []byte("v"))
	}

	iter := sl.NewIterator()
	i := 0
	for iter.SeekToFirst(); iter.Valid(); iter.Next() {
		if string(iter.Key().UserKey()) != keys[i] {
			t.Errorf("Key[%d] = %q, want %q", i, iter.Key().UserKey(), keys[i])
		}
		i++
	}
	if i != len(keys) {
		t.Errorf("iterated %d keys, want %d", i, len(keys))
	}
	if err := iter.Error(); err != nil {
		t.Fatalf("Error() = %v, want nil", err)
	}
}

func TestSkipListIteratorPrev(t *testing.T) {
	sl := NewSkipList()

	keys := []string{"a", "b", "c", "d"}
	for i, k := range keys {
		sl.Insert(dbformat.New([]byte(k), dbformat.SeqNo(i+1), dbformat.Value), []byte("v"))
	}

	iter := sl.NewIterator()
	iter.SeekToLast()

	expected := []string{"d", "c", "b", "a"}
	i := 0
	for iter.Valid() && i < len(expected) {
		if string(iter.Key().UserKey()) != expected[i] {
			t.Errorf("Key[%d] = %q, want %q", i, iter.Key().UserKey(), expected[i])
		}
		i++
		iter.Prev()
	}
	if i != len(expected) {
		t.Errorf("iterated %d keys, want %d", i, len(expected))
	}
	if iter.Valid() {
		t.Error("Iterator should be invalid after stepping past the first key")
	}
}

func TestSkipListIteratorSeek(t *testing.T) {
	sl := NewSkipList()

	keys := []string{"b", "d", "f", "h"}
	for i, k := range keys {
		sl.Insert(dbformat.New([]byte(k), dbformat.SeqNo(i+1), dbformat.Value), []byte("v"))
	}

	iter := sl.NewIterator()

	iter.Seek(dbformat.SeekKey([]byte("d")))
	if !iter.Valid() || string(iter.Key().UserKey()) != "d" {
		t.Fatalf("Seek(d): got %q", iter.Key().UserKey())
	}

	iter.Seek(dbformat.SeekKey([]byte("e")))
	if !iter.Valid() || string(iter.Key().UserKey()) != "f" {
		t.Fatalf("Seek(e): expected first key >= e to be f, got %q", iter.Key().UserKey())
	}

	iter.Seek(dbformat.SeekKey([]byte("z")))
	if iter.Valid() {
		t.Error("Seek(z) should land past the last key")
	}
}

func TestSkipListMultipleVersionsOfSameKey(t *testing.T) {
	sl := NewSkipList()

	sl.Insert(dbformat.New([]byte("k"), 1, dbformat.Value), []byte("v1"))
	sl.Insert(dbformat.New([]byte("k"), 3, dbformat.Value), []byte("v3"))
	sl.Insert(dbformat.New([]byte("k"), 2, dbformat.Value), []byte("v2"))

	iter := sl.NewIterator()
	iter.SeekToFirst()

	// Same user key sorts newest-seqno-first.
	wantSeq := []dbformat.SeqNo{3, 2, 1}
	for i, want := range wantSeq {
		if !iter.Valid() {
			t.Fatalf("iterator ran out at index %d", i)
		}
		if iter.Key().SeqNo() != want {
			t.Errorf("entry %d: seqno = %d, want %d", i, iter.Key().SeqNo(), want)
		}
		iter.Next()
	}
}
