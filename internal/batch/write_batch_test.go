package batch

import (
	"bytes"
	"testing"
)

type recordingHandler struct {
	puts    [][2]string
	deletes []string
	singles []string
}

func (h *recordingHandler) Put(key, value []byte) error {
	h.puts = append(h.puts, [2]string{string(key), string(value)})
	return nil
}

func (h *recordingHandler) Delete(key []byte) error {
	h.deletes = append(h.deletes, string(key))
	return nil
}

func (h *recordingHandler) SingleDelete(key []byte) error {
	h.singles = append(h.singles, string(key))
	return nil
}

func TestBatchEncodeDecodeIterateRoundTrip(t *testing.T) {
	b := New()
	b.Put([]byte("a"), []byte("1"))
	b.Delete([]byte("b"))
	b.SingleDelete([]byte("c"))
	b.Put([]byte("d"), []byte(""))

	if got := b.Count(); got != 4 {
		t.Fatalf("Count() = %d, want 4", got)
	}

	decoded, err := NewFromData(b.Data())
	if err != nil {
		t.Fatalf("NewFromData: %v", err)
	}
	if decoded.Count() != 4 {
		t.Fatalf("decoded Count() = %d, want 4", decoded.Count())
	}

	h := &recordingHandler{}
	if err := decoded.Iterate(h); err != nil {
		t.Fatalf("Iterate: %v", err)
	}

	wantPuts := [][2]string{{"a", "1"}, {"d", ""}}
	if len(h.puts) != len(wantPuts) {
		t.Fatalf("puts = %v, want %v", h.puts, wantPuts)
	}
	for i := range wantPuts {
		if h.puts[i] != wantPuts[i] {
			t.Fatalf("puts[%d] = %v, want %v", i, h.puts[i], wantPuts[i])
		}
	}
	if len(h.deletes) != 1 || h.deletes[0] != "b" {
		t.Fatalf("deletes = %v", h.deletes)
	}
	if len(h.singles) != 1 || h.singles[0] != "c" {
		t.Fatalf("singles = %v", h.singles)
	}
}

func TestBatchClearResetsState(t *testing.T) {
	b := New()
	b.Put([]byte("x"), []byte("y"))
	b.Clear()
	if b.Count() != 0 {
		t.Fatalf("Count() after Clear = %d, want 0", b.Count())
	}
	if len(b.Data()) != 1 {
		t.Fatalf("Data() after Clear should be just the zero count varint, got %d bytes", len(b.Data()))
	}
}

func TestNewFromDataRejectsCorruptInput(t *testing.T) {
	b := New()
	b.Put([]byte("k"), []byte("v"))
	data := b.Data()

	if _, err := NewFromData(data[:0]); err == nil {
		t.Fatal("expected error decoding empty data")
	}

	decoded, err := NewFromData(append([]byte(nil), data...))
	if err != nil {
		t.Fatalf("NewFromData: %v", err)
	}
	// Corrupt the tag byte of the single record to something unrecognized.
	truncated := &Batch{count: decoded.count, buf: []byte{0xFF}}
	if err := truncated.Iterate(&recordingHandler{}); err != ErrCorruptBatch {
		t.Fatalf("Iterate with bad tag = %v, want ErrCorruptBatch", err)
	}
}

func TestBatchDataRoundTripBytes(t *testing.T) {
	b := New()
	b.Put([]byte("key"), []byte("value"))
	data := b.Data()

	decoded, err := NewFromData(data)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded.Data(), data) {
		t.Fatalf("re-encoded batch differs from original")
	}
}
