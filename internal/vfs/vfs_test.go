package vfs

import (
	"path/filepath"
	"testing"
)

func TestOSFSCreateWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fs := Default()
	name := filepath.Join(dir, "data")

	w, err := fs.Create(name)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := w.Sync(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := fs.OpenRandomAccess(name)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if r.Size() != 5 {
		t.Fatalf("size = %d, want 5", r.Size())
	}
	buf := make([]byte, 5)
	if _, err := r.ReadAt(buf, 0); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hello" {
		t.Fatalf("read %q, want hello", buf)
	}
}

func TestOSFSExistsAndListDir(t *testing.T) {
	dir := t.TempDir()
	fs := Default()
	if fs.Exists(filepath.Join(dir, "nope")) {
		t.Fatal("nonexistent file reported as existing")
	}
	name := filepath.Join(dir, "a.txt")
	w, _ := fs.Create(name)
	w.Close()
	if !fs.Exists(name) {
		t.Fatal("created file reported as missing")
	}
	names, err := fs.ListDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "a.txt" {
		t.Fatalf("ListDir = %v", names)
	}
}

func TestOSFSLockExcludesSecondLocker(t *testing.T) {
	dir := t.TempDir()
	fs := Default()
	name := filepath.Join(dir, "LOCK")

	l1, err := fs.Lock(name)
	if err != nil {
		t.Fatal(err)
	}
	defer l1.Close()

	if _, err := fs.Lock(name); err == nil {
		t.Fatal("expected second Lock to fail while first is held")
	}
}
