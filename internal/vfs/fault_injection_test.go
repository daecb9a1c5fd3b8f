package vfs

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestFaultInjectionCrashRevertsUnsyncedWrites(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "MANIFEST")
	fi := NewFaultInjectionFS(Default())

	w, err := fi.Create(name)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("synced-")); err != nil {
		t.Fatal(err)
	}
	if err := w.Sync(); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("lost-after-crash")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	if err := fi.Crash(); err != nil {
		t.Fatal(err)
	}

	r, err := fi.OpenRandomAccess(name)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if r.Size() != int64(len("synced-")) {
		t.Fatalf("post-crash size = %d, want %d (unsynced tail must be dropped)", r.Size(), len("synced-"))
	}
}

func TestFaultInjectionInjectedWriteError(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "data")
	fi := NewFaultInjectionFS(Default())
	fi.InjectWriteError("data")

	w, err := fi.Create(name)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if _, err := w.Write([]byte("x")); !errors.Is(err, ErrInjectedWriteError) {
		t.Fatalf("expected ErrInjectedWriteError, got %v", err)
	}
}

func TestFaultInjectionInjectedReadError(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "data")
	fi := NewFaultInjectionFS(Default())

	w, _ := fi.Create(name)
	w.Write([]byte("hello"))
	w.Sync()
	w.Close()

	fi.InjectReadError("data")
	if _, err := fi.OpenRandomAccess(name); !errors.Is(err, ErrInjectedReadError) {
		t.Fatalf("expected ErrInjectedReadError, got %v", err)
	}
}

func TestFaultInjectionRenameRevertedWithoutSyncDir(t *testing.T) {
	dir := t.TempDir()
	oldName := filepath.Join(dir, "MANIFEST.tmp")
	newName := filepath.Join(dir, "MANIFEST")
	fi := NewFaultInjectionFS(Default())

	w, _ := fi.Create(oldName)
	w.Write([]byte("edit"))
	w.Sync()
	w.Close()

	if err := fi.Rename(oldName, newName); err != nil {
		t.Fatal(err)
	}
	// No SyncDir(dir) call: the rename must not survive a crash.
	if err := fi.Crash(); err != nil {
		t.Fatal(err)
	}
	if fi.Exists(newName) {
		t.Fatal("un-dir-synced rename survived simulated crash")
	}
	if !fi.Exists(oldName) {
		t.Fatal("crash should have reverted rename back to the old name")
	}
}

func TestFaultInjectionRenameSurvivesWithSyncDir(t *testing.T) {
	dir := t.TempDir()
	oldName := filepath.Join(dir, "MANIFEST.tmp")
	newName := filepath.Join(dir, "MANIFEST")
	fi := NewFaultInjectionFS(Default())

	w, _ := fi.Create(oldName)
	w.Write([]byte("edit"))
	w.Sync()
	w.Close()

	if err := fi.Rename(oldName, newName); err != nil {
		t.Fatal(err)
	}
	if err := fi.SyncDir(dir); err != nil {
		t.Fatal(err)
	}
	if err := fi.Crash(); err != nil {
		t.Fatal(err)
	}
	if !fi.Exists(newName) {
		t.Fatal("dir-synced rename should survive simulated crash")
	}
}
