package vfs

import (
	"errors"
	"io"
	"os"
	"strings"
	"sync"
)

var (
	// ErrInjectedReadError is returned when a read error is injected.
	ErrInjectedReadError = errors.New("vfs: injected read error")
	// ErrInjectedWriteError is returned when a write error is injected.
	ErrInjectedWriteError = errors.New("vfs: injected write error")
	// ErrInjectedSyncError is returned when a sync error is injected.
	ErrInjectedSyncError = errors.New("vfs: injected sync error")
)

// FaultInjectionFS wraps an FS and lets tests inject errors and simulate a
// crash, used to exercise the manifest's and blob writer's crash-safety
// invariants (spec §4.6 "Crash safety").
//
// Durability model: writes past the last Sync() are "unsynced"; Crash()
// truncates every file back to its last synced size and reverts any
// rename whose parent directory was never SyncDir'd, mirroring the
// guarantee an embedder actually gets from a real filesystem.
type FaultInjectionFS struct {
	base FS

	mu sync.Mutex

	syncedSize map[string]int64  // file -> size as of its last Sync
	curSize    map[string]int64  // file -> current (possibly unsynced) size
	dirSynced  map[string]bool   // directory -> SyncDir called since last rename into it
	pendingRen map[string]string // new path -> old path, cleared by SyncDir(dir)

	injectReadErrorPath  string
	injectWriteErrorPath string
	injectSyncErrorPath  string
}

// NewFaultInjectionFS wraps base (typically vfs.Default()).
func NewFaultInjectionFS(base FS) *FaultInjectionFS {
	return &FaultInjectionFS{
		base:       base,
		syncedSize: make(map[string]int64),
		curSize:    make(map[string]int64),
		dirSynced:  make(map[string]bool),
		pendingRen: make(map[string]string),
	}
}

// InjectReadError makes every read against a path containing substr fail
// with ErrInjectedReadError until cleared (pass "" to clear).
func (fs *FaultInjectionFS) InjectReadError(substr string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.injectReadErrorPath = substr
}

// InjectWriteError is InjectReadError's write-path counterpart.
func (fs *FaultInjectionFS) InjectWriteError(substr string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.injectWriteErrorPath = substr
}

// InjectSyncError is InjectReadError's Sync-path counterpart.
func (fs *FaultInjectionFS) InjectSyncError(substr string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.injectSyncErrorPath = substr
}

// Crash simulates power loss: every file is truncated back to its last
// synced size, and renames whose destination directory was never synced
// are reverted. The underlying base FS is mutated in place.
func (fs *FaultInjectionFS) Crash() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for name, synced := range fs.syncedSize {
		if fs.curSize[name] == synced {
			continue
		}
		f, err := fs.base.Create(name + ".crash-tmp")
		if err != nil {
			return err
		}
		src, err := fs.base.OpenRandomAccess(name)
		if err == nil {
			buf := make([]byte, synced)
			if synced > 0 {
				if _, err := src.ReadAt(buf, 0); err != nil && err != io.EOF {
					_ = src.Close()
					_ = f.Close()
					return err
				}
			}
			_ = src.Close()
			if _, err := f.Write(buf); err != nil {
				_ = f.Close()
				return err
			}
		}
		if err := f.Close(); err != nil {
			return err
		}
		if err := fs.base.Rename(name+".crash-tmp", name); err != nil {
			return err
		}
		fs.curSize[name] = synced
	}

	for newPath, oldPath := range fs.pendingRen {
		if oldPath == "" {
			_ = fs.base.Remove(newPath)
		} else {
			_ = fs.base.Rename(newPath, oldPath)
		}
	}
	fs.pendingRen = make(map[string]string)
	return nil
}

func (fs *FaultInjectionFS) matchErr(path, pattern string, err error) error {
	if pattern != "" && strings.Contains(path, pattern) {
		return err
	}
	return nil
}

func (fs *FaultInjectionFS) Create(name string) (WritableFile, error) {
	f, err := fs.base.Create(name)
	if err != nil {
		return nil, err
	}
	fs.mu.Lock()
	fs.syncedSize[name] = 0
	fs.curSize[name] = 0
	fs.mu.Unlock()
	return &faultWritableFile{fs: fs, name: name, f: f}, nil
}

func (fs *FaultInjectionFS) Open(name string) (SequentialFile, error) {
	fs.mu.Lock()
	err := fs.matchErr(name, fs.injectReadErrorPath, ErrInjectedReadError)
	fs.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return fs.base.Open(name)
}

func (fs *FaultInjectionFS) OpenRandomAccess(name string) (RandomAccessFile, error) {
	fs.mu.Lock()
	err := fs.matchErr(name, fs.injectReadErrorPath, ErrInjectedReadError)
	fs.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return fs.base.OpenRandomAccess(name)
}

func (fs *FaultInjectionFS) Rename(oldname, newname string) error {
	if err := fs.base.Rename(oldname, newname); err != nil {
		return err
	}
	fs.mu.Lock()
	fs.pendingRen[newname] = oldname
	if sz, ok := fs.curSize[oldname]; ok {
		fs.curSize[newname] = sz
		fs.syncedSize[newname] = fs.syncedSize[oldname]
		delete(fs.curSize, oldname)
		delete(fs.syncedSize, oldname)
	}
	fs.mu.Unlock()
	return nil
}

func (fs *FaultInjectionFS) Remove(name string) error {
	fs.mu.Lock()
	delete(fs.curSize, name)
	delete(fs.syncedSize, name)
	fs.mu.Unlock()
	return fs.base.Remove(name)
}

func (fs *FaultInjectionFS) RemoveAll(path string) error                      { return fs.base.RemoveAll(path) }
func (fs *FaultInjectionFS) MkdirAll(path string, perm os.FileMode) error     { return fs.base.MkdirAll(path, perm) }
func (fs *FaultInjectionFS) Stat(name string) (os.FileInfo, error)            { return fs.base.Stat(name) }
func (fs *FaultInjectionFS) Exists(name string) bool      { return fs.base.Exists(name) }
func (fs *FaultInjectionFS) ListDir(path string) ([]string, error) { return fs.base.ListDir(path) }
func (fs *FaultInjectionFS) Lock(name string) (io.Closer, error)   { return fs.base.Lock(name) }

// SyncDir marks every rename targeting path as durable.
func (fs *FaultInjectionFS) SyncDir(path string) error {
	if err := fs.base.SyncDir(path); err != nil {
		return err
	}
	fs.mu.Lock()
	for newPath := range fs.pendingRen {
		if strings.HasPrefix(newPath, path) {
			delete(fs.pendingRen, newPath)
		}
	}
	fs.mu.Unlock()
	return nil
}

type faultWritableFile struct {
	fs   *FaultInjectionFS
	name string
	f    WritableFile
}

func (wf *faultWritableFile) Write(p []byte) (int, error) {
	wf.fs.mu.Lock()
	err := wf.fs.matchErr(wf.name, wf.fs.injectWriteErrorPath, ErrInjectedWriteError)
	wf.fs.mu.Unlock()
	if err != nil {
		return 0, err
	}
	n, err := wf.f.Write(p)
	wf.fs.mu.Lock()
	wf.fs.curSize[wf.name] += int64(n)
	wf.fs.mu.Unlock()
	return n, err
}

func (wf *faultWritableFile) Close() error { return wf.f.Close() }

func (wf *faultWritableFile) Sync() error {
	wf.fs.mu.Lock()
	err := wf.fs.matchErr(wf.name, wf.fs.injectSyncErrorPath, ErrInjectedSyncError)
	wf.fs.mu.Unlock()
	if err != nil {
		return err
	}
	if err := wf.f.Sync(); err != nil {
		return err
	}
	wf.fs.mu.Lock()
	wf.fs.syncedSize[wf.name] = wf.fs.curSize[wf.name]
	wf.fs.mu.Unlock()
	return nil
}

func (wf *faultWritableFile) Truncate(size int64) error {
	if err := wf.f.Truncate(size); err != nil {
		return err
	}
	wf.fs.mu.Lock()
	wf.fs.curSize[wf.name] = size
	wf.fs.mu.Unlock()
	return nil
}

func (wf *faultWritableFile) Size() (int64, error) { return wf.f.Size() }
