// Package vfs provides a virtual filesystem abstraction so the engine can
// run against the real OS filesystem in production and a fault-injecting
// filesystem in crash-safety tests.
package vfs

import (
	"io"
	"os"
)

// FS is the filesystem interface every on-disk component (manifest, WAL,
// table/blob writers) is driven through.
type FS interface {
	Create(name string) (WritableFile, error)
	Open(name string) (SequentialFile, error)
	OpenRandomAccess(name string) (RandomAccessFile, error)
	Rename(oldname, newname string) error
	Remove(name string) error
	RemoveAll(path string) error
	MkdirAll(path string, perm os.FileMode) error
	Stat(name string) (os.FileInfo, error)
	Exists(name string) bool
	ListDir(path string) ([]string, error)

	// Lock acquires an exclusive lock on name, returning a Closer that
	// releases it. Used for the tree directory's <lsm marker> lock.
	Lock(name string) (io.Closer, error)

	// SyncDir fsyncs a directory's metadata so a preceding Rename/Create
	// within it is durable across a crash.
	SyncDir(path string) error
}

type WritableFile interface {
	io.Writer
	io.Closer
	Sync() error
	Truncate(size int64) error
	Size() (int64, error)
}

type SequentialFile interface {
	io.Reader
	io.Closer
	Skip(n int64) error
}

type RandomAccessFile interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

type osFS struct{}

// Default returns the real OS filesystem.
func Default() FS { return &osFS{} }

func (fs *osFS) Create(name string) (WritableFile, error) {
	f, err := os.Create(name)
	if err != nil {
		return nil, err
	}
	return &osWritableFile{f: f}, nil
}

func (fs *osFS) Open(name string) (SequentialFile, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return &osSequentialFile{f: f}, nil
}

func (fs *osFS) OpenRandomAccess(name string) (RandomAccessFile, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &osRandomAccessFile{f: f, size: info.Size()}, nil
}

func (fs *osFS) Rename(oldname, newname string) error  { return os.Rename(oldname, newname) }
func (fs *osFS) Remove(name string) error               { return os.Remove(name) }
func (fs *osFS) RemoveAll(path string) error             { return os.RemoveAll(path) }
func (fs *osFS) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }
func (fs *osFS) Stat(name string) (os.FileInfo, error)  { return os.Stat(name) }

func (fs *osFS) Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

func (fs *osFS) ListDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

func (fs *osFS) Lock(name string) (io.Closer, error) { return lockFile(name) }

func (fs *osFS) SyncDir(path string) error {
	dir, err := os.Open(path)
	if err != nil {
		return err
	}
	syncErr := dir.Sync()
	closeErr := dir.Close()
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}

type osWritableFile struct{ f *os.File }

func (wf *osWritableFile) Write(p []byte) (int, error) { return wf.f.Write(p) }
func (wf *osWritableFile) Close() error                { return wf.f.Close() }
func (wf *osWritableFile) Sync() error                 { return wf.f.Sync() }
func (wf *osWritableFile) Truncate(size int64) error   { return wf.f.Truncate(size) }

func (wf *osWritableFile) Size() (int64, error) {
	info, err := wf.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

type osSequentialFile struct{ f *os.File }

func (sf *osSequentialFile) Read(p []byte) (int, error) { return sf.f.Read(p) }
func (sf *osSequentialFile) Close() error               { return sf.f.Close() }
func (sf *osSequentialFile) Skip(n int64) error {
	_, err := sf.f.Seek(n, io.SeekCurrent)
	return err
}

type osRandomAccessFile struct {
	f    *os.File
	size int64
}

func (rf *osRandomAccessFile) ReadAt(p []byte, off int64) (int, error) { return rf.f.ReadAt(p, off) }
func (rf *osRandomAccessFile) Close() error                            { return rf.f.Close() }
func (rf *osRandomAccessFile) Size() int64                             { return rf.size }
