package wal

import "github.com/aalhour/lsmtree/internal/vfs"

// Writer appends records to one WAL file.
type Writer struct {
	f vfs.WritableFile
}

// NewWriter wraps an already-opened, append-positioned file.
func NewWriter(f vfs.WritableFile) *Writer { return &Writer{f: f} }

// Append writes one record. The caller decides durability separately via
// Sync — batching several Appends before a Sync is the whole point of a
// WAL over synchronous per-key writes.
func (w *Writer) Append(payload []byte) error {
	_, err := w.f.Write(encodeRecord(payload))
	return err
}

// Sync fsyncs the log file, making every Append since the last Sync
// durable.
func (w *Writer) Sync() error { return w.f.Sync() }

// Close closes the underlying file.
func (w *Writer) Close() error { return w.f.Close() }
