package lsmtree

import (
	"fmt"

	"github.com/aalhour/lsmtree/internal/batch"
	"github.com/aalhour/lsmtree/internal/dbformat"
	"github.com/aalhour/lsmtree/internal/encoding"
	"github.com/aalhour/lsmtree/internal/flush"
	"github.com/aalhour/lsmtree/internal/logging"
	"github.com/aalhour/lsmtree/internal/memtable"
)

const maxKeySize = 65535

// Insert writes key=value at seqno, replacing any earlier version the
// caller's snapshot discipline has already superseded. seqno is supplied
// by the caller, never allocated here (spec §4.8).
func (t *Tree) Insert(key, value []byte, seqno dbformat.SeqNo) error {
	return t.apply(key, value, seqno, dbformat.Value)
}

// Remove writes a tombstone for key at seqno, shadowing every earlier
// version (spec §4.2's ValueType::Tombstone).
func (t *Tree) Remove(key []byte, seqno dbformat.SeqNo) error {
	return t.apply(key, nil, seqno, dbformat.Tombstone)
}

func (t *Tree) apply(key, value []byte, seqno dbformat.SeqNo, vt dbformat.ValueType) error {
	if len(key) > maxKeySize {
		return ErrKeyTooLarge
	}

	b := batch.New()
	if vt == dbformat.Tombstone {
		b.Delete(key)
	} else {
		b.Put(key, value)
	}

	record := encoding.AppendFixed64(make([]byte, 0, 8+len(b.Data())), uint64(seqno))
	record = append(record, b.Data()...)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}

	if err := t.wal.Append(record); err != nil {
		return fmt.Errorf("lsmtree: append wal: %w", err)
	}
	if err := t.wal.Sync(); err != nil {
		return fmt.Errorf("lsmtree: sync wal: %w", err)
	}

	t.active.Insert(key, seqno, vt, value)
	if uint64(seqno) > t.lastSeqno.Load() {
		t.lastSeqno.Store(uint64(seqno))
	}

	if t.active.ApproximateSize() >= t.cfg.MemtableSizeTrigger {
		if err := t.rotateAndFlushLocked(); err != nil {
			return fmt.Errorf("lsmtree: rotate memtable: %w", err)
		}
	}
	return nil
}

// rotateAndFlushLocked seals the active memtable, flushes it to a new L0
// table, retires its WAL file, and opens a fresh memtable + WAL. Callers
// must hold mu.
func (t *Tree) rotateAndFlushLocked() error {
	sealed := t.active
	oldWALPath := t.walPath

	if err := t.wal.Close(); err != nil {
		return err
	}

	if _, err := t.flushLocked(sealed); err != nil {
		return err
	}

	if err := t.fs.Remove(oldWALPath); err != nil {
		t.logger.Warnf(logging.NSTree+"remove retired wal %s: %v", oldWALPath, err)
	}

	t.active = memtable.New()
	return t.rollWALLocked()
}

// flushLocked runs a flush.Job over mem, installing its output table (and
// any blob file) into the manifest. Callers must hold mu.
func (t *Tree) flushLocked(mem *memtable.Memtable) (*flush.Result, error) {
	job := &flush.Job{
		FS:            t.fs,
		Dir:           t.dir,
		Manifest:      t.manifest,
		Opts:          builderOptionsForLevel(t.cfg.Config, 0),
		BlobThreshold: t.cfg.BlobThreshold,
		Logger:        t.logger,
		LastSeqno:     dbformat.SeqNo(t.lastSeqno.Load()),
	}
	result, err := job.Run(mem)
	if err == flush.ErrNoOutput {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}
