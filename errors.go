package lsmtree

import "errors"

var (
	// ErrClosed is returned by any operation attempted against a Tree
	// after Close has returned.
	ErrClosed = errors.New("lsmtree: tree is closed")

	// ErrNotFound is returned by Get/GetWithSeqno when no visible entry
	// exists for the requested key (spec §4.8's Option<value> ⇒ None).
	ErrNotFound = errors.New("lsmtree: key not found")

	// ErrKeyTooLarge is returned when a key exceeds the 65 535-byte limit
	// spec §6's insert/remove table names.
	ErrKeyTooLarge = errors.New("lsmtree: key exceeds 65535 bytes")

	// ErrIncompatibleMarker is returned by Open when the directory's
	// <lsm marker> file carries a version byte this build doesn't
	// understand.
	ErrIncompatibleMarker = errors.New("lsmtree: incompatible lsm marker version")
)
