package block

import "github.com/aalhour/lsmtree/internal/checksum"

// The hash index is an open-addressed probe table mapping a key's hash to
// the restart point that contains it, letting a point lookup skip straight
// to a restart point instead of binary-searching the full index. Bucket
// values 0..252 are restart-point indexes; two reserved values disambiguate
// empty slots from genuine hash collisions the builder gave up resolving.
const (
	hashMarkerFree     = 254
	hashMarkerConflict = 255

	// maxHashIndexRestarts is the largest restart-point count a hash index
	// can address, since one byte per bucket reserves two marker values.
	maxHashIndexRestarts = 253
)

// hashIndexLoadFactor trades probe-table size for fill rate; RocksDB-style
// data block hash indexes commonly target ~0.75.
const hashIndexLoadFactor = 0.75

// buildHashIndex builds an open-addressing probe table over numRestarts
// restart points, keyed by the hash of the first user key of each restart
// interval (restartKey). It returns nil if numRestarts exceeds the capacity
// a single byte per bucket can address.
func buildHashIndex(restartKey func(restartIdx int) []byte, numRestarts int) []byte {
	if numRestarts == 0 || numRestarts > maxHashIndexRestarts {
		return nil
	}

	numBuckets := int(float64(numRestarts)/hashIndexLoadFactor) + 1
	if numBuckets < numRestarts+1 {
		numBuckets = numRestarts + 1
	}

	buckets := make([]byte, numBuckets)
	for i := range buckets {
		buckets[i] = hashMarkerFree
	}

	for i := 0; i < numRestarts; i++ {
		h := checksum.Sum64(restartKey(i))
		slot := int(h % uint64(numBuckets))
		switch buckets[slot] {
		case hashMarkerFree:
			buckets[slot] = byte(i)
		case hashMarkerConflict:
			// already unusable, nothing to do
		default:
			// Collision with a different restart point: neither claim is
			// trustworthy on its own, so mark the slot unusable and force
			// callers back to binary search.
			buckets[slot] = hashMarkerConflict
		}
	}
	return buckets
}

// probeHashIndex looks up the restart-point index for key's hash. ok is
// false when the bucket is empty (key's restart point, if any, is not in
// this block) or conflicted (caller must fall back to binary search).
func probeHashIndex(buckets []byte, key []byte) (restartIdx int, ok bool) {
	if len(buckets) == 0 {
		return 0, false
	}
	h := checksum.Sum64(key)
	slot := int(h % uint64(len(buckets)))
	v := buckets[slot]
	if v == hashMarkerFree || v == hashMarkerConflict {
		return 0, false
	}
	return int(v), true
}
