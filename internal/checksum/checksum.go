// Package checksum provides the engine's "64-bit non-cryptographic hash"
// (spec §1 specifies the algorithm abstractly; we pick one concrete
// implementation and use it everywhere a checksum or a hash is needed:
// block/blob record checksums, bloom-filter probes, and hash-index
// bucketing).
package checksum

import "github.com/zeebo/xxh3"

// Sum64 hashes data with XXH3-64.
func Sum64(data []byte) uint64 {
	return xxh3.Hash(data)
}

// Sum64Seed hashes data with XXH3-64 seeded by seed, used where two
// independent hashes of the same key are needed (e.g. the bloom filter's
// h1/h2 pair, spec §4.3).
func Sum64Seed(data []byte, seed uint64) uint64 {
	return xxh3.HashSeed(data, seed)
}

// Verify reports whether data hashes to want, the check every block and
// blob-record reader performs before trusting a payload (spec §4.1, §4.7).
func Verify(data []byte, want uint64) bool {
	return Sum64(data) == want
}
