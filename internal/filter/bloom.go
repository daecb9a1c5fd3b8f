// Package filter implements the approximate-membership-query (AMQ) filter
// blocks attached to tables (spec §4.3): a Bloom filter addressed by
// "enhanced double hashing" (two 64-bit hashes derived from one key hash,
// the second folded into the first on every probe), in either a standard
// (whole-filter) or blocked (per-cache-line) layout.
package filter

import (
	"math"

	"github.com/aalhour/lsmtree/internal/checksum"
)

// Variant selects how probe bits are addressed across the filter.
type Variant uint8

const (
	// Standard addresses bits anywhere across the whole filter; slightly
	// better false-positive rate, one more potentially-cold cache line
	// touched per probe.
	Standard Variant = 0

	// Blocked confines all of a key's probes to one cache line, trading a
	// little accuracy for a single cache-line touch per lookup.
	Blocked Variant = 1
)

// cacheLineBits is the cache-line size used to confine Blocked-variant
// probes, matching common x86/ARM cache-line geometry.
const cacheLineBits = 512

// Policy decides how many bits per key (and therefore how many probes) a
// filter is built with.
type Policy struct {
	bitsPerKey float64
}

// BitsPerKey builds a Policy with an explicit bits-per-key budget.
func BitsPerKey(b float64) Policy {
	if b < 1 {
		b = 1
	}
	return Policy{bitsPerKey: b}
}

// FalsePositiveRate builds a Policy sized to hit approximately fpr false
// positives, using the standard -ln(fpr)/ln(2)^2 bits-per-key relation.
func FalsePositiveRate(fpr float64) Policy {
	if fpr <= 0 {
		fpr = 1e-9
	}
	if fpr >= 1 {
		fpr = 0.999
	}
	b := -math.Log(fpr) / (math.Ln2 * math.Ln2)
	return Policy{bitsPerKey: b}
}

func (p Policy) numProbes() int {
	k := int(math.Round(p.bitsPerKey * math.Ln2))
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}
	return k
}

// Builder accumulates key hashes and produces a serialized filter.
type Builder struct {
	policy  Policy
	variant Variant
	hashes  []uint64
}

// NewBuilder creates a Builder under policy/variant. numKeysHint only
// presizes the buffer AddKey appends key hashes to.
func NewBuilder(policy Policy, variant Variant, numKeysHint int) *Builder {
	return &Builder{
		policy:  policy,
		variant: variant,
		hashes:  make([]uint64, 0, numKeysHint),
	}
}

func (b *Builder) AddKey(key []byte) {
	b.hashes = append(b.hashes, checksum.Sum64(key))
}

func (b *Builder) NumKeys() int { return len(b.hashes) }

// Reset clears the builder for reuse.
func (b *Builder) Reset() { b.hashes = b.hashes[:0] }

// headerLen is the size of the fixed metadata appended after the bit
// array: variant, num_probes, and the bit-array length in bits.
const headerLen = 6

// Finish builds the filter bit array and returns its serialized form:
// [bits...][variant:1][num_probes:1][num_bits:4].
func (b *Builder) Finish() []byte {
	numProbes := b.policy.numProbes()
	numKeys := len(b.hashes)
	if numKeys == 0 {
		out := make([]byte, headerLen)
		out[0] = byte(b.variant)
		return out
	}

	numBits := int(math.Ceil(float64(numKeys) * b.policy.bitsPerKey))
	if numBits < 64 {
		numBits = 64
	}
	if b.variant == Blocked {
		numBits = roundUp(numBits, cacheLineBits)
	} else {
		numBits = roundUp(numBits, 8)
	}

	numBytes := numBits / 8
	data := make([]byte, numBytes+headerLen)

	for _, h := range b.hashes {
		addHash(h, data[:numBytes], uint32(numBits), numProbes, b.variant)
	}

	data[numBytes] = byte(b.variant)
	data[numBytes+1] = byte(numProbes)
	data[numBytes+2] = byte(numBits)
	data[numBytes+3] = byte(numBits >> 8)
	data[numBytes+4] = byte(numBits >> 16)
	data[numBytes+5] = byte(numBits >> 24)

	b.hashes = b.hashes[:0]
	return data
}

func roundUp(v, mult int) int {
	return (v + mult - 1) / mult * mult
}

// Reader answers membership queries against a serialized filter.
type Reader struct {
	bits      []byte
	numBits   uint32
	numProbes int
	variant   Variant
}

// NewReader parses a serialized filter as produced by Builder.Finish.
// Returns nil for a malformed or empty (always-false) filter.
func NewReader(data []byte) *Reader {
	if len(data) < headerLen {
		return nil
	}
	numBytes := len(data) - headerLen
	footer := data[numBytes:]
	variant := Variant(footer[0])
	numProbes := int(footer[1])
	numBits := uint32(footer[2]) | uint32(footer[3])<<8 | uint32(footer[4])<<16 | uint32(footer[5])<<24

	if numProbes == 0 || numBits == 0 {
		return &Reader{numProbes: 0}
	}
	return &Reader{
		bits:      data[:numBytes],
		numBits:   numBits,
		numProbes: numProbes,
		variant:   variant,
	}
}

// MayContain reports whether key might be a member. False means key is
// definitely absent.
func (r *Reader) MayContain(key []byte) bool {
	if r == nil || r.numProbes == 0 {
		return false
	}
	h := checksum.Sum64(key)
	return probeHash(h, r.bits, r.numBits, r.numProbes, r.variant)
}

// addHash and probeHash implement "enhanced double hashing" (spec §4.3):
//
//	h1 = primary hash of the key
//	h2 = secondary hash derived from h1
//	for i in 1..=k: bit_idx = h1 mod m; h1 += h2; h2 *= i
//
// For the Blocked variant, m is confined to one cache line's worth of bits
// and the line is chosen once via a fast-range reduction of the upper
// 32 bits of the original hash.
func addHash(hash uint64, bits []byte, numBits uint32, numProbes int, variant Variant) {
	base, lineBits := blockBase(hash, numBits, bits, variant)
	h1, h2 := splitHash(hash)
	for i := 1; i <= numProbes; i++ {
		bitIdx := h1 % uint64(lineBits)
		setBit(bits, base+uint32(bitIdx))
		h1 += h2
		h2 *= uint64(i)
	}
}

func probeHash(hash uint64, bits []byte, numBits uint32, numProbes int, variant Variant) bool {
	base, lineBits := blockBase(hash, numBits, bits, variant)
	h1, h2 := splitHash(hash)
	for i := 1; i <= numProbes; i++ {
		bitIdx := h1 % uint64(lineBits)
		if !testBit(bits, base+uint32(bitIdx)) {
			return false
		}
		h1 += h2
		h2 *= uint64(i)
	}
	return true
}

// blockBase returns the starting bit offset and addressable bit-width for
// this hash: the whole filter for Standard, one cache line for Blocked.
func blockBase(hash uint64, numBits uint32, bits []byte, variant Variant) (base, width uint32) {
	if variant == Standard {
		return 0, numBits
	}
	numLines := numBits / cacheLineBits
	if numLines == 0 {
		numLines = 1
	}
	line := uint32((uint64(uint32(hash>>32)) * uint64(numLines)) >> 32)
	return line * cacheLineBits, cacheLineBits
}

// splitHash derives the primary/secondary hash pair from a single 64-bit
// hash: h1 is the hash itself, checksum.Sum64Seed re-hashes for h2 so the
// two probes are independent rather than simple bit-halves of one hash.
func splitHash(hash uint64) (h1, h2 uint64) {
	var seedBuf [8]byte
	for i := range seedBuf {
		seedBuf[i] = byte(hash >> (8 * i))
	}
	h1 = hash
	h2 = checksum.Sum64Seed(seedBuf[:], hash) | 1 // odd stride keeps h2 from degenerating to 0
	return h1, h2
}

func setBit(bits []byte, idx uint32) {
	bits[idx>>3] |= 1 << (idx & 7)
}

func testBit(bits []byte, idx uint32) bool {
	return bits[idx>>3]&(1<<(idx&7)) != 0
}
