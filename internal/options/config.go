// Package options holds the tree's configuration: every policy knob
// enumerated in spec §6, indexed per level the way the teacher indexes
// per-column-family options (internal/options/file.go's ParsedOptions).
package options

import (
	"github.com/aalhour/lsmtree/internal/compression"
	"github.com/aalhour/lsmtree/internal/filter"
)

// FilterKind selects whether and how a level's tables carry a bloom
// filter block (spec §6 "filter_policy[level]").
type FilterKind int

const (
	NoFilter FilterKind = iota
	BitsPerKey
	FalsePositiveRate
)

// FilterPolicy is one level's filter configuration.
type FilterPolicy struct {
	Kind  FilterKind
	Param float64 // bits/key, or target false-positive rate, per Kind
}

// Resolve converts the level-local policy into a filter.Policy, returning
// ok=false for NoFilter (callers should skip building a filter block).
func (p FilterPolicy) Resolve() (filter.Policy, bool) {
	switch p.Kind {
	case BitsPerKey:
		return filter.BitsPerKey(p.Param), true
	case FalsePositiveRate:
		return filter.FalsePositiveRate(p.Param), true
	default:
		return filter.Policy{}, false
	}
}

// Config is the tree's full configuration: open-time policies plus every
// per-level array spec §6 enumerates.
type Config struct {
	LevelCount int
	LevelRatio float64

	DataBlockSize             []int
	IndexBlockSize            []int
	DataBlockRestartInterval  []int
	IndexBlockRestartInterval []int
	DataBlockCompression      []compression.Type
	IndexBlockCompression     []compression.Type
	DataBlockHashRatio        []float64 // 0 disables the block hash index
	FilterPolicyByLevel       []FilterPolicy
	PinFilterAndIndexBlocks   []bool

	// ExpectPointReadHits elides the filter block on the last level, where
	// almost every point read is expected to hit (spec §6).
	ExpectPointReadHits bool

	// BlobThreshold: values at or above this size are written to the
	// value log instead of inline (spec §4.7/§6).
	BlobThreshold uint32

	EvictionSeqnoWatermark uint64
	GCStaleThreshold       float64
}

// Default returns a Config with levelCount levels, each using reasonable
// defaults, mirroring ParseOptionsFile's default-setting pattern.
func Default(levelCount int) Config {
	if levelCount <= 0 {
		levelCount = 7
	}
	c := Config{
		LevelCount:                levelCount,
		LevelRatio:                10,
		DataBlockSize:             make([]int, levelCount),
		IndexBlockSize:            make([]int, levelCount),
		DataBlockRestartInterval:  make([]int, levelCount),
		IndexBlockRestartInterval: make([]int, levelCount),
		DataBlockCompression:      make([]compression.Type, levelCount),
		IndexBlockCompression:     make([]compression.Type, levelCount),
		DataBlockHashRatio:        make([]float64, levelCount),
		FilterPolicyByLevel:       make([]FilterPolicy, levelCount),
		PinFilterAndIndexBlocks:   make([]bool, levelCount),
		ExpectPointReadHits:       true,
		BlobThreshold:             4096,
		EvictionSeqnoWatermark:    0,
		GCStaleThreshold:          0.4,
	}
	for i := 0; i < levelCount; i++ {
		c.DataBlockSize[i] = 4096
		c.IndexBlockSize[i] = 4096
		c.DataBlockRestartInterval[i] = 16
		c.IndexBlockRestartInterval[i] = 16
		c.DataBlockCompression[i] = compression.None
		c.IndexBlockCompression[i] = compression.None
		c.DataBlockHashRatio[i] = 1.0
		c.FilterPolicyByLevel[i] = FilterPolicy{Kind: BitsPerKey, Param: 10}
		c.PinFilterAndIndexBlocks[i] = i == 0
	}
	// With more than two levels, the last level uses Zstd since it is
	// written less often and read less often per byte (spec's domain-stack
	// note); every other level stays uncompressed.
	if levelCount > 2 {
		c.DataBlockCompression[levelCount-1] = compression.Zstd
		c.IndexBlockCompression[levelCount-1] = compression.Zstd
	}
	// Last level expects almost every point read to hit, so its filter is
	// elided (spec §6 "expect_point_read_hits").
	c.FilterPolicyByLevel[levelCount-1] = FilterPolicy{Kind: NoFilter}
	return c
}

func (c Config) clampLevel(level int) int {
	if level < 0 {
		return 0
	}
	if level >= c.LevelCount {
		return c.LevelCount - 1
	}
	return level
}

func (c Config) DataBlockSizeAt(level int) int  { return c.DataBlockSize[c.clampLevel(level)] }
func (c Config) IndexBlockSizeAt(level int) int { return c.IndexBlockSize[c.clampLevel(level)] }
func (c Config) DataBlockRestartIntervalAt(level int) int {
	return c.DataBlockRestartInterval[c.clampLevel(level)]
}
func (c Config) IndexBlockRestartIntervalAt(level int) int {
	return c.IndexBlockRestartInterval[c.clampLevel(level)]
}
func (c Config) DataBlockCompressionAt(level int) compression.Type {
	return c.DataBlockCompression[c.clampLevel(level)]
}
func (c Config) IndexBlockCompressionAt(level int) compression.Type {
	return c.IndexBlockCompression[c.clampLevel(level)]
}
func (c Config) DataBlockHashRatioAt(level int) float64 {
	return c.DataBlockHashRatio[c.clampLevel(level)]
}
func (c Config) FilterPolicyAt(level int) FilterPolicy {
	if c.ExpectPointReadHits && level == c.LevelCount-1 {
		return FilterPolicy{Kind: NoFilter}
	}
	return c.FilterPolicyByLevel[c.clampLevel(level)]
}
func (c Config) PinFilterAndIndexBlocksAt(level int) bool {
	return c.PinFilterAndIndexBlocks[c.clampLevel(level)]
}

// TargetLevelSize returns the byte budget of level (L0 excluded: its size
// is governed by flush count, not LevelRatio), per spec's Levelled
// strategy sizing.
func (c Config) TargetLevelSize(level int, l1Size int64) int64 {
	if level <= 1 {
		return l1Size
	}
	size := float64(l1Size)
	for i := 1; i < level; i++ {
		size *= c.LevelRatio
	}
	return int64(size)
}
