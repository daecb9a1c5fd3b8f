// Package compaction implements the compaction pipeline (spec §4.6):
// pluggable strategies decide WHAT to compact (CompactionStrategy.Pick),
// flavours decide HOW the chosen tables get rewritten (StandardCompaction
// passes Indirection handles through unchanged; RelocatingCompaction
// additionally rewrites blob files being garbage-collected), and Execute
// ties the two together and commits the result through a
// version.LevelManifest (grounded on rockyardkv's internal/compaction,
// the flavour split on _examples/original_source/src/compaction/flavour.rs).
package compaction

import "github.com/aalhour/lsmtree/internal/version"

// Action is what a CompactionStrategy decided to do with a Plan.
type Action int

const (
	// DoNothing means no compaction is currently warranted.
	DoNothing Action = iota
	// Move relocates Inputs to OutputLevel without rewriting their bytes
	// (a "trivial move": the input's key range doesn't overlap anything
	// already at the destination level).
	Move
	// Merge rewrites Inputs into one or more new tables at OutputLevel.
	Merge
	// Drop removes Inputs outright with no replacement (FIFO's
	// size-based eviction never has a destination level).
	Drop
)

// Reason records why a strategy chose this Plan, surfaced in log lines
// and test assertions.
type Reason string

const (
	ReasonL0FileCountTrigger Reason = "l0 file count"
	ReasonLevelSizeTrigger   Reason = "level size"
	ReasonSizeTieredRun      Reason = "size-tiered run"
	ReasonFifoMaxSize        Reason = "fifo max size"
	ReasonPullDown           Reason = "pull down"
	ReasonMaintenance        Reason = "maintenance"
)

// Plan is one compaction's work order: which tables to read, from which
// levels, and where the result goes.
type Plan struct {
	Action Action
	Reason Reason

	// Inputs maps source level -> the tables at that level to consume.
	Inputs map[int][]version.TableMeta

	// OutputLevel is where Merge/Move write their result. Unused for Drop.
	OutputLevel int

	// IsLastLevel controls whether the mvcc.Stream compacting this plan's
	// inputs is allowed to drop fully-expired tombstones outright (true)
	// or must retain them because a lower level might still shadow them.
	IsLastLevel bool
}

// InputTables flattens Inputs into one slice, in level order, for
// strategies/executors that don't care which level a table came from.
func (p *Plan) InputTables() []version.TableMeta {
	var out []version.TableMeta
	for level := 0; level < 64; level++ {
		tables, ok := p.Inputs[level]
		if !ok {
			continue
		}
		out = append(out, tables...)
	}
	return out
}

// CompactionStrategy decides what (if anything) to compact next, given
// the tree's current Version.
type CompactionStrategy interface {
	Pick(v *version.Version) *Plan
}
