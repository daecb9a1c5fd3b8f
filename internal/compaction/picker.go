package compaction

import (
	"sort"

	"github.com/aalhour/lsmtree/internal/options"
	"github.com/aalhour/lsmtree/internal/version"
)

// Levelled is the default strategy (spec §4.6): L0 compacts by file
// count, every other level compacts once its size exceeds
// Config.TargetLevelSize (grounded on rockyardkv's
// LeveledCompactionPicker.computeScore/pickL0Compaction, simplified to
// one destination level per pick rather than RocksDB's subcompaction
// splitting).
type Levelled struct {
	Config              options.Config
	L0CompactionTrigger int
	L1TargetSize        int64
}

// DefaultLevelled returns a Levelled strategy with the spec's default
// L0 trigger (4 files) and a 256MiB L1 budget.
func DefaultLevelled(cfg options.Config) Levelled {
	return Levelled{Config: cfg, L0CompactionTrigger: 4, L1TargetSize: 256 << 20}
}

func (l Levelled) Pick(v *version.Version) *Plan {
	if v.NumTables(0) >= l.L0CompactionTrigger {
		inputs := append([]version.TableMeta(nil), v.Tables(0)...)
		outputLevel := 1
		if v.NumLevels() < 2 {
			outputLevel = 0
		}
		overlap := v.OverlappingInputs(outputLevel, keyRangeMin(inputs), keyRangeMax(inputs))
		return &Plan{
			Action:      Merge,
			Reason:      ReasonL0FileCountTrigger,
			Inputs:      map[int][]version.TableMeta{0: inputs, outputLevel: overlap},
			OutputLevel: outputLevel,
			IsLastLevel: outputLevel == v.NumLevels()-1,
		}
	}

	bestLevel, bestScore := -1, 1.0
	for level := 1; level < v.NumLevels()-1; level++ {
		target := l.Config.TargetLevelSize(level, l.L1TargetSize)
		if target <= 0 {
			continue
		}
		score := float64(v.LevelBytes(level)) / float64(target)
		if score > bestScore {
			bestScore, bestLevel = score, level
		}
	}
	if bestLevel < 0 {
		return &Plan{Action: DoNothing}
	}

	tables := v.Tables(bestLevel)
	if len(tables) == 0 {
		return &Plan{Action: DoNothing}
	}
	picked := []version.TableMeta{tables[0]}
	outputLevel := bestLevel + 1
	overlap := v.OverlappingInputs(outputLevel, picked[0].KeyMin, picked[0].KeyMax)
	return &Plan{
		Action:      Merge,
		Reason:      ReasonLevelSizeTrigger,
		Inputs:      map[int][]version.TableMeta{bestLevel: picked, outputLevel: overlap},
		OutputLevel: outputLevel,
		IsLastLevel: outputLevel == v.NumLevels()-1,
	}
}

// SizeTiered merges every table of the shallowest level holding at least
// MinRunSize tables (default 4) one level deeper, together with the
// overlapping tables there (grounded on rockyardkv's universal_picker.go,
// narrowed to one triggering rule). Table sizes only order the inputs;
// tables are not grouped by similar size.
type SizeTiered struct {
	MinRunSize int
}

func (s SizeTiered) Pick(v *version.Version) *Plan {
	minRun := s.MinRunSize
	if minRun <= 0 {
		minRun = 4
	}
	for level := 0; level < v.NumLevels()-1; level++ {
		tables := v.Tables(level)
		if len(tables) < minRun {
			continue
		}
		run := append([]version.TableMeta(nil), tables...)
		sort.Slice(run, func(i, j int) bool { return run[i].FileSize < run[j].FileSize })
		outputLevel := level + 1
		overlap := v.OverlappingInputs(outputLevel, keyRangeMin(run), keyRangeMax(run))
		return &Plan{
			Action:      Merge,
			Reason:      ReasonSizeTieredRun,
			Inputs:      map[int][]version.TableMeta{level: run, outputLevel: overlap},
			OutputLevel: outputLevel,
			IsLastLevel: outputLevel == v.NumLevels()-1,
		}
	}
	return &Plan{Action: DoNothing}
}

// Fifo drops the last level's oldest table (lowest SeqnoMax) outright
// once the tree's total size exceeds MaxSize, one table per Pick and
// never from shallower levels, with no merge step - the cheapest possible
// compaction, intended for time-series/cache workloads that never
// update existing keys (grounded on rockyardkv's fifo_picker.go).
type Fifo struct {
	MaxSize uint64
}

func (f Fifo) Pick(v *version.Version) *Plan {
	var total uint64
	for level := 0; level < v.NumLevels(); level++ {
		total += v.LevelBytes(level)
	}
	if total <= f.MaxSize {
		return &Plan{Action: DoNothing}
	}

	lastLevel := v.NumLevels() - 1
	tables := v.Tables(lastLevel)
	if len(tables) == 0 {
		return &Plan{Action: DoNothing}
	}
	oldest := tables[0]
	for _, t := range tables[1:] {
		if t.SeqnoMax < oldest.SeqnoMax {
			oldest = t
		}
	}
	return &Plan{
		Action: Drop,
		Reason: ReasonFifoMaxSize,
		Inputs: map[int][]version.TableMeta{lastLevel: {oldest}},
	}
}

// PullDown merges every table of every level into the very bottom level
// in one pass, used by Tree.RunGC rather than any automatic trigger.
type PullDown struct{}

func (PullDown) Pick(v *version.Version) *Plan {
	inputs := make(map[int][]version.TableMeta)
	any := false
	for level := 0; level < v.NumLevels(); level++ {
		tables := v.Tables(level)
		if len(tables) > 0 {
			inputs[level] = append([]version.TableMeta(nil), tables...)
			any = true
		}
	}
	if !any {
		return &Plan{Action: DoNothing}
	}
	lastLevel := v.NumLevels() - 1
	return &Plan{Action: Merge, Reason: ReasonPullDown, Inputs: inputs, OutputLevel: lastLevel, IsLastLevel: true}
}

// Maintenance always returns a DoNothing plan. It does not compact
// tombstones or fragmented tables, and Executor.Execute returns before
// relocating any blob file for a DoNothing plan, so it triggers no blob
// GC either.
type Maintenance struct{}

func (Maintenance) Pick(v *version.Version) *Plan {
	return &Plan{Action: DoNothing, Reason: ReasonMaintenance}
}

func keyRangeMin(tables []version.TableMeta) []byte {
	if len(tables) == 0 {
		return nil
	}
	min := tables[0].KeyMin
	for _, t := range tables[1:] {
		if string(t.KeyMin) < string(min) {
			min = t.KeyMin
		}
	}
	return min
}

func keyRangeMax(tables []version.TableMeta) []byte {
	if len(tables) == 0 {
		return nil
	}
	max := tables[0].KeyMax
	for _, t := range tables[1:] {
		if string(t.KeyMax) > string(max) {
			max = t.KeyMax
		}
	}
	return max
}
