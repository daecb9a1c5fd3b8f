package compaction

import (
	"testing"

	"github.com/aalhour/lsmtree/internal/dbformat"
	"github.com/aalhour/lsmtree/internal/manifest"
	"github.com/aalhour/lsmtree/internal/options"
	"github.com/aalhour/lsmtree/internal/version"
)

func buildVersion(t *testing.T, levelCount int, tablesPerLevel map[int][]version.TableMeta) *version.Version {
	t.Helper()
	b := version.NewBuilder(version.NewEmpty(levelCount))
	edit := &manifest.Edit{}
	for level, tables := range tablesPerLevel {
		for _, tm := range tables {
			edit.AddedTables = append(edit.AddedTables, manifest.TableInfo{
				ID: tm.ID, Level: level, KeyMin: tm.KeyMin, KeyMax: tm.KeyMax,
				SeqnoMin: tm.SeqnoMin, SeqnoMax: tm.SeqnoMax, ItemCount: tm.ItemCount, FileSize: tm.FileSize,
			})
		}
	}
	b.Apply(edit)
	return b.SaveTo()
}

func tm(id uint64, keyMin, keyMax string, seqnoMax dbformat.SeqNo, size uint64) version.TableMeta {
	return version.TableMeta{ID: id, KeyMin: []byte(keyMin), KeyMax: []byte(keyMax), SeqnoMax: seqnoMax, FileSize: size, ItemCount: 1}
}

func TestLevelledPicksOnL0FileCountTrigger(t *testing.T) {
	v := buildVersion(t, 3, map[int][]version.TableMeta{
		0: {tm(1, "a", "c", 1, 100), tm(2, "d", "f", 2, 100), tm(3, "g", "i", 3, 100), tm(4, "j", "l", 4, 100)},
	})
	strat := DefaultLevelled(options.Default(3))
	plan := strat.Pick(v)
	if plan.Action != Merge || plan.Reason != ReasonL0FileCountTrigger {
		t.Fatalf("expected L0 trigger merge, got %+v", plan)
	}
	if len(plan.Inputs[0]) != 4 {
		t.Fatalf("expected all 4 L0 tables as input, got %d", len(plan.Inputs[0]))
	}
	if plan.OutputLevel != 1 {
		t.Fatalf("expected output level 1, got %d", plan.OutputLevel)
	}
}

func TestLevelledDoesNothingWhenQuiescent(t *testing.T) {
	v := buildVersion(t, 3, map[int][]version.TableMeta{
		0: {tm(1, "a", "c", 1, 100)},
	})
	strat := DefaultLevelled(options.Default(3))
	plan := strat.Pick(v)
	if plan.Action != DoNothing {
		t.Fatalf("expected DoNothing, got %+v", plan)
	}
}

func TestLevelledPicksOnLevelSizeTrigger(t *testing.T) {
	cfg := options.Default(3)
	strat := Levelled{Config: cfg, L0CompactionTrigger: 8, L1TargetSize: 100}
	v := buildVersion(t, 3, map[int][]version.TableMeta{
		1: {tm(10, "a", "z", 1, 1000)},
	})
	plan := strat.Pick(v)
	if plan.Action != Merge || plan.Reason != ReasonLevelSizeTrigger {
		t.Fatalf("expected level size trigger merge, got %+v", plan)
	}
	if plan.OutputLevel != 2 {
		t.Fatalf("expected output level 2, got %d", plan.OutputLevel)
	}
}

func TestSizeTieredGroupsOnceMinRunReached(t *testing.T) {
	v := buildVersion(t, 2, map[int][]version.TableMeta{
		0: {tm(1, "a", "b", 1, 10), tm(2, "c", "d", 2, 10), tm(3, "e", "f", 3, 10), tm(4, "g", "h", 4, 10)},
	})
	strat := SizeTiered{MinRunSize: 4}
	plan := strat.Pick(v)
	if plan.Action != Merge || plan.Reason != ReasonSizeTieredRun {
		t.Fatalf("expected size-tiered merge, got %+v", plan)
	}
	if len(plan.Inputs[0]) != 4 {
		t.Fatalf("expected run of 4 tables, got %d", len(plan.Inputs[0]))
	}
}

func TestFifoDropsOldestOnceOverMaxSize(t *testing.T) {
	v := buildVersion(t, 1, map[int][]version.TableMeta{
		0: {tm(1, "a", "b", 1, 100), tm(2, "c", "d", 5, 100)},
	})
	strat := Fifo{MaxSize: 150}
	plan := strat.Pick(v)
	if plan.Action != Drop || plan.Reason != ReasonFifoMaxSize {
		t.Fatalf("expected drop, got %+v", plan)
	}
	if len(plan.Inputs[0]) != 1 || plan.Inputs[0][0].ID != 1 {
		t.Fatalf("expected to drop oldest table (id 1), got %+v", plan.Inputs[0])
	}
}

func TestFifoDoesNothingUnderMaxSize(t *testing.T) {
	v := buildVersion(t, 1, map[int][]version.TableMeta{
		0: {tm(1, "a", "b", 1, 10)},
	})
	strat := Fifo{MaxSize: 150}
	if plan := strat.Pick(v); plan.Action != DoNothing {
		t.Fatalf("expected DoNothing, got %+v", plan)
	}
}

func TestPullDownCompactsEveryNonEmptyLevel(t *testing.T) {
	v := buildVersion(t, 3, map[int][]version.TableMeta{
		0: {tm(1, "a", "b", 1, 10)},
		2: {tm(2, "c", "d", 1, 10)},
	})
	plan := (PullDown{}).Pick(v)
	if plan.Action != Merge || !plan.IsLastLevel {
		t.Fatalf("expected full merge into last level, got %+v", plan)
	}
	if len(plan.Inputs[0]) != 1 || len(plan.Inputs[2]) != 1 {
		t.Fatalf("expected both populated levels as inputs, got %+v", plan.Inputs)
	}
	if plan.OutputLevel != 2 {
		t.Fatalf("expected output level 2, got %d", plan.OutputLevel)
	}
}

func TestMaintenanceAlwaysDoesNothing(t *testing.T) {
	v := buildVersion(t, 1, nil)
	if plan := (Maintenance{}).Pick(v); plan.Action != DoNothing {
		t.Fatalf("expected DoNothing, got %+v", plan)
	}
}

func TestPlanInputTablesFlattensAcrossLevels(t *testing.T) {
	p := &Plan{Inputs: map[int][]version.TableMeta{
		0: {tm(1, "a", "b", 1, 10)},
		2: {tm(2, "c", "d", 1, 10)},
	}}
	flat := p.InputTables()
	if len(flat) != 2 {
		t.Fatalf("expected 2 flattened tables, got %d", len(flat))
	}
}
