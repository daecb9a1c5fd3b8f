package options

import "testing"

func TestDefaultConfigClampsOutOfRangeLevels(t *testing.T) {
	c := Default(7)
	if c.DataBlockSizeAt(-1) != c.DataBlockSizeAt(0) {
		t.Fatal("negative level should clamp to 0")
	}
	if c.DataBlockSizeAt(100) != c.DataBlockSizeAt(6) {
		t.Fatal("out-of-range level should clamp to the last level")
	}
}

func TestExpectPointReadHitsElidesLastLevelFilter(t *testing.T) {
	c := Default(5)
	p := c.FilterPolicyAt(4)
	if p.Kind != NoFilter {
		t.Fatalf("last level filter kind = %v, want NoFilter", p.Kind)
	}
	mid := c.FilterPolicyAt(2)
	if mid.Kind != BitsPerKey {
		t.Fatalf("mid level filter kind = %v, want BitsPerKey", mid.Kind)
	}
}

func TestFilterPolicyResolve(t *testing.T) {
	if _, ok := (FilterPolicy{Kind: NoFilter}).Resolve(); ok {
		t.Fatal("NoFilter must resolve with ok=false")
	}
	p, ok := (FilterPolicy{Kind: BitsPerKey, Param: 10}).Resolve()
	if !ok {
		t.Fatal("BitsPerKey must resolve with ok=true")
	}
	_ = p
}

func TestTargetLevelSizeGrowsByLevelRatio(t *testing.T) {
	c := Default(4)
	c.LevelRatio = 10
	l1 := int64(1 << 20)
	if got := c.TargetLevelSize(1, l1); got != l1 {
		t.Fatalf("L1 target = %d, want %d", got, l1)
	}
	if got := c.TargetLevelSize(2, l1); got != l1*10 {
		t.Fatalf("L2 target = %d, want %d", got, l1*10)
	}
	if got := c.TargetLevelSize(3, l1); got != l1*100 {
		t.Fatalf("L3 target = %d, want %d", got, l1*100)
	}
}
