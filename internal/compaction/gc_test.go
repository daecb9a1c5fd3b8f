package compaction

import (
	"testing"

	"github.com/aalhour/lsmtree/internal/blob"
	"github.com/aalhour/lsmtree/internal/manifest"
	"github.com/aalhour/lsmtree/internal/version"
)

func TestPickBlobFilesForGCUsesStaleThreshold(t *testing.T) {
	b := version.NewBuilder(version.NewEmpty(1))
	b.Apply(&manifest.Edit{
		AddedBlobFiles: []manifest.BlobFileInfo{
			{ID: 1, TotalBytes: 1000},
			{ID: 2, TotalBytes: 1000},
		},
	})
	b.MarkBlobDead(1, 900) // 90% dead
	b.MarkBlobDead(2, 100) // 10% dead
	v := b.SaveTo()

	picked := PickBlobFilesForGC(v, blob.StaleThresholdStrategy{StaleRatio: 0.5})
	if len(picked) != 1 || !picked[1] {
		t.Fatalf("expected only file 1 picked, got %+v", picked)
	}
}

func TestPickBlobFilesForGCReturnsNilWhenNothingQualifies(t *testing.T) {
	b := version.NewBuilder(version.NewEmpty(1))
	b.Apply(&manifest.Edit{
		AddedBlobFiles: []manifest.BlobFileInfo{{ID: 1, TotalBytes: 1000}},
	})
	v := b.SaveTo()

	if picked := PickBlobFilesForGC(v, blob.StaleThresholdStrategy{StaleRatio: 0.5}); picked != nil {
		t.Fatalf("expected nil, got %+v", picked)
	}
}
