package blob

// GCReport summarizes one relocating-GC sweep, surfaced to the caller of
// Tree.RunGC instead of only being logged (supplements spec §4.7/§4.8,
// grounded on original_source's vlog/gc/report.rs).
type GCReport struct {
	FilesRewritten int
	BytesReclaimed uint64
	ItemsDropped   uint64
}
