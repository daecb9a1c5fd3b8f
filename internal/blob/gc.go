package blob

// FileStats is the per-blob-file accounting the manifest keeps to decide
// which files are worth relocating-compacting away (spec §4.7/§4.8 GC).
type FileStats struct {
	FileID     uint64
	TotalBytes uint64 // bytes occupied by every record ever written
	DeadBytes  uint64 // bytes belonging to records superseded or tombstoned since
}

// LiveRatio is the fraction of TotalBytes still reachable from the tree.
func (s FileStats) LiveRatio() float64 {
	if s.TotalBytes == 0 {
		return 1
	}
	live := s.TotalBytes - s.DeadBytes
	return float64(live) / float64(s.TotalBytes)
}

// Strategy picks which blob files are worth relocating-compacting, given
// the current per-file stats. It returns the ids to roll forward.
type Strategy interface {
	PickFiles(stats []FileStats) []uint64
}

// StaleThresholdStrategy selects every file whose live ratio is at or
// below (1 - staleRatio): e.g. staleRatio=0.4 reclaims files that are at
// least 40% dead.
type StaleThresholdStrategy struct {
	StaleRatio float64
}

func (s StaleThresholdStrategy) PickFiles(stats []FileStats) []uint64 {
	var out []uint64
	for _, st := range stats {
		if st.TotalBytes == 0 {
			continue
		}
		dead := float64(st.DeadBytes) / float64(st.TotalBytes)
		if dead >= s.StaleRatio {
			out = append(out, st.FileID)
		}
	}
	return out
}

// SpaceAmpStrategy reclaims the worst-fragmented files first until overall
// space amplification (total bytes on disk over total live bytes) would
// drop to TargetAmp.
type SpaceAmpStrategy struct {
	TargetAmp float64
}

func (s SpaceAmpStrategy) PickFiles(stats []FileStats) []uint64 {
	var totalBytes, liveBytes uint64
	for _, st := range stats {
		totalBytes += st.TotalBytes
		liveBytes += st.TotalBytes - st.DeadBytes
	}
	if liveBytes == 0 {
		return nil
	}
	amp := float64(totalBytes) / float64(liveBytes)
	if amp <= s.TargetAmp {
		return nil
	}

	sorted := append([]FileStats(nil), stats...)
	sortByDeadRatioDesc(sorted)

	var out []uint64
	for _, st := range sorted {
		if amp <= s.TargetAmp {
			break
		}
		if st.TotalBytes == 0 {
			continue
		}
		out = append(out, st.FileID)
		totalBytes -= st.TotalBytes
		liveBytes -= st.TotalBytes - st.DeadBytes
		if liveBytes == 0 {
			break
		}
		amp = float64(totalBytes) / float64(liveBytes)
	}
	return out
}

func sortByDeadRatioDesc(stats []FileStats) {
	for i := 1; i < len(stats); i++ {
		for j := i; j > 0; j-- {
			if deadRatio(stats[j]) <= deadRatio(stats[j-1]) {
				break
			}
			stats[j], stats[j-1] = stats[j-1], stats[j]
		}
	}
}

func deadRatio(s FileStats) float64 {
	if s.TotalBytes == 0 {
		return 0
	}
	return float64(s.DeadBytes) / float64(s.TotalBytes)
}
