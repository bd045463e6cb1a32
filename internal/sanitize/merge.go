package sanitize

import (
	"fmt"
	"sort"
	"strings"
)

// MergeMode selects how overlapping candidates are resolved.
type MergeMode int

const (
	// PairwiseGreedy compares each candidate only against the first accepted
	// entity it overlaps. With three or more candidates overlapping in a chain
	// the result depends on positional order.
	PairwiseGreedy MergeMode = iota
	// StrictInterval groups transitively overlapping candidates into one
	// cluster and keeps its single most confident member.
	StrictInterval
)

func (m MergeMode) String() string {
	switch m {
	case PairwiseGreedy:
		return "pairwise_greedy"
	case StrictInterval:
		return "strict_interval"
	}
	return fmt.Sprintf("MergeMode(%d)", int(m))
}

// ParseMergeMode parses the configuration name of a merge mode. The empty
// string selects PairwiseGreedy.
func ParseMergeMode(s string) (MergeMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pairwise_greedy":
		return PairwiseGreedy, nil
	case "strict_interval":
		return StrictInterval, nil
	}
	return 0, ConfigError("merge mode", fmt.Errorf("unknown merge mode %q", s))
}

// Merge returns a non-overlapping subset of entities. The input is not
// modified.
func Merge(entities []Entity, mode MergeMode) []Entity {
	if len(entities) == 0 {
		return nil
	}
	sorted := make([]Entity, len(entities))
	copy(sorted, entities)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	if mode == StrictInterval {
		return mergeIntervals(sorted)
	}
	return mergePairwise(sorted)
}

// mergePairwise expects sorted ascending by Start.
func mergePairwise(sorted []Entity) []Entity {
	merged := make([]Entity, 0, len(sorted))
	for _, cand := range sorted {
		overlapped := false
		for i, existing := range merged {
			if cand.Overlaps(existing) {
				if cand.Confidence > existing.Confidence {
					merged[i] = cand
				}
				overlapped = true
				break
			}
		}
		if !overlapped {
			merged = append(merged, cand)
		}
	}
	return merged
}

// mergeIntervals expects sorted ascending by Start. Ties on confidence keep
// the earliest candidate.
func mergeIntervals(sorted []Entity) []Entity {
	var out []Entity
	best := sorted[0]
	clusterEnd := sorted[0].End
	for _, cand := range sorted[1:] {
		if cand.Start < clusterEnd {
			if cand.Confidence > best.Confidence {
				best = cand
			}
			if cand.End > clusterEnd {
				clusterEnd = cand.End
			}
			continue
		}
		out = append(out, best)
		best = cand
		clusterEnd = cand.End
	}
	return append(out, best)
}

// OverlapClusters returns every group of at least minSize transitively
// overlapping entities. Used to surface order-dependent merges.
func OverlapClusters(entities []Entity, minSize int) [][]Entity {
	if len(entities) == 0 {
		return nil
	}
	sorted := make([]Entity, len(entities))
	copy(sorted, entities)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	var out [][]Entity
	cluster := []Entity{sorted[0]}
	clusterEnd := sorted[0].End
	flush := func() {
		if len(cluster) >= minSize {
			out = append(out, cluster)
		}
	}
	for _, e := range sorted[1:] {
		if e.Start < clusterEnd {
			cluster = append(cluster, e)
			if e.End > clusterEnd {
				clusterEnd = e.End
			}
			continue
		}
		flush()
		cluster = []Entity{e}
		clusterEnd = e.End
	}
	flush()
	return out
}
