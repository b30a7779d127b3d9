package insight

import (
	"sort"
)

// Aggregator merges validated insights that describe the same phenomenon:
// same category, same metric, same segment, overlapping windows. Merging
// unions the supporting findings, widens the window to cover both, and keeps
// the highest confidence. The pass is idempotent; aggregating an already
// aggregated batch changes nothing.
type Aggregator struct{}

// NewAggregator builds an aggregator.
func NewAggregator() *Aggregator { return &Aggregator{} }

// Process merges duplicates and returns the deduplicated batch, ordered by
// creation time then ID for determinism.
func (a *Aggregator) Process(validated []*Insight) []*Insight {
	buckets := make(map[string][]*Insight)
	var order []string
	for _, ins := range validated {
		k := string(ins.Category) + "|" + ins.Metric + "|" + ins.SegmentKey
		if _, seen := buckets[k]; !seen {
			order = append(order, k)
		}
		buckets[k] = append(buckets[k], ins)
	}

	var out []*Insight
	for _, k := range order {
		group := buckets[k]
		// Within a bucket, fold each insight into the first earlier one whose
		// window overlaps. Disjoint windows stay separate insights. Merging
		// widens the target's window, which can bridge previously disjoint
		// entries, so keep absorbing until the bucket is stable.
		var merged []*Insight
		for _, ins := range group {
			target := -1
			for i, m := range merged {
				if m.Window.Overlaps(ins.Window) {
					target = i
					break
				}
			}
			if target < 0 {
				merged = append(merged, ins)
				continue
			}
			merge(merged[target], ins)
			for {
				bridged := -1
				for i, m := range merged {
					if i != target && m.Window.Overlaps(merged[target].Window) {
						bridged = i
						break
					}
				}
				if bridged < 0 {
					break
				}
				merge(merged[target], merged[bridged])
				merged = append(merged[:bridged], merged[bridged+1:]...)
				if bridged < target {
					target--
				}
			}
		}
		out = append(out, merged...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func merge(dst, src *Insight) {
	seen := make(map[string]bool, len(dst.FindingIDs))
	for _, id := range dst.FindingIDs {
		seen[id] = true
	}
	for _, id := range src.FindingIDs {
		if !seen[id] {
			dst.FindingIDs = append(dst.FindingIDs, id)
			seen[id] = true
		}
	}
	if src.Window.Start.Before(dst.Window.Start) {
		dst.Window.Start = src.Window.Start
	}
	if src.Window.End.After(dst.Window.End) {
		dst.Window.End = src.Window.End
	}
	if src.Confidence > dst.Confidence {
		dst.Confidence = src.Confidence
	}
	if src.Magnitude > dst.Magnitude {
		dst.Magnitude = src.Magnitude
	}
	if src.Population > dst.Population {
		dst.Population = src.Population
	}
	dst.setContext("merged_count", mergedCount(dst)+mergedCount(src))
}

func mergedCount(ins *Insight) int {
	if ins.Context == nil {
		return 1
	}
	if n, ok := ins.Context["merged_count"].(int); ok {
		return n
	}
	return 1
}
