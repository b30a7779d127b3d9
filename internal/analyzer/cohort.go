package analyzer

import (
	"sort"

	"github.com/meridianhq/meridian/internal/event"
	"github.com/meridianhq/meridian/internal/metric"
)

// CohortAnalyzer compares the same metric across user segments and emits a
// Finding for every segment pair whose aggregates diverge by more than a
// relative threshold.
type CohortAnalyzer struct {
	// DivergenceThreshold is the relative gap (0..1) between two segment
	// aggregates that warrants a Finding.
	DivergenceThreshold float64
}

// NewCohortAnalyzer builds an analyzer with defaults filled in.
func NewCohortAnalyzer(threshold float64) *CohortAnalyzer {
	if threshold <= 0 {
		threshold = 0.25
	}
	return &CohortAnalyzer{DivergenceThreshold: threshold}
}

func (a *CohortAnalyzer) Kind() Kind { return KindCohortDivergence }

// Analyze compares segment-level aggregates pairwise. The finding's segment
// key names the lagging segment; the evidence records both identifiers and
// their values.
func (a *CohortAnalyzer) Analyze(metricName string, segments map[string]*metric.Series, w event.Window) []Finding {
	keys := make([]string, 0, len(segments))
	for k, s := range segments {
		if s != nil && s.Len() > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var findings []Finding
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			va := segments[keys[i]].Mean()
			vb := segments[keys[j]].Mean()
			leader, laggard := keys[i], keys[j]
			hi, lo := va, vb
			if vb > va {
				leader, laggard = keys[j], keys[i]
				hi, lo = vb, va
			}
			denom := abs(hi)
			if abs(lo) > denom {
				denom = abs(lo)
			}
			if denom == 0 {
				continue
			}
			gap := (hi - lo) / denom
			if gap <= a.DivergenceThreshold {
				continue
			}
			findings = append(findings, newFinding(
				KindCohortDivergence,
				metricName,
				laggard,
				hi-lo,
				clamp01(gap),
				w,
				map[string]any{
					"leading_segment": leader,
					"leading_value":   hi,
					"lagging_segment": laggard,
					"lagging_value":   lo,
					"relative_gap":    gap,
				},
			))
		}
	}
	return findings
}
