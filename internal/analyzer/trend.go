package analyzer

import (
	"math"
	"sort"

	"github.com/meridianhq/meridian/internal/errs"
	"github.com/meridianhq/meridian/internal/metric"
)

// TrendDetector compares a current-window series against a historical
// baseline of equal length and emits at most one Finding when the aggregate
// shift clears the significance threshold.
type TrendDetector struct {
	// Threshold is the minimum |score| (default 2 standard deviations).
	Threshold float64
	// MinPoints is the minimum series length on both sides.
	MinPoints int
	// Scorer is the significance test; defaults to ZScorer.
	Scorer Scorer
}

// NewTrendDetector builds a detector with defaults filled in.
func NewTrendDetector(threshold float64, minPoints int) *TrendDetector {
	if threshold <= 0 {
		threshold = 2.0
	}
	if minPoints <= 0 {
		minPoints = 3
	}
	return &TrendDetector{Threshold: threshold, MinPoints: minPoints, Scorer: ZScorer{}}
}

func (d *TrendDetector) Kind() Kind { return KindTrend }

// Analyze scores the current series against its baseline. Returns
// InsufficientDataError when either side is too short; that means "skip this
// metric for the run", never a pipeline failure.
func (d *TrendDetector) Analyze(cur, baseline *metric.Series) ([]Finding, error) {
	if cur == nil || cur.Len() < d.MinPoints {
		n := 0
		if cur != nil {
			n = cur.Len()
		}
		return nil, errs.NewInsufficientData(seriesName(cur, baseline), n, d.MinPoints)
	}
	if baseline == nil || baseline.Len() < d.MinPoints {
		n := 0
		if baseline != nil {
			n = baseline.Len()
		}
		return nil, errs.NewInsufficientData(cur.Metric, n, d.MinPoints)
	}

	curAgg := cur.Mean()
	baseAgg := baseline.Mean()
	delta := curAgg - baseAgg

	scorer := d.Scorer
	if scorer == nil {
		scorer = ZScorer{}
	}
	score := scorer.Score(delta, baseline.Values())
	if math.Abs(score) < d.Threshold {
		return nil, nil
	}

	direction := "up"
	if delta < 0 {
		direction = "down"
	}
	evidence := map[string]any{
		"direction":     direction,
		"current_mean":  curAgg,
		"baseline_mean": baseAgg,
		"abs_delta":     delta,
		"score":         clampScore(score),
	}
	if baseAgg != 0 {
		evidence["pct_change"] = delta / math.Abs(baseAgg) * 100
	}

	w := seriesWindow(cur)
	f := newFinding(KindTrend, cur.Metric, cur.SegmentKey, delta, significanceFromScore(score), w, evidence)
	return []Finding{f}, nil
}

// RankTrends orders trend findings so that equally significant up/down
// shifts on related metrics resolve deterministically: larger business
// magnitude (per-metric weight times absolute delta) wins, not raw score.
func RankTrends(findings []Finding, weights map[string]float64) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Significance != b.Significance {
			return a.Significance > b.Significance
		}
		wa := weights[a.Metric] * math.Abs(a.Magnitude)
		wb := weights[b.Metric] * math.Abs(b.Magnitude)
		if wa != wb {
			return wa > wb
		}
		return a.Metric < b.Metric
	})
}

func seriesName(candidates ...*metric.Series) string {
	for _, s := range candidates {
		if s != nil {
			return s.Metric
		}
	}
	return "unknown"
}
