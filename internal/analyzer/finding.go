// Package analyzer consumes metric series and event streams and produces
// Findings: single statistically derived observations with a significance
// score. Analyzers never mutate their inputs; a Finding is immutable once
// emitted.
package analyzer

import (
	"math"

	"github.com/google/uuid"

	"github.com/meridianhq/meridian/internal/event"
)

// Kind discriminates the finding variants. Dispatch downstream is by Kind,
// never by runtime type inspection.
type Kind string

const (
	KindTrend            Kind = "trend"
	KindAnomaly          Kind = "anomaly"
	KindFunnelDropoff    Kind = "funnel_dropoff"
	KindCohortDivergence Kind = "cohort_divergence"
)

// Finding is one observation produced by an analyzer pass.
type Finding struct {
	ID           string         `json:"id"`
	Kind         Kind           `json:"kind"`
	Metric       string         `json:"metric"`
	SegmentKey   string         `json:"segment_key,omitempty"`
	Magnitude    float64        `json:"magnitude"`
	Significance float64        `json:"significance"` // 0..1
	Window       event.Window   `json:"window"`
	Evidence     map[string]any `json:"evidence,omitempty"`
}

func newFinding(kind Kind, metric, segmentKey string, magnitude, significance float64, w event.Window, evidence map[string]any) Finding {
	return Finding{
		ID:           uuid.NewString(),
		Kind:         kind,
		Metric:       metric,
		SegmentKey:   segmentKey,
		Magnitude:    magnitude,
		Significance: clamp01(significance),
		Window:       w,
		Evidence:     evidence,
	}
}

// significanceFromScore maps a z-like score onto [0,1] as the two-sided
// confidence that the observation is not noise: erf(|z|/sqrt(2)). A score of
// 2 maps to ~0.954; an infinite score (zero-variance baseline) maps to 1.
func significanceFromScore(score float64) float64 {
	if math.IsInf(score, 0) {
		return 1
	}
	return math.Erf(math.Abs(score) / math.Sqrt2)
}

// clampScore bounds a score so it stays representable in JSON evidence.
func clampScore(score float64) float64 {
	const lim = 99.0
	if math.IsInf(score, 1) || score > lim {
		return lim
	}
	if math.IsInf(score, -1) || score < -lim {
		return -lim
	}
	return score
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
