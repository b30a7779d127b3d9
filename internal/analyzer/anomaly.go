package analyzer

import (
	"math"
	"time"

	"github.com/meridianhq/meridian/internal/errs"
	"github.com/meridianhq/meridian/internal/event"
	"github.com/meridianhq/meridian/internal/metric"
)

// AnomalyDetector flags buckets that deviate from a rolling baseline by more
// than StdThreshold standard deviations, suppressing single-point noise by
// requiring the deviation direction to hold for at least two consecutive
// buckets. Each anomalous run of buckets yields exactly one Finding spanning
// the run, never one per bucket.
type AnomalyDetector struct {
	// Window is the rolling baseline width in buckets.
	Window int
	// StdThreshold is the deviation multiple that marks a bucket anomalous.
	StdThreshold float64
	// MinHistory is the minimum total buckets (baseline + current) required.
	MinHistory int
}

// minConsecutive is the run length below which deviations are treated as noise.
const minConsecutive = 2

// NewAnomalyDetector builds a detector with defaults filled in.
func NewAnomalyDetector(window int, stdThreshold float64, minHistory int) *AnomalyDetector {
	if window <= 0 {
		window = 7
	}
	if stdThreshold <= 0 {
		stdThreshold = 3.0
	}
	if minHistory <= 0 {
		minHistory = window + minConsecutive
	}
	return &AnomalyDetector{Window: window, StdThreshold: stdThreshold, MinHistory: minHistory}
}

func (d *AnomalyDetector) Kind() Kind { return KindAnomaly }

// Analyze scans the current series, extending its history with the baseline
// series when one exists. Returns InsufficientDataError when there is not
// enough history to form a rolling baseline.
func (d *AnomalyDetector) Analyze(cur, baseline *metric.Series) ([]Finding, error) {
	if cur == nil || cur.Len() == 0 {
		return nil, errs.NewInsufficientData(seriesName(cur, baseline), 0, d.MinHistory)
	}

	var history []float64
	if baseline != nil {
		history = baseline.Values()
	}
	offset := len(history)
	history = append(history, cur.Values()...)
	if len(history) < d.MinHistory {
		return nil, errs.NewInsufficientData(cur.Metric, len(history), d.MinHistory)
	}

	flags := make([]bucketFlag, cur.Len())

	for i := range cur.Points {
		g := offset + i
		if g < d.Window {
			continue // not enough trailing history yet
		}
		base := history[g-d.Window : g]
		m := mean(base)
		sd := stdDev(base)
		dev := history[g] - m

		var score float64
		switch {
		case sd == 0 && dev == 0:
			continue
		case sd == 0:
			score = math.Inf(int(math.Copysign(1, dev)))
		default:
			score = dev / sd
		}
		if math.Abs(score) <= d.StdThreshold && !math.IsInf(score, 0) {
			continue
		}
		dir := 1
		if dev < 0 {
			dir = -1
		}
		flags[i] = bucketFlag{anomalous: true, direction: dir, score: score, expected: m}
	}

	gran := seriesGranularity(cur)
	var findings []Finding
	for i := 0; i < len(flags); {
		if !flags[i].anomalous {
			i++
			continue
		}
		j := i
		for j < len(flags) && flags[j].anomalous && flags[j].direction == flags[i].direction {
			j++
		}
		if j-i >= minConsecutive {
			findings = append(findings, d.runFinding(cur, flags[i].direction, i, j, flags[i:j], gran))
		}
		i = j
	}
	return findings, nil
}

type bucketFlag struct {
	anomalous bool
	direction int // +1 above baseline, -1 below
	score     float64
	expected  float64
}

func (d *AnomalyDetector) runFinding(cur *metric.Series, direction, start, end int, run []bucketFlag, gran time.Duration) Finding {
	peak := 0
	for k := range run {
		if math.Abs(run[k].score) > math.Abs(run[peak].score) {
			peak = k
		}
	}
	peakPoint := cur.Points[start+peak]
	magnitude := peakPoint.Value - run[peak].expected

	dir := "spike"
	if direction < 0 {
		dir = "drop"
	}
	w := event.Window{
		Start: cur.Points[start].Timestamp,
		End:   cur.Points[end-1].Timestamp.Add(gran),
	}
	evidence := map[string]any{
		"direction":      dir,
		"run_length":     end - start,
		"peak_value":     peakPoint.Value,
		"expected_value": run[peak].expected,
		"peak_score":     clampScore(run[peak].score),
	}
	return newFinding(KindAnomaly, cur.Metric, cur.SegmentKey, magnitude, significanceFromScore(run[peak].score), w, evidence)
}

// seriesWindow derives the covering window of a series from its points.
func seriesWindow(s *metric.Series) event.Window {
	if s == nil || s.Len() == 0 {
		return event.Window{}
	}
	gran := seriesGranularity(s)
	return event.Window{
		Start: s.Points[0].Timestamp,
		End:   s.Points[s.Len()-1].Timestamp.Add(gran),
	}
}

// seriesGranularity infers the bucket width from point spacing (daily when
// the series has a single point).
func seriesGranularity(s *metric.Series) time.Duration {
	if s.Len() < 2 {
		return 24 * time.Hour
	}
	return s.Points[1].Timestamp.Sub(s.Points[0].Timestamp)
}
