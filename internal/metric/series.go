// Package metric turns event records into named numeric time series and
// defines the series model consumed by every analyzer.
package metric

import (
	"fmt"
	"time"
)

// Point is one bucketed observation.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Series is an ordered sequence of points for one metric, optionally scoped
// to a segment. Timestamps are strictly increasing; Append enforces this.
type Series struct {
	Metric     string  `json:"metric"`
	SegmentKey string  `json:"segment_key,omitempty"`
	Points     []Point `json:"points"`
}

// NewSeries allocates an empty series.
func NewSeries(metric, segmentKey string) *Series {
	return &Series{Metric: metric, SegmentKey: segmentKey}
}

// Append adds a point, rejecting out-of-order timestamps.
func (s *Series) Append(ts time.Time, v float64) error {
	if n := len(s.Points); n > 0 && !ts.After(s.Points[n-1].Timestamp) {
		return fmt.Errorf("series %s: timestamp %s not after %s", s.Metric, ts, s.Points[n-1].Timestamp)
	}
	s.Points = append(s.Points, Point{Timestamp: ts, Value: v})
	return nil
}

// Len returns the number of buckets in the series.
func (s *Series) Len() int { return len(s.Points) }

// Values returns the point values in order.
func (s *Series) Values() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Value
	}
	return out
}

// Sum returns the total of all point values.
func (s *Series) Sum() float64 {
	var t float64
	for _, p := range s.Points {
		t += p.Value
	}
	return t
}

// Mean returns the average point value (0 for an empty series).
func (s *Series) Mean() float64 {
	if len(s.Points) == 0 {
		return 0
	}
	return s.Sum() / float64(len(s.Points))
}

// Key identifies a series by metric and segment.
func (s *Series) Key() string {
	if s.SegmentKey == "" {
		return s.Metric
	}
	return s.Metric + "|" + s.SegmentKey
}
