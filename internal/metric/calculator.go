package metric

import (
	"fmt"

	"github.com/meridianhq/meridian/internal/errs"
	"github.com/meridianhq/meridian/internal/event"
	"github.com/meridianhq/meridian/internal/filter"
)

// Aggregation selects how events inside a bucket collapse to a value.
type Aggregation string

const (
	AggCount       Aggregation = "count"        // number of matching events
	AggUniqueUsers Aggregation = "unique_users" // distinct user IDs
	AggSum         Aggregation = "sum"          // sum of a numeric property
	AggAverage     Aggregation = "average"      // mean of a numeric property
)

// Definition describes one computable metric.
type Definition struct {
	Name string `yaml:"name"`
	// Event restricts the metric to a single event name; empty matches all.
	Event string `yaml:"event,omitempty"`
	// Property is the numeric property aggregated by sum/average.
	Property    string      `yaml:"property,omitempty"`
	Aggregation Aggregation `yaml:"aggregation"`
	// Weight is the per-metric business magnitude used to break ties between
	// equally significant findings.
	Weight float64 `yaml:"weight"`
	// Filter is an optional filter expression further scoping events.
	Filter string `yaml:"filter,omitempty"`

	compiled filter.Expr
}

// Compile parses the definition's filter expression, if any.
func (d *Definition) Compile() error {
	if d.Filter == "" {
		return nil
	}
	expr, err := filter.Parse(d.Filter)
	if err != nil {
		return fmt.Errorf("metric %s: filter: %w", d.Name, err)
	}
	d.compiled = expr
	return nil
}

// matches reports whether a record counts toward this metric.
func (d *Definition) matches(rec *event.Record) bool {
	if d.Event != "" && rec.Name != d.Event {
		return false
	}
	if d.compiled != nil {
		ok, err := filter.Match(d.compiled, rec)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// Calculator buckets events into contiguous zero-filled series.
type Calculator struct {
	granularity int // bucket width in whole days
	minBuckets  int // populated buckets required before a series is usable
}

// NewCalculator builds a calculator. granularityDays <= 0 defaults to daily
// buckets; minBuckets <= 0 defaults to 3.
func NewCalculator(granularityDays, minBuckets int) *Calculator {
	if granularityDays <= 0 {
		granularityDays = 1
	}
	if minBuckets <= 0 {
		minBuckets = 3
	}
	return &Calculator{granularity: granularityDays, minBuckets: minBuckets}
}

// Granularity returns the bucket width.
func (c *Calculator) Granularity() int { return c.granularity }

// Compute turns pre-filtered events into a series for the definition over
// the window. The output always has one point per bucket in the window,
// zero-filled where no events landed, so downstream analyzers can assume
// contiguous series. Returns InsufficientDataError when fewer than the
// configured minimum of buckets saw any matching event.
func (c *Calculator) Compute(def *Definition, events []event.Record, w event.Window, segmentKey string) (*Series, error) {
	gran := event.Granularity(c.granularity)
	buckets := w.Buckets(gran)
	if len(buckets) == 0 {
		return nil, errs.NewInsufficientData(def.Name, 0, c.minBuckets)
	}

	index := make(map[int64]int, len(buckets))
	for i, b := range buckets {
		index[b.Unix()] = i
	}

	type acc struct {
		count float64
		sum   float64
		n     int
		users map[string]struct{}
	}
	accs := make([]acc, len(buckets))
	populated := 0

	for i := range events {
		rec := &events[i]
		if !w.Contains(rec.Timestamp) || !def.matches(rec) {
			continue
		}
		bi, ok := index[event.BucketOf(rec.Timestamp, gran).Unix()]
		if !ok {
			continue
		}
		a := &accs[bi]
		a.count++
		switch def.Aggregation {
		case AggUniqueUsers:
			if a.users == nil {
				a.users = make(map[string]struct{})
			}
			a.users[rec.UserID] = struct{}{}
			if a.count == 1 {
				populated++
			}
		case AggSum, AggAverage:
			// A bucket only counts toward the floor once it has a usable
			// numeric value, not merely matching events.
			if v, ok := numericProp(rec, def.Property); ok {
				if a.n == 0 {
					populated++
				}
				a.sum += v
				a.n++
			}
		default:
			if a.count == 1 {
				populated++
			}
		}
	}

	if populated < c.minBuckets {
		return nil, errs.NewInsufficientData(def.Name, populated, c.minBuckets)
	}

	s := NewSeries(def.Name, segmentKey)
	for i, b := range buckets {
		a := accs[i]
		var v float64
		switch def.Aggregation {
		case AggCount:
			v = a.count
		case AggUniqueUsers:
			v = float64(len(a.users))
		case AggSum:
			v = a.sum
		case AggAverage:
			if a.n > 0 {
				v = a.sum / float64(a.n)
			}
		default:
			return nil, fmt.Errorf("metric %s: unknown aggregation %q", def.Name, def.Aggregation)
		}
		if err := s.Append(b, v); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func numericProp(rec *event.Record, key string) (float64, bool) {
	switch v := rec.Prop(key).(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
