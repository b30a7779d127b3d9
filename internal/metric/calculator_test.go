package metric_test

import (
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/meridianhq/meridian/internal/errs"
	"github.com/meridianhq/meridian/internal/event"
	"github.com/meridianhq/meridian/internal/metric"
)

func day(d int) time.Time {
	return time.Date(2026, 8, d, 0, 0, 0, 0, time.UTC)
}

func makeEvents(name string, perDay map[int][]string) []event.Record {
	var out []event.Record
	for d, users := range perDay {
		for i, u := range users {
			out = append(out, event.Record{
				Name:      name,
				UserID:    u,
				Timestamp: day(d).Add(time.Duration(i+1) * time.Hour),
			})
		}
	}
	return out
}

func TestComputeCount(t *testing.T) {
	def := &metric.Definition{Name: "sign_ups", Event: "Sign Up", Aggregation: metric.AggCount}
	events := makeEvents("Sign Up", map[int][]string{
		1: {"a", "b"},
		2: {"c"},
		4: {"d", "e", "f"},
	})
	calc := metric.NewCalculator(1, 3)
	s, err := calc.Compute(def, events, event.NewWindow(day(1), day(6)), "")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	want := []float64{2, 1, 0, 3, 0}
	got := s.Values()
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bucket %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestComputeUniqueUsers(t *testing.T) {
	def := &metric.Definition{Name: "dau", Aggregation: metric.AggUniqueUsers}
	events := makeEvents("Login", map[int][]string{
		1: {"a", "a", "b"},
		2: {"a"},
		3: {"b", "c"},
	})
	calc := metric.NewCalculator(1, 3)
	s, err := calc.Compute(def, events, event.NewWindow(day(1), day(4)), "")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	want := []float64{2, 1, 2}
	for i, v := range s.Values() {
		if v != want[i] {
			t.Errorf("bucket %d = %v, want %v", i, v, want[i])
		}
	}
}

func TestComputeAverageIgnoresNonNumeric(t *testing.T) {
	def := &metric.Definition{Name: "avg_duration", Event: "Session Ended", Property: "minutes", Aggregation: metric.AggAverage}
	events := []event.Record{
		{Name: "Session Ended", UserID: "a", Timestamp: day(1).Add(time.Hour), Properties: map[string]any{"minutes": 10.0}},
		{Name: "Session Ended", UserID: "b", Timestamp: day(1).Add(2 * time.Hour), Properties: map[string]any{"minutes": 30.0}},
		{Name: "Session Ended", UserID: "c", Timestamp: day(1).Add(3 * time.Hour), Properties: map[string]any{"minutes": "bogus"}},
		{Name: "Session Ended", UserID: "a", Timestamp: day(2).Add(time.Hour), Properties: map[string]any{"minutes": 5.0}},
		{Name: "Session Ended", UserID: "a", Timestamp: day(3).Add(time.Hour), Properties: map[string]any{"minutes": 7.0}},
	}
	calc := metric.NewCalculator(1, 3)
	s, err := calc.Compute(def, events, event.NewWindow(day(1), day(4)), "")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if got := s.Values()[0]; got != 20.0 {
		t.Errorf("day 1 average = %v, want 20 (non-numeric excluded)", got)
	}
}

func TestComputeAverageFloorNeedsNumericValues(t *testing.T) {
	def := &metric.Definition{Name: "avg_duration", Event: "Session Ended", Property: "minutes", Aggregation: metric.AggAverage}
	// Three buckets carry events, but only one carries a usable number.
	events := []event.Record{
		{Name: "Session Ended", UserID: "a", Timestamp: day(1).Add(time.Hour), Properties: map[string]any{"minutes": 10.0}},
		{Name: "Session Ended", UserID: "b", Timestamp: day(2).Add(time.Hour), Properties: map[string]any{"minutes": "bogus"}},
		{Name: "Session Ended", UserID: "c", Timestamp: day(3).Add(time.Hour)},
	}
	calc := metric.NewCalculator(1, 3)
	_, err := calc.Compute(def, events, event.NewWindow(day(1), day(4)), "")
	var insufficient *errs.InsufficientDataError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want InsufficientDataError", err)
	}
	if insufficient.Buckets != 1 {
		t.Errorf("populated = %d, want 1 (value-less buckets do not count)", insufficient.Buckets)
	}
}

func TestComputeInsufficientData(t *testing.T) {
	def := &metric.Definition{Name: "sparse", Event: "Rare", Aggregation: metric.AggCount}
	events := makeEvents("Rare", map[int][]string{2: {"a"}})
	calc := metric.NewCalculator(1, 3)
	_, err := calc.Compute(def, events, event.NewWindow(day(1), day(8)), "")
	var insufficient *errs.InsufficientDataError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want InsufficientDataError", err)
	}
	if insufficient.Buckets != 1 || insufficient.Min != 3 {
		t.Errorf("populated=%d min=%d, want 1 and 3", insufficient.Buckets, insufficient.Min)
	}
}

// Series length always equals the window's bucket count, whatever the events
// look like.
func TestComputeSeriesLengthProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("one point per bucket, zero-filled", prop.ForAll(
		func(days int, offsets []int) bool {
			w := event.NewWindow(day(1), day(1+days))
			var events []event.Record
			for i, off := range offsets {
				ts := day(1).Add(time.Duration(off%((days+1)*24)) * time.Hour)
				events = append(events, event.Record{
					Name:      "Ping",
					UserID:    "u",
					Timestamp: ts.Add(time.Duration(i) * time.Minute),
				})
			}
			def := &metric.Definition{Name: "pings", Event: "Ping", Aggregation: metric.AggCount}
			s, err := metric.NewCalculator(1, 1).Compute(def, events, w, "")
			if err != nil {
				var insufficient *errs.InsufficientDataError
				return errors.As(err, &insufficient)
			}
			return s.Len() == days
		},
		gen.IntRange(1, 30),
		gen.SliceOf(gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}

func TestSeriesAppendRejectsOutOfOrder(t *testing.T) {
	s := metric.NewSeries("m", "")
	if err := s.Append(day(2), 1); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(day(1), 2); err == nil {
		t.Error("expected error for out-of-order timestamp")
	}
	if err := s.Append(day(2), 3); err == nil {
		t.Error("expected error for duplicate timestamp")
	}
}
