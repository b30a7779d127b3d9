package event

import (
	"fmt"
	"time"
)

// Window is a half-open time range [Start, End) over which metrics and
// events are evaluated.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewWindow builds a window, normalizing a reversed range.
func NewWindow(start, end time.Time) Window {
	if end.Before(start) {
		start, end = end, start
	}
	return Window{Start: start, End: end}
}

// LastDays returns the window covering the n whole days ending at the
// midnight boundary before now (UTC).
func LastDays(now time.Time, n int) Window {
	end := now.UTC().Truncate(24 * time.Hour)
	return Window{Start: end.AddDate(0, 0, -n), End: end}
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Previous returns the window of equal length immediately preceding this one.
func (w Window) Previous() Window {
	d := w.Duration()
	return Window{Start: w.Start.Add(-d), End: w.Start}
}

// Overlaps reports whether two windows share any instant.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// Buckets returns the ordered bucket start times covering the window at the
// given granularity. A window that is not an exact multiple of the
// granularity still gets a final partial bucket.
func (w Window) Buckets(granularity time.Duration) []time.Time {
	if granularity <= 0 || !w.End.After(w.Start) {
		return nil
	}
	var out []time.Time
	for t := w.Start.Truncate(granularity); t.Before(w.End); t = t.Add(granularity) {
		out = append(out, t)
	}
	return out
}

// Granularity converts a bucket width in whole days to a duration.
func Granularity(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}

// BucketOf returns the bucket start a timestamp belongs to.
func BucketOf(t time.Time, granularity time.Duration) time.Time {
	return t.Truncate(granularity)
}

func (w Window) String() string {
	return fmt.Sprintf("%s..%s", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}
