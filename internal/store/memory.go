package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meridianhq/meridian/internal/analyzer"
	"github.com/meridianhq/meridian/internal/event"
	"github.com/meridianhq/meridian/internal/metric"
)

// Memory is an in-process Store. Safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	events   []event.Record
	segments map[string]string         // user_id -> segment key
	series   map[string][]metric.Point // metric|segment -> points, sorted
	funnels  map[string][]*analyzer.FunnelResult
	runs     []*RunSummary
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		segments: make(map[string]string),
		series:   make(map[string][]metric.Point),
		funnels:  make(map[string][]*analyzer.FunnelResult),
	}
}

func (m *Memory) InsertEvents(_ context.Context, events []event.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

func (m *Memory) FetchEvents(_ context.Context, w event.Window) ([]event.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []event.Record
	for _, rec := range m.events {
		if w.Contains(rec.Timestamp) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// AssignSegments records explicit user-to-segment assignments.
func (m *Memory) AssignSegments(_ context.Context, members map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for user, key := range members {
		m.segments[user] = key
	}
	return nil
}

func (m *Memory) FetchSegmentMembership(_ context.Context, userID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.segments[userID], nil
}

func (m *Memory) SaveSeries(_ context.Context, s *metric.Series) error {
	if s == nil || s.Len() == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := s.Key()
	existing := m.series[key]
	// Replace points that share a timestamp with the incoming write; a rerun
	// over the same window must not duplicate buckets.
	incoming := make(map[time.Time]bool, s.Len())
	for _, p := range s.Points {
		incoming[p.Timestamp] = true
	}
	kept := existing[:0]
	for _, p := range existing {
		if !incoming[p.Timestamp] {
			kept = append(kept, p)
		}
	}
	kept = append(kept, s.Points...)
	sort.Slice(kept, func(i, j int) bool { return kept[i].Timestamp.Before(kept[j].Timestamp) })
	m.series[key] = kept
	return nil
}

func (m *Memory) LoadSeries(_ context.Context, metricName, segmentKey string, w event.Window) (*metric.Series, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := &metric.Series{Metric: metricName, SegmentKey: segmentKey}
	for _, p := range m.series[s.Key()] {
		if !w.Contains(p.Timestamp) {
			continue
		}
		if err := s.Append(p.Timestamp, p.Value); err != nil {
			return nil, err
		}
	}
	if s.Len() == 0 {
		return nil, nil
	}
	return s, nil
}

func (m *Memory) SaveFunnel(_ context.Context, res *analyzer.FunnelResult) error {
	if res == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funnels[res.Funnel] = append(m.funnels[res.Funnel], res)
	return nil
}

func (m *Memory) LatestFunnel(_ context.Context, name string, before time.Time) (*analyzer.FunnelResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *analyzer.FunnelResult
	for _, res := range m.funnels[name] {
		if res.Window.End.After(before) {
			continue
		}
		if best == nil || res.Window.End.After(best.Window.End) {
			best = res
		}
	}
	return best, nil
}

func (m *Memory) SaveRun(_ context.Context, sum *RunSummary) error {
	if sum == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.runs {
		if r.RunID == sum.RunID {
			m.runs[i] = sum
			return nil
		}
	}
	m.runs = append(m.runs, sum)
	return nil
}

func (m *Memory) LoadRun(_ context.Context, runID string) (*RunSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.runs {
		if r.RunID == runID {
			return r, nil
		}
	}
	return nil, nil
}

func (m *Memory) RecentRuns(_ context.Context, limit int) ([]RunSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RunSummary, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
