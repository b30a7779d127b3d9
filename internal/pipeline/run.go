// Package pipeline schedules analysis tasks as a dependency graph: metric
// computation feeds the analyzers, analyzer findings feed insight generation,
// and the processor chain runs as its own ordered stages. The graph is
// immutable once built; each run gets a fresh RunContext.
package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridianhq/meridian/internal/analyzer"
	"github.com/meridianhq/meridian/internal/event"
	"github.com/meridianhq/meridian/internal/insight"
	"github.com/meridianhq/meridian/internal/metric"
)

// RunType names the cadence that triggered a run.
type RunType string

const (
	RunDaily   RunType = "daily"
	RunWeekly  RunType = "weekly"
	RunMonthly RunType = "monthly"
	RunAdhoc   RunType = "adhoc"
)

// Status is the overall outcome of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// TaskStatus is the terminal (or current) state of one task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped"
)

// RunContext is the shared state tasks read and write. All mutators take the
// lock; tasks only ever append or replace whole slices, so readers see
// consistent snapshots between stages.
type RunContext struct {
	RunID   string
	Type    RunType
	Window  event.Window
	Started time.Time

	mu              sync.Mutex
	events          []event.Record
	membership      map[string]string
	series          map[string]*metric.Series
	baselines       map[string]*metric.Series
	funnels         map[string]*analyzer.FunnelResult
	findings        []analyzer.Finding
	skippedMetrics  []string
	drafts          []*insight.Insight
	validated       []*insight.Insight
	rejected        []*insight.Insight
	delivered       []*insight.Insight
	recommendations []insight.Recommendation
}

// NewRunContext allocates the per-run state bag.
func NewRunContext(t RunType, w event.Window) *RunContext {
	return &RunContext{
		RunID:     uuid.NewString(),
		Type:      t,
		Window:    w,
		Started:   time.Now().UTC(),
		series:    make(map[string]*metric.Series),
		baselines: make(map[string]*metric.Series),
		funnels:   make(map[string]*analyzer.FunnelResult),
	}
}

// SetEvents stores the fetched event batch.
func (rc *RunContext) SetEvents(events []event.Record) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.events = events
}

// Events returns the fetched event batch.
func (rc *RunContext) Events() []event.Record {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.events
}

// SetMembership stores the per-user segment assignment for this run.
func (rc *RunContext) SetMembership(m map[string]string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.membership = m
}

// Membership returns the per-user segment assignment.
func (rc *RunContext) Membership() map[string]string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.membership
}

// PutSeries stores a computed current-window series and its baseline
// (baseline may be nil on a first run).
func (rc *RunContext) PutSeries(cur, baseline *metric.Series) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.series[cur.Key()] = cur
	if baseline != nil {
		rc.baselines[cur.Key()] = baseline
	}
}

// Series returns a current-window series and its baseline by key.
func (rc *RunContext) Series(key string) (cur, baseline *metric.Series) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.series[key], rc.baselines[key]
}

// AllSeries snapshots the computed series map.
func (rc *RunContext) AllSeries() map[string]*metric.Series {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make(map[string]*metric.Series, len(rc.series))
	for k, v := range rc.series {
		out[k] = v
	}
	return out
}

// SegmentSeries returns every segment-scoped series for one metric, keyed by
// segment.
func (rc *RunContext) SegmentSeries(metricName string) map[string]*metric.Series {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make(map[string]*metric.Series)
	for _, s := range rc.series {
		if s.Metric == metricName && s.SegmentKey != "" {
			out[s.SegmentKey] = s
		}
	}
	return out
}

// MarkSkipped records a metric that had insufficient data this run.
func (rc *RunContext) MarkSkipped(metricName string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.skippedMetrics = append(rc.skippedMetrics, metricName)
}

// SkippedMetrics returns the metrics skipped for insufficient data.
func (rc *RunContext) SkippedMetrics() []string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]string(nil), rc.skippedMetrics...)
}

// PutFunnel stores a funnel measurement.
func (rc *RunContext) PutFunnel(res *analyzer.FunnelResult) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.funnels[res.Funnel] = res
}

// Funnels snapshots the funnel measurements.
func (rc *RunContext) Funnels() map[string]*analyzer.FunnelResult {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make(map[string]*analyzer.FunnelResult, len(rc.funnels))
	for k, v := range rc.funnels {
		out[k] = v
	}
	return out
}

// AddFindings appends analyzer findings.
func (rc *RunContext) AddFindings(fs ...analyzer.Finding) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.findings = append(rc.findings, fs...)
}

// Findings snapshots the accumulated findings.
func (rc *RunContext) Findings() []analyzer.Finding {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]analyzer.Finding(nil), rc.findings...)
}

// SetDrafts stores generator output.
func (rc *RunContext) SetDrafts(ins []*insight.Insight) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.drafts = ins
}

// Drafts returns generator output.
func (rc *RunContext) Drafts() []*insight.Insight {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.drafts
}

// SetValidated stores the validator partition.
func (rc *RunContext) SetValidated(validated, rejected []*insight.Insight) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.validated, rc.rejected = validated, rejected
}

// Validated returns the surviving batch (replaced by aggregation in place).
func (rc *RunContext) Validated() []*insight.Insight {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.validated
}

// ReplaceValidated swaps the surviving batch after aggregation.
func (rc *RunContext) ReplaceValidated(ins []*insight.Insight) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.validated = ins
}

// Rejected returns the insights the validator filtered out.
func (rc *RunContext) Rejected() []*insight.Insight {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.rejected
}

// SetDelivered freezes the prioritized top slice.
func (rc *RunContext) SetDelivered(ins []*insight.Insight) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.delivered = make([]*insight.Insight, len(ins))
	for i, in := range ins {
		rc.delivered[i] = in.Clone()
	}
}

// Delivered returns the frozen delivered insights.
func (rc *RunContext) Delivered() []*insight.Insight {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.delivered
}

// SetRecommendations stores the derived actions.
func (rc *RunContext) SetRecommendations(recs []insight.Recommendation) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.recommendations = recs
}

// Recommendations returns the derived actions.
func (rc *RunContext) Recommendations() []insight.Recommendation {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.recommendations
}
