// Package store defines the persistence boundary of the pipeline: an event
// source and a history sink for computed series, funnel measurements, and run
// summaries. Two implementations ship, an in-memory store for tests and
// single-run invocations and a SQLite store for scheduled operation.
package store

import (
	"context"
	"time"

	"github.com/meridianhq/meridian/internal/analyzer"
	"github.com/meridianhq/meridian/internal/event"
	"github.com/meridianhq/meridian/internal/metric"
)

// EventStore is the raw behavioral event source.
type EventStore interface {
	// InsertEvents appends a batch of events.
	InsertEvents(ctx context.Context, events []event.Record) error
	// FetchEvents returns all events whose timestamp falls in w, ordered by
	// timestamp ascending.
	FetchEvents(ctx context.Context, w event.Window) ([]event.Record, error)
	// FetchSegmentMembership returns the stored segment key for a user, or ""
	// when the user has no explicit assignment.
	FetchSegmentMembership(ctx context.Context, userID string) (string, error)
}

// HistoryStore persists per-run outputs so later runs can compare against
// them: metric series for trend and anomaly baselines, funnel results for
// rate-change detection, and run summaries for enrichment and status queries.
type HistoryStore interface {
	SaveSeries(ctx context.Context, s *metric.Series) error
	// LoadSeries returns the stored points for a metric and segment inside w,
	// or nil when nothing is stored.
	LoadSeries(ctx context.Context, metricName, segmentKey string, w event.Window) (*metric.Series, error)

	SaveFunnel(ctx context.Context, res *analyzer.FunnelResult) error
	// LatestFunnel returns the most recent stored measurement of the named
	// funnel whose window ends at or before the cutoff, or nil.
	LatestFunnel(ctx context.Context, name string, before time.Time) (*analyzer.FunnelResult, error)

	SaveRun(ctx context.Context, sum *RunSummary) error
	// LoadRun returns a stored run summary by ID, or nil when unknown.
	LoadRun(ctx context.Context, runID string) (*RunSummary, error)
	// RecentRuns returns up to limit summaries, most recent first.
	RecentRuns(ctx context.Context, limit int) ([]RunSummary, error)
}

// Store bundles both roles; the SQLite and memory implementations satisfy it.
type Store interface {
	EventStore
	HistoryStore
}

// StageOutcome records how one scheduled task ended.
type StageOutcome struct {
	Task     string `json:"task"`
	Status   string `json:"status"` // succeeded, failed, skipped
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// RecommendationDigest is the persisted shape of one recommended action.
type RecommendationDigest struct {
	Action       string `json:"action"`
	Category     string `json:"category"`
	PriorityRank int    `json:"priority_rank"`
}

// InsightDigest is the persisted shape of a delivered insight, enough for
// enrichment lookups and reports without dragging the full object graph.
type InsightDigest struct {
	ID              string                 `json:"id"`
	Category        string                 `json:"category"`
	Metric          string                 `json:"metric"`
	SegmentKey      string                 `json:"segment_key,omitempty"`
	Title           string                 `json:"title"`
	ImpactScore     float64                `json:"impact_score"`
	WindowStart     time.Time              `json:"window_start"`
	WindowEnd       time.Time              `json:"window_end"`
	Recommendations []RecommendationDigest `json:"recommendations,omitempty"`
}

// RunSummary is the persisted record of one pipeline run.
type RunSummary struct {
	RunID      string          `json:"run_id"`
	RunType    string          `json:"run_type"`
	Status     string          `json:"status"` // succeeded, partial, failed
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Stages     []StageOutcome  `json:"stages"`
	Insights   []InsightDigest `json:"insights"`
}
