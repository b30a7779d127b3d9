package pipeline

import (
	"encoding/json"
	"io"
	"time"

	"github.com/meridianhq/meridian/internal/analyzer"
	"github.com/meridianhq/meridian/internal/event"
	"github.com/meridianhq/meridian/internal/insight"
	"github.com/meridianhq/meridian/internal/store"
)

// Report is the external JSON shape of one completed run.
type Report struct {
	RunID           string                            `json:"run_id"`
	RunType         string                            `json:"run_type"`
	Status          string                            `json:"status"`
	Window          event.Window                      `json:"window"`
	StartedAt       time.Time                         `json:"started_at"`
	FinishedAt      time.Time                         `json:"finished_at"`
	Stages          []store.StageOutcome              `json:"stages"`
	SkippedMetrics  []string                          `json:"skipped_metrics,omitempty"`
	Funnels         map[string]*analyzer.FunnelResult `json:"funnels,omitempty"`
	Insights        []*insight.Insight                `json:"insights"`
	RejectedCount   int                               `json:"rejected_count"`
	Recommendations []insight.Recommendation          `json:"recommendations"`
}

// BuildReport assembles the report from a finished run's context and summary.
func BuildReport(rc *RunContext, sum *store.RunSummary) *Report {
	return &Report{
		RunID:           rc.RunID,
		RunType:         string(rc.Type),
		Status:          sum.Status,
		Window:          rc.Window,
		StartedAt:       sum.StartedAt,
		FinishedAt:      sum.FinishedAt,
		Stages:          sum.Stages,
		SkippedMetrics:  rc.SkippedMetrics(),
		Funnels:         rc.Funnels(),
		Insights:        rc.Delivered(),
		RejectedCount:   len(rc.Rejected()),
		Recommendations: rc.Recommendations(),
	}
}

// WriteJSON renders the report, indented for human consumption.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
