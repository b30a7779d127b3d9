package insight

import (
	"context"

	"github.com/meridianhq/meridian/internal/errs"
	"github.com/meridianhq/meridian/internal/store"
)

// Enricher annotates validated insights with cross-run context: how many
// recent runs surfaced the same metric and category, and when it was last
// seen. Enrichment is purely additive; it never changes status, confidence,
// or ordering inputs.
type Enricher struct {
	History store.HistoryStore
	// Lookback is how many recent runs to scan.
	Lookback int
}

// NewEnricher builds an enricher with defaults filled in.
func NewEnricher(history store.HistoryStore, lookback int) *Enricher {
	if lookback <= 0 {
		lookback = 30
	}
	return &Enricher{History: history, Lookback: lookback}
}

// Process annotates the batch in place. A history failure is returned as
// DataUnavailableError so the owning task can retry; the batch is untouched
// on error.
func (e *Enricher) Process(ctx context.Context, batch []*Insight) error {
	if e.History == nil || len(batch) == 0 {
		return nil
	}
	runs, err := e.History.RecentRuns(ctx, e.Lookback)
	if err != nil {
		return errs.NewDataUnavailable("enrich insights", err)
	}

	type history struct {
		count   int
		lastRun string
	}
	seen := make(map[string]history)
	// RecentRuns is most recent first; walk oldest first so lastRun lands on
	// the newest occurrence.
	for i := len(runs) - 1; i >= 0; i-- {
		for _, d := range runs[i].Insights {
			k := d.Category + "|" + d.Metric + "|" + d.SegmentKey
			h := seen[k]
			h.count++
			h.lastRun = runs[i].RunID
			seen[k] = h
		}
	}

	for _, ins := range batch {
		h, ok := seen[string(ins.Category)+"|"+ins.Metric+"|"+ins.SegmentKey]
		if !ok {
			ins.setContext("first_occurrence", true)
			continue
		}
		ins.setContext("prior_occurrences", h.count)
		ins.setContext("last_seen_run", h.lastRun)
	}
	return nil
}
