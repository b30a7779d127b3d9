// Package insight turns analyzer Findings into ranked, deduplicated,
// business-framed insights with recommended actions. Generation produces
// drafts; the processor chain (validate, aggregate, enrich, prioritize) is
// the only thing that mutates an insight, and an insight is frozen once
// delivered.
package insight

import (
	"time"

	"github.com/google/uuid"

	"github.com/meridianhq/meridian/internal/analyzer"
	"github.com/meridianhq/meridian/internal/event"
)

// Category classifies an insight's business framing.
type Category string

const (
	CategoryOpportunity Category = "opportunity"
	CategoryRisk        Category = "risk"
	CategorySuccess     Category = "success"
	CategoryAnomaly     Category = "anomaly"
)

// Status tracks the insight lifecycle.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusValidated Status = "validated"
	StatusRejected  Status = "rejected"
)

// Insight is a synthesis of one or more Findings. Every insight references
// at least one supporting finding; ImpactScore is only meaningful once the
// status is validated.
type Insight struct {
	ID          string         `json:"id"`
	Category    Category       `json:"category"`
	Title       string         `json:"title"`
	Summary     string         `json:"summary"`
	FindingIDs  []string       `json:"supporting_findings"`
	Metric      string         `json:"metric"`
	SegmentKey  string         `json:"segment_key,omitempty"`
	Window      event.Window   `json:"window"`
	Magnitude   float64        `json:"magnitude"`
	Confidence  float64        `json:"confidence"` // 0..1
	ImpactScore float64        `json:"impact_score"`
	Population  int            `json:"population"`
	Status      Status         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	Context     map[string]any `json:"context,omitempty"`
}

// FindingSet indexes findings by ID so processors can look up supporting
// evidence without holding analyzer state.
type FindingSet map[string]analyzer.Finding

// NewFindingSet builds an index over a finding slice.
func NewFindingSet(findings []analyzer.Finding) FindingSet {
	set := make(FindingSet, len(findings))
	for _, f := range findings {
		set[f.ID] = f
	}
	return set
}

// newDraft builds a draft insight from its supporting findings. Metric,
// window, magnitude, and population derive from the first finding.
func newDraft(category Category, title, summary string, findings ...analyzer.Finding) *Insight {
	if len(findings) == 0 {
		return nil
	}
	primary := findings[0]
	ins := &Insight{
		ID:         uuid.NewString(),
		Category:   category,
		Title:      title,
		Summary:    summary,
		Metric:     primary.Metric,
		SegmentKey: primary.SegmentKey,
		Window:     primary.Window,
		Magnitude:  absf(primary.Magnitude),
		Confidence: primary.Significance,
		Status:     StatusDraft,
		CreatedAt:  time.Now().UTC(),
	}
	for _, f := range findings {
		ins.FindingIDs = append(ins.FindingIDs, f.ID)
		if pop, ok := f.Evidence["population"].(int); ok && pop > ins.Population {
			ins.Population = pop
		}
	}
	return ins
}

// Clone returns a deep copy so delivered insights stay frozen.
func (i *Insight) Clone() *Insight {
	cp := *i
	cp.FindingIDs = append([]string(nil), i.FindingIDs...)
	if i.Context != nil {
		cp.Context = make(map[string]any, len(i.Context))
		for k, v := range i.Context {
			cp.Context[k] = v
		}
	}
	return &cp
}

func (i *Insight) setContext(key string, v any) {
	if i.Context == nil {
		i.Context = make(map[string]any)
	}
	i.Context[key] = v
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
