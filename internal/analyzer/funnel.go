package analyzer

import (
	"fmt"
	"sort"

	"github.com/meridianhq/meridian/internal/errs"
	"github.com/meridianhq/meridian/internal/event"
	"github.com/meridianhq/meridian/internal/filter"
)

// FunnelStep matches one step of a funnel: an event name plus an optional
// property filter expression.
type FunnelStep struct {
	Name   string `yaml:"name"`
	Event  string `yaml:"event"`
	Filter string `yaml:"filter,omitempty"`

	compiled filter.Expr
}

func (s *FunnelStep) matches(rec *event.Record) bool {
	if rec.Name != s.Event {
		return false
	}
	if s.compiled != nil {
		ok, err := filter.Match(s.compiled, rec)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// FunnelDef is an ordered list of step matchers.
type FunnelDef struct {
	Name  string       `yaml:"name"`
	Steps []FunnelStep `yaml:"steps"`
}

// Compile parses every step filter. Must be called before analysis.
func (d *FunnelDef) Compile() error {
	if len(d.Steps) < 2 {
		return fmt.Errorf("funnel %s: at least 2 steps required", d.Name)
	}
	for i := range d.Steps {
		st := &d.Steps[i]
		if st.Filter == "" {
			continue
		}
		expr, err := filter.Parse(st.Filter)
		if err != nil {
			return fmt.Errorf("funnel %s step %s: %w", d.Name, st.Name, err)
		}
		st.compiled = expr
	}
	return nil
}

// StepConversion is the measured conversion between two adjacent steps.
type StepConversion struct {
	FromStep  string  `json:"from_step"`
	ToStep    string  `json:"to_step"`
	FromCount int     `json:"from_count"`
	ToCount   int     `json:"to_count"`
	Rate      float64 `json:"rate"` // always in [0,1]
}

// FunnelResult is one measured pass over a funnel within a window.
type FunnelResult struct {
	Funnel      string           `json:"funnel"`
	Window      event.Window     `json:"window"`
	Entered     int              `json:"entered"`
	Completed   int              `json:"completed"`
	Conversions []StepConversion `json:"conversions"`
}

// OverallRate is completions over entries.
func (r *FunnelResult) OverallRate() float64 {
	if r.Entered == 0 {
		return 0
	}
	return float64(r.Completed) / float64(r.Entered)
}

// FunnelAnalyzer measures step-to-step conversion and emits Findings for the
// primary drop-off and for pairs whose rate moved versus the prior window.
type FunnelAnalyzer struct {
	// ChangeDelta is the minimum absolute rate change versus the prior
	// window that warrants a Finding.
	ChangeDelta float64
}

// NewFunnelAnalyzer builds an analyzer with defaults filled in.
func NewFunnelAnalyzer(changeDelta float64) *FunnelAnalyzer {
	if changeDelta <= 0 {
		changeDelta = 0.1
	}
	return &FunnelAnalyzer{ChangeDelta: changeDelta}
}

func (a *FunnelAnalyzer) Kind() Kind { return KindFunnelDropoff }

// Measure walks each user's events in timestamp order. A step is reached
// only when its earliest qualifying occurrence is strictly after the
// previously reached step's timestamp; out-of-order events never count.
func (a *FunnelAnalyzer) Measure(def *FunnelDef, events []event.Record, w event.Window) (*FunnelResult, error) {
	if len(def.Steps) < 2 {
		return nil, fmt.Errorf("funnel %s: at least 2 steps required", def.Name)
	}

	byUser := make(map[string][]*event.Record)
	for i := range events {
		rec := &events[i]
		if !w.Contains(rec.Timestamp) {
			continue
		}
		byUser[rec.UserID] = append(byUser[rec.UserID], rec)
	}

	reached := make([]int, len(def.Steps))
	for _, recs := range byUser {
		sort.Slice(recs, func(i, j int) bool { return recs[i].Timestamp.Before(recs[j].Timestamp) })
		idx := 0
		var prev *event.Record
		for _, rec := range recs {
			if idx >= len(def.Steps) {
				break
			}
			if !def.Steps[idx].matches(rec) {
				continue
			}
			if prev != nil && !rec.Timestamp.After(prev.Timestamp) {
				continue
			}
			reached[idx]++
			prev = rec
			idx++
		}
	}

	res := &FunnelResult{Funnel: def.Name, Window: w, Entered: reached[0], Completed: reached[len(reached)-1]}
	for i := 0; i+1 < len(def.Steps); i++ {
		rate := 0.0
		if reached[i] > 0 {
			rate = float64(reached[i+1]) / float64(reached[i])
		}
		res.Conversions = append(res.Conversions, StepConversion{
			FromStep:  def.Steps[i].Name,
			ToStep:    def.Steps[i+1].Name,
			FromCount: reached[i],
			ToCount:   reached[i+1],
			Rate:      rate,
		})
	}
	return res, nil
}

// Analyze measures the funnel and derives Findings. prior may be nil (first
// run for this funnel); rate-change findings are then skipped.
func (a *FunnelAnalyzer) Analyze(def *FunnelDef, events []event.Record, w event.Window, prior *FunnelResult) ([]Finding, *FunnelResult, error) {
	res, err := a.Measure(def, events, w)
	if err != nil {
		return nil, nil, err
	}
	if res.Entered == 0 {
		return nil, res, errs.NewInsufficientData("funnel:"+def.Name, 0, 1)
	}

	var findings []Finding

	// Primary drop-off: the step pair with the lowest conversion rate.
	primary := 0
	for i, c := range res.Conversions {
		if c.Rate < res.Conversions[primary].Rate {
			primary = i
		}
	}
	pc := res.Conversions[primary]
	dropRate := 1 - pc.Rate
	findings = append(findings, newFinding(
		KindFunnelDropoff,
		funnelMetric(def.Name),
		"",
		dropRate,
		dropRate,
		w,
		map[string]any{
			"funnel":     def.Name,
			"subtype":    "primary_dropoff",
			"from_step":  pc.FromStep,
			"to_step":    pc.ToStep,
			"from_count": pc.FromCount,
			"to_count":   pc.ToCount,
			"rate":       pc.Rate,
			"population": res.Entered,
		},
	))

	// Rate changes versus the prior window.
	if prior != nil && len(prior.Conversions) == len(res.Conversions) {
		for i, c := range res.Conversions {
			delta := c.Rate - prior.Conversions[i].Rate
			if delta < a.ChangeDelta && delta > -a.ChangeDelta {
				continue
			}
			direction := "improved"
			if delta < 0 {
				direction = "declined"
			}
			findings = append(findings, newFinding(
				KindFunnelDropoff,
				funnelMetric(def.Name),
				"",
				delta,
				clamp01(2*abs(delta)),
				w,
				map[string]any{
					"funnel":     def.Name,
					"subtype":    "rate_change",
					"direction":  direction,
					"from_step":  c.FromStep,
					"to_step":    c.ToStep,
					"rate":       c.Rate,
					"prior_rate": prior.Conversions[i].Rate,
					"population": res.Entered,
				},
			))
		}
	}
	return findings, res, nil
}

func funnelMetric(name string) string { return "funnel:" + name }

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
