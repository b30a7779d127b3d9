package insight

import (
	"fmt"

	"github.com/meridianhq/meridian/internal/analyzer"
)

// Generator derives draft insights of one category from a finding batch.
// Generators are pure: the same findings always yield the same insights
// (modulo generated IDs and timestamps).
type Generator interface {
	Category() Category
	Generate(findings []analyzer.Finding) []*Insight
}

// GeneratorConfig carries the classification thresholds shared across the
// default generator set.
type GeneratorConfig struct {
	// OpportunitySignificance gates upward trends (0..1).
	OpportunitySignificance float64 `yaml:"opportunity_significance"`
	// RiskDropoffRate is the funnel drop rate above which the drop-off is a risk.
	RiskDropoffRate float64 `yaml:"risk_dropoff_rate"`
	// SuccessSignificance gates sustained positive movement (0..1).
	SuccessSignificance float64 `yaml:"success_significance"`
	// SuccessMetrics names the adoption and retention metrics whose upward
	// trends read as wins rather than growth opportunities.
	SuccessMetrics []string `yaml:"success_metrics"`
}

func (c *GeneratorConfig) withDefaults() GeneratorConfig {
	out := GeneratorConfig{}
	if c != nil {
		out = *c
	}
	if out.OpportunitySignificance <= 0 {
		out.OpportunitySignificance = 0.9
	}
	if out.RiskDropoffRate <= 0 {
		out.RiskDropoffRate = 0.5
	}
	if out.SuccessSignificance <= 0 {
		out.SuccessSignificance = 0.9
	}
	return out
}

// DefaultGenerators returns the standard set: opportunity, risk, success,
// anomaly. Order matters only for output determinism, not precedence; a
// finding may support insights in more than one category.
func DefaultGenerators(cfg GeneratorConfig) []Generator {
	cfg = (&cfg).withDefaults()
	success := make(map[string]bool, len(cfg.SuccessMetrics))
	for _, m := range cfg.SuccessMetrics {
		success[m] = true
	}
	return []Generator{
		&OpportunityGenerator{MinSignificance: cfg.OpportunitySignificance, successMetrics: success},
		&RiskGenerator{DropoffRate: cfg.RiskDropoffRate},
		&SuccessGenerator{MinSignificance: cfg.SuccessSignificance, successMetrics: success},
		&AnomalyGenerator{},
	}
}

// Generate runs every generator over the findings and returns all drafts.
func Generate(gens []Generator, findings []analyzer.Finding) []*Insight {
	var out []*Insight
	for _, g := range gens {
		out = append(out, g.Generate(findings)...)
	}
	return out
}

// OpportunityGenerator flags significant upward trends on growth metrics and
// cohort gaps where lifting the lagging segment would unlock value.
type OpportunityGenerator struct {
	MinSignificance float64

	successMetrics map[string]bool
}

func (g *OpportunityGenerator) Category() Category { return CategoryOpportunity }

func (g *OpportunityGenerator) Generate(findings []analyzer.Finding) []*Insight {
	var out []*Insight
	for _, f := range findings {
		switch f.Kind {
		case analyzer.KindTrend:
			if f.Evidence["direction"] != "up" || f.Significance < g.MinSignificance {
				continue
			}
			if g.successMetrics[f.Metric] {
				continue // reads as a win, handled by the success generator
			}
			title := fmt.Sprintf("%s is accelerating", f.Metric)
			summary := fmt.Sprintf("%s rose %s versus its baseline; the momentum is worth doubling down on.",
				f.Metric, pctPhrase(f))
			out = append(out, newDraft(CategoryOpportunity, title, summary, f))
		case analyzer.KindCohortDivergence:
			leader, _ := f.Evidence["leading_segment"].(string)
			title := fmt.Sprintf("%s segment outperforms on %s", leader, f.Metric)
			summary := fmt.Sprintf("Segment %q leads %q on %s by %.0f%%; closing the gap is untapped upside.",
				leader, f.SegmentKey, f.Metric, evidenceFloat(f, "relative_gap")*100)
			out = append(out, newDraft(CategoryOpportunity, title, summary, f))
		}
	}
	return out
}

// RiskGenerator flags funnel drop-offs above the configured rate, declining
// funnel conversions, and significant downward trends.
type RiskGenerator struct {
	DropoffRate float64
}

func (g *RiskGenerator) Category() Category { return CategoryRisk }

func (g *RiskGenerator) Generate(findings []analyzer.Finding) []*Insight {
	var out []*Insight
	for _, f := range findings {
		switch f.Kind {
		case analyzer.KindFunnelDropoff:
			switch f.Evidence["subtype"] {
			case "primary_dropoff":
				if f.Magnitude < g.DropoffRate {
					continue
				}
				funnel, _ := f.Evidence["funnel"].(string)
				title := fmt.Sprintf("Heavy drop-off in %s funnel", funnel)
				summary := fmt.Sprintf("%.0f%% of users abandon between %v and %v.",
					f.Magnitude*100, f.Evidence["from_step"], f.Evidence["to_step"])
				out = append(out, newDraft(CategoryRisk, title, summary, f))
			case "rate_change":
				if f.Evidence["direction"] != "declined" {
					continue
				}
				funnel, _ := f.Evidence["funnel"].(string)
				title := fmt.Sprintf("%s funnel conversion is slipping", funnel)
				summary := fmt.Sprintf("Conversion from %v to %v fell from %.0f%% to %.0f%% versus the prior window.",
					f.Evidence["from_step"], f.Evidence["to_step"],
					evidenceFloat(f, "prior_rate")*100, evidenceFloat(f, "rate")*100)
				out = append(out, newDraft(CategoryRisk, title, summary, f))
			}
		case analyzer.KindTrend:
			if f.Evidence["direction"] != "down" {
				continue
			}
			title := fmt.Sprintf("%s is declining", f.Metric)
			summary := fmt.Sprintf("%s fell %s versus its baseline and needs attention before the slide compounds.",
				f.Metric, pctPhrase(f))
			out = append(out, newDraft(CategoryRisk, title, summary, f))
		}
	}
	return out
}

// SuccessGenerator celebrates sustained positive movement on adoption and
// retention metrics, plus funnel conversions that improved.
type SuccessGenerator struct {
	MinSignificance float64

	successMetrics map[string]bool
}

func (g *SuccessGenerator) Category() Category { return CategorySuccess }

func (g *SuccessGenerator) Generate(findings []analyzer.Finding) []*Insight {
	var out []*Insight
	for _, f := range findings {
		switch f.Kind {
		case analyzer.KindTrend:
			if f.Evidence["direction"] != "up" || f.Significance < g.MinSignificance {
				continue
			}
			if !g.successMetrics[f.Metric] {
				continue
			}
			title := fmt.Sprintf("%s keeps climbing", f.Metric)
			summary := fmt.Sprintf("%s is up %s versus its baseline; whatever changed recently is working.",
				f.Metric, pctPhrase(f))
			out = append(out, newDraft(CategorySuccess, title, summary, f))
		case analyzer.KindFunnelDropoff:
			if f.Evidence["subtype"] != "rate_change" || f.Evidence["direction"] != "improved" {
				continue
			}
			funnel, _ := f.Evidence["funnel"].(string)
			title := fmt.Sprintf("%s funnel conversion improved", funnel)
			summary := fmt.Sprintf("Conversion from %v to %v rose from %.0f%% to %.0f%% versus the prior window.",
				f.Evidence["from_step"], f.Evidence["to_step"],
				evidenceFloat(f, "prior_rate")*100, evidenceFloat(f, "rate")*100)
			out = append(out, newDraft(CategorySuccess, title, summary, f))
		}
	}
	return out
}

// AnomalyGenerator surfaces deviations the other categories do not explain.
// Every anomaly finding yields an insight; triage happens downstream.
type AnomalyGenerator struct{}

func (g *AnomalyGenerator) Category() Category { return CategoryAnomaly }

func (g *AnomalyGenerator) Generate(findings []analyzer.Finding) []*Insight {
	var out []*Insight
	for _, f := range findings {
		if f.Kind != analyzer.KindAnomaly {
			continue
		}
		dir, _ := f.Evidence["direction"].(string)
		title := fmt.Sprintf("Unusual %s in %s", dir, f.Metric)
		summary := fmt.Sprintf("%s hit %.1f against an expected %.1f over %d consecutive buckets.",
			f.Metric, evidenceFloat(f, "peak_value"), evidenceFloat(f, "expected_value"),
			evidenceInt(f, "run_length"))
		out = append(out, newDraft(CategoryAnomaly, title, summary, f))
	}
	return out
}

func pctPhrase(f analyzer.Finding) string {
	if pct, ok := f.Evidence["pct_change"].(float64); ok {
		return fmt.Sprintf("%.1f%%", absf(pct))
	}
	return fmt.Sprintf("%.2f in absolute terms", absf(f.Magnitude))
}

func evidenceFloat(f analyzer.Finding, key string) float64 {
	v, _ := f.Evidence[key].(float64)
	return v
}

func evidenceInt(f analyzer.Finding, key string) int {
	v, _ := f.Evidence[key].(int)
	return v
}
