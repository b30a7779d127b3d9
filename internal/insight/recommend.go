package insight

import (
	"fmt"

	"github.com/meridianhq/meridian/internal/analyzer"
)

// RecCategory groups recommended actions by the team that would own them.
type RecCategory string

const (
	RecMarketing RecCategory = "marketing"
	RecProduct   RecCategory = "product"
	RecRetention RecCategory = "retention"
	RecContent   RecCategory = "content"
)

// Recommendation is a concrete suggested action tied to one insight.
type Recommendation struct {
	InsightID    string      `json:"insight_id"`
	Action       string      `json:"action"`
	Category     RecCategory `json:"category"`
	PriorityRank int         `json:"priority_rank"`
}

// Recommender maps insight category plus dominant evidence kind to actions
// via a fixed decision table. Deterministic: the same insight always yields
// the same recommendations.
type Recommender struct{}

// NewRecommender builds a recommender.
func NewRecommender() *Recommender { return &Recommender{} }

type recTemplate struct {
	action   string // fmt template, metric name substituted
	category RecCategory
}

// decision table keyed by insight category then dominant finding kind.
var recTable = map[Category]map[analyzer.Kind][]recTemplate{
	CategoryOpportunity: {
		analyzer.KindTrend: {
			{"Increase marketing spend on channels driving %s while momentum holds", RecMarketing},
			{"Ship a follow-up feature that compounds the %s gain", RecProduct},
		},
		analyzer.KindCohortDivergence: {
			{"Study what the leading segment does differently on %s and replicate it", RecProduct},
			{"Target the lagging segment with onboarding content focused on %s", RecContent},
		},
	},
	CategoryRisk: {
		analyzer.KindTrend: {
			{"Run a root-cause review of the %s decline before the next cycle", RecProduct},
			{"Launch a win-back campaign for users driving the %s drop", RecRetention},
		},
		analyzer.KindFunnelDropoff: {
			{"Simplify the step where %s loses the most users", RecProduct},
			{"Add an in-flow nudge at the %s drop-off point", RecRetention},
		},
	},
	CategorySuccess: {
		analyzer.KindTrend: {
			{"Document what changed before the %s lift and protect it", RecProduct},
			{"Amplify the %s win in lifecycle messaging", RecMarketing},
		},
		analyzer.KindFunnelDropoff: {
			{"Lock in the %s conversion gain with a regression guardrail", RecProduct},
		},
	},
	CategoryAnomaly: {
		analyzer.KindAnomaly: {
			{"Verify instrumentation behind %s before acting on the deviation", RecProduct},
			{"Correlate the %s deviation with releases and campaigns in the window", RecMarketing},
		},
	},
}

// Recommend derives actions for one insight. rank is the insight's position
// in the delivered list (1-based) and becomes the recommendations' priority.
func (r *Recommender) Recommend(ins *Insight, findings FindingSet, rank int) []Recommendation {
	kind := dominantKind(ins, findings)
	templates := recTable[ins.Category][kind]
	if len(templates) == 0 {
		return nil
	}
	out := make([]Recommendation, 0, len(templates))
	for _, t := range templates {
		out = append(out, Recommendation{
			InsightID:    ins.ID,
			Action:       fmt.Sprintf(t.action, ins.Metric),
			Category:     t.category,
			PriorityRank: rank,
		})
	}
	return out
}

// RecommendAll walks a delivered batch in order.
func (r *Recommender) RecommendAll(batch []*Insight, findings FindingSet) []Recommendation {
	var out []Recommendation
	for i, ins := range batch {
		out = append(out, r.Recommend(ins, findings, i+1)...)
	}
	return out
}

// dominantKind is the most frequent kind among supporting findings; ties
// break by a fixed severity order so the result never depends on map order.
func dominantKind(ins *Insight, findings FindingSet) analyzer.Kind {
	counts := make(map[analyzer.Kind]int)
	for _, id := range ins.FindingIDs {
		if f, ok := findings[id]; ok {
			counts[f.Kind]++
		}
	}
	if len(counts) == 0 {
		// Findings not in the set (e.g. loaded from a digest); fall back to
		// the kind each category most commonly rests on.
		if ins.Category == CategoryAnomaly {
			return analyzer.KindAnomaly
		}
		return analyzer.KindTrend
	}
	order := []analyzer.Kind{
		analyzer.KindFunnelDropoff,
		analyzer.KindTrend,
		analyzer.KindAnomaly,
		analyzer.KindCohortDivergence,
	}
	best := order[0]
	bestN := 0
	for _, k := range order {
		if counts[k] > bestN {
			best = k
			bestN = counts[k]
		}
	}
	return best
}
