package insight

import (
	"math"
	"sort"
)

// DefaultCategoryWeights mirrors how stakeholders triage: risks first, then
// opportunities, anomalies, wins.
var DefaultCategoryWeights = map[Category]float64{
	CategoryRisk:        1.0,
	CategoryOpportunity: 0.9,
	CategoryAnomaly:     0.7,
	CategorySuccess:     0.5,
}

// Prioritizer assigns an impact score to every validated insight and orders
// the batch by it. The ordering is a strict total order: score descending,
// then earlier window start, then ID.
type Prioritizer struct {
	// Weights maps category to its business weight; missing categories get 0.5.
	Weights map[Category]float64
	// TopK bounds how many insights are delivered per run.
	TopK int
}

// NewPrioritizer builds a prioritizer with defaults filled in.
func NewPrioritizer(weights map[Category]float64, topK int) *Prioritizer {
	if len(weights) == 0 {
		weights = DefaultCategoryWeights
	}
	if topK <= 0 {
		topK = 10
	}
	return &Prioritizer{Weights: weights, TopK: topK}
}

// Process scores and orders the batch in place, returning the delivered
// slice (at most TopK). The full batch stays ordered for reporting.
func (p *Prioritizer) Process(batch []*Insight) []*Insight {
	for _, ins := range batch {
		ins.ImpactScore = p.score(ins)
	}
	sort.SliceStable(batch, func(i, j int) bool {
		a, b := batch[i], batch[j]
		if a.ImpactScore != b.ImpactScore {
			return a.ImpactScore > b.ImpactScore
		}
		if !a.Window.Start.Equal(b.Window.Start) {
			return a.Window.Start.Before(b.Window.Start)
		}
		return a.ID < b.ID
	})
	if len(batch) <= p.TopK {
		return batch
	}
	return batch[:p.TopK]
}

// score combines category weight, confidence, magnitude, and affected
// population. Magnitude is squashed to (0,1) so unbounded deltas cannot
// dominate; population scales logarithmically and stays neutral when unknown.
func (p *Prioritizer) score(ins *Insight) float64 {
	weight, ok := p.Weights[ins.Category]
	if !ok {
		weight = 0.5
	}
	mag := ins.Magnitude / (1 + ins.Magnitude)
	pop := 0.5
	if ins.Population > 0 {
		pop = math.Min(1, math.Log10(1+float64(ins.Population))/4)
	}
	return weight * ins.Confidence * mag * pop
}
