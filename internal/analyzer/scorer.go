package analyzer

import "math"

// Scorer turns an observed delta and its baseline values into a z-like
// significance score. It is an interface so the statistical test can be
// swapped without touching the detectors.
type Scorer interface {
	Score(delta float64, baseline []float64) float64
}

// ZScorer scores a delta against the baseline's sample standard deviation.
// A zero-variance baseline makes any nonzero delta infinitely significant,
// which callers must treat as a guaranteed finding.
type ZScorer struct{}

func (ZScorer) Score(delta float64, baseline []float64) float64 {
	sd := stdDev(baseline)
	if sd == 0 {
		if delta == 0 {
			return 0
		}
		return math.Inf(int(math.Copysign(1, delta)))
	}
	return delta / sd
}
