package insight

import (
	"errors"

	"github.com/meridianhq/meridian/internal/errs"
)

// Validator gates drafts on evidence count and confidence. Rejected insights
// are kept (status rejected, reason in context) so reports can show what was
// filtered and why; rejection is expected filtering, never a pipeline error.
type Validator struct {
	// MinEvidence is the minimum number of supporting findings.
	MinEvidence int
	// ConfidenceFloor is the minimum confidence (0..1).
	ConfidenceFloor float64
}

// NewValidator builds a validator with defaults filled in.
func NewValidator(minEvidence int, confidenceFloor float64) *Validator {
	if minEvidence <= 0 {
		minEvidence = 1
	}
	if confidenceFloor <= 0 {
		confidenceFloor = 0.3
	}
	return &Validator{MinEvidence: minEvidence, ConfidenceFloor: confidenceFloor}
}

// Process partitions drafts into validated and rejected, stamping the status
// on each. Input order is preserved within both partitions.
func (v *Validator) Process(drafts []*Insight) (validated, rejected []*Insight) {
	for _, ins := range drafts {
		if err := v.check(ins); err != nil {
			ins.Status = StatusRejected
			var verr *errs.ValidationError
			if errors.As(err, &verr) {
				ins.setContext("rejection_reason", verr.Reason)
			}
			rejected = append(rejected, ins)
			continue
		}
		ins.Status = StatusValidated
		validated = append(validated, ins)
	}
	return validated, rejected
}

func (v *Validator) check(ins *Insight) error {
	if len(ins.FindingIDs) < v.MinEvidence {
		return errs.NewValidation(ins.ID, "insufficient supporting evidence")
	}
	if ins.Confidence < v.ConfidenceFloor {
		return errs.NewValidation(ins.ID, "confidence below floor")
	}
	if ins.Metric == "" {
		return errs.NewValidation(ins.ID, "missing metric reference")
	}
	if ins.Window.Start.IsZero() || !ins.Window.End.After(ins.Window.Start) {
		return errs.NewValidation(ins.ID, "empty observation window")
	}
	return nil
}
