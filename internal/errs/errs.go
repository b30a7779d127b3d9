// Package errs defines the error taxonomy shared across the analysis
// pipeline. Callers discriminate with errors.As; nothing here carries
// transport detail beyond the wrapped cause.
package errs

import "fmt"

// InsufficientDataError reports that a metric had too few populated buckets
// to analyze. Recoverable: the metric is skipped for the run.
type InsufficientDataError struct {
	Metric  string
	Buckets int
	Min     int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for metric %q: %d of %d required buckets populated", e.Metric, e.Buckets, e.Min)
}

// NewInsufficientData builds an InsufficientDataError for a metric.
func NewInsufficientData(metric string, buckets, min int) *InsufficientDataError {
	return &InsufficientDataError{Metric: metric, Buckets: buckets, Min: min}
}

// DataUnavailableError reports that a backing store was empty or unreachable.
// Recoverable at task level via retry; escalates to task failure once the
// retry budget is exhausted.
type DataUnavailableError struct {
	Op    string
	Cause error
}

func (e *DataUnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("data unavailable during %s: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("data unavailable during %s", e.Op)
}

func (e *DataUnavailableError) Unwrap() error { return e.Cause }

// NewDataUnavailable wraps a store failure with the operation that hit it.
func NewDataUnavailable(op string, cause error) *DataUnavailableError {
	return &DataUnavailableError{Op: op, Cause: cause}
}

// ValidationError reports that an insight failed validation. This is an
// expected filtering outcome, not a system error.
type ValidationError struct {
	InsightID string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("insight %s rejected: %s", e.InsightID, e.Reason)
}

// NewValidation builds a ValidationError for an insight.
func NewValidation(insightID, reason string) *ValidationError {
	return &ValidationError{InsightID: insightID, Reason: reason}
}

// SchedulingError reports a cyclic or unsatisfiable task dependency
// declaration. Fatal at graph construction; must never reach a live run.
type SchedulingError struct {
	Reason string
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("scheduling: %s", e.Reason)
}

// NewScheduling builds a SchedulingError.
func NewScheduling(format string, args ...any) *SchedulingError {
	return &SchedulingError{Reason: fmt.Sprintf(format, args...)}
}
