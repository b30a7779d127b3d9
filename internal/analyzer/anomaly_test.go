package analyzer_test

import (
	"errors"
	"testing"

	"github.com/meridianhq/meridian/internal/analyzer"
	"github.com/meridianhq/meridian/internal/errs"
)

func TestAnomalySingleSpikeSuppressed(t *testing.T) {
	d := analyzer.NewAnomalyDetector(7, 3.0, 0)
	baseline := series(t, "dau", 1, 100, 101, 99, 100, 102, 98, 100)
	cur := series(t, "dau", 8, 100, 500, 101, 99, 100, 100, 101)

	findings, err := d.Analyze(cur, baseline)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(findings) != 0 {
		t.Fatalf("single-bucket spike should be suppressed, got %d findings", len(findings))
	}
}

func TestAnomalyConsecutiveRunYieldsOneFinding(t *testing.T) {
	d := analyzer.NewAnomalyDetector(7, 3.0, 0)
	baseline := series(t, "dau", 1, 100, 101, 99, 100, 102, 98, 100)
	cur := series(t, "dau", 8, 100, 400, 500, 450, 100, 101, 99)

	findings, err := d.Analyze(cur, baseline)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("one run should yield exactly one finding, got %d", len(findings))
	}
	f := findings[0]
	if f.Kind != analyzer.KindAnomaly {
		t.Errorf("kind = %s", f.Kind)
	}
	if f.Evidence["direction"] != "spike" {
		t.Errorf("direction = %v, want spike", f.Evidence["direction"])
	}
	if got := f.Evidence["run_length"].(int); got < 2 {
		t.Errorf("run_length = %d, want >= 2", got)
	}
	if f.Magnitude <= 0 {
		t.Errorf("magnitude = %v, want positive for a spike", f.Magnitude)
	}
}

func TestAnomalyDropDirection(t *testing.T) {
	// A lower threshold because the first drop widens the rolling deviation
	// that the second drop is scored against.
	d := analyzer.NewAnomalyDetector(7, 2.0, 0)
	baseline := series(t, "dau", 1, 100, 101, 99, 100, 102, 98, 100)
	cur := series(t, "dau", 8, 100, 5, 3, 100, 101, 99, 100)

	findings, err := d.Analyze(cur, baseline)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("findings = %d, want 1", len(findings))
	}
	if findings[0].Evidence["direction"] != "drop" {
		t.Errorf("direction = %v, want drop", findings[0].Evidence["direction"])
	}
	if findings[0].Magnitude >= 0 {
		t.Errorf("magnitude = %v, want negative for a drop", findings[0].Magnitude)
	}
}

func TestAnomalyInsufficientHistory(t *testing.T) {
	d := analyzer.NewAnomalyDetector(7, 3.0, 0)
	cur := series(t, "dau", 8, 100, 101)

	var insufficient *errs.InsufficientDataError
	if _, err := d.Analyze(cur, nil); !errors.As(err, &insufficient) {
		t.Errorf("err = %v, want InsufficientDataError", err)
	}
}
