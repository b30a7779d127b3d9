package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/meridianhq/meridian/internal/config"
	"github.com/meridianhq/meridian/internal/metric"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
version: "1"
metrics:
  - name: dau
    aggregation: unique_users
    weight: 1.0
funnels:
  - name: onboarding
    steps:
      - name: signed_up
        event: Sign Up
      - name: completed
        event: Profile Completed
`

func TestLoadAppliesDefaults(t *testing.T) {
	loader, err := config.NewLoader(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg := loader.Config()

	if cfg.Scheduler.Workers != 4 {
		t.Errorf("workers = %d, want default 4", cfg.Scheduler.Workers)
	}
	if cfg.Scheduler.MaxAttempts != 3 {
		t.Errorf("max attempts = %d, want default 3", cfg.Scheduler.MaxAttempts)
	}
	if cfg.Analysis.TrendThreshold != 2.0 {
		t.Errorf("trend threshold = %v, want default 2.0", cfg.Analysis.TrendThreshold)
	}
	if cfg.Insights.TopK != 10 {
		t.Errorf("top_k = %d, want default 10", cfg.Insights.TopK)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("driver = %s, want default sqlite", cfg.Storage.Driver)
	}
	if err := config.Validate(cfg); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestLoadEmptyCatalogFallsBack(t *testing.T) {
	loader, err := config.NewLoader(writeConfig(t, `version: "1"`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg := loader.Config()
	if len(cfg.Metrics) == 0 {
		t.Error("expected built-in metric catalog")
	}
	if len(cfg.Funnels) == 0 {
		t.Error("expected built-in funnel catalog")
	}
	if err := config.Validate(cfg); err != nil {
		t.Errorf("built-in catalog must validate: %v", err)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := &config.Config{
		Version: "1",
		Storage: config.StorageConf{Driver: "sqlite"},
		Metrics: []metric.Definition{
			{Name: "dup", Aggregation: metric.AggCount},
			{Name: "dup", Aggregation: metric.AggCount},
			{Name: "bad_agg", Aggregation: "median"},
			{Name: "no_prop", Aggregation: metric.AggSum},
			{Name: "bad_filter", Aggregation: metric.AggCount, Filter: "properties.x >"},
		},
	}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	msg := err.Error()
	for _, want := range []string{
		`duplicate metric "dup"`,
		`unknown aggregation "median"`,
		"requires a property",
		"bad_filter",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message missing %q:\n%s", want, msg)
		}
	}
}

func TestValidateRequiresVersion(t *testing.T) {
	if err := config.Validate(&config.Config{}); err == nil {
		t.Fatal("expected error for missing version")
	}
}

func TestValidateSegmentFilters(t *testing.T) {
	cfg := &config.Config{
		Version: "1",
		Storage: config.StorageConf{Driver: "memory"},
		Segments: []config.SegmentDef{
			{Key: "premium", Filter: `properties.tier == "premium"`},
			{Key: "broken", Filter: `properties.tier ==`},
			{Key: "empty"},
		},
	}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	msg := err.Error()
	if !strings.Contains(msg, "broken") {
		t.Errorf("missing broken segment error:\n%s", msg)
	}
	if !strings.Contains(msg, "segment empty: filter is required") {
		t.Errorf("missing empty segment error:\n%s", msg)
	}
}

func TestReload(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	loader, err := config.NewLoader(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	updated := strings.Replace(minimalConfig, "weight: 1.0", "weight: 0.5", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	var notified *config.Config
	loader.OnChange(func(c *config.Config) { notified = c })
	cfg, err := loader.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Metrics[0].Weight != 0.5 {
		t.Errorf("weight = %v, want reloaded 0.5", cfg.Metrics[0].Weight)
	}
	if notified == nil || notified.Metrics[0].Weight != 0.5 {
		t.Error("OnChange callback not invoked with new config")
	}
}
