package config

import (
	"github.com/meridianhq/meridian/internal/analyzer"
	"github.com/meridianhq/meridian/internal/insight"
	"github.com/meridianhq/meridian/internal/metric"
)

// Config is the top-level YAML structure.
type Config struct {
	Version   string               `yaml:"version"`
	Scheduler SchedulerConf        `yaml:"scheduler"`
	Analysis  AnalysisConf         `yaml:"analysis"`
	Insights  InsightsConf         `yaml:"insights"`
	Storage   StorageConf          `yaml:"storage"`
	Metrics   []metric.Definition  `yaml:"metrics"`
	Funnels   []analyzer.FunnelDef `yaml:"funnels"`
	Segments  []SegmentDef         `yaml:"segments"`
}

// SchedulerConf holds tunable execution settings.
type SchedulerConf struct {
	Workers          int `yaml:"workers"`
	MaxAttempts      int `yaml:"max_attempts"`
	TaskTimeoutMs    int `yaml:"task_timeout_ms"`
	InitialBackoffMs int `yaml:"initial_backoff_ms"`
}

// AnalysisConf holds the analyzer thresholds and windowing.
type AnalysisConf struct {
	// WindowDays is the current analysis window length.
	WindowDays int `yaml:"window_days"`
	// GranularityDays is the metric bucket width.
	GranularityDays int `yaml:"granularity_days"`
	// MinBuckets is the populated-bucket floor before a metric is usable.
	MinBuckets int `yaml:"min_buckets"`

	TrendThreshold float64 `yaml:"trend_threshold"`
	TrendMinPoints int     `yaml:"trend_min_points"`

	AnomalyWindow       int     `yaml:"anomaly_window"`
	AnomalyStdThreshold float64 `yaml:"anomaly_std_threshold"`
	AnomalyMinHistory   int     `yaml:"anomaly_min_history"`

	FunnelChangeDelta   float64 `yaml:"funnel_change_delta"`
	CohortDivergence    float64 `yaml:"cohort_divergence"`
}

// InsightsConf holds validation, ranking, and generation settings.
type InsightsConf struct {
	MinEvidence     int                     `yaml:"min_evidence"`
	ConfidenceFloor float64                 `yaml:"confidence_floor"`
	TopK            int                     `yaml:"top_k"`
	EnrichLookback  int                     `yaml:"enrich_lookback"`
	CategoryWeights map[string]float64      `yaml:"category_weights"`
	Generators      insight.GeneratorConfig `yaml:"generators"`
}

// CategoryWeightMap converts the YAML string keys to insight categories.
func (c *InsightsConf) CategoryWeightMap() map[insight.Category]float64 {
	if len(c.CategoryWeights) == 0 {
		return nil
	}
	out := make(map[insight.Category]float64, len(c.CategoryWeights))
	for k, v := range c.CategoryWeights {
		out[insight.Category(k)] = v
	}
	return out
}

// StorageConf selects and configures the backing store.
type StorageConf struct {
	// Driver is "sqlite" or "memory".
	Driver string `yaml:"driver"`
	// Path is the SQLite database file.
	Path string `yaml:"path"`
}

// SegmentDef scopes metrics to a user segment via a filter expression.
type SegmentDef struct {
	Key    string `yaml:"key"`
	Filter string `yaml:"filter"`
}
