package config

import (
	"fmt"
	"strings"

	"github.com/meridianhq/meridian/internal/filter"
	"github.com/meridianhq/meridian/internal/metric"
)

// Validate checks the config for:
//   - Duplicate metric, funnel, and segment names
//   - Parseable filter expressions on metrics, funnel steps, and segments
//   - Valid aggregations and required fields
//
// All problems are collected and reported together.
func Validate(cfg *Config) error {
	if cfg.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	var errs []string

	names := make(map[string]bool)
	for i, m := range cfg.Metrics {
		if m.Name == "" {
			errs = append(errs, fmt.Sprintf("metrics[%d]: name is required", i))
			continue
		}
		if names[m.Name] {
			errs = append(errs, fmt.Sprintf("duplicate metric %q", m.Name))
		}
		names[m.Name] = true
		switch m.Aggregation {
		case metric.AggCount, metric.AggUniqueUsers:
		case metric.AggSum, metric.AggAverage:
			if m.Property == "" {
				errs = append(errs, fmt.Sprintf("metric %s: aggregation %s requires a property", m.Name, m.Aggregation))
			}
		default:
			errs = append(errs, fmt.Sprintf("metric %s: unknown aggregation %q", m.Name, m.Aggregation))
		}
		if m.Filter != "" {
			if _, err := filter.Parse(m.Filter); err != nil {
				errs = append(errs, fmt.Sprintf("metric %s: %v", m.Name, err))
			}
		}
	}

	funnels := make(map[string]bool)
	for i, f := range cfg.Funnels {
		if f.Name == "" {
			errs = append(errs, fmt.Sprintf("funnels[%d]: name is required", i))
			continue
		}
		if funnels[f.Name] {
			errs = append(errs, fmt.Sprintf("duplicate funnel %q", f.Name))
		}
		funnels[f.Name] = true
		if len(f.Steps) < 2 {
			errs = append(errs, fmt.Sprintf("funnel %s: at least 2 steps required", f.Name))
		}
		for _, st := range f.Steps {
			if st.Event == "" {
				errs = append(errs, fmt.Sprintf("funnel %s step %s: event is required", f.Name, st.Name))
			}
			if st.Filter != "" {
				if _, err := filter.Parse(st.Filter); err != nil {
					errs = append(errs, fmt.Sprintf("funnel %s step %s: %v", f.Name, st.Name, err))
				}
			}
		}
	}

	segments := make(map[string]bool)
	for i, s := range cfg.Segments {
		if s.Key == "" {
			errs = append(errs, fmt.Sprintf("segments[%d]: key is required", i))
			continue
		}
		if segments[s.Key] {
			errs = append(errs, fmt.Sprintf("duplicate segment %q", s.Key))
		}
		segments[s.Key] = true
		if s.Filter == "" {
			errs = append(errs, fmt.Sprintf("segment %s: filter is required", s.Key))
		} else if _, err := filter.Parse(s.Filter); err != nil {
			errs = append(errs, fmt.Sprintf("segment %s: %v", s.Key, err))
		}
	}

	switch cfg.Storage.Driver {
	case "sqlite", "memory":
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q", cfg.Storage.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
