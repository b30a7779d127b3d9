package config

import (
	"github.com/meridianhq/meridian/internal/analyzer"
	"github.com/meridianhq/meridian/internal/metric"
)

// DefaultMetrics is the built-in metric catalog used when the config file
// defines none. Weights reflect relative business importance and feed
// tie-breaking between equally significant findings.
func DefaultMetrics() []metric.Definition {
	return []metric.Definition{
		{Name: "daily_active_users", Aggregation: metric.AggUniqueUsers, Weight: 1.0},
		{Name: "sign_ups", Event: "Sign Up", Aggregation: metric.AggCount, Weight: 0.9},
		{Name: "productions_started", Event: "Production Started", Aggregation: metric.AggCount, Weight: 0.8},
		{Name: "productions_completed", Event: "Production Completed", Aggregation: metric.AggCount, Weight: 1.0},
		{Name: "feature_usage", Event: "Feature Used", Aggregation: metric.AggCount, Weight: 0.6},
		{Name: "feedback_submitted", Event: "Feedback Submitted", Aggregation: metric.AggCount, Weight: 0.4},
	}
}

// DefaultFunnels is the built-in funnel catalog.
func DefaultFunnels() []analyzer.FunnelDef {
	return []analyzer.FunnelDef{
		{
			Name: "production",
			Steps: []analyzer.FunnelStep{
				{Name: "started", Event: "Production Started"},
				{Name: "sketch_uploaded", Event: "Sketch Uploaded"},
				{Name: "completed", Event: "Production Completed"},
			},
		},
		{
			Name: "onboarding",
			Steps: []analyzer.FunnelStep{
				{Name: "signed_up", Event: "Sign Up"},
				{Name: "profile_completed", Event: "Profile Completed"},
				{Name: "first_production", Event: "Production Started"},
				{Name: "first_completion", Event: "Production Completed"},
			},
		},
		{
			Name: "lyrics",
			Steps: []analyzer.FunnelStep{
				{Name: "started", Event: "Lyrics Composition Started"},
				{Name: "prompt_selected", Event: "Prompt Selected"},
				{Name: "completed", Event: "Lyrics Completed"},
			},
		},
	}
}
