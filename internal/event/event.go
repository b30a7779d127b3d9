package event

import "time"

// Record is the canonical behavioral event fed into the pipeline.
// Records are immutable once ingested.
type Record struct {
	Name       string         `json:"name"`
	UserID     string         `json:"user_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Prop returns a property value by key (nil if absent).
func (r *Record) Prop(key string) any {
	if r.Properties == nil {
		return nil
	}
	return r.Properties[key]
}
