package filter_test

import (
	"testing"
	"time"

	"github.com/meridianhq/meridian/internal/event"
	"github.com/meridianhq/meridian/internal/filter"
)

func makeRecord(name, userID string, props map[string]any) *event.Record {
	return &event.Record{
		Name:       name,
		UserID:     userID,
		Timestamp:  time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Properties: props,
	}
}

func mustMatch(t *testing.T, src string, rec *event.Record) bool {
	t.Helper()
	expr, err := filter.Parse(src)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	ok, err := filter.Match(expr, rec)
	if err != nil {
		t.Fatalf("match %q: %v", src, err)
	}
	return ok
}

func TestComparisons(t *testing.T) {
	rec := makeRecord("Purchase", "u1", map[string]any{
		"amount": 42.5,
		"tier":   "premium",
		"count":  int(3),
	})

	cases := []struct {
		src  string
		want bool
	}{
		{`properties.amount > 40`, true},
		{`properties.amount >= 42.5`, true},
		{`properties.amount < 42.5`, false},
		{`properties.amount == 42.5`, true},
		{`properties.amount != 42.5`, false},
		{`properties.tier == "premium"`, true},
		{`properties.tier != "free"`, true},
		{`event == "Purchase"`, true},
		{`user_id == "u1"`, true},
		{`properties.count >= 3`, true},
	}
	for _, c := range cases {
		if got := mustMatch(t, c.src, rec); got != c.want {
			t.Errorf("%q = %v, want %v", c.src, got, c.want)
		}
	}
}

func TestBooleanPrecedence(t *testing.T) {
	rec := makeRecord("Purchase", "u1", map[string]any{"amount": 50.0, "tier": "free"})

	// AND binds tighter than OR.
	if !mustMatch(t, `properties.tier == "premium" and properties.amount > 100 or properties.amount > 40`, rec) {
		t.Error("expected OR branch to match")
	}
	if mustMatch(t, `(properties.tier == "premium" or properties.amount > 100) and properties.amount > 40`, rec) {
		t.Error("parenthesized OR should fail for free tier with amount 50")
	}
	if !mustMatch(t, `not properties.tier == "premium"`, rec) {
		t.Error("NOT should invert the comparison")
	}
}

func TestStringOperators(t *testing.T) {
	rec := makeRecord("Feature Used", "u1", map[string]any{"feature": "lyrics_editor_v2"})

	if !mustMatch(t, `properties.feature contains "lyrics"`, rec) {
		t.Error("contains should match substring")
	}
	if !mustMatch(t, `properties.feature matches "^lyrics_.*_v[0-9]+$"`, rec) {
		t.Error("matches should apply the regex")
	}
	if mustMatch(t, `properties.feature matches "^editor"`, rec) {
		t.Error("anchored regex should not match mid-string")
	}
}

func TestUnresolvableFieldIsFalse(t *testing.T) {
	rec := makeRecord("Login", "u1", nil)
	if mustMatch(t, `properties.missing == 1`, rec) {
		t.Error("missing property should evaluate to false, not error")
	}
	if !mustMatch(t, `properties.missing == 1 or event == "Login"`, rec) {
		t.Error("other branch should still match")
	}
}

func TestParseErrors(t *testing.T) {
	bad := []string{
		``,
		`properties.amount >`,
		`and properties.amount > 1`,
		`properties.amount > 1 or`,
		`(properties.amount > 1`,
		`properties.amount ?? 1`,
	}
	for _, src := range bad {
		if _, err := filter.Parse(src); err == nil {
			t.Errorf("expected parse error for %q", src)
		}
	}
}
