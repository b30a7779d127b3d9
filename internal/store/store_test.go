package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/analyzer"
	"github.com/meridianhq/meridian/internal/event"
	"github.com/meridianhq/meridian/internal/metric"
	"github.com/meridianhq/meridian/internal/store"
)

func day(d int) time.Time {
	return time.Date(2026, 8, d, 0, 0, 0, 0, time.UTC)
}

// both drivers must behave identically for the cases below.
func eachStore(t *testing.T, fn func(t *testing.T, st store.Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, store.NewMemory())
	})
	t.Run("sqlite", func(t *testing.T) {
		db, err := store.OpenSQLite(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		fn(t, db)
	})
}

func TestEventsRoundTrip(t *testing.T) {
	eachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		events := []event.Record{
			{Name: "Login", UserID: "a", Timestamp: day(2).Add(9 * time.Hour)},
			{Name: "Sign Up", UserID: "b", Timestamp: day(1).Add(8 * time.Hour), Properties: map[string]any{"tier": "premium"}},
			{Name: "Login", UserID: "c", Timestamp: day(9)},
		}
		require.NoError(t, st.InsertEvents(ctx, events))

		got, err := st.FetchEvents(ctx, event.NewWindow(day(1), day(8)))
		require.NoError(t, err)
		require.Len(t, got, 2, "window excludes day 9")
		assert.Equal(t, "Sign Up", got[0].Name, "ordered by timestamp")
		assert.Equal(t, "premium", got[0].Prop("tier"))
		assert.Equal(t, "Login", got[1].Name)
	})
}

// both concrete stores expose the same assignment write.
type segmentAssigner interface {
	AssignSegments(ctx context.Context, members map[string]string) error
}

func TestSegmentMembership(t *testing.T) {
	eachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()

		key, err := st.FetchSegmentMembership(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, key, "unassigned user has no segment")

		assigner := st.(segmentAssigner)
		require.NoError(t, assigner.AssignSegments(ctx, map[string]string{
			"a": "premium",
			"b": "free",
		}))
		require.NoError(t, assigner.AssignSegments(ctx, map[string]string{"a": "free"}))

		key, err = st.FetchSegmentMembership(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "free", key, "reassignment overwrites")

		key, err = st.FetchSegmentMembership(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, "free", key)
	})
}

func TestSeriesRoundTripAndOverwrite(t *testing.T) {
	eachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		s := metric.NewSeries("dau", "")
		for i, v := range []float64{10, 20, 30} {
			require.NoError(t, s.Append(day(1+i), v))
		}
		require.NoError(t, st.SaveSeries(ctx, s))

		// Re-saving the same window must overwrite, not duplicate.
		s2 := metric.NewSeries("dau", "")
		for i, v := range []float64{11, 21, 31} {
			require.NoError(t, s2.Append(day(1+i), v))
		}
		require.NoError(t, st.SaveSeries(ctx, s2))

		got, err := st.LoadSeries(ctx, "dau", "", event.NewWindow(day(1), day(5)))
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, []float64{11, 21, 31}, got.Values())

		missing, err := st.LoadSeries(ctx, "nope", "", event.NewWindow(day(1), day(5)))
		require.NoError(t, err)
		assert.Nil(t, missing)
	})
}

func TestSeriesSegmentsAreSeparate(t *testing.T) {
	eachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		a := metric.NewSeries("dau", "premium")
		require.NoError(t, a.Append(day(1), 5))
		b := metric.NewSeries("dau", "free")
		require.NoError(t, b.Append(day(1), 50))
		require.NoError(t, st.SaveSeries(ctx, a))
		require.NoError(t, st.SaveSeries(ctx, b))

		got, err := st.LoadSeries(ctx, "dau", "premium", event.NewWindow(day(1), day(2)))
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, []float64{5}, got.Values())
	})
}

func TestFunnelLatestSelection(t *testing.T) {
	eachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		older := &analyzer.FunnelResult{
			Funnel: "production", Window: event.NewWindow(day(1), day(8)), Entered: 10,
			Conversions: []analyzer.StepConversion{{FromStep: "a", ToStep: "b", Rate: 0.5}},
		}
		newer := &analyzer.FunnelResult{
			Funnel: "production", Window: event.NewWindow(day(8), day(15)), Entered: 20,
			Conversions: []analyzer.StepConversion{{FromStep: "a", ToStep: "b", Rate: 0.7}},
		}
		require.NoError(t, st.SaveFunnel(ctx, older))
		require.NoError(t, st.SaveFunnel(ctx, newer))

		got, err := st.LatestFunnel(ctx, "production", day(15))
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 20, got.Entered)

		got, err = st.LatestFunnel(ctx, "production", day(8))
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 10, got.Entered, "cutoff excludes the newer window")

		none, err := st.LatestFunnel(ctx, "production", day(1))
		require.NoError(t, err)
		assert.Nil(t, none)
	})
}

func TestRunSummaryRoundTrip(t *testing.T) {
	eachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		for i := 1; i <= 3; i++ {
			require.NoError(t, st.SaveRun(ctx, &store.RunSummary{
				RunID:     string(rune('a' + i)),
				RunType:   "daily",
				Status:    "succeeded",
				StartedAt: day(i),
				Stages:    []store.StageOutcome{{Task: "fetch_events", Status: "succeeded", Attempts: 1}},
				Insights:  []store.InsightDigest{{ID: "i1", Category: "risk", Metric: "dau"}},
			}))
		}

		got, err := st.LoadRun(ctx, "b")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "daily", got.RunType)
		require.Len(t, got.Insights, 1)
		assert.Equal(t, "risk", got.Insights[0].Category)

		recent, err := st.RecentRuns(ctx, 2)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, "d", recent[0].RunID, "most recent first")

		missing, err := st.LoadRun(ctx, "zzz")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})
}
