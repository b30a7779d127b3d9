package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/meridianhq/meridian/internal/analyzer"
	"github.com/meridianhq/meridian/internal/config"
	"github.com/meridianhq/meridian/internal/errs"
	"github.com/meridianhq/meridian/internal/event"
	"github.com/meridianhq/meridian/internal/filter"
	"github.com/meridianhq/meridian/internal/insight"
	"github.com/meridianhq/meridian/internal/metric"
	"github.com/meridianhq/meridian/internal/store"
	"github.com/meridianhq/meridian/internal/telemetry"
)

// Service assembles the task graph from configuration and owns one run at a
// time end to end: fetch, compute, analyze, synthesize, persist.
type Service struct {
	cfg *config.Config
	st  store.Store
	log *zap.Logger

	sched *Scheduler

	calc    *metric.Calculator
	trend   *analyzer.TrendDetector
	anomaly *analyzer.AnomalyDetector
	funnel  *analyzer.FunnelAnalyzer
	cohort  *analyzer.CohortAnalyzer

	generators  []insight.Generator
	validator   *insight.Validator
	aggregator  *insight.Aggregator
	enricher    *insight.Enricher
	prioritizer *insight.Prioritizer
	recommender *insight.Recommender

	metrics  []metric.Definition
	funnels  []analyzer.FunnelDef
	segments []compiledSegment
	weights  map[string]float64
}

type compiledSegment struct {
	key  string
	expr filter.Expr
}

// NewService compiles the configured metrics, funnels, and segments and
// builds the analyzer and processor chain.
func NewService(cfg *config.Config, st store.Store, log *zap.Logger) (*Service, error) {
	if log == nil {
		log = zap.NewNop()
	}

	s := &Service{
		cfg:   cfg,
		st:    st,
		log:   log,
		sched: NewScheduler(cfg.Scheduler.Workers, log),

		calc:    metric.NewCalculator(cfg.Analysis.GranularityDays, cfg.Analysis.MinBuckets),
		trend:   analyzer.NewTrendDetector(cfg.Analysis.TrendThreshold, cfg.Analysis.TrendMinPoints),
		anomaly: analyzer.NewAnomalyDetector(cfg.Analysis.AnomalyWindow, cfg.Analysis.AnomalyStdThreshold, cfg.Analysis.AnomalyMinHistory),
		funnel:  analyzer.NewFunnelAnalyzer(cfg.Analysis.FunnelChangeDelta),
		cohort:  analyzer.NewCohortAnalyzer(cfg.Analysis.CohortDivergence),

		generators:  insight.DefaultGenerators(cfg.Insights.Generators),
		validator:   insight.NewValidator(cfg.Insights.MinEvidence, cfg.Insights.ConfidenceFloor),
		aggregator:  insight.NewAggregator(),
		enricher:    insight.NewEnricher(st, cfg.Insights.EnrichLookback),
		prioritizer: insight.NewPrioritizer(cfg.Insights.CategoryWeightMap(), cfg.Insights.TopK),
		recommender: insight.NewRecommender(),

		weights: make(map[string]float64),
	}
	if d := cfg.Scheduler.InitialBackoffMs; d > 0 {
		s.sched.InitialBackoff = time.Duration(d) * time.Millisecond
	}

	s.metrics = make([]metric.Definition, len(cfg.Metrics))
	copy(s.metrics, cfg.Metrics)
	for i := range s.metrics {
		if err := s.metrics[i].Compile(); err != nil {
			return nil, err
		}
		s.weights[s.metrics[i].Name] = s.metrics[i].Weight
	}

	s.funnels = make([]analyzer.FunnelDef, len(cfg.Funnels))
	copy(s.funnels, cfg.Funnels)
	for i := range s.funnels {
		if err := s.funnels[i].Compile(); err != nil {
			return nil, err
		}
	}

	for _, seg := range cfg.Segments {
		expr, err := filter.Parse(seg.Filter)
		if err != nil {
			return nil, fmt.Errorf("segment %s: %w", seg.Key, err)
		}
		s.segments = append(s.segments, compiledSegment{key: seg.Key, expr: expr})
	}
	return s, nil
}

// windowFor maps a run type to its analysis window.
func (s *Service) windowFor(t RunType, now time.Time) event.Window {
	days := s.cfg.Analysis.WindowDays
	if days <= 0 {
		days = 7
	}
	switch t {
	case RunWeekly:
		days = 30
	case RunMonthly:
		days = 90
	}
	return event.LastDays(now, days)
}

// BuildGraph declares the run's task graph. Analyzer stages depend on the
// metric stage with AllDone so one starved metric cannot block the rest;
// generation likewise runs over whatever findings the analyzers produced.
func (s *Service) BuildGraph(rc *RunContext) (*Graph, error) {
	g := NewGraph()
	attempts := s.cfg.Scheduler.MaxAttempts
	timeout := time.Duration(s.cfg.Scheduler.TaskTimeoutMs) * time.Millisecond

	add := func(t *Task) error {
		if t.MaxAttempts == 0 {
			t.MaxAttempts = 1
		}
		if t.Timeout == 0 {
			t.Timeout = timeout
		}
		return g.Add(t)
	}

	if err := add(&Task{
		Name:        "fetch_events",
		MaxAttempts: attempts,
		Run:         s.taskFetchEvents,
	}); err != nil {
		return nil, err
	}

	var metricTasks []string
	for i := range s.metrics {
		def := &s.metrics[i]
		name := "metric:" + def.Name
		metricTasks = append(metricTasks, name)
		if err := add(&Task{
			Name:      name,
			DependsOn: []string{"fetch_events"},
			Run:       s.taskComputeMetric(def),
		}); err != nil {
			return nil, err
		}
	}

	if err := add(&Task{
		Name:      "analyze_trends",
		DependsOn: metricTasks,
		Wait:      AllDone,
		Run:       s.taskTrends,
	}); err != nil {
		return nil, err
	}
	if err := add(&Task{
		Name:      "analyze_anomalies",
		DependsOn: metricTasks,
		Wait:      AllDone,
		Run:       s.taskAnomalies,
	}); err != nil {
		return nil, err
	}
	if err := add(&Task{
		Name:        "analyze_funnels",
		DependsOn:   []string{"fetch_events"},
		MaxAttempts: attempts,
		Run:         s.taskFunnels,
	}); err != nil {
		return nil, err
	}
	if err := add(&Task{
		Name:      "analyze_cohorts",
		DependsOn: metricTasks,
		Wait:      AllDone,
		Run:       s.taskCohorts,
	}); err != nil {
		return nil, err
	}

	chain := []struct {
		name  string
		deps  []string
		wait  WaitPolicy
		tries int
		run   func(context.Context, *RunContext) error
	}{
		{"generate_insights", []string{"analyze_trends", "analyze_anomalies", "analyze_funnels", "analyze_cohorts"}, AllDone, 1, s.taskGenerate},
		{"validate_insights", []string{"generate_insights"}, AllSuccess, 1, s.taskValidate},
		{"aggregate_insights", []string{"validate_insights"}, AllSuccess, 1, s.taskAggregate},
		{"enrich_insights", []string{"aggregate_insights"}, AllSuccess, attempts, s.taskEnrich},
		{"prioritize_insights", []string{"enrich_insights"}, AllSuccess, 1, s.taskPrioritize},
		{"recommend_actions", []string{"prioritize_insights"}, AllSuccess, 1, s.taskRecommend},
	}
	for _, st := range chain {
		if err := add(&Task{
			Name:        st.name,
			DependsOn:   st.deps,
			Wait:        st.wait,
			MaxAttempts: st.tries,
			Run:         st.run,
		}); err != nil {
			return nil, err
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// RunPipeline executes one run and persists its outputs. Task failures do
// not fail the call; the report carries the partial or failed status.
func (s *Service) RunPipeline(ctx context.Context, t RunType) (*Report, error) {
	rc := NewRunContext(t, s.windowFor(t, time.Now()))
	g, err := s.BuildGraph(rc)
	if err != nil {
		return nil, err
	}
	s.log.Info("run starting",
		zap.String("run_id", rc.RunID),
		zap.String("type", string(t)),
		zap.Stringer("window", rc.Window),
		zap.Int("tasks", g.Len()))

	states, err := s.sched.Run(ctx, g, rc)
	if err != nil {
		return nil, err
	}

	sum := s.summarize(rc, g, states, ctx.Err() != nil)
	s.persist(ctx, rc, sum)

	telemetry.RunsTotal.WithLabelValues(string(t), sum.Status).Inc()
	telemetry.RunDuration.WithLabelValues(string(t)).Observe(time.Since(rc.Started).Seconds())
	s.log.Info("run finished",
		zap.String("run_id", rc.RunID),
		zap.String("status", sum.Status),
		zap.Int("insights", len(sum.Insights)),
		zap.Duration("elapsed", time.Since(rc.Started)))
	return BuildReport(rc, sum), nil
}

// summarize folds task states and delivered insights into the persisted
// record. A cancelled run is failed regardless of what finished before the
// cancellation; otherwise any failed task degrades the run to partial when
// insights were still delivered, failed when none were.
func (s *Service) summarize(rc *RunContext, g *Graph, states map[string]*TaskState, cancelled bool) *store.RunSummary {
	sum := &store.RunSummary{
		RunID:      rc.RunID,
		RunType:    string(rc.Type),
		StartedAt:  rc.Started,
		FinishedAt: time.Now().UTC(),
	}

	anyFailed := false
	for _, name := range g.Names() {
		st := states[name]
		outcome := store.StageOutcome{Task: name, Status: string(st.Status), Attempts: st.Attempts}
		if st.Err != nil {
			outcome.Error = st.Err.Error()
		}
		if st.Status == TaskFailed {
			anyFailed = true
		}
		sum.Stages = append(sum.Stages, outcome)
	}

	recsByInsight := make(map[string][]store.RecommendationDigest)
	for _, rec := range rc.Recommendations() {
		recsByInsight[rec.InsightID] = append(recsByInsight[rec.InsightID], store.RecommendationDigest{
			Action:       rec.Action,
			Category:     string(rec.Category),
			PriorityRank: rec.PriorityRank,
		})
	}

	delivered := rc.Delivered()
	for _, ins := range delivered {
		sum.Insights = append(sum.Insights, store.InsightDigest{
			ID:              ins.ID,
			Category:        string(ins.Category),
			Metric:          ins.Metric,
			SegmentKey:      ins.SegmentKey,
			Title:           ins.Title,
			ImpactScore:     ins.ImpactScore,
			WindowStart:     ins.Window.Start,
			WindowEnd:       ins.Window.End,
			Recommendations: recsByInsight[ins.ID],
		})
		telemetry.InsightsTotal.WithLabelValues(string(ins.Category), "delivered").Inc()
	}

	switch {
	case cancelled:
		sum.Status = string(StatusFailed)
	case !anyFailed:
		sum.Status = string(StatusSucceeded)
	case len(delivered) > 0:
		sum.Status = string(StatusPartial)
	default:
		sum.Status = string(StatusFailed)
	}
	return sum
}

// persist writes series, funnel measurements, and the run summary. Failures
// here are logged, not fatal: the run already happened.
func (s *Service) persist(ctx context.Context, rc *RunContext, sum *store.RunSummary) {
	for _, series := range rc.AllSeries() {
		if err := s.st.SaveSeries(ctx, series); err != nil {
			s.log.Warn("persist series failed", zap.String("series", series.Key()), zap.Error(err))
		}
	}
	for _, res := range rc.Funnels() {
		if err := s.st.SaveFunnel(ctx, res); err != nil {
			s.log.Warn("persist funnel failed", zap.String("funnel", res.Funnel), zap.Error(err))
		}
	}
	if err := s.st.SaveRun(ctx, sum); err != nil {
		s.log.Error("persist run summary failed", zap.String("run_id", sum.RunID), zap.Error(err))
	}
}

// ErrRunNotFound reports a run ID with no stored summary, distinct from a
// run that delivered nothing.
var ErrRunNotFound = errors.New("run not found")

// GetRunStatus returns a stored run summary.
func (s *Service) GetRunStatus(ctx context.Context, runID string) (*store.RunSummary, error) {
	sum, err := s.st.LoadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if sum == nil {
		return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	return sum, nil
}

// GetTopInsights returns the delivered insights of a stored run with their
// recommended actions, ranked.
func (s *Service) GetTopInsights(ctx context.Context, runID string) ([]store.InsightDigest, error) {
	sum, err := s.GetRunStatus(ctx, runID)
	if err != nil {
		return nil, err
	}
	return sum.Insights, nil
}

// --- tasks ---

// taskFetchEvents pulls the event batch covering the baseline and current
// windows in one read, then resolves each active user's segment.
func (s *Service) taskFetchEvents(ctx context.Context, rc *RunContext) error {
	fetch := event.Window{Start: rc.Window.Previous().Start, End: rc.Window.End}
	events, err := s.st.FetchEvents(ctx, fetch)
	if err != nil {
		return err
	}
	s.log.Debug("events fetched", zap.String("run_id", rc.RunID), zap.Int("count", len(events)))
	rc.SetEvents(events)
	rc.SetMembership(s.resolveMembership(ctx, events))
	return nil
}

// resolveMembership maps each active user to a segment key. A stored
// assignment wins; users without one are assigned by the first configured
// segment filter any of their events matches. Failed membership lookups leave
// the user on the filter path rather than failing the fetch.
func (s *Service) resolveMembership(ctx context.Context, events []event.Record) map[string]string {
	members := make(map[string]string)
	checked := make(map[string]bool)
	for i := range events {
		user := events[i].UserID
		if !checked[user] {
			checked[user] = true
			key, err := s.st.FetchSegmentMembership(ctx, user)
			if err != nil {
				s.log.Debug("segment membership lookup failed", zap.String("user", user), zap.Error(err))
			} else if key != "" {
				members[user] = key
			}
		}
		if members[user] != "" {
			continue
		}
		for _, seg := range s.segments {
			if ok, _ := filter.Match(seg.expr, &events[i]); ok {
				members[user] = seg.key
				break
			}
		}
	}
	return members
}

// taskComputeMetric computes the current series, its baseline, and every
// segment-scoped variant. Insufficient data marks the metric skipped and
// succeeds; downstream analyzers simply see no series.
func (s *Service) taskComputeMetric(def *metric.Definition) func(context.Context, *RunContext) error {
	return func(ctx context.Context, rc *RunContext) error {
		events := rc.Events()

		cur, err := s.calc.Compute(def, events, rc.Window, "")
		if err != nil {
			var insufficient *errs.InsufficientDataError
			if errors.As(err, &insufficient) {
				rc.MarkSkipped(def.Name)
				telemetry.MetricsSkipped.WithLabelValues(def.Name).Inc()
				s.log.Info("metric skipped", zap.String("metric", def.Name), zap.Error(err))
				return nil
			}
			return err
		}

		baseline, err := s.baselineFor(ctx, def, events, rc.Window)
		if err != nil {
			return err
		}
		rc.PutSeries(cur, baseline)

		members := rc.Membership()
		grouped := make(map[string][]event.Record)
		for i := range events {
			if key := members[events[i].UserID]; key != "" {
				grouped[key] = append(grouped[key], events[i])
			}
		}
		for key, scoped := range grouped {
			segSeries, err := s.calc.Compute(def, scoped, rc.Window, key)
			if err != nil {
				var insufficient *errs.InsufficientDataError
				if errors.As(err, &insufficient) {
					continue
				}
				return err
			}
			rc.PutSeries(segSeries, nil)
		}
		return nil
	}
}

// baselineFor prefers the stored series from earlier runs and falls back to
// recomputing from the fetched events. A first run has no baseline; trend
// analysis then skips the metric.
func (s *Service) baselineFor(ctx context.Context, def *metric.Definition, events []event.Record, w event.Window) (*metric.Series, error) {
	prev := w.Previous()
	stored, err := s.st.LoadSeries(ctx, def.Name, "", prev)
	if err != nil {
		return nil, err
	}
	if stored != nil && stored.Len() > 0 {
		return stored, nil
	}
	computed, err := s.calc.Compute(def, events, prev, "")
	if err != nil {
		var insufficient *errs.InsufficientDataError
		if errors.As(err, &insufficient) {
			return nil, nil
		}
		return nil, err
	}
	return computed, nil
}

func (s *Service) taskTrends(ctx context.Context, rc *RunContext) error {
	var findings []analyzer.Finding
	for _, series := range rc.AllSeries() {
		if series.SegmentKey != "" {
			continue
		}
		_, baseline := rc.Series(series.Key())
		fs, err := s.trend.Analyze(series, baseline)
		if err != nil {
			var insufficient *errs.InsufficientDataError
			if errors.As(err, &insufficient) {
				continue
			}
			return err
		}
		findings = append(findings, fs...)
	}
	analyzer.RankTrends(findings, s.weights)
	for _, f := range findings {
		telemetry.FindingsTotal.WithLabelValues(string(f.Kind)).Inc()
	}
	rc.AddFindings(findings...)
	return nil
}

func (s *Service) taskAnomalies(ctx context.Context, rc *RunContext) error {
	for _, series := range rc.AllSeries() {
		if series.SegmentKey != "" {
			continue
		}
		_, baseline := rc.Series(series.Key())
		fs, err := s.anomaly.Analyze(series, baseline)
		if err != nil {
			var insufficient *errs.InsufficientDataError
			if errors.As(err, &insufficient) {
				continue
			}
			return err
		}
		for _, f := range fs {
			telemetry.FindingsTotal.WithLabelValues(string(f.Kind)).Inc()
		}
		rc.AddFindings(fs...)
	}
	return nil
}

func (s *Service) taskFunnels(ctx context.Context, rc *RunContext) error {
	events := rc.Events()
	for i := range s.funnels {
		def := &s.funnels[i]
		prior, err := s.st.LatestFunnel(ctx, def.Name, rc.Window.Start)
		if err != nil {
			return err
		}
		findings, res, err := s.funnel.Analyze(def, events, rc.Window, prior)
		if err != nil {
			var insufficient *errs.InsufficientDataError
			if errors.As(err, &insufficient) {
				rc.MarkSkipped("funnel:" + def.Name)
				if res != nil {
					rc.PutFunnel(res)
				}
				continue
			}
			return err
		}
		rc.PutFunnel(res)
		for _, f := range findings {
			telemetry.FindingsTotal.WithLabelValues(string(f.Kind)).Inc()
		}
		rc.AddFindings(findings...)
	}
	return nil
}

func (s *Service) taskCohorts(ctx context.Context, rc *RunContext) error {
	for i := range s.metrics {
		name := s.metrics[i].Name
		segments := rc.SegmentSeries(name)
		if len(segments) < 2 {
			continue
		}
		findings := s.cohort.Analyze(name, segments, rc.Window)
		for _, f := range findings {
			telemetry.FindingsTotal.WithLabelValues(string(f.Kind)).Inc()
		}
		rc.AddFindings(findings...)
	}
	return nil
}

func (s *Service) taskGenerate(ctx context.Context, rc *RunContext) error {
	drafts := insight.Generate(s.generators, rc.Findings())
	s.log.Info("insights generated", zap.String("run_id", rc.RunID), zap.Int("drafts", len(drafts)))
	rc.SetDrafts(drafts)
	return nil
}

func (s *Service) taskValidate(ctx context.Context, rc *RunContext) error {
	validated, rejected := s.validator.Process(rc.Drafts())
	for _, ins := range rejected {
		telemetry.InsightsTotal.WithLabelValues(string(ins.Category), "rejected").Inc()
	}
	rc.SetValidated(validated, rejected)
	return nil
}

func (s *Service) taskAggregate(ctx context.Context, rc *RunContext) error {
	rc.ReplaceValidated(s.aggregator.Process(rc.Validated()))
	return nil
}

func (s *Service) taskEnrich(ctx context.Context, rc *RunContext) error {
	return s.enricher.Process(ctx, rc.Validated())
}

func (s *Service) taskPrioritize(ctx context.Context, rc *RunContext) error {
	rc.SetDelivered(s.prioritizer.Process(rc.Validated()))
	return nil
}

func (s *Service) taskRecommend(ctx context.Context, rc *RunContext) error {
	findings := insight.NewFindingSet(rc.Findings())
	rc.SetRecommendations(s.recommender.RecommendAll(rc.Delivered(), findings))
	return nil
}
