package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/meridianhq/meridian/internal/telemetry"
)

// Scheduler executes a validated Graph with a bounded worker count. A task
// becomes eligible once every dependency is terminal; its WaitPolicy decides
// whether non-success outcomes skip it, and skips cascade. Cancellation is
// honored between task boundaries: in-flight tasks see their context
// cancelled and nothing new is dispatched.
type Scheduler struct {
	// Workers bounds concurrent tasks.
	Workers int
	// InitialBackoff seeds the exponential retry delay.
	InitialBackoff time.Duration
	// MaxBackoff caps the retry delay.
	MaxBackoff time.Duration

	log *zap.Logger
}

// NewScheduler builds a scheduler with defaults filled in.
func NewScheduler(workers int, log *zap.Logger) *Scheduler {
	if workers <= 0 {
		workers = 4
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		Workers:        workers,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		log:            log,
	}
}

type completion struct {
	name  string
	state *TaskState
}

// runState is the coordinator's bookkeeping for one run. Only the Run
// goroutine touches it; workers communicate through the done channel.
type runState struct {
	states     map[string]*TaskState
	remaining  map[string]int
	dependents map[string][]string
	ready      []string
	terminal   int
	cancelled  bool
}

// Run executes the graph to completion and returns the terminal state of
// every task. The only error returned is graph validation failure; task
// failures are reported through the states, never the error.
func (s *Scheduler) Run(ctx context.Context, g *Graph, rc *RunContext) (map[string]*TaskState, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	rs := &runState{
		states:     make(map[string]*TaskState, g.Len()),
		remaining:  make(map[string]int, g.Len()),
		dependents: g.dependentsOf(),
	}
	for _, name := range g.Names() {
		rs.states[name] = &TaskState{Status: TaskPending}
		rs.remaining[name] = len(g.Task(name).DependsOn)
		if rs.remaining[name] == 0 {
			rs.ready = append(rs.ready, name)
		}
	}

	done := make(chan completion, g.Len())
	running := 0

	for rs.terminal < g.Len() {
		for len(rs.ready) > 0 && running < s.Workers && !rs.cancelled {
			name := rs.ready[0]
			rs.ready = rs.ready[1:]
			t := g.Task(name)
			rs.states[name].Status = TaskRunning
			rs.states[name].Started = time.Now()
			running++
			go func(t *Task) {
				done <- completion{name: t.Name, state: s.execute(ctx, t, rc)}
			}(t)
		}

		if running == 0 {
			// Nothing in flight and nothing dispatchable. Everything still
			// pending can never run; mark it skipped and finish.
			reason := "dependency did not succeed"
			if rs.cancelled {
				reason = "run cancelled"
				rs.ready = nil
			}
			if len(rs.ready) == 0 {
				for _, name := range g.Names() {
					if rs.states[name].Status == TaskPending {
						s.markSkipped(rs, name, reason)
					}
				}
				continue
			}
		}

		if rs.cancelled {
			// Only in-flight completions remain interesting.
			c := <-done
			running--
			s.recordCompletion(g, rs, c)
			continue
		}
		select {
		case c := <-done:
			running--
			s.recordCompletion(g, rs, c)
		case <-ctx.Done():
			rs.cancelled = true
			s.log.Warn("run cancelled, draining in-flight tasks", zap.Error(ctx.Err()))
		}
	}
	return rs.states, nil
}

func (s *Scheduler) recordCompletion(g *Graph, rs *runState, c completion) {
	rs.states[c.name] = c.state
	rs.terminal++
	telemetry.TasksTotal.WithLabelValues(c.name, string(c.state.Status)).Inc()
	if c.state.Status == TaskSucceeded {
		telemetry.TaskDuration.WithLabelValues(c.name).Observe(c.state.Finished.Sub(c.state.Started).Seconds())
	}
	s.resolveDependents(g, rs, c.name)
}

// resolveDependents promotes or skips every task whose last dependency just
// became terminal. Skips are themselves terminal, so the cascade walks a
// queue instead of recursing.
func (s *Scheduler) resolveDependents(g *Graph, rs *runState, name string) {
	queue := []string{name}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range rs.dependents[cur] {
			rs.remaining[next]--
			if rs.remaining[next] > 0 || rs.states[next].terminal() {
				continue
			}
			switch {
			case rs.cancelled:
				s.markSkipped(rs, next, "run cancelled")
				queue = append(queue, next)
			case eligible(g.Task(next), rs.states):
				rs.ready = append(rs.ready, next)
			default:
				s.markSkipped(rs, next, "dependency did not succeed")
				queue = append(queue, next)
			}
		}
	}
}

func (s *Scheduler) markSkipped(rs *runState, name, reason string) {
	rs.states[name] = &TaskState{Status: TaskSkipped}
	rs.terminal++
	telemetry.TasksTotal.WithLabelValues(name, string(TaskSkipped)).Inc()
	s.log.Info("task skipped", zap.String("task", name), zap.String("reason", reason))
}

// eligible applies the task's WaitPolicy over its now-terminal dependencies.
func eligible(t *Task, states map[string]*TaskState) bool {
	if t.Wait == AllDone {
		return true
	}
	for _, dep := range t.DependsOn {
		if states[dep].Status != TaskSucceeded {
			return false
		}
	}
	return true
}

// execute runs one task through its retry budget. Every error is retryable
// up to MaxAttempts except context cancellation; the last error stays on the
// state. A per-attempt timeout counts as an attempt failure.
func (s *Scheduler) execute(ctx context.Context, t *Task, rc *RunContext) *TaskState {
	st := &TaskState{Status: TaskRunning, Started: time.Now()}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.InitialBackoff
	bo.MaxInterval = s.MaxBackoff
	bo.MaxElapsedTime = 0 // attempts bound the retries, not wall time

	for attempt := 1; attempt <= t.attempts(); attempt++ {
		st.Attempts = attempt
		if attempt > 1 {
			telemetry.TaskRetries.WithLabelValues(t.Name).Inc()
		}

		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if t.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, t.Timeout)
		}
		err := t.Run(attemptCtx, rc)
		cancel()

		if err == nil {
			st.Status = TaskSucceeded
			st.Finished = time.Now()
			return st
		}
		st.Err = err
		s.log.Warn("task attempt failed",
			zap.String("task", t.Name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", t.attempts()),
			zap.Error(err))

		if ctx.Err() != nil || attempt == t.attempts() {
			break
		}
		select {
		case <-time.After(bo.NextBackOff()):
		case <-ctx.Done():
			st.Status = TaskFailed
			st.Finished = time.Now()
			return st
		}
	}
	st.Status = TaskFailed
	st.Finished = time.Now()
	return st
}
