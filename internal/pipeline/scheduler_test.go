package pipeline_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meridianhq/meridian/internal/errs"
	"github.com/meridianhq/meridian/internal/event"
	"github.com/meridianhq/meridian/internal/pipeline"
)

func newRunContext() *pipeline.RunContext {
	w := event.LastDays(time.Now(), 7)
	return pipeline.NewRunContext(pipeline.RunAdhoc, w)
}

func newScheduler(workers int) *pipeline.Scheduler {
	s := pipeline.NewScheduler(workers, nil)
	s.InitialBackoff = time.Millisecond
	return s
}

func noop(context.Context, *pipeline.RunContext) error { return nil }

func addTask(t *testing.T, g *pipeline.Graph, task *pipeline.Task) {
	t.Helper()
	if err := g.Add(task); err != nil {
		t.Fatalf("add %s: %v", task.Name, err)
	}
}

func TestLinearChainRuns(t *testing.T) {
	g := pipeline.NewGraph()
	var order []string
	record := func(name string) func(context.Context, *pipeline.RunContext) error {
		return func(context.Context, *pipeline.RunContext) error {
			order = append(order, name)
			return nil
		}
	}
	addTask(t, g, &pipeline.Task{Name: "a", Run: record("a")})
	addTask(t, g, &pipeline.Task{Name: "b", DependsOn: []string{"a"}, Run: record("b")})
	addTask(t, g, &pipeline.Task{Name: "c", DependsOn: []string{"b"}, Run: record("c")})

	states, err := newScheduler(2).Run(context.Background(), g, newRunContext())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, name := range []string{"a", "b", "c"} {
		if states[name].Status != pipeline.TaskSucceeded {
			t.Errorf("%s = %s, want succeeded", name, states[name].Status)
		}
	}
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("execution order = %v", order)
	}
}

func TestFailureSkipsDependents(t *testing.T) {
	g := pipeline.NewGraph()
	boom := errors.New("boom")
	addTask(t, g, &pipeline.Task{Name: "a", Run: noop})
	addTask(t, g, &pipeline.Task{
		Name: "b", DependsOn: []string{"a"}, MaxAttempts: 2,
		Run: func(context.Context, *pipeline.RunContext) error { return boom },
	})
	addTask(t, g, &pipeline.Task{Name: "c", DependsOn: []string{"b"}, Run: noop})

	states, err := newScheduler(2).Run(context.Background(), g, newRunContext())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if states["a"].Status != pipeline.TaskSucceeded {
		t.Errorf("a = %s", states["a"].Status)
	}
	if states["b"].Status != pipeline.TaskFailed {
		t.Errorf("b = %s, want failed", states["b"].Status)
	}
	if states["b"].Attempts != 2 {
		t.Errorf("b attempts = %d, want 2 (retry budget exhausted)", states["b"].Attempts)
	}
	if !errors.Is(states["b"].Err, boom) {
		t.Errorf("b err = %v", states["b"].Err)
	}
	if states["c"].Status != pipeline.TaskSkipped {
		t.Errorf("c = %s, want skipped (dependency failed)", states["c"].Status)
	}
}

func TestAllDoneRunsPastFailure(t *testing.T) {
	g := pipeline.NewGraph()
	addTask(t, g, &pipeline.Task{Name: "trend", Run: noop})
	addTask(t, g, &pipeline.Task{
		Name: "funnel",
		Run:  func(context.Context, *pipeline.RunContext) error { return errors.New("store down") },
	})
	var generated atomic.Bool
	addTask(t, g, &pipeline.Task{
		Name: "generate", DependsOn: []string{"trend", "funnel"}, Wait: pipeline.AllDone,
		Run: func(context.Context, *pipeline.RunContext) error {
			generated.Store(true)
			return nil
		},
	})

	states, err := newScheduler(2).Run(context.Background(), g, newRunContext())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if states["funnel"].Status != pipeline.TaskFailed {
		t.Errorf("funnel = %s", states["funnel"].Status)
	}
	if states["generate"].Status != pipeline.TaskSucceeded {
		t.Errorf("generate = %s, want succeeded despite funnel failure", states["generate"].Status)
	}
	if !generated.Load() {
		t.Error("generate never ran")
	}
}

func TestRetrySucceedsWithinBudget(t *testing.T) {
	g := pipeline.NewGraph()
	var calls atomic.Int32
	addTask(t, g, &pipeline.Task{
		Name: "flaky", MaxAttempts: 3,
		Run: func(context.Context, *pipeline.RunContext) error {
			if calls.Add(1) < 3 {
				return errs.NewDataUnavailable("fetch", errors.New("transient"))
			}
			return nil
		},
	})

	states, err := newScheduler(1).Run(context.Background(), g, newRunContext())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if states["flaky"].Status != pipeline.TaskSucceeded {
		t.Errorf("flaky = %s, want succeeded on third attempt", states["flaky"].Status)
	}
	if states["flaky"].Attempts != 3 {
		t.Errorf("attempts = %d, want 3", states["flaky"].Attempts)
	}
}

func TestTaskTimeoutFails(t *testing.T) {
	g := pipeline.NewGraph()
	addTask(t, g, &pipeline.Task{
		Name: "slow", Timeout: 20 * time.Millisecond,
		Run: func(ctx context.Context, _ *pipeline.RunContext) error {
			select {
			case <-time.After(5 * time.Second):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})

	start := time.Now()
	states, err := newScheduler(1).Run(context.Background(), g, newRunContext())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if states["slow"].Status != pipeline.TaskFailed {
		t.Errorf("slow = %s, want failed on timeout", states["slow"].Status)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout did not bound the attempt")
	}
}

func TestCancellationSkipsPending(t *testing.T) {
	g := pipeline.NewGraph()
	ctx, cancel := context.WithCancel(context.Background())
	addTask(t, g, &pipeline.Task{
		Name: "first",
		Run: func(ctx context.Context, _ *pipeline.RunContext) error {
			cancel()
			<-ctx.Done()
			return ctx.Err()
		},
	})
	addTask(t, g, &pipeline.Task{Name: "second", DependsOn: []string{"first"}, Run: noop})

	states, err := newScheduler(1).Run(ctx, g, newRunContext())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if states["first"].Status != pipeline.TaskFailed {
		t.Errorf("first = %s, want failed (cancelled mid-run)", states["first"].Status)
	}
	if states["second"].Status != pipeline.TaskSkipped {
		t.Errorf("second = %s, want skipped", states["second"].Status)
	}
}

func TestCycleRejected(t *testing.T) {
	g := pipeline.NewGraph()
	addTask(t, g, &pipeline.Task{Name: "a", DependsOn: []string{"c"}, Run: noop})
	addTask(t, g, &pipeline.Task{Name: "b", DependsOn: []string{"a"}, Run: noop})
	addTask(t, g, &pipeline.Task{Name: "c", DependsOn: []string{"b"}, Run: noop})

	_, err := newScheduler(1).Run(context.Background(), g, newRunContext())
	var sched *errs.SchedulingError
	if !errors.As(err, &sched) {
		t.Fatalf("err = %v, want SchedulingError", err)
	}
}

func TestUnknownDependencyRejected(t *testing.T) {
	g := pipeline.NewGraph()
	addTask(t, g, &pipeline.Task{Name: "a", DependsOn: []string{"ghost"}, Run: noop})

	var sched *errs.SchedulingError
	if err := g.Validate(); !errors.As(err, &sched) {
		t.Fatalf("err = %v, want SchedulingError", err)
	}
}

func TestDuplicateTaskRejected(t *testing.T) {
	g := pipeline.NewGraph()
	addTask(t, g, &pipeline.Task{Name: "a", Run: noop})
	var sched *errs.SchedulingError
	if err := g.Add(&pipeline.Task{Name: "a", Run: noop}); !errors.As(err, &sched) {
		t.Fatalf("err = %v, want SchedulingError", err)
	}
}

func TestParallelFanOut(t *testing.T) {
	g := pipeline.NewGraph()
	addTask(t, g, &pipeline.Task{Name: "root", Run: noop})
	var peak, cur atomic.Int32
	for _, name := range []string{"m1", "m2", "m3", "m4"} {
		addTask(t, g, &pipeline.Task{
			Name: name, DependsOn: []string{"root"},
			Run: func(context.Context, *pipeline.RunContext) error {
				n := cur.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				cur.Add(-1)
				return nil
			},
		})
	}

	states, err := newScheduler(2).Run(context.Background(), g, newRunContext())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for name, st := range states {
		if st.Status != pipeline.TaskSucceeded {
			t.Errorf("%s = %s", name, st.Status)
		}
	}
	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= worker bound 2", peak.Load())
	}
}
