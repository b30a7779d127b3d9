package pipeline

import (
	"context"
	"time"
)

// WaitPolicy controls when a task with failed or skipped dependencies may
// still run.
type WaitPolicy int

const (
	// AllSuccess runs the task only when every dependency succeeded; any
	// failed or skipped dependency skips the task. This is the default.
	AllSuccess WaitPolicy = iota
	// AllDone runs the task once every dependency reached a terminal state,
	// whatever that state was. Aggregation stages use this so one failed
	// analyzer does not discard everyone else's findings.
	AllDone
)

// Task is one schedulable unit of pipeline work.
type Task struct {
	Name      string
	DependsOn []string
	Wait      WaitPolicy
	// MaxAttempts bounds retries; 0 means 1 attempt.
	MaxAttempts int
	// Timeout bounds one attempt; 0 means no per-attempt deadline.
	Timeout time.Duration
	Run     func(ctx context.Context, rc *RunContext) error
}

func (t *Task) attempts() int {
	if t.MaxAttempts <= 0 {
		return 1
	}
	return t.MaxAttempts
}

// TaskState tracks one task through a run.
type TaskState struct {
	Status   TaskStatus
	Attempts int
	Err      error
	Started  time.Time
	Finished time.Time
}

func (s *TaskState) terminal() bool {
	switch s.Status {
	case TaskSucceeded, TaskFailed, TaskSkipped:
		return true
	}
	return false
}
