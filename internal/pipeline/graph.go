package pipeline

import (
	"github.com/meridianhq/meridian/internal/errs"
)

// Graph holds tasks and their dependency edges. It is immutable once
// validated; every run walks the same graph with its own state.
type Graph struct {
	tasks map[string]*Task
	order []string // insertion order, for deterministic iteration
}

// NewGraph allocates an empty Graph.
func NewGraph() *Graph {
	return &Graph{tasks: make(map[string]*Task)}
}

// Add registers a task. Duplicate names are a SchedulingError.
func (g *Graph) Add(t *Task) error {
	if t == nil || t.Name == "" {
		return errs.NewScheduling("task must have a name")
	}
	if t.Run == nil {
		return errs.NewScheduling("task %s has no run function", t.Name)
	}
	if _, dup := g.tasks[t.Name]; dup {
		return errs.NewScheduling("duplicate task %s", t.Name)
	}
	g.tasks[t.Name] = t
	g.order = append(g.order, t.Name)
	return nil
}

// Task returns a task by name (nil if unknown).
func (g *Graph) Task(name string) *Task { return g.tasks[name] }

// Len returns the number of registered tasks.
func (g *Graph) Len() int { return len(g.tasks) }

// Names returns task names in insertion order.
func (g *Graph) Names() []string { return append([]string(nil), g.order...) }

// Validate rejects unknown dependencies and cycles. Must pass before the
// scheduler will run the graph; a declaration error never reaches a live run.
func (g *Graph) Validate() error {
	for _, name := range g.order {
		for _, dep := range g.tasks[name].DependsOn {
			if _, ok := g.tasks[dep]; !ok {
				return errs.NewScheduling("task %s depends on unknown task %s", name, dep)
			}
			if dep == name {
				return errs.NewScheduling("task %s depends on itself", name)
			}
		}
	}

	// Kahn's algorithm; leftover tasks mean a cycle.
	indegree := make(map[string]int, len(g.tasks))
	dependents := make(map[string][]string, len(g.tasks))
	for _, name := range g.order {
		indegree[name] = len(g.tasks[name].DependsOn)
		for _, dep := range g.tasks[name].DependsOn {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var queue []string
	for _, name := range g.order {
		if indegree[name] == 0 {
			queue = append(queue, name)
		}
	}
	visited := 0
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[name] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != len(g.tasks) {
		var stuck []string
		for _, name := range g.order {
			if indegree[name] > 0 {
				stuck = append(stuck, name)
			}
		}
		return errs.NewScheduling("dependency cycle involving %v", stuck)
	}
	return nil
}

// dependents builds the reverse adjacency used by the scheduler.
func (g *Graph) dependentsOf() map[string][]string {
	out := make(map[string][]string, len(g.tasks))
	for _, name := range g.order {
		for _, dep := range g.tasks[name].DependsOn {
			out[dep] = append(out[dep], name)
		}
	}
	return out
}
