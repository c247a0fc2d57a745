package scheduler

import (
	"fmt"

	"github.com/gammazero/toposort"
)

// depGraph holds the task registry plus the reverse dependency index used to
// promote dependents when a task completes. It is not safe for concurrent use
// on its own; the owning TaskManager serializes access through its lock.
type depGraph struct {
	tasks      map[string]*Task
	dependents map[string][]string // task id -> ids of tasks depending on it
}

func newDepGraph() *depGraph {
	return &depGraph{
		tasks:      make(map[string]*Task),
		dependents: make(map[string][]string),
	}
}

// validate checks a batch of incoming tasks against the current graph:
// every dependency must resolve inside the registry or the batch itself, ids
// must be unique, and the combined graph must stay acyclic. The graph is not
// mutated; a failed batch leaves the registry untouched.
func (g *depGraph) validate(batch []*Task) error {
	known := make(map[string]bool, len(batch))
	for _, t := range batch {
		if _, exists := g.tasks[t.ID]; exists {
			return fmt.Errorf("%w: %q", ErrDuplicateTask, t.ID)
		}
		if known[t.ID] {
			return fmt.Errorf("%w: %q", ErrDuplicateTask, t.ID)
		}
		known[t.ID] = true
	}

	for _, t := range batch {
		for _, depID := range t.DependsOn {
			if _, exists := g.tasks[depID]; !exists && !known[depID] {
				return fmt.Errorf("%w: task %q depends on %q", ErrUnknownDependency, t.ID, depID)
			}
		}
	}

	// Topological sort over existing edges plus the batch. An error here
	// means a cycle.
	var edges []toposort.Edge
	addEdges := func(t *Task) {
		if len(t.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, t.ID})
			return
		}
		for _, depID := range t.DependsOn {
			edges = append(edges, toposort.Edge{depID, t.ID})
		}
	}
	for _, t := range g.tasks {
		addEdges(t)
	}
	for _, t := range batch {
		addEdges(t)
	}

	if _, err := toposort.Toposort(edges); err != nil {
		return fmt.Errorf("%w: %v", ErrDependencyCycle, err)
	}
	return nil
}

// add inserts an already-validated task and indexes its reverse edges.
func (g *depGraph) add(t *Task) {
	g.tasks[t.ID] = t
	for _, depID := range t.DependsOn {
		g.dependents[depID] = append(g.dependents[depID], t.ID)
	}
}

// depsSatisfied reports whether every dependency of t has completed.
// A failed or cancelled dependency blocks t permanently; the caller must
// cancel or re-register dependents of a failed task explicitly.
func (g *depGraph) depsSatisfied(t *Task) bool {
	for _, depID := range t.DependsOn {
		dep, exists := g.tasks[depID]
		if !exists || dep.Status != StatusCompleted {
			return false
		}
	}
	return true
}
