package queue

import (
	"errors"
	"fmt"

	"github.com/gammazero/toposort"

	"github.com/aristath/composite/internal/task"
)

// ErrCycle is returned when a task's dependency closure is not acyclic.
var ErrCycle = errors.New("dependency cycle")

// dependencyOrder walks the unfinished dependency closure of root and returns
// it in topological order (dependencies first, root last). Finished tasks are
// leaves: their own dependencies can no longer block anything.
func dependencyOrder(root task.Task) ([]task.Task, error) {
	var edges []toposort.Edge
	visited := map[task.Task]bool{}
	stack := []task.Task{root}

	for len(stack) > 0 {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[t] {
			continue
		}
		visited[t] = true

		if t.IsFinished() {
			edges = append(edges, toposort.Edge{nil, t})
			continue
		}

		deps := t.Dependencies()
		if len(deps) == 0 {
			// Edge from nil keeps isolated tasks in the sort output.
			edges = append(edges, toposort.Edge{nil, t})
			continue
		}
		for _, dep := range deps {
			// Edge (dep, t) means dep must come before t
			edges = append(edges, toposort.Edge{dep, t})
			if !visited[dep] {
				stack = append(stack, dep)
			}
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("%w involving task %q: %v", ErrCycle, root.ID(), err)
	}

	order := make([]task.Task, 0, len(sorted))
	for _, node := range sorted {
		if node != nil {
			order = append(order, node.(task.Task))
		}
	}

	if len(order) != len(visited) {
		return nil, fmt.Errorf("%w involving task %q: sorted %d of %d tasks", ErrCycle, root.ID(), len(order), len(visited))
	}
	return order, nil
}

// dependenciesFinished reports whether every dependency of t has finished.
func dependenciesFinished(t task.Task) bool {
	for _, dep := range t.Dependencies() {
		if !dep.IsFinished() {
			return false
		}
	}
	return true
}
