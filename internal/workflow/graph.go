package workflow

import (
	"github.com/zero-day-ai/tideflow/internal/types"
)

// ExecutionOrder computes a topological order of tasks using Kahn's
// algorithm. Ties between equally ready tasks go to the one listed first, so
// the result is deterministic. A cycle, a duplicate id or a dependency on an
// unknown task is a configuration error.
func ExecutionOrder(tasks []TaskConfig) ([]string, error) {
	index := make(map[string]int, len(tasks))
	for i, t := range tasks {
		if _, dup := index[t.ID]; dup {
			return nil, types.NewErrorf(types.CONFIG_DUPLICATE_TASK, "duplicate task id %q", t.ID)
		}
		index[t.ID] = i
	}

	inDegree := make([]int, len(tasks))
	dependents := make([][]int, len(tasks))
	for i, t := range tasks {
		for _, dep := range t.Dependencies {
			j, ok := index[dep]
			if !ok {
				return nil, types.NewErrorf(types.CONFIG_INVALID_DEPENDENCY,
					"task %q depends on unknown task %q", t.ID, dep)
			}
			inDegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	queue := make([]int, 0, len(tasks))
	for i := range tasks {
		if inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	order := make([]string, 0, len(tasks))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, tasks[current].ID)

		// dependents[current] is already in spec order because tasks were
		// scanned in order above.
		for _, d := range dependents[current] {
			inDegree[d]--
			if inDegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}

	if len(order) != len(tasks) {
		return nil, types.NewError(types.CONFIG_CYCLIC_DEPENDENCY, "cyclic dependency detected in workflow tasks")
	}
	return order, nil
}
