package engine

import (
	"sync"
	"sync/atomic"

	"github.com/zero-day-ai/tideflow/internal/types"
	"github.com/zero-day-ai/tideflow/internal/workflow"
)

// run is the engine-side handle of an active execution.
type run struct {
	wf          *workflow.Workflow
	executionID types.ID

	// wake nudges the coordinator after pause, resume or cancel.
	wake      chan struct{}
	cancelled atomic.Bool
}

func newRun(wf *workflow.Workflow, executionID types.ID) *run {
	return &run{
		wf:          wf,
		executionID: executionID,
		wake:        make(chan struct{}, 1),
	}
}

func (r *run) notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// runRegistry is the set of workflows currently executing in this engine.
// A cancelled run leaves runs at once but keeps its driver entry until
// Execute returns, so a workflow is never driven by two executions.
type runRegistry struct {
	mu      sync.RWMutex
	runs    map[types.ID]*run
	drivers map[types.ID]*run
}

func newRunRegistry() *runRegistry {
	return &runRegistry{
		runs:    make(map[types.ID]*run),
		drivers: make(map[types.ID]*run),
	}
}

// add registers r. It reports false while any earlier execution of the
// workflow is still draining, cancelled or not.
func (g *runRegistry) add(r *run) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.drivers[r.wf.ID]; busy {
		return false
	}
	g.runs[r.wf.ID] = r
	g.drivers[r.wf.ID] = r
	return true
}

func (g *runRegistry) get(id types.ID) (*run, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.runs[id]
	return r, ok
}

// detach hides r from the active set while its driver finishes.
func (g *runRegistry) detach(id types.ID, r *run) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.runs[id]; ok && cur == r {
		delete(g.runs, id)
	}
}

// remove drops both entries for id if they still point at r.
func (g *runRegistry) remove(id types.ID, r *run) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.runs[id]; ok && cur == r {
		delete(g.runs, id)
	}
	if cur, ok := g.drivers[id]; ok && cur == r {
		delete(g.drivers, id)
	}
}

func (g *runRegistry) list() []*run {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*run, 0, len(g.runs))
	for _, r := range g.runs {
		out = append(out, r)
	}
	return out
}

func (g *runRegistry) len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.runs)
}
