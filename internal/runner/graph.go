package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/indiebench/internal/openrouter"
)

// Task is one unit of work in a per-model graph. Dependencies name
// other task IDs; a task runs only after every dependency succeeded.
type Task struct {
	ID        string
	DependsOn []string
	Run       func(ctx context.Context) error
}

// TaskResult records the outcome of one task.
type TaskResult struct {
	ID  string
	Err error
}

// Graph schedules tasks with bounded parallelism while honoring
// dependency edges. Empty-response failures get a second layer of retry
// above the client's own transient retry loop.
type Graph struct {
	// Retries is the number of additional attempts after the first
	// empty-response failure.
	Retries int

	// Backoff is multiplied by the attempt number between retries.
	Backoff time.Duration

	tasks map[string]*Task
	order []string

	sleep func(ctx context.Context, d time.Duration) error
}

// NewGraph creates an empty graph with the default retry policy.
func NewGraph() *Graph {
	return &Graph{
		Retries: 3,
		Backoff: 5 * time.Second,
		tasks:   make(map[string]*Task),
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Add registers a task. Duplicate IDs are a programming error.
func (g *Graph) Add(t Task) error {
	if _, exists := g.tasks[t.ID]; exists {
		return fmt.Errorf("runner: duplicate task %q", t.ID)
	}
	g.tasks[t.ID] = &t
	g.order = append(g.order, t.ID)
	return nil
}

// Len returns the number of registered tasks.
func (g *Graph) Len() int { return len(g.tasks) }

// Execute runs every task, at most workers at a time, dispatching a
// task only once all of its dependencies completed successfully. A
// failed dependency fails its dependents without running them; sibling
// subgraphs continue. Returns per-task results keyed by ID.
func (g *Graph) Execute(ctx context.Context, workers int) map[string]TaskResult {
	if workers < 1 {
		workers = 1
	}

	results := make(map[string]TaskResult, len(g.tasks))
	started := make(map[string]bool, len(g.tasks))
	finished := make(chan TaskResult)

	ready := func(t *Task) (bool, error) {
		for _, dep := range t.DependsOn {
			res, done := results[dep]
			if !done {
				return false, nil
			}
			if res.Err != nil {
				return false, fmt.Errorf("dependency %s failed: %w", dep, res.Err)
			}
		}
		return true, nil
	}

	running := 0
	for len(results) < len(g.tasks) {
		// Dispatch everything runnable within the worker budget. Tasks
		// whose dependencies failed resolve immediately without a slot.
		progressed := true
		for progressed {
			progressed = false
			for _, id := range g.order {
				if started[id] {
					continue
				}
				t := g.tasks[id]
				ok, depErr := ready(t)
				if depErr != nil {
					started[id] = true
					results[id] = TaskResult{ID: id, Err: depErr}
					progressed = true
					continue
				}
				if !ok || running >= workers {
					continue
				}
				started[id] = true
				running++
				go func(t *Task) {
					finished <- TaskResult{ID: t.ID, Err: g.runWithRetry(ctx, t)}
				}(t)
			}
		}

		if len(results) == len(g.tasks) {
			break
		}
		if running == 0 {
			// Nothing runnable and nothing in flight: the remaining
			// tasks form a dependency cycle.
			for _, id := range g.order {
				if !started[id] {
					results[id] = TaskResult{ID: id, Err: fmt.Errorf("unresolvable dependencies for task %s", id)}
				}
			}
			break
		}
		res := <-finished
		running--
		results[res.ID] = res
	}
	return results
}

// runWithRetry retries empty-response failures with linear backoff; all
// other errors fail the task immediately.
func (g *Graph) runWithRetry(ctx context.Context, t *Task) error {
	var err error
	for attempt := 1; attempt <= g.Retries+1; attempt++ {
		err = t.Run(ctx)
		if err == nil || !openrouter.IsEmptyResponse(err) {
			return err
		}
		if attempt > g.Retries {
			break
		}
		if serr := g.sleep(ctx, g.Backoff*time.Duration(attempt)); serr != nil {
			return serr
		}
	}
	return err
}
