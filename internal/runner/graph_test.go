package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/indiebench/internal/openrouter"
)

func quietGraph() *Graph {
	g := NewGraph()
	g.Backoff = 0
	g.sleep = func(context.Context, time.Duration) error { return nil }
	return g
}

func TestGraphRespectsDependencyOrder(t *testing.T) {
	g := quietGraph()
	var mu sync.Mutex
	var order []string
	record := func(id string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return nil
		}
	}

	g.Add(Task{ID: "t1", Run: record("t1")})
	g.Add(Task{ID: "t2", DependsOn: []string{"t1"}, Run: record("t2")})
	g.Add(Task{ID: "t3", DependsOn: []string{"t2"}, Run: record("t3")})

	results := g.Execute(context.Background(), 4)
	for id, res := range results {
		if res.Err != nil {
			t.Fatalf("%s: %v", id, res.Err)
		}
	}
	if len(order) != 3 || order[0] != "t1" || order[1] != "t2" || order[2] != "t3" {
		t.Errorf("execution order = %v", order)
	}
}

func TestGraphDependencyFailurePropagates(t *testing.T) {
	g := quietGraph()
	boom := errors.New("boom")
	ran := false

	g.Add(Task{ID: "a", Run: func(context.Context) error { return boom }})
	g.Add(Task{ID: "b", DependsOn: []string{"a"}, Run: func(context.Context) error {
		ran = true
		return nil
	}})
	// An independent sibling still runs.
	siblingRan := false
	g.Add(Task{ID: "c", Run: func(context.Context) error {
		siblingRan = true
		return nil
	}})

	results := g.Execute(context.Background(), 4)
	if ran {
		t.Error("dependent task ran despite failed dependency")
	}
	if !siblingRan {
		t.Error("independent sibling did not run")
	}
	if res := results["b"]; res.Err == nil || !strings.Contains(res.Err.Error(), "dependency a failed") {
		t.Errorf("b error = %v", res.Err)
	}
	if !errors.Is(results["b"].Err, boom) {
		t.Error("dependency error not wrapped")
	}
}

func TestGraphRetriesEmptyResponse(t *testing.T) {
	g := quietGraph()
	g.Retries = 3
	calls := 0
	g.Add(Task{ID: "t", Run: func(context.Context) error {
		calls++
		if calls < 3 {
			return &openrouter.APIError{Reason: openrouter.ReasonEmptyResponse, Model: "m"}
		}
		return nil
	}})

	results := g.Execute(context.Background(), 1)
	if results["t"].Err != nil {
		t.Fatalf("err = %v", results["t"].Err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestGraphEmptyResponseExhausted(t *testing.T) {
	g := quietGraph()
	g.Retries = 2
	calls := 0
	g.Add(Task{ID: "t", Run: func(context.Context) error {
		calls++
		return &openrouter.APIError{Reason: openrouter.ReasonEmptyResponse, Model: "m"}
	}})

	results := g.Execute(context.Background(), 1)
	if !openrouter.IsEmptyResponse(results["t"].Err) {
		t.Fatalf("err = %v", results["t"].Err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (first + 2 retries)", calls)
	}
}

func TestGraphDoesNotRetryOtherErrors(t *testing.T) {
	g := quietGraph()
	calls := 0
	g.Add(Task{ID: "t", Run: func(context.Context) error {
		calls++
		return errors.New("bad prompt")
	}})

	g.Execute(context.Background(), 1)
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestGraphDetectsCycle(t *testing.T) {
	g := quietGraph()
	g.Add(Task{ID: "a", DependsOn: []string{"b"}, Run: noop})
	g.Add(Task{ID: "b", DependsOn: []string{"a"}, Run: noop})

	results := g.Execute(context.Background(), 2)
	if results["a"].Err == nil || results["b"].Err == nil {
		t.Error("cycle not reported")
	}
}

func TestGraphWorkerLimit(t *testing.T) {
	g := quietGraph()
	var mu sync.Mutex
	current, peak := 0, 0

	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		g.Add(Task{ID: id, Run: func(context.Context) error {
			mu.Lock()
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			current--
			mu.Unlock()
			return nil
		}})
	}

	g.Execute(context.Background(), 2)
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestGraphDuplicateTaskRejected(t *testing.T) {
	g := quietGraph()
	if err := g.Add(Task{ID: "t", Run: noop}); err != nil {
		t.Fatal(err)
	}
	if err := g.Add(Task{ID: "t", Run: noop}); err == nil {
		t.Error("duplicate task accepted")
	}
}
