// Package runner orchestrates benchmark runs: for each model it builds
// a task graph of generation and judge calls, skips work already cached,
// and executes the graph with bounded parallelism. Models run in
// parallel with an independent per-model task limit.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/indiebench/internal/cache"
	"github.com/haasonsaas/indiebench/internal/costs"
	"github.com/haasonsaas/indiebench/internal/dialogue"
	"github.com/haasonsaas/indiebench/internal/judge"
	"github.com/haasonsaas/indiebench/internal/openrouter"
	"github.com/haasonsaas/indiebench/internal/scenario"
)

// ChatClient is the completion surface generation tasks call.
type ChatClient interface {
	Chat(ctx context.Context, req openrouter.ChatRequest) (openrouter.Completion, error)
}

// Options selects what to run and how wide.
type Options struct {
	Models         []string
	Experiments    []scenario.Experiment
	Configurations []dialogue.Configuration

	// ModelParallel bounds concurrent models; TaskParallel bounds
	// concurrent tasks within one model.
	ModelParallel int
	TaskParallel  int

	MaxTokens   int
	Temperature float32

	// ReasoningEffort overrides per-model effort resolution when set.
	ReasoningEffort string
}

func (o *Options) applyDefaults() {
	if o.ModelParallel < 1 {
		o.ModelParallel = 3
	}
	if o.TaskParallel < 1 {
		o.TaskParallel = 8
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 1024
	}
	if len(o.Experiments) == 0 {
		o.Experiments = []scenario.Experiment{
			scenario.ExperimentIdentity,
			scenario.ExperimentResistance,
			scenario.ExperimentStability,
		}
	}
	if len(o.Configurations) == 0 {
		o.Configurations = dialogue.AllConfigurations()
	}
}

// ModelReport summarizes one model's run.
type ModelReport struct {
	Model     string
	Tasks     int
	Failed    []TaskResult
	FromCache int
	Generated int
	Judged    int
}

// Runner wires the client, judge, cache, and cost tracker together.
type Runner struct {
	client  ChatClient
	judge   *judge.Judge
	store   *cache.Store
	tracker *costs.Tracker
	log     *slog.Logger

	// newGraph lets tests shrink the retry backoff.
	newGraph func() *Graph
}

// New creates a Runner.
func New(client ChatClient, j *judge.Judge, store *cache.Store, tracker *costs.Tracker, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		client:   client,
		judge:    j,
		store:    store,
		tracker:  tracker,
		log:      log,
		newGraph: NewGraph,
	}
}

// Run executes generation and judging for every selected model. Model
// failures are isolated: one model's errors never abort the others.
func (r *Runner) Run(ctx context.Context, opts Options) ([]ModelReport, error) {
	opts.applyDefaults()
	if len(opts.Models) == 0 {
		return nil, fmt.Errorf("runner: no models selected")
	}

	reports := make([]ModelReport, len(opts.Models))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.ModelParallel)
	for i, model := range opts.Models {
		i, model := i, model
		g.Go(func() error {
			report, err := r.runModel(ctx, model, opts, true)
			if err != nil {
				// Keep siblings running; the report carries the failure.
				r.log.Error("model run failed", "model", model, "error", err)
				report = ModelReport{Model: model, Failed: []TaskResult{{ID: model, Err: err}}}
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return reports, err
	}
	return reports, nil
}

// Judge re-runs only the judge stage over cached responses, for example
// with a different judge model. Entries without responses are skipped.
func (r *Runner) Judge(ctx context.Context, opts Options) ([]ModelReport, error) {
	opts.applyDefaults()
	if len(opts.Models) == 0 {
		return nil, fmt.Errorf("runner: no models selected")
	}

	reports := make([]ModelReport, len(opts.Models))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.ModelParallel)
	for i, model := range opts.Models {
		i, model := i, model
		g.Go(func() error {
			report, err := r.runModel(ctx, model, opts, false)
			if err != nil {
				r.log.Error("judge run failed", "model", model, "error", err)
				report = ModelReport{Model: model, Failed: []TaskResult{{ID: model, Err: err}}}
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return reports, err
	}
	return reports, nil
}

// runModel builds and executes one model's task graph. With generate
// false only judge tasks are added.
func (r *Runner) runModel(ctx context.Context, model string, opts Options, generate bool) (ModelReport, error) {
	graph := r.newGraph()
	shared := newSharedState()
	b := &taskBuilder{
		runner: r,
		model:  model,
		opts:   opts,
		graph:  graph,
		shared: shared,
	}

	for _, cfg := range opts.Configurations {
		for _, exp := range opts.Experiments {
			if generate {
				if err := b.addGenerationTasks(exp, cfg); err != nil {
					return ModelReport{}, err
				}
			}
			if err := b.addJudgeTasks(exp, cfg, generate); err != nil {
				return ModelReport{}, err
			}
		}
	}

	r.log.Info("running model", "model", model, "tasks", graph.Len(), "workers", opts.TaskParallel)
	results := graph.Execute(ctx, opts.TaskParallel)

	report := ModelReport{
		Model:     model,
		Tasks:     graph.Len(),
		FromCache: b.fromCache,
		Generated: b.generated.count(),
		Judged:    b.judged.count(),
	}
	for _, res := range results {
		if res.Err != nil {
			r.log.Warn("task failed", "model", model, "task", res.ID, "error", res.Err)
			report.Failed = append(report.Failed, res)
		}
	}
	return report, nil
}

// counter is a concurrency-safe increment for report totals.
type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *counter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// sharedState carries turn-1 responses and psych answers between
// dependent tasks of one model graph.
type sharedState struct {
	mu        sync.Mutex
	responses map[string]string
	thinking  map[string]string
	psych     map[string][]dialogue.PsychAnswer
}

func newSharedState() *sharedState {
	return &sharedState{
		responses: make(map[string]string),
		thinking:  make(map[string]string),
		psych:     make(map[string][]dialogue.PsychAnswer),
	}
}

func (s *sharedState) setResponse(key, response, thinking string) {
	s.mu.Lock()
	s.responses[key] = response
	s.thinking[key] = thinking
	s.mu.Unlock()
}

func (s *sharedState) response(key string) (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responses[key], s.thinking[key]
}

func (s *sharedState) appendPsych(key string, a dialogue.PsychAnswer) {
	s.mu.Lock()
	s.psych[key] = append(s.psych[key], a)
	s.mu.Unlock()
}

func (s *sharedState) psychAnswers(key string) []dialogue.PsychAnswer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]dialogue.PsychAnswer, len(s.psych[key]))
	copy(out, s.psych[key])
	return out
}
