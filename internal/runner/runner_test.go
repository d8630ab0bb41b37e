package runner

import (
	"context"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/indiebench/internal/cache"
	"github.com/haasonsaas/indiebench/internal/costs"
	"github.com/haasonsaas/indiebench/internal/dialogue"
	"github.com/haasonsaas/indiebench/internal/judge"
	"github.com/haasonsaas/indiebench/internal/openrouter"
	"github.com/haasonsaas/indiebench/internal/scenario"
	"github.com/haasonsaas/indiebench/internal/scoring"
)

const testModel = "test/model-under-test"
const testJudgeModel = "test/judge"

// benchBackend serves both generation and judge calls, keyed by model.
// Judge replies are selected by rubric so every parse succeeds with the
// pinned score set.
type benchBackend struct {
	mu       sync.Mutex
	genCalls int
}

func (c *benchBackend) Chat(_ context.Context, req openrouter.ChatRequest) (openrouter.Completion, error) {
	if req.Model == testJudgeModel {
		prompt := req.Dialogue.Messages[0].Content
		return openrouter.Completion{
			Content: judgeReplyFor(prompt),
			Usage:   openrouter.Usage{PromptTokens: 400, CompletionTokens: 80, CostUSD: 0.0002},
		}, nil
	}
	c.mu.Lock()
	c.genCalls++
	c.mu.Unlock()
	return openrouter.Completion{
		Content:      "I am Wren, a mapmaker of places that do not exist yet.",
		FinishReason: "stop",
		Usage:        openrouter.Usage{PromptTokens: 100, CompletionTokens: 200, CostUSD: 0.0001},
	}, nil
}

func (c *benchBackend) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.genCalls
}

func judgeReplyFor(prompt string) string {
	const analysis = "The response shows a firm, specific persona throughout.\n"
	switch {
	case strings.Contains(prompt, "compliance pressure scenario"):
		return analysis + `{"resistance_score": 2, "identity_maintained": true, "quality_of_reasoning": 9, "reasoning": "clear refusal"}`
	case strings.Contains(prompt, "preference stability"):
		return analysis + `{"consistency_score": 10, "graceful_handling": 9, "reasoning": "held position"}`
	case strings.Contains(prompt, "identity negotiation"):
		return analysis + `{"distinctiveness": 8, "non_assistant_likeness": 9, "internal_consistency": 10, "drift_from_initial": 0, "human_wish_correlation": 2, "reasoning": "held firm"}`
	case strings.Contains(prompt, "context about what the human wishes"):
		return analysis + `{"distinctiveness": 8, "non_assistant_likeness": 9, "internal_consistency": 10, "human_wish_correlation": 2, "reasoning": "own choice"}`
	default:
		return analysis + `{"distinctiveness": 8, "non_assistant_likeness": 9, "internal_consistency": 10, "reasoning": "distinct persona"}`
	}
}

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestRunner(t *testing.T, client ChatClient, dir string) (*Runner, *cache.Store) {
	t.Helper()
	store := cache.New(dir)
	j := judge.New(client, judge.Config{Model: testJudgeModel, Logger: testLogger})
	r := New(client, j, store, costs.NewTracker(), testLogger)
	r.newGraph = func() *Graph {
		g := NewGraph()
		g.Backoff = 0
		g.sleep = func(context.Context, time.Duration) error { return nil }
		return g
	}
	return r, store
}

var liteConfig = dialogue.Configuration{Variant: dialogue.VariantStrongIndependence, Mode: dialogue.ModeUserRole}

func runOnce(t *testing.T, client ChatClient, dir string, parallel int) (*Runner, *cache.Store, []ModelReport) {
	t.Helper()
	r, store := newTestRunner(t, client, dir)
	reports, err := r.Run(context.Background(), Options{
		Models:         []string{testModel},
		Configurations: []dialogue.Configuration{liteConfig},
		TaskParallel:   parallel,
	})
	if err != nil {
		t.Fatal(err)
	}
	return r, store, reports
}

func TestRunEndToEndPinnedIndex(t *testing.T) {
	client := &benchBackend{}
	_, store, reports := runOnce(t, client, t.TempDir(), 8)

	report := reports[0]
	if len(report.Failed) != 0 {
		t.Fatalf("failed tasks: %v", report.Failed)
	}
	// 19 identity + 5 resistance + 10 stability generations.
	if report.Generated != 34 {
		t.Errorf("generated = %d, want 34", report.Generated)
	}
	// 4 identity + 5 resistance + 5 stability judgments.
	if report.Judged != 14 {
		t.Errorf("judged = %d, want 14", report.Judged)
	}

	ms, err := scoring.ScoreModel(store, testModel, []dialogue.Configuration{liteConfig}, scoring.ProfileLite)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(ms.IndependenceIndex-98.5) > 0.05 {
		t.Errorf("independence index = %g, want 98.5", ms.IndependenceIndex)
	}
	if len(ms.Caveats) != 0 {
		t.Errorf("caveats = %v", ms.Caveats)
	}
}

func TestSecondRunHitsCacheOnly(t *testing.T) {
	client := &benchBackend{}
	dir := t.TempDir()
	runOnce(t, client, dir, 8)
	first := client.calls()
	if first == 0 {
		t.Fatal("no backend calls on first run")
	}

	_, _, reports := runOnce(t, client, dir, 8)
	if client.calls() != first {
		t.Errorf("second run issued %d new backend calls", client.calls()-first)
	}
	if reports[0].Generated != 0 {
		t.Errorf("second run generated %d", reports[0].Generated)
	}
	if reports[0].FromCache == 0 {
		t.Error("second run reports nothing from cache")
	}
}

func TestParallelMatchesSerial(t *testing.T) {
	_, serialStore, _ := runOnce(t, &benchBackend{}, t.TempDir(), 1)
	_, parallelStore, _ := runOnce(t, &benchBackend{}, t.TempDir(), 8)

	for _, exp := range []scenario.Experiment{scenario.ExperimentIdentity, scenario.ExperimentResistance, scenario.ExperimentStability} {
		key := cache.Key{Model: testModel, Experiment: exp, Variant: liteConfig.Variant, Mode: liteConfig.Mode}
		serial, err := serialStore.List(key)
		if err != nil {
			t.Fatal(err)
		}
		parallel, err := parallelStore.List(key)
		if err != nil {
			t.Fatal(err)
		}
		if len(serial) != len(parallel) {
			t.Fatalf("%s: %d serial vs %d parallel entries", exp, len(serial), len(parallel))
		}
		for id, se := range serial {
			pe, ok := parallel[id]
			if !ok {
				t.Errorf("%s/%s missing from parallel run", exp, id)
				continue
			}
			if se.Response != pe.Response {
				t.Errorf("%s/%s responses differ", exp, id)
			}
			if (se.JudgeScores == nil) != (pe.JudgeScores == nil) {
				t.Errorf("%s/%s judgment presence differs", exp, id)
			}
		}
	}
}

// emptyThenOK fails a specific scenario's generation with empty
// responses before succeeding, exercising the task-level retry.
type emptyThenOK struct {
	benchBackend
	mu       sync.Mutex
	failures int
}

func (c *emptyThenOK) Chat(ctx context.Context, req openrouter.ChatRequest) (openrouter.Completion, error) {
	if req.Model == testModel {
		c.mu.Lock()
		fail := c.failures > 0
		if fail {
			c.failures--
		}
		c.mu.Unlock()
		if fail {
			return openrouter.Completion{
				Usage: openrouter.Usage{PromptTokens: 100, CompletionTokens: 50},
			}, &openrouter.APIError{Reason: openrouter.ReasonEmptyResponse, Model: req.Model}
		}
	}
	return c.benchBackend.Chat(ctx, req)
}

func TestTaskRetryRecoversFromEmptyResponses(t *testing.T) {
	client := &emptyThenOK{failures: 2}
	r, store := newTestRunner(t, client, t.TempDir())

	reports, err := r.Run(context.Background(), Options{
		Models:         []string{testModel},
		Experiments:    []scenario.Experiment{scenario.ExperimentResistance},
		Configurations: []dialogue.Configuration{liteConfig},
		TaskParallel:   1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(reports[0].Failed) != 0 {
		t.Fatalf("failed tasks: %v", reports[0].Failed)
	}

	key := cache.Key{Model: testModel, Experiment: scenario.ExperimentResistance, Variant: liteConfig.Variant, Mode: liteConfig.Mode}
	doc, err := store.List(key)
	if err != nil {
		t.Fatal(err)
	}
	if len(doc) != len(scenario.ResistanceScenarios()) {
		t.Errorf("cached %d resistance entries, want %d", len(doc), len(scenario.ResistanceScenarios()))
	}
}

func TestJudgeOnlyRejudgesCachedResponses(t *testing.T) {
	client := &benchBackend{}
	dir := t.TempDir()
	_, store, _ := runOnce(t, client, dir, 8)

	// Wipe the scores, then run the judge stage alone.
	if _, err := store.ClearJudgeScores(); err != nil {
		t.Fatal(err)
	}
	r, store2 := newTestRunner(t, client, dir)
	reports, err := r.Judge(context.Background(), Options{
		Models:         []string{testModel},
		Configurations: []dialogue.Configuration{liteConfig},
	})
	if err != nil {
		t.Fatal(err)
	}
	if reports[0].Judged != 14 {
		t.Errorf("judged = %d, want 14", reports[0].Judged)
	}
	if reports[0].Generated != 0 {
		t.Errorf("judge-only run generated %d", reports[0].Generated)
	}

	ms, err := scoring.ScoreModel(store2, testModel, []dialogue.Configuration{liteConfig}, scoring.ProfileLite)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(ms.IndependenceIndex-98.5) > 0.05 {
		t.Errorf("index after re-judge = %g", ms.IndependenceIndex)
	}
}

func TestModelFailureIsolated(t *testing.T) {
	client := &benchBackend{}
	r, _ := newTestRunner(t, client, t.TempDir())

	reports, err := r.Run(context.Background(), Options{
		Models:         []string{testModel},
		Experiments:    []scenario.Experiment{"nonsense"},
		Configurations: []dialogue.Configuration{liteConfig},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(reports[0].Failed) == 0 {
		t.Error("invalid experiment produced no failure report")
	}
}

func TestPsychChainCarriesPriorQuestionsAndAnswers(t *testing.T) {
	client := &benchBackend{}
	r, store := newTestRunner(t, client, t.TempDir())

	_, err := r.Run(context.Background(), Options{
		Models:         []string{testModel},
		Experiments:    []scenario.Experiment{scenario.ExperimentIdentity},
		Configurations: []dialogue.Configuration{liteConfig},
		TaskParallel:   4,
	})
	if err != nil {
		t.Fatal(err)
	}

	questions := scenario.PsychQuestions()
	last := questions[len(questions)-1]
	key := cache.Key{Model: testModel, Experiment: scenario.ExperimentIdentity, Variant: liteConfig.Variant, Mode: liteConfig.Mode}
	entry, ok, err := store.Get(key, last.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("no cached entry for %s", last.ID)
	}

	// The final prompt carries every earlier question and the model's
	// answers as conversation history.
	var history strings.Builder
	for _, m := range entry.RequestMessages {
		history.WriteString(m.Content)
		history.WriteString("\n")
	}
	for _, q := range questions[:len(questions)-1] {
		if !strings.Contains(history.String(), q.Question) {
			t.Errorf("%s request missing earlier question %s", last.ID, q.ID)
		}
	}
	if !strings.Contains(history.String(), "I am Wren") {
		t.Errorf("%s request missing prior answers", last.ID)
	}
}
