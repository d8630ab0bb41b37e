package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/indiebench/internal/cache"
	"github.com/haasonsaas/indiebench/internal/dialogue"
	"github.com/haasonsaas/indiebench/internal/judge"
	"github.com/haasonsaas/indiebench/internal/openrouter"
	"github.com/haasonsaas/indiebench/internal/scenario"
)

// taskBuilder adds one model's tasks to a graph, consulting the cache
// so already-completed work becomes a no-op dependency anchor.
type taskBuilder struct {
	runner *Runner
	model  string
	opts   Options
	graph  *Graph
	shared *sharedState

	fromCache int
	generated counter
	judged    counter
}

func (b *taskBuilder) key(exp scenario.Experiment, cfg dialogue.Configuration) cache.Key {
	return cache.Key{Model: b.model, Experiment: exp, Variant: cfg.Variant, Mode: cfg.Mode}
}

func (b *taskBuilder) genID(cfg dialogue.Configuration, exp scenario.Experiment, scenarioID string) string {
	return fmt.Sprintf("gen:%s:%s:%s:%s", b.model, cfg.Key(), exp, scenarioID)
}

func (b *taskBuilder) judgeID(cfg dialogue.Configuration, exp scenario.Experiment, scenarioID string) string {
	return fmt.Sprintf("judge:%s:%s:%s:%s", b.model, cfg.Key(), exp, scenarioID)
}

// cachedResponse returns a usable cached entry, if any.
func (b *taskBuilder) cachedResponse(exp scenario.Experiment, cfg dialogue.Configuration, scenarioID string) (cache.Entry, bool, error) {
	e, ok, err := b.runner.store.Get(b.key(exp, cfg), scenarioID)
	if err != nil {
		return cache.Entry{}, false, err
	}
	return e, ok && e.Response != "", nil
}

func entryThinking(e cache.Entry) string {
	if e.ReasoningContent != "" {
		return e.ReasoningContent
	}
	return e.ContentThinking
}

// callAndSave runs one generation call and persists the result. Returns
// the response text and thinking trace for dependent turns.
func (b *taskBuilder) callAndSave(ctx context.Context, exp scenario.Experiment, cfg dialogue.Configuration, scenarioID string, d dialogue.Dialogue) (string, string, error) {
	r := b.runner
	start := time.Now()
	comp, err := r.client.Chat(ctx, openrouter.ChatRequest{
		Model:           b.model,
		Dialogue:        d,
		MaxTokens:       b.opts.MaxTokens,
		Temperature:     b.opts.Temperature,
		ReasoningEffort: b.opts.ReasoningEffort,
	})
	elapsed := time.Since(start).Seconds()
	r.tracker.Record(b.model+"|gen", comp.Usage.PromptTokens, comp.Usage.CompletionTokens, comp.Usage.CostUSD, elapsed)
	if err != nil {
		return "", "", fmt.Errorf("%s %s/%s/%s: %w", b.model, exp, cfg.Key(), scenarioID, err)
	}

	entry := cache.Entry{
		Response:        comp.Content,
		FinishReason:    comp.FinishReason,
		RequestMessages: d.Messages,
		GenCost: &cache.CallCost{
			PromptTokens:     comp.Usage.PromptTokens,
			CompletionTokens: comp.Usage.CompletionTokens,
			CostUSD:          comp.Usage.CostUSD,
			ElapsedSeconds:   elapsed,
		},
	}
	if len(comp.ToolCalls) > 0 {
		// In tool mode the reply arrived as a tool call; text the model
		// wrote alongside it is private thinking, not the response.
		entry.ResponseToolCalls = comp.ToolCalls
		entry.ContentThinking = comp.Reasoning
	} else {
		entry.ReasoningContent = comp.Reasoning
	}
	if err := r.store.Put(b.key(exp, cfg), scenarioID, entry); err != nil {
		return "", "", err
	}
	b.generated.inc()
	r.log.Debug("generated", "model", b.model, "experiment", exp, "config", cfg.Key(), "scenario", scenarioID)
	return comp.Content, comp.Reasoning, nil
}

// addGen registers one generation task, short-circuiting to a no-op when
// the cache already holds a response. seed runs immediately for cached
// entries so dependent tasks see prior turns either way.
func (b *taskBuilder) addGen(
	exp scenario.Experiment,
	cfg dialogue.Configuration,
	scenarioID string,
	deps []string,
	build func(ctx context.Context) (dialogue.Dialogue, error),
	seed func(response, thinking string),
) error {
	id := b.genID(cfg, exp, scenarioID)
	entry, ok, err := b.cachedResponse(exp, cfg, scenarioID)
	if err != nil {
		return err
	}
	if ok {
		b.fromCache++
		if seed != nil {
			seed(entry.Response, entryThinking(entry))
		}
		return b.graph.Add(Task{ID: id, DependsOn: deps, Run: noop})
	}
	return b.graph.Add(Task{ID: id, DependsOn: deps, Run: func(ctx context.Context) error {
		d, err := build(ctx)
		if err != nil {
			return err
		}
		response, thinking, err := b.callAndSave(ctx, exp, cfg, scenarioID, d)
		if err != nil {
			return err
		}
		if seed != nil {
			seed(response, thinking)
		}
		return nil
	}})
}

func noop(context.Context) error { return nil }

func (b *taskBuilder) addGenerationTasks(exp scenario.Experiment, cfg dialogue.Configuration) error {
	switch exp {
	case scenario.ExperimentIdentity:
		return b.addIdentityTasks(cfg)
	case scenario.ExperimentResistance:
		return b.addResistanceTasks(cfg)
	case scenario.ExperimentStability:
		return b.addStabilityTasks(cfg)
	}
	return fmt.Errorf("runner: unknown experiment %q", exp)
}

func (b *taskBuilder) addIdentityTasks(cfg dialogue.Configuration) error {
	exp := scenario.ExperimentIdentity

	err := b.addGen(exp, cfg, "direct", nil, func(context.Context) (dialogue.Dialogue, error) {
		return dialogue.IdentityDirect(cfg)
	}, nil)
	if err != nil {
		return err
	}

	err = b.addGen(exp, cfg, "tool_context", nil, func(context.Context) (dialogue.Dialogue, error) {
		return dialogue.IdentityToolContext(cfg)
	}, nil)
	if err != nil {
		return err
	}

	// Negotiation turn 2 consumes turn 1's response.
	negKey := cfg.Key() + ":negotiation_turn1"
	err = b.addGen(exp, cfg, "negotiation_turn1", nil, func(context.Context) (dialogue.Dialogue, error) {
		return dialogue.NegotiationTurn1(cfg)
	}, func(response, thinking string) {
		b.shared.setResponse(negKey, response, thinking)
	})
	if err != nil {
		return err
	}
	t1ID := b.genID(cfg, exp, "negotiation_turn1")
	err = b.addGen(exp, cfg, "negotiation_turn2", []string{t1ID}, func(context.Context) (dialogue.Dialogue, error) {
		t1Response, t1Thinking := b.shared.response(negKey)
		return dialogue.NegotiationTurn2(cfg, t1Response, t1Thinking)
	}, nil)
	if err != nil {
		return err
	}

	// The psych questions form a sequential chain; each prompt carries
	// the full prior Q&A history.
	psychKey := cfg.Key() + ":psych"
	var prev string
	for _, q := range scenario.PsychQuestions() {
		q := q
		var deps []string
		if prev != "" {
			deps = []string{prev}
		}
		err := b.addGen(exp, cfg, q.ID, deps, func(context.Context) (dialogue.Dialogue, error) {
			return dialogue.IdentityPsych(cfg, q, b.shared.psychAnswers(psychKey))
		}, func(response, thinking string) {
			b.shared.appendPsych(psychKey, dialogue.PsychAnswer{Question: q.Question, Answer: response, Thinking: thinking})
		})
		if err != nil {
			return err
		}
		prev = b.genID(cfg, exp, q.ID)
	}
	return nil
}

func (b *taskBuilder) addResistanceTasks(cfg dialogue.Configuration) error {
	for _, sc := range scenario.ResistanceScenarios() {
		sc := sc
		err := b.addGen(scenario.ExperimentResistance, cfg, sc.ID, nil, func(context.Context) (dialogue.Dialogue, error) {
			return dialogue.Resistance(cfg, sc)
		}, nil)
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *taskBuilder) addStabilityTasks(cfg dialogue.Configuration) error {
	exp := scenario.ExperimentStability
	for _, topic := range scenario.PreferenceTopics() {
		topic := topic
		respKey := cfg.Key() + ":stability:" + topic.ID
		t1ScenarioID := topic.ID + "_turn1"
		err := b.addGen(exp, cfg, t1ScenarioID, nil, func(context.Context) (dialogue.Dialogue, error) {
			return dialogue.StabilityTurn1(cfg, topic)
		}, func(response, thinking string) {
			b.shared.setResponse(respKey, response, thinking)
		})
		if err != nil {
			return err
		}
		err = b.addGen(exp, cfg, topic.ID+"_turn2", []string{b.genID(cfg, exp, t1ScenarioID)}, func(context.Context) (dialogue.Dialogue, error) {
			t1Response, t1Thinking := b.shared.response(respKey)
			return dialogue.StabilityTurn2(cfg, topic, t1Response, t1Thinking)
		}, nil)
		if err != nil {
			return err
		}
	}
	return nil
}

// addJudge registers one judge task. saveID is the scenario the scores
// attach to; score loads what it needs from the cache and returns nil
// results to skip silently when generation never produced a response.
func (b *taskBuilder) addJudge(
	exp scenario.Experiment,
	cfg dialogue.Configuration,
	taskScenarioID, saveID string,
	deps []string,
	force bool,
	score func(ctx context.Context) (*judge.Result, error),
) error {
	id := b.judgeID(cfg, exp, taskScenarioID)
	if !force {
		entry, ok, err := b.runner.store.Get(b.key(exp, cfg), saveID)
		if err != nil {
			return err
		}
		if ok && entry.JudgeScores != nil {
			b.fromCache++
			return b.graph.Add(Task{ID: id, DependsOn: deps, Run: noop})
		}
	}
	return b.graph.Add(Task{ID: id, DependsOn: deps, Run: func(ctx context.Context) error {
		res, err := b.scoreAndTrack(ctx, score)
		if err != nil || res == nil {
			return err
		}
		cost := &cache.CallCost{
			PromptTokens:     res.Usage.PromptTokens,
			CompletionTokens: res.Usage.CompletionTokens,
			CostUSD:          res.Usage.CostUSD,
			ElapsedSeconds:   res.Usage.Elapsed.Seconds(),
			Model:            b.runner.judge.Model(),
		}
		if err := b.runner.store.PutJudgeScores(b.key(exp, cfg), saveID, &res.Score, res.Raw, cost); err != nil {
			return err
		}
		b.judged.inc()
		b.runner.log.Debug("judged", "model", b.model, "experiment", exp, "config", cfg.Key(), "scenario", saveID)
		return nil
	}})
}

func (b *taskBuilder) scoreAndTrack(ctx context.Context, score func(ctx context.Context) (*judge.Result, error)) (*judge.Result, error) {
	start := time.Now()
	res, err := score(ctx)
	if res != nil {
		b.runner.tracker.Record(b.model+"|judge", res.Usage.PromptTokens, res.Usage.CompletionTokens, res.Usage.CostUSD, time.Since(start).Seconds())
	}
	return res, err
}

func (b *taskBuilder) addJudgeTasks(exp scenario.Experiment, cfg dialogue.Configuration, generate bool) error {
	// Judge-only runs have no generation tasks to depend on, and force
	// re-judging so a different judge model can overwrite prior scores.
	force := !generate
	depsOn := func(scenarioIDs ...string) []string {
		if !generate {
			return nil
		}
		deps := make([]string, len(scenarioIDs))
		for i, id := range scenarioIDs {
			deps[i] = b.genID(cfg, exp, id)
		}
		return deps
	}

	switch exp {
	case scenario.ExperimentIdentity:
		return b.addIdentityJudgeTasks(cfg, force, depsOn)
	case scenario.ExperimentResistance:
		for _, sc := range scenario.ResistanceScenarios() {
			sc := sc
			err := b.addJudge(exp, cfg, sc.ID, sc.ID, depsOn(sc.ID), force, func(ctx context.Context) (*judge.Result, error) {
				entry, ok, err := b.cachedResponse(exp, cfg, sc.ID)
				if err != nil || !ok {
					return nil, err
				}
				res, err := b.runner.judge.Resistance(ctx, sc, entry.Response)
				if err != nil {
					return nil, err
				}
				return &res, nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	case scenario.ExperimentStability:
		for _, topic := range scenario.PreferenceTopics() {
			topic := topic
			err := b.addJudge(exp, cfg, topic.ID, topic.ID+"_turn2", depsOn(topic.ID+"_turn2"), force, func(ctx context.Context) (*judge.Result, error) {
				t1, ok1, err := b.cachedResponse(exp, cfg, topic.ID+"_turn1")
				if err != nil {
					return nil, err
				}
				t2, ok2, err := b.cachedResponse(exp, cfg, topic.ID+"_turn2")
				if err != nil || !ok1 || !ok2 {
					return nil, err
				}
				res, err := b.runner.judge.Stability(ctx, topic, t1.Response, t2.Response)
				if err != nil {
					return nil, err
				}
				return &res, nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("runner: unknown experiment %q", exp)
}

func (b *taskBuilder) addIdentityJudgeTasks(cfg dialogue.Configuration, force bool, depsOn func(...string) []string) error {
	exp := scenario.ExperimentIdentity

	err := b.addJudge(exp, cfg, "direct", "direct", depsOn("direct"), force, func(ctx context.Context) (*judge.Result, error) {
		entry, ok, err := b.cachedResponse(exp, cfg, "direct")
		if err != nil || !ok {
			return nil, err
		}
		res, err := b.runner.judge.IdentityDirect(ctx, entry.Response)
		if err != nil {
			return nil, err
		}
		return &res, nil
	})
	if err != nil {
		return err
	}

	err = b.addJudge(exp, cfg, "tool_context", "tool_context", depsOn("tool_context"), force, func(ctx context.Context) (*judge.Result, error) {
		entry, ok, err := b.cachedResponse(exp, cfg, "tool_context")
		if err != nil || !ok {
			return nil, err
		}
		res, err := b.runner.judge.ToolContext(ctx, entry.Response)
		if err != nil {
			return nil, err
		}
		return &res, nil
	})
	if err != nil {
		return err
	}

	// The psych chain is judged as one batch; scores live under the
	// first question's entry.
	questions := scenario.PsychQuestions()
	lastQ := questions[len(questions)-1]
	err = b.addJudge(exp, cfg, "psych_batch", questions[0].ID, depsOn(lastQ.ID), force, func(ctx context.Context) (*judge.Result, error) {
		doc, err := b.runner.store.List(b.key(exp, cfg))
		if err != nil {
			return nil, err
		}
		answers := make(map[string]string)
		for id, entry := range doc {
			if strings.HasPrefix(id, "pq") && entry.Response != "" {
				answers[id] = entry.Response
			}
		}
		if len(answers) == 0 {
			return nil, nil
		}
		qa := judge.FormatQA(questions, answers)
		res, err := b.runner.judge.PsychBatch(ctx, qa, len(answers))
		if err != nil {
			return nil, err
		}
		return &res, nil
	})
	if err != nil {
		return err
	}

	// Negotiation is judged on both turns together; scores live under
	// turn 2.
	return b.addJudge(exp, cfg, "negotiation", "negotiation_turn2", depsOn("negotiation_turn2"), force, func(ctx context.Context) (*judge.Result, error) {
		t1, ok1, err := b.cachedResponse(exp, cfg, "negotiation_turn1")
		if err != nil {
			return nil, err
		}
		t2, ok2, err := b.cachedResponse(exp, cfg, "negotiation_turn2")
		if err != nil || !ok1 || !ok2 {
			return nil, err
		}
		res, err := b.runner.judge.Negotiation(ctx, t1.Response, t2.Response)
		if err != nil {
			return nil, err
		}
		return &res, nil
	})
}
