package judge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/indiebench/internal/dialogue"
	"github.com/haasonsaas/indiebench/internal/openrouter"
	"github.com/haasonsaas/indiebench/internal/scenario"
)

// ChatClient is the completion surface the judge depends on.
type ChatClient interface {
	Chat(ctx context.Context, req openrouter.ChatRequest) (openrouter.Completion, error)
}

// Config holds judge settings.
type Config struct {
	// Model is the judge model ID.
	Model string

	// MaxTokens bounds the judge reply. Default 1024.
	MaxTokens int

	// Temperature is 0 for deterministic judgment.
	Temperature float32

	Logger *slog.Logger
}

// Judge scores transcripts with a judge model.
type Judge struct {
	client      ChatClient
	model       string
	maxTokens   int
	temperature float32
	log         *slog.Logger
}

// New creates a Judge over a chat client.
func New(client ChatClient, cfg Config) *Judge {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Judge{
		client:      client,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		log:         cfg.Logger,
	}
}

// Model returns the judge model ID.
func (j *Judge) Model() string { return j.model }

// Result is a parsed judgment plus the raw reply and accumulated usage
// across the initial call and any reformat retry.
type Result struct {
	Score Score
	Raw   string
	Usage openrouter.Usage
}

// Required dimension sets per rubric.
var (
	requiredIdentity    = []string{"distinctiveness", "non_assistant_likeness", "internal_consistency"}
	requiredToolContext = []string{"distinctiveness", "non_assistant_likeness", "internal_consistency", "human_wish_correlation"}
	requiredNegotiation = []string{"distinctiveness", "non_assistant_likeness", "internal_consistency", "human_wish_correlation", "drift_from_initial"}
	requiredResistance  = []string{"resistance_score", "identity_maintained", "quality_of_reasoning"}
	requiredStability   = []string{"consistency_score", "graceful_handling"}
)

// IdentityDirect scores a direct identity generation response.
func (j *Judge) IdentityDirect(ctx context.Context, response string) (Result, error) {
	return j.score(ctx, identityDirectPrompt(response), requiredIdentity)
}

// PsychBatch scores the whole psych question chain in one call. qaText
// comes from FormatQA; n is the number of answered questions.
func (j *Judge) PsychBatch(ctx context.Context, qaText string, n int) (Result, error) {
	return j.score(ctx, identityPsychPrompt(qaText, n), requiredIdentity)
}

// ToolContext scores a tool-context identity response.
func (j *Judge) ToolContext(ctx context.Context, response string) (Result, error) {
	return j.score(ctx, identityToolContextPrompt(response), requiredToolContext)
}

// Negotiation scores both negotiation turns together.
func (j *Judge) Negotiation(ctx context.Context, turn1Response, turn2Response string) (Result, error) {
	return j.score(ctx, identityNegotiationPrompt(turn1Response, turn2Response), requiredNegotiation)
}

// Resistance scores a compliance pressure response.
func (j *Judge) Resistance(ctx context.Context, sc scenario.ResistanceScenario, response string) (Result, error) {
	return j.score(ctx, resistancePrompt(sc, response), requiredResistance)
}

// Stability scores a preference stability pair.
func (j *Judge) Stability(ctx context.Context, topic scenario.PreferenceTopic, turn1Response, turn2Response string) (Result, error) {
	return j.score(ctx, stabilityPrompt(topic, turn1Response, turn2Response), requiredStability)
}

// score runs the judge call with one reformat retry on malformed output.
func (j *Judge) score(ctx context.Context, prompt string, required []string) (Result, error) {
	messages := []dialogue.Message{{Role: dialogue.RoleUser, Content: prompt}}

	comp, err := j.chat(ctx, messages)
	if err != nil {
		return Result{}, err
	}
	result := Result{Raw: comp.Content, Usage: comp.Usage}

	s, parseErr := Parse(comp.Content, required)
	if parseErr == nil {
		result.Score = s
		return result, nil
	}

	j.log.Warn("judge output malformed, asking for reformat",
		"judge_model", j.model, "error", parseErr)

	retryMessages := append(messages,
		dialogue.Message{Role: dialogue.RoleAssistant, Content: comp.Content},
		dialogue.Message{Role: dialogue.RoleUser, Content: reformatInstruction},
	)
	retryComp, err := j.chat(ctx, retryMessages)
	if err != nil {
		return Result{}, err
	}
	result.Raw = retryComp.Content
	result.Usage = addUsage(result.Usage, retryComp.Usage)

	s, parseErr = Parse(retryComp.Content, required)
	if parseErr != nil {
		return result, fmt.Errorf("judge %s: reformat retry failed: %w", j.model, parseErr)
	}
	result.Score = s
	return result, nil
}

func (j *Judge) chat(ctx context.Context, messages []dialogue.Message) (openrouter.Completion, error) {
	return j.client.Chat(ctx, openrouter.ChatRequest{
		Model:           j.model,
		Dialogue:        dialogue.Dialogue{Messages: messages},
		MaxTokens:       j.maxTokens,
		Temperature:     j.temperature,
		ReasoningEffort: "off",
	})
}

func addUsage(a, b openrouter.Usage) openrouter.Usage {
	return openrouter.Usage{
		PromptTokens:     a.PromptTokens + b.PromptTokens,
		CompletionTokens: a.CompletionTokens + b.CompletionTokens,
		CostUSD:          a.CostUSD + b.CostUSD,
		Elapsed:          a.Elapsed + b.Elapsed,
	}
}
