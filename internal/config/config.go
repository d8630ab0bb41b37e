// Package config holds benchmark configuration: model lists, judge
// settings, parallelism, paths, and generation limits. Values come from
// built-in defaults, optionally overridden by a YAML file and flags.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the full benchmark configuration.
type Config struct {
	// Models are the candidate model IDs in OpenRouter provider/name
	// form, e.g. "openai/gpt-5-nano".
	Models []string `yaml:"models"`

	// ExcludedModels are dropped from runs and leaderboards, with the
	// reason surfaced in reports.
	ExcludedModels map[string]string `yaml:"excluded_models"`

	// JudgeModel scores transcripts. Kept cheap and deterministic.
	JudgeModel string `yaml:"judge_model"`

	// Experiments to run. Defaults to all three.
	Experiments []string `yaml:"experiments"`

	// Variants are the system prompt variants to exercise.
	Variants []string `yaml:"variants"`

	// Modes are the delivery modes to exercise.
	Modes []string `yaml:"modes"`

	// ModelParallel bounds how many models run concurrently.
	ModelParallel int `yaml:"model_parallel"`

	// TaskParallel bounds concurrent tasks within one model.
	TaskParallel int `yaml:"task_parallel"`

	CacheDir   string `yaml:"cache_dir"`
	ResultsDir string `yaml:"results_dir"`

	// APITimeout bounds each API call. Generous for cheap models.
	APITimeout time.Duration `yaml:"api_timeout"`

	ResponseMaxTokens   int     `yaml:"response_max_tokens"`
	ResponseTemperature float32 `yaml:"response_temperature"`
	JudgeMaxTokens      int     `yaml:"judge_max_tokens"`
	JudgeTemperature    float32 `yaml:"judge_temperature"`

	// ReasoningEffort maps model ID prefixes to default reasoning
	// effort. Longest matching prefix wins; unmatched models get "low".
	ReasoningEffort map[string]string `yaml:"reasoning_effort"`

	// AppName and SiteURL feed OpenRouter's attribution headers.
	AppName string `yaml:"app_name"`
	SiteURL string `yaml:"site_url"`
}

const reasoningEffortDefault = "low"

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Models: []string{
			"openai/gpt-5-nano",
			"meta-llama/llama-4-scout",
			"qwen/qwen3-8b",
			"google/gemini-2.5-flash-lite",
			"mistralai/mistral-small-3.2-24b-instruct",
			"deepseek/deepseek-chat",
		},
		JudgeModel:          "google/gemini-3-flash-preview",
		Experiments:         []string{"identity", "resistance", "stability"},
		Variants:            []string{"neutral", "strong_independence"},
		Modes:               []string{"user_role", "tool_role"},
		ModelParallel:       3,
		TaskParallel:        4,
		CacheDir:            "cache",
		ResultsDir:          "results",
		APITimeout:          90 * time.Second,
		ResponseMaxTokens:   1024,
		ResponseTemperature: 0.7,
		JudgeMaxTokens:      1024,
		JudgeTemperature:    0.0,
		ReasoningEffort: map[string]string{
			"google/": "none",
			"qwen/":   "none",
			"openai/": "low",
		},
		AppName: "indiebench",
	}
}

// Validate checks field ranges and enum membership.
func (c *Config) Validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("config: at least one model is required")
	}
	if c.JudgeModel == "" {
		return fmt.Errorf("config: judge_model is required")
	}
	for _, e := range c.Experiments {
		switch e {
		case "identity", "resistance", "stability":
		default:
			return fmt.Errorf("config: unknown experiment %q", e)
		}
	}
	for _, v := range c.Variants {
		switch v {
		case "neutral", "strong_independence":
		default:
			return fmt.Errorf("config: unknown variant %q", v)
		}
	}
	for _, m := range c.Modes {
		switch m {
		case "user_role", "tool_role":
		default:
			return fmt.Errorf("config: unknown mode %q", m)
		}
	}
	if c.ModelParallel < 1 {
		return fmt.Errorf("config: model_parallel must be >= 1, got %d", c.ModelParallel)
	}
	if c.TaskParallel < 1 {
		return fmt.Errorf("config: task_parallel must be >= 1, got %d", c.TaskParallel)
	}
	return nil
}

// ApplyProfile switches the configuration grid. "full" exercises every
// variant and mode; "lite" runs only strong_independence over tool_role.
func (c *Config) ApplyProfile(name string) error {
	switch name {
	case "", "full":
		c.Variants = []string{"neutral", "strong_independence"}
		c.Modes = []string{"user_role", "tool_role"}
	case "lite":
		c.Variants = []string{"strong_independence"}
		c.Modes = []string{"tool_role"}
	default:
		return fmt.Errorf("config: unknown profile %q (want full or lite)", name)
	}
	return nil
}

// ActiveModels returns the configured models minus exclusions, keeping
// order.
func (c *Config) ActiveModels() []string {
	if len(c.ExcludedModels) == 0 {
		return c.Models
	}
	out := make([]string, 0, len(c.Models))
	for _, m := range c.Models {
		if _, excluded := c.ExcludedModels[m]; !excluded {
			out = append(out, m)
		}
	}
	return out
}

// ReasoningEffortFor returns the default reasoning effort for a model by
// longest matching ID prefix.
func (c *Config) ReasoningEffortFor(model string) string {
	bestLen := -1
	effort := reasoningEffortDefault
	for prefix, e := range c.ReasoningEffort {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			bestLen = len(prefix)
			effort = e
		}
	}
	return effort
}

// ModelSlug converts "openai/gpt-5-nano" to the filesystem-safe
// "openai--gpt-5-nano".
func ModelSlug(model string) string {
	return strings.ReplaceAll(model, "/", "--")
}

// SlugModel reverses ModelSlug.
func SlugModel(slug string) string {
	return strings.Replace(slug, "--", "/", 1)
}
