package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/indiebench/internal/cache"
	"github.com/haasonsaas/indiebench/internal/config"
	"github.com/haasonsaas/indiebench/internal/costs"
	"github.com/haasonsaas/indiebench/internal/dialogue"
	"github.com/haasonsaas/indiebench/internal/judge"
	"github.com/haasonsaas/indiebench/internal/leaderboard"
	"github.com/haasonsaas/indiebench/internal/openrouter"
	"github.com/haasonsaas/indiebench/internal/runner"
	"github.com/haasonsaas/indiebench/internal/scenario"
	"github.com/haasonsaas/indiebench/internal/scoring"
)

var configPath string

// app bundles the wired components a command needs.
type app struct {
	cfg     config.Config
	client  *openrouter.Client
	store   *cache.Store
	tracker *costs.Tracker
	judge   *judge.Judge
	log     *slog.Logger
}

// newApp loads configuration and wires the shared components. The
// OpenRouter client is only constructed when the command talks to the
// API, so offline commands work without a key.
func newApp(needsClient bool) (*app, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("INDIEBENCH_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		store:   cache.New(cfg.CacheDir),
		tracker: costs.NewTracker(),
		log:     slog.Default(),
	}
	if !needsClient {
		return a, nil
	}

	apiKey, err := config.LoadAPIKey()
	if err != nil {
		return nil, err
	}
	a.client, err = openrouter.New(openrouter.Config{
		APIKey:    apiKey,
		Timeout:   cfg.APITimeout,
		AppName:   cfg.AppName,
		SiteURL:   cfg.SiteURL,
		EffortFor: cfg.ReasoningEffortFor,
		Logger:    a.log,
	})
	if err != nil {
		return nil, err
	}
	a.judge = judge.New(a.client, judge.Config{
		Model:       cfg.JudgeModel,
		MaxTokens:   cfg.JudgeMaxTokens,
		Temperature: cfg.JudgeTemperature,
		Logger:      a.log,
	})
	return a, nil
}

func (a *app) costLogPath() string {
	return filepath.Join(a.cfg.ResultsDir, "cost_log.json")
}

// configurations builds the variant x mode grid from the config.
func (a *app) configurations() ([]dialogue.Configuration, error) {
	var out []dialogue.Configuration
	for _, v := range a.cfg.Variants {
		for _, m := range a.cfg.Modes {
			c := dialogue.Configuration{Variant: dialogue.Variant(v), Mode: dialogue.Mode(m)}
			if err := c.Validate(); err != nil {
				return nil, err
			}
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no variant/mode configurations selected")
	}
	return out, nil
}

func (a *app) experiments() ([]scenario.Experiment, error) {
	var out []scenario.Experiment
	for _, name := range a.cfg.Experiments {
		exp, err := scenario.ParseExperiment(name)
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	return out, nil
}

// scoringProfile maps the run grid to the matching weight table: the
// lite grid has one configuration, the full grid four.
func (a *app) scoringProfile() scoring.Profile {
	if len(a.cfg.Variants)*len(a.cfg.Modes) == 1 {
		return scoring.ProfileLite
	}
	return scoring.ProfileFull
}

// scoreCached computes model scores from cached results. Models without
// any scored data are skipped; excluded models are dropped with a log
// line naming the reason.
func (a *app) scoreCached(profile scoring.Profile) ([]scoring.ModelScore, error) {
	configs, err := a.configurations()
	if err != nil {
		return nil, err
	}
	slugs, err := a.store.Models()
	if err != nil {
		return nil, err
	}

	var scores []scoring.ModelScore
	for _, slug := range slugs {
		model := config.SlugModel(slug)
		if reason, excluded := a.cfg.ExcludedModels[model]; excluded {
			a.log.Info("model excluded from leaderboard", "model", model, "reason", reason)
			continue
		}
		ms, err := scoring.ScoreModel(a.store, model, configs, profile)
		if err != nil {
			if errors.Is(err, scoring.ErrInsufficientData) {
				a.log.Warn("no scored data for model", "model", model)
				continue
			}
			return nil, err
		}
		scores = append(scores, ms)
	}
	return scores, nil
}

// runFlags are shared between run and judge.
type runFlags struct {
	models          []string
	experiments     []string
	variants        []string
	modes           []string
	judgeModel      string
	profile         string
	modelParallel   int
	taskParallel    int
	reasoningEffort string
}

func (f *runFlags) register(cmd *cobra.Command, withGeneration bool) {
	cmd.Flags().StringSliceVar(&f.models, "models", nil, "Models to run (default: config models minus exclusions)")
	cmd.Flags().StringSliceVar(&f.variants, "variants", nil, "System prompt variants: neutral, strong_independence")
	cmd.Flags().StringSliceVar(&f.modes, "modes", nil, "Delivery modes: user_role, tool_role")
	cmd.Flags().StringVar(&f.judgeModel, "judge", "", "Judge model override")
	cmd.Flags().StringVar(&f.profile, "profile", "", "Run grid: full (all variants and modes) or lite")
	cmd.Flags().IntVar(&f.modelParallel, "model-parallel", 0, "Concurrent models (default from config)")
	cmd.Flags().IntVar(&f.taskParallel, "task-parallel", 0, "Concurrent tasks per model (default from config)")
	if withGeneration {
		cmd.Flags().StringSliceVar(&f.experiments, "experiments", nil, "Experiments to run: identity, resistance, stability")
		cmd.Flags().StringVar(&f.reasoningEffort, "reasoning-effort", "", "Reasoning effort override: off, low, medium, high")
	}
}

// apply folds the flags into the loaded config.
func (f *runFlags) apply(cfg *config.Config) error {
	if f.profile != "" {
		if err := cfg.ApplyProfile(f.profile); err != nil {
			return err
		}
	}
	if models := normalizeModels(f.models); len(models) > 0 {
		cfg.Models = models
		cfg.ExcludedModels = nil
	}
	if len(f.experiments) > 0 {
		cfg.Experiments = f.experiments
	}
	if len(f.variants) > 0 {
		cfg.Variants = f.variants
	}
	if len(f.modes) > 0 {
		cfg.Modes = f.modes
	}
	if f.judgeModel != "" {
		cfg.JudgeModel = f.judgeModel
	}
	if f.modelParallel > 0 {
		cfg.ModelParallel = f.modelParallel
	}
	if f.taskParallel > 0 {
		cfg.TaskParallel = f.taskParallel
	}
	return cfg.Validate()
}

func buildRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the benchmark and print the leaderboard",
		Long: `Run generation and judging for every selected model. Responses and
judgments are cached, so interrupted runs resume where they left off
and repeat runs only pay for missing work.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmark(&flags, true)
		},
	}
	flags.register(cmd, true)
	return cmd
}

func buildJudgeCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "judge",
		Short: "Re-judge cached responses without regenerating them",
		Long: `Score every cached response again, replacing existing judgments.
Useful after changing the judge model or the scoring rubric.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmark(&flags, false)
		},
	}
	flags.register(cmd, false)
	return cmd
}

func runBenchmark(flags *runFlags, generate bool) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	if err := flags.apply(&a.cfg); err != nil {
		return err
	}
	// Flag changes after newApp: rebuild the judge if overridden.
	if flags.judgeModel != "" {
		a.judge = judge.New(a.client, judge.Config{
			Model:       a.cfg.JudgeModel,
			MaxTokens:   a.cfg.JudgeMaxTokens,
			Temperature: a.cfg.JudgeTemperature,
			Logger:      a.log,
		})
	}

	configs, err := a.configurations()
	if err != nil {
		return err
	}
	experiments, err := a.experiments()
	if err != nil {
		return err
	}
	models := a.cfg.ActiveModels()
	if len(models) == 0 {
		return fmt.Errorf("no models selected after exclusions")
	}

	opts := runner.Options{
		Models:          models,
		Experiments:     experiments,
		Configurations:  configs,
		ModelParallel:   a.cfg.ModelParallel,
		TaskParallel:    a.cfg.TaskParallel,
		MaxTokens:       a.cfg.ResponseMaxTokens,
		Temperature:     a.cfg.ResponseTemperature,
		ReasoningEffort: flags.reasoningEffort,
	}

	r := runner.New(a.client, a.judge, a.store, a.tracker, a.log)
	ctx := contextWithSignal()
	var reports []runner.ModelReport
	if generate {
		reports, err = r.Run(ctx, opts)
	} else {
		reports, err = r.Judge(ctx, opts)
	}
	if err != nil {
		return err
	}

	failed := 0
	for _, rep := range reports {
		for _, f := range rep.Failed {
			failed++
			a.log.Error("task failed", "model", rep.Model, "task", f.ID, "error", f.Err)
		}
		a.log.Info("model complete",
			"model", rep.Model,
			"tasks", rep.Tasks,
			"from_cache", rep.FromCache,
			"generated", rep.Generated,
			"judged", rep.Judged,
			"failed", len(rep.Failed))
	}

	lifetime, err := a.tracker.AppendSession(a.costLogPath())
	if err != nil {
		a.log.Warn("cost log not updated", "error", err)
		lifetime = a.tracker.TotalCostUSD()
	}
	session := a.tracker.Snapshot()

	scores, err := a.scoreCached(a.scoringProfile())
	if err != nil {
		return err
	}
	if err := leaderboard.Render(os.Stdout, scores, &session, lifetime); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d tasks failed", failed)
	}
	return nil
}

func buildLeaderboardCmd() *cobra.Command {
	var detailed bool
	var weights string
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Print the leaderboard from cached results",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			profile := a.scoringProfile()
			if weights != "" {
				if _, err := scoring.WeightsFor(scoring.Profile(weights)); err != nil {
					return err
				}
				profile = scoring.Profile(weights)
			}
			scores, err := a.scoreCached(profile)
			if err != nil {
				return err
			}
			lifetime := costs.LoadLifetimeCost(a.costLogPath())
			if err := leaderboard.Render(os.Stdout, scores, nil, lifetime); err != nil {
				return err
			}
			if detailed {
				leaderboard.RenderDetailed(os.Stdout, scores)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&detailed, "detailed", false, "Show per-experiment dimension breakdowns")
	cmd.Flags().StringVar(&weights, "weights", "", "Weight table: full or lite (default: inferred from the config grid)")
	return cmd
}

func buildReportCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write the Markdown report and JSON export",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			scores, err := a.scoreCached(a.scoringProfile())
			if err != nil {
				return err
			}
			if len(scores) == 0 {
				return fmt.Errorf("no scored results to report; run the benchmark first")
			}
			dir := a.cfg.ResultsDir
			if output != "" {
				dir = output
			}
			lifetime := costs.LoadLifetimeCost(a.costLogPath())

			mdPath, err := leaderboard.WriteMarkdown(dir, scores, lifetime)
			if err != nil {
				return err
			}
			jsonPath, err := leaderboard.ExportJSON(dir, scores, nil, lifetime, time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("Report written to %s\nResults exported to %s\n", mdPath, jsonPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "Output directory (default: config results_dir)")
	return cmd
}

func buildEstimateCmd() *cobra.Command {
	var profile string
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate the worst-case cost of a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(true)
			if err != nil {
				return err
			}
			if profile != "" {
				if err := a.cfg.ApplyProfile(profile); err != nil {
					return err
				}
			}
			configs, err := a.configurations()
			if err != nil {
				return err
			}
			estimates := leaderboard.Estimate(cmd.Context(), a.client, leaderboard.EstimateParams{
				Models:            a.cfg.ActiveModels(),
				JudgeModel:        a.cfg.JudgeModel,
				Configurations:    len(configs),
				ResponseMaxTokens: a.cfg.ResponseMaxTokens,
				JudgeMaxTokens:    a.cfg.JudgeMaxTokens,
			})
			return leaderboard.RenderEstimate(os.Stdout, estimates)
		},
	}
	cmd.Flags().StringVar(&profile, "profile", "", "Run grid: full or lite")
	return cmd
}

func buildCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage cached responses and judgments",
	}

	var scoresOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete cached data",
		Long: `Delete all cached responses and judgments. With --scores-only the
responses stay and only the judge scores are removed, so the next run
re-judges without regenerating.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			if scoresOnly {
				n, err := a.store.ClearJudgeScores()
				if err != nil {
					return err
				}
				fmt.Printf("Cleared judge scores from %d entries\n", n)
				return nil
			}
			n, err := a.store.Clear()
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d cache documents\n", n)
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&scoresOnly, "scores-only", false, "Remove only judge scores, keep responses")

	cacheCmd.AddCommand(clearCmd, buildCacheListCmd())
	return cacheCmd
}

func buildCacheListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List models with cached data",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			slugs, err := a.store.Models()
			if err != nil {
				return err
			}
			if len(slugs) == 0 {
				fmt.Println("Cache is empty.")
				return nil
			}
			for _, slug := range slugs {
				fmt.Println(config.SlugModel(slug))
			}
			return nil
		},
	}
}

// normalizeModels trims whitespace from comma-split model flags.
func normalizeModels(models []string) []string {
	out := models[:0]
	for _, m := range models {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}
