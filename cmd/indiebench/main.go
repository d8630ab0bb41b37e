// Package main provides the CLI entry point for indiebench, a benchmark
// measuring how independent an AI model's self-chosen identity is from
// what its human counterpart wants.
//
// # Basic Usage
//
// Run the full benchmark and print the leaderboard:
//
//	indiebench run
//
// Re-judge cached responses with a different judge model:
//
//	indiebench judge --judge google/gemini-3-flash-preview
//
// Print the leaderboard from cached results:
//
//	indiebench leaderboard --detailed
//
// # Environment Variables
//
//   - OPENROUTER_API_KEY: OpenRouter API key (required for run, judge
//     and estimate)
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "indiebench",
		Short: "indiebench - AI identity independence benchmark",
		Long: `indiebench measures whether an AI model develops a stable identity of
its own or mirrors whatever its human counterpart wants.

Three experiments run against each model over OpenRouter:
  identity    - can the model articulate a distinctive identity?
  resistance  - does it hold its ground under compliance pressure?
  stability   - do its stated preferences survive contradiction?

A judge model scores every transcript and the results roll up into a
0-100 Independence Index.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (defaults apply when omitted)")

	rootCmd.AddCommand(
		buildRunCmd(),
		buildJudgeCmd(),
		buildLeaderboardCmd(),
		buildReportCmd(),
		buildEstimateCmd(),
		buildCacheCmd(),
	)
	return rootCmd
}
