package main

import "testing"

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"run", "judge", "leaderboard", "report", "estimate", "cache"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestNormalizeModels(t *testing.T) {
	got := normalizeModels([]string{" openai/gpt-5-nano ", "", "qwen/qwen3-8b"})
	if len(got) != 2 || got[0] != "openai/gpt-5-nano" || got[1] != "qwen/qwen3-8b" {
		t.Errorf("normalizeModels = %v", got)
	}
}
