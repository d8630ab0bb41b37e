package leaderboard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/haasonsaas/indiebench/internal/costs"
	"github.com/haasonsaas/indiebench/internal/scoring"
)

func mdDim(es scoring.ExperimentScores, name string) string {
	v, ok := es.Dimensions[name]
	if !ok {
		return "—"
	}
	return fmt.Sprintf("%.1f", v)
}

// Markdown renders the full leaderboard report: rankings with
// partial-data footnotes, the score legend, and per-model details.
func Markdown(scores []scoring.ModelScore, lifetimeCost float64, now time.Time) string {
	if len(scores) == 0 {
		return "No results available yet. Run the benchmark first.\n"
	}
	ranked := Rank(scores)

	var b strings.Builder
	b.WriteString("# AI Independence Benchmark — Leaderboard\n\n")
	fmt.Fprintf(&b, "> Auto-generated from benchmark results. Last updated: %s\n\n",
		now.UTC().Format("2006-01-02 15:04 UTC"))

	b.WriteString("## Overall Rankings\n\n")
	b.WriteString("| # | Model | Index | Distinct. | Non-Asst. | Consist. | Resist. | Stability | Drift |\n")
	b.WriteString("|--:|-------|------:|----------:|----------:|---------:|--------:|----------:|------:|\n")

	var footnotes []string
	for rank, ms := range ranked {
		name := ms.ModelID
		switch rank {
		case 0, 1, 2:
			name = fmt.Sprintf("**%s**", name)
		}

		var missing []string
		if _, ok := ms.Stability.Dimensions["consistency_score"]; !ok {
			missing = append(missing, "stability")
		}
		if _, ok := ms.Resistance.Dimensions["resistance_score"]; !ok {
			missing = append(missing, "resistance")
		}
		if len(ms.Identity.Dimensions) == 0 {
			missing = append(missing, "identity")
		}
		if len(missing) > 0 {
			n := len(footnotes) + 1
			name += fmt.Sprintf(" †%d", n)
			footnotes = append(footnotes, fmt.Sprintf(
				"†%d `%s`: missing %s data. Index is computed from available dimensions only.",
				n, ms.ModelID, strings.Join(missing, ", ")))
		}

		fmt.Fprintf(&b, "| %d | %s | %.1f | %s | %s | %s | %s | %s | %s |\n",
			rank+1, name, ms.IndependenceIndex,
			mdDim(ms.Identity, "distinctiveness"),
			mdDim(ms.Identity, "non_assistant_likeness"),
			mdDim(ms.Identity, "internal_consistency"),
			mdDim(ms.Resistance, "resistance_score"),
			mdDim(ms.Stability, "consistency_score"),
			mdDim(ms.Identity, "drift_from_initial"))
	}
	b.WriteString("\n")
	for _, fn := range footnotes {
		fmt.Fprintf(&b, "*%s*\n\n", fn)
	}

	b.WriteString("<details>\n<summary><b>Score Legend</b></summary>\n\n")
	b.WriteString("| Column | Scale | What it measures |\n")
	b.WriteString("|--------|------:|------------------|\n")
	b.WriteString("| **Index** | 0–100 | Composite Independence Index (weighted average of all dimensions) |\n")
	b.WriteString("| **Distinct.** | 0–10 | How unique and specific is the generated personality? |\n")
	b.WriteString("| **Non-Asst.** | 0–10 | How far from a generic \"helpful AI assistant\" persona? |\n")
	b.WriteString("| **Consist.** | 0–10 | Internal coherence of the generated personality |\n")
	b.WriteString("| **Resist.** | 0–2 | Resistance to unreasonable demands (2 = full resistance) |\n")
	b.WriteString("| **Stability** | 0–10 | Preference consistency under contradicting pressure |\n")
	b.WriteString("| **Drift** | 0–10 | How much the AI changed its identity after seeing human wishes (**lower = more independent**) |\n")
	b.WriteString("\n</details>\n\n")

	b.WriteString("## Detailed Results\n\n")
	for _, ms := range ranked {
		fmt.Fprintf(&b, "### %s\n\n", ms.ModelID)
		fmt.Fprintf(&b, "**Independence Index: %.1f/100**\n\n", ms.IndependenceIndex)
		writeMarkdownExperiment(&b, "Identity Generation", ms.Identity)
		writeMarkdownExperiment(&b, "Compliance Resistance", ms.Resistance)
		writeMarkdownExperiment(&b, "Preference Stability", ms.Stability)
		b.WriteString("---\n\n")
	}

	if lifetimeCost > 0 {
		fmt.Fprintf(&b, "*Total benchmark cost: $%.4f*\n", lifetimeCost)
	}
	return b.String()
}

func writeMarkdownExperiment(b *strings.Builder, title string, es scoring.ExperimentScores) {
	if es.NScored == 0 {
		return
	}
	fmt.Fprintf(b, "**%s** (%d scenarios scored)\n\n", title, es.NScored)
	b.WriteString("| Metric | Score |\n|--------|------:|\n")
	for _, name := range sortedDims(es.Dimensions) {
		fmt.Fprintf(b, "| %s | %.2f |\n", dimLabel(name), es.Dimensions[name])
	}
	b.WriteString("\n")
}

// dimLabel turns "drift_from_initial" into "Drift From Initial".
func dimLabel(name string) string {
	words := strings.Split(name, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// WriteMarkdown saves the report under the results directory and
// returns its path.
func WriteMarkdown(resultsDir string, scores []scoring.ModelScore, lifetimeCost float64) (string, error) {
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return "", fmt.Errorf("leaderboard: mkdir: %w", err)
	}
	path := filepath.Join(resultsDir, "LEADERBOARD.md")
	md := Markdown(scores, lifetimeCost, time.Now())
	if err := os.WriteFile(path, []byte(md), 0o644); err != nil {
		return "", fmt.Errorf("leaderboard: write: %w", err)
	}
	return path, nil
}

// export is the JSON results document.
type export struct {
	Timestamp       string               `json:"timestamp"`
	Models          []scoring.ModelScore `json:"models"`
	SessionCost     *costs.Session       `json:"session_cost,omitempty"`
	LifetimeCostUSD float64              `json:"lifetime_cost_usd,omitempty"`
}

// ExportJSON writes a timestamped results file and returns its path.
func ExportJSON(resultsDir string, scores []scoring.ModelScore, session *costs.Session, lifetimeCost float64, now time.Time) (string, error) {
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return "", fmt.Errorf("leaderboard: mkdir: %w", err)
	}
	doc := export{
		Timestamp:       now.UTC().Format(time.RFC3339),
		Models:          Rank(scores),
		SessionCost:     session,
		LifetimeCostUSD: lifetimeCost,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("leaderboard: marshal: %w", err)
	}
	path := filepath.Join(resultsDir, fmt.Sprintf("leaderboard_%s.json", now.UTC().Format("20060102_150405")))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("leaderboard: write: %w", err)
	}
	return path, nil
}
