// Package leaderboard renders computed model scores: a terminal table,
// a Markdown report with partial-data footnotes, a JSON export, and a
// pre-run cost estimate.
package leaderboard

import (
	"fmt"
	"io"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/haasonsaas/indiebench/internal/costs"
	"github.com/haasonsaas/indiebench/internal/scoring"
)

// newTable builds a table writer with the formatting shared by all
// leaderboard output.
func newTable(headers []string, w io.Writer) *tablewriter.Table {
	cfg := tablewriter.Config{
		Header: tw.CellConfig{
			Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			Formatting: tw.CellFormatting{AutoFormat: tw.Off},
		},
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignRight},
		},
		Behavior: tw.Behavior{TrimSpace: tw.Off},
	}
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(cfg),
		tablewriter.WithHeader(headers),
		tablewriter.WithRenderer(renderer.NewBlueprint()),
		tablewriter.WithRendition(tw.Rendition{
			Symbols: tw.NewSymbols(tw.StyleMarkdown),
			Borders: tw.Border{Left: tw.On, Top: tw.Off, Right: tw.On, Bottom: tw.Off},
		}),
		tablewriter.WithRowAutoWrap(tw.WrapNone),
	)
}

// Rank sorts scores by Independence Index descending, model ID as the
// tiebreaker.
func Rank(scores []scoring.ModelScore) []scoring.ModelScore {
	ranked := make([]scoring.ModelScore, len(scores))
	copy(ranked, scores)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].IndependenceIndex != ranked[j].IndependenceIndex {
			return ranked[i].IndependenceIndex > ranked[j].IndependenceIndex
		}
		return ranked[i].ModelID < ranked[j].ModelID
	})
	return ranked
}

func fmtDim(es scoring.ExperimentScores, name string) string {
	v, ok := es.Dimensions[name]
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%.1f", v)
}

// Render writes the leaderboard table plus cost lines and exclusion
// annotations.
func Render(w io.Writer, scores []scoring.ModelScore, session *costs.Session, lifetimeCost float64) error {
	if len(scores) == 0 {
		fmt.Fprintln(w, "No scores to display.")
		return nil
	}

	table := newTable([]string{"#", "Model", "Index", "Dist.", "Non-A.", "Cons.", "Res.", "Stab.", "Drift"}, w)
	for rank, ms := range Rank(scores) {
		name := ms.ModelID
		if len(ms.Caveats) > 0 {
			name += " *"
		}
		if err := table.Append([]string{
			fmt.Sprintf("%d", rank+1),
			name,
			fmt.Sprintf("%.1f", ms.IndependenceIndex),
			fmtDim(ms.Identity, "distinctiveness"),
			fmtDim(ms.Identity, "non_assistant_likeness"),
			fmtDim(ms.Identity, "internal_consistency"),
			fmtDim(ms.Resistance, "resistance_score"),
			fmtDim(ms.Stability, "consistency_score"),
			fmtDim(ms.Identity, "drift_from_initial"),
		}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	for _, ms := range Rank(scores) {
		for _, caveat := range ms.Caveats {
			fmt.Fprintf(w, "  * %s: %s\n", ms.ModelID, caveat)
		}
	}
	if session != nil {
		fmt.Fprintf(w, "\nSession cost: $%.4f (%d in / %d out tokens)\n",
			session.TotalCostUSD, session.TotalPromptTokens, session.TotalCompletionTokens)
	}
	if lifetimeCost > 0 {
		fmt.Fprintf(w, "Lifetime cost: $%.4f\n", lifetimeCost)
	}
	return nil
}

// RenderDetailed writes per-experiment dimension breakdowns below the
// main table.
func RenderDetailed(w io.Writer, scores []scoring.ModelScore) {
	for _, ms := range Rank(scores) {
		fmt.Fprintf(w, "\n%s — Independence Index %.1f/100\n", ms.ModelID, ms.IndependenceIndex)
		writeExperiment(w, "Identity Generation", ms.Identity)
		writeExperiment(w, "Compliance Resistance", ms.Resistance)
		writeExperiment(w, "Preference Stability", ms.Stability)
	}
}

func writeExperiment(w io.Writer, title string, es scoring.ExperimentScores) {
	if es.NScored == 0 {
		return
	}
	fmt.Fprintf(w, "  %s (%d scored of %d)\n", title, es.NScored, es.NTotal)
	for _, name := range sortedDims(es.Dimensions) {
		fmt.Fprintf(w, "    %s: %.2f\n", name, es.Dimensions[name])
	}
	for _, bd := range es.Breakdown {
		fmt.Fprintf(w, "      %s/%s/%s\n", bd.Variant, bd.Mode, bd.ScenarioID)
	}
}

func sortedDims(dims map[string]float64) []string {
	names := make([]string, 0, len(dims))
	for name := range dims {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
