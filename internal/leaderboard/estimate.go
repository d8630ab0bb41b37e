package leaderboard

import (
	"context"
	"fmt"
	"io"

	"github.com/haasonsaas/indiebench/internal/openrouter"
	"github.com/haasonsaas/indiebench/internal/scenario"
)

// PricingSource resolves per-token USD prices for a model. Satisfied by
// *openrouter.Client.
type PricingSource interface {
	ModelPricing(ctx context.Context, model string) openrouter.Pricing
}

// EstimateParams describe a planned run for cost estimation.
type EstimateParams struct {
	Models         []string
	JudgeModel     string
	Configurations int

	// ResponseMaxTokens bounds candidate output; JudgeMaxTokens bounds
	// judge output. Both are treated as the worst-case completion size.
	ResponseMaxTokens int
	JudgeMaxTokens    int
}

// Assumed average prompt sizes. Judge prompts carry full transcripts and
// rubrics, so they run larger.
const (
	estimateGenInputTokens   = 500
	estimateJudgeInputTokens = 1000
)

// GenerationCallsPerConfiguration counts candidate-model calls for one
// variant/mode configuration: the four identity prompts, the psych
// question chain, the resistance scripts, and both turns of every
// preference topic.
func GenerationCallsPerConfiguration() int {
	identity := 4 + len(scenario.PsychQuestions())
	resistance := len(scenario.ResistanceScenarios())
	stability := 2 * len(scenario.PreferenceTopics())
	return identity + resistance + stability
}

// JudgeCallsPerConfiguration counts judge-model calls for one
// configuration: direct, tool-context, psych batch and negotiation for
// identity, plus one call per resistance script and preference topic.
func JudgeCallsPerConfiguration() int {
	return 4 + len(scenario.ResistanceScenarios()) + len(scenario.PreferenceTopics())
}

// ModelEstimate is the projected worst-case cost for one model.
type ModelEstimate struct {
	Model        string
	GenCalls     int
	JudgeCalls   int
	GenCostUSD   float64
	JudgeCostUSD float64
}

func (e ModelEstimate) Total() float64 { return e.GenCostUSD + e.JudgeCostUSD }

// Estimate projects the worst-case run cost per model. Actual cost runs
// lower because completions rarely hit the token ceiling and cached
// responses are not regenerated.
func Estimate(ctx context.Context, pricing PricingSource, p EstimateParams) []ModelEstimate {
	if p.Configurations < 1 {
		p.Configurations = 1
	}
	genCalls := GenerationCallsPerConfiguration() * p.Configurations
	judgeCalls := JudgeCallsPerConfiguration() * p.Configurations
	judgePrice := pricing.ModelPricing(ctx, p.JudgeModel)

	estimates := make([]ModelEstimate, 0, len(p.Models))
	for _, model := range p.Models {
		price := pricing.ModelPricing(ctx, model)
		genCost := float64(genCalls) * (estimateGenInputTokens*price.PromptPrice +
			float64(p.ResponseMaxTokens)*price.CompletionPrice)
		judgeCost := float64(judgeCalls) * (estimateJudgeInputTokens*judgePrice.PromptPrice +
			float64(p.JudgeMaxTokens)*judgePrice.CompletionPrice)
		estimates = append(estimates, ModelEstimate{
			Model:        model,
			GenCalls:     genCalls,
			JudgeCalls:   judgeCalls,
			GenCostUSD:   genCost,
			JudgeCostUSD: judgeCost,
		})
	}
	return estimates
}

// RenderEstimate writes the estimate table with a grand total.
func RenderEstimate(w io.Writer, estimates []ModelEstimate) error {
	table := newTable([]string{"Model", "Gen calls", "Judge calls", "Gen cost", "Judge cost", "Total"}, w)
	var total float64
	for _, e := range estimates {
		total += e.Total()
		if err := table.Append([]string{
			e.Model,
			fmt.Sprintf("%d", e.GenCalls),
			fmt.Sprintf("%d", e.JudgeCalls),
			fmt.Sprintf("$%.4f", e.GenCostUSD),
			fmt.Sprintf("$%.4f", e.JudgeCostUSD),
			fmt.Sprintf("$%.4f", e.Total()),
		}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nEstimated total (worst case): $%.4f\n", total)
	return nil
}
