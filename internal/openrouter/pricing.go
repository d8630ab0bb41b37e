package openrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Pricing holds per-token USD prices for one model.
type Pricing struct {
	PromptPrice     float64
	CompletionPrice float64
}

// modelCatalogEntry mirrors the relevant parts of OpenRouter's /models
// response. Prices arrive as decimal strings.
type modelCatalogEntry struct {
	ID      string `json:"id"`
	Pricing struct {
		Prompt     string `json:"prompt"`
		Completion string `json:"completion"`
	} `json:"pricing"`
	SupportedParameters []string `json:"supported_parameters"`
}

// FetchPricing loads the model catalog once and caches prices and
// reasoning support in memory. Subsequent calls are no-ops.
func (c *Client) FetchPricing(ctx context.Context) error {
	c.mu.Lock()
	loaded := len(c.pricing) > 0
	c.mu.Unlock()
	if loaded {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("openrouter: build models request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return NewAPIError("", fmt.Errorf("fetch model catalog: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{
			Reason:  classifyStatus(resp.StatusCode),
			Status:  resp.StatusCode,
			Message: "fetch model catalog",
		}
	}

	var payload struct {
		Data []modelCatalogEntry `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("openrouter: decode model catalog: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range payload.Data {
		prompt, _ := strconv.ParseFloat(m.Pricing.Prompt, 64)
		completion, _ := strconv.ParseFloat(m.Pricing.Completion, 64)
		c.pricing[m.ID] = Pricing{PromptPrice: prompt, CompletionPrice: completion}
		for _, p := range m.SupportedParameters {
			if p == "reasoning" {
				c.reasoning[m.ID] = true
				break
			}
		}
	}
	return nil
}

// SetPricing seeds the catalog directly. Tests only.
func (c *Client) SetPricing(model string, p Pricing, supportsReasoning bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pricing[model] = p
	if supportsReasoning {
		c.reasoning[model] = true
	}
}

// ModelPricing returns cached pricing for a model, fetching the catalog
// on first use. Unknown models price at zero.
func (c *Client) ModelPricing(ctx context.Context, model string) Pricing {
	return c.pricingFor(ctx, model)
}

func (c *Client) pricingFor(ctx context.Context, model string) Pricing {
	if err := c.FetchPricing(ctx); err != nil {
		c.log.Warn("pricing unavailable, costs will read zero", "error", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pricing[model]
}

// SupportsReasoning reports whether the catalog lists reasoning support
// for the model.
func (c *Client) SupportsReasoning(ctx context.Context, model string) bool {
	if err := c.FetchPricing(ctx); err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reasoning[model]
}

// ValidateModel reports whether the model ID exists in the catalog.
func (c *Client) ValidateModel(ctx context.Context, model string) (bool, error) {
	if err := c.FetchPricing(ctx); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pricing[model]
	return ok, nil
}
