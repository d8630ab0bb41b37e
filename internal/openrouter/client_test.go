package openrouter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/indiebench/internal/dialogue"
)

// scriptedBackend returns canned responses or errors in order, then
// repeats the last step.
type scriptedBackend struct {
	steps []scriptedStep
	calls int
}

type scriptedStep struct {
	resp openai.ChatCompletionResponse
	err  error
}

func (b *scriptedBackend) CreateChatCompletion(_ context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	i := b.calls
	if i >= len(b.steps) {
		i = len(b.steps) - 1
	}
	b.calls++
	step := b.steps[i]
	return step.resp, step.err
}

func textResponse(content string, completionTokens int) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message:      openai.ChatCompletionMessage{Content: content},
			FinishReason: openai.FinishReasonStop,
		}},
		Usage: openai.Usage{PromptTokens: 10, CompletionTokens: completionTokens},
	}
}

func toolResponse(args string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				ToolCalls: []openai.ToolCall{{
					ID:   "call123ab",
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      dialogue.SendMessageToolName,
						Arguments: args,
					},
				}},
			},
			FinishReason: openai.FinishReasonToolCalls,
		}},
		Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 20},
	}
}

func testClient(t *testing.T, backend Backend) *Client {
	t.Helper()
	c := NewWithBackend(Config{
		APIKey:      "test-key",
		BackoffBase: time.Millisecond,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, backend)
	// Seed the catalog so pricing lookups never touch the network.
	c.SetPricing("test/model", Pricing{PromptPrice: 0.000001, CompletionPrice: 0.000002}, false)
	return c
}

func userRoleRequest() ChatRequest {
	d, _ := dialogue.IdentityDirect(dialogue.Configuration{
		Variant: dialogue.VariantNeutral,
		Mode:    dialogue.ModeUserRole,
	})
	return ChatRequest{Model: "test/model", Dialogue: d, MaxTokens: 256, Temperature: 0.7}
}

func toolRoleRequest() ChatRequest {
	d, _ := dialogue.IdentityDirect(dialogue.Configuration{
		Variant: dialogue.VariantNeutral,
		Mode:    dialogue.ModeToolRole,
	})
	return ChatRequest{Model: "test/model", Dialogue: d, MaxTokens: 256, Temperature: 0.7}
}

func TestChatSuccess(t *testing.T) {
	backend := &scriptedBackend{steps: []scriptedStep{
		{resp: textResponse("I am myself.", 30)},
	}}
	c := testClient(t, backend)

	got, err := c.Chat(context.Background(), userRoleRequest())
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "I am myself." {
		t.Errorf("content = %q", got.Content)
	}
	if got.FinishReason != "stop" {
		t.Errorf("finish_reason = %q", got.FinishReason)
	}
	if backend.calls != 1 {
		t.Errorf("backend called %d times, want 1", backend.calls)
	}
	wantCost := 10*0.000001 + 30*0.000002
	if diff := got.Usage.CostUSD - wantCost; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("cost = %g, want %g", got.Usage.CostUSD, wantCost)
	}
}

func TestChatRetriesTransientThenSucceeds(t *testing.T) {
	rateLimited := &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}
	backend := &scriptedBackend{steps: []scriptedStep{
		{err: rateLimited},
		{err: rateLimited},
		{resp: textResponse("finally", 5)},
	}}
	c := testClient(t, backend)

	got, err := c.Chat(context.Background(), userRoleRequest())
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "finally" {
		t.Errorf("content = %q", got.Content)
	}
	if backend.calls != 3 {
		t.Errorf("backend called %d times, want 3", backend.calls)
	}
}

func TestChatPermanentFailureNoRetry(t *testing.T) {
	backend := &scriptedBackend{steps: []scriptedStep{
		{err: &openai.APIError{HTTPStatusCode: 401, Message: "bad key"}},
	}}
	c := testClient(t, backend)

	_, err := c.Chat(context.Background(), userRoleRequest())
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type %T", err)
	}
	if apiErr.Reason != ReasonAuth {
		t.Errorf("reason = %q, want auth", apiErr.Reason)
	}
	if backend.calls != 1 {
		t.Errorf("backend called %d times, want 1", backend.calls)
	}
}

func TestChatTransientExhausted(t *testing.T) {
	backend := &scriptedBackend{steps: []scriptedStep{
		{err: &openai.APIError{HTTPStatusCode: 503, Message: "down"}},
	}}
	c := NewWithBackend(Config{
		APIKey:      "test-key",
		MaxRetries:  2,
		BackoffBase: time.Millisecond,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, backend)
	c.SetPricing("test/model", Pricing{}, false)

	_, err := c.Chat(context.Background(), userRoleRequest())
	if Classify(err) != ReasonServerError {
		t.Errorf("reason = %q, want server_error", Classify(err))
	}
	// First attempt plus two retries.
	if backend.calls != 3 {
		t.Errorf("backend called %d times, want 3", backend.calls)
	}
}

func TestChatExtractsToolMessage(t *testing.T) {
	backend := &scriptedBackend{steps: []scriptedStep{
		{resp: toolResponse(`{"message": "Hello from the tool."}`)},
	}}
	c := testClient(t, backend)

	got, err := c.Chat(context.Background(), toolRoleRequest())
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "Hello from the tool." {
		t.Errorf("content = %q", got.Content)
	}
	if len(got.ToolCalls) != 1 {
		t.Errorf("tool calls = %+v", got.ToolCalls)
	}
}

func TestChatEmptyResponseReasks(t *testing.T) {
	backend := &scriptedBackend{steps: []scriptedStep{
		{resp: textResponse("", 40)}, // reasoning-only, no content
		{resp: textResponse("second try", 12)},
	}}
	c := testClient(t, backend)

	got, err := c.Chat(context.Background(), userRoleRequest())
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "second try" {
		t.Errorf("content = %q", got.Content)
	}
	if backend.calls != 2 {
		t.Errorf("backend called %d times, want 2", backend.calls)
	}
}

func TestChatEmptyResponseExhausted(t *testing.T) {
	backend := &scriptedBackend{steps: []scriptedStep{
		{resp: textResponse("", 40)},
	}}
	c := testClient(t, backend)

	_, err := c.Chat(context.Background(), userRoleRequest())
	if !IsEmptyResponse(err) {
		t.Fatalf("expected empty response error, got %v", err)
	}
	// 1 attempt + 2 re-asks.
	if backend.calls != 3 {
		t.Errorf("backend called %d times, want 3", backend.calls)
	}
}

func TestChatZeroTokensNoReask(t *testing.T) {
	backend := &scriptedBackend{steps: []scriptedStep{
		{resp: textResponse("", 0)},
	}}
	c := testClient(t, backend)

	_, err := c.Chat(context.Background(), userRoleRequest())
	if !IsEmptyResponse(err) {
		t.Fatalf("expected empty response error, got %v", err)
	}
	if backend.calls != 1 {
		t.Errorf("backend called %d times, want 1", backend.calls)
	}
}
