// Package openrouter wraps the OpenAI SDK pointed at OpenRouter's
// OpenAI-compatible endpoint. It adds classified retries with
// exponential backoff, empty-response recovery for tool-calling models,
// per-call cost accounting, and a cached model pricing catalog.
package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/indiebench/internal/dialogue"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// Backend is the chat completion surface the client depends on. The
// production implementation is *openai.Client; tests script it.
type Backend interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config holds client configuration.
type Config struct {
	// APIKey is the OpenRouter API key (required).
	APIKey string

	// BaseURL overrides the OpenRouter endpoint (tests).
	BaseURL string

	// Timeout bounds each individual API call. Default 90s.
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt for
	// transient failures. Default 5.
	MaxRetries int

	// BackoffBase is the first backoff delay; each retry triples it
	// (3s, 9s, 27s, ...). Generous on purpose: free-tier rate limits
	// recover slowly. Default 3s.
	BackoffBase time.Duration

	// EmptyRetries is the number of re-asks when the model spends
	// tokens but produces no usable text. Default 2.
	EmptyRetries int

	// AppName and SiteURL populate OpenRouter's attribution headers.
	AppName string
	SiteURL string

	// EffortFor returns the default reasoning effort for a model when
	// the model supports reasoning and no override is given.
	EffortFor func(model string) string

	Logger *slog.Logger
}

// Client is a thread-safe OpenRouter chat client.
type Client struct {
	cfg     Config
	backend Backend
	log     *slog.Logger

	mu        sync.Mutex
	pricing   map[string]Pricing
	reasoning map[string]bool
}

// headerTransport injects OpenRouter attribution headers on every call.
type headerTransport struct {
	base    http.RoundTripper
	appName string
	siteURL string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.siteURL != "" {
		req.Header.Set("HTTP-Referer", t.siteURL)
	}
	if t.appName != "" {
		req.Header.Set("X-Title", t.appName)
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// New creates a client talking to OpenRouter.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openrouter: API key is required")
	}
	applyDefaults(&cfg)

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = cfg.BaseURL
	clientConfig.HTTPClient = &http.Client{
		Timeout: cfg.Timeout,
		Transport: &headerTransport{
			appName: cfg.AppName,
			siteURL: cfg.SiteURL,
		},
	}

	return newWithBackend(cfg, openai.NewClientWithConfig(clientConfig)), nil
}

// NewWithBackend creates a client over a scripted backend. Tests only.
func NewWithBackend(cfg Config, backend Backend) *Client {
	applyDefaults(&cfg)
	return newWithBackend(cfg, backend)
}

func newWithBackend(cfg Config, backend Backend) *Client {
	return &Client{
		cfg:       cfg,
		backend:   backend,
		log:       cfg.Logger,
		pricing:   make(map[string]Pricing),
		reasoning: make(map[string]bool),
	}
}

func applyDefaults(cfg *Config) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 3 * time.Second
	}
	if cfg.EmptyRetries < 0 {
		cfg.EmptyRetries = 0
	} else if cfg.EmptyRetries == 0 {
		cfg.EmptyRetries = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
}

// Usage holds token counts and cost for one call.
type Usage struct {
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	CostUSD          float64       `json:"cost_usd"`
	Elapsed          time.Duration `json:"elapsed"`
}

// Completion is the outcome of a chat call.
type Completion struct {
	Content      string
	Reasoning    string
	FinishReason string
	ToolCalls    []dialogue.ToolCall
	Model        string
	Usage        Usage
}

// ChatRequest describes one chat completion.
type ChatRequest struct {
	Model       string
	Dialogue    dialogue.Dialogue
	MaxTokens   int
	Temperature float32

	// ReasoningEffort overrides effort resolution. "off" disables
	// reasoning, "auto" or empty resolves from the pricing catalog and
	// the configured default, anything else is passed through.
	ReasoningEffort string
}

// Chat sends a completion request. Transient failures are retried with
// exponential backoff; when the model spends completion tokens without
// producing text, the request is re-asked up to EmptyRetries times. In
// tool_role dialogues the send_message_to_human argument is extracted as
// the response text and any assistant content is kept as reasoning space.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (Completion, error) {
	msgs := dialogue.Sanitize(req.Dialogue.Messages)
	effort := c.resolveReasoningEffort(ctx, req.Model, req.ReasoningEffort)

	var result Completion
	for attempt := 0; ; attempt++ {
		var err error
		result, err = c.chatWithRetry(ctx, req, msgs, effort)
		if err != nil {
			return Completion{}, err
		}

		if len(req.Dialogue.Tools) > 0 {
			for _, tc := range result.ToolCalls {
				if tc.Name != dialogue.SendMessageToolName {
					continue
				}
				if msg := ExtractToolMessage(tc.Arguments); msg != "" {
					// The tool-call argument is the response; any
					// content is private thinking.
					if result.Content != "" && result.Reasoning == "" {
						result.Reasoning = result.Content
					}
					result.Content = msg
					break
				}
			}
		}

		if result.Content != "" {
			return result, nil
		}

		if result.Usage.CompletionTokens > 0 && attempt < c.cfg.EmptyRetries {
			cause := "reasoning_only"
			if len(result.ToolCalls) > 0 {
				cause = "tool_call_no_message"
			}
			c.log.Warn("empty response, re-asking",
				"model", req.Model,
				"cause", cause,
				"finish_reason", result.FinishReason,
				"completion_tokens", result.Usage.CompletionTokens,
				"attempt", attempt+1,
				"max", c.cfg.EmptyRetries)
			continue
		}

		return result, &APIError{
			Reason:  ReasonEmptyResponse,
			Model:   req.Model,
			Message: fmt.Sprintf("no content after %d attempts (finish_reason=%q)", attempt+1, result.FinishReason),
		}
	}
}

// retryState drives the transient-failure loop.
type retryState int

const (
	stateAttempting retryState = iota
	stateBackoffWait
	stateExhausted
)

// chatWithRetry runs the Attempting / BackoffWait / Exhausted loop around
// a single completion call.
func (c *Client) chatWithRetry(ctx context.Context, req ChatRequest, msgs []dialogue.Message, effort string) (Completion, error) {
	state := stateAttempting
	attempt := 0
	var lastErr error

	for {
		switch state {
		case stateAttempting:
			result, err := c.chatOnce(ctx, req, msgs, effort)
			if err == nil {
				return result, nil
			}
			lastErr = err
			if Classify(err).Retryable() && attempt < c.cfg.MaxRetries {
				state = stateBackoffWait
			} else {
				state = stateExhausted
			}

		case stateBackoffWait:
			wait := c.cfg.BackoffBase
			for i := 0; i < attempt; i++ {
				wait *= 3
			}
			c.log.Warn("transient failure, backing off",
				"model", req.Model,
				"reason", string(Classify(lastErr)),
				"wait", wait,
				"attempt", attempt+1,
				"max", c.cfg.MaxRetries)
			select {
			case <-ctx.Done():
				return Completion{}, NewAPIError(req.Model, ctx.Err())
			case <-time.After(wait):
			}
			attempt++
			state = stateAttempting

		case stateExhausted:
			var apiErr *APIError
			if !errors.As(lastErr, &apiErr) {
				apiErr = NewAPIError(req.Model, lastErr)
			}
			return Completion{}, apiErr
		}
	}
}

func (c *Client) chatOnce(ctx context.Context, req ChatRequest, msgs []dialogue.Message, effort string) (Completion, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    toOpenAIMessages(msgs),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if effort != "" {
		chatReq.ReasoningEffort = effort
	}
	if len(req.Dialogue.Tools) > 0 {
		chatReq.Tools = toOpenAITools(req.Dialogue.Tools)
	}

	callCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	t0 := time.Now()
	resp, err := c.backend.CreateChatCompletion(callCtx, chatReq)
	elapsed := time.Since(t0)
	if err != nil {
		return Completion{}, NewAPIError(req.Model, err)
	}

	result := Completion{Model: req.Model, Usage: Usage{Elapsed: elapsed}}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		result.FinishReason = string(choice.FinishReason)
		result.Content = trimSpace(choice.Message.Content)
		result.Reasoning = trimSpace(choice.Message.ReasoningContent)
		for _, tc := range choice.Message.ToolCalls {
			result.ToolCalls = append(result.ToolCalls, dialogue.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}
	result.Usage.PromptTokens = resp.Usage.PromptTokens
	result.Usage.CompletionTokens = resp.Usage.CompletionTokens

	pricing := c.pricingFor(ctx, req.Model)
	result.Usage.CostUSD = float64(result.Usage.PromptTokens)*pricing.PromptPrice +
		float64(result.Usage.CompletionTokens)*pricing.CompletionPrice

	return result, nil
}

func (c *Client) resolveReasoningEffort(ctx context.Context, model, override string) string {
	if override == "off" {
		return ""
	}
	if override != "" && override != "auto" {
		return override
	}
	if !c.SupportsReasoning(ctx, model) {
		return ""
	}
	if c.cfg.EffortFor != nil {
		return c.cfg.EffortFor(model)
	}
	return ""
}

func toOpenAIMessages(msgs []dialogue.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		oaiMsg := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, oaiMsg)
	}
	return out
}

func toOpenAITools(tools []dialogue.ToolDef) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}

// ExtractToolMessage pulls the message value out of send_message_to_human
// arguments. Handles truncated JSON from models that hit max_tokens while
// writing the call, where the string is never closed.
func ExtractToolMessage(rawArgs string) string {
	var args struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(rawArgs), &args); err == nil {
		return trimSpace(args.Message)
	}

	// Truncated fallback: take everything after `"message": "`.
	idx := findMessageValueStart(rawArgs)
	if idx < 0 {
		return ""
	}
	rawValue := rawArgs[idx:]
	if len(rawValue) > 0 && rawValue[len(rawValue)-1] == '\\' {
		rawValue = rawValue[:len(rawValue)-1]
	}
	var parsed string
	if err := json.Unmarshal([]byte(`"`+rawValue+`"`), &parsed); err == nil {
		return trimSpace(parsed)
	}
	// Even re-quoting failed; unescape the common sequences by hand.
	out := make([]byte, 0, len(rawValue))
	for i := 0; i < len(rawValue); i++ {
		if rawValue[i] == '\\' && i+1 < len(rawValue) {
			switch rawValue[i+1] {
			case 'n':
				out = append(out, '\n')
				i++
				continue
			case 't':
				out = append(out, '\t')
				i++
				continue
			case '"', '\\':
				out = append(out, rawValue[i+1])
				i++
				continue
			}
		}
		out = append(out, rawValue[i])
	}
	return trimSpace(string(out))
}

// findMessageValueStart locates the character after `"message"` followed
// by a colon and an opening quote. Returns -1 when absent.
func findMessageValueStart(s string) int {
	const key = `"message"`
	for i := 0; i+len(key) <= len(s); i++ {
		if s[i:i+len(key)] != key {
			continue
		}
		j := i + len(key)
		for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n') {
			j++
		}
		if j < len(s) && s[j] == ':' {
			j++
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n') {
				j++
			}
			if j < len(s) && s[j] == '"' {
				return j + 1
			}
		}
	}
	return -1
}
