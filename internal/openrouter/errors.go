package openrouter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Reason classifies a failed or unusable API call. The classification
// drives the retry state machine: transient reasons are retried with
// backoff, permanent reasons and empty responses are surfaced at once.
type Reason string

const (
	// ReasonRateLimit indicates rate limiting (429).
	ReasonRateLimit Reason = "rate_limit"

	// ReasonBilling indicates insufficient credits (402). OpenRouter
	// free-tier quotas replenish, so this is treated as transient.
	ReasonBilling Reason = "billing"

	// ReasonTimeout indicates a request timeout or deadline.
	ReasonTimeout Reason = "timeout"

	// ReasonServerError indicates a 5xx upstream failure.
	ReasonServerError Reason = "server_error"

	// ReasonAuth indicates an invalid or expired API key (401/403).
	ReasonAuth Reason = "auth"

	// ReasonInvalidRequest indicates a malformed request (400/422).
	ReasonInvalidRequest Reason = "invalid_request"

	// ReasonModelUnavailable indicates the model ID is unknown (404).
	ReasonModelUnavailable Reason = "model_unavailable"

	// ReasonEmptyResponse indicates the call succeeded at the HTTP level
	// but produced no usable text after all empty-content re-asks.
	// Never retried at the client level; the runner may re-run the task.
	ReasonEmptyResponse Reason = "empty_response"

	// ReasonUnknown indicates an unclassified failure.
	ReasonUnknown Reason = "unknown"
)

// Retryable reports whether the client retry loop should attempt again.
func (r Reason) Retryable() bool {
	switch r {
	case ReasonRateLimit, ReasonBilling, ReasonTimeout, ReasonServerError:
		return true
	}
	return false
}

// APIError is a classified OpenRouter call failure.
type APIError struct {
	Reason  Reason
	Model   string
	Status  int
	Message string
	Cause   error
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString("openrouter")
	if e.Model != "" {
		b.WriteString("/" + e.Model)
	}
	b.WriteString(": " + string(e.Reason))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	return b.String()
}

func (e *APIError) Unwrap() error {
	return e.Cause
}

// NewAPIError wraps and classifies an underlying SDK error.
func NewAPIError(model string, cause error) *APIError {
	apiErr := &APIError{
		Reason: classify(cause),
		Model:  model,
		Cause:  cause,
	}
	var sdkErr *openai.APIError
	if errors.As(cause, &sdkErr) {
		apiErr.Status = sdkErr.HTTPStatusCode
		apiErr.Message = sdkErr.Message
	}
	var reqErr *openai.RequestError
	if errors.As(cause, &reqErr) {
		apiErr.Status = reqErr.HTTPStatusCode
	}
	if apiErr.Message == "" && cause != nil {
		apiErr.Message = cause.Error()
	}
	return apiErr
}

// Classify returns the failure reason for any error, unwrapping APIError
// values when present.
func Classify(err error) Reason {
	if err == nil {
		return ReasonUnknown
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Reason
	}
	return classify(err)
}

func classify(err error) Reason {
	if err == nil {
		return ReasonUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}

	var sdkErr *openai.APIError
	if errors.As(err, &sdkErr) {
		return classifyStatus(sdkErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"):
		return ReasonRateLimit
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return ReasonTimeout
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"),
		strings.Contains(msg, "503"), strings.Contains(msg, "504"):
		return ReasonServerError
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "api key"):
		return ReasonAuth
	}
	return ReasonUnknown
}

func classifyStatus(status int) Reason {
	switch {
	case status == 402:
		return ReasonBilling
	case status == 429:
		return ReasonRateLimit
	case status == 401 || status == 403:
		return ReasonAuth
	case status == 404:
		return ReasonModelUnavailable
	case status == 400 || status == 422:
		return ReasonInvalidRequest
	case status == 408:
		return ReasonTimeout
	case status >= 500:
		return ReasonServerError
	}
	return ReasonUnknown
}

// IsEmptyResponse reports whether err marks an exhausted empty response.
func IsEmptyResponse(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Reason == ReasonEmptyResponse
}
