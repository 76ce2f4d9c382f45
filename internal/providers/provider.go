// Package providers defines the canonical chat types shared by all LLM
// provider adapters and the registry that resolves a model ID to an adapter.
//
// The canonical shapes mirror the OpenAI chat-completion wire format: every
// adapter accepts a ChatRequest and must return a ChatResponse, regardless of
// how the upstream represents conversations. The ChatResponse is also the
// gateway's cache payload format.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ProviderTimeout is the default per-upstream-call timeout.
const ProviderTimeout = 30 * time.Second

// DefaultTemperature is applied when a request omits the temperature field.
const DefaultTemperature = 1.0

type (
	// ChatMessage is a single turn in a conversation.
	ChatMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	// ChatRequest is the validated inbound request. Temperature and MaxTokens
	// are pointers so "omitted" is distinguishable from an explicit zero;
	// Normalize fills the temperature default.
	ChatRequest struct {
		Model       string        `json:"model"`
		Messages    []ChatMessage `json:"messages"`
		Temperature *float64      `json:"temperature,omitempty"`
		MaxTokens   *int          `json:"max_tokens,omitempty"`
	}

	// Usage — token usage stats, OpenAI field names.
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	}

	// Choice is a single completion candidate.
	Choice struct {
		Index        int         `json:"index"`
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	}

	// ChatResponse is the canonical OpenAI-shaped response envelope.
	ChatResponse struct {
		ID      string   `json:"id"`
		Object  string   `json:"object"`
		Created int64    `json:"created"`
		Model   string   `json:"model"`
		Choices []Choice `json:"choices"`
		Usage   Usage    `json:"usage"`
	}
)

// ParseChatRequest decodes and validates a request body. The returned request
// is normalized: the temperature default is applied.
func ParseChatRequest(body []byte) (*ChatRequest, error) {
	var req ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req.Normalize()
	return &req, nil
}

// Validate checks the structural constraints on a ChatRequest.
func (r *ChatRequest) Validate() error {
	if r.Model == "" {
		return fmt.Errorf("field 'model' is required")
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("field 'messages' must not be empty")
	}
	for i, m := range r.Messages {
		if m.Role == "" {
			return fmt.Errorf("messages[%d]: field 'role' is required", i)
		}
	}
	return nil
}

// Normalize applies parameter defaults that are part of the canonical form.
func (r *ChatRequest) Normalize() {
	if r.Temperature == nil {
		t := DefaultTemperature
		r.Temperature = &t
	}
}

// LastUserText returns the content of the final message iff its role is
// "user". The semantic cache keys on this text only.
func (r *ChatRequest) LastUserText() (string, bool) {
	if len(r.Messages) == 0 {
		return "", false
	}
	last := r.Messages[len(r.Messages)-1]
	if last.Role != "user" {
		return "", false
	}
	return last.Content, true
}

// Provider is the single capability every adapter implements: translate the
// canonical request to the upstream wire format, call it, and translate the
// reply back. Adapters are stateless aside from their credential and client
// pool, so one instance is safe to share across goroutines.
type Provider interface {
	Name() string
	Invoke(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// StatusCoder is implemented by errors that carry an HTTP status the gateway
// should propagate to the client.
type StatusCoder interface {
	HTTPStatus() int
}

// Error is a structured upstream failure. Body holds the upstream's verbatim
// JSON error body when one was available.
type Error struct {
	Provider   string
	StatusCode int
	Message    string
	Body       []byte
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (status=%d)", e.Provider, e.Message, e.StatusCode)
}

// HTTPStatus implements StatusCoder.
func (e *Error) HTTPStatus() int { return e.StatusCode }

// ResponseID returns the synthetic "chatcmpl-<unix-seconds>" ID used by
// adapters whose upstream does not supply an OpenAI-style ID.
func ResponseID(now time.Time) string {
	return fmt.Sprintf("chatcmpl-%d", now.Unix())
}
