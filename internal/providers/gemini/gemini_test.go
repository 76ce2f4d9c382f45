package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/promgate/llm-gateway/internal/providers"
)

// --- helpers ---

func newTestProvider(t *testing.T, srv *httptest.Server) *Provider {
	t.Helper()
	// The baseURL includes an API version segment so splitBaseURLAndVersion()
	// can extract APIVersion correctly.
	p, err := New(context.Background(), "mock-api-key", WithBaseURL(srv.URL+"/v1beta"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func baseRequest(t *testing.T) *providers.ChatRequest {
	t.Helper()
	req, err := providers.ParseChatRequest([]byte(`{
		"model": "gemini-1.5-pro",
		"messages": [{"role": "user", "content": "Hello"}]
	}`))
	if err != nil {
		t.Fatalf("ParseChatRequest: %v", err)
	}
	return req
}

func successResponse(text string) generateResponse {
	return generateResponse{
		Candidates: []candidate{
			{
				Content: content{
					Role:  "model",
					Parts: []part{{Text: text}},
				},
				FinishReason: "STOP",
			},
		},
	}
}

// --- tests ---

func TestProvider_Name(t *testing.T) {
	p, err := New(context.Background(), "key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Name() != "gemini" {
		t.Fatalf("expected 'gemini', got %q", p.Name())
	}
}

func TestProvider_Invoke_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}

		// The SDK may send the API key as a query param or a header.
		gotKey := r.URL.Query().Get("key")
		if gotKey == "" {
			gotKey = r.Header.Get("X-Goog-Api-Key")
		}
		if gotKey != "mock-api-key" {
			t.Errorf("expected api key 'mock-api-key' (query 'key' or header 'X-Goog-Api-Key'), got %q", gotKey)
		}

		if !strings.Contains(r.URL.Path, "gemini-1.5-pro") {
			t.Errorf("expected model in path, got %q", r.URL.Path)
		}
		if !strings.Contains(r.URL.Path, "generateContent") {
			t.Errorf("expected generateContent in path, got %q", r.URL.Path)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(successResponse("Hello there, world!"))
	}))
	defer srv.Close()

	p := newTestProvider(t, srv)
	resp, err := p.Invoke(context.Background(), baseRequest(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(resp.Choices) != 1 {
		t.Fatalf("expected 1 choice, got %d", len(resp.Choices))
	}
	if resp.Choices[0].Message.Content != "Hello there, world!" {
		t.Errorf("unexpected content %q", resp.Choices[0].Message.Content)
	}
	if resp.Choices[0].Message.Role != "assistant" {
		t.Errorf("expected role 'assistant', got %q", resp.Choices[0].Message.Role)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Errorf("expected finish_reason 'stop', got %q", resp.Choices[0].FinishReason)
	}

	// Synthesized response carries a generated completion ID.
	if !strings.HasPrefix(resp.ID, "chatcmpl-") {
		t.Errorf("expected ID with 'chatcmpl-' prefix, got %q", resp.ID)
	}
	if resp.Model != "gemini-1.5-pro" {
		t.Errorf("expected model echoed back, got %q", resp.Model)
	}

	// Usage is estimated by whitespace word counts: "Hello" = 1 prompt word,
	// "Hello there, world!" = 3 completion words.
	if resp.Usage.PromptTokens != 1 {
		t.Errorf("expected 1 prompt token, got %d", resp.Usage.PromptTokens)
	}
	if resp.Usage.CompletionTokens != 3 {
		t.Errorf("expected 3 completion tokens, got %d", resp.Usage.CompletionTokens)
	}
	if resp.Usage.TotalTokens != 4 {
		t.Errorf("expected 4 total tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestProvider_Invoke_RoleMapping(t *testing.T) {
	var capturedBody generateRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&capturedBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(successResponse("Sure!"))
	}))
	defer srv.Close()

	req, err := providers.ParseChatRequest([]byte(`{
		"model": "gemini-1.5-pro",
		"messages": [
			{"role": "system", "content": "You are terse."},
			{"role": "user", "content": "What is 2+2?"},
			{"role": "assistant", "content": "4"},
			{"role": "user", "content": "And 3+3?"}
		]
	}`))
	if err != nil {
		t.Fatalf("ParseChatRequest: %v", err)
	}

	p := newTestProvider(t, srv)
	if _, err := p.Invoke(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// System turns are demoted to user turns, not systemInstruction.
	if capturedBody.SystemInstruction != nil {
		t.Errorf("expected no systemInstruction, got %+v", capturedBody.SystemInstruction)
	}
	if len(capturedBody.Contents) != 4 {
		t.Fatalf("expected 4 contents, got %d", len(capturedBody.Contents))
	}

	wantRoles := []string{"user", "user", "model", "user"}
	for i, want := range wantRoles {
		if got := capturedBody.Contents[i].Role; got != want {
			t.Errorf("content[%d] role = %q, want %q", i, got, want)
		}
	}
	if len(capturedBody.Contents[2].Parts) == 0 || capturedBody.Contents[2].Parts[0].Text != "4" {
		t.Errorf("expected assistant text '4', got %+v", capturedBody.Contents[2].Parts)
	}
}

func TestProvider_Invoke_GenerationDefaults(t *testing.T) {
	var capturedBody generateRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&capturedBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(successResponse("Response"))
	}))
	defer srv.Close()

	p := newTestProvider(t, srv)
	if _, err := p.Invoke(context.Background(), baseRequest(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if capturedBody.GenerationConfig == nil {
		t.Fatal("expected generationConfig to be set")
	}
	// Normalized requests carry the gateway-wide temperature default; the
	// adapter supplies its own max tokens default.
	if capturedBody.GenerationConfig.Temperature == nil || *capturedBody.GenerationConfig.Temperature != 1.0 {
		t.Errorf("expected temperature 1.0, got %v", capturedBody.GenerationConfig.Temperature)
	}
	if capturedBody.GenerationConfig.MaxOutputTokens == nil || *capturedBody.GenerationConfig.MaxOutputTokens != 1000 {
		t.Errorf("expected maxOutputTokens 1000, got %v", capturedBody.GenerationConfig.MaxOutputTokens)
	}
}

func TestProvider_Invoke_ExplicitGenerationConfig(t *testing.T) {
	var capturedBody generateRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&capturedBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(successResponse("Response"))
	}))
	defer srv.Close()

	req, err := providers.ParseChatRequest([]byte(`{
		"model": "gemini-1.5-pro",
		"messages": [{"role": "user", "content": "Hello"}],
		"temperature": 0.2,
		"max_tokens": 64
	}`))
	if err != nil {
		t.Fatalf("ParseChatRequest: %v", err)
	}

	p := newTestProvider(t, srv)
	if _, err := p.Invoke(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if capturedBody.GenerationConfig == nil {
		t.Fatal("expected generationConfig to be set")
	}
	if capturedBody.GenerationConfig.Temperature == nil || *capturedBody.GenerationConfig.Temperature != 0.2 {
		t.Errorf("expected temperature 0.2, got %v", capturedBody.GenerationConfig.Temperature)
	}
	if capturedBody.GenerationConfig.MaxOutputTokens == nil || *capturedBody.GenerationConfig.MaxOutputTokens != 64 {
		t.Errorf("expected maxOutputTokens 64, got %v", capturedBody.GenerationConfig.MaxOutputTokens)
	}
}

// Blocked or empty candidates still produce a well-formed completion.
func TestProvider_Invoke_SafetyFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"candidates":[],"promptFeedback":{"blockReason":"SAFETY"}}`)
	}))
	defer srv.Close()

	p := newTestProvider(t, srv)
	resp, err := p.Invoke(context.Background(), baseRequest(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Choices[0].Message.Content != safetyFallback {
		t.Errorf("expected safety fallback message, got %q", resp.Choices[0].Message.Content)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Errorf("expected finish_reason 'stop', got %q", resp.Choices[0].FinishReason)
	}
	if resp.Usage.CompletionTokens == 0 {
		t.Error("fallback text should still be counted in usage")
	}
}

func TestProvider_Invoke_RateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprintln(w, `{"error":{"code":429,"message":"Resource has been exhausted (e.g. check quota).","status":"RESOURCE_EXHAUSTED"}}`)
	}))
	defer srv.Close()

	p := newTestProvider(t, srv)
	_, err := p.Invoke(context.Background(), baseRequest(t))
	if err == nil {
		t.Fatal("expected error for 429, got nil")
	}

	var provErr *providers.Error
	if !errors.As(err, &provErr) {
		t.Fatalf("expected *providers.Error, got %T: %v", err, err)
	}
	if provErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", provErr.StatusCode)
	}
	if !strings.Contains(provErr.Message, "exhausted") {
		t.Errorf("unexpected error message: %q", provErr.Message)
	}
}

func TestProvider_Invoke_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintln(w, `{"error":{"code":500,"message":"Internal server error","status":"INTERNAL"}}`)
	}))
	defer srv.Close()

	p := newTestProvider(t, srv)
	_, err := p.Invoke(context.Background(), baseRequest(t))
	if err == nil {
		t.Fatal("expected error for 500, got nil")
	}

	var provErr *providers.Error
	if !errors.As(err, &provErr) {
		t.Fatalf("expected *providers.Error, got %T: %v", err, err)
	}
	if provErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", provErr.StatusCode)
	}
	if provErr.HTTPStatus() != http.StatusInternalServerError {
		t.Errorf("HTTPStatus() should return 500, got %d", provErr.HTTPStatus())
	}
}

func TestSplitBaseURLAndVersion(t *testing.T) {
	tests := []struct {
		raw         string
		wantBase    string
		wantVersion string
	}{
		{"https://example.com/v1beta", "https://example.com/", "v1beta"},
		{"https://example.com/api/v1", "https://example.com/api/", "v1"},
		{"https://example.com", "https://example.com/", ""},
		{"https://example.com/custom", "https://example.com/custom/", ""},
	}
	for _, tc := range tests {
		base, ver := splitBaseURLAndVersion(tc.raw)
		if base != tc.wantBase || ver != tc.wantVersion {
			t.Errorf("splitBaseURLAndVersion(%q) = (%q, %q), want (%q, %q)",
				tc.raw, base, ver, tc.wantBase, tc.wantVersion)
		}
	}
}

// --- local JSON shapes used by tests (request capture + response stubs) ---

type generateRequest struct {
	Contents          []content         `json:"contents"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
}

type generationConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	MaxOutputTokens *int32   `json:"maxOutputTokens,omitempty"`
}

type generateResponse struct {
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text,omitempty"`
}
