package providers_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/promgate/llm-gateway/internal/providers"
)

// stubProvider records the credential it was built with.
type stubProvider struct {
	name       string
	credential string
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) Invoke(_ context.Context, _ *providers.ChatRequest) (*providers.ChatResponse, error) {
	return &providers.ChatResponse{}, nil
}

func stubFactory(calls *int) providers.Factory {
	return func(entry providers.Entry, credential string) (providers.Provider, error) {
		*calls++
		return &stubProvider{name: entry.Name, credential: credential}, nil
	}
}

func testEntries() []providers.Entry {
	return []providers.Entry{
		{Name: "openai", APIKeyEnv: "TEST_OPENAI_KEY", Models: []string{"gpt-4o", "gpt-4o-mini"}},
		{Name: "anthropic", APIKeyEnv: "TEST_ANTHROPIC_KEY", Models: []string{"claude-sonnet-4-5"}},
	}
}

func TestResolveMatchesModel(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-oai")
	t.Setenv("TEST_ANTHROPIC_KEY", "sk-ant")

	var calls int
	reg := providers.NewRegistry(testEntries(), stubFactory(&calls))

	prov, err := reg.Resolve("claude-sonnet-4-5")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if prov.Name() != "anthropic" {
		t.Fatalf("provider = %q, want anthropic", prov.Name())
	}
	if got := prov.(*stubProvider).credential; got != "sk-ant" {
		t.Fatalf("credential = %q, want sk-ant", got)
	}
}

func TestResolveUnknownModel(t *testing.T) {
	var calls int
	reg := providers.NewRegistry(testEntries(), stubFactory(&calls))

	_, err := reg.Resolve("mystery-model")
	var resolveErr *providers.ResolveError
	if !errors.As(err, &resolveErr) {
		t.Fatalf("err = %T, want *ResolveError", err)
	}
	if resolveErr.HTTPStatus() != 400 {
		t.Fatalf("status = %d, want 400", resolveErr.HTTPStatus())
	}
	if !strings.Contains(resolveErr.Message, "mystery-model") {
		t.Fatalf("message %q should name the model", resolveErr.Message)
	}
}

func TestResolveMissingCredential(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "")

	var calls int
	reg := providers.NewRegistry(testEntries(), stubFactory(&calls))

	_, err := reg.Resolve("gpt-4o")
	var resolveErr *providers.ResolveError
	if !errors.As(err, &resolveErr) {
		t.Fatalf("err = %T, want *ResolveError", err)
	}
	if !strings.Contains(resolveErr.Message, "TEST_OPENAI_KEY") {
		t.Fatalf("message %q should name the env var", resolveErr.Message)
	}
	if calls != 0 {
		t.Fatalf("factory must not run without a credential, got %d calls", calls)
	}
}

// Adapters are cached per (provider, credential): repeated resolves reuse the
// instance, a rotated credential builds a fresh one.
func TestResolveCachesAdapters(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-one")

	var calls int
	reg := providers.NewRegistry(testEntries(), stubFactory(&calls))

	a, _ := reg.Resolve("gpt-4o")
	b, _ := reg.Resolve("gpt-4o-mini")
	if a != b {
		t.Fatal("same provider and credential must reuse the adapter")
	}
	if calls != 1 {
		t.Fatalf("factory calls = %d, want 1", calls)
	}

	t.Setenv("TEST_OPENAI_KEY", "sk-two")
	c, _ := reg.Resolve("gpt-4o")
	if c == a {
		t.Fatal("rotated credential must build a fresh adapter")
	}
	if calls != 2 {
		t.Fatalf("factory calls = %d, want 2", calls)
	}
}
