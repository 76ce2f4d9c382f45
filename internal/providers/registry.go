package providers

import (
	"fmt"
	"os"
	"sync"
)

// Entry is one row of the provider route table, loaded from the YAML config
// at startup. Order is significant: the first entry whose model set contains
// the requested ID wins.
type Entry struct {
	Name      string
	APIKeyEnv string
	Models    []string
	BaseURL   string
}

// HasModel reports whether the entry serves the given model ID.
func (e Entry) HasModel(model string) bool {
	for _, m := range e.Models {
		if m == model {
			return true
		}
	}
	return false
}

// Factory constructs an adapter for a route entry with a resolved credential.
// The registry calls it lazily, once per (entry, credential) pair.
type Factory func(entry Entry, credential string) (Provider, error)

// ResolveError is a model-resolution failure. It is surfaced to the client as
// a 400: an unknown model or a missing credential env var is a configuration
// fault the caller can act on, not a gateway malfunction.
type ResolveError struct {
	Message string
}

func (e *ResolveError) Error() string   { return e.Message }
func (e *ResolveError) HTTPStatus() int { return 400 }

// Registry resolves model → adapter using the ordered route table. Credentials
// are read from the process environment at resolution time, so a key rotated
// in the environment takes effect without reloading the table.
type Registry struct {
	entries []Entry
	factory Factory

	mu       sync.Mutex
	adapters map[string]Provider
}

// NewRegistry creates a Registry over the ordered route entries.
func NewRegistry(entries []Entry, factory Factory) *Registry {
	return &Registry{
		entries:  entries,
		factory:  factory,
		adapters: make(map[string]Provider),
	}
}

// Resolve returns the adapter serving model. Scans entries in order; first
// match wins. Fails with a *ResolveError when no entry lists the model or the
// entry's credential env var is unset.
func (r *Registry) Resolve(model string) (Provider, error) {
	for _, e := range r.entries {
		if !e.HasModel(model) {
			continue
		}
		credential := os.Getenv(e.APIKeyEnv)
		if credential == "" {
			return nil, &ResolveError{Message: fmt.Sprintf(
				"API key environment variable %s is not set for provider %s", e.APIKeyEnv, e.Name)}
		}
		return r.adapter(e, credential)
	}
	return nil, &ResolveError{Message: "No provider found for model: " + model}
}

// Entries returns the route table (read-only view for logging and health).
func (r *Registry) Entries() []Entry { return r.entries }

func (r *Registry) adapter(e Entry, credential string) (Provider, error) {
	key := e.Name + "\x00" + credential

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.adapters[key]; ok {
		return p, nil
	}
	p, err := r.factory(e, credential)
	if err != nil {
		return nil, fmt.Errorf("registry: build adapter %s: %w", e.Name, err)
	}
	r.adapters[key] = p
	return p, nil
}
