// Package keystore defines the API key store consumed by the authenticator
// and the admin tool.
//
// Keys are created out of band (cmd/keyadmin) and read on every request, so
// implementations should optimise for concurrent reads. The plaintext key is
// never persisted — only its SHA-256 hex digest.
package keystore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no row matches the lookup.
var ErrNotFound = errors.New("keystore: api key not found")

// APIKey is one row of the api_keys table.
type APIKey struct {
	ID        string
	HashedKey string
	Owner     string
	IsActive  bool
	CreatedAt time.Time
}

// Store is the persistence contract for API keys.
type Store interface {
	// Create inserts a new key row. HashedKey must be unique.
	Create(ctx context.Context, key *APIKey) error

	// GetByHash retrieves a key by its SHA-256 hex digest.
	// Returns ErrNotFound when no row matches.
	GetByHash(ctx context.Context, hash string) (*APIKey, error)

	// Deactivate flips is_active to false for the given key ID.
	// Returns ErrNotFound when no row matches.
	Deactivate(ctx context.Context, id string) error

	// Ping verifies backend connectivity (used by the health endpoint).
	Ping(ctx context.Context) error

	Close() error
}
