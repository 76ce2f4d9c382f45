// Package auth generates, hashes and verifies gateway API keys.
//
// Plaintext keys exist only in the client's hands and transiently in request
// memory; the store holds SHA-256 digests. Verification is fail-closed: a
// store error is indistinguishable from a bad key at the API surface, so an
// attacker cannot use error responses to probe the keystore.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/promgate/llm-gateway/internal/keystore"
)

// ErrInvalidKey is returned for every authentication failure: missing key,
// unknown key, deactivated key, or a keystore error. Callers must not
// distinguish these cases in responses.
var ErrInvalidKey = errors.New("auth: invalid or inactive api key")

const keyPrefix = "sk-"

// GenerateKey returns a fresh plaintext API key: "sk-" followed by 43
// URL-safe base64 characters encoding 32 random bytes (256 bits of entropy).
func GenerateKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("auth: generate key: %w", err)
	}
	return keyPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashKey returns the SHA-256 hex digest of a plaintext key. This is the
// value stored in and looked up from the keystore.
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// Authenticator resolves plaintext keys to keystore records.
type Authenticator struct {
	store keystore.Store
	log   *slog.Logger
}

// NewAuthenticator returns an Authenticator backed by store.
func NewAuthenticator(store keystore.Store, log *slog.Logger) *Authenticator {
	if log == nil {
		log = slog.Default()
	}
	return &Authenticator{store: store, log: log}
}

// Authenticate hashes the presented plaintext key, looks it up, and checks
// the active flag. Every failure maps to ErrInvalidKey; store errors are
// logged but fail closed.
func (a *Authenticator) Authenticate(ctx context.Context, plaintext string) (*keystore.APIKey, error) {
	if plaintext == "" {
		return nil, ErrInvalidKey
	}

	key, err := a.store.GetByHash(ctx, HashKey(plaintext))
	if err != nil {
		if !errors.Is(err, keystore.ErrNotFound) {
			a.log.ErrorContext(ctx, "keystore_lookup_error",
				slog.String("error", err.Error()),
			)
		}
		return nil, ErrInvalidKey
	}

	if !key.IsActive {
		return nil, ErrInvalidKey
	}

	return key, nil
}
