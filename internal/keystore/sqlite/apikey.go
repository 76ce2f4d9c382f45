package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/promgate/llm-gateway/internal/keystore"
)

// Create inserts a new API key row. Timestamps are stored as RFC 3339 text.
func (s *Store) Create(ctx context.Context, key *keystore.APIKey) error {
	const query = `
		INSERT INTO api_keys (id, hashed_key, owner, is_active, created_at)
		VALUES (?, ?, ?, ?, ?)`

	_, err := s.write.ExecContext(ctx, query,
		key.ID,
		key.HashedKey,
		key.Owner,
		boolToInt(key.IsActive),
		key.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("keystore: create api key: %w", err)
	}
	return nil
}

// GetByHash retrieves a key row by its SHA-256 hex digest.
func (s *Store) GetByHash(ctx context.Context, hash string) (*keystore.APIKey, error) {
	const query = `
		SELECT id, hashed_key, owner, is_active, created_at
		FROM api_keys
		WHERE hashed_key = ?`

	row := s.read.QueryRowContext(ctx, query, hash)
	key, err := scanAPIKey(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, keystore.ErrNotFound
		}
		return nil, fmt.Errorf("keystore: get api key by hash: %w", err)
	}
	return key, nil
}

// Deactivate flips is_active to 0 for the given key ID.
func (s *Store) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE api_keys SET is_active = 0 WHERE id = ?`

	res, err := s.write.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("keystore: deactivate api key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("keystore: deactivate api key: rows affected: %w", err)
	}
	if affected == 0 {
		return keystore.ErrNotFound
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAPIKey(row scanner) (*keystore.APIKey, error) {
	var (
		key       keystore.APIKey
		isActive  int
		createdAt string
	)
	if err := row.Scan(&key.ID, &key.HashedKey, &key.Owner, &isActive, &createdAt); err != nil {
		return nil, err
	}
	key.IsActive = isActive != 0

	ts, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	key.CreatedAt = ts

	return &key, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
