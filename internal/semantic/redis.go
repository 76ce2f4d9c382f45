package semantic

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// collectionKey is the Redis hash holding all indexed documents,
	// field = document ID, value = JSON document.
	collectionKey = "semantic_cache"

	redisIndexTimeout = 2 * time.Second
)

// RedisIndex persists documents in a Redis hash and answers queries with a
// full linear scan. Entries carry no TTL: semantic entries outlive their
// exact-cache counterparts on purpose, since a near-duplicate prompt should
// still resolve to its cache key for re-validation against the exact layer.
type RedisIndex struct {
	client *redis.Client
}

// NewRedisIndex wraps an existing Redis client. The caller owns the client
// lifecycle.
func NewRedisIndex(client *redis.Client) *RedisIndex {
	return &RedisIndex{client: client}
}

// Add stores doc in the collection hash.
func (r *RedisIndex) Add(ctx context.Context, doc Document) error {
	ctx, cancel := context.WithTimeout(ctx, redisIndexTimeout)
	defer cancel()

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("semantic: marshal document: %w", err)
	}
	if err := r.client.HSet(ctx, collectionKey, doc.ID, data).Err(); err != nil {
		return fmt.Errorf("semantic: index add: %w", err)
	}
	return nil
}

// Nearest loads the full collection and scans for the closest document.
// Documents that fail to decode are skipped rather than failing the query.
func (r *RedisIndex) Nearest(ctx context.Context, embedding []float32) (Document, float64, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, redisIndexTimeout)
	defer cancel()

	entries, err := r.client.HGetAll(ctx, collectionKey).Result()
	if err != nil {
		return Document{}, 0, false, fmt.Errorf("semantic: index scan: %w", err)
	}

	var (
		best     Document
		bestDist = math.MaxFloat64
		found    bool
	)
	for _, raw := range entries {
		var doc Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			continue
		}
		d := cosineDistance(embedding, doc.Embedding)
		if d < bestDist {
			best = doc
			bestDist = d
			found = true
		}
	}
	if !found {
		return Document{}, 0, false, nil
	}
	return best, bestDist, true, nil
}
