package semantic

import (
	"context"
	"log/slog"
)

// Cache ties an Embedder and an Index together behind the two operations the
// gateway needs: index a prompt after a provider call, and resolve a prompt
// to a prior cache key before one.
type Cache struct {
	embedder  Embedder
	index     Index
	threshold float64
	log       *slog.Logger
}

// NewCache creates a semantic cache. A match requires cosine similarity of
// at least threshold (0 < threshold ≤ 1).
func NewCache(embedder Embedder, index Index, threshold float64, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		embedder:  embedder,
		index:     index,
		threshold: threshold,
		log:       log,
	}
}

// Add embeds text and indexes it under cacheKey. The cache key doubles as
// the document ID, so re-adding the same key after an exact-cache expiry
// overwrites the prior document instead of accumulating duplicates.
// Population is best-effort: failures are logged and reported as false.
func (c *Cache) Add(ctx context.Context, cacheKey, text string) bool {
	if c == nil || text == "" {
		return false
	}

	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		c.log.WarnContext(ctx, "semantic_embed_error", slog.String("error", err.Error()))
		return false
	}

	doc := Document{
		ID:        cacheKey,
		Embedding: vec,
		Text:      text,
		Metadata: Metadata{
			CacheKey:   cacheKey,
			TextLength: len(text),
		},
	}
	if err := c.index.Add(ctx, doc); err != nil {
		c.log.WarnContext(ctx, "semantic_index_error", slog.String("error", err.Error()))
		return false
	}
	return true
}

// Search embeds text and returns the cache key of the nearest prior prompt
// when its similarity clears the threshold. Any failure or near-miss is a
// plain miss.
func (c *Cache) Search(ctx context.Context, text string) (cacheKey string, ok bool) {
	if c == nil || text == "" {
		return "", false
	}

	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		c.log.WarnContext(ctx, "semantic_embed_error", slog.String("error", err.Error()))
		return "", false
	}

	doc, distance, found, err := c.index.Nearest(ctx, vec)
	if err != nil {
		c.log.WarnContext(ctx, "semantic_search_error", slog.String("error", err.Error()))
		return "", false
	}
	if !found {
		return "", false
	}

	similarity := 1 - distance
	if similarity < c.threshold {
		return "", false
	}

	c.log.DebugContext(ctx, "semantic_match",
		slog.Float64("similarity", similarity),
		slog.String("cache_key", doc.Metadata.CacheKey),
	)
	return doc.Metadata.CacheKey, true
}
