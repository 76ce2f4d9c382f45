package semantic

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisIndex(t *testing.T) (*RedisIndex, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisIndex(client), mr
}

func TestRedisIndexAddAndNearest(t *testing.T) {
	idx, _ := newTestRedisIndex(t)
	ctx := context.Background()

	docs := []Document{
		{ID: "a", Embedding: []float32{1, 0}, Text: "alpha", Metadata: Metadata{CacheKey: "key-a", TextLength: 5}},
		{ID: "b", Embedding: []float32{0, 1}, Text: "beta", Metadata: Metadata{CacheKey: "key-b", TextLength: 4}},
	}
	for _, d := range docs {
		if err := idx.Add(ctx, d); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	doc, _, found, err := idx.Nearest(ctx, []float32{0.1, 0.9})
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if !found || doc.ID != "b" {
		t.Fatalf("nearest = %+v found=%v, want doc b", doc, found)
	}
	if doc.Metadata.CacheKey != "key-b" || doc.Metadata.TextLength != 4 {
		t.Fatalf("metadata not round-tripped: %+v", doc.Metadata)
	}
}

// HSET semantics: re-adding an ID replaces the hash field in place.
func TestRedisIndexAddUpserts(t *testing.T) {
	idx, mr := newTestRedisIndex(t)
	ctx := context.Background()

	if err := idx.Add(ctx, Document{ID: "a", Embedding: []float32{1, 0}, Metadata: Metadata{CacheKey: "a"}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := idx.Add(ctx, Document{ID: "a", Embedding: []float32{0, 1}, Metadata: Metadata{CacheKey: "a"}}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	keys, err := mr.HKeys("semantic_cache")
	if err != nil {
		t.Fatalf("HKeys: %v", err)
	}
	if n := len(keys); n != 1 {
		t.Fatalf("hash holds %d fields after re-adding the same ID, want 1", n)
	}
	doc, _, found, err := idx.Nearest(ctx, []float32{0, 1})
	if err != nil || !found {
		t.Fatalf("Nearest: found=%v err=%v", found, err)
	}
	if doc.Embedding[1] != 1 {
		t.Fatal("re-add must replace the stored embedding")
	}
}

func TestRedisIndexEmptyCollection(t *testing.T) {
	idx, _ := newTestRedisIndex(t)

	_, _, found, err := idx.Nearest(context.Background(), []float32{1, 0})
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if found {
		t.Fatal("empty collection must report found=false")
	}
}

func TestRedisIndexErrorWhenDown(t *testing.T) {
	idx, mr := newTestRedisIndex(t)
	mr.Close()

	if _, _, _, err := idx.Nearest(context.Background(), []float32{1, 0}); err == nil {
		t.Fatal("expected error when Redis is down")
	}
}

// Corrupt hash entries are skipped, not fatal.
func TestRedisIndexSkipsCorruptDocuments(t *testing.T) {
	idx, mr := newTestRedisIndex(t)
	ctx := context.Background()

	mr.HSet("semantic_cache", "garbage", "{not json")
	if err := idx.Add(ctx, Document{ID: "a", Embedding: []float32{1, 0}, Metadata: Metadata{CacheKey: "key-a"}}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	doc, _, found, err := idx.Nearest(ctx, []float32{1, 0})
	if err != nil || !found {
		t.Fatalf("Nearest: found=%v err=%v", found, err)
	}
	if doc.ID != "a" {
		t.Fatalf("nearest = %q, want a", doc.ID)
	}
}
