package semantic

import (
	"context"
	"errors"
	"testing"
)

// stubEmbedder returns a fixed vector per input text.
type stubEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	vec, ok := s.vectors[text]
	if !ok {
		return []float32{0, 0, 1}, nil
	}
	return vec, nil
}

func TestCacheSearchExactVector(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float32{
		"what is the capital of France?": {1, 0, 0},
	}}
	c := NewCache(emb, NewMemoryIndex(), 0.95, nil)
	ctx := context.Background()

	c.Add(ctx, "cache-key-1", "what is the capital of France?")

	key, ok := c.Search(ctx, "what is the capital of France?")
	if !ok {
		t.Fatal("identical text must be a semantic hit")
	}
	if key != "cache-key-1" {
		t.Fatalf("cache key = %q, want cache-key-1", key)
	}
}

func TestCacheSearchThreshold(t *testing.T) {
	// cos(a, b) ≈ 0.9969 — above threshold; cos(a, c) ≈ 0.707 — below.
	emb := &stubEmbedder{vectors: map[string][]float32{
		"capital of France":        {1, 0, 0},
		"what's France's capital?": {0.9969, 0.0785, 0},
		"how do I bake sourdough?": {1, 1, 0},
	}}
	c := NewCache(emb, NewMemoryIndex(), 0.95, nil)
	ctx := context.Background()

	c.Add(ctx, "france-key", "capital of France")

	if key, ok := c.Search(ctx, "what's France's capital?"); !ok || key != "france-key" {
		t.Fatalf("near-duplicate must hit: ok=%v key=%q", ok, key)
	}
	if _, ok := c.Search(ctx, "how do I bake sourdough?"); ok {
		t.Fatal("dissimilar prompt must miss")
	}
}

func TestCacheSearchEmptyIndex(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float32{}}
	c := NewCache(emb, NewMemoryIndex(), 0.95, nil)

	if _, ok := c.Search(context.Background(), "anything"); ok {
		t.Fatal("empty index must miss")
	}
}

// Embedding failures degrade to a miss on reads and a no-op on writes.
func TestCacheDegradesOnEmbedderError(t *testing.T) {
	emb := &stubEmbedder{err: errors.New("embedding api down")}
	index := NewMemoryIndex()
	c := NewCache(emb, index, 0.95, nil)
	ctx := context.Background()

	if c.Add(ctx, "key", "some text") {
		t.Fatal("failed embed must report failure")
	}
	if index.Len() != 0 {
		t.Fatal("failed embed must not index anything")
	}

	if _, ok := c.Search(ctx, "some text"); ok {
		t.Fatal("embed failure must be a miss")
	}
}

// Re-adding a cache key after its exact entry expired must overwrite the
// prior document, not pile up duplicates for the same prompt.
func TestCacheAddSameKeyOverwrites(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float32{
		"hello": {1, 0, 0},
	}}
	index := NewMemoryIndex()
	c := NewCache(emb, index, 0.95, nil)
	ctx := context.Background()

	if !c.Add(ctx, "fp-1", "hello") {
		t.Fatal("first Add must succeed")
	}
	if !c.Add(ctx, "fp-1", "hello") {
		t.Fatal("second Add must succeed")
	}

	if n := index.Len(); n != 1 {
		t.Fatalf("index holds %d documents for one cache key, want 1", n)
	}
	if key, ok := c.Search(ctx, "hello"); !ok || key != "fp-1" {
		t.Fatalf("Search: ok=%v key=%q", ok, key)
	}
}

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 2},
		{"mismatched dims", []float32{1, 0}, []float32{1, 0, 0}, 1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := cosineDistance(tc.a, tc.b)
			if diff := got - tc.want; diff > 1e-6 || diff < -1e-6 {
				t.Fatalf("cosineDistance = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMemoryIndexNearest(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	docs := []Document{
		{ID: "a", Embedding: []float32{1, 0}, Metadata: Metadata{CacheKey: "key-a"}},
		{ID: "b", Embedding: []float32{0, 1}, Metadata: Metadata{CacheKey: "key-b"}},
	}
	for _, d := range docs {
		if err := idx.Add(ctx, d); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	doc, dist, found, err := idx.Nearest(ctx, []float32{0.9, 0.1})
	if err != nil || !found {
		t.Fatalf("Nearest: found=%v err=%v", found, err)
	}
	if doc.ID != "a" {
		t.Fatalf("nearest = %q, want a", doc.ID)
	}
	if dist < 0 || dist > 1 {
		t.Fatalf("distance %v out of expected range", dist)
	}
}

func TestMemoryIndexAddUpserts(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	if err := idx.Add(ctx, Document{ID: "a", Embedding: []float32{1, 0}, Metadata: Metadata{CacheKey: "a"}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := idx.Add(ctx, Document{ID: "a", Embedding: []float32{0, 1}, Metadata: Metadata{CacheKey: "a"}}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if n := idx.Len(); n != 1 {
		t.Fatalf("Len = %d after re-adding the same ID, want 1", n)
	}
	doc, _, found, err := idx.Nearest(ctx, []float32{0, 1})
	if err != nil || !found {
		t.Fatalf("Nearest: found=%v err=%v", found, err)
	}
	if doc.Embedding[1] != 1 {
		t.Fatal("re-add must replace the stored embedding")
	}
}
