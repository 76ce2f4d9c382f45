package semantic

import (
	"context"
	"math"
	"sync"
)

// Metadata is the payload stored alongside each vector. CacheKey points back
// at the exact-cache entry holding the full response.
type Metadata struct {
	CacheKey   string `json:"cache_key"`
	TextLength int    `json:"text_length"`
}

// Document is one indexed prompt.
type Document struct {
	ID        string    `json:"id"`
	Embedding []float32 `json:"embedding"`
	Text      string    `json:"text"`
	Metadata  Metadata  `json:"metadata"`
}

// Index stores documents and answers nearest-neighbor queries.
// Add upserts by Document.ID; adding an existing ID replaces the document.
// Nearest returns the single closest document by cosine distance, or
// found=false when the index is empty.
type Index interface {
	Add(ctx context.Context, doc Document) error
	Nearest(ctx context.Context, embedding []float32) (doc Document, distance float64, found bool, err error)
}

// cosineDistance returns 1 - cos(a, b). Mismatched or zero-magnitude vectors
// get the maximum distance so they can never produce a hit.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

// MemoryIndex is a brute-force in-process index. Scan cost is linear in the
// number of documents, which is acceptable at single-node cache scale.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs map[string]Document
}

// NewMemoryIndex creates an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{docs: make(map[string]Document)}
}

// Add upserts doc by its ID.
func (m *MemoryIndex) Add(_ context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
	return nil
}

// Nearest scans all documents and returns the closest one.
func (m *MemoryIndex) Nearest(_ context.Context, embedding []float32) (Document, float64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		best     Document
		bestDist = math.MaxFloat64
		found    bool
	)
	for _, doc := range m.docs {
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

// Len returns the number of indexed documents.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}
