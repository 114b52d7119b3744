// Package vector indexes interpreted diagrams by embedding so that similar
// diagrams can be found later.
package vector

import (
	"context"
	"math"
	"sort"
	"sync"
)

// Document is an indexed diagram with its embedding.
type Document struct {
	ID       string
	Content  string
	Vector   []float32
	Metadata map[string]string
}

// SearchResult is a single match from a similarity search.
type SearchResult struct {
	ID       string
	Score    float32
	Content  string
	Metadata map[string]string
}

// Repository provides vector storage and similarity search.
type Repository interface {
	// Upsert inserts or updates documents.
	Upsert(ctx context.Context, docs []Document) error
	// Search finds the top-k most similar documents.
	Search(ctx context.Context, vector []float32, topK int) ([]SearchResult, error)
	// Close releases resources.
	Close() error
}

// MemoryRepository is a brute-force cosine index held in memory.
type MemoryRepository struct {
	mu   sync.RWMutex
	docs map[string]Document
}

// NewMemory creates an empty in-memory index.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{docs: make(map[string]Document)}
}

func (m *MemoryRepository) Upsert(_ context.Context, docs []Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		m.docs[d.ID] = d
	}
	return nil
}

func (m *MemoryRepository) Search(_ context.Context, vector []float32, topK int) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]SearchResult, 0, len(m.docs))
	for _, d := range m.docs {
		results = append(results, SearchResult{ID: d.ID, Score: cosine(vector, d.Vector), Content: d.Content, Metadata: d.Metadata})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (m *MemoryRepository) Close() error { return nil }

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

var _ Repository = (*MemoryRepository)(nil)
