// Package index provides the semantic search index over job posting
// embeddings. The in-memory implementation does a brute-force cosine scan,
// which is plenty for the cache sizes a single assistant instance holds; the
// pg subpackage offers a pgvector-backed alternative for shared deployments.
package index

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/jobmesh/jobmesh/core"
)

var errEmptyEmbedding = errors.New("empty embedding")

// InMemoryIndex is a thread-safe brute-force cosine similarity index.
type InMemoryIndex struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

// NewInMemoryIndex creates an empty index.
func NewInMemoryIndex() *InMemoryIndex {
	return &InMemoryIndex{vectors: make(map[string][]float32)}
}

// Upsert stores or replaces the embedding for a fingerprint.
func (idx *InMemoryIndex) Upsert(ctx context.Context, fingerprint string, embedding []float32) error {
	if len(embedding) == 0 {
		return core.InputInvalid("index.upsert", errEmptyEmbedding)
	}
	vec := make([]float32, len(embedding))
	copy(vec, embedding)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.vectors[fingerprint] = vec
	return nil
}

// Remove drops a fingerprint from the index. Removing an absent fingerprint
// is a no-op so sweeper retries stay idempotent.
func (idx *InMemoryIndex) Remove(ctx context.Context, fingerprint string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.vectors, fingerprint)
	return nil
}

// Search returns up to limit fingerprints ranked by cosine similarity to the
// query embedding.
func (idx *InMemoryIndex) Search(ctx context.Context, embedding []float32, limit int) ([]core.IndexMatch, error) {
	if len(embedding) == 0 {
		return nil, core.InputInvalid("index.search", errEmptyEmbedding)
	}
	if limit <= 0 {
		limit = 10
	}

	idx.mu.RLock()
	matches := make([]core.IndexMatch, 0, len(idx.vectors))
	for fp, vec := range idx.vectors {
		sim, ok := Cosine(embedding, vec)
		if !ok {
			continue
		}
		matches = append(matches, core.IndexMatch{Fingerprint: fp, Similarity: sim})
	}
	idx.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Fingerprint < matches[j].Fingerprint
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Len reports the number of indexed fingerprints.
func (idx *InMemoryIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vectors)
}

// Cosine computes cosine similarity between two vectors. ok is false when
// the dimensions differ or either vector has zero magnitude.
func Cosine(a, b []float32) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}

var _ core.SearchIndex = (*InMemoryIndex)(nil)
