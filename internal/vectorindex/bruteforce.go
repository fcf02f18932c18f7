package vectorindex

import (
	"context"
	"sort"
	"sync"

	"github.com/nvandessel/cardsync/internal/vecmath"
)

// BruteForceIndex performs exhaustive nearest neighbor search using cosine distance.
// Thread-safe. Suitable for small to medium vector counts (up to ~1000).
type BruteForceIndex struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

// NewBruteForceIndex creates an empty BruteForceIndex.
func NewBruteForceIndex() *BruteForceIndex {
	return &BruteForceIndex{
		vectors: make(map[string][]float32),
	}
}

// Add inserts or replaces the vector for the given entry ID.
func (b *BruteForceIndex) Add(_ context.Context, id string, vector []float32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]float32, len(vector))
	copy(cp, vector)
	b.vectors[id] = cp
	return nil
}

// Remove deletes the vectors for the given entry IDs.
func (b *BruteForceIndex) Remove(_ context.Context, ids ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		delete(b.vectors, id)
	}
	return nil
}

// Search returns the topK nearest vectors to query.
func (b *BruteForceIndex) Search(_ context.Context, query []float32, topK int) ([]SearchResult, error) {
	if len(query) == 0 || topK <= 0 {
		return nil, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.vectors) == 0 {
		return nil, nil
	}

	results := make([]SearchResult, 0, len(b.vectors))
	for id, vec := range b.vectors {
		results = append(results, SearchResult{
			ID:       id,
			Distance: vecmath.CosineDistance(query, vec),
		})
	}

	sortResults(results)

	if topK > len(results) {
		topK = len(results)
	}

	return results[:topK], nil
}

// Len returns the number of vectors in the index.
func (b *BruteForceIndex) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.vectors)
}

// Close is a no-op for the in-memory brute-force index.
func (b *BruteForceIndex) Close() error {
	return nil
}

// snapshot returns a copy of the stored vectors.
func (b *BruteForceIndex) snapshot() map[string][]float32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string][]float32, len(b.vectors))
	for id, v := range b.vectors {
		out[id] = v
	}
	return out
}

func sortResults(results []SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
}
