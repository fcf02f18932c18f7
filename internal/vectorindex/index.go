// Package vectorindex provides in-memory nearest neighbor search over entry
// embeddings. The durable copy of every vector lives in the SQLite index; the
// structures here are rebuilt from it when a namespace is first opened.
package vectorindex

import "context"

// SearchResult pairs an entry ID with its cosine distance from the query.
type SearchResult struct {
	ID       string
	Distance float64 // cosine distance in [0, 2], lower = more similar
}

// VectorIndex provides nearest neighbor search over embeddings.
// Implementations must be safe for concurrent use from multiple goroutines.
type VectorIndex interface {
	// Add inserts or updates the vector for the given entry ID.
	// If the ID already exists, the vector is replaced.
	Add(ctx context.Context, id string, vector []float32) error

	// Remove deletes the vectors for the given entry IDs.
	// Unknown IDs are ignored.
	Remove(ctx context.Context, ids ...string) error

	// Search returns up to topK nearest vectors to query, sorted by
	// ascending distance with ties broken by ID.
	Search(ctx context.Context, query []float32, topK int) ([]SearchResult, error)

	// Len returns the number of vectors currently in the index.
	Len() int

	// Close releases resources.
	Close() error
}
