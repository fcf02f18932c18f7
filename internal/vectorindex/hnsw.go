//go:build !windows

package vectorindex

import (
	"context"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWIndex performs approximate nearest neighbor search using a Hierarchical
// Navigable Small World graph backed by github.com/coder/hnsw.
// Thread-safe. Suitable for large vector counts.
//
// The underlying hnsw.Graph.Delete can leave dangling neighbor pointers that
// cause panics during Search. HNSWIndex keeps a shadow map of all vectors and
// rebuilds the graph whenever nodes are replaced or removed.
type HNSWIndex struct {
	mu      sync.RWMutex
	cfg     HNSWConfig
	graph   *hnsw.Graph[string]
	vectors map[string][]float32
}

// HNSWConfig holds configuration parameters for HNSWIndex.
type HNSWConfig struct {
	// M is the maximum number of neighbors per node. Default: 16.
	M int

	// EfSearch is the number of candidates considered during search. Default: 100.
	EfSearch int

	// Ml is the level generation factor. Default: 0.25.
	Ml float64
}

func (c *HNSWConfig) withDefaults() HNSWConfig {
	out := *c
	if out.M == 0 {
		out.M = 16
	}
	if out.EfSearch == 0 {
		out.EfSearch = 100
	}
	if out.Ml == 0 {
		out.Ml = 0.25
	}
	return out
}

// NewHNSWIndex creates an empty HNSWIndex.
func NewHNSWIndex(cfg HNSWConfig) (*HNSWIndex, error) {
	cfg = cfg.withDefaults()
	return &HNSWIndex{
		cfg:     cfg,
		graph:   newHNSWGraph(cfg, nil),
		vectors: make(map[string][]float32),
	}, nil
}

func newHNSWGraph(cfg HNSWConfig, nodes []hnsw.Node[string]) *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = cfg.Ml
	g.Distance = hnsw.CosineDistance
	if len(nodes) > 0 {
		g.Add(nodes...)
	}
	return g
}

// rebuild constructs a fresh HNSW graph from the shadow map.
// Caller must hold h.mu for writing.
func (h *HNSWIndex) rebuild() {
	nodes := make([]hnsw.Node[string], 0, len(h.vectors))
	for k, v := range h.vectors {
		nodes = append(nodes, hnsw.MakeNode(k, v))
	}
	h.graph = newHNSWGraph(h.cfg, nodes)
}

// Add inserts or replaces the vector for the given entry ID.
// Replacing an existing ID rebuilds the graph.
func (h *HNSWIndex) Add(_ context.Context, id string, vector []float32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	cp := make([]float32, len(vector))
	copy(cp, vector)

	_, existed := h.vectors[id]
	h.vectors[id] = cp

	if existed {
		h.rebuild()
	} else {
		h.graph.Add(hnsw.MakeNode(id, cp))
	}

	return nil
}

// Remove deletes the vectors for the given entry IDs, rebuilding the graph at
// most once.
func (h *HNSWIndex) Remove(_ context.Context, ids ...string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	removed := false
	for _, id := range ids {
		if _, ok := h.vectors[id]; ok {
			delete(h.vectors, id)
			removed = true
		}
	}
	if removed {
		h.rebuild()
	}

	return nil
}

// Search returns the topK nearest vectors to query.
func (h *HNSWIndex) Search(_ context.Context, query []float32, topK int) ([]SearchResult, error) {
	if len(query) == 0 || topK <= 0 {
		return nil, nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph.Len() == 0 {
		return nil, nil
	}

	nodes := h.graph.Search(query, topK)

	results := make([]SearchResult, 0, len(nodes))
	for _, n := range nodes {
		results = append(results, SearchResult{
			ID:       n.Key,
			Distance: float64(hnsw.CosineDistance(query, n.Value)),
		})
	}
	sortResults(results)

	return results, nil
}

// Len returns the number of vectors in the index.
func (h *HNSWIndex) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.vectors)
}

// Close is a no-op; the graph is in memory only.
func (h *HNSWIndex) Close() error {
	return nil
}
