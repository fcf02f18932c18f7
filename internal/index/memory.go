package index

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nvandessel/cardsync/internal/embedding"
	"github.com/nvandessel/cardsync/internal/models"
	"github.com/nvandessel/cardsync/internal/store"
	"github.com/nvandessel/cardsync/internal/vecmath"
	"github.com/nvandessel/cardsync/internal/vectorindex"
)

// MemoryIndex is a SimilarityIndex held entirely in memory.
type MemoryIndex struct {
	embedder embedding.Embedder
	opts     Options

	mu     sync.Mutex
	spaces map[string]*memSpace
	owners map[string]string
}

type memSpace struct {
	entries map[string]models.IndexEntry
	vectors *vectorindex.BruteForceIndex
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex(embedder embedding.Embedder, opts Options) *MemoryIndex {
	return &MemoryIndex{
		embedder: embedder,
		opts:     opts.withDefaults(),
		spaces:   make(map[string]*memSpace),
		owners:   make(map[string]string),
	}
}

func (m *MemoryIndex) space(namespace string, create bool) *memSpace {
	m.mu.Lock()
	defer m.mu.Unlock()
	sp, ok := m.spaces[namespace]
	if !ok && create {
		sp = &memSpace{
			entries: make(map[string]models.IndexEntry),
			vectors: vectorindex.NewBruteForceIndex(),
		}
		m.spaces[namespace] = sp
	}
	return sp
}

// ListAll implements store.SimilarityIndex.
func (m *MemoryIndex) ListAll(_ context.Context, namespace string) ([]models.IndexEntry, error) {
	sp := m.space(namespace, false)
	if sp == nil {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.IndexEntry, 0, len(sp.entries))
	for _, e := range sp.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Upsert implements store.SimilarityIndex.
func (m *MemoryIndex) Upsert(ctx context.Context, namespace string, entries []models.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	vecs, err := m.embedder.Embed(ctx, prepareAll(entries, m.opts.MaxTokens))
	if err != nil {
		return fmt.Errorf("embed entries: %w", err)
	}
	if len(vecs) != len(entries) {
		return fmt.Errorf("embedder returned %d vectors for %d entries", len(vecs), len(entries))
	}

	sp := m.space(namespace, true)
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range entries {
		sp.entries[e.ID] = e
		if err := sp.vectors.Add(ctx, e.ID, vecs[i]); err != nil {
			return err
		}
	}
	return nil
}

// Delete implements store.SimilarityIndex.
func (m *MemoryIndex) Delete(ctx context.Context, namespace string, ids []string) error {
	sp := m.space(namespace, false)
	if sp == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(sp.entries, id)
	}
	return sp.vectors.Remove(ctx, ids...)
}

// Query implements store.SimilarityIndex.
func (m *MemoryIndex) Query(ctx context.Context, namespace, text string, k int) ([]store.QueryResult, error) {
	sp := m.space(namespace, false)
	if sp == nil || k <= 0 {
		return nil, nil
	}
	vecs, err := m.embedder.Embed(ctx, []string{prepare(text, m.opts.MaxTokens)})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := sp.vectors.Search(ctx, vecs[0], k)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	results := make([]store.QueryResult, 0, len(hits))
	for _, h := range hits {
		e, ok := sp.entries[h.ID]
		if !ok {
			continue
		}
		results = append(results, store.QueryResult{ID: h.ID, Distance: h.Distance, Metadata: e.Metadata})
	}
	return results, nil
}

// ClaimNamespace implements store.NamespaceOwners.
func (m *MemoryIndex) ClaimNamespace(_ context.Context, namespace, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, ok := m.owners[namespace]
	if !ok || owner == "" {
		m.owners[namespace] = collection
		return nil
	}
	if owner != collection {
		return &store.CollisionError{Namespace: namespace, Owner: owner, Collection: collection}
	}
	return nil
}

// NamespaceOwner implements store.NamespaceOwners.
func (m *MemoryIndex) NamespaceOwner(_ context.Context, namespace string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owners[namespace], nil
}

// Metric implements store.SimilarityIndex.
func (m *MemoryIndex) Metric() vecmath.Metric {
	return vecmath.Cosine
}

// Verify MemoryIndex satisfies the SimilarityIndex interface at compile time.
var (
	_ store.SimilarityIndex = (*MemoryIndex)(nil)
	_ store.NamespaceOwners = (*MemoryIndex)(nil)
)
