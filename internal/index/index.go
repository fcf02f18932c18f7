// Package index implements store.SimilarityIndex: a durable SQLite-backed
// index for real collections and an in-memory one for tests and dry runs.
package index

import (
	"log/slog"

	"github.com/nvandessel/cardsync/internal/models"
	"github.com/nvandessel/cardsync/internal/sanitize"
	"github.com/nvandessel/cardsync/internal/tokens"
)

// DefaultMaxTokens caps the text sent to the embedder per entry.
const DefaultMaxTokens = 512

// Options configures an index.
type Options struct {
	// FacetPolicy is recorded per namespace; writes under another policy fail.
	FacetPolicy models.FacetPolicy

	// MaxTokens truncates embedded text. Zero uses DefaultMaxTokens,
	// negative disables truncation.
	MaxTokens int

	// TierThreshold is the per-namespace vector count at which search
	// switches from brute force to HNSW. Zero uses the vectorindex default.
	TierThreshold int

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.FacetPolicy == "" {
		o.FacetPolicy = models.FacetSingle
	}
	if o.MaxTokens == 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// prepare turns stored field text into embedder input.
func prepare(text string, maxTokens int) string {
	return tokens.Truncate(sanitize.FieldText(text), maxTokens)
}

func prepareAll(entries []models.IndexEntry, maxTokens int) []string {
	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = prepare(e.Text, maxTokens)
	}
	return texts
}

func entryIDs(entries []models.IndexEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}
