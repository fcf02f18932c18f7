// Package dedup answers whether a proposed note is a near-duplicate of an
// indexed one, and decides what to do about it.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nvandessel/cardsync/internal/models"
	"github.com/nvandessel/cardsync/internal/store"
	"github.com/nvandessel/cardsync/internal/vecmath"
)

// Defaults for Config.
const (
	DefaultTopK        = 5
	DefaultThreshold   = 0.8
	DefaultCallTimeout = 5 * time.Second
)

// Config controls duplicate queries.
type Config struct {
	TopK        int
	Facets      models.FacetPolicy
	Text        models.TextPolicy
	CallTimeout time.Duration
}

// Detector runs similarity queries against a collection's namespace.
type Detector struct {
	index  store.SimilarityIndex
	cfg    Config
	logger *slog.Logger
}

// New creates a Detector. Zero config fields take their defaults.
func New(index store.SimilarityIndex, cfg Config, logger *slog.Logger) *Detector {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.Facets == "" {
		cfg.Facets = models.FacetSingle
	}
	if cfg.Text == "" {
		cfg.Text = models.TextConcat
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Detector{index: index, cfg: cfg, logger: logger}
}

// CandidateText builds the query text for a proposed front/back pair.
func CandidateText(front, back string, policy models.TextPolicy) string {
	return policy.Text(strings.TrimSpace(front), strings.TrimSpace(back))
}

// Check finds indexed notes similar to a proposed front/back pair.
func (d *Detector) Check(ctx context.Context, front, back string, coll models.Collection, threshold float64) ([]models.DuplicateCandidate, error) {
	return d.FindSimilar(ctx, CandidateText(front, back, d.cfg.Text), coll, threshold)
}

// FindSimilar returns the indexed notes whose similarity to candidateText is
// at least threshold, in the order the index ranked them. Under the dual
// facet policy each note appears once with its best facet score.
//
// An empty result means no duplicates. A failed query is always returned as
// an error, never as an empty result, and so is a namespace owned by a
// different collection (store.ErrNamespaceCollision).
func (d *Detector) FindSimilar(ctx context.Context, candidateText string, coll models.Collection, threshold float64) ([]models.DuplicateCandidate, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("similarity threshold must be in [0, 1], got %v", threshold)
	}
	if strings.TrimSpace(candidateText) == "" {
		return nil, nil
	}

	k := d.cfg.TopK
	if d.cfg.Facets == models.FacetDual {
		k *= 2
	}

	results, err := d.query(ctx, coll, candidateText, k)
	if err != nil {
		return nil, fmt.Errorf("duplicate check in %s: %w", coll.Name, err)
	}

	metric := d.index.Metric()
	candidates := make([]models.DuplicateCandidate, 0, len(results))
	position := make(map[models.NoteID]int, len(results))
	for _, r := range results {
		sim := vecmath.SimilarityFromDistance(metric, r.Distance)
		if sim < threshold {
			continue
		}
		if i, seen := position[r.Metadata.NoteID]; seen {
			if sim > candidates[i].Similarity {
				candidates[i].Similarity = sim
			}
			continue
		}
		position[r.Metadata.NoteID] = len(candidates)
		candidates = append(candidates, models.DuplicateCandidate{
			Similarity: sim,
			NoteID:     r.Metadata.NoteID,
			Front:      r.Metadata.Front,
			Back:       r.Metadata.Back,
		})
	}
	if len(candidates) > d.cfg.TopK {
		candidates = candidates[:d.cfg.TopK]
	}

	d.logger.Debug("dedup: query done",
		slog.String("collection", coll.Name),
		slog.Int("hits", len(results)),
		slog.Int("candidates", len(candidates)),
		slog.Float64("threshold", threshold))
	return candidates, nil
}

func (d *Detector) query(ctx context.Context, coll models.Collection, text string, k int) ([]store.QueryResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()
	if err := store.CheckNamespace(callCtx, d.index, coll); err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, store.Connectivity("index query", err)
		}
		return nil, err
	}
	results, err := d.index.Query(callCtx, coll.Namespace, text, k)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return nil, store.Connectivity("index query", err)
	}
	return results, err
}
