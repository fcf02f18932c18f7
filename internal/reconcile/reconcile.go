// Package reconcile brings a collection's index namespace in line with the
// note source by applying only the add/remove delta between the two.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nvandessel/cardsync/internal/ingest"
	"github.com/nvandessel/cardsync/internal/models"
	"github.com/nvandessel/cardsync/internal/store"
)

// DefaultFetchChunk is how many notes are requested from the note source per
// Fetch call.
const DefaultFetchChunk = 100

// Config controls collaborator calls made by the engine.
type Config struct {
	CallTimeout time.Duration
	FetchChunk  int
}

// Report summarizes one reconcile run. Counts are in notes, not entries.
type Report struct {
	RunID         string                       `json:"run_id"`
	Collection    string                       `json:"collection"`
	Namespace     string                       `json:"namespace"`
	Added         int                          `json:"added"`
	Removed       int                          `json:"removed"`
	NotRemoved    int                          `json:"not_removed,omitempty"`
	Orphans       int                          `json:"orphans,omitempty"`
	FailedBatches []ingest.BatchFailure        `json:"failed_batches,omitempty"`
	Malformed     []*models.MalformedNoteError `json:"malformed,omitempty"`
	Duration      time.Duration                `json:"duration"`
}

// Engine runs reconciliation for collections.
type Engine struct {
	source   store.NoteSource
	index    store.SimilarityIndex
	pipeline *ingest.Pipeline
	cfg      Config
	logger   *slog.Logger
}

// New creates an Engine.
func New(source store.NoteSource, index store.SimilarityIndex, pipeline *ingest.Pipeline, cfg Config, logger *slog.Logger) *Engine {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = ingest.DefaultCallTimeout
	}
	if cfg.FetchChunk <= 0 {
		cfg.FetchChunk = DefaultFetchChunk
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{source: source, index: index, pipeline: pipeline, cfg: cfg, logger: logger}
}

// plan is a computed delta plus what is needed to apply its removals.
type plan struct {
	delta   models.SyncDelta
	entries map[models.NoteID][]string
	orphans []string
}

// Delta computes what Reconcile would change without changing anything.
func (e *Engine) Delta(ctx context.Context, coll models.Collection) (models.SyncDelta, error) {
	p, err := e.plan(ctx, coll)
	if err != nil {
		return models.SyncDelta{}, err
	}
	return p.delta, nil
}

func (e *Engine) plan(ctx context.Context, coll models.Collection) (plan, error) {
	err := e.call(ctx, func(ctx context.Context) error {
		return store.CheckNamespace(ctx, e.index, coll)
	})
	if err != nil {
		return plan{}, fmt.Errorf("check namespace for %s: %w", coll.Name, err)
	}

	var current []models.NoteID
	err = e.call(ctx, func(ctx context.Context) error {
		var err error
		current, err = e.source.ListIDs(ctx, coll.Filter)
		return err
	})
	if err != nil {
		return plan{}, fmt.Errorf("list notes for %s: %w", coll.Name, err)
	}

	var entries []models.IndexEntry
	err = e.call(ctx, func(ctx context.Context) error {
		var err error
		entries, err = e.index.ListAll(ctx, coll.Namespace)
		return err
	})
	if err != nil {
		return plan{}, fmt.Errorf("list index namespace %s: %w", coll.Namespace, err)
	}

	indexed, orphans := models.ProjectNoteIDs(entries)
	return plan{
		delta:   models.ComputeDelta(current, indexed),
		entries: models.GroupEntryIDs(entries),
		orphans: orphans,
	}, nil
}

// Reconcile removes index entries of notes that no longer exist and ingests
// notes that are not indexed yet. Removal runs first and is best-effort.
// An error is returned only when the namespace belongs to another collection,
// the note source or the index cannot be listed, or new notes cannot be
// fetched.
func (e *Engine) Reconcile(ctx context.Context, coll models.Collection) (Report, error) {
	start := time.Now()
	report := Report{
		RunID:      uuid.NewString(),
		Collection: coll.Name,
		Namespace:  coll.Namespace,
	}
	logger := e.logger.With(slog.String("run_id", report.RunID), slog.String("collection", coll.Name))

	err := e.call(ctx, func(ctx context.Context) error {
		return store.ClaimNamespace(ctx, e.index, coll)
	})
	if err != nil {
		logger.Error("sync: namespace claim failed", slog.String("namespace", coll.Namespace), slog.String("error", err.Error()))
		return report, fmt.Errorf("claim namespace %s for %s: %w", coll.Namespace, coll.Name, err)
	}

	p, err := e.plan(ctx, coll)
	if err != nil {
		logger.Error("sync: plan failed", slog.String("error", err.Error()))
		return report, err
	}
	logger.Info("sync: delta computed",
		slog.Int("to_add", len(p.delta.ToAdd)),
		slog.Int("to_remove", len(p.delta.ToRemove)),
		slog.Int("orphans", len(p.orphans)))

	e.remove(ctx, logger, coll, p, &report)

	if len(p.delta.ToAdd) > 0 {
		notes, err := e.fetch(ctx, p.delta.ToAdd)
		if err != nil {
			report.Duration = time.Since(start)
			logger.Error("sync: fetch failed", slog.String("error", err.Error()))
			return report, fmt.Errorf("fetch new notes for %s: %w", coll.Name, err)
		}
		res := e.pipeline.Ingest(ctx, notes, coll)
		report.Added = res.Succeeded
		report.FailedBatches = res.FailedBatches
		report.Malformed = res.Malformed
	}

	report.Duration = time.Since(start)
	logger.Info("sync: done",
		slog.Int("added", report.Added),
		slog.Int("removed", report.Removed),
		slog.Int("not_removed", report.NotRemoved),
		slog.Int("failed_batches", len(report.FailedBatches)),
		slog.Duration("duration", report.Duration))
	return report, nil
}

func (e *Engine) remove(ctx context.Context, logger *slog.Logger, coll models.Collection, p plan, report *Report) {
	ids := append([]string(nil), p.orphans...)
	for _, id := range p.delta.ToRemove {
		ids = append(ids, p.entries[id]...)
	}
	if len(ids) == 0 {
		return
	}

	err := e.call(ctx, func(ctx context.Context) error {
		return e.index.Delete(ctx, coll.Namespace, ids)
	})
	if err != nil {
		logger.Warn("sync: delete failed", slog.Int("notes", len(p.delta.ToRemove)), slog.String("error", err.Error()))
		report.NotRemoved = len(p.delta.ToRemove)
		return
	}
	report.Removed = len(p.delta.ToRemove)
	report.Orphans = len(p.orphans)
	logger.Debug("sync: removed stale entries", slog.Int("entries", len(ids)))
}

func (e *Engine) fetch(ctx context.Context, ids []models.NoteID) ([]models.Note, error) {
	notes := make([]models.Note, 0, len(ids))
	for start := 0; start < len(ids); start += e.cfg.FetchChunk {
		chunk := ids[start:min(start+e.cfg.FetchChunk, len(ids))]
		err := e.call(ctx, func(ctx context.Context) error {
			got, err := e.source.Fetch(ctx, chunk)
			notes = append(notes, got...)
			return err
		})
		if err != nil {
			return nil, err
		}
	}
	return notes, nil
}

// call runs fn under the per-call timeout; an expired deadline is reported as
// a connectivity failure.
func (e *Engine) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	err := fn(callCtx)
	if err != nil && callCtx.Err() != nil && ctx.Err() == nil {
		return store.Connectivity("call timed out", err)
	}
	return err
}
