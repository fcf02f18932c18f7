// Package ingest embeds notes into the similarity index in bounded-concurrency
// batches. A failed batch is recorded and never cancels its siblings; the next
// reconcile picks its notes up again.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/cardsync/internal/models"
	"github.com/nvandessel/cardsync/internal/store"
)

// Defaults for Config.
const (
	DefaultBatchSize   = 20
	DefaultWorkers     = 4
	DefaultCallTimeout = 5 * time.Second
)

// Config controls batching and concurrency.
type Config struct {
	BatchSize   int
	Workers     int
	CallTimeout time.Duration
	Facets      models.FacetPolicy
	Text        models.TextPolicy
}

// DefaultConfig returns the default ingestion settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:   DefaultBatchSize,
		Workers:     DefaultWorkers,
		CallTimeout: DefaultCallTimeout,
		Facets:      models.FacetSingle,
		Text:        models.TextConcat,
	}
}

// Validate checks that every setting is in range.
func (c Config) Validate() error {
	if c.BatchSize < 1 || c.BatchSize > 1000 {
		return fmt.Errorf("batch size must be between 1 and 1000, got %d", c.BatchSize)
	}
	if c.Workers < 1 || c.Workers > 64 {
		return fmt.Errorf("workers must be between 1 and 64, got %d", c.Workers)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("call timeout must be positive, got %s", c.CallTimeout)
	}
	if _, err := models.ParseFacetPolicy(string(c.Facets)); err != nil {
		return err
	}
	if _, err := models.ParseTextPolicy(string(c.Text)); err != nil {
		return err
	}
	return nil
}

// BatchFailure records one batch whose upsert failed.
type BatchFailure struct {
	Index   int             `json:"index"`
	NoteIDs []models.NoteID `json:"note_ids"`
	Err     error           `json:"-"`
	Reason  string          `json:"reason"`
}

func (f BatchFailure) Error() string {
	return fmt.Sprintf("batch %d (%d notes): %v", f.Index, len(f.NoteIDs), f.Err)
}

func (f BatchFailure) Unwrap() error { return f.Err }

// Result summarizes one Ingest call.
type Result struct {
	Succeeded     int                          `json:"succeeded"`
	FailedBatches []BatchFailure               `json:"failed_batches,omitempty"`
	Malformed     []*models.MalformedNoteError `json:"malformed,omitempty"`
}

// FailedNoteIDs lists the notes of every failed batch.
func (r Result) FailedNoteIDs() []models.NoteID {
	var ids []models.NoteID
	for _, f := range r.FailedBatches {
		ids = append(ids, f.NoteIDs...)
	}
	return ids
}

// Pipeline writes notes to a similarity index.
type Pipeline struct {
	index  store.SimilarityIndex
	cfg    Config
	logger *slog.Logger
}

// New creates a Pipeline. Zero config fields take their defaults.
func New(index store.SimilarityIndex, cfg Config, logger *slog.Logger) *Pipeline {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.Facets == "" {
		cfg.Facets = def.Facets
	}
	if cfg.Text == "" {
		cfg.Text = def.Text
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{index: index, cfg: cfg, logger: logger}
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// batchOutcome is the result slot owned by one batch task.
type batchOutcome struct {
	succeeded int
	failure   *BatchFailure
	malformed []*models.MalformedNoteError
}

// Ingest partitions notes into batches and upserts them with at most
// Config.Workers batches in flight. It never returns an error: failures are
// reported per batch in the Result.
func (p *Pipeline) Ingest(ctx context.Context, notes []models.Note, coll models.Collection) Result {
	batches := Partition(notes, p.cfg.BatchSize)
	outcomes := make([]batchOutcome, len(batches))

	var g errgroup.Group
	g.SetLimit(p.cfg.Workers)
	for i, batch := range batches {
		g.Go(func() error {
			outcomes[i] = p.ingestBatch(ctx, i, batch, coll)
			return nil
		})
	}
	_ = g.Wait()

	var res Result
	for _, o := range outcomes {
		res.Succeeded += o.succeeded
		res.Malformed = append(res.Malformed, o.malformed...)
		if o.failure != nil {
			res.FailedBatches = append(res.FailedBatches, *o.failure)
		}
	}

	p.logger.Info("ingest: done",
		slog.String("collection", coll.Name),
		slog.Int("notes", len(notes)),
		slog.Int("batches", len(batches)),
		slog.Int("succeeded", res.Succeeded),
		slog.Int("failed_batches", len(res.FailedBatches)),
		slog.Int("malformed", len(res.Malformed)))
	return res
}

func (p *Pipeline) ingestBatch(ctx context.Context, index int, batch []models.Note, coll models.Collection) batchOutcome {
	var (
		out     batchOutcome
		entries []models.IndexEntry
		ids     []models.NoteID
	)
	for _, n := range batch {
		es, err := models.BuildEntries(n, p.cfg.Facets, p.cfg.Text)
		if err != nil {
			var malformed *models.MalformedNoteError
			if !errors.As(err, &malformed) {
				malformed = &models.MalformedNoteError{NoteID: n.ID}
			}
			p.logger.Warn("ingest: skipping malformed note",
				slog.String("note_id", n.ID.String()), slog.Any("missing", malformed.Missing))
			out.malformed = append(out.malformed, malformed)
			continue
		}
		entries = append(entries, es...)
		ids = append(ids, n.ID)
	}
	if len(entries) == 0 {
		return out
	}

	if err := p.upsert(ctx, coll.Namespace, entries); err != nil {
		p.logger.Warn("ingest: batch failed",
			slog.Int("batch", index), slog.Int("notes", len(ids)), slog.String("error", err.Error()))
		out.failure = &BatchFailure{Index: index, NoteIDs: ids, Err: err, Reason: err.Error()}
		return out
	}
	p.logger.Debug("ingest: batch stored", slog.Int("batch", index), slog.Int("notes", len(ids)))
	out.succeeded = len(ids)
	return out
}

// upsert runs one index write under the per-call timeout.
func (p *Pipeline) upsert(ctx context.Context, namespace string, entries []models.IndexEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()

	err := p.index.Upsert(callCtx, namespace, entries)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return store.Connectivity("index upsert", err)
	}
	return err
}

// Claim records coll as the owner of its namespace, failing with
// store.ErrNamespaceCollision when another collection already owns it.
func (p *Pipeline) Claim(ctx context.Context, coll models.Collection) error {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()
	err := store.ClaimNamespace(callCtx, p.index, coll)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return store.Connectivity("index claim namespace", err)
	}
	return err
}

// IngestOne transforms and upserts a single note, typically one that was just
// created or overwritten in the note source. Failures are logged and reported
// as false.
func (p *Pipeline) IngestOne(ctx context.Context, note models.Note, coll models.Collection) bool {
	entries, err := models.BuildEntries(note, p.cfg.Facets, p.cfg.Text)
	if err != nil {
		p.logger.Warn("ingest: note not indexed", slog.String("note_id", note.ID.String()), slog.String("error", err.Error()))
		return false
	}
	if err := p.upsert(ctx, coll.Namespace, entries); err != nil {
		p.logger.Warn("ingest: note not indexed", slog.String("note_id", note.ID.String()), slog.String("error", err.Error()))
		return false
	}
	return true
}

// Partition splits notes into consecutive batches of at most size notes.
func Partition(notes []models.Note, size int) [][]models.Note {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var batches [][]models.Note
	for start := 0; start < len(notes); start += size {
		end := min(start+size, len(notes))
		batches = append(batches, notes[start:end])
	}
	return batches
}
