// Package cards runs the add-a-card workflow: check a proposal for
// near-duplicates, apply the caller's decision to the note source, and keep
// the index in step with what was written.
package cards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nvandessel/cardsync/internal/dedup"
	"github.com/nvandessel/cardsync/internal/ingest"
	"github.com/nvandessel/cardsync/internal/models"
	"github.com/nvandessel/cardsync/internal/store"
)

// Proposal is a card the caller wants to add.
type Proposal struct {
	// Record is the 1-based position in an import file; zero otherwise.
	Record int    `json:"record,omitempty"`
	Front  string `json:"front"`
	Back   string `json:"back"`
}

// Validate reports whether both sides carry text.
func (p Proposal) Validate() error {
	var missing []string
	if strings.TrimSpace(p.Front) == "" {
		missing = append(missing, models.FieldFront)
	}
	if strings.TrimSpace(p.Back) == "" {
		missing = append(missing, models.FieldBack)
	}
	if len(missing) > 0 {
		return fmt.Errorf("card is missing %s", strings.Join(missing, " and "))
	}
	return nil
}

// Outcome describes what Apply did.
type Outcome struct {
	Action dedup.ActionKind `json:"action"`
	NoteID models.NoteID    `json:"note_id,omitempty"`
	// Indexed is false when the note was written but its index entries were
	// not; the next sync adds new notes, overwritten ones need a reindex.
	Indexed bool `json:"indexed"`
}

// Service ties the note source, the duplicate detector and the ingestion
// pipeline together.
type Service struct {
	source      store.NoteSource
	detector    *dedup.Detector
	pipeline    *ingest.Pipeline
	callTimeout time.Duration
	logger      *slog.Logger
}

// New creates a Service. The pipeline's call timeout also bounds note source
// calls.
func New(source store.NoteSource, detector *dedup.Detector, pipeline *ingest.Pipeline, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		source:      source,
		detector:    detector,
		pipeline:    pipeline,
		callTimeout: pipeline.Config().CallTimeout,
		logger:      logger,
	}
}

// Check returns indexed notes similar to the proposal.
func (s *Service) Check(ctx context.Context, coll models.Collection, p Proposal, threshold float64) ([]models.DuplicateCandidate, error) {
	return s.detector.Check(ctx, p.Front, p.Back, coll, threshold)
}

// Apply carries out a resolved action. AddNew creates the note, Overwrite
// replaces the target's fields; both then refresh the note's index entries.
// Skip and Quit do nothing.
func (s *Service) Apply(ctx context.Context, coll models.Collection, p Proposal, action dedup.Action) (Outcome, error) {
	out := Outcome{Action: action.Kind}
	switch action.Kind {
	case dedup.Skip, dedup.Quit:
		return out, nil
	case dedup.AddNew, dedup.Overwrite:
	default:
		return out, fmt.Errorf("%w: %v", dedup.ErrInvalidChoice, action.Kind)
	}

	if err := p.Validate(); err != nil {
		return out, err
	}
	fields := models.NewFields(strings.TrimSpace(p.Front), strings.TrimSpace(p.Back))

	if err := s.pipeline.Claim(ctx, coll); err != nil {
		return out, fmt.Errorf("claim namespace for %s: %w", coll.Name, err)
	}

	if action.Kind == dedup.AddNew {
		err := s.call(ctx, func(ctx context.Context) error {
			id, err := s.source.Create(ctx, coll.Name, fields)
			out.NoteID = id
			return err
		})
		if err != nil {
			return out, fmt.Errorf("create note in %s: %w", coll.Name, err)
		}
	} else {
		if action.Target == nil {
			return out, fmt.Errorf("%w: overwrite without a target", dedup.ErrInvalidChoice)
		}
		out.NoteID = action.Target.NoteID
		err := s.call(ctx, func(ctx context.Context) error {
			return s.source.Update(ctx, out.NoteID, fields)
		})
		if err != nil {
			return out, fmt.Errorf("update note %d: %w", out.NoteID, err)
		}
	}

	out.Indexed = s.reindex(ctx, coll, out.NoteID)
	s.logger.Info("cards: applied",
		slog.String("collection", coll.Name),
		slog.String("action", action.Kind.String()),
		slog.String("note_id", out.NoteID.String()),
		slog.Bool("indexed", out.Indexed))
	return out, nil
}

// reindex fetches the note as the source stored it and upserts its entries.
func (s *Service) reindex(ctx context.Context, coll models.Collection, id models.NoteID) bool {
	var notes []models.Note
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		notes, err = s.source.Fetch(ctx, []models.NoteID{id})
		return err
	})
	if err != nil {
		s.logger.Warn("cards: refetch failed", slog.String("note_id", id.String()), slog.String("error", err.Error()))
		return false
	}
	if len(notes) == 0 {
		s.logger.Warn("cards: note vanished after write", slog.String("note_id", id.String()))
		return false
	}
	return s.pipeline.IngestOne(ctx, notes[0], coll)
}

// DecideFunc picks what to do with a proposal that has similar notes.
// Returning an error aborts the import.
type DecideFunc func(ctx context.Context, p Proposal, candidates []models.DuplicateCandidate) (dedup.Choice, error)

// ImportFailure records a card that could not be applied.
type ImportFailure struct {
	Record int    `json:"record"`
	Front  string `json:"front"`
	Err    error  `json:"-"`
	Reason string `json:"reason"`
}

// ImportReport summarizes an Import call.
type ImportReport struct {
	Total       int             `json:"total"`
	Added       int             `json:"added"`
	Overwritten int             `json:"overwritten"`
	Skipped     int             `json:"skipped"`
	NotIndexed  int             `json:"not_indexed,omitempty"`
	Failed      []ImportFailure `json:"failed,omitempty"`
	Quit        bool            `json:"quit,omitempty"`
}

// Import checks and applies each proposal in order. Proposals without
// similar notes are added without consulting decide; with a nil decide,
// proposals that have similar notes are skipped. A connectivity failure or a
// namespace owned by another collection stops the import and is returned with
// the partial report; other per-card failures are recorded and the import
// continues.
func (s *Service) Import(ctx context.Context, coll models.Collection, proposals []Proposal, threshold float64, decide DecideFunc) (ImportReport, error) {
	report := ImportReport{Total: len(proposals)}
	for _, p := range proposals {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		candidates, err := s.Check(ctx, coll, p, threshold)
		if err != nil {
			if fatal(err) {
				return report, err
			}
			report.fail(p, err)
			continue
		}

		choice := dedup.Choice{Kind: dedup.AddNew}
		switch {
		case len(candidates) == 0:
		case decide == nil:
			choice = dedup.Choice{Kind: dedup.Skip}
		default:
			choice, err = decide(ctx, p, candidates)
			if err != nil {
				return report, fmt.Errorf("decide record %d: %w", p.Record, err)
			}
		}

		action, err := dedup.Resolve(candidates, choice)
		if err != nil {
			report.fail(p, err)
			continue
		}
		if action.Kind == dedup.Quit {
			report.Quit = true
			report.Skipped += report.Total - report.processed()
			break
		}

		out, err := s.Apply(ctx, coll, p, action)
		if err != nil {
			if fatal(err) {
				return report, err
			}
			report.fail(p, err)
			continue
		}
		report.count(out)
	}

	s.logger.Info("cards: import done",
		slog.String("collection", coll.Name),
		slog.Int("total", report.Total),
		slog.Int("added", report.Added),
		slog.Int("overwritten", report.Overwritten),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", len(report.Failed)))
	return report, nil
}

// fatal reports whether err stops an import instead of failing one card.
func fatal(err error) bool {
	return store.IsConnectivity(err) || errors.Is(err, store.ErrNamespaceCollision)
}

func (r *ImportReport) processed() int {
	return r.Added + r.Overwritten + r.Skipped + len(r.Failed)
}

func (r *ImportReport) count(out Outcome) {
	switch out.Action {
	case dedup.AddNew:
		r.Added++
	case dedup.Overwrite:
		r.Overwritten++
	default:
		r.Skipped++
		return
	}
	if !out.Indexed {
		r.NotIndexed++
	}
}

func (r *ImportReport) fail(p Proposal, err error) {
	r.Failed = append(r.Failed, ImportFailure{Record: p.Record, Front: p.Front, Err: err, Reason: err.Error()})
}

// call runs fn under the per-call timeout; an expired deadline is reported as
// a connectivity failure.
func (s *Service) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	err := fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return store.Connectivity("call timed out", err)
	}
	return err
}
