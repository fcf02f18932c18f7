package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/cardsync/internal/cards"
	"github.com/nvandessel/cardsync/internal/dedup"
	"github.com/nvandessel/cardsync/internal/models"
)

// SyncInput is the cardsync_sync argument set.
type SyncInput struct {
	Deck string `json:"deck,omitempty" jsonschema:"deck to sync; empty syncs every deck"`
}

// DeckSync is the outcome for one deck.
type DeckSync struct {
	Deck          string  `json:"deck"`
	RunID         string  `json:"run_id"`
	Added         int     `json:"added"`
	Removed       int     `json:"removed"`
	NotRemoved    int     `json:"not_removed"`
	FailedBatches int     `json:"failed_batches"`
	FailedNotes   []int64 `json:"failed_notes,omitempty"`
	Malformed     []int64 `json:"malformed,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// SyncOutput is the cardsync_sync result.
type SyncOutput struct {
	Decks []DeckSync `json:"decks"`
}

// CheckInput is the cardsync_check argument set.
type CheckInput struct {
	Deck      string   `json:"deck" jsonschema:"deck to search"`
	Front     string   `json:"front" jsonschema:"front text of the proposed card"`
	Back      string   `json:"back,omitempty" jsonschema:"back text of the proposed card"`
	Threshold *float64 `json:"threshold,omitempty" jsonschema:"minimum similarity in [0, 1]"`
}

// Candidate is a similar indexed card.
type Candidate struct {
	Index      int     `json:"index"`
	NoteID     int64   `json:"note_id"`
	Similarity float64 `json:"similarity"`
	Front      string  `json:"front"`
	Back       string  `json:"back"`
}

// CheckOutput is the cardsync_check result.
type CheckOutput struct {
	Duplicates []Candidate `json:"duplicates"`
}

// AddInput is the cardsync_add argument set.
type AddInput struct {
	Deck      string   `json:"deck" jsonschema:"deck to add the card to"`
	Front     string   `json:"front" jsonschema:"front text"`
	Back      string   `json:"back" jsonschema:"back text"`
	Choice    string   `json:"choice,omitempty" jsonschema:"what to do if duplicates exist: 0 adds anyway, N overwrites duplicate N, s skips"`
	Threshold *float64 `json:"threshold,omitempty" jsonschema:"minimum similarity in [0, 1]"`
}

// AddOutput is the cardsync_add result. Action is "needs_choice" when
// duplicates were found and no choice was given.
type AddOutput struct {
	Action     string      `json:"action"`
	NoteID     int64       `json:"note_id,omitempty"`
	Indexed    bool        `json:"indexed"`
	Duplicates []Candidate `json:"duplicates,omitempty"`
}

const actionNeedsChoice = "needs_choice"

func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "cardsync_sync",
		Description: "Bring the similarity index in line with the deck: index new notes and drop deleted ones",
	}, s.handleSync)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "cardsync_check",
		Description: "List existing cards that are near-duplicates of a proposed card",
	}, s.handleCheck)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "cardsync_add",
		Description: "Add a card unless near-duplicates exist; pass choice to add anyway, overwrite one, or skip",
	}, s.handleAdd)
}

func (s *Server) handleSync(ctx context.Context, _ *sdk.CallToolRequest, in SyncInput) (*sdk.CallToolResult, SyncOutput, error) {
	decks := []string{in.Deck}
	if in.Deck == "" {
		if s.decks == nil {
			return nil, SyncOutput{}, errors.New("deck is required")
		}
		names, err := s.decks.DeckNames(ctx)
		if err != nil {
			return nil, SyncOutput{}, fmt.Errorf("list decks: %w", err)
		}
		decks = names
	}

	out := SyncOutput{Decks: make([]DeckSync, 0, len(decks))}
	for _, deck := range decks {
		report, err := s.engine.Reconcile(ctx, models.NewCollection(deck))
		ds := DeckSync{
			Deck:          deck,
			RunID:         report.RunID,
			Added:         report.Added,
			Removed:       report.Removed,
			NotRemoved:    report.NotRemoved,
			FailedBatches: len(report.FailedBatches),
		}
		for _, f := range report.FailedBatches {
			ds.FailedNotes = append(ds.FailedNotes, noteIDs(f.NoteIDs)...)
		}
		for _, m := range report.Malformed {
			ds.Malformed = append(ds.Malformed, int64(m.NoteID))
		}
		if err != nil {
			s.logger.Warn("mcp: sync failed", slog.String("deck", deck), slog.String("error", err.Error()))
			ds.Error = err.Error()
		}
		out.Decks = append(out.Decks, ds)
	}
	return nil, out, nil
}

func (s *Server) handleCheck(ctx context.Context, _ *sdk.CallToolRequest, in CheckInput) (*sdk.CallToolResult, CheckOutput, error) {
	if in.Deck == "" || in.Front == "" {
		return nil, CheckOutput{}, errors.New("deck and front are required")
	}
	found, err := s.cards.Check(ctx, models.NewCollection(in.Deck), cards.Proposal{Front: in.Front, Back: in.Back}, s.thresholdOr(in.Threshold))
	if err != nil {
		return nil, CheckOutput{}, fmt.Errorf("duplicate check failed: %w", err)
	}
	return nil, CheckOutput{Duplicates: toCandidates(found)}, nil
}

func (s *Server) handleAdd(ctx context.Context, _ *sdk.CallToolRequest, in AddInput) (*sdk.CallToolResult, AddOutput, error) {
	if in.Deck == "" || in.Front == "" || in.Back == "" {
		return nil, AddOutput{}, errors.New("deck, front and back are required")
	}
	coll := models.NewCollection(in.Deck)
	p := cards.Proposal{Front: in.Front, Back: in.Back}

	found, err := s.cards.Check(ctx, coll, p, s.thresholdOr(in.Threshold))
	if err != nil {
		return nil, AddOutput{}, fmt.Errorf("duplicate check failed: %w", err)
	}

	choice := dedup.Choice{Kind: dedup.AddNew}
	if len(found) > 0 {
		if in.Choice == "" {
			return nil, AddOutput{Action: actionNeedsChoice, Duplicates: toCandidates(found)}, nil
		}
		if choice, err = dedup.ParseChoice(in.Choice); err != nil {
			return nil, AddOutput{}, err
		}
	}

	action, err := dedup.Resolve(found, choice)
	if err != nil {
		return nil, AddOutput{}, err
	}
	outcome, err := s.cards.Apply(ctx, coll, p, action)
	if err != nil {
		return nil, AddOutput{}, err
	}
	return nil, AddOutput{
		Action:  outcome.Action.String(),
		NoteID:  int64(outcome.NoteID),
		Indexed: outcome.Indexed,
	}, nil
}

func (s *Server) thresholdOr(t *float64) float64 {
	if t == nil {
		return s.threshold
	}
	return *t
}

func toCandidates(found []models.DuplicateCandidate) []Candidate {
	out := make([]Candidate, len(found))
	for i, c := range found {
		out[i] = Candidate{
			Index:      i + 1,
			NoteID:     int64(c.NoteID),
			Similarity: c.Similarity,
			Front:      c.Front,
			Back:       c.Back,
		}
	}
	return out
}

func noteIDs(ids []models.NoteID) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
