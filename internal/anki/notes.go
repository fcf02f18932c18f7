package anki

import (
	"context"
	"sort"
	"strings"

	"github.com/nvandessel/cardsync/internal/models"
	"github.com/nvandessel/cardsync/internal/store"
)

type findNotesParams struct {
	Query string `json:"query"`
}

type notesInfoParams struct {
	Notes []int64 `json:"notes"`
}

// noteInfo is one element of a notesInfo result. Unknown note ids come back
// as empty objects, which decode with NoteID 0.
type noteInfo struct {
	NoteID    int64                `json:"noteId"`
	ModelName string               `json:"modelName"`
	Tags      []string             `json:"tags"`
	Fields    map[string]noteField `json:"fields"`
}

type noteField struct {
	Value string `json:"value"`
	Order int    `json:"order"`
}

type addNoteParams struct {
	Note newNote `json:"note"`
}

type newNote struct {
	DeckName  string            `json:"deckName"`
	ModelName string            `json:"modelName"`
	Fields    map[string]string `json:"fields"`
	Options   addNoteOptions    `json:"options"`
	Tags      []string          `json:"tags"`
}

type addNoteOptions struct {
	AllowDuplicate bool `json:"allowDuplicate"`
}

type updateNoteFieldsParams struct {
	Note noteUpdate `json:"note"`
}

type noteUpdate struct {
	ID     int64             `json:"id"`
	Fields map[string]string `json:"fields"`
}

// ListIDs implements store.NoteSource using findNotes.
func (c *Client) ListIDs(ctx context.Context, filter string) ([]models.NoteID, error) {
	var raw []int64
	if err := c.invoke(ctx, "findNotes", findNotesParams{Query: filter}, &raw); err != nil {
		return nil, err
	}
	ids := make([]models.NoteID, len(raw))
	for i, id := range raw {
		ids[i] = models.NoteID(id)
	}
	return ids, nil
}

// Fetch implements store.NoteSource using notesInfo. Field names are mapped
// from the configured front/back names onto the canonical ones; other fields
// are kept as-is in their display order.
func (c *Client) Fetch(ctx context.Context, ids []models.NoteID) ([]models.Note, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]int64, len(ids))
	for i, id := range ids {
		raw[i] = int64(id)
	}

	var infos []noteInfo
	if err := c.invoke(ctx, "notesInfo", notesInfoParams{Notes: raw}, &infos); err != nil {
		return nil, err
	}

	notes := make([]models.Note, 0, len(infos))
	for _, info := range infos {
		if info.NoteID == 0 {
			continue
		}
		notes = append(notes, models.Note{
			ID:     models.NoteID(info.NoteID),
			Fields: c.toCanonical(info.Fields),
		})
	}
	return notes, nil
}

// Create implements store.NoteSource using addNote. Duplicates are allowed
// because duplicate policy is decided before the note reaches Anki.
func (c *Client) Create(ctx context.Context, deck string, fields models.Fields) (models.NoteID, error) {
	params := addNoteParams{Note: newNote{
		DeckName:  deck,
		ModelName: c.modelName,
		Fields:    c.fromCanonical(fields),
		Options:   addNoteOptions{AllowDuplicate: true},
		Tags:      []string{},
	}}

	var id *int64
	if err := c.invoke(ctx, "addNote", params, &id); err != nil {
		return 0, err
	}
	if id == nil || *id == 0 {
		return 0, &ActionError{Action: "addNote", Message: "no note id returned"}
	}
	c.logger.Info("added note to Anki", "deck", deck, "note_id", *id)
	return models.NoteID(*id), nil
}

// Update implements store.NoteSource using updateNoteFields.
func (c *Client) Update(ctx context.Context, id models.NoteID, fields models.Fields) error {
	params := updateNoteFieldsParams{Note: noteUpdate{ID: int64(id), Fields: c.fromCanonical(fields)}}
	if err := c.invoke(ctx, "updateNoteFields", params, nil); err != nil {
		return err
	}
	c.logger.Info("updated note in Anki", "note_id", id)
	return nil
}

func (c *Client) toCanonical(fields map[string]noteField) models.Fields {
	type ordered struct {
		name string
		noteField
	}
	list := make([]ordered, 0, len(fields))
	for name, f := range fields {
		list = append(list, ordered{name: name, noteField: f})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Order != list[j].Order {
			return list[i].Order < list[j].Order
		}
		return list[i].name < list[j].name
	})

	out := make(models.Fields, 0, len(list))
	for _, f := range list {
		name := f.name
		switch {
		case strings.EqualFold(name, c.frontField):
			name = models.FieldFront
		case strings.EqualFold(name, c.backField):
			name = models.FieldBack
		}
		out = append(out, models.Field{Name: name, Value: f.Value})
	}
	return out
}

func (c *Client) fromCanonical(fields models.Fields) map[string]string {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		name := f.Name
		switch {
		case strings.EqualFold(name, models.FieldFront):
			name = c.frontField
		case strings.EqualFold(name, models.FieldBack):
			name = c.backField
		}
		out[name] = f.Value
	}
	return out
}

// Verify Client satisfies the NoteSource interface at compile time.
var _ store.NoteSource = (*Client)(nil)
