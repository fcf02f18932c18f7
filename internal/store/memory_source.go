package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/nvandessel/cardsync/internal/models"
)

// InMemoryNoteSource is a NoteSource held entirely in memory. It backs tests
// and dry runs; filters are matched against models.DeckFilter.
type InMemoryNoteSource struct {
	mu     sync.RWMutex
	nextID models.NoteID
	notes  map[models.NoteID]memNote
}

type memNote struct {
	deck   string
	fields models.Fields
}

// NewInMemoryNoteSource creates an empty note source.
func NewInMemoryNoteSource() *InMemoryNoteSource {
	return &InMemoryNoteSource{
		nextID: 1000,
		notes:  make(map[models.NoteID]memNote),
	}
}

// Put stores a note under an explicit id, replacing any previous note.
func (s *InMemoryNoteSource) Put(deck string, note models.Note) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[note.ID] = memNote{deck: deck, fields: append(models.Fields(nil), note.Fields...)}
	if note.ID >= s.nextID {
		s.nextID = note.ID
	}
}

// Remove deletes notes, simulating deletion in the external application.
func (s *InMemoryNoteSource) Remove(ids ...models.NoteID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.notes, id)
	}
}

// Len returns the number of stored notes.
func (s *InMemoryNoteSource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.notes)
}

// ListIDs returns the ids of every note whose deck filter equals filter.
func (s *InMemoryNoteSource) ListIDs(ctx context.Context, filter string) ([]models.NoteID, error) {
	if err := ctx.Err(); err != nil {
		return nil, Connectivity("list notes", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []models.NoteID
	for id, n := range s.notes {
		if models.DeckFilter(n.deck) == filter {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Fetch returns the stored notes for ids, skipping unknown ids.
func (s *InMemoryNoteSource) Fetch(ctx context.Context, ids []models.NoteID) ([]models.Note, error) {
	if err := ctx.Err(); err != nil {
		return nil, Connectivity("fetch notes", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	notes := make([]models.Note, 0, len(ids))
	for _, id := range ids {
		n, ok := s.notes[id]
		if !ok {
			continue
		}
		notes = append(notes, models.Note{ID: id, Fields: append(models.Fields(nil), n.fields...)})
	}
	return notes, nil
}

// Create stores a new note in deck and returns its id.
func (s *InMemoryNoteSource) Create(ctx context.Context, deck string, fields models.Fields) (models.NoteID, error) {
	if err := ctx.Err(); err != nil {
		return 0, Connectivity("create note", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.notes[id] = memNote{deck: deck, fields: append(models.Fields(nil), fields...)}
	return id, nil
}

// Update overwrites the named fields of an existing note.
func (s *InMemoryNoteSource) Update(ctx context.Context, id models.NoteID, fields models.Fields) error {
	if err := ctx.Err(); err != nil {
		return Connectivity("update note", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notes[id]
	if !ok {
		return fmt.Errorf("update note %s: %w", id, ErrNoteNotFound)
	}
	for _, f := range fields {
		n.fields = n.fields.With(f.Name, f.Value)
	}
	s.notes[id] = n
	return nil
}

// Verify InMemoryNoteSource satisfies the NoteSource interface at compile time.
var _ NoteSource = (*InMemoryNoteSource)(nil)
