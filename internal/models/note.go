// Package models defines the note, index entry and collection types shared by
// the sync and duplicate-detection engine.
package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Canonical field names. Note sources rename their own field names onto these
// at the boundary so the engine never sees deck-specific naming.
const (
	FieldFront = "front"
	FieldBack  = "back"
)

// NoteID is the opaque identifier assigned by the note source.
// It is stable across syncs.
type NoteID int64

func (id NoteID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseNoteID parses the decimal form produced by NoteID.String.
func ParseNoteID(s string) (NoteID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid note id %q: %w", s, err)
	}
	return NoteID(n), nil
}

// Field is one named text field of a note.
type Field struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// Fields is the ordered field list of a note. Lookups are case-insensitive.
type Fields []Field

// NewFields builds the two canonical fields.
func NewFields(front, back string) Fields {
	return Fields{
		{Name: FieldFront, Value: front},
		{Name: FieldBack, Value: back},
	}
}

// Get returns the value of the named field.
func (f Fields) Get(name string) (string, bool) {
	for _, field := range f {
		if strings.EqualFold(field.Name, name) {
			return field.Value, true
		}
	}
	return "", false
}

// With returns a copy of f with the named field set to value,
// appending the field if it does not exist yet.
func (f Fields) With(name, value string) Fields {
	out := make(Fields, len(f), len(f)+1)
	copy(out, f)
	for i := range out {
		if strings.EqualFold(out[i].Name, name) {
			out[i].Value = value
			return out
		}
	}
	return append(out, Field{Name: name, Value: value})
}

// Map returns the fields as a name -> value map.
func (f Fields) Map() map[string]string {
	m := make(map[string]string, len(f))
	for _, field := range f {
		m[field.Name] = field.Value
	}
	return m
}

// Note is an identified record holding paired front/back text.
// Notes are owned by the note source; the engine only reads them.
type Note struct {
	ID     NoteID `json:"note_id" yaml:"note_id"`
	Fields Fields `json:"fields" yaml:"fields"`
}

// Front returns the front text, or "" when the field is missing.
func (n Note) Front() string {
	v, _ := n.Fields.Get(FieldFront)
	return v
}

// Back returns the back text, or "" when the field is missing.
func (n Note) Back() string {
	v, _ := n.Fields.Get(FieldBack)
	return v
}

// Validate reports a *MalformedNoteError when the note lacks an identifier
// or one of the canonical fields.
func (n Note) Validate() error {
	var missing []string
	if n.ID == 0 {
		missing = append(missing, "id")
	}
	if _, ok := n.Fields.Get(FieldFront); !ok {
		missing = append(missing, FieldFront)
	}
	if _, ok := n.Fields.Get(FieldBack); !ok {
		missing = append(missing, FieldBack)
	}
	if len(missing) > 0 {
		return &MalformedNoteError{NoteID: n.ID, Missing: missing}
	}
	return nil
}

// MalformedNoteError reports a fetched note that is missing expected fields.
// The note is skipped; processing continues with the rest of its batch.
type MalformedNoteError struct {
	NoteID  NoteID   `json:"note_id"`
	Missing []string `json:"missing"`
}

func (e *MalformedNoteError) Error() string {
	return fmt.Sprintf("note %s is malformed: missing %s", e.NoteID, strings.Join(e.Missing, ", "))
}
