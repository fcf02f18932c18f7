package models

import (
	"fmt"
	"sort"
	"strings"
)

// Side tags the facet an index entry was derived from.
type Side string

const (
	SideNone  Side = ""
	SideFront Side = "front"
	SideBack  Side = "back"
)

// FacetPolicy selects how a note is split into index entries.
// The policy is fixed per deployment and must not be mixed within a namespace.
type FacetPolicy string

const (
	// FacetSingle indexes one entry per note under id "{noteId}".
	FacetSingle FacetPolicy = "single"
	// FacetDual indexes "{noteId}_front" and "{noteId}_back" separately.
	FacetDual FacetPolicy = "dual"
)

// ParseFacetPolicy validates a configured facet policy.
func ParseFacetPolicy(s string) (FacetPolicy, error) {
	switch p := FacetPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case FacetSingle, FacetDual:
		return p, nil
	case "":
		return FacetSingle, nil
	default:
		return "", fmt.Errorf("unknown facet policy %q (want %q or %q)", s, FacetSingle, FacetDual)
	}
}

// Sides lists the facets produced for every note.
func (p FacetPolicy) Sides() []Side {
	if p == FacetDual {
		return []Side{SideFront, SideBack}
	}
	return []Side{SideNone}
}

// TextPolicy selects the text embedded for a whole note and for duplicate
// candidates built from a proposed front/back pair.
type TextPolicy string

const (
	// TextConcat joins front and back with a single space.
	TextConcat TextPolicy = "concat"
	// TextFront uses the front text only.
	TextFront TextPolicy = "front"
)

// ParseTextPolicy validates a configured text policy.
func ParseTextPolicy(s string) (TextPolicy, error) {
	switch p := TextPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case TextConcat, TextFront:
		return p, nil
	case "":
		return TextConcat, nil
	default:
		return "", fmt.Errorf("unknown text policy %q (want %q or %q)", s, TextConcat, TextFront)
	}
}

// Text builds the text for a front/back pair.
func (p TextPolicy) Text(front, back string) string {
	if p == TextFront || back == "" {
		return front
	}
	return front + " " + back
}

// EntryMetadata is stored next to every index entry.
type EntryMetadata struct {
	NoteID NoteID `json:"note_id"`
	Side   Side   `json:"side,omitempty"`
	Front  string `json:"front"`
	Back   string `json:"back"`
}

// IndexEntry is one embedded text derived from a note.
type IndexEntry struct {
	ID       string        `json:"id"`
	Text     string        `json:"text"`
	Metadata EntryMetadata `json:"metadata"`
}

// EntryID derives the index entry identifier for a note facet.
func EntryID(id NoteID, side Side) string {
	if side == SideNone {
		return id.String()
	}
	return id.String() + "_" + string(side)
}

// ParseEntryID inverts EntryID.
func ParseEntryID(s string) (NoteID, Side, error) {
	base, side := s, SideNone
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		switch Side(s[i+1:]) {
		case SideFront, SideBack:
			base, side = s[:i], Side(s[i+1:])
		default:
			return 0, SideNone, fmt.Errorf("invalid entry id %q: unknown side", s)
		}
	}
	id, err := ParseNoteID(base)
	if err != nil {
		return 0, SideNone, fmt.Errorf("invalid entry id %q: %w", s, err)
	}
	return id, side, nil
}

// EntryIDs lists the entry identifiers a note owns under a facet policy.
func EntryIDs(id NoteID, p FacetPolicy) []string {
	sides := p.Sides()
	ids := make([]string, 0, len(sides))
	for _, side := range sides {
		ids = append(ids, EntryID(id, side))
	}
	return ids
}

// BuildEntries transforms a note into its index entries.
// It returns a *MalformedNoteError when the note fails validation.
func BuildEntries(n Note, facets FacetPolicy, text TextPolicy) ([]IndexEntry, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	front, back := n.Front(), n.Back()

	entries := make([]IndexEntry, 0, 2)
	for _, side := range facets.Sides() {
		var body string
		switch side {
		case SideFront:
			body = front
		case SideBack:
			body = back
		default:
			body = text.Text(front, back)
		}
		entries = append(entries, IndexEntry{
			ID:   EntryID(n.ID, side),
			Text: body,
			Metadata: EntryMetadata{
				NoteID: n.ID,
				Side:   side,
				Front:  front,
				Back:   back,
			},
		})
	}
	return entries, nil
}

// ProjectNoteIDs collapses index entries to the distinct note identifiers they
// belong to, in ascending order. Entries whose id does not follow the entry id
// scheme are returned as orphans.
func ProjectNoteIDs(entries []IndexEntry) (ids []NoteID, orphans []string) {
	seen := make(map[NoteID]struct{}, len(entries))
	for _, e := range entries {
		id, _, err := ParseEntryID(e.ID)
		if err != nil {
			orphans = append(orphans, e.ID)
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sortNoteIDs(ids)
	return ids, orphans
}

// GroupEntryIDs maps every note identifier to the entry ids it owns.
func GroupEntryIDs(entries []IndexEntry) map[NoteID][]string {
	out := make(map[NoteID][]string)
	for _, e := range entries {
		id, _, err := ParseEntryID(e.ID)
		if err != nil {
			continue
		}
		out[id] = append(out[id], e.ID)
	}
	return out
}

func sortNoteIDs(ids []NoteID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
