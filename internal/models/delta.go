package models

// SyncDelta is the set difference between the note source and the index for
// one collection at one point in time. It is never persisted.
type SyncDelta struct {
	ToAdd    []NoteID `json:"to_add"`
	ToRemove []NoteID `json:"to_remove"`
}

// ComputeDelta returns current minus indexed as ToAdd and indexed minus
// current as ToRemove, both in ascending order.
func ComputeDelta(current, indexed []NoteID) SyncDelta {
	cur := make(map[NoteID]struct{}, len(current))
	for _, id := range current {
		cur[id] = struct{}{}
	}
	idx := make(map[NoteID]struct{}, len(indexed))
	for _, id := range indexed {
		idx[id] = struct{}{}
	}

	var d SyncDelta
	for id := range cur {
		if _, ok := idx[id]; !ok {
			d.ToAdd = append(d.ToAdd, id)
		}
	}
	for id := range idx {
		if _, ok := cur[id]; !ok {
			d.ToRemove = append(d.ToRemove, id)
		}
	}
	sortNoteIDs(d.ToAdd)
	sortNoteIDs(d.ToRemove)
	return d
}

// Empty reports whether the delta requires no work.
func (d SyncDelta) Empty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0
}

// DuplicateCandidate is an indexed note similar to a proposed note.
// Similarity is in [0, 1]; 1 means identical.
type DuplicateCandidate struct {
	Similarity float64 `json:"similarity"`
	NoteID     NoteID  `json:"note_id"`
	Front      string  `json:"front"`
	Back       string  `json:"back"`
}
