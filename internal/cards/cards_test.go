package cards

import (
	"context"
	"errors"
	"testing"

	"github.com/nvandessel/cardsync/internal/dedup"
	"github.com/nvandessel/cardsync/internal/embedding"
	"github.com/nvandessel/cardsync/internal/index"
	"github.com/nvandessel/cardsync/internal/ingest"
	"github.com/nvandessel/cardsync/internal/models"
	"github.com/nvandessel/cardsync/internal/store"
)

// downIndex fails every query the way an unreachable embedder would.
type downIndex struct {
	store.SimilarityIndex
}

func (downIndex) Query(context.Context, string, string, int) ([]store.QueryResult, error) {
	return nil, store.Connectivity("embed", errors.New("connection refused"))
}

type fixture struct {
	source *store.InMemoryNoteSource
	index  store.SimilarityIndex
	svc    *Service
	coll   models.Collection
}

func newFixture(t *testing.T, idx store.SimilarityIndex) *fixture {
	t.Helper()
	if idx == nil {
		idx = index.NewMemoryIndex(embedding.NewHashEmbedder(0), index.Options{})
	}
	src := store.NewInMemoryNoteSource()
	pipe := ingest.New(idx, ingest.Config{}, nil)
	return &fixture{
		source: src,
		index:  idx,
		svc:    New(src, dedup.New(idx, dedup.Config{}, nil), pipe, nil),
		coll:   models.NewCollection("Default"),
	}
}

// seed puts a note in the source and indexes it.
func (f *fixture) seed(t *testing.T, id models.NoteID, front, back string) {
	t.Helper()
	n := models.Note{ID: id, Fields: models.NewFields(front, back)}
	f.source.Put(f.coll.Name, n)
	entries, err := models.BuildEntries(n, models.FacetSingle, models.TextConcat)
	if err != nil {
		t.Fatalf("BuildEntries() error = %v", err)
	}
	if err := f.index.Upsert(context.Background(), f.coll.Namespace, entries); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
}

func (f *fixture) indexed(t *testing.T) map[models.NoteID]models.EntryMetadata {
	t.Helper()
	entries, err := f.index.ListAll(context.Background(), f.coll.Namespace)
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	out := make(map[models.NoteID]models.EntryMetadata, len(entries))
	for _, e := range entries {
		out[e.Metadata.NoteID] = e.Metadata
	}
	return out
}

func TestApply_AddNew(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	out, err := f.svc.Apply(ctx, f.coll, Proposal{Front: "What is 2+2?", Back: "4"}, dedup.Action{Kind: dedup.AddNew})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if out.NoteID == 0 || !out.Indexed || out.Action != dedup.AddNew {
		t.Fatalf("Apply() = %+v", out)
	}
	if f.source.Len() != 1 {
		t.Errorf("source has %d notes, want 1", f.source.Len())
	}
	if _, ok := f.indexed(t)[out.NoteID]; !ok {
		t.Errorf("note %d not indexed", out.NoteID)
	}

	candidates, err := f.svc.Check(ctx, f.coll, Proposal{Front: "What is 2+2?", Back: "4"}, 0.9)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if len(candidates) != 1 || candidates[0].NoteID != out.NoteID {
		t.Errorf("Check() = %+v, want the new note", candidates)
	}
}

func TestApply_OverwriteRefreshesIndex(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seed(t, 1, "Capital of France?", "Lyon")

	target := models.DuplicateCandidate{NoteID: 1, Similarity: 0.9}
	out, err := f.svc.Apply(ctx, f.coll, Proposal{Front: "Capital of France?", Back: "Paris"}, dedup.Action{Kind: dedup.Overwrite, Target: &target})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if out.NoteID != 1 || !out.Indexed {
		t.Fatalf("Apply() = %+v", out)
	}

	notes, _ := f.source.Fetch(ctx, []models.NoteID{1})
	if len(notes) != 1 || notes[0].Back() != "Paris" {
		t.Errorf("source note = %+v, want back Paris", notes)
	}
	if md := f.indexed(t)[1]; md.Back != "Paris" {
		t.Errorf("indexed back = %q, want Paris", md.Back)
	}
	if f.source.Len() != 1 {
		t.Errorf("overwrite created a note: source has %d", f.source.Len())
	}
}

func TestApply_OverwriteMissingNote(t *testing.T) {
	f := newFixture(t, nil)
	target := models.DuplicateCandidate{NoteID: 42}
	_, err := f.svc.Apply(context.Background(), f.coll, Proposal{Front: "q", Back: "a"}, dedup.Action{Kind: dedup.Overwrite, Target: &target})
	if !errors.Is(err, store.ErrNoteNotFound) {
		t.Errorf("Apply() error = %v, want ErrNoteNotFound", err)
	}
}

func TestApply_NoEffect(t *testing.T) {
	f := newFixture(t, nil)
	for _, kind := range []dedup.ActionKind{dedup.Skip, dedup.Quit} {
		out, err := f.svc.Apply(context.Background(), f.coll, Proposal{Front: "q", Back: "a"}, dedup.Action{Kind: kind})
		if err != nil || out.NoteID != 0 {
			t.Errorf("Apply(%v) = %+v, %v", kind, out, err)
		}
	}
	if f.source.Len() != 0 {
		t.Errorf("source has %d notes, want 0", f.source.Len())
	}
}

func TestApply_InvalidProposal(t *testing.T) {
	f := newFixture(t, nil)
	tests := []struct {
		name   string
		p      Proposal
		action dedup.Action
	}{
		{"missing back", Proposal{Front: "q"}, dedup.Action{Kind: dedup.AddNew}},
		{"blank front", Proposal{Front: "  ", Back: "a"}, dedup.Action{Kind: dedup.AddNew}},
		{"overwrite without target", Proposal{Front: "q", Back: "a"}, dedup.Action{Kind: dedup.Overwrite}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.Apply(context.Background(), f.coll, tt.p, tt.action); err == nil {
				t.Error("Apply() expected error")
			}
		})
	}
	if f.source.Len() != 0 {
		t.Errorf("source has %d notes, want 0", f.source.Len())
	}
}

func TestImport(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, 1, "What is 2+2?", "4")

	proposals := []Proposal{
		{Record: 1, Front: "Capital of Peru", Back: "Lima"},
		{Record: 2, Front: "What is 2+2?", Back: "4"},
		{Record: 3, Front: "Largest planet", Back: "Jupiter"},
	}

	var asked []int
	decide := func(_ context.Context, p Proposal, candidates []models.DuplicateCandidate) (dedup.Choice, error) {
		asked = append(asked, p.Record)
		if candidates[0].NoteID != 1 {
			t.Errorf("record %d candidates = %+v", p.Record, candidates)
		}
		return dedup.Choice{Kind: dedup.Skip}, nil
	}

	report, err := f.svc.Import(context.Background(), f.coll, proposals, 0.8, decide)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if report.Added != 2 || report.Skipped != 1 || len(report.Failed) != 0 {
		t.Errorf("Import() = %+v, want 2 added 1 skipped", report)
	}
	if len(asked) != 1 || asked[0] != 2 {
		t.Errorf("decide called for %v, want [2]", asked)
	}
	if f.source.Len() != 3 {
		t.Errorf("source has %d notes, want 3", f.source.Len())
	}
}

func TestImport_Quit(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, 1, "What is 2+2?", "4")

	proposals := []Proposal{
		{Record: 1, Front: "What is 2+2?", Back: "4"},
		{Record: 2, Front: "Capital of Peru", Back: "Lima"},
	}
	quit := func(context.Context, Proposal, []models.DuplicateCandidate) (dedup.Choice, error) {
		return dedup.Choice{Kind: dedup.Quit}, nil
	}

	report, err := f.svc.Import(context.Background(), f.coll, proposals, 0.8, quit)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if !report.Quit || report.Added != 0 || report.Skipped != 2 {
		t.Errorf("Import() = %+v, want quit with 2 skipped", report)
	}
	if f.source.Len() != 1 {
		t.Errorf("source has %d notes, want 1", f.source.Len())
	}
}

func TestImport_RecordsInvalidCards(t *testing.T) {
	f := newFixture(t, nil)
	proposals := []Proposal{
		{Record: 1, Front: "Only a front"},
		{Record: 2, Front: "Capital of Peru", Back: "Lima"},
	}
	report, err := f.svc.Import(context.Background(), f.coll, proposals, 0.8, nil)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if report.Added != 1 || len(report.Failed) != 1 || report.Failed[0].Record != 1 {
		t.Errorf("Import() = %+v", report)
	}
}

func TestImport_ConnectivityStops(t *testing.T) {
	base := index.NewMemoryIndex(embedding.NewHashEmbedder(0), index.Options{})
	f := newFixture(t, downIndex{SimilarityIndex: base})

	report, err := f.svc.Import(context.Background(), f.coll, []Proposal{{Record: 1, Front: "q", Back: "a"}}, 0.8, nil)
	if !store.IsConnectivity(err) {
		t.Fatalf("Import() error = %v, want connectivity error", err)
	}
	if report.Added != 0 || f.source.Len() != 0 {
		t.Errorf("Import() added notes despite failed duplicate check: %+v", report)
	}
}

func TestApply_RefusesNamespaceOwnedByAnotherDeck(t *testing.T) {
	idx := index.NewMemoryIndex(embedding.NewHashEmbedder(0), index.Options{})
	f := newFixture(t, idx)
	ctx := context.Background()

	// "My Deck!!" and "My Deck" share a namespace.
	other := models.NewCollection("My Deck!!")
	f.coll = models.NewCollection("My Deck")
	if err := idx.ClaimNamespace(ctx, other.Namespace, other.Name); err != nil {
		t.Fatalf("ClaimNamespace() error = %v", err)
	}

	_, err := f.svc.Apply(ctx, f.coll, Proposal{Front: "q", Back: "a"}, dedup.Action{Kind: dedup.AddNew})
	if !errors.Is(err, store.ErrNamespaceCollision) {
		t.Fatalf("Apply() error = %v, want ErrNamespaceCollision", err)
	}
	if f.source.Len() != 0 {
		t.Errorf("source has %d notes, want none created", f.source.Len())
	}

	report, err := f.svc.Import(ctx, f.coll, []Proposal{{Record: 1, Front: "q", Back: "a"}, {Record: 2, Front: "r", Back: "b"}}, 0.8, nil)
	if !errors.Is(err, store.ErrNamespaceCollision) {
		t.Fatalf("Import() error = %v, want ErrNamespaceCollision", err)
	}
	if report.Added != 0 || len(report.Failed) != 0 {
		t.Errorf("Import() = %+v, want it stopped before any card", report)
	}
}
