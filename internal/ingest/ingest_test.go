package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nvandessel/cardsync/internal/models"
	"github.com/nvandessel/cardsync/internal/store"
	"github.com/nvandessel/cardsync/internal/vecmath"
)

// fakeIndex records upserts and fails any call containing a poisoned note.
type fakeIndex struct {
	mu       sync.Mutex
	entries  map[string]models.IndexEntry
	poisoned map[models.NoteID]bool
	delay    time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{entries: make(map[string]models.IndexEntry), poisoned: make(map[models.NoteID]bool)}
}

func (f *fakeIndex) ListAll(context.Context, string) ([]models.IndexEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.IndexEntry, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeIndex) Upsert(ctx context.Context, _ string, entries []models.IndexEntry) error {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range entries {
		if f.poisoned[e.Metadata.NoteID] {
			return errors.New("index rejected batch")
		}
	}
	for _, e := range entries {
		f.entries[e.ID] = e
	}
	return nil
}

func (f *fakeIndex) Delete(context.Context, string, []string) error { return nil }

func (f *fakeIndex) Query(context.Context, string, string, int) ([]store.QueryResult, error) {
	return nil, nil
}

func (f *fakeIndex) Metric() vecmath.Metric { return vecmath.Cosine }

func (f *fakeIndex) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.entries))
	for id := range f.entries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func makeNotes(from, to int) []models.Note {
	var notes []models.Note
	for i := from; i <= to; i++ {
		notes = append(notes, models.Note{
			ID:     models.NoteID(i),
			Fields: models.NewFields(fmt.Sprintf("front %d", i), fmt.Sprintf("back %d", i)),
		})
	}
	return notes
}

var testColl = models.NewCollection("Test Deck")

func TestPartition(t *testing.T) {
	tests := []struct {
		name  string
		notes int
		size  int
		want  []int
	}{
		{"empty", 0, 20, nil},
		{"exact", 40, 20, []int{20, 20}},
		{"remainder", 45, 20, []int{20, 20, 5}},
		{"smaller than batch", 3, 20, []int{3}},
		{"default size", 25, 0, []int{20, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var notes []models.Note
			if tt.notes > 0 {
				notes = makeNotes(1, tt.notes)
			}
			got := Partition(notes, tt.size)
			if len(got) != len(tt.want) {
				t.Fatalf("Partition() = %d batches, want %d", len(got), len(tt.want))
			}
			for i, b := range got {
				if len(b) != tt.want[i] {
					t.Errorf("batch %d has %d notes, want %d", i, len(b), tt.want[i])
				}
			}
		})
	}
}

func TestIngest_AllSucceed(t *testing.T) {
	idx := newFakeIndex()
	p := New(idx, Config{BatchSize: 2, Workers: 2}, nil)

	res := p.Ingest(context.Background(), makeNotes(1, 5), testColl)
	if res.Succeeded != 5 || len(res.FailedBatches) != 0 || len(res.Malformed) != 0 {
		t.Errorf("Ingest() = %+v", res)
	}
	if got := idx.ids(); len(got) != 5 {
		t.Errorf("index has %v", got)
	}
}

func TestIngest_BatchIsolation(t *testing.T) {
	idx := newFakeIndex()
	// Three batches of 20; poison a note in the second.
	idx.poisoned[25] = true
	p := New(idx, Config{BatchSize: 20, Workers: 4}, nil)

	res := p.Ingest(context.Background(), makeNotes(1, 60), testColl)

	if res.Succeeded != 40 {
		t.Errorf("Succeeded = %d, want 40", res.Succeeded)
	}
	if len(res.FailedBatches) != 1 {
		t.Fatalf("FailedBatches = %d, want 1", len(res.FailedBatches))
	}
	f := res.FailedBatches[0]
	if f.Index != 1 {
		t.Errorf("failed batch index = %d, want 1", f.Index)
	}
	if len(f.NoteIDs) != 20 || f.NoteIDs[0] != 21 || f.NoteIDs[19] != 40 {
		t.Errorf("failed batch notes = %v", f.NoteIDs)
	}
	if f.Err == nil {
		t.Error("BatchFailure.Err should carry the cause")
	}
	if f.Reason == "" || f.Reason != f.Err.Error() {
		t.Errorf("BatchFailure.Reason = %q, want the cause's message", f.Reason)
	}
	raw, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("json.Marshal(BatchFailure) error = %v", err)
	}
	if !strings.Contains(string(raw), `"reason":`) {
		t.Errorf("BatchFailure JSON = %s, want a reason", raw)
	}
	if got := len(res.FailedNoteIDs()); got != 20 {
		t.Errorf("FailedNoteIDs() = %d ids, want 20", got)
	}
	if got := len(idx.ids()); got != 40 {
		t.Errorf("index has %d entries, want 40", got)
	}
}

func TestIngest_MalformedNotesSkipped(t *testing.T) {
	idx := newFakeIndex()
	p := New(idx, Config{BatchSize: 10}, nil)

	notes := makeNotes(1, 3)
	notes = append(notes, models.Note{ID: 4, Fields: models.Fields{{Name: models.FieldFront, Value: "only front"}}})

	res := p.Ingest(context.Background(), notes, testColl)
	if res.Succeeded != 3 {
		t.Errorf("Succeeded = %d, want 3", res.Succeeded)
	}
	if len(res.Malformed) != 1 || res.Malformed[0].NoteID != 4 {
		t.Fatalf("Malformed = %+v", res.Malformed)
	}
	if res.Malformed[0].Missing[0] != models.FieldBack {
		t.Errorf("Missing = %v, want [back]", res.Malformed[0].Missing)
	}
}

func TestIngest_DualFacets(t *testing.T) {
	idx := newFakeIndex()
	p := New(idx, Config{Facets: models.FacetDual}, nil)

	res := p.Ingest(context.Background(), makeNotes(1, 2), testColl)
	if res.Succeeded != 2 {
		t.Errorf("Succeeded = %d, want 2", res.Succeeded)
	}
	want := []string{"1_back", "1_front", "2_back", "2_front"}
	got := idx.ids()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("entry ids = %v, want %v", got, want)
	}
}

func TestIngest_WorkerBound(t *testing.T) {
	idx := newFakeIndex()
	idx.delay = 20 * time.Millisecond
	p := New(idx, Config{BatchSize: 1, Workers: 3}, nil)

	res := p.Ingest(context.Background(), makeNotes(1, 12), testColl)
	if res.Succeeded != 12 {
		t.Errorf("Succeeded = %d, want 12", res.Succeeded)
	}
	if peak := idx.maxInFlight.Load(); peak > 3 {
		t.Errorf("max concurrent upserts = %d, want <= 3", peak)
	}
}

func TestIngest_CallTimeout(t *testing.T) {
	idx := newFakeIndex()
	idx.delay = time.Second
	p := New(idx, Config{BatchSize: 5, CallTimeout: 20 * time.Millisecond}, nil)

	res := p.Ingest(context.Background(), makeNotes(1, 5), testColl)
	if res.Succeeded != 0 || len(res.FailedBatches) != 1 {
		t.Fatalf("Ingest() = %+v", res)
	}
	if !store.IsConnectivity(res.FailedBatches[0].Err) {
		t.Errorf("timeout should be a ConnectivityError, got %v", res.FailedBatches[0].Err)
	}
}

func TestIngest_Empty(t *testing.T) {
	res := New(newFakeIndex(), Config{}, nil).Ingest(context.Background(), nil, testColl)
	if res.Succeeded != 0 || len(res.FailedBatches) != 0 {
		t.Errorf("Ingest(nil) = %+v", res)
	}
}

func TestIngestOne(t *testing.T) {
	idx := newFakeIndex()
	idx.poisoned[9] = true
	p := New(idx, Config{}, nil)

	if !p.IngestOne(context.Background(), makeNotes(1, 1)[0], testColl) {
		t.Error("IngestOne() = false, want true")
	}
	if p.IngestOne(context.Background(), makeNotes(9, 9)[0], testColl) {
		t.Error("IngestOne() = true for failing upsert")
	}
	if p.IngestOne(context.Background(), models.Note{ID: 3}, testColl) {
		t.Error("IngestOne() = true for malformed note")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }, true},
		{"too many workers", func(c *Config) { c.Workers = 65 }, true},
		{"zero timeout", func(c *Config) { c.CallTimeout = 0 }, true},
		{"bad facets", func(c *Config) { c.Facets = "triple" }, true},
		{"bad text", func(c *Config) { c.Text = "back" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
