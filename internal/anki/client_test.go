package anki

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nvandessel/cardsync/internal/models"
	"github.com/nvandessel/cardsync/internal/store"
)

// fakeAnki is a minimal AnkiConnect stand-in keyed by action name.
type fakeAnki struct {
	mu       sync.Mutex
	requests []map[string]any
	handlers map[string]func(params json.RawMessage) (any, *string)
}

func newFakeAnki(t *testing.T) (*fakeAnki, *Client) {
	t.Helper()
	f := &fakeAnki{handlers: make(map[string]func(json.RawMessage) (any, *string))}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, New(Options{URL: srv.URL, Timeout: time.Second})
}

func (f *fakeAnki) on(action string, h func(params json.RawMessage) (any, *string)) {
	f.handlers[action] = h
}

func (f *fakeAnki) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action  string          `json:"action"`
		Version int             `json:"version"`
		Params  json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.requests = append(f.requests, map[string]any{"action": req.Action, "version": req.Version, "params": string(req.Params)})
	f.mu.Unlock()

	h, ok := f.handlers[req.Action]
	if !ok {
		msg := "unsupported action"
		_ = json.NewEncoder(w).Encode(map[string]any{"result": nil, "error": msg})
		return
	}
	result, errMsg := h(req.Params)
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "error": errMsg})
}

func strPtr(s string) *string { return &s }

func TestClient_VersionAndDecks(t *testing.T) {
	f, c := newFakeAnki(t)
	f.on("version", func(json.RawMessage) (any, *string) { return 6, nil })
	f.on("deckNames", func(json.RawMessage) (any, *string) { return []string{"Default", "Spanish::Verbs"}, nil })

	v, err := c.Version(context.Background())
	if err != nil || v != 6 {
		t.Errorf("Version() = %d, %v", v, err)
	}
	decks, err := c.DeckNames(context.Background())
	if err != nil || len(decks) != 2 || decks[1] != "Spanish::Verbs" {
		t.Errorf("DeckNames() = %v, %v", decks, err)
	}
	if f.requests[0]["version"] != float64(protocolVersion) {
		t.Errorf("request version = %v, want %d", f.requests[0]["version"], protocolVersion)
	}
}

func TestClient_ListIDs(t *testing.T) {
	f, c := newFakeAnki(t)
	f.on("findNotes", func(p json.RawMessage) (any, *string) {
		var params findNotesParams
		_ = json.Unmarshal(p, &params)
		if params.Query != `deck:"Spanish"` {
			return nil, strPtr("bad query " + params.Query)
		}
		return []int64{11, 12}, nil
	})

	ids, err := c.ListIDs(context.Background(), models.DeckFilter("Spanish"))
	if err != nil {
		t.Fatalf("ListIDs() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != 11 {
		t.Errorf("ListIDs() = %v", ids)
	}
}

func TestClient_FetchMapsFields(t *testing.T) {
	f, c := newFakeAnki(t)
	f.on("notesInfo", func(json.RawMessage) (any, *string) {
		return []any{
			map[string]any{
				"noteId":    11,
				"modelName": "Basic",
				"fields": map[string]any{
					"Back":  map[string]any{"value": "hello", "order": 1},
					"Front": map[string]any{"value": "hola", "order": 0},
				},
			},
			map[string]any{}, // deleted between findNotes and notesInfo
			map[string]any{
				"noteId": 13,
				"fields": map[string]any{
					"Text": map[string]any{"value": "cloze", "order": 0},
				},
			},
		}, nil
	})

	notes, err := c.Fetch(context.Background(), []models.NoteID{11, 12, 13})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(notes) != 2 {
		t.Fatalf("Fetch() returned %d notes, want 2", len(notes))
	}
	if notes[0].Front() != "hola" || notes[0].Back() != "hello" {
		t.Errorf("note 11 = %+v", notes[0])
	}
	if notes[0].Fields[0].Name != models.FieldFront {
		t.Errorf("fields not ordered by order: %+v", notes[0].Fields)
	}

	var malformed *models.MalformedNoteError
	if err := notes[1].Validate(); !errors.As(err, &malformed) {
		t.Errorf("note without Front/Back should be malformed, got %v", err)
	}
}

func TestClient_CustomFieldNames(t *testing.T) {
	f := &fakeAnki{handlers: make(map[string]func(json.RawMessage) (any, *string))}
	srv := httptest.NewServer(f)
	defer srv.Close()
	c := New(Options{URL: srv.URL, FrontField: "Question", BackField: "Answer", ModelName: "Q&A"})

	var got addNoteParams
	f.on("addNote", func(p json.RawMessage) (any, *string) {
		_ = json.Unmarshal(p, &got)
		return 99, nil
	})

	id, err := c.Create(context.Background(), "Trivia", models.NewFields("Q?", "A!"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if id != 99 {
		t.Errorf("Create() = %d, want 99", id)
	}
	if got.Note.Fields["Question"] != "Q?" || got.Note.Fields["Answer"] != "A!" {
		t.Errorf("addNote fields = %v", got.Note.Fields)
	}
	if got.Note.ModelName != "Q&A" || got.Note.DeckName != "Trivia" || !got.Note.Options.AllowDuplicate {
		t.Errorf("addNote note = %+v", got.Note)
	}
}

func TestClient_Update(t *testing.T) {
	f, c := newFakeAnki(t)
	var got updateNoteFieldsParams
	f.on("updateNoteFields", func(p json.RawMessage) (any, *string) {
		_ = json.Unmarshal(p, &got)
		return nil, nil
	})

	if err := c.Update(context.Background(), 42, models.NewFields("new front", "new back")); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.Note.ID != 42 || got.Note.Fields["Front"] != "new front" || got.Note.Fields["Back"] != "new back" {
		t.Errorf("updateNoteFields params = %+v", got)
	}
}

func TestClient_ActionError(t *testing.T) {
	f, c := newFakeAnki(t)
	f.on("addNote", func(json.RawMessage) (any, *string) {
		return nil, strPtr("deck was not found: Nope")
	})

	_, err := c.Create(context.Background(), "Nope", models.NewFields("a", "b"))
	var ae *ActionError
	if !errors.As(err, &ae) {
		t.Fatalf("Create() error = %v, want ActionError", err)
	}
	if ae.Action != "addNote" {
		t.Errorf("ActionError.Action = %s", ae.Action)
	}
	if store.IsConnectivity(err) {
		t.Error("an AnkiConnect-reported error is not a connectivity failure")
	}
}

func TestClient_ConnectivityErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		timeout bool
	}{
		{
			name: "server error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
		},
		{
			name: "invalid json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("<html>not anki</html>"))
			},
		},
		{
			name: "wrong result shape",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"result": "not a list", "error": null}`))
			},
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(200 * time.Millisecond)
			},
			timeout: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			c := New(Options{URL: srv.URL, Timeout: 50 * time.Millisecond})

			_, err := c.ListIDs(context.Background(), `deck:"x"`)
			var ce *store.ConnectivityError
			if !errors.As(err, &ce) {
				t.Fatalf("ListIDs() error = %v, want ConnectivityError", err)
			}
			if tt.timeout && !ce.Timeout() {
				t.Errorf("expected timeout, got %v", err)
			}
		})
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(Options{URL: url}).DeckNames(context.Background())
	if !store.IsConnectivity(err) {
		t.Errorf("DeckNames() error = %v, want ConnectivityError", err)
	}
}
