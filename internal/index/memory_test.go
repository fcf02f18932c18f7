package index

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nvandessel/cardsync/internal/embedding"
	"github.com/nvandessel/cardsync/internal/models"
	"github.com/nvandessel/cardsync/internal/store"
)

// shortEmbedder drops the last vector of every batch.
type shortEmbedder struct{ embedding.Embedder }

func (s shortEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := s.Embedder.Embed(ctx, texts)
	if err != nil || len(vecs) == 0 {
		return vecs, err
	}
	return vecs[:len(vecs)-1], nil
}

func TestMemoryIndex_Lifecycle(t *testing.T) {
	idx := NewMemoryIndex(embedding.NewHashEmbedder(0), Options{})
	ctx := context.Background()

	if err := idx.Upsert(ctx, "ns", noteEntries(t, models.FacetSingle, note(1, "What is 2+2?", "4"), note(2, "A", "B"))); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	listed, _ := idx.ListAll(ctx, "ns")
	if len(listed) != 2 {
		t.Fatalf("ListAll() = %d entries, want 2", len(listed))
	}

	results, err := idx.Query(ctx, "ns", "What is 2+2?", 1)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(results) != 1 || results[0].Metadata.NoteID != 1 {
		t.Errorf("Query() = %+v", results)
	}

	if err := idx.Delete(ctx, "ns", []string{"1"}); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	listed, _ = idx.ListAll(ctx, "ns")
	if len(listed) != 1 || listed[0].ID != "2" {
		t.Errorf("ListAll() after delete = %+v", listed)
	}
}

func TestMemoryIndex_EmptyNamespace(t *testing.T) {
	idx := NewMemoryIndex(embedding.NewHashEmbedder(0), Options{})
	results, err := idx.Query(context.Background(), "missing", "x", 5)
	if err != nil || len(results) != 0 {
		t.Errorf("Query() = %v, %v; want empty", results, err)
	}
	if err := idx.Delete(context.Background(), "missing", []string{"1"}); err != nil {
		t.Errorf("Delete() error = %v", err)
	}
}

func TestMemoryIndex_ConcurrentUpsert(t *testing.T) {
	idx := NewMemoryIndex(embedding.NewHashEmbedder(32), Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(id models.NoteID) {
			defer wg.Done()
			_ = idx.Upsert(ctx, "ns", noteEntries(t, models.FacetSingle, note(id, "front", "back")))
		}(models.NoteID(i))
	}
	wg.Wait()

	listed, _ := idx.ListAll(ctx, "ns")
	if len(listed) != 8 {
		t.Errorf("ListAll() = %d entries, want 8", len(listed))
	}
}

func TestPrepare(t *testing.T) {
	got := prepare("<b>Hello</b>&nbsp;world", 0)
	if got != "Hello world" {
		t.Errorf("prepare() = %q, want %q", got, "Hello world")
	}
	if got := prepare("one two three four five", 2); got != "one two" {
		t.Errorf("prepare() truncated = %q, want %q", got, "one two")
	}
}

func TestMemoryIndex_ShortEmbedderResponse(t *testing.T) {
	idx := NewMemoryIndex(shortEmbedder{embedding.NewHashEmbedder(0)}, Options{})
	ctx := context.Background()

	err := idx.Upsert(ctx, "ns", noteEntries(t, models.FacetSingle, note(1, "A", "B"), note(2, "C", "D")))
	if err == nil {
		t.Fatal("Upsert() should fail when the embedder returns too few vectors")
	}
	if listed, _ := idx.ListAll(ctx, "ns"); len(listed) != 0 {
		t.Errorf("ListAll() = %d entries after failed upsert, want 0", len(listed))
	}
}

func TestMemoryIndex_NamespaceOwners(t *testing.T) {
	idx := NewMemoryIndex(embedding.NewHashEmbedder(0), Options{})
	ctx := context.Background()

	if owner, _ := idx.NamespaceOwner(ctx, "___"); owner != "" {
		t.Errorf("NamespaceOwner() before claim = %q, want empty", owner)
	}
	if err := idx.ClaimNamespace(ctx, "___", "日本語"); err != nil {
		t.Fatalf("ClaimNamespace() error = %v", err)
	}
	if err := idx.ClaimNamespace(ctx, "___", "日本語"); err != nil {
		t.Errorf("ClaimNamespace() by the owner again error = %v", err)
	}
	err := idx.ClaimNamespace(ctx, "___", "中文")
	if !errors.Is(err, store.ErrNamespaceCollision) {
		t.Errorf("ClaimNamespace() by another collection error = %v, want ErrNamespaceCollision", err)
	}
	if owner, _ := idx.NamespaceOwner(ctx, "___"); owner != "日本語" {
		t.Errorf("NamespaceOwner() = %q, want %q", owner, "日本語")
	}
}
