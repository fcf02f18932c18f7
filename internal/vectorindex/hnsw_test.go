//go:build !windows

package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
)

func newTestHNSW(t *testing.T) *HNSWIndex {
	t.Helper()
	idx, err := NewHNSWIndex(HNSWConfig{})
	if err != nil {
		t.Fatalf("NewHNSWIndex: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestHNSWIndex_AddAndSearch(t *testing.T) {
	idx := newTestHNSW(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		if err := idx.Add(ctx, fmt.Sprintf("n%d", i), axisVec(i)); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	results, err := idx.Search(ctx, axisVec(3), 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].ID != "n3" {
		t.Errorf("expected n3, got %s", results[0].ID)
	}
	if results[0].Distance > 0.01 {
		t.Errorf("expected distance ~0 for exact match, got %f", results[0].Distance)
	}
}

func TestHNSWIndex_ReplaceExisting(t *testing.T) {
	idx := newTestHNSW(t)
	ctx := context.Background()

	_ = idx.Add(ctx, "n0", axisVec(0))
	_ = idx.Add(ctx, "n1", axisVec(1))
	_ = idx.Add(ctx, "n0", axisVec(2)) // replace

	if idx.Len() != 2 {
		t.Errorf("expected Len()=2 after replace, got %d", idx.Len())
	}

	results, _ := idx.Search(ctx, axisVec(2), 1)
	if len(results) != 1 || results[0].ID != "n0" {
		t.Fatalf("expected n0 as nearest to replaced vector, got %v", results)
	}
}

func TestHNSWIndex_RemoveMany(t *testing.T) {
	idx := newTestHNSW(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_ = idx.Add(ctx, fmt.Sprintf("n%d", i), axisVec(i))
	}

	if err := idx.Remove(ctx, "n1", "n2", "n9"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if idx.Len() != 4 {
		t.Fatalf("expected Len()=4, got %d", idx.Len())
	}

	results, _ := idx.Search(ctx, axisVec(1), 6)
	for _, r := range results {
		if r.ID == "n1" || r.ID == "n2" {
			t.Errorf("removed %s should not appear in results", r.ID)
		}
	}
}

func TestHNSWIndex_RemoveNonexistent(t *testing.T) {
	idx := newTestHNSW(t)
	if err := idx.Remove(context.Background(), "nope"); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestHNSWIndex_SearchEmpty(t *testing.T) {
	idx := newTestHNSW(t)
	results, err := idx.Search(context.Background(), axisVec(0), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty results, got %d", len(results))
	}
}

func TestHNSWIndex_SearchTopKZero(t *testing.T) {
	idx := newTestHNSW(t)
	ctx := context.Background()
	_ = idx.Add(ctx, "n0", axisVec(0))

	results, err := idx.Search(ctx, axisVec(0), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty results for topK=0, got %d", len(results))
	}
}

func TestHNSWIndex_ConcurrentAccess(t *testing.T) {
	idx := newTestHNSW(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("n%d", n)
			vec := make([]float32, 8)
			vec[n%8] = float32(n + 1)
			_ = idx.Add(ctx, id, vec)
			_, _ = idx.Search(ctx, vec, 3)
			_ = idx.Remove(ctx, id)
		}(i)
	}
	wg.Wait()
}

func TestHNSWIndex_DistanceRange(t *testing.T) {
	idx := newTestHNSW(t)
	ctx := context.Background()

	vecs := [][]float32{
		{1, 0, 0, 0, 0, 0, 0, 0},
		{0.9, 0.1, 0, 0, 0, 0, 0, 0},
		{0, 0, 0, 0, 0, 0, 0, 1},
	}
	for i, v := range vecs {
		_ = idx.Add(ctx, fmt.Sprintf("n%d", i), v)
	}

	query := []float32{1, 0, 0, 0, 0, 0, 0, 0}
	results, err := idx.Search(ctx, query, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	for _, r := range results {
		if r.Distance < -1e-6 || r.Distance > 2.0+1e-6 {
			t.Errorf("distance %f out of expected range [0, 2] for %s", r.Distance, r.ID)
		}
	}

	if len(results) > 0 && results[0].ID == "n0" {
		if math.Abs(results[0].Distance) > 0.01 {
			t.Errorf("exact match distance should be ~0, got %f", results[0].Distance)
		}
	}

	for i := 1; i < len(results); i++ {
		if results[i].Distance < results[i-1].Distance-1e-6 {
			t.Errorf("results not sorted: distance[%d]=%f < distance[%d]=%f",
				i, results[i].Distance, i-1, results[i-1].Distance)
		}
	}
}

// Verify HNSWIndex satisfies the VectorIndex interface at compile time.
var _ VectorIndex = (*HNSWIndex)(nil)
