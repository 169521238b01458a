package index

import (
	"testing"

	"github.com/vcore-db/vcore/pkg/vcerr"
)

func newTestAnnoy(t *testing.T) *Annoy {
	t.Helper()
	a, err := NewAnnoy(AnnoyConfig{NumTrees: 6, MaxLeafSize: 4, Metric: "euclidean", RandomSeed: 7})
	if err != nil {
		t.Fatalf("NewAnnoy failed: %v", err)
	}
	return a
}

func TestAnnoy_BuildAndSearch(t *testing.T) {
	a := newTestAnnoy(t)
	ids := make([]string, 60)
	vectors := make([][]float64, 60)
	for i := range ids {
		ids[i] = idForIndex(i)
		vectors[i] = []float64{float64(i)}
	}
	if err := a.Build(ids, vectors); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	results, err := a.Search([]float64{30}, 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
}

func TestAnnoy_PendingInsertAlwaysRanked(t *testing.T) {
	a := newTestAnnoy(t)
	ids := make([]string, 30)
	vectors := make([][]float64, 30)
	for i := range ids {
		ids[i] = idForIndex(i)
		vectors[i] = []float64{float64(i) * 10}
	}
	if err := a.Build(ids, vectors); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if err := a.Insert("fresh", []float64{1000}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	results, err := a.Search([]float64{1000}, 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if results[0].ID != "fresh" {
		t.Errorf("expected pending insert to be exactly found, got %+v", results)
	}
}

func TestAnnoy_DeletePendingRemovesInPlace(t *testing.T) {
	a := newTestAnnoy(t)
	a.Insert("a", []float64{1})
	a.Insert("b", []float64{2})

	// The first insert builds the forest, so only "b" is pending.
	if err := a.Delete("b"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if stats := a.Stats(); stats.Extra["pending_count"].(int) != 0 {
		t.Errorf("expected 0 pending items after deleting the pending one, got %v", stats.Extra["pending_count"])
	}
}

func TestAnnoy_DeleteFlushedTombstones(t *testing.T) {
	a := newTestAnnoy(t)
	ids := make([]string, 20)
	vectors := make([][]float64, 20)
	for i := range ids {
		ids[i] = idForIndex(i)
		vectors[i] = []float64{float64(i)}
	}
	a.Build(ids, vectors)

	if err := a.Delete(idForIndex(5)); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	results, err := a.Search([]float64{5}, 20)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	for _, r := range results {
		if r.ID == idForIndex(5) {
			t.Errorf("deleted flushed id should not appear in results")
		}
	}
}

func TestAnnoy_DeleteMissing(t *testing.T) {
	a := newTestAnnoy(t)
	a.Insert("a", []float64{1})
	if err := a.Delete("nope"); vcerr.KindOf(err) != vcerr.NotFound {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestAnnoy_UpdateMissing(t *testing.T) {
	a := newTestAnnoy(t)
	a.Insert("a", []float64{1})
	if err := a.Update("nope", []float64{1}); vcerr.KindOf(err) != vcerr.NotFound {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestAnnoy_SearchBeforeReady(t *testing.T) {
	a := newTestAnnoy(t)
	if _, err := a.Search([]float64{1}, 1); vcerr.KindOf(err) != vcerr.IndexNotReady {
		t.Errorf("expected IndexNotReady, got %v", err)
	}
}

func TestAnnoy_RebuildClearsPending(t *testing.T) {
	a := newTestAnnoy(t)
	a.Insert("a", []float64{1})
	a.Insert("b", []float64{2})
	a.Rebuild()
	if stats := a.Stats(); stats.Extra["pending_count"].(int) != 0 {
		t.Errorf("expected pending cleared after Rebuild, got %v", stats.Extra["pending_count"])
	}
}
