package index

import (
	"testing"

	"github.com/vcore-db/vcore/pkg/metric"
	"github.com/vcore-db/vcore/pkg/vcerr"
)

func newTestLSH(t *testing.T) *LSH {
	t.Helper()
	cfg := DefaultLSHConfig()
	cfg.NumTables = 6
	cfg.NumHashes = 4
	l, err := NewLSH(cfg)
	if err != nil {
		t.Fatalf("NewLSH failed: %v", err)
	}
	return l
}

func TestLSH_InsertAndSearchFindsExactMatch(t *testing.T) {
	l := newTestLSH(t)
	for i := 0; i < 40; i++ {
		angle := float64(i)
		l.Insert(idForIndex(i), []float64{angle, 1, 0})
	}
	results, err := l.Search([]float64{5, 1, 0}, 3)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one candidate")
	}
	if results[0].ID != idForIndex(5) {
		t.Errorf("expected exact match %s first, got %+v", idForIndex(5), results)
	}
}

func TestLSH_DimensionMismatch(t *testing.T) {
	l := newTestLSH(t)
	l.Insert("a", []float64{1, 2, 3})
	if err := l.Insert("b", []float64{1, 2}); vcerr.KindOf(err) != vcerr.DimensionMismatch {
		t.Errorf("expected DimensionMismatch, got %v", err)
	}
}

func TestLSH_DeleteRemovesFromBuckets(t *testing.T) {
	l := newTestLSH(t)
	l.Insert("a", []float64{1, 0, 0})
	l.Insert("b", []float64{0, 1, 0})
	l.Delete("a")

	results, err := l.Search([]float64{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	for _, r := range results {
		if r.ID == "a" {
			t.Errorf("deleted id should not appear in results")
		}
	}
}

func TestLSH_DeleteMissing(t *testing.T) {
	l := newTestLSH(t)
	l.Insert("a", []float64{1})
	if err := l.Delete("nope"); vcerr.KindOf(err) != vcerr.NotFound {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestLSH_UpdateMovesAcrossBuckets(t *testing.T) {
	l := newTestLSH(t)
	l.Insert("a", []float64{1, 0, 0})
	if err := l.Update("a", []float64{0, 1, 0}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	results, err := l.Search([]float64{0, 1, 0}, 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a" {
		t.Errorf("expected a nearest after update, got %+v", results)
	}
}

func TestLSH_SearchBeforeReady(t *testing.T) {
	l := newTestLSH(t)
	if _, err := l.Search([]float64{1}, 1); vcerr.KindOf(err) != vcerr.IndexNotReady {
		t.Errorf("expected IndexNotReady, got %v", err)
	}
}

func TestLSH_EuclideanFallsBackToPStable(t *testing.T) {
	cfg := DefaultLSHConfig()
	cfg.Metric = metric.Euclidean
	l, err := NewLSH(cfg)
	if err != nil {
		t.Fatalf("NewLSH failed: %v", err)
	}
	l.Insert("a", []float64{1, 1})
	l.Insert("b", []float64{100, 100})
	results, err := l.Search([]float64{1.1, 1.1}, 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a" {
		t.Errorf("expected a nearest, got %+v", results)
	}
}

func TestLSH_Build(t *testing.T) {
	l := newTestLSH(t)
	err := l.Build([]string{"a", "b"}, [][]float64{{1, 0, 0}, {0, 1, 0}})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if stats := l.Stats(); stats.Count != 2 {
		t.Errorf("expected count 2, got %d", stats.Count)
	}
}
