package index

import (
	"testing"

	"github.com/vcore-db/vcore/pkg/vcerr"
)

func buildTestIVF(t *testing.T) *IVF {
	t.Helper()
	v, err := NewIVF(IVFConfig{NumCentroids: 2, NProbe: 2, Metric: "euclidean", RandomSeed: 1})
	if err != nil {
		t.Fatalf("NewIVF failed: %v", err)
	}
	ids := []string{"a", "b", "c", "d"}
	vectors := [][]float64{{0, 0}, {0.1, 0}, {10, 10}, {10.1, 10}}
	if err := v.Build(ids, vectors); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return v
}

func TestIVF_BuildAndSearch(t *testing.T) {
	v := buildTestIVF(t)
	results, err := v.Search([]float64{0, 0}, 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	seen := map[string]bool{}
	for _, r := range results {
		seen[r.ID] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("expected a and b nearest, got %+v", results)
	}
}

func TestIVF_InsertRequiresBuild(t *testing.T) {
	v, _ := NewIVF(DefaultIVFConfig())
	if err := v.Insert("x", []float64{1}); vcerr.KindOf(err) != vcerr.IndexNotReady {
		t.Errorf("expected IndexNotReady, got %v", err)
	}
}

func TestIVF_BuildTooFewVectors(t *testing.T) {
	v, _ := NewIVF(IVFConfig{NumCentroids: 5, NProbe: 1, Metric: "euclidean", RandomSeed: 1})
	err := v.Build([]string{"a"}, [][]float64{{1, 2}})
	if vcerr.KindOf(err) != vcerr.InvalidConfiguration {
		t.Errorf("expected InvalidConfiguration, got %v", err)
	}
}

func TestIVF_DeleteThenSearch(t *testing.T) {
	v := buildTestIVF(t)
	if err := v.Delete("a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	results, _ := v.Search([]float64{0, 0}, 2)
	for _, r := range results {
		if r.ID == "a" {
			t.Errorf("deleted id should not appear in results: %+v", results)
		}
	}
}

func TestIVF_DeleteMissing(t *testing.T) {
	v := buildTestIVF(t)
	if err := v.Delete("nope"); vcerr.KindOf(err) != vcerr.NotFound {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestIVF_UpdateReassignsCentroid(t *testing.T) {
	v := buildTestIVF(t)
	if err := v.Update("a", []float64{10, 10}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	results, _ := v.Search([]float64{10, 10}, 1)
	if results[0].ID != "a" {
		t.Errorf("expected a nearest after moving toward the other cluster, got %+v", results)
	}
}

func TestIVF_BatchSearch(t *testing.T) {
	v := buildTestIVF(t)
	out, err := v.BatchSearch([][]float64{{0, 0}, {10, 10}}, 1)
	if err != nil {
		t.Fatalf("BatchSearch failed: %v", err)
	}
	if len(out) != 2 || len(out[0]) != 1 || len(out[1]) != 1 {
		t.Errorf("unexpected batch results: %+v", out)
	}
}

func TestIVF_SearchBeforeBuild(t *testing.T) {
	v, _ := NewIVF(DefaultIVFConfig())
	if _, err := v.Search([]float64{1}, 1); vcerr.KindOf(err) != vcerr.IndexNotReady {
		t.Errorf("expected IndexNotReady, got %v", err)
	}
}

func TestIVF_Stats(t *testing.T) {
	v := buildTestIVF(t)
	stats := v.Stats()
	if stats.Count != 4 {
		t.Errorf("expected count 4, got %d", stats.Count)
	}
	if stats.Extra["num_centroids"].(int) != 2 {
		t.Errorf("expected 2 centroids in stats, got %v", stats.Extra["num_centroids"])
	}
}
