package vcore

import (
	"path/filepath"
	"testing"

	"github.com/vcore-db/vcore/pkg/config"
	"github.com/vcore-db/vcore/pkg/storage"
	"github.com/vcore-db/vcore/pkg/vcerr"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Index.Dimensions = 3
	cfg.Index.Variant = config.IndexFlat
	return cfg
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestClient_InsertSearchDelete(t *testing.T) {
	c := newTestClient(t)
	defer c.Close()

	if err := c.Insert("a", []float64{1, 0, 0}, storage.Metadata{"k": "v"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := c.Insert("b", []float64{0, 1, 0}, nil); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	results, err := c.Search([]float64{1, 0, 0}, 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a" {
		t.Fatalf("expected [a], got %+v", results)
	}
	if results[0].Metadata["k"] != "v" {
		t.Errorf("expected metadata k=v, got %v", results[0].Metadata)
	}

	existed, err := c.Delete("a")
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !existed {
		t.Error("expected a to exist before delete")
	}

	existed, err = c.Delete("a")
	if err != nil {
		t.Fatalf("Delete of missing id should not error, got: %v", err)
	}
	if existed {
		t.Error("expected a to no longer exist")
	}
}

func TestClient_InsertDimensionMismatch(t *testing.T) {
	c := newTestClient(t)
	defer c.Close()

	err := c.Insert("a", []float64{1, 0}, nil)
	if vcerr.KindOf(err) != vcerr.DimensionMismatch {
		t.Fatalf("expected DimensionMismatch, got %v", err)
	}
}

func TestClient_InsertAutoMintsID(t *testing.T) {
	c := newTestClient(t)
	defer c.Close()

	id, err := c.InsertAuto([]float64{1, 2, 3}, nil)
	if err != nil {
		t.Fatalf("InsertAuto failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty minted id")
	}

	results, err := c.Search([]float64{1, 2, 3}, 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != id {
		t.Fatalf("expected [%s], got %+v", id, results)
	}
}

func TestClient_Update(t *testing.T) {
	c := newTestClient(t)
	defer c.Close()

	if err := c.Insert("a", []float64{1, 0, 0}, nil); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	existed, err := c.Update("a", []float64{0, 0, 1}, nil, true, false)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if !existed {
		t.Fatal("expected a to exist")
	}

	results, err := c.Search([]float64{0, 0, 1}, 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a" {
		t.Fatalf("expected [a] after update, got %+v", results)
	}
}

func TestClient_BatchOperations(t *testing.T) {
	c := newTestClient(t)
	defer c.Close()

	ids := []string{"a", "b", "c"}
	vectors := [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	ok, err := c.BatchInsert(ids, vectors, nil)
	if err != nil {
		t.Fatalf("BatchInsert failed: %v", err)
	}
	for i, v := range ok {
		if !v {
			t.Errorf("expected item %d to insert successfully", i)
		}
	}

	results, err := c.BatchSearch(vectors, 1)
	if err != nil {
		t.Fatalf("BatchSearch failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 result sets, got %d", len(results))
	}
	for i, rs := range results {
		if len(rs) != 1 || rs[0].ID != ids[i] {
			t.Errorf("query %d: expected [%s], got %+v", i, ids[i], rs)
		}
	}

	deleted, err := c.BatchDelete(ids)
	if err != nil {
		t.Fatalf("BatchDelete failed: %v", err)
	}
	for i, v := range deleted {
		if !v {
			t.Errorf("expected item %d to have existed", i)
		}
	}
}

func TestClient_ListIDs(t *testing.T) {
	c := newTestClient(t)
	defer c.Close()

	for _, id := range []string{"a", "b", "c"} {
		if err := c.Insert(id, []float64{1, 2, 3}, nil); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	ids, err := c.ListIDs(0)
	if err != nil {
		t.Fatalf("ListIDs failed: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %d", len(ids))
	}
}

func TestClient_SnapshotRestore(t *testing.T) {
	c := newTestClient(t)
	defer c.Close()

	if err := c.Insert("a", []float64{1, 0, 0}, storage.Metadata{"tag": "x"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := c.Insert("b", []float64{0, 1, 0}, nil); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	dir := filepath.Join(t.TempDir(), "snap")
	if err := c.Snapshot(dir); err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	restored := newTestClient(t)
	defer restored.Close()
	if err := restored.Restore(dir); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	results, err := restored.Search([]float64{1, 0, 0}, 1)
	if err != nil {
		t.Fatalf("Search after restore failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a" {
		t.Fatalf("expected [a] after restore, got %+v", results)
	}
}

func TestClient_RestoreMissingSnapshotIsNotAnError(t *testing.T) {
	c := newTestClient(t)
	defer c.Close()

	err := c.Restore(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("Restore of a missing snapshot should not error, got: %v", err)
	}
}

func TestClient_Stats(t *testing.T) {
	c := newTestClient(t)
	defer c.Close()

	if err := c.Insert("a", []float64{1, 2, 3}, nil); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	stats, err := c.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Storage.Count != 1 {
		t.Errorf("expected storage count 1, got %d", stats.Storage.Count)
	}
	if stats.Index.Count != 1 {
		t.Errorf("expected index count 1, got %d", stats.Index.Count)
	}
}
