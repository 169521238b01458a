package persistence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vcore-db/vcore/pkg/config"
	"github.com/vcore-db/vcore/pkg/storage"
)

func testMeta() Meta {
	return Meta{
		Dimensions: 3,
		Metric:     "cosine",
		Variant:    config.IndexHNSW,
		Index: config.IndexConfig{
			Variant:    config.IndexHNSW,
			Dimensions: 3,
			Metric:     "cosine",
			HNSW:       config.HNSWIndexConfig{M: 16, EfConstruction: 200, EfSearch: 64},
		},
	}
}

func testRecords() []Record {
	return []Record{
		{ID: "a", Vector: []float64{1, 0, 0}, Metadata: storage.Metadata{"tag": "x"}},
		{ID: "b", Vector: []float64{0, 1, 0}, Metadata: nil},
		{ID: "c", Vector: []float64{0, 0, 1}, Metadata: storage.Metadata{"tag": "y", "n": 7}},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	meta := testMeta()
	records := testRecords()

	if err := Save(dir, meta, records, time.Unix(0, 0)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	gotMeta, gotRecords, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if gotMeta.Dimensions != meta.Dimensions || gotMeta.Variant != meta.Variant {
		t.Errorf("meta mismatch: got %+v", gotMeta)
	}
	if gotMeta.RecordCount != len(records) {
		t.Errorf("expected record count %d, got %d", len(records), gotMeta.RecordCount)
	}
	if len(gotRecords) != len(records) {
		t.Fatalf("expected %d records, got %d", len(records), len(gotRecords))
	}
	for i, r := range records {
		if gotRecords[i].ID != r.ID {
			t.Errorf("record %d: expected id %s, got %s", i, r.ID, gotRecords[i].ID)
		}
		for j, v := range r.Vector {
			if gotRecords[i].Vector[j] != v {
				t.Errorf("record %d component %d: expected %f, got %f", i, j, v, gotRecords[i].Vector[j])
			}
		}
	}
	if gotRecords[0].Metadata["tag"] != "x" {
		t.Errorf("expected metadata tag=x, got %v", gotRecords[0].Metadata)
	}
}

func TestSaveLoadGzip(t *testing.T) {
	dir := t.TempDir()
	meta := testMeta()
	meta.Gzip = true

	if err := Save(dir, meta, testRecords(), time.Unix(0, 0)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	_, records, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("expected 3 records, got %d", len(records))
	}
}

func TestLoadMissingDirectory(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Fatal("expected an error loading a missing snapshot directory")
	}
}

func TestLoadCorruptChecksum(t *testing.T) {
	dir := t.TempDir()
	if err := Save(dir, testMeta(), testRecords(), time.Unix(0, 0)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	path := filepath.Join(dir, vectorsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read vectors.bin: %v", err)
	}
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("corrupt vectors.bin: %v", err)
	}

	_, _, err = Load(dir)
	if err == nil {
		t.Fatal("expected a checksum error loading a corrupted snapshot")
	}
}

func TestIndexConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	meta := testMeta()
	if err := Save(dir, meta, testRecords(), time.Unix(0, 0)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	cfg, err := ReadIndexConfig(dir, config.IndexHNSW)
	if err != nil {
		t.Fatalf("ReadIndexConfig failed: %v", err)
	}
	if cfg.HNSW.M != 16 {
		t.Errorf("expected M=16, got %d", cfg.HNSW.M)
	}
}
