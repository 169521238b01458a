package storage

import (
	"path/filepath"
	"testing"
)

func newReadyDisk(t *testing.T) (*DiskStorage, string) {
	t.Helper()
	dir := t.TempDir()
	s := NewDiskStorage(dir)
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, dir
}

func TestDiskStorage_StoreRetrieveRoundTrip(t *testing.T) {
	s, _ := newReadyDisk(t)
	vec := []float64{1.5, -2.25, 3.0}
	meta := Metadata{"label": "a"}

	if err := s.Store("id1", vec, meta); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	got, gotMeta, ok, err := s.Retrieve("id1")
	if err != nil || !ok {
		t.Fatalf("Retrieve failed: ok=%v err=%v", ok, err)
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("vector mismatch at %d: want %f got %f", i, vec[i], got[i])
		}
	}
	if gotMeta["label"] != "a" {
		t.Errorf("metadata mismatch: %v", gotMeta)
	}
}

func TestDiskStorage_NullMetadataDeletesSidecar(t *testing.T) {
	s, _ := newReadyDisk(t)
	s.Store("id1", []float64{1}, Metadata{"a": 1})
	s.Update("id1", nil, nil, false, true)

	_, meta, ok, err := s.Retrieve("id1")
	if err != nil || !ok {
		t.Fatalf("Retrieve failed: ok=%v err=%v", ok, err)
	}
	if meta != nil {
		t.Errorf("expected nil metadata after null update, got %v", meta)
	}
}

func TestDiskStorage_IDSanitization(t *testing.T) {
	s, dir := newReadyDisk(t)
	if err := s.Store("weird id/with:chars", []float64{1}, nil); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "vectors", "*.vec"))
	if len(matches) != 1 {
		t.Fatalf("expected 1 vector file, got %d", len(matches))
	}
}

func TestDiskStorage_DurableRestart(t *testing.T) {
	dir := t.TempDir()

	s1 := NewDiskStorage(dir)
	if err := s1.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	s1.Store("vec1", []float64{1, 2}, Metadata{"label": "a"})
	s1.Store("vec2", []float64{3, 4}, Metadata{"label": "b"})
	s1.Close()

	s2 := NewDiskStorage(dir)
	if err := s2.Initialize(); err != nil {
		t.Fatalf("re-Initialize failed: %v", err)
	}
	defer s2.Close()

	ids, err := s2.List(0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids after restart, got %d", len(ids))
	}

	vec, meta, ok, err := s2.Retrieve("vec1")
	if err != nil || !ok {
		t.Fatalf("Retrieve failed: ok=%v err=%v", ok, err)
	}
	if vec[0] != 1 || vec[1] != 2 {
		t.Errorf("vector mismatch after restart: %v", vec)
	}
	if meta["label"] != "a" {
		t.Errorf("metadata mismatch after restart: %v", meta)
	}
}

func TestDiskStorage_DeleteRemovesFiles(t *testing.T) {
	s, dir := newReadyDisk(t)
	s.Store("id1", []float64{1}, Metadata{"a": 1})

	existed, err := s.Delete("id1")
	if err != nil || !existed {
		t.Fatalf("Delete failed: existed=%v err=%v", existed, err)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "vectors", "*.vec"))
	if len(matches) != 0 {
		t.Errorf("expected vector file removed, found %d", len(matches))
	}
}

func TestDiskStorage_SecondInstanceLockConflict(t *testing.T) {
	dir := t.TempDir()
	s1 := NewDiskStorage(dir)
	if err := s1.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer s1.Close()

	s2 := NewDiskStorage(dir)
	if err := s2.Initialize(); err == nil {
		t.Error("expected second instance to fail acquiring the data directory lock")
	}
}
