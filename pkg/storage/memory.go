package storage

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/vcore-db/vcore/pkg/vcerr"
)

// MemoryStorage holds every record in two parallel maps guarded by one
// reader-writer lock. Nothing is ever written to disk; Close simply
// releases the maps.
type MemoryStorage struct {
	mu        sync.RWMutex
	vectors   map[string][]float64
	metadata  map[string]Metadata
	closed    atomic.Bool
	initDone  bool
}

// NewMemoryStorage constructs an uninitialized MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		vectors:  make(map[string][]float64),
		metadata: make(map[string]Metadata),
	}
}

func (s *MemoryStorage) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initDone = true
	return nil
}

func (s *MemoryStorage) checkReady() error {
	if s.closed.Load() {
		return errAlreadyClosed()
	}
	if !s.initDone {
		return errNotInitialized()
	}
	return nil
}

func (s *MemoryStorage) Store(id string, vector []float64, metadata Metadata) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors[id] = copyVector(vector)
	if metadata != nil {
		s.metadata[id] = copyMetadata(metadata)
	} else {
		delete(s.metadata, id)
	}
	return nil
}

func (s *MemoryStorage) Retrieve(id string) ([]float64, Metadata, bool, error) {
	if err := s.checkReady(); err != nil {
		return nil, nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vectors[id]
	if !ok {
		return nil, nil, false, nil
	}
	return copyVector(v), copyMetadata(s.metadata[id]), true, nil
}

func (s *MemoryStorage) Update(id string, vector []float64, metadata Metadata, updateVector, updateMetadata bool) (bool, error) {
	if err := s.checkReady(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vectors[id]; !ok {
		return false, nil
	}
	if updateVector {
		s.vectors[id] = copyVector(vector)
	}
	if updateMetadata {
		if metadata != nil {
			s.metadata[id] = copyMetadata(metadata)
		} else {
			delete(s.metadata, id)
		}
	}
	return true, nil
}

func (s *MemoryStorage) Delete(id string) (bool, error) {
	if err := s.checkReady(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vectors[id]; !ok {
		return false, nil
	}
	delete(s.vectors, id)
	delete(s.metadata, id)
	return true, nil
}

func (s *MemoryStorage) sortedIDs() []string {
	ids := make([]string, 0, len(s.vectors))
	for id := range s.vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *MemoryStorage) List(limit int) ([]string, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.sortedIDs()
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *MemoryStorage) ListPaginated(pageSize int, cursor string) (Page, error) {
	if err := s.checkReady(); err != nil {
		return Page{}, err
	}
	if pageSize <= 0 {
		return Page{}, vcerr.InvalidConfigurationf("page_size must be positive, got %d", pageSize)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.sortedIDs()
	start := 0
	if cursor != "" {
		idx := sort.SearchStrings(ids, cursor)
		if idx < len(ids) && ids[idx] == cursor {
			start = idx + 1
		} else {
			start = 0
		}
	}

	end := start + pageSize
	if end > len(ids) {
		end = len(ids)
	}
	page := ids[start:end]

	result := Page{IDs: append([]string(nil), page...)}
	if end < len(ids) {
		result.HasMore = true
		result.NextCursor = page[len(page)-1]
	}
	return result, nil
}

func (s *MemoryStorage) StreamIDs() (<-chan string, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	ids := s.sortedIDs()
	s.mu.RUnlock()

	ch := make(chan string)
	go func() {
		defer close(ch)
		for _, id := range ids {
			ch <- id
		}
	}()
	return ch, nil
}

func (s *MemoryStorage) Stats() (Stats, error) {
	if err := s.checkReady(); err != nil {
		return Stats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var approxBytes int64
	for _, v := range s.vectors {
		approxBytes += int64(len(v)) * 8
	}
	for id, m := range s.metadata {
		approxBytes += int64(len(id))
		approxBytes += approxMetadataSize(m)
	}

	return Stats{
		Count:       len(s.vectors),
		ApproxBytes: approxBytes,
	}, nil
}

func (s *MemoryStorage) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return nil
}

func approxMetadataSize(m Metadata) int64 {
	var n int64
	for k, v := range m {
		n += int64(len(k))
		n += approxValueSize(v)
	}
	return n
}

func approxValueSize(v interface{}) int64 {
	switch val := v.(type) {
	case string:
		return int64(len(val))
	case []interface{}:
		var n int64
		for _, e := range val {
			n += approxValueSize(e)
		}
		return n
	case map[string]interface{}:
		var n int64
		for k, e := range val {
			n += int64(len(k))
			n += approxValueSize(e)
		}
		return n
	default:
		return 8
	}
}
