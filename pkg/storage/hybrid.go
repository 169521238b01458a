package storage

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type cacheEntry struct {
	vector   []float64
	metadata Metadata
}

// CacheObserver receives HybridStorage's cache hit/miss/size events. A
// *observability.Metrics satisfies this structurally, with no import
// from pkg/storage back to pkg/observability.
type CacheObserver interface {
	RecordCacheHit()
	RecordCacheMiss()
	UpdateCacheSize(size int)
}

type noopCacheObserver struct{}

func (noopCacheObserver) RecordCacheHit()     {}
func (noopCacheObserver) RecordCacheMiss()    {}
func (noopCacheObserver) UpdateCacheSize(int) {}

// HybridStorage layers a bounded, optionally time-expiring LRU cache in
// front of a DiskStorage. Writes are write-through: disk first, then the
// cache is refreshed. Reads check the cache first and populate it on a
// miss. Enumeration always goes to disk, the source of truth.
type HybridStorage struct {
	disk  *DiskStorage
	cache *expirable.LRU[string, cacheEntry]

	// invalMu guards invalidating, which names the keys currently being
	// deliberately removed so the shared eviction callback (triggered
	// synchronously from Add by any goroutine, not just invalidate's
	// caller) can tell a deliberate removal of that key apart from the
	// LRU's own capacity eviction of some unrelated key.
	invalMu      sync.Mutex
	invalidating map[string]struct{}

	observer CacheObserver

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// NewHybridStorage constructs a HybridStorage over disk with a cache
// holding at most cacheSize entries, expiring after ttl (zero disables
// expiry). The cache reports to a no-op observer until SetObserver is
// called.
func NewHybridStorage(disk *DiskStorage, cacheSize int, ttl time.Duration) *HybridStorage {
	h := &HybridStorage{disk: disk, invalidating: make(map[string]struct{}), observer: noopCacheObserver{}}
	h.cache = expirable.NewLRU[string, cacheEntry](cacheSize, func(key string, _ cacheEntry) {
		h.invalMu.Lock()
		_, suppressed := h.invalidating[key]
		h.invalMu.Unlock()
		if !suppressed {
			h.evictions.Add(1)
		}
	}, ttl)
	return h
}

// SetObserver wires a cache hit/miss/size sink. Passing nil restores the
// no-op observer.
func (h *HybridStorage) SetObserver(observer CacheObserver) {
	if observer == nil {
		observer = noopCacheObserver{}
	}
	h.observer = observer
}

func (h *HybridStorage) Initialize() error {
	return h.disk.Initialize()
}

func (h *HybridStorage) Store(id string, vector []float64, metadata Metadata) error {
	if err := h.disk.Store(id, vector, metadata); err != nil {
		return err
	}
	h.cache.Add(id, cacheEntry{vector: copyVector(vector), metadata: copyMetadata(metadata)})
	h.observer.UpdateCacheSize(h.cache.Len())
	return nil
}

func (h *HybridStorage) Retrieve(id string) ([]float64, Metadata, bool, error) {
	if entry, ok := h.cache.Get(id); ok {
		h.hits.Add(1)
		h.observer.RecordCacheHit()
		return copyVector(entry.vector), copyMetadata(entry.metadata), true, nil
	}
	h.misses.Add(1)
	h.observer.RecordCacheMiss()

	vector, metadata, ok, err := h.disk.Retrieve(id)
	if err != nil || !ok {
		return vector, metadata, ok, err
	}
	h.cache.Add(id, cacheEntry{vector: copyVector(vector), metadata: copyMetadata(metadata)})
	h.observer.UpdateCacheSize(h.cache.Len())
	return vector, metadata, true, nil
}

func (h *HybridStorage) Update(id string, vector []float64, metadata Metadata, updateVector, updateMetadata bool) (bool, error) {
	existed, err := h.disk.Update(id, vector, metadata, updateVector, updateMetadata)
	if err != nil || !existed {
		return existed, err
	}

	// Invalidate then refresh from disk so the cache reflects exactly
	// what was written, including metadata deletion.
	h.invalidate(id)
	if newVector, newMetadata, ok, err := h.disk.Retrieve(id); err == nil && ok {
		h.cache.Add(id, cacheEntry{vector: copyVector(newVector), metadata: copyMetadata(newMetadata)})
	}
	h.observer.UpdateCacheSize(h.cache.Len())
	return true, nil
}

func (h *HybridStorage) Delete(id string) (bool, error) {
	existed, err := h.disk.Delete(id)
	if err != nil {
		return false, err
	}
	h.invalidate(id)
	h.observer.UpdateCacheSize(h.cache.Len())
	return existed, nil
}

// invalidate removes id from the cache without counting it as an
// eviction: a removal listener's passive eviction notification is
// distinct from a deliberate invalidation.
func (h *HybridStorage) invalidate(id string) {
	h.invalMu.Lock()
	h.invalidating[id] = struct{}{}
	h.invalMu.Unlock()

	h.cache.Remove(id)

	h.invalMu.Lock()
	delete(h.invalidating, id)
	h.invalMu.Unlock()
}

func (h *HybridStorage) List(limit int) ([]string, error) {
	return h.disk.List(limit)
}

func (h *HybridStorage) ListPaginated(pageSize int, cursor string) (Page, error) {
	return h.disk.ListPaginated(pageSize, cursor)
}

func (h *HybridStorage) StreamIDs() (<-chan string, error) {
	return h.disk.StreamIDs()
}

func (h *HybridStorage) Stats() (Stats, error) {
	diskStats, err := h.disk.Stats()
	if err != nil {
		return Stats{}, err
	}

	hits := h.hits.Load()
	misses := h.misses.Load()
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	diskStats.Extra = map[string]interface{}{
		"cache_size":      h.cache.Len(),
		"cache_hits":      hits,
		"cache_misses":    misses,
		"cache_evictions": h.evictions.Load(),
		"cache_hit_rate":  hitRate,
	}
	return diskStats, nil
}

func (h *HybridStorage) Close() error {
	return h.disk.Close()
}
