// Package vcore is the facade: one Client wraps a chosen storage
// backend and a chosen index variant behind the small set of operations
// an application needs (insert, search, update, delete, snapshot),
// keeping the two subsystems consistent with each other on every path.
package vcore

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vcore-db/vcore/pkg/config"
	"github.com/vcore-db/vcore/pkg/index"
	"github.com/vcore-db/vcore/pkg/metric"
	"github.com/vcore-db/vcore/pkg/observability"
	"github.com/vcore-db/vcore/pkg/persistence"
	"github.com/vcore-db/vcore/pkg/storage"
	"github.com/vcore-db/vcore/pkg/vcerr"
)

// SearchResult pairs one index hit with the metadata stored alongside
// its vector.
type SearchResult struct {
	ID       string
	Distance float64
	Metadata storage.Metadata
}

// Client is the single entry point applications use. It owns exactly
// one storage.Storage and one index.Index, chosen at construction from
// cfg, plus a private logger and a private Prometheus registry.
type Client struct {
	cfg      *config.Config
	store    storage.Storage
	idx      index.Index
	logger   *observability.Logger
	metrics  *observability.Metrics
	registry *prometheus.Registry
}

// New constructs and initializes a Client: builds the storage backend
// named by cfg.Storage.Backend, builds the index variant named by
// cfg.Index.Variant, and wires a per-client logger and metrics registry.
// Equivalent to the "initialize" operation.
func New(cfg *config.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, vcerr.Wrap(vcerr.InvalidConfiguration, "invalid client configuration", err)
	}

	store, err := newStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}
	if err := store.Initialize(); err != nil {
		return nil, err
	}

	idx, err := newIndex(cfg.Index)
	if err != nil {
		return nil, err
	}
	if err := idx.Build(nil, nil); err != nil {
		return nil, err
	}

	logger := observability.NewLogger(observability.ParseLogLevel(cfg.Observability.LogLevel), os.Stdout)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	if hybrid, ok := store.(*storage.HybridStorage); ok {
		hybrid.SetObserver(metrics)
	}

	return &Client{
		cfg:      cfg,
		store:    store,
		idx:      idx,
		logger:   logger,
		metrics:  metrics,
		registry: registry,
	}, nil
}

func newStorage(cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Backend {
	case config.StorageMemory:
		return storage.NewMemoryStorage(), nil
	case config.StorageDisk:
		return storage.NewDiskStorage(cfg.DataDir), nil
	case config.StorageHybrid:
		disk := storage.NewDiskStorage(cfg.DataDir)
		return storage.NewHybridStorage(disk, cfg.CacheCapacity, cfg.CacheTTL), nil
	default:
		return nil, vcerr.InvalidConfigurationf("unknown storage backend %q", cfg.Backend)
	}
}

func newIndex(cfg config.IndexConfig) (index.Index, error) {
	m := metric.Metric(cfg.Metric)
	switch cfg.Variant {
	case config.IndexFlat:
		return index.NewFlat(index.FlatConfig{Metric: m})
	case config.IndexHNSW:
		return index.NewHNSW(index.HNSWConfig{
			M:              cfg.HNSW.M,
			EfConstruction: cfg.HNSW.EfConstruction,
			EfSearch:       cfg.HNSW.EfSearch,
			Metric:         m,
			RandomSeed:     cfg.RandomSeed,
		})
	case config.IndexIVF:
		return index.NewIVF(index.IVFConfig{
			NumCentroids: cfg.IVF.NumCentroids,
			NProbe:       cfg.IVF.NProbe,
			Metric:       m,
			RandomSeed:   cfg.RandomSeed,
		})
	case config.IndexLSH:
		return index.NewLSH(index.LSHConfig{
			NumTables:   cfg.LSH.NumTables,
			NumHashes:   cfg.LSH.NumHashes,
			BucketWidth: cfg.LSH.BucketWidth,
			Metric:      m,
			RandomSeed:  cfg.RandomSeed,
		})
	case config.IndexAnnoy:
		return index.NewAnnoy(index.AnnoyConfig{
			NumTrees:    cfg.Annoy.NumTrees,
			MaxLeafSize: cfg.Annoy.MaxLeafSize,
			Metric:      m,
			RandomSeed:  cfg.RandomSeed,
		})
	default:
		return nil, vcerr.InvalidConfigurationf("unknown index variant %q", cfg.Variant)
	}
}

func (c *Client) checkDimension(vector []float64) error {
	if len(vector) != c.cfg.Index.Dimensions {
		return vcerr.DimensionMismatchf(c.cfg.Index.Dimensions, len(vector))
	}
	return nil
}

// recordRequest is called via defer from Insert, Update, Delete and Search
// to feed the generic per-method request counters; *errp is the named
// return error captured at defer time, so it reflects the final value.
func (c *Client) recordRequest(method string, start time.Time, errp *error) {
	status := "ok"
	if *errp != nil {
		status = "error"
		c.metrics.RecordError(method, vcerr.KindOf(*errp).String())
	}
	c.metrics.RecordRequest(method, status, time.Since(start))
}

// Insert stores (id, vector, metadata), writing to storage before the
// index. If the index write fails, Insert best-effort rolls back the
// storage write and surfaces the index error.
func (c *Client) Insert(id string, vector []float64, metadata storage.Metadata) (err error) {
	defer c.recordRequest("insert", time.Now(), &err)

	if err := c.checkDimension(vector); err != nil {
		return err
	}
	if err := c.store.Store(id, vector, metadata); err != nil {
		return err
	}
	if err := c.idx.Insert(id, vector); err != nil {
		if _, delErr := c.store.Delete(id); delErr != nil {
			c.logger.Warn("rollback after failed index insert could not remove storage record",
				map[string]interface{}{"id": id, "error": delErr.Error()})
		}
		return err
	}
	c.metrics.RecordInsert(1)
	return nil
}

// InsertAuto is Insert with a minted id, returning the id used.
func (c *Client) InsertAuto(vector []float64, metadata storage.Metadata) (string, error) {
	id := newID()
	if err := c.Insert(id, vector, metadata); err != nil {
		return "", err
	}
	return id, nil
}

// Update changes an existing record's vector and/or metadata.
// updateVector/updateMetadata select which fields apply, matching
// storage.Storage.Update's semantics; a metadata update with a nil map
// clears the metadata sidecar.
func (c *Client) Update(id string, vector []float64, metadata storage.Metadata, updateVector, updateMetadata bool) (existed bool, err error) {
	defer c.recordRequest("update", time.Now(), &err)

	if updateVector {
		if err := c.checkDimension(vector); err != nil {
			return false, err
		}
	}
	existed, err = c.store.Update(id, vector, metadata, updateVector, updateMetadata)
	if err != nil {
		return false, err
	}
	if !existed {
		return false, nil
	}
	if updateVector {
		if err := c.idx.Update(id, vector); err != nil {
			return false, err
		}
	}
	c.metrics.RecordUpdate(1)
	return true, nil
}

// Delete removes a record from the index and then from storage,
// reporting whether it existed. A missing id is not an error.
func (c *Client) Delete(id string) (existed bool, err error) {
	defer c.recordRequest("delete", time.Now(), &err)

	idxErr := c.idx.Delete(id)
	if idxErr != nil && vcerr.KindOf(idxErr) != vcerr.NotFound {
		return false, idxErr
	}
	storeExisted, err := c.store.Delete(id)
	if err != nil {
		return false, err
	}
	existed = idxErr == nil || storeExisted
	if existed {
		c.metrics.RecordDelete(1)
	}
	return existed, nil
}

// Search runs a k-nearest-neighbor query and materializes metadata for
// each hit. A hit whose id is no longer in storage (stale due to a
// concurrent delete) is skipped rather than failing the whole search.
func (c *Client) Search(query []float64, k int) (results []SearchResult, err error) {
	start := time.Now()
	defer c.recordRequest("search", start, &err)

	if err := c.checkDimension(query); err != nil {
		return nil, err
	}
	hits, err := c.idx.Search(query, k)
	if err != nil {
		return nil, err
	}

	results = make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		_, meta, ok, err := c.store.Retrieve(hit.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			c.logger.Debug("skipped missing id during search materialization", map[string]interface{}{"id": hit.ID})
			continue
		}
		results = append(results, SearchResult{ID: hit.ID, Distance: hit.Distance, Metadata: meta})
	}
	c.metrics.RecordSearch(time.Since(start), len(results))
	return results, nil
}

// ListIDs returns up to limit ids; a non-positive limit means no bound.
func (c *Client) ListIDs(limit int) ([]string, error) {
	return c.store.List(limit)
}

// ListIDsPaginated returns one page of ids after cursor.
func (c *Client) ListIDsPaginated(pageSize int, cursor string) (storage.Page, error) {
	return c.store.ListPaginated(pageSize, cursor)
}

// StreamIDs returns a channel yielding every live id once.
func (c *Client) StreamIDs() (<-chan string, error) {
	return c.store.StreamIDs()
}

// Stats reports counters from both the storage backend and the index.
type Stats struct {
	Storage storage.Stats
	Index   index.Stats
}

func (c *Client) Stats() (Stats, error) {
	storeStats, err := c.store.Stats()
	if err != nil {
		return Stats{}, err
	}
	indexStats := c.idx.Stats()
	c.metrics.UpdateIndexSize("default", indexStats.Count)
	return Stats{Storage: storeStats, Index: indexStats}, nil
}

// Close shuts down the index and storage backend. If
// cfg.Persistence.AutoSnapshotPath is set, it writes a final snapshot
// there first; a snapshot failure is logged but does not block Close.
func (c *Client) Close() error {
	if c.cfg.Persistence.AutoSnapshotPath != "" {
		if err := c.Snapshot(c.cfg.Persistence.AutoSnapshotPath); err != nil {
			c.logger.Warn("auto-snapshot on close failed", map[string]interface{}{"error": err.Error()})
		}
	}
	if err := c.idx.Close(); err != nil {
		return err
	}
	return c.store.Close()
}

// Snapshot writes every stored record plus the current index
// configuration to dir.
func (c *Client) Snapshot(dir string) error {
	ids, err := c.store.List(0)
	if err != nil {
		return err
	}
	records := make([]persistence.Record, 0, len(ids))
	for _, id := range ids {
		vector, meta, ok, err := c.store.Retrieve(id)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		records = append(records, persistence.Record{ID: id, Vector: vector, Metadata: meta})
	}

	meta := persistence.Meta{
		Dimensions: c.cfg.Index.Dimensions,
		Metric:     c.cfg.Index.Metric,
		Variant:    c.cfg.Index.Variant,
		Index:      c.cfg.Index,
		Gzip:       c.cfg.Persistence.Gzip,
	}
	return persistence.Save(dir, meta, records, time.Now())
}

// Restore replaces the client's storage and index contents with a
// snapshot written by Snapshot. On a missing or corrupt snapshot it
// logs a warning and leaves the client as an empty, ready database
// rather than failing, per the best-effort load policy.
func (c *Client) Restore(dir string) error {
	meta, records, err := persistence.Load(dir)
	if err != nil {
		c.logger.Warn("snapshot load failed, starting from an empty database",
			map[string]interface{}{"dir": dir, "error": err.Error()})
		meta, records = persistence.Meta{Index: c.cfg.Index}, nil
	}

	existing, err := c.store.List(0)
	if err != nil {
		return err
	}
	for _, id := range existing {
		if _, err := c.store.Delete(id); err != nil {
			return err
		}
	}

	ids := make([]string, 0, len(records))
	vectors := make([][]float64, 0, len(records))
	for _, r := range records {
		if err := c.store.Store(r.ID, r.Vector, r.Metadata); err != nil {
			return err
		}
		ids = append(ids, r.ID)
		vectors = append(vectors, r.Vector)
	}

	idx, err := newIndex(meta.Index)
	if err != nil {
		return err
	}
	if err := idx.Build(ids, vectors); err != nil {
		return err
	}
	c.idx = idx
	return nil
}
