// Package config gathers every subsystem's tunables into one struct that
// can be built programmatically, loaded from the environment, or both.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration for every subsystem a client wires
// together at construction time.
type Config struct {
	Storage       StorageConfig
	Index         IndexConfig
	Quantization  QuantizationConfig
	Persistence   PersistenceConfig
	Observability ObservabilityConfig
}

// StorageBackend selects which pkg/storage implementation a client uses.
type StorageBackend string

const (
	StorageMemory StorageBackend = "memory"
	StorageDisk   StorageBackend = "disk"
	StorageHybrid StorageBackend = "hybrid"
)

// StorageConfig configures the record store.
type StorageConfig struct {
	Backend       StorageBackend // memory, disk, or hybrid
	DataDir       string         // disk/hybrid: root directory for vector and metadata files
	CacheCapacity int            // hybrid: max entries held in the in-memory cache
	CacheTTL      time.Duration  // hybrid: time an entry stays cached after it was last stored or loaded into the cache; cache hits do not extend it
}

// IndexVariant selects which pkg/index implementation a client uses.
type IndexVariant string

const (
	IndexFlat  IndexVariant = "flat"
	IndexHNSW  IndexVariant = "hnsw"
	IndexIVF   IndexVariant = "ivf"
	IndexLSH   IndexVariant = "lsh"
	IndexAnnoy IndexVariant = "annoy"
)

// IndexConfig configures the ANN index. Only the section matching
// Variant is consulted; the others are ignored.
type IndexConfig struct {
	Variant    IndexVariant
	Dimensions int
	Metric     string // resolved through pkg/metric.Resolve
	RandomSeed int64  // seeds every variant's level/hyperplane/centroid randomness

	HNSW  HNSWIndexConfig
	IVF   IVFIndexConfig
	LSH   LSHIndexConfig
	Annoy AnnoyIndexConfig
}

// HNSWIndexConfig mirrors pkg/index.HNSWConfig.
type HNSWIndexConfig struct {
	M              int
	EfConstruction int
	EfSearch       int
}

// IVFIndexConfig mirrors pkg/index.IVFConfig.
type IVFIndexConfig struct {
	NumCentroids int
	NProbe       int
}

// LSHIndexConfig mirrors pkg/index.LSHConfig.
type LSHIndexConfig struct {
	NumTables   int
	NumHashes   int
	BucketWidth float64
}

// AnnoyIndexConfig mirrors pkg/index.AnnoyConfig.
type AnnoyIndexConfig struct {
	NumTrees    int
	MaxLeafSize int
}

// QuantizationKind selects whether vectors are compressed before storage
// and, if so, which internal/quantization implementation compresses them.
type QuantizationKind string

const (
	QuantizationNone    QuantizationKind = "none"
	QuantizationScalar  QuantizationKind = "scalar"
	QuantizationProduct QuantizationKind = "product"
)

// QuantizationConfig configures optional vector compression.
type QuantizationConfig struct {
	Kind        QuantizationKind
	ScalarBits  int // scalar: bits per component (8 or 16)
	PQSubspaces int // product: number of subspaces the vector is split into
	PQClusters  int // product: number of centroids trained per subspace
}

// PersistenceConfig configures snapshot save/restore.
type PersistenceConfig struct {
	AutoSnapshotPath string // if non-empty, Client.Close writes a snapshot here
	Gzip             bool   // compress snapshot bodies
}

// ObservabilityConfig configures the per-client logger.
type ObservabilityConfig struct {
	LogLevel string // DEBUG, INFO, WARN, ERROR, FATAL
}

// Default returns a conservative configuration: in-memory storage, a
// cosine HNSW index over 768-dimensional vectors, no quantization, no
// automatic snapshotting, and INFO-level logging.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:       StorageMemory,
			DataDir:       "./data",
			CacheCapacity: 1000,
			CacheTTL:      5 * time.Minute,
		},
		Index: IndexConfig{
			Variant:    IndexHNSW,
			Dimensions: 768,
			Metric:     "cosine",
			RandomSeed: 42,
			HNSW: HNSWIndexConfig{
				M:              16,
				EfConstruction: 200,
				EfSearch:       64,
			},
			IVF: IVFIndexConfig{
				NumCentroids: 16,
				NProbe:       4,
			},
			LSH: LSHIndexConfig{
				NumTables:   8,
				NumHashes:   10,
				BucketWidth: 4.0,
			},
			Annoy: AnnoyIndexConfig{
				NumTrees:    10,
				MaxLeafSize: 16,
			},
		},
		Quantization: QuantizationConfig{
			Kind: QuantizationNone,
		},
		Persistence: PersistenceConfig{
			AutoSnapshotPath: "",
			Gzip:             false,
		},
		Observability: ObservabilityConfig{
			LogLevel: "INFO",
		},
	}
}

// LoadFromEnv starts from Default and overlays any VECTOR_* environment
// variables that are set, ignoring values that fail to parse.
func LoadFromEnv() *Config {
	cfg := Default()

	// Storage configuration
	if backend := os.Getenv("VECTOR_STORAGE_BACKEND"); backend != "" {
		cfg.Storage.Backend = StorageBackend(backend)
	}
	if dataDir := os.Getenv("VECTOR_DATA_DIR"); dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}
	if capacity := os.Getenv("VECTOR_CACHE_CAPACITY"); capacity != "" {
		if c, err := strconv.Atoi(capacity); err == nil {
			cfg.Storage.CacheCapacity = c
		}
	}
	if ttl := os.Getenv("VECTOR_CACHE_TTL"); ttl != "" {
		if t, err := time.ParseDuration(ttl); err == nil {
			cfg.Storage.CacheTTL = t
		}
	}

	// Index configuration
	if variant := os.Getenv("VECTOR_INDEX_VARIANT"); variant != "" {
		cfg.Index.Variant = IndexVariant(variant)
	}
	if dims := os.Getenv("VECTOR_DIMENSIONS"); dims != "" {
		if d, err := strconv.Atoi(dims); err == nil {
			cfg.Index.Dimensions = d
		}
	}
	if metricName := os.Getenv("VECTOR_METRIC"); metricName != "" {
		cfg.Index.Metric = metricName
	}
	if m := os.Getenv("VECTOR_HNSW_M"); m != "" {
		if mVal, err := strconv.Atoi(m); err == nil {
			cfg.Index.HNSW.M = mVal
		}
	}
	if ef := os.Getenv("VECTOR_HNSW_EF_CONSTRUCTION"); ef != "" {
		if efVal, err := strconv.Atoi(ef); err == nil {
			cfg.Index.HNSW.EfConstruction = efVal
		}
	}
	if ef := os.Getenv("VECTOR_HNSW_EF_SEARCH"); ef != "" {
		if efVal, err := strconv.Atoi(ef); err == nil {
			cfg.Index.HNSW.EfSearch = efVal
		}
	}
	if nc := os.Getenv("VECTOR_IVF_NUM_CENTROIDS"); nc != "" {
		if v, err := strconv.Atoi(nc); err == nil {
			cfg.Index.IVF.NumCentroids = v
		}
	}
	if np := os.Getenv("VECTOR_IVF_NPROBE"); np != "" {
		if v, err := strconv.Atoi(np); err == nil {
			cfg.Index.IVF.NProbe = v
		}
	}

	// Quantization configuration
	if kind := os.Getenv("VECTOR_QUANTIZATION_KIND"); kind != "" {
		cfg.Quantization.Kind = QuantizationKind(kind)
	}
	if bits := os.Getenv("VECTOR_QUANTIZATION_SCALAR_BITS"); bits != "" {
		if v, err := strconv.Atoi(bits); err == nil {
			cfg.Quantization.ScalarBits = v
		}
	}

	// Persistence configuration
	if path := os.Getenv("VECTOR_AUTO_SNAPSHOT_PATH"); path != "" {
		cfg.Persistence.AutoSnapshotPath = path
	}
	if gzip := os.Getenv("VECTOR_SNAPSHOT_GZIP"); gzip == "true" {
		cfg.Persistence.Gzip = true
	}

	// Observability configuration
	if level := os.Getenv("VECTOR_LOG_LEVEL"); level != "" {
		cfg.Observability.LogLevel = level
	}

	return cfg
}

// Validate checks that every subsystem's settings are internally
// consistent given the selected Storage.Backend and Index.Variant.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case StorageMemory, StorageDisk, StorageHybrid:
	default:
		return fmt.Errorf("invalid storage backend: %q", c.Storage.Backend)
	}
	if c.Storage.Backend != StorageMemory && c.Storage.DataDir == "" {
		return fmt.Errorf("data directory not specified for storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == StorageHybrid && c.Storage.CacheCapacity < 1 {
		return fmt.Errorf("invalid cache capacity: %d (must be > 0)", c.Storage.CacheCapacity)
	}

	if c.Index.Dimensions < 1 {
		return fmt.Errorf("invalid dimensions: %d (must be > 0)", c.Index.Dimensions)
	}

	switch c.Index.Variant {
	case IndexFlat:
	case IndexHNSW:
		if c.Index.HNSW.M < 2 {
			return fmt.Errorf("invalid HNSW M: %d (must be >= 2)", c.Index.HNSW.M)
		}
		if c.Index.HNSW.EfConstruction < 1 {
			return fmt.Errorf("invalid HNSW efConstruction: %d (must be > 0)", c.Index.HNSW.EfConstruction)
		}
		if c.Index.HNSW.EfSearch < 1 {
			return fmt.Errorf("invalid HNSW efSearch: %d (must be > 0)", c.Index.HNSW.EfSearch)
		}
	case IndexIVF:
		if c.Index.IVF.NumCentroids < 1 {
			return fmt.Errorf("invalid IVF numCentroids: %d (must be > 0)", c.Index.IVF.NumCentroids)
		}
		if c.Index.IVF.NProbe < 1 || c.Index.IVF.NProbe > c.Index.IVF.NumCentroids {
			return fmt.Errorf("invalid IVF nprobe: %d (must be between 1 and numCentroids)", c.Index.IVF.NProbe)
		}
	case IndexLSH:
		if c.Index.LSH.NumTables < 1 || c.Index.LSH.NumHashes < 1 {
			return fmt.Errorf("invalid LSH configuration: numTables=%d numHashes=%d (both must be > 0)", c.Index.LSH.NumTables, c.Index.LSH.NumHashes)
		}
		if c.Index.LSH.BucketWidth <= 0 {
			return fmt.Errorf("invalid LSH bucketWidth: %f (must be > 0)", c.Index.LSH.BucketWidth)
		}
	case IndexAnnoy:
		if c.Index.Annoy.NumTrees < 1 || c.Index.Annoy.MaxLeafSize < 1 {
			return fmt.Errorf("invalid Annoy configuration: numTrees=%d maxLeafSize=%d (both must be > 0)", c.Index.Annoy.NumTrees, c.Index.Annoy.MaxLeafSize)
		}
	default:
		return fmt.Errorf("invalid index variant: %q", c.Index.Variant)
	}

	switch c.Quantization.Kind {
	case QuantizationNone:
	case QuantizationScalar:
		if c.Quantization.ScalarBits != 8 && c.Quantization.ScalarBits != 16 {
			return fmt.Errorf("invalid scalar quantization bits: %d (must be 8 or 16)", c.Quantization.ScalarBits)
		}
	case QuantizationProduct:
		if c.Quantization.PQSubspaces < 1 {
			return fmt.Errorf("invalid product quantization subspaces: %d (must be > 0)", c.Quantization.PQSubspaces)
		}
		if c.Index.Dimensions%c.Quantization.PQSubspaces != 0 {
			return fmt.Errorf("dimensions %d not divisible by PQ subspaces %d", c.Index.Dimensions, c.Quantization.PQSubspaces)
		}
		if c.Quantization.PQClusters < 2 {
			return fmt.Errorf("invalid product quantization clusters: %d (must be >= 2)", c.Quantization.PQClusters)
		}
	default:
		return fmt.Errorf("invalid quantization kind: %q", c.Quantization.Kind)
	}

	return nil
}
