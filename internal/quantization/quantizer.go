// Package quantization implements the scalar and product quantizers: train
// a codebook from a representative sample, encode vectors into compact
// codes, decode codes back to approximate vectors, and compute an
// asymmetric distance between a raw query and a stored code without fully
// decoding it.
package quantization

import (
	"github.com/vcore-db/vcore/pkg/metric"
	"github.com/vcore-db/vcore/pkg/vcerr"
)

// Quantizer is the common contract shared by the scalar and product
// quantizers. Encode, Decode, and AsymmetricDistance all fail with
// QuantizerNotTrained until Train has completed.
type Quantizer interface {
	Train(sample [][]float64) error
	Encode(vector []float64) ([]byte, error)
	Decode(code []byte) ([]float64, error)
	AsymmetricDistance(query []float64, code []byte) (float64, error)
	Stats() Stats
	Trained() bool
}

// Stats reports codebook shape and the achieved compression ratio.
type Stats struct {
	Trained          bool
	Dimension        int
	BytesPerCode     int
	CompressionRatio float64
	Extra            map[string]interface{}
}

// Config holds the shared k-means training parameters used by the product
// quantizer, and reused by IVF's coarse quantizer through the same
// trainer.
type Config struct {
	MaxIterations int
	Metric        metric.Metric
	RandomSeed    int64
}

// DefaultConfig mirrors the example pool's k-means defaults: 25 Lloyd
// iterations, Euclidean ordering metric, and a fixed seed for reproducible
// training runs.
func DefaultConfig() Config {
	return Config{
		MaxIterations: 25,
		Metric:        metric.Euclidean,
		RandomSeed:    42,
	}
}

func (c Config) validate() error {
	if c.MaxIterations <= 0 {
		return vcerr.InvalidConfigurationf("max_iterations must be positive, got %d", c.MaxIterations)
	}
	return nil
}
