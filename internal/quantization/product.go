package quantization

import (
	"encoding/binary"
	"math"

	"github.com/vcore-db/vcore/pkg/metric"
	"github.com/vcore-db/vcore/pkg/vcerr"
)

// ProductQuantizer divides each vector into M equal subspaces and
// quantizes each independently against its own K-centroid codebook,
// trained with k-means++. A full vector of D float64 is then represented
// by M codes instead of D floats, at the cost of approximate
// reconstruction.
type ProductQuantizer struct {
	numSubspaces int
	numClusters  int
	subDim       int
	dim          int
	codebooks    [][][]float64 // codebooks[subspace][cluster] = centroid
	dist         metric.Func
	cfg          Config
	trained      bool
}

// NewProductQuantizer creates a quantizer with M subspaces and K centroids
// per subspace, trained with cfg's k-means parameters.
func NewProductQuantizer(numSubspaces, numClusters int, cfg Config) (*ProductQuantizer, error) {
	if numSubspaces <= 0 {
		return nil, vcerr.InvalidConfigurationf("num_subspaces must be positive, got %d", numSubspaces)
	}
	if numClusters <= 1 {
		return nil, vcerr.InvalidConfigurationf("num_clusters must be greater than 1, got %d", numClusters)
	}
	dist, err := metric.Resolve(cfg.Metric)
	if err != nil {
		return nil, err
	}
	return &ProductQuantizer{
		numSubspaces: numSubspaces,
		numClusters:  numClusters,
		dist:         dist,
		cfg:          cfg,
	}, nil
}

func (pq *ProductQuantizer) bytesPerCode() int {
	if pq.numClusters <= 256 {
		return 1
	}
	return 2
}

func (pq *ProductQuantizer) putCode(dst []byte, code int) {
	if pq.bytesPerCode() == 1 {
		dst[0] = byte(code)
		return
	}
	binary.LittleEndian.PutUint16(dst, uint16(code))
}

func (pq *ProductQuantizer) getCode(src []byte) int {
	if pq.bytesPerCode() == 1 {
		return int(src[0])
	}
	return int(binary.LittleEndian.Uint16(src))
}

// Train splits sample into M subspaces and runs k-means++ independently
// on each, producing one codebook of K centroids per subspace.
func (pq *ProductQuantizer) Train(sample [][]float64) error {
	if len(sample) == 0 {
		return vcerr.InvalidConfigurationf("no training data provided")
	}
	dim := len(sample[0])
	if dim%pq.numSubspaces != 0 {
		return vcerr.InvalidConfigurationf("dimension (%d) must be divisible by num_subspaces (%d)", dim, pq.numSubspaces)
	}

	pq.dim = dim
	pq.subDim = dim / pq.numSubspaces
	pq.codebooks = make([][][]float64, pq.numSubspaces)

	for sv := 0; sv < pq.numSubspaces; sv++ {
		start := sv * pq.subDim
		end := start + pq.subDim

		subsample := make([][]float64, len(sample))
		for i, vec := range sample {
			if len(vec) != dim {
				return vcerr.DimensionMismatchf(dim, len(vec))
			}
			sub := make([]float64, pq.subDim)
			copy(sub, vec[start:end])
			subsample[i] = sub
		}

		centroids, err := trainKMeans(subsample, pq.numClusters, pq.cfg)
		if err != nil {
			return vcerr.Wrap(vcerr.InvalidConfiguration, "training subspace codebook failed", err)
		}
		pq.codebooks[sv] = centroids
	}

	pq.trained = true
	return nil
}

func (pq *ProductQuantizer) Trained() bool { return pq.trained }

// Encode assigns each subvector to its nearest centroid.
func (pq *ProductQuantizer) Encode(vector []float64) ([]byte, error) {
	if !pq.trained {
		return nil, vcerr.New(vcerr.QuantizerNotTrained, "product quantizer has not been trained")
	}
	if len(vector) != pq.dim {
		return nil, vcerr.DimensionMismatchf(pq.dim, len(vector))
	}

	width := pq.bytesPerCode()
	code := make([]byte, pq.numSubspaces*width)

	for sv := 0; sv < pq.numSubspaces; sv++ {
		start := sv * pq.subDim
		end := start + pq.subDim
		sub := vector[start:end]

		idx, _ := nearestCentroid(sub, pq.codebooks[sv], pq.dist)
		pq.putCode(code[sv*width:], idx)
	}

	return code, nil
}

// Decode reconstructs a vector by concatenating the centroid assigned to
// each subspace.
func (pq *ProductQuantizer) Decode(code []byte) ([]float64, error) {
	if !pq.trained {
		return nil, vcerr.New(vcerr.QuantizerNotTrained, "product quantizer has not been trained")
	}
	width := pq.bytesPerCode()
	if len(code) != pq.numSubspaces*width {
		return nil, vcerr.Wrap(vcerr.CorruptRecord, "product code has unexpected length", nil)
	}

	vector := make([]float64, pq.dim)
	for sv := 0; sv < pq.numSubspaces; sv++ {
		idx := pq.getCode(code[sv*width:])
		if idx >= len(pq.codebooks[sv]) {
			return nil, vcerr.Wrap(vcerr.CorruptRecord, "product code references unknown centroid", nil)
		}
		start := sv * pq.subDim
		copy(vector[start:start+pq.subDim], pq.codebooks[sv][idx])
	}

	return vector, nil
}

// distanceTable precomputes the distance from each query subvector to
// every centroid in that subspace's codebook (squared under Euclidean, so
// the per-subspace entries sum to the full squared distance), letting
// AsymmetricDistance answer with M table lookups instead of decoding the
// full vector.
func (pq *ProductQuantizer) distanceTable(query []float64) [][]float64 {
	table := make([][]float64, pq.numSubspaces)
	for sv := 0; sv < pq.numSubspaces; sv++ {
		start := sv * pq.subDim
		end := start + pq.subDim
		sub := query[start:end]

		table[sv] = make([]float64, len(pq.codebooks[sv]))
		for code, centroid := range pq.codebooks[sv] {
			d := pq.dist(sub, centroid)
			if pq.cfg.Metric == metric.Euclidean {
				d *= d
			}
			table[sv][code] = d
		}
	}
	return table
}

// AsymmetricDistance computes the distance between a raw query and a
// stored code via precomputed per-subspace distance tables, without
// decoding the code to a full vector.
func (pq *ProductQuantizer) AsymmetricDistance(query []float64, code []byte) (float64, error) {
	if !pq.trained {
		return 0, vcerr.New(vcerr.QuantizerNotTrained, "product quantizer has not been trained")
	}
	if len(query) != pq.dim {
		return 0, vcerr.DimensionMismatchf(pq.dim, len(query))
	}
	width := pq.bytesPerCode()
	if len(code) != pq.numSubspaces*width {
		return 0, vcerr.Wrap(vcerr.CorruptRecord, "product code has unexpected length", nil)
	}

	table := pq.distanceTable(query)
	var total float64
	for sv := 0; sv < pq.numSubspaces; sv++ {
		idx := pq.getCode(code[sv*width:])
		if idx >= len(table[sv]) {
			return 0, vcerr.Wrap(vcerr.CorruptRecord, "product code references unknown centroid", nil)
		}
		total += table[sv][idx]
	}

	if pq.cfg.Metric == metric.Euclidean {
		return math.Sqrt(total), nil
	}
	return total, nil
}

func (pq *ProductQuantizer) Stats() Stats {
	bytesPerCode := pq.numSubspaces * pq.bytesPerCode()
	ratio := 0.0
	if pq.trained {
		ratio = float64(pq.dim*8) / float64(bytesPerCode)
	}
	return Stats{
		Trained:          pq.trained,
		Dimension:        pq.dim,
		BytesPerCode:     bytesPerCode,
		CompressionRatio: ratio,
		Extra: map[string]interface{}{
			"num_subspaces": pq.numSubspaces,
			"num_clusters":  pq.numClusters,
		},
	}
}

// Serialize encodes the trained codebooks for inclusion in a snapshot.
func (pq *ProductQuantizer) Serialize() ([]byte, error) {
	if !pq.trained {
		return nil, vcerr.New(vcerr.QuantizerNotTrained, "product quantizer has not been trained")
	}

	headerSize := 16
	codebookSize := pq.numSubspaces * pq.numClusters * pq.subDim * 8
	data := make([]byte, headerSize+codebookSize)

	binary.LittleEndian.PutUint32(data[0:], uint32(pq.numSubspaces))
	binary.LittleEndian.PutUint32(data[4:], uint32(pq.numClusters))
	binary.LittleEndian.PutUint32(data[8:], uint32(pq.subDim))
	binary.LittleEndian.PutUint32(data[12:], uint32(pq.dim))

	offset := headerSize
	for sv := 0; sv < pq.numSubspaces; sv++ {
		for code := 0; code < pq.numClusters; code++ {
			for d := 0; d < pq.subDim; d++ {
				bits := math.Float64bits(pq.codebooks[sv][code][d])
				binary.LittleEndian.PutUint64(data[offset:], bits)
				offset += 8
			}
		}
	}

	return data, nil
}

// Deserialize restores codebooks previously produced by Serialize.
func (pq *ProductQuantizer) Deserialize(data []byte) error {
	if len(data) < 16 {
		return vcerr.Wrap(vcerr.CorruptSnapshot, "product quantizer payload too short", nil)
	}

	pq.numSubspaces = int(binary.LittleEndian.Uint32(data[0:]))
	pq.numClusters = int(binary.LittleEndian.Uint32(data[4:]))
	pq.subDim = int(binary.LittleEndian.Uint32(data[8:]))
	pq.dim = int(binary.LittleEndian.Uint32(data[12:]))

	pq.codebooks = make([][][]float64, pq.numSubspaces)
	offset := 16
	for sv := 0; sv < pq.numSubspaces; sv++ {
		pq.codebooks[sv] = make([][]float64, pq.numClusters)
		for code := 0; code < pq.numClusters; code++ {
			pq.codebooks[sv][code] = make([]float64, pq.subDim)
			for d := 0; d < pq.subDim; d++ {
				if offset+8 > len(data) {
					return vcerr.Wrap(vcerr.CorruptSnapshot, "product quantizer payload truncated", nil)
				}
				bits := binary.LittleEndian.Uint64(data[offset:])
				pq.codebooks[sv][code][d] = math.Float64frombits(bits)
				offset += 8
			}
		}
	}

	pq.trained = true
	return nil
}
