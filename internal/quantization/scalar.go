package quantization

import (
	"encoding/binary"
	"math"

	"github.com/vcore-db/vcore/pkg/metric"
	"github.com/vcore-db/vcore/pkg/vcerr"
)

// ScalarQuantizer maps each dimension independently onto a fixed-width
// unsigned integer code, using that dimension's own min/max observed
// during training rather than one global range. Supported widths are 8
// and 16 bits.
type ScalarQuantizer struct {
	bits    int
	dim     int
	min     []float64
	max     []float64
	trained bool
}

// NewScalarQuantizer creates a quantizer encoding each dimension to the
// given bit width (8 or 16).
func NewScalarQuantizer(bits int) (*ScalarQuantizer, error) {
	if bits != 8 && bits != 16 {
		return nil, vcerr.InvalidConfigurationf("scalar quantizer bits must be 8 or 16, got %d", bits)
	}
	return &ScalarQuantizer{bits: bits}, nil
}

func (q *ScalarQuantizer) levels() float64 {
	return float64((uint32(1) << uint(q.bits)) - 1)
}

// Train records the per-dimension min and max over sample.
func (q *ScalarQuantizer) Train(sample [][]float64) error {
	if len(sample) == 0 {
		return vcerr.InvalidConfigurationf("no training data provided")
	}
	dim := len(sample[0])
	min := make([]float64, dim)
	max := make([]float64, dim)
	for d := 0; d < dim; d++ {
		min[d] = math.MaxFloat64
		max[d] = -math.MaxFloat64
	}
	for _, vec := range sample {
		if len(vec) != dim {
			return vcerr.DimensionMismatchf(dim, len(vec))
		}
		for d, v := range vec {
			if v < min[d] {
				min[d] = v
			}
			if v > max[d] {
				max[d] = v
			}
		}
	}

	q.dim = dim
	q.min = min
	q.max = max
	q.trained = true
	return nil
}

func (q *ScalarQuantizer) Trained() bool { return q.trained }

func (q *ScalarQuantizer) codeRange(d int) float64 {
	r := q.max[d] - q.min[d]
	if r == 0 {
		return 1
	}
	return r
}

// Encode maps each dimension to a code in [0, 2^bits - 1] via
// round((x - min) / (max - min) * levels), clipped to the valid range.
func (q *ScalarQuantizer) Encode(vector []float64) ([]byte, error) {
	if !q.trained {
		return nil, vcerr.New(vcerr.QuantizerNotTrained, "scalar quantizer has not been trained")
	}
	if len(vector) != q.dim {
		return nil, vcerr.DimensionMismatchf(q.dim, len(vector))
	}

	bytesPerDim := q.bits / 8
	code := make([]byte, q.dim*bytesPerDim)
	levels := q.levels()

	for d, v := range vector {
		scaled := (v - q.min[d]) / q.codeRange(d) * levels
		if scaled < 0 {
			scaled = 0
		} else if scaled > levels {
			scaled = levels
		}
		val := uint32(math.Round(scaled))

		switch q.bits {
		case 8:
			code[d] = byte(val)
		case 16:
			binary.LittleEndian.PutUint16(code[d*2:], uint16(val))
		}
	}

	return code, nil
}

// Decode reconstructs an approximate vector from a code produced by
// Encode.
func (q *ScalarQuantizer) Decode(code []byte) ([]float64, error) {
	if !q.trained {
		return nil, vcerr.New(vcerr.QuantizerNotTrained, "scalar quantizer has not been trained")
	}
	bytesPerDim := q.bits / 8
	if len(code) != q.dim*bytesPerDim {
		return nil, vcerr.Wrap(vcerr.CorruptRecord, "scalar code has unexpected length", nil)
	}

	levels := q.levels()
	vector := make([]float64, q.dim)
	for d := 0; d < q.dim; d++ {
		var val uint32
		switch q.bits {
		case 8:
			val = uint32(code[d])
		case 16:
			val = uint32(binary.LittleEndian.Uint16(code[d*2:]))
		}
		vector[d] = q.min[d] + float64(val)/levels*q.codeRange(d)
	}

	return vector, nil
}

// AsymmetricDistance decodes code and computes Euclidean distance against
// the raw query. Scalar quantization has no compact distance table, so
// this simply decodes and measures.
func (q *ScalarQuantizer) AsymmetricDistance(query []float64, code []byte) (float64, error) {
	decoded, err := q.Decode(code)
	if err != nil {
		return 0, err
	}
	if len(query) != len(decoded) {
		return 0, vcerr.DimensionMismatchf(len(decoded), len(query))
	}
	return metric.EuclideanDistance(query, decoded), nil
}

func (q *ScalarQuantizer) Stats() Stats {
	bytesPerCode := q.dim * q.bits / 8
	ratio := 0.0
	if q.trained {
		ratio = float64(q.dim*8) / float64(bytesPerCode)
	}
	return Stats{
		Trained:          q.trained,
		Dimension:        q.dim,
		BytesPerCode:     bytesPerCode,
		CompressionRatio: ratio,
		Extra:            map[string]interface{}{"bits": q.bits},
	}
}
