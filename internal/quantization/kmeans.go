package quantization

import (
	"math"
	"math/rand"

	"github.com/vcore-db/vcore/pkg/metric"
	"github.com/vcore-db/vcore/pkg/vcerr"
)

// TrainKMeans runs k-means++ seeding followed by Lloyd iterations over
// sample, returning k centroids. It is shared by the product quantizer's
// per-subspace training and by the IVF coarse quantizer, so both callers
// get identical seeding and convergence behavior.
func TrainKMeans(sample [][]float64, k int, cfg Config) ([][]float64, error) {
	return trainKMeans(sample, k, cfg)
}

func trainKMeans(sample [][]float64, k int, cfg Config) ([][]float64, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(sample) < k {
		return nil, vcerr.InvalidConfigurationf("need at least %d training vectors for %d clusters, got %d", k, k, len(sample))
	}
	if len(sample) == 0 || len(sample[0]) == 0 {
		return nil, vcerr.InvalidConfigurationf("training sample is empty")
	}

	dist, err := metric.Resolve(cfg.Metric)
	if err != nil {
		return nil, err
	}

	dim := len(sample[0])
	centroids := make([][]float64, k)
	r := rand.New(rand.NewSource(cfg.RandomSeed))

	first := r.Intn(len(sample))
	centroids[0] = append([]float64(nil), sample[first]...)

	for c := 1; c < k; c++ {
		distances := make([]float64, len(sample))
		var total float64
		for i, vec := range sample {
			min := math.MaxFloat64
			for j := 0; j < c; j++ {
				if d := dist(vec, centroids[j]); d < min {
					min = d
				}
			}
			distances[i] = min * min
			total += distances[i]
		}

		if total > 0 {
			target := r.Float64() * total
			var cumulative float64
			chosen := len(sample) - 1
			for i, d := range distances {
				cumulative += d
				if cumulative >= target {
					chosen = i
					break
				}
			}
			centroids[c] = append([]float64(nil), sample[chosen]...)
		} else {
			idx := r.Intn(len(sample))
			centroids[c] = append([]float64(nil), sample[idx]...)
		}
	}

	for iter := 0; iter < cfg.MaxIterations; iter++ {
		clusters := make([][][]float64, k)
		for _, vec := range sample {
			minDist := math.MaxFloat64
			minCluster := 0
			for c, centroid := range centroids {
				if d := dist(vec, centroid); d < minDist {
					minDist = d
					minCluster = c
				}
			}
			clusters[minCluster] = append(clusters[minCluster], vec)
		}

		converged := true
		for c := range centroids {
			if len(clusters[c]) == 0 {
				continue
			}
			newCentroid := make([]float64, dim)
			for n, vec := range clusters[c] {
				for d := 0; d < dim; d++ {
					newCentroid[d] += (vec[d] - newCentroid[d]) / float64(n+1)
				}
			}
			if metric.EuclideanDistance(centroids[c], newCentroid) > 1e-6 {
				converged = false
			}
			centroids[c] = newCentroid
		}

		if converged {
			break
		}
	}

	return centroids, nil
}

// nearestCentroid returns the index of the centroid closest to vec under
// dist, along with that distance.
func nearestCentroid(vec []float64, centroids [][]float64, dist metric.Func) (int, float64) {
	best := 0
	bestDist := math.MaxFloat64
	for i, c := range centroids {
		if d := dist(vec, c); d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best, bestDist
}
