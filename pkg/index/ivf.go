package index

import (
	"sort"
	"sync"

	"github.com/vcore-db/vcore/internal/quantization"
	"github.com/vcore-db/vcore/pkg/metric"
	"github.com/vcore-db/vcore/pkg/vcerr"
	"golang.org/x/sync/errgroup"
)

// IVFConfig configures the coarse quantizer and probe depth. NumCentroids
// is the coarse cluster count (nlist); NProbe is how many of the nearest
// centroids a search scans.
type IVFConfig struct {
	NumCentroids int
	NProbe       int
	Metric       metric.Metric
	RandomSeed   int64
}

func DefaultIVFConfig() IVFConfig {
	return IVFConfig{
		NumCentroids: 16,
		NProbe:       4,
		Metric:       metric.Euclidean,
		RandomSeed:   42,
	}
}

func (c IVFConfig) validate() error {
	if c.NumCentroids <= 0 {
		return vcerr.InvalidConfigurationf("num_centroids must be positive, got %d", c.NumCentroids)
	}
	if c.NProbe <= 0 {
		return vcerr.InvalidConfigurationf("nprobe must be positive, got %d", c.NProbe)
	}
	return nil
}

// IVF partitions the vector space into NumCentroids coarse regions
// trained once by k-means, then an inverted posting list per region.
// Search visits only the NProbe nearest regions to the query instead of
// scanning every vector. Centroids are fixed at Build time; inserts
// after Build are assigned to whichever existing centroid they land
// closest to, without retraining.
type IVF struct {
	mu        sync.RWMutex
	life      lifecycle
	dim       int
	distFunc  metric.Func
	metricCfg metric.Metric

	numCentroids int
	nprobe       int
	seed         int64
	centroids    [][]float64
	postings     [][]int // postings[centroid] = slots assigned to it

	slots   *slotTable
	vectors [][]float64
	assign  []int // assign[slot] = centroid index
}

func NewIVF(cfg IVFConfig) (*IVF, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	distFunc, err := metric.Resolve(cfg.Metric)
	if err != nil {
		return nil, err
	}
	return &IVF{
		distFunc:     distFunc,
		metricCfg:    cfg.Metric,
		numCentroids: cfg.NumCentroids,
		nprobe:       cfg.NProbe,
		seed:         cfg.RandomSeed,
		postings:     make([][]int, cfg.NumCentroids),
		slots:        newSlotTable(),
	}, nil
}

// nearestCentroid returns the lowest-indexed centroid at minimal
// distance, so ties resolve deterministically by ascending centroid id.
func (v *IVF) nearestCentroid(vector []float64) int {
	best := 0
	bestDist := v.distFunc(vector, v.centroids[0])
	for i := 1; i < len(v.centroids); i++ {
		d := v.distFunc(vector, v.centroids[i])
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

// nearestCentroids returns up to nprobe centroid indices ordered nearest
// first, ties broken by ascending centroid id.
func (v *IVF) nearestCentroids(vector []float64, nprobe int) []int {
	type pair struct {
		idx  int
		dist float64
	}
	pairs := make([]pair, len(v.centroids))
	for i, c := range v.centroids {
		pairs[i] = pair{idx: i, dist: v.distFunc(vector, c)}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].dist != pairs[j].dist {
			return pairs[i].dist < pairs[j].dist
		}
		return pairs[i].idx < pairs[j].idx
	})
	if nprobe > len(pairs) {
		nprobe = len(pairs)
	}
	out := make([]int, nprobe)
	for i := 0; i < nprobe; i++ {
		out[i] = pairs[i].idx
	}
	return out
}

// Build trains the coarse quantizer over the full vector set via
// k-means++ (shared with the product quantizer's trainer) and then
// assigns every vector to its nearest trained centroid.
func (v *IVF) Build(ids []string, vectors [][]float64) error {
	if len(ids) != len(vectors) {
		return vcerr.InvalidConfigurationf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if len(vectors) == 0 {
		v.life.markReady()
		return nil
	}

	if len(vectors) < v.numCentroids {
		return vcerr.InvalidConfigurationf("need at least %d vectors for %d centroids, got %d", v.numCentroids, v.numCentroids, len(vectors))
	}

	v.dim = len(vectors[0])
	centroids, err := quantization.TrainKMeans(vectors, v.numCentroids, quantization.Config{
		MaxIterations: 25,
		Metric:        v.metricCfg,
		RandomSeed:    v.seed,
	})
	if err != nil {
		return err
	}
	v.centroids = centroids

	for i, id := range ids {
		if err := v.insertLocked(id, vectors[i]); err != nil {
			return err
		}
	}
	v.life.markReady()
	return nil
}

func (v *IVF) insertLocked(id string, vector []float64) error {
	if len(vector) != v.dim {
		return vcerr.DimensionMismatchf(v.dim, len(vector))
	}
	slot := v.slots.assign(id)
	stored := make([]float64, len(vector))
	copy(stored, vector)
	if slot < len(v.vectors) {
		v.vectors[slot] = stored
	} else {
		v.vectors = append(v.vectors, stored)
		v.assign = append(v.assign, 0)
	}
	centroid := v.nearestCentroid(stored)
	v.assign[slot] = centroid
	v.postings[centroid] = append(v.postings[centroid], slot)
	return nil
}

// Insert assigns a vector to its nearest existing centroid. The
// centroid set itself only changes on a fresh Build.
func (v *IVF) Insert(id string, vector []float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.centroids) == 0 {
		return vcerr.New(vcerr.IndexNotReady, "ivf index has no trained centroids; call Build first")
	}
	if err := v.insertLocked(id, vector); err != nil {
		return err
	}
	v.life.markReady()
	return nil
}

func (v *IVF) removePosting(centroid, slot int) {
	list := v.postings[centroid]
	for i, s := range list {
		if s == slot {
			v.postings[centroid] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (v *IVF) Update(id string, vector []float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.life.checkReady(); err != nil {
		return err
	}
	slot, ok := v.slots.slotFor(id)
	if !ok {
		return vcerr.NotFoundf(id)
	}
	if len(vector) != v.dim {
		return vcerr.DimensionMismatchf(v.dim, len(vector))
	}
	v.removePosting(v.assign[slot], slot)
	stored := make([]float64, len(vector))
	copy(stored, vector)
	v.vectors[slot] = stored
	centroid := v.nearestCentroid(stored)
	v.assign[slot] = centroid
	v.postings[centroid] = append(v.postings[centroid], slot)
	return nil
}

func (v *IVF) Delete(id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.life.checkReady(); err != nil {
		return err
	}
	slot, ok := v.slots.slotFor(id)
	if !ok {
		return vcerr.NotFoundf(id)
	}
	v.slots.delete(id)
	v.removePosting(v.assign[slot], slot)
	return nil
}

func (v *IVF) searchLocked(query []float64, k int) ([]Result, error) {
	if err := v.life.checkReady(); err != nil {
		return nil, err
	}
	if v.slots.liveCount() == 0 {
		return []Result{}, nil
	}
	if len(query) != v.dim {
		return nil, vcerr.DimensionMismatchf(v.dim, len(query))
	}
	if k <= 0 {
		return nil, vcerr.InvalidConfigurationf("k must be positive, got %d", k)
	}

	probed := v.nearestCentroids(query, v.nprobe)
	type cand struct {
		slot int
		dist float64
	}
	var candidates []cand
	for _, centroid := range probed {
		for _, slot := range v.postings[centroid] {
			if !v.slots.isLive(slot) {
				continue
			}
			candidates = append(candidates, cand{slot: slot, dist: v.distFunc(query, v.vectors[slot])})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].slot < candidates[j].slot
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	results := make([]Result, len(candidates))
	for i, c := range candidates {
		id, _ := v.slots.idFor(c.slot)
		results[i] = Result{ID: id, Distance: c.dist}
	}
	return results, nil
}

func (v *IVF) Search(query []float64, k int) ([]Result, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.searchLocked(query, k)
}

func (v *IVF) BatchSearch(queries [][]float64, k int) ([][]Result, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([][]Result, len(queries))
	var g errgroup.Group
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			r, err := v.searchLocked(q, k)
			if err != nil {
				return err
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (v *IVF) BatchUpdate(ids []string, vectors [][]float64) ([]bool, error) {
	if len(ids) != len(vectors) {
		return nil, vcerr.InvalidConfigurationf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	ok := make([]bool, len(ids))
	for i, id := range ids {
		ok[i] = v.Update(id, vectors[i]) == nil
	}
	return ok, nil
}

func (v *IVF) Stats() Stats {
	v.mu.RLock()
	defer v.mu.RUnlock()
	sizes := make([]int, len(v.postings))
	total := 0
	for i, list := range v.postings {
		sizes[i] = len(list)
		total += len(list)
	}
	var avg float64
	if len(v.postings) > 0 {
		avg = float64(total) / float64(len(v.postings))
	}
	return Stats{
		Count:     v.slots.liveCount(),
		Dimension: v.dim,
		Extra: map[string]interface{}{
			"num_centroids":   v.numCentroids,
			"nprobe":          v.nprobe,
			"posting_sizes":   sizes,
			"avg_list_size":   avg,
			"metric":          string(v.metricCfg),
		},
	}
}

func (v *IVF) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.life.close()
	return nil
}
