package index

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/vcore-db/vcore/pkg/metric"
	"github.com/vcore-db/vcore/pkg/vcerr"
)

// LSHConfig configures locality-sensitive hashing. NumTables (L) and
// NumHashes (k) trade recall for speed: more hashes per table narrow
// each bucket (fewer false positives, more false negatives); more
// tables widen recall at the cost of more buckets to probe.
//
// Under Cosine the hash family is random hyperplane projection (sign of
// a dot product with a random Gaussian vector); under every other metric it
// falls back to p-stable projection (bucketing a dot product with a
// random Gaussian vector by a fixed-width interval), matching the two
// families' standard domains of applicability.
type LSHConfig struct {
	NumTables    int
	NumHashes    int
	BucketWidth  float64
	Metric       metric.Metric
	RandomSeed   int64
	CandidateCap int // max candidates considered across all tables before exact re-ranking
}

func DefaultLSHConfig() LSHConfig {
	return LSHConfig{
		NumTables:    8,
		NumHashes:    10,
		BucketWidth:  4.0,
		Metric:       metric.Cosine,
		RandomSeed:   42,
		CandidateCap: 500,
	}
}

func (c LSHConfig) validate() error {
	if c.NumTables <= 0 {
		return vcerr.InvalidConfigurationf("num_tables must be positive, got %d", c.NumTables)
	}
	if c.NumHashes <= 0 {
		return vcerr.InvalidConfigurationf("num_hashes must be positive, got %d", c.NumHashes)
	}
	return nil
}

// hashFamily is one table's k hash functions, each a random projection
// vector (and, for p-stable, a random offset).
type hashFamily struct {
	planes  [][]float64
	offsets []float64
}

// LSH buckets vectors by L independent hash signatures, each made from k
// hash functions. A search computes the query's signature in every
// table, gathers everything sharing a bucket in any table, and then
// exactly re-ranks that candidate set — the hashing narrows the scan,
// it never substitutes for a real distance computation.
type LSH struct {
	mu        sync.RWMutex
	life      lifecycle
	dim       int
	distFunc  metric.Func
	metricCfg metric.Metric
	cosine    bool

	numTables, numHashes int
	bucketWidth          float64
	candidateCap         int
	rngSeed              int64
	families             []hashFamily
	buckets              []map[string][]int // buckets[table][signature] = slots

	slots   *slotTable
	vectors [][]float64
}

func NewLSH(cfg LSHConfig) (*LSH, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	distFunc, err := metric.Resolve(cfg.Metric)
	if err != nil {
		return nil, err
	}
	l := &LSH{
		distFunc:     distFunc,
		metricCfg:    cfg.Metric,
		cosine:       cfg.Metric == metric.Cosine,
		numTables:    cfg.NumTables,
		numHashes:    cfg.NumHashes,
		bucketWidth:  cfg.BucketWidth,
		candidateCap: cfg.CandidateCap,
		slots:        newSlotTable(),
	}
	l.families = make([]hashFamily, cfg.NumTables)
	l.buckets = make([]map[string][]int, cfg.NumTables)
	for i := range l.buckets {
		l.buckets[i] = make(map[string][]int)
	}
	l.rngSeed = cfg.RandomSeed
	return l, nil
}

func (l *LSH) initFamilies(dim int) {
	r := rand.New(rand.NewSource(l.rngSeed))
	for t := 0; t < l.numTables; t++ {
		planes := make([][]float64, l.numHashes)
		offsets := make([]float64, l.numHashes)
		for h := 0; h < l.numHashes; h++ {
			plane := make([]float64, dim)
			for d := 0; d < dim; d++ {
				plane[d] = r.NormFloat64()
			}
			planes[h] = plane
			offsets[h] = r.Float64() * l.bucketWidth
		}
		l.families[t] = hashFamily{planes: planes, offsets: offsets}
	}
}

// signature computes one table's bucket key for vector.
func (l *LSH) signature(table int, vector []float64) string {
	fam := l.families[table]
	buf := make([]byte, 0, l.numHashes*2)
	for h, plane := range fam.planes {
		var dot float64
		for d, v := range plane {
			dot += v * vector[d]
		}
		var bucket int64
		if l.cosine {
			if dot >= 0 {
				bucket = 1
			} else {
				bucket = 0
			}
		} else {
			bucket = int64(math.Floor((dot + fam.offsets[h]) / l.bucketWidth))
		}
		buf = appendVarint(buf, bucket)
	}
	return string(buf)
}

func appendVarint(buf []byte, v int64) []byte {
	u := uint64(v)
	for {
		b := byte(u & 0x7f)
		u >>= 7
		if u != 0 {
			buf = append(buf, b|0x80)
		} else {
			buf = append(buf, b)
			break
		}
	}
	return buf
}

func (l *LSH) insertLocked(id string, vector []float64) error {
	if l.dim == 0 {
		l.dim = len(vector)
		l.initFamilies(l.dim)
	} else if len(vector) != l.dim {
		return vcerr.DimensionMismatchf(l.dim, len(vector))
	}

	slot := l.slots.assign(id)
	stored := make([]float64, len(vector))
	copy(stored, vector)
	if slot < len(l.vectors) {
		l.vectors[slot] = stored
	} else {
		l.vectors = append(l.vectors, stored)
	}
	for t := 0; t < l.numTables; t++ {
		sig := l.signature(t, stored)
		l.buckets[t][sig] = append(l.buckets[t][sig], slot)
	}
	return nil
}

func (l *LSH) Build(ids []string, vectors [][]float64) error {
	if len(ids) != len(vectors) {
		return vcerr.InvalidConfigurationf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, id := range ids {
		if err := l.insertLocked(id, vectors[i]); err != nil {
			return err
		}
	}
	l.life.markReady()
	return nil
}

func (l *LSH) Insert(id string, vector []float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.insertLocked(id, vector); err != nil {
		return err
	}
	l.life.markReady()
	return nil
}

func (l *LSH) removeFromBuckets(slot int) {
	vector := l.vectors[slot]
	for t := 0; t < l.numTables; t++ {
		sig := l.signature(t, vector)
		list := l.buckets[t][sig]
		for i, s := range list {
			if s == slot {
				l.buckets[t][sig] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

func (l *LSH) Update(id string, vector []float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.life.checkReady(); err != nil {
		return err
	}
	slot, ok := l.slots.slotFor(id)
	if !ok {
		return vcerr.NotFoundf(id)
	}
	if len(vector) != l.dim {
		return vcerr.DimensionMismatchf(l.dim, len(vector))
	}
	l.removeFromBuckets(slot)
	stored := make([]float64, len(vector))
	copy(stored, vector)
	l.vectors[slot] = stored
	for t := 0; t < l.numTables; t++ {
		sig := l.signature(t, stored)
		l.buckets[t][sig] = append(l.buckets[t][sig], slot)
	}
	return nil
}

func (l *LSH) Delete(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.life.checkReady(); err != nil {
		return err
	}
	slot, ok := l.slots.slotFor(id)
	if !ok {
		return vcerr.NotFoundf(id)
	}
	l.slots.delete(id)
	l.removeFromBuckets(slot)
	return nil
}

func (l *LSH) searchLocked(query []float64, k int) ([]Result, error) {
	if err := l.life.checkReady(); err != nil {
		return nil, err
	}
	if l.slots.liveCount() == 0 {
		return []Result{}, nil
	}
	if len(query) != l.dim {
		return nil, vcerr.DimensionMismatchf(l.dim, len(query))
	}
	if k <= 0 {
		return nil, vcerr.InvalidConfigurationf("k must be positive, got %d", k)
	}

	seen := make(map[int]bool)
	var candidates []int
tables:
	for t := 0; t < l.numTables; t++ {
		sig := l.signature(t, query)
		for _, slot := range l.buckets[t][sig] {
			if seen[slot] || !l.slots.isLive(slot) {
				continue
			}
			seen[slot] = true
			candidates = append(candidates, slot)
			if l.candidateCap > 0 && len(candidates) >= l.candidateCap {
				break tables
			}
		}
	}

	type scored struct {
		slot int
		dist float64
	}
	scoredCandidates := make([]scored, len(candidates))
	for i, slot := range candidates {
		scoredCandidates[i] = scored{slot: slot, dist: l.distFunc(query, l.vectors[slot])}
	}
	sort.Slice(scoredCandidates, func(i, j int) bool {
		if scoredCandidates[i].dist != scoredCandidates[j].dist {
			return scoredCandidates[i].dist < scoredCandidates[j].dist
		}
		return scoredCandidates[i].slot < scoredCandidates[j].slot
	})
	if len(scoredCandidates) > k {
		scoredCandidates = scoredCandidates[:k]
	}
	results := make([]Result, len(scoredCandidates))
	for i, c := range scoredCandidates {
		id, _ := l.slots.idFor(c.slot)
		results[i] = Result{ID: id, Distance: c.dist}
	}
	return results, nil
}

func (l *LSH) Search(query []float64, k int) ([]Result, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.searchLocked(query, k)
}

func (l *LSH) BatchSearch(queries [][]float64, k int) ([][]Result, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([][]Result, len(queries))
	for i, q := range queries {
		r, err := l.searchLocked(q, k)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

func (l *LSH) BatchUpdate(ids []string, vectors [][]float64) ([]bool, error) {
	if len(ids) != len(vectors) {
		return nil, vcerr.InvalidConfigurationf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	ok := make([]bool, len(ids))
	for i, id := range ids {
		ok[i] = l.Update(id, vectors[i]) == nil
	}
	return ok, nil
}

func (l *LSH) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	bucketCounts := make([]int, l.numTables)
	for t, m := range l.buckets {
		bucketCounts[t] = len(m)
	}
	return Stats{
		Count:     l.slots.liveCount(),
		Dimension: l.dim,
		Extra: map[string]interface{}{
			"num_tables":    l.numTables,
			"num_hashes":    l.numHashes,
			"bucket_counts": bucketCounts,
			"metric":        string(l.metricCfg),
		},
	}
}

func (l *LSH) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.life.close()
	return nil
}
