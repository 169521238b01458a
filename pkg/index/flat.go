package index

import (
	"sort"
	"sync"

	"github.com/vcore-db/vcore/pkg/metric"
	"github.com/vcore-db/vcore/pkg/vcerr"
)

// Flat is the exhaustive baseline: every search scans every live vector.
// Always exact, used as the recall reference for the approximate
// variants and as the right choice for small collections.
type Flat struct {
	mu        sync.RWMutex
	life      lifecycle
	dim       int
	distFunc  metric.Func
	metricCfg metric.Metric

	slots   *slotTable
	vectors [][]float64
}

// FlatConfig carries the one knob Flat needs.
type FlatConfig struct {
	Metric metric.Metric
}

func DefaultFlatConfig() FlatConfig {
	return FlatConfig{Metric: metric.Euclidean}
}

func NewFlat(cfg FlatConfig) (*Flat, error) {
	distFunc, err := metric.Resolve(cfg.Metric)
	if err != nil {
		return nil, err
	}
	return &Flat{
		distFunc:  distFunc,
		metricCfg: cfg.Metric,
		slots:     newSlotTable(),
	}, nil
}

func (f *Flat) Build(ids []string, vectors [][]float64) error {
	if len(ids) != len(vectors) {
		return vcerr.InvalidConfigurationf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, id := range ids {
		if err := f.insertLocked(id, vectors[i]); err != nil {
			return err
		}
	}
	f.life.markReady()
	return nil
}

func (f *Flat) insertLocked(id string, vector []float64) error {
	if f.dim == 0 {
		f.dim = len(vector)
	} else if len(vector) != f.dim {
		return vcerr.DimensionMismatchf(f.dim, len(vector))
	}
	slot := f.slots.assign(id)
	stored := make([]float64, len(vector))
	copy(stored, vector)
	if slot < len(f.vectors) {
		f.vectors[slot] = stored
	} else {
		f.vectors = append(f.vectors, stored)
	}
	return nil
}

func (f *Flat) Insert(id string, vector []float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.insertLocked(id, vector); err != nil {
		return err
	}
	f.life.markReady()
	return nil
}

func (f *Flat) Update(id string, vector []float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.life.checkReady(); err != nil {
		return err
	}
	if _, ok := f.slots.slotFor(id); !ok {
		return vcerr.NotFoundf(id)
	}
	return f.insertLocked(id, vector)
}

func (f *Flat) Delete(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.life.checkReady(); err != nil {
		return err
	}
	if !f.slots.delete(id) {
		return vcerr.NotFoundf(id)
	}
	return nil
}

func (f *Flat) Search(query []float64, k int) ([]Result, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.life.checkReady(); err != nil {
		return nil, err
	}
	if f.slots.liveCount() == 0 {
		return []Result{}, nil
	}
	if len(query) != f.dim {
		return nil, vcerr.DimensionMismatchf(f.dim, len(query))
	}
	if k <= 0 {
		return nil, vcerr.InvalidConfigurationf("k must be positive, got %d", k)
	}

	type scored struct {
		slot int
		dist float64
	}
	candidates := make([]scored, 0, f.slots.liveCount())
	for slot, vec := range f.vectors {
		if !f.slots.isLive(slot) {
			continue
		}
		candidates = append(candidates, scored{slot: slot, dist: f.distFunc(query, vec)})
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
		id, _ := f.slots.idFor(c.slot)
		results[i] = Result{ID: id, Distance: c.dist}
	}
	return results, nil
}

func (f *Flat) BatchSearch(queries [][]float64, k int) ([][]Result, error) {
	out := make([][]Result, len(queries))
	for i, q := range queries {
		r, err := f.Search(q, k)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

func (f *Flat) BatchUpdate(ids []string, vectors [][]float64) ([]bool, error) {
	if len(ids) != len(vectors) {
		return nil, vcerr.InvalidConfigurationf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	ok := make([]bool, len(ids))
	for i, id := range ids {
		if err := f.Update(id, vectors[i]); err != nil {
			ok[i] = false
			continue
		}
		ok[i] = true
	}
	return ok, nil
}

func (f *Flat) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Stats{
		Count:     f.slots.liveCount(),
		Dimension: f.dim,
		Extra:     map[string]interface{}{"metric": string(f.metricCfg)},
	}
}

func (f *Flat) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.life.close()
	return nil
}
