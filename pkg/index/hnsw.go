package index

import (
	"container/heap"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/vcore-db/vcore/pkg/metric"
	"github.com/vcore-db/vcore/pkg/vcerr"
	"golang.org/x/sync/errgroup"
)

// HNSWConfig configures a layered proximity graph. M bounds the number
// of neighbors kept per node above layer 0 (layer 0 keeps 2*M);
// EfConstruction is the candidate list size used while inserting;
// EfSearch is the candidate list size used by Search and BatchSearch,
// raised to k when k is larger.
type HNSWConfig struct {
	M              int
	EfConstruction int
	EfSearch       int
	Metric         metric.Metric
	RandomSeed     int64
}

func DefaultHNSWConfig() HNSWConfig {
	return HNSWConfig{
		M:              16,
		EfConstruction: 200,
		EfSearch:       64,
		Metric:         metric.Cosine,
		RandomSeed:     42,
	}
}

func (c HNSWConfig) validate() error {
	if c.M <= 0 {
		return vcerr.InvalidConfigurationf("M must be positive, got %d", c.M)
	}
	if c.EfConstruction <= 0 {
		return vcerr.InvalidConfigurationf("ef_construction must be positive, got %d", c.EfConstruction)
	}
	return nil
}

type hnswNode struct {
	slot      int
	vector    []float64
	level     int
	neighbors [][]int // neighbors[layer] = neighbor slots, live and tombstoned alike
}

// HNSW is a layered proximity graph: Insert draws a random top layer for
// the new node, greedily descends from the current entry point down to
// that layer, then at each layer from its own level down to 0 runs a
// bounded best-first search and links to a diversity-pruned neighbor
// set. Delete tombstones rather than unlinking, so surviving edges stay
// valid; Update rewrites a node's vector and relinks it in place,
// preserving its external id and internal slot.
type HNSW struct {
	mu        sync.RWMutex
	life      lifecycle
	dim       int
	distFunc  metric.Func
	metricCfg metric.Metric

	m, m0, efConstruction, efSearch int
	ml                              float64
	rng                             *rand.Rand

	slots      *slotTable
	nodes      []*hnswNode
	entryPoint int // slot, -1 if empty
	maxLayer   int
}

func NewHNSW(cfg HNSWConfig) (*HNSW, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	distFunc, err := metric.Resolve(cfg.Metric)
	if err != nil {
		return nil, err
	}
	return &HNSW{
		distFunc:       distFunc,
		metricCfg:      cfg.Metric,
		m:              cfg.M,
		m0:             cfg.M * 2,
		efConstruction: cfg.EfConstruction,
		efSearch:       cfg.EfSearch,
		ml:             1 / math.Log(float64(cfg.M)),
		rng:            rand.New(rand.NewSource(cfg.RandomSeed)),
		slots:          newSlotTable(),
		entryPoint:     -1,
		maxLayer:       -1,
	}, nil
}

func (h *HNSW) randomLevel() int {
	return int(math.Floor(-math.Log(h.rng.Float64()) * h.ml))
}

func (h *HNSW) vectorAt(slot int) []float64 { return h.nodes[slot].vector }

// scored pairs a slot with its distance to some fixed reference vector.
type scored struct {
	slot int
	dist float64
}

type candidateHeap []scored // min-heap by dist

func (c candidateHeap) Len() int            { return len(c) }
func (c candidateHeap) Less(i, j int) bool  { return c[i].dist < c[j].dist }
func (c candidateHeap) Swap(i, j int)       { c[i], c[j] = c[j], c[i] }
func (c *candidateHeap) Push(x interface{}) { *c = append(*c, x.(scored)) }
func (c *candidateHeap) Pop() interface{} {
	old := *c
	n := len(old)
	item := old[n-1]
	*c = old[:n-1]
	return item
}

type foundHeap []scored // max-heap by dist, to evict the worst when over ef

func (f foundHeap) Len() int            { return len(f) }
func (f foundHeap) Less(i, j int) bool  { return f[i].dist > f[j].dist }
func (f foundHeap) Swap(i, j int)       { f[i], f[j] = f[j], f[i] }
func (f *foundHeap) Push(x interface{}) { *f = append(*f, x.(scored)) }
func (f *foundHeap) Pop() interface{} {
	old := *f
	n := len(old)
	item := old[n-1]
	*f = old[:n-1]
	return item
}

// searchLayer runs bounded best-first search at one layer, starting from
// entrySlots, and returns up to ef nearest live nodes to query.
func (h *HNSW) searchLayer(query []float64, entrySlots []int, ef int, layer int) []scored {
	visited := make(map[int]bool)
	candidates := &candidateHeap{}
	found := &foundHeap{}

	for _, slot := range entrySlots {
		if visited[slot] {
			continue
		}
		visited[slot] = true
		d := h.distFunc(query, h.vectorAt(slot))
		heap.Push(candidates, scored{slot: slot, dist: d})
		if h.slots.isLive(slot) {
			heap.Push(found, scored{slot: slot, dist: d})
		}
	}

	for candidates.Len() > 0 {
		nearest := (*candidates)[0]
		if found.Len() >= ef && nearest.dist > (*found)[0].dist {
			break
		}
		heap.Pop(candidates)

		for _, neighbor := range h.nodes[nearest.slot].neighbors[layer] {
			if visited[neighbor] {
				continue
			}
			visited[neighbor] = true
			d := h.distFunc(query, h.vectorAt(neighbor))
			if found.Len() < ef || d < (*found)[0].dist {
				heap.Push(candidates, scored{slot: neighbor, dist: d})
				if h.slots.isLive(neighbor) {
					heap.Push(found, scored{slot: neighbor, dist: d})
					if found.Len() > ef {
						heap.Pop(found)
					}
				}
			}
		}
	}

	result := make([]scored, len(*found))
	copy(result, *found)
	sort.Slice(result, func(i, j int) bool {
		if result[i].dist != result[j].dist {
			return result[i].dist < result[j].dist
		}
		return result[i].slot < result[j].slot
	})
	return result
}

// selectNeighbors implements the keep-pruned diversity heuristic: a
// candidate is kept only if it is not closer to any already-selected
// neighbor than it is to the query itself, which favors spreading edges
// across directions instead of clustering them near one cluster.
func (h *HNSW) selectNeighbors(candidates []scored, m int) []scored {
	sorted := make([]scored, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].dist < sorted[j].dist })

	selected := make([]scored, 0, m)
	for _, c := range sorted {
		if len(selected) >= m {
			break
		}
		keep := true
		for _, s := range selected {
			if h.distFunc(h.vectorAt(c.slot), h.vectorAt(s.slot)) < c.dist {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, c)
		}
	}
	return selected
}

func (h *HNSW) connect(slot, layer int, neighbors []scored) {
	node := h.nodes[slot]
	limit := h.m
	if layer == 0 {
		limit = h.m0
	}
	for _, n := range neighbors {
		node.neighbors[layer] = append(node.neighbors[layer], n.slot)
		other := h.nodes[n.slot]
		other.neighbors[layer] = append(other.neighbors[layer], slot)
		if len(other.neighbors[layer]) > limit {
			cands := make([]scored, 0, len(other.neighbors[layer]))
			for _, nb := range other.neighbors[layer] {
				if h.slots.isLive(nb) {
					cands = append(cands, scored{slot: nb, dist: h.distFunc(other.vector, h.vectorAt(nb))})
				}
			}
			other.neighbors[layer] = sliceSlots(h.selectNeighbors(cands, limit))
		}
	}
}

func sliceSlots(s []scored) []int {
	out := make([]int, len(s))
	for i, v := range s {
		out[i] = v.slot
	}
	return out
}

func (h *HNSW) insertLocked(id string, vector []float64) error {
	if h.dim == 0 {
		h.dim = len(vector)
	} else if len(vector) != h.dim {
		return vcerr.DimensionMismatchf(h.dim, len(vector))
	}

	slot := h.slots.assign(id)
	stored := make([]float64, len(vector))
	copy(stored, vector)
	level := h.randomLevel()
	node := &hnswNode{slot: slot, vector: stored, level: level, neighbors: make([][]int, level+1)}
	for i := range node.neighbors {
		node.neighbors[i] = nil
	}
	h.nodes = append(h.nodes, node)

	if h.entryPoint == -1 {
		h.entryPoint = slot
		h.maxLayer = level
		return nil
	}

	entry := []int{h.entryPoint}
	for layer := h.maxLayer; layer > level; layer-- {
		found := h.searchLayer(stored, entry, 1, layer)
		if len(found) > 0 {
			entry = []int{found[0].slot}
		}
	}

	for layer := min(level, h.maxLayer); layer >= 0; layer-- {
		found := h.searchLayer(stored, entry, h.efConstruction, layer)
		limit := h.m
		if layer == 0 {
			limit = h.m0
		}
		chosen := h.selectNeighbors(found, limit)
		h.connect(slot, layer, chosen)
		entry = sliceSlots(found)
		if len(entry) == 0 {
			entry = []int{slot}
		}
	}

	if level > h.maxLayer {
		h.maxLayer = level
		h.entryPoint = slot
	}
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (h *HNSW) Build(ids []string, vectors [][]float64) error {
	if len(ids) != len(vectors) {
		return vcerr.InvalidConfigurationf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, id := range ids {
		if err := h.insertLocked(id, vectors[i]); err != nil {
			return err
		}
	}
	h.life.markReady()
	return nil
}

func (h *HNSW) Insert(id string, vector []float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.insertLocked(id, vector); err != nil {
		return err
	}
	h.life.markReady()
	return nil
}

// Update rewrites the vector stored at id's existing slot and re-runs
// neighbor selection at every layer the node participates in, so the
// id and its slot never change across an update.
func (h *HNSW) Update(id string, vector []float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.life.checkReady(); err != nil {
		return err
	}
	slot, ok := h.slots.slotFor(id)
	if !ok {
		return vcerr.NotFoundf(id)
	}
	if len(vector) != h.dim {
		return vcerr.DimensionMismatchf(h.dim, len(vector))
	}

	node := h.nodes[slot]
	stored := make([]float64, len(vector))
	copy(stored, vector)
	node.vector = stored

	entry := []int{h.entryPoint}
	for layer := h.maxLayer; layer > node.level; layer-- {
		found := h.searchLayer(stored, entry, 1, layer)
		if len(found) > 0 {
			entry = []int{found[0].slot}
		}
	}
	for layer := min(node.level, h.maxLayer); layer >= 0; layer-- {
		found := h.searchLayer(stored, entry, h.efConstruction, layer)
		limit := h.m
		if layer == 0 {
			limit = h.m0
		}
		filtered := found[:0:0]
		for _, c := range found {
			if c.slot != slot {
				filtered = append(filtered, c)
			}
		}
		chosen := h.selectNeighbors(filtered, limit)
		node.neighbors[layer] = nil
		h.connect(slot, layer, chosen)
		entry = sliceSlots(filtered)
		if len(entry) == 0 {
			entry = []int{slot}
		}
	}
	return nil
}

// Delete tombstones id's slot. The node stays in the graph as a
// traversal waypoint for its surviving neighbors, but is skipped by
// search results and by future neighbor selection; if it was the entry
// point, a new live node at the highest surviving layer takes over.
func (h *HNSW) Delete(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.life.checkReady(); err != nil {
		return err
	}
	slot, ok := h.slots.slotFor(id)
	if !ok {
		return vcerr.NotFoundf(id)
	}
	h.slots.delete(id)

	if h.entryPoint == slot {
		h.entryPoint = -1
		h.maxLayer = -1
		for s, n := range h.nodes {
			if h.slots.isLive(s) && n.level > h.maxLayer {
				h.maxLayer = n.level
				h.entryPoint = s
			}
		}
	}
	return nil
}

func (h *HNSW) Search(query []float64, k int) ([]Result, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.searchWithEf(query, k, h.efSearch)
}

func (h *HNSW) searchWithEf(query []float64, k, ef int) ([]Result, error) {
	if err := h.life.checkReady(); err != nil {
		return nil, err
	}
	if h.slots.liveCount() == 0 {
		return []Result{}, nil
	}
	if len(query) != h.dim {
		return nil, vcerr.DimensionMismatchf(h.dim, len(query))
	}
	if k <= 0 {
		return nil, vcerr.InvalidConfigurationf("k must be positive, got %d", k)
	}
	if h.entryPoint == -1 {
		return []Result{}, nil
	}

	entry := []int{h.entryPoint}
	for layer := h.maxLayer; layer > 0; layer-- {
		found := h.searchLayer(query, entry, 1, layer)
		if len(found) > 0 {
			entry = []int{found[0].slot}
		}
	}
	useEf := ef
	if useEf < k {
		useEf = k
	}
	found := h.searchLayer(query, entry, useEf, 0)
	if len(found) > k {
		found = found[:k]
	}
	results := make([]Result, len(found))
	for i, c := range found {
		id, _ := h.slots.idFor(c.slot)
		results[i] = Result{ID: id, Distance: c.dist}
	}
	return results, nil
}

func (h *HNSW) BatchSearch(queries [][]float64, k int) ([][]Result, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([][]Result, len(queries))
	var g errgroup.Group
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			r, err := h.searchWithEf(q, k, h.efSearch)
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

func (h *HNSW) BatchUpdate(ids []string, vectors [][]float64) ([]bool, error) {
	if len(ids) != len(vectors) {
		return nil, vcerr.InvalidConfigurationf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	ok := make([]bool, len(ids))
	for i, id := range ids {
		ok[i] = h.Update(id, vectors[i]) == nil
	}
	return ok, nil
}

func (h *HNSW) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	perLayer := make(map[int]int)
	for slot, n := range h.nodes {
		if h.slots.isLive(slot) {
			for l := 0; l <= n.level; l++ {
				perLayer[l]++
			}
		}
	}
	return Stats{
		Count:     h.slots.liveCount(),
		Dimension: h.dim,
		Extra: map[string]interface{}{
			"m":               h.m,
			"m0":              h.m0,
			"ef_construction": h.efConstruction,
			"ef_search":       h.efSearch,
			"max_layer":       h.maxLayer,
			"nodes_per_layer": perLayer,
			"metric":          string(h.metricCfg),
		},
	}
}

func (h *HNSW) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.life.close()
	return nil
}
