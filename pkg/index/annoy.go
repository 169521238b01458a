package index

import (
	"math/rand"
	"sort"
	"sync"

	"github.com/vcore-db/vcore/pkg/metric"
	"github.com/vcore-db/vcore/pkg/vcerr"
)

// AnnoyConfig configures a forest of random-projection trees. NumTrees
// controls recall (more trees, more independent partitions of the
// space to union over); MaxLeafSize bounds how many vectors a leaf may
// hold before it is split again.
type AnnoyConfig struct {
	NumTrees    int
	MaxLeafSize int
	Metric      metric.Metric
	RandomSeed  int64
}

func DefaultAnnoyConfig() AnnoyConfig {
	return AnnoyConfig{
		NumTrees:    10,
		MaxLeafSize: 16,
		Metric:      metric.Euclidean,
		RandomSeed:  42,
	}
}

func (c AnnoyConfig) validate() error {
	if c.NumTrees <= 0 {
		return vcerr.InvalidConfigurationf("num_trees must be positive, got %d", c.NumTrees)
	}
	if c.MaxLeafSize <= 0 {
		return vcerr.InvalidConfigurationf("max_leaf_size must be positive, got %d", c.MaxLeafSize)
	}
	return nil
}

// annoyNode is either an internal split (normal/offset define a
// hyperplane through the midpoint of two sampled points) or a leaf
// holding slots directly.
type annoyNode struct {
	isLeaf bool
	leaf   []int
	normal []float64
	offset float64
	left   *annoyNode
	right  *annoyNode
}

// Annoy is a forest of binary trees, each built by repeatedly splitting
// a set of points with a random hyperplane through two randomly chosen
// points, down to leaves of at most MaxLeafSize. Build constructs the
// forest once over the initial vector set. Every insert after that goes
// into a pending list instead of being woven into the trees; a search
// descends every tree for its leaf's contents and additionally scans
// the entire pending list exactly, so recently inserted vectors are
// never missed even before the next full rebuild.
type Annoy struct {
	mu        sync.RWMutex
	life      lifecycle
	dim       int
	distFunc  metric.Func
	metricCfg metric.Metric

	numTrees    int
	maxLeafSize int
	rng         *rand.Rand
	trees       []*annoyNode

	slots   *slotTable
	vectors [][]float64
	pending []int // slots inserted since the last Build, awaiting a rebuild
}

func NewAnnoy(cfg AnnoyConfig) (*Annoy, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	distFunc, err := metric.Resolve(cfg.Metric)
	if err != nil {
		return nil, err
	}
	return &Annoy{
		distFunc:    distFunc,
		metricCfg:   cfg.Metric,
		numTrees:    cfg.NumTrees,
		maxLeafSize: cfg.MaxLeafSize,
		rng:         rand.New(rand.NewSource(cfg.RandomSeed)),
		slots:       newSlotTable(),
	}, nil
}

func (a *Annoy) buildTree(slots []int) *annoyNode {
	if len(slots) <= a.maxLeafSize {
		leaf := make([]int, len(slots))
		copy(leaf, slots)
		return &annoyNode{isLeaf: true, leaf: leaf}
	}

	p1 := a.vectors[slots[a.rng.Intn(len(slots))]]
	p2 := a.vectors[slots[a.rng.Intn(len(slots))]]
	normal := make([]float64, a.dim)
	midpoint := make([]float64, a.dim)
	for d := 0; d < a.dim; d++ {
		normal[d] = p1[d] - p2[d]
		midpoint[d] = (p1[d] + p2[d]) / 2
	}
	var offset float64
	for d := 0; d < a.dim; d++ {
		offset += normal[d] * midpoint[d]
	}

	var left, right []int
	for _, slot := range slots {
		if a.side(normal, offset, a.vectors[slot]) {
			left = append(left, slot)
		} else {
			right = append(right, slot)
		}
	}
	// A degenerate split (all points fall the same side, e.g. two
	// identical sampled points) stops here as a leaf rather than
	// recursing forever.
	if len(left) == 0 || len(right) == 0 {
		leaf := make([]int, len(slots))
		copy(leaf, slots)
		return &annoyNode{isLeaf: true, leaf: leaf}
	}

	return &annoyNode{
		normal: normal,
		offset: offset,
		left:   a.buildTree(left),
		right:  a.buildTree(right),
	}
}

func (a *Annoy) side(normal []float64, offset float64, vector []float64) bool {
	var dot float64
	for d, n := range normal {
		dot += n * vector[d]
	}
	return dot >= offset
}

// Build (re)constructs the forest from every live vector, folding in
// anything that had been sitting in the pending list.
func (a *Annoy) Build(ids []string, vectors [][]float64) error {
	if len(ids) != len(vectors) {
		return vcerr.InvalidConfigurationf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, id := range ids {
		if err := a.addVectorLocked(id, vectors[i]); err != nil {
			return err
		}
	}
	a.rebuildLocked()
	a.life.markReady()
	return nil
}

func (a *Annoy) addVectorLocked(id string, vector []float64) error {
	if a.dim == 0 {
		a.dim = len(vector)
	} else if len(vector) != a.dim {
		return vcerr.DimensionMismatchf(a.dim, len(vector))
	}
	slot := a.slots.assign(id)
	stored := make([]float64, len(vector))
	copy(stored, vector)
	if slot < len(a.vectors) {
		a.vectors[slot] = stored
	} else {
		a.vectors = append(a.vectors, stored)
	}
	a.pending = append(a.pending, slot)
	return nil
}

func (a *Annoy) rebuildLocked() {
	live := make([]int, 0, a.slots.liveCount())
	for slot := range a.vectors {
		if a.slots.isLive(slot) {
			live = append(live, slot)
		}
	}
	a.trees = make([]*annoyNode, a.numTrees)
	for t := 0; t < a.numTrees; t++ {
		if len(live) == 0 {
			a.trees[t] = &annoyNode{isLeaf: true}
			continue
		}
		a.trees[t] = a.buildTree(live)
	}
	a.pending = nil
}

// Insert adds a vector to the pending list without touching the forest;
// call Build or Rebuild to fold pending inserts into fresh trees. The
// one exception is an insert while no forest exists yet: the forest is
// then built at once, so that first vector is tree-resident, not pending.
func (a *Annoy) Insert(id string, vector []float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.addVectorLocked(id, vector); err != nil {
		return err
	}
	if len(a.trees) == 0 {
		a.rebuildLocked()
	}
	a.life.markReady()
	return nil
}

func (a *Annoy) Update(id string, vector []float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.life.checkReady(); err != nil {
		return err
	}
	slot, ok := a.slots.slotFor(id)
	if !ok {
		return vcerr.NotFoundf(id)
	}
	if len(vector) != a.dim {
		return vcerr.DimensionMismatchf(a.dim, len(vector))
	}
	stored := make([]float64, len(vector))
	copy(stored, vector)
	a.vectors[slot] = stored
	if !a.isPending(slot) {
		a.pending = append(a.pending, slot)
	}
	return nil
}

func (a *Annoy) isPending(slot int) bool {
	for _, s := range a.pending {
		if s == slot {
			return true
		}
	}
	return false
}

// Delete removes a pending item in place (it was never woven into a
// tree) or tombstones a flushed one, so the trees keep the slot as an
// inert traversal waypoint until the next Build.
func (a *Annoy) Delete(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.life.checkReady(); err != nil {
		return err
	}
	slot, ok := a.slots.slotFor(id)
	if !ok {
		return vcerr.NotFoundf(id)
	}
	a.slots.delete(id)
	for i, s := range a.pending {
		if s == slot {
			a.pending = append(a.pending[:i], a.pending[i+1:]...)
			break
		}
	}
	return nil
}

func (a *Annoy) collectLeaf(node *annoyNode, query []float64, seen map[int]bool, out *[]int) {
	if node == nil {
		return
	}
	if node.isLeaf {
		for _, slot := range node.leaf {
			if !seen[slot] && a.slots.isLive(slot) {
				seen[slot] = true
				*out = append(*out, slot)
			}
		}
		return
	}
	if a.side(node.normal, node.offset, query) {
		a.collectLeaf(node.left, query, seen, out)
	} else {
		a.collectLeaf(node.right, query, seen, out)
	}
}

func (a *Annoy) searchLocked(query []float64, k int) ([]Result, error) {
	if err := a.life.checkReady(); err != nil {
		return nil, err
	}
	if a.slots.liveCount() == 0 {
		return []Result{}, nil
	}
	if len(query) != a.dim {
		return nil, vcerr.DimensionMismatchf(a.dim, len(query))
	}
	if k <= 0 {
		return nil, vcerr.InvalidConfigurationf("k must be positive, got %d", k)
	}

	seen := make(map[int]bool)
	var candidates []int
	for _, tree := range a.trees {
		a.collectLeaf(tree, query, seen, &candidates)
	}
	// Pending items are always exactly re-ranked: the forest has no
	// knowledge of them until the next Build.
	for _, slot := range a.pending {
		if !seen[slot] && a.slots.isLive(slot) {
			seen[slot] = true
			candidates = append(candidates, slot)
		}
	}

	type scored struct {
		slot int
		dist float64
	}
	scoredCandidates := make([]scored, len(candidates))
	for i, slot := range candidates {
		scoredCandidates[i] = scored{slot: slot, dist: a.distFunc(query, a.vectors[slot])}
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
		id, _ := a.slots.idFor(c.slot)
		results[i] = Result{ID: id, Distance: c.dist}
	}
	return results, nil
}

func (a *Annoy) Search(query []float64, k int) ([]Result, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.searchLocked(query, k)
}

func (a *Annoy) BatchSearch(queries [][]float64, k int) ([][]Result, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([][]Result, len(queries))
	for i, q := range queries {
		r, err := a.searchLocked(q, k)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

func (a *Annoy) BatchUpdate(ids []string, vectors [][]float64) ([]bool, error) {
	if len(ids) != len(vectors) {
		return nil, vcerr.InvalidConfigurationf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	ok := make([]bool, len(ids))
	for i, id := range ids {
		ok[i] = a.Update(id, vectors[i]) == nil
	}
	return ok, nil
}

func (a *Annoy) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Stats{
		Count:     a.slots.liveCount(),
		Dimension: a.dim,
		Extra: map[string]interface{}{
			"num_trees":     a.numTrees,
			"max_leaf_size": a.maxLeafSize,
			"pending_count": len(a.pending),
			"metric":        string(a.metricCfg),
		},
	}
}

// Rebuild explicitly folds pending inserts into fresh trees without
// requiring a full Build call with the complete vector set.
func (a *Annoy) Rebuild() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rebuildLocked()
}

func (a *Annoy) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.life.close()
	return nil
}
