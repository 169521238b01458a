// Package index implements the five ANN strategies — Flat, HNSW, IVF,
// LSH, and Annoy — behind one shared Index interface, so the facade holds
// exactly one index value chosen at construction.
package index

import (
	"sync/atomic"

	"github.com/vcore-db/vcore/pkg/vcerr"
)

// Result is one ranked hit: a stored id and its distance from the query
// under the index's configured metric.
type Result struct {
	ID       string
	Distance float64
}

// Index is the capability set every variant implements. Insert/Update/
// Delete/Search take the index's internal write or read lock; Build is
// the bulk-load path used before any incremental insert.
type Index interface {
	Build(ids []string, vectors [][]float64) error
	Insert(id string, vector []float64) error
	Update(id string, vector []float64) error
	Delete(id string) error
	Search(query []float64, k int) ([]Result, error)
	BatchSearch(queries [][]float64, k int) ([][]Result, error)
	BatchUpdate(ids []string, vectors [][]float64) ([]bool, error)
	Stats() Stats

	// Close transitions the index to Closed. Idempotent.
	Close() error
}

// Stats reports index-specific counters; Extra carries fields particular
// to one variant (graph layer counts, posting-list sizes, tree depth).
type Stats struct {
	Count     int
	Dimension int
	Extra     map[string]interface{}
}

// state implements the shared {Uninitialized -> Ready -> Closed} machine.
// build or the first insert moves Uninitialized -> Ready; Search, Update
// and Delete fail while Uninitialized or Closed. Build and Insert do not
// check the state: on a Closed index they still store the vector and the
// index stays Closed.
type state int32

const (
	stateUninitialized state = iota
	stateReady
	stateClosed
)

type lifecycle struct {
	s atomic.Int32
}

func (l *lifecycle) get() state { return state(l.s.Load()) }

func (l *lifecycle) markReady() {
	l.s.CompareAndSwap(int32(stateUninitialized), int32(stateReady))
}

// close transitions Ready -> Closed and reports whether this call did
// the transition (false if already closed).
func (l *lifecycle) close() bool {
	return l.s.CompareAndSwap(int32(stateReady), int32(stateClosed)) ||
		l.s.CompareAndSwap(int32(stateUninitialized), int32(stateClosed))
}

func (l *lifecycle) checkReady() error {
	switch l.get() {
	case stateClosed:
		return vcerr.New(vcerr.AlreadyClosed, "index is closed")
	case stateUninitialized:
		return vcerr.New(vcerr.IndexNotReady, "index has not been built or inserted into yet")
	default:
		return nil
	}
}

// slotTable tracks the monotonic integer slot assigned to each id at
// insertion, and the reverse mapping used to materialize results and to
// break distance ties by ascending slot id. Deletion tombstones a slot
// rather than reclaiming it; re-insertion of the same id mints a new
// slot.
type slotTable struct {
	idToSlot   map[string]int
	slotToID   []string
	tombstoned []bool
	next       int
}

func newSlotTable() *slotTable {
	return &slotTable{idToSlot: make(map[string]int)}
}

// assign mints a new slot for id, tombstoning any previous slot that id
// held: re-inserting an existing id is an update-by-delete-then-reinsert
// that issues a fresh slot rather than reusing the old one.
func (t *slotTable) assign(id string) int {
	if prevSlot, ok := t.idToSlot[id]; ok {
		t.tombstoned[prevSlot] = true
	}
	slot := t.next
	t.next++
	t.idToSlot[id] = slot
	t.slotToID = append(t.slotToID, id)
	t.tombstoned = append(t.tombstoned, false)
	return slot
}

func (t *slotTable) slotFor(id string) (int, bool) {
	slot, ok := t.idToSlot[id]
	if !ok || t.tombstoned[slot] {
		return 0, false
	}
	return slot, true
}

func (t *slotTable) idFor(slot int) (string, bool) {
	if slot < 0 || slot >= len(t.slotToID) || t.tombstoned[slot] {
		return "", false
	}
	return t.slotToID[slot], true
}

func (t *slotTable) isLive(slot int) bool {
	return slot >= 0 && slot < len(t.tombstoned) && !t.tombstoned[slot]
}

// delete marks id's current slot deleted and forgets the id -> slot
// binding (so a future re-insert mints a fresh slot). Reports whether id
// had a live slot.
func (t *slotTable) delete(id string) bool {
	slot, ok := t.idToSlot[id]
	if !ok || t.tombstoned[slot] {
		return false
	}
	t.tombstoned[slot] = true
	delete(t.idToSlot, id)
	return true
}

func (t *slotTable) liveCount() int {
	n := 0
	for _, dead := range t.tombstoned {
		if !dead {
			n++
		}
	}
	return n
}

var (
	_ Index = (*Flat)(nil)
	_ Index = (*HNSW)(nil)
	_ Index = (*IVF)(nil)
	_ Index = (*LSH)(nil)
	_ Index = (*Annoy)(nil)
)
