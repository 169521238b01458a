// Package storage implements the three interchangeable record-store
// backends: MemoryStorage, DiskStorage, and HybridStorage (a write-through
// LRU cache in front of DiskStorage). All three share the Storage
// interface and the single-writer/many-reader concurrency discipline.
package storage

import "github.com/vcore-db/vcore/pkg/vcerr"

// Metadata is the optional key-value payload stored beside a vector.
type Metadata map[string]interface{}

// Page is one page of a cursor-paginated id enumeration.
type Page struct {
	IDs        []string
	NextCursor string
	HasMore    bool
}

// Stats reports backend-specific counters; Extra carries fields that
// don't apply to every backend (cache hit rate, disk byte counts).
type Stats struct {
	Count       int
	ApproxBytes int64
	Extra       map[string]interface{}
}

// Storage is the contract shared by every backend. All writes defensively
// copy their input; Retrieve returns a freshly owned vector the caller
// may mutate without affecting stored state.
type Storage interface {
	Initialize() error

	// Store persists (id, vector, metadata), overwriting any existing
	// record with the same id.
	Store(id string, vector []float64, metadata Metadata) error

	// Retrieve returns the vector and metadata for id, and false if no
	// such record exists.
	Retrieve(id string) ([]float64, Metadata, bool, error)

	// Update changes vector and/or metadata for an existing record.
	// updateVector/updateMetadata select which fields to apply; a
	// metadata update with a nil map deletes the metadata sidecar.
	// Returns whether the record existed.
	Update(id string, vector []float64, metadata Metadata, updateVector, updateMetadata bool) (bool, error)

	// Delete removes a record, returning whether it existed.
	Delete(id string) (bool, error)

	// List returns up to limit ids in ascending lexicographic order; a
	// non-positive limit means no bound.
	List(limit int) ([]string, error)

	// ListPaginated returns up to pageSize ids starting after cursor. A
	// stale cursor (an id no longer present) restarts from the
	// beginning. pageSize must be positive.
	ListPaginated(pageSize int, cursor string) (Page, error)

	// StreamIDs returns a channel yielding every live id once, closed
	// when enumeration completes.
	StreamIDs() (<-chan string, error)

	Stats() (Stats, error)

	Close() error
}

func errNotInitialized() error {
	return vcerr.New(vcerr.NotInitialized, "storage backend has not been initialized")
}

func errAlreadyClosed() error {
	return vcerr.New(vcerr.AlreadyClosed, "storage backend is already closed")
}

func copyVector(v []float64) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	copy(out, v)
	return out
}

func copyMetadata(m Metadata) Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
