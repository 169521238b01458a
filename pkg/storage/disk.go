package storage

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"github.com/vcore-db/vcore/pkg/vcerr"
)

var sanitizeRe = regexp.MustCompile(`[^A-Za-z0-9_-]`)

func sanitizeID(id string) string {
	return sanitizeRe.ReplaceAllString(id, "_")
}

// DiskStorage persists each record as a pair of files under a root
// directory: vectors/{sanitized_id}.vec (a big-endian binary layout) and
// metadata/{sanitized_id}.json (present only when metadata is non-nil).
type DiskStorage struct {
	dataDir  string
	vecDir   string
	metaDir  string
	mu       sync.RWMutex
	lock     *flock.Flock
	closed   atomic.Bool
	initDone bool
}

// NewDiskStorage constructs an uninitialized DiskStorage rooted at
// dataDir.
func NewDiskStorage(dataDir string) *DiskStorage {
	return &DiskStorage{
		dataDir: dataDir,
		vecDir:  filepath.Join(dataDir, "vectors"),
		metaDir: filepath.Join(dataDir, "metadata"),
	}
}

// Initialize creates the directory tree, takes an OS-level advisory lock
// on the data directory so a second process instance cannot also claim
// it, and is otherwise a no-op (the record count is derived on demand by
// listing the vectors directory).
func (s *DiskStorage) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.vecDir, 0o755); err != nil {
		return vcerr.Wrap(vcerr.IOFailure, "creating vectors directory", err)
	}
	if err := os.MkdirAll(s.metaDir, 0o755); err != nil {
		return vcerr.Wrap(vcerr.IOFailure, "creating metadata directory", err)
	}

	lock := flock.New(filepath.Join(s.dataDir, ".vcore.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return vcerr.Wrap(vcerr.IOFailure, "acquiring data directory lock", err)
	}
	if !ok {
		return vcerr.New(vcerr.IOFailure, "data directory is already locked by another instance")
	}
	s.lock = lock
	s.initDone = true
	return nil
}

func (s *DiskStorage) checkReady() error {
	if s.closed.Load() {
		return errAlreadyClosed()
	}
	if !s.initDone {
		return errNotInitialized()
	}
	return nil
}

func (s *DiskStorage) vecPath(sanitized string) string {
	return filepath.Join(s.vecDir, sanitized+".vec")
}

func (s *DiskStorage) metaPath(sanitized string) string {
	return filepath.Join(s.metaDir, sanitized+".json")
}

func encodeVectorFile(vector []float64) []byte {
	buf := make([]byte, 4+len(vector)*8)
	binary.BigEndian.PutUint32(buf[0:4], uint32(int32(len(vector))))
	for i, x := range vector {
		binary.BigEndian.PutUint64(buf[4+i*8:], math.Float64bits(x))
	}
	return buf
}

func decodeVectorFile(data []byte) ([]float64, error) {
	if len(data) < 4 {
		return nil, vcerr.New(vcerr.CorruptRecord, "vector file shorter than header")
	}
	dim := int(int32(binary.BigEndian.Uint32(data[0:4])))
	if dim < 0 || 4+dim*8 != len(data) {
		return nil, vcerr.New(vcerr.CorruptRecord, "vector file length does not match declared dimension")
	}
	vector := make([]float64, dim)
	for i := range vector {
		bits := binary.BigEndian.Uint64(data[4+i*8:])
		vector[i] = math.Float64frombits(bits)
	}
	return vector, nil
}

func (s *DiskStorage) writeVectorFile(sanitized string, vector []float64) error {
	if err := os.WriteFile(s.vecPath(sanitized), encodeVectorFile(vector), 0o644); err != nil {
		return vcerr.Wrap(vcerr.IOFailure, "writing vector file", err)
	}
	return nil
}

func (s *DiskStorage) writeMetadataFile(sanitized string, metadata Metadata) error {
	if metadata == nil {
		if err := os.Remove(s.metaPath(sanitized)); err != nil && !os.IsNotExist(err) {
			return vcerr.Wrap(vcerr.IOFailure, "removing metadata file", err)
		}
		return nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return vcerr.Wrap(vcerr.InvalidMetadata, "marshaling metadata", err)
	}
	if err := os.WriteFile(s.metaPath(sanitized), data, 0o644); err != nil {
		return vcerr.Wrap(vcerr.IOFailure, "writing metadata file", err)
	}
	return nil
}

func (s *DiskStorage) readMetadataFile(sanitized string) (Metadata, error) {
	data, err := os.ReadFile(s.metaPath(sanitized))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, vcerr.Wrap(vcerr.IOFailure, "reading metadata file", err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, vcerr.Wrap(vcerr.CorruptRecord, "parsing metadata file", err)
	}
	return m, nil
}

func (s *DiskStorage) Store(id string, vector []float64, metadata Metadata) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sanitized := sanitizeID(id)
	if err := s.writeVectorFile(sanitized, vector); err != nil {
		return err
	}
	return s.writeMetadataFile(sanitized, metadata)
}

func (s *DiskStorage) Retrieve(id string) ([]float64, Metadata, bool, error) {
	if err := s.checkReady(); err != nil {
		return nil, nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sanitized := sanitizeID(id)
	data, err := os.ReadFile(s.vecPath(sanitized))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, false, nil
		}
		return nil, nil, false, vcerr.Wrap(vcerr.IOFailure, "reading vector file", err)
	}
	vector, err := decodeVectorFile(data)
	if err != nil {
		return nil, nil, false, err
	}
	metadata, err := s.readMetadataFile(sanitized)
	if err != nil {
		return nil, nil, false, err
	}
	return vector, metadata, true, nil
}

func (s *DiskStorage) Update(id string, vector []float64, metadata Metadata, updateVector, updateMetadata bool) (bool, error) {
	if err := s.checkReady(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sanitized := sanitizeID(id)
	if _, err := os.Stat(s.vecPath(sanitized)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, vcerr.Wrap(vcerr.IOFailure, "checking vector file", err)
	}

	if updateVector {
		if err := s.writeVectorFile(sanitized, vector); err != nil {
			return false, err
		}
	}
	if updateMetadata {
		if err := s.writeMetadataFile(sanitized, metadata); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (s *DiskStorage) Delete(id string) (bool, error) {
	if err := s.checkReady(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sanitized := sanitizeID(id)
	if _, err := os.Stat(s.vecPath(sanitized)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, vcerr.Wrap(vcerr.IOFailure, "checking vector file", err)
	}
	if err := os.Remove(s.vecPath(sanitized)); err != nil {
		return false, vcerr.Wrap(vcerr.IOFailure, "removing vector file", err)
	}
	if err := os.Remove(s.metaPath(sanitized)); err != nil && !os.IsNotExist(err) {
		return false, vcerr.Wrap(vcerr.IOFailure, "removing metadata file", err)
	}
	return true, nil
}

// listSanitizedIDs enumerates the vectors directory; the caller holds at
// least a read lock. Sanitized ids are returned, not original ids; the
// mapping is lossy by construction, since the on-disk filename encoding
// collapses characters outside its safe set.
func (s *DiskStorage) listSanitizedIDs() ([]string, error) {
	entries, err := os.ReadDir(s.vecDir)
	if err != nil {
		return nil, vcerr.Wrap(vcerr.IOFailure, "listing vectors directory", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		const ext = ".vec"
		if len(name) > len(ext) && name[len(name)-len(ext):] == ext {
			ids = append(ids, name[:len(name)-len(ext)])
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *DiskStorage) List(limit int) ([]string, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, err := s.listSanitizedIDs()
	if err != nil {
		return nil, err
	}
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *DiskStorage) ListPaginated(pageSize int, cursor string) (Page, error) {
	if err := s.checkReady(); err != nil {
		return Page{}, err
	}
	if pageSize <= 0 {
		return Page{}, vcerr.InvalidConfigurationf("page_size must be positive, got %d", pageSize)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, err := s.listSanitizedIDs()
	if err != nil {
		return Page{}, err
	}

	start := 0
	if cursor != "" {
		idx := sort.SearchStrings(ids, cursor)
		if idx < len(ids) && ids[idx] == cursor {
			start = idx + 1
		} else {
			start = 0
		}
	}

	end := start + pageSize
	if end > len(ids) {
		end = len(ids)
	}
	page := ids[start:end]

	result := Page{IDs: append([]string(nil), page...)}
	if end < len(ids) {
		result.HasMore = true
		result.NextCursor = page[len(page)-1]
	}
	return result, nil
}

func (s *DiskStorage) StreamIDs() (<-chan string, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	ids, err := s.listSanitizedIDs()
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	ch := make(chan string)
	go func() {
		defer close(ch)
		for _, id := range ids {
			ch <- id
		}
	}()
	return ch, nil
}

func (s *DiskStorage) Stats() (Stats, error) {
	if err := s.checkReady(); err != nil {
		return Stats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, err := s.listSanitizedIDs()
	if err != nil {
		return Stats{}, err
	}

	var approxBytes int64
	for _, id := range ids {
		if info, err := os.Stat(s.vecPath(id)); err == nil {
			approxBytes += info.Size()
		}
		if info, err := os.Stat(s.metaPath(id)); err == nil {
			approxBytes += info.Size()
		}
	}

	return Stats{
		Count:       len(ids),
		ApproxBytes: approxBytes,
	}, nil
}

func (s *DiskStorage) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
	return nil
}
