// Package persistence saves and restores a client's full state — every
// stored record plus the configuration needed to reconstruct its index —
// as a small directory of files: state.json, vectors.bin, and
// index.{variant}.bin.
package persistence

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/vcore-db/vcore/pkg/config"
	"github.com/vcore-db/vcore/pkg/storage"
	"github.com/vcore-db/vcore/pkg/vcerr"
)

const (
	vectorsMagic   = "VCVB"
	vectorsVersion = 1

	flagGzip = 1 << 0

	stateFileName = "state.json"
	vectorsFile   = "vectors.bin"
	indexFilePat  = "index.%s.bin"
)

// Record is one stored vector plus its sidecar metadata, the unit
// vectors.bin is built from and restored into.
type Record struct {
	ID       string
	Vector   []float64
	Metadata storage.Metadata
}

// Meta is the top-level description written to state.json. It carries
// enough of the configuration surface to reconstruct both the storage
// backend and the index on restore.
type Meta struct {
	Dimensions int              `json:"dimensions"`
	Metric     string           `json:"metric"`
	Variant    config.IndexVariant `json:"index_variant"`
	Index      config.IndexConfig `json:"index_config"`
	RecordCount int             `json:"record_count"`
	Gzip        bool            `json:"gzip"`
	SavedAt     time.Time       `json:"saved_at"`
}

// Save writes state.json, vectors.bin, and index.{variant}.bin into dir,
// creating it if necessary. now is the timestamp stamped into state.json
// (passed in rather than read internally so callers control it).
func Save(dir string, meta Meta, records []Record, now time.Time) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return vcerr.Wrap(vcerr.IOFailure, "create snapshot directory", err)
	}

	meta.RecordCount = len(records)
	meta.SavedAt = now

	if err := writeState(dir, meta); err != nil {
		return err
	}
	if err := writeVectors(dir, meta, records); err != nil {
		return err
	}
	if err := writeIndexConfig(dir, meta); err != nil {
		return err
	}
	return nil
}

// Load reads a snapshot directory written by Save. A missing or corrupt
// vectors.bin is reported via the returned error's Kind (NotFound or
// CorruptSnapshot); callers that want best-effort "start empty" behavior
// should inspect the Kind and fall back themselves.
func Load(dir string) (Meta, []Record, error) {
	meta, err := readState(dir)
	if err != nil {
		return Meta{}, nil, err
	}
	records, err := readVectors(dir, meta)
	if err != nil {
		return meta, nil, err
	}
	return meta, records, nil
}

func writeState(dir string, meta Meta) error {
	f, err := os.Create(filepath.Join(dir, stateFileName))
	if err != nil {
		return vcerr.Wrap(vcerr.IOFailure, "create state.json", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return vcerr.Wrap(vcerr.IOFailure, "write state.json", err)
	}
	return nil
}

func readState(dir string) (Meta, error) {
	data, err := os.ReadFile(filepath.Join(dir, stateFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return Meta{}, vcerr.Wrap(vcerr.NotFound, "state.json not found", err)
		}
		return Meta{}, vcerr.Wrap(vcerr.IOFailure, "read state.json", err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, vcerr.Wrap(vcerr.CorruptSnapshot, "state.json is not valid JSON", err)
	}
	return meta, nil
}

// writeVectors encodes records in the self-describing little-endian
// layout: magic, version, flags, count, dim, each record's id/vector/
// metadata, then a trailing crc32 over everything since the magic.
func writeVectors(dir string, meta Meta, records []Record) error {
	var body bytes.Buffer
	if err := encodeVectorsBody(&body, meta, records); err != nil {
		return err
	}

	final := body.Bytes()
	if meta.Gzip {
		var gzBody bytes.Buffer
		gz := gzip.NewWriter(&gzBody)
		if _, err := gz.Write(body.Bytes()); err != nil {
			return vcerr.Wrap(vcerr.IOFailure, "gzip vectors.bin body", err)
		}
		if err := gz.Close(); err != nil {
			return vcerr.Wrap(vcerr.IOFailure, "flush vectors.bin gzip stream", err)
		}
		final = gzBody.Bytes()
	}
	sum := crc32.ChecksumIEEE(final)

	f, err := os.Create(filepath.Join(dir, vectorsFile))
	if err != nil {
		return vcerr.Wrap(vcerr.IOFailure, "create vectors.bin", err)
	}
	defer f.Close()

	if _, err := f.Write(final); err != nil {
		return vcerr.Wrap(vcerr.IOFailure, "write vectors.bin body", err)
	}
	if err := binary.Write(f, binary.LittleEndian, sum); err != nil {
		return vcerr.Wrap(vcerr.IOFailure, "write vectors.bin checksum", err)
	}
	return nil
}

func encodeVectorsBody(body *bytes.Buffer, meta Meta, records []Record) error {
	body.WriteString(vectorsMagic)
	binary.Write(body, binary.LittleEndian, uint8(vectorsVersion))

	var flags uint8
	if meta.Gzip {
		flags |= flagGzip
	}
	binary.Write(body, binary.LittleEndian, flags)
	binary.Write(body, binary.LittleEndian, uint32(len(records)))
	binary.Write(body, binary.LittleEndian, uint32(meta.Dimensions))

	for _, r := range records {
		idBytes := []byte(r.ID)
		binary.Write(body, binary.LittleEndian, uint16(len(idBytes)))
		body.Write(idBytes)

		for _, v := range r.Vector {
			binary.Write(body, binary.LittleEndian, v)
		}

		var metaBytes []byte
		if r.Metadata != nil {
			mb, err := json.Marshal(r.Metadata)
			if err != nil {
				return vcerr.Wrap(vcerr.InvalidMetadata, "encode record metadata", err)
			}
			metaBytes = mb
		}
		binary.Write(body, binary.LittleEndian, uint32(len(metaBytes)))
		body.Write(metaBytes)
	}
	return nil
}

// readVectors decodes vectors.bin, reporting CorruptSnapshot on a magic,
// length, or checksum mismatch.
func readVectors(dir string, meta Meta) ([]Record, error) {
	raw, err := os.ReadFile(filepath.Join(dir, vectorsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, vcerr.Wrap(vcerr.NotFound, "vectors.bin not found", err)
		}
		return nil, vcerr.Wrap(vcerr.IOFailure, "read vectors.bin", err)
	}

	if len(raw) < 4 {
		return nil, vcerr.New(vcerr.CorruptSnapshot, "vectors.bin too short for checksum trailer")
	}
	body, trailer := raw[:len(raw)-4], raw[len(raw)-4:]
	want := binary.LittleEndian.Uint32(trailer)
	got := crc32.ChecksumIEEE(body)
	if want != got {
		return nil, vcerr.New(vcerr.CorruptSnapshot, "vectors.bin checksum mismatch")
	}

	if meta.Gzip {
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, vcerr.Wrap(vcerr.CorruptSnapshot, "vectors.bin is not valid gzip", err)
		}
		body, err = io.ReadAll(gz)
		if err != nil {
			return nil, vcerr.Wrap(vcerr.CorruptSnapshot, "vectors.bin gzip stream truncated", err)
		}
	}

	return decodeVectorsBody(body)
}

func decodeVectorsBody(body []byte) ([]Record, error) {
	r := bytes.NewReader(body)

	magic := make([]byte, len(vectorsMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != vectorsMagic {
		return nil, vcerr.New(vcerr.CorruptSnapshot, "vectors.bin has an invalid magic header")
	}

	var version, flags uint8
	var count, dim uint32
	for _, dst := range []interface{}{&version, &flags, &count, &dim} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return nil, vcerr.Wrap(vcerr.CorruptSnapshot, "vectors.bin header truncated", err)
		}
	}
	if version != vectorsVersion {
		return nil, vcerr.New(vcerr.CorruptSnapshot, "vectors.bin has an unsupported version")
	}

	records := make([]Record, 0, count)
	for i := uint32(0); i < count; i++ {
		rec, err := decodeRecord(r, int(dim))
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeRecord(r *bytes.Reader, dim int) (Record, error) {
	var idLen uint16
	if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
		return Record{}, vcerr.Wrap(vcerr.CorruptSnapshot, "vectors.bin record id length truncated", err)
	}
	idBytes := make([]byte, idLen)
	if _, err := io.ReadFull(r, idBytes); err != nil {
		return Record{}, vcerr.Wrap(vcerr.CorruptSnapshot, "vectors.bin record id truncated", err)
	}

	vector := make([]float64, dim)
	for i := range vector {
		if err := binary.Read(r, binary.LittleEndian, &vector[i]); err != nil {
			return Record{}, vcerr.Wrap(vcerr.CorruptSnapshot, "vectors.bin record vector truncated", err)
		}
	}

	var metaLen uint32
	if err := binary.Read(r, binary.LittleEndian, &metaLen); err != nil {
		return Record{}, vcerr.Wrap(vcerr.CorruptSnapshot, "vectors.bin record metadata length truncated", err)
	}
	var metadata storage.Metadata
	if metaLen > 0 {
		metaBytes := make([]byte, metaLen)
		if _, err := io.ReadFull(r, metaBytes); err != nil {
			return Record{}, vcerr.Wrap(vcerr.CorruptSnapshot, "vectors.bin record metadata truncated", err)
		}
		if err := json.Unmarshal(metaBytes, &metadata); err != nil {
			return Record{}, vcerr.Wrap(vcerr.CorruptSnapshot, "vectors.bin record metadata is not valid JSON", err)
		}
	}

	return Record{ID: string(idBytes), Vector: vector, Metadata: metadata}, nil
}

// writeIndexConfig writes the opaque index.{variant}.bin artifact. It
// carries the exact build parameters (not the graph/tree/posting-list
// internals) because every index variant's Build is deterministic given
// its config and insertion order: restoring means constructing a fresh
// index from this config and replaying vectors.bin through Build, rather
// than byte-for-byte reviving internal layout that would otherwise drift
// across versions of the index implementation.
func writeIndexConfig(dir string, meta Meta) error {
	path := filepath.Join(dir, indexFileName(meta.Variant))
	f, err := os.Create(path)
	if err != nil {
		return vcerr.Wrap(vcerr.IOFailure, "create index snapshot file", err)
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(meta.Index); err != nil {
		return vcerr.Wrap(vcerr.IOFailure, "encode index snapshot", err)
	}
	return nil
}

// ReadIndexConfig reads back the opaque index.{variant}.bin artifact
// written by Save, independent of state.json (used when a caller only
// has the variant name, not a full Meta, on hand).
func ReadIndexConfig(dir string, variant config.IndexVariant) (config.IndexConfig, error) {
	path := filepath.Join(dir, indexFileName(variant))
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config.IndexConfig{}, vcerr.Wrap(vcerr.NotFound, "index snapshot file not found", err)
		}
		return config.IndexConfig{}, vcerr.Wrap(vcerr.IOFailure, "open index snapshot file", err)
	}
	defer f.Close()

	var cfg config.IndexConfig
	if err := gob.NewDecoder(f).Decode(&cfg); err != nil {
		return config.IndexConfig{}, vcerr.Wrap(vcerr.CorruptSnapshot, "index snapshot file is not valid gob", err)
	}
	return cfg, nil
}

func indexFileName(variant config.IndexVariant) string {
	name := string(variant)
	if name == "" {
		name = "unknown"
	}
	return fmt.Sprintf(indexFilePat, name)
}
