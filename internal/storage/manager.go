// Package storage implements the Storage Manager (SM): the local,
// content-addressed, per-domain JSON fallback tier described in spec §4.1.
// It backs the Control-Plane Client whenever the gateway is unreachable and
// stands in directly for the gateway in tests and offline runs.
//
// Grounded on the teacher's internal/store package for its locking
// discipline (one RWMutex guarding a handle's mutable state, §4.1 "Writes
// are atomic per record") and its zap-based constructor-injected logging
// style; the write-to-temp-then-rename primitive itself has no analogue in
// the teacher (its persistence layer is SQLite, not flat JSON files) and is
// implemented directly against the standard library — see DESIGN.md.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_:-]{1,128}$`)

// Manager is a JSON collection store rooted at a base directory. One
// Manager instance is shared by every collection in a namespace; each
// collection is a subdirectory holding one file per record.
type Manager struct {
	baseDir string
	log     *zap.Logger

	mu    sync.Mutex // guards the per-path lock table, not the files themselves
	locks map[string]*sync.Mutex
}

// DefaultBaseDir returns "~/.something-wicked/<namespace>/", the default
// root named in spec §4.1.
func DefaultBaseDir(namespace string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".something-wicked", namespace)
}

// New creates a Manager rooted at baseDir. The directory is created lazily
// on first write. A nil logger is replaced with a no-op logger.
func New(baseDir string, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		baseDir: baseDir,
		log:     log.With(zap.String("component", "storage.Manager")),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (m *Manager) collectionDir(collection string) string {
	return filepath.Join(m.baseDir, collection)
}

func (m *Manager) recordPath(collection, id string) string {
	return filepath.Join(m.collectionDir(collection), id+".json")
}

// pathLock returns (creating if needed) the mutex serializing writes to a
// single record path, replacing file-descriptor-level advisory locks with
// an explicit per-path mutex map (spec §9, "Best-effort concurrent file
// I/O").
func (m *Manager) pathLock(path string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[path]
	if !ok {
		l = &sync.Mutex{}
		m.locks[path] = l
	}
	return l
}

func validateID(id string) error {
	if !idPattern.MatchString(id) {
		return newError(KindInvalidID, "id %q does not match ^[A-Za-z0-9_:-]{1,128}$", id)
	}
	return nil
}

// record is the on-disk JSON shape; it is just a map, since fields beyond
// id/archived/deleted are source-specific (spec §3 "Record").
type record = map[string]any

func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// atomicWriteJSON serializes v and writes it to path via write-to-temp-then-
// rename, satisfying the per-record atomicity guarantee in spec §4.1.
func atomicWriteJSON(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal record: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("storage: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("storage: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("storage: rename temp file: %w", err)
	}
	return nil
}

func readRecord(path string) (record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("storage: corrupt record at %s: %w", path, err)
	}
	return r, nil
}

// Get reads one record by id, returning (nil, nil) if it does not exist.
func (m *Manager) Get(collection, id string) (record, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	path := m.recordPath(collection, id)
	r, err := readRecord(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return r, nil
}

// List returns every record in a collection whose top-level fields match
// every key/value in filter. Deleted records are excluded unless
// filter["include_deleted"] == true.
func (m *Manager) List(collection string, filter map[string]any) ([]record, error) {
	includeDeleted, _ := filter["include_deleted"].(bool)
	dir := m.collectionDir(collection)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: list %s: %w", collection, err)
	}

	var out []record
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" || name == "index.json" {
			continue
		}
		r, err := readRecord(filepath.Join(dir, name))
		if err != nil {
			m.log.Warn("skipping unreadable record", zap.String("collection", collection), zap.String("file", name), zap.Error(err))
			continue
		}
		if !includeDeleted {
			if deleted, _ := r["deleted"].(bool); deleted {
				continue
			}
		}
		if matchesFilter(r, filter) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return fmt.Sprint(out[i]["id"]) < fmt.Sprint(out[j]["id"])
	})
	return out, nil
}

func matchesFilter(r record, filter map[string]any) bool {
	for k, v := range filter {
		if k == "include_deleted" {
			continue
		}
		if fmt.Sprint(r[k]) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

// Create inserts a new record. If record["id"] is absent, one is minted
// as "<collection>_<uuid prefix>", following the teacher's short-ID
// convention (internal/campaign/decomposer.go's
// "/campaign_"+uuid.New().String()[:8]).
func (m *Manager) Create(collection string, rec record) (record, error) {
	id, _ := rec["id"].(string)
	if id == "" {
		id = collection + "_" + uuid.New().String()[:8]
	}
	if err := validateID(id); err != nil {
		return nil, err
	}

	path := m.recordPath(collection, id)
	lock := m.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(path); err == nil {
		return nil, newError(KindAlreadyExist, "record %s/%s already exists", collection, id)
	}

	out := make(record, len(rec)+1)
	for k, v := range rec {
		out[k] = v
	}
	if _, ok := out["created_at"]; !ok {
		out["created_at"] = nowISO()
	}
	out["updated_at"] = nowISO()

	if err := atomicWriteJSON(path, out); err != nil {
		return nil, err
	}
	m.log.Debug("created record", zap.String("collection", collection), zap.String("id", id))
	return out, nil
}

// Update reads, merges diff shallowly, stamps updated_at, and writes back.
func (m *Manager) Update(collection, id string, diff map[string]any) (record, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	path := m.recordPath(collection, id)
	lock := m.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	existing, err := readRecord(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newError(KindNotFound, "record %s/%s not found", collection, id)
		}
		return nil, err
	}

	for k, v := range diff {
		existing[k] = v
	}
	existing["updated_at"] = nowISO()

	if err := atomicWriteJSON(path, existing); err != nil {
		return nil, err
	}
	m.log.Debug("updated record", zap.String("collection", collection), zap.String("id", id))
	return existing, nil
}

// Delete soft-deletes a record: sets deleted=true, deleted_at=now. It
// returns false if the record did not exist.
func (m *Manager) Delete(collection, id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}
	path := m.recordPath(collection, id)
	lock := m.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	existing, err := readRecord(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	existing["deleted"] = true
	existing["deleted_at"] = nowISO()
	existing["updated_at"] = nowISO()

	if err := atomicWriteJSON(path, existing); err != nil {
		return false, err
	}
	m.log.Debug("soft-deleted record", zap.String("collection", collection), zap.String("id", id))
	return true, nil
}
