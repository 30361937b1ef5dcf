// Package edc implements the External-Docs Cache (C4, spec §4.4): a
// two-tier on-disk cache in front of the context7 external adapter, keyed
// by sha256(library_id + ":" + query) truncated to 16 hex characters
// (SPEC_FULL supplement 4).
//
// Grounded on the teacher's internal/store package and this module's own
// storage.Manager (atomic write-to-temp-then-rename, a single mutex
// guarding an in-memory index) for the persistence shape; the index +
// content-addressed data file layout and the oldest-10%-eviction policy
// have no teacher analogue and are modeled directly on
// original_source/scripts/smaht/adapters/context7_adapter.py's
// _DocsCache, which this package reproduces in Go idiom.
package edc

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultTTL is the entry lifetime before a cache hit is treated as a
	// miss (SPEC_FULL supplement 4, matching context7_adapter.py's
	// CACHE_TTL_SECONDS).
	DefaultTTL = 3600 * time.Second
	// MaxEntries triggers eviction once exceeded.
	MaxEntries = 500
	// evictFraction is the share of (oldest-first) entries removed once
	// MaxEntries is exceeded.
	evictFraction = 0.10
)

// Entry is one cached external-docs fetch.
type Entry struct {
	LibraryID string    `json:"library_id"`
	Query     string    `json:"query"`
	Docs      []byte    `json:"-"`
	FetchedAt time.Time `json:"fetched_at"`
}

type indexEntry struct {
	Key       string    `json:"key"`
	LibraryID string    `json:"library_id"`
	Query     string    `json:"query"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Cache is a file-backed cache for context7 doc fetches. It is safe for
// concurrent use: a single mutex serializes index mutation and eviction,
// matching the teacher's one-mutex-per-handle discipline.
type Cache struct {
	root string
	ttl  time.Duration
	log  *zap.Logger

	mu    sync.Mutex
	index map[string]indexEntry
}

// New creates a Cache rooted at root (created lazily), loading any
// existing index.json. A load failure degrades to an empty index rather
// than failing construction, since the cache is advisory.
func New(root string, ttl time.Duration, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		root:  root,
		ttl:   ttl,
		log:   log.With(zap.String("component", "edc.Cache")),
		index: make(map[string]indexEntry),
	}
	c.loadIndex()
	return c
}

// Key returns the cache key for a (library_id, query) pair.
func Key(libraryID, query string) string {
	sum := sha256.Sum256([]byte(libraryID + ":" + query))
	return hex.EncodeToString(sum[:])[:16]
}

func (c *Cache) indexPath() string          { return filepath.Join(c.root, "index.json") }
func (c *Cache) dataDir() string            { return filepath.Join(c.root, "data") }
func (c *Cache) dataPath(key string) string { return filepath.Join(c.dataDir(), key+".json") }

func (c *Cache) loadIndex() {
	data, err := os.ReadFile(c.indexPath())
	if err != nil {
		return
	}
	var entries []indexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		c.log.Warn("corrupt cache index, starting empty", zap.Error(err))
		return
	}
	for _, e := range entries {
		c.index[e.Key] = e
	}
}

func (c *Cache) persistIndexLocked() error {
	entries := make([]indexEntry, 0, len(c.index))
	for _, e := range c.index {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return fmt.Errorf("edc: mkdir %s: %w", c.root, err)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("edc: marshal index: %w", err)
	}
	return atomicWrite(c.indexPath(), data)
}

// Get returns a cached entry's docs payload if present and not expired.
// A miss (absent, expired, or corrupt) returns (nil, false); corruption
// is logged and the stale entry is dropped rather than returned.
func (c *Cache) Get(libraryID, query string) ([]byte, bool) {
	key := Key(libraryID, query)

	c.mu.Lock()
	entry, ok := c.index[key]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	if time.Since(entry.FetchedAt) > c.ttl {
		return nil, false
	}

	data, err := os.ReadFile(c.dataPath(key))
	if err != nil {
		c.evict(key)
		return nil, false
	}
	var payload struct {
		Docs json.RawMessage `json:"docs"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		c.log.Warn("corrupt cache entry, treating as miss", zap.String("key", key), zap.Error(err))
		c.evict(key)
		return nil, false
	}
	return payload.Docs, true
}

// Put stores a docs payload for (library_id, query), evicting the oldest
// 10% of entries first if the cache is at capacity.
func (c *Cache) Put(libraryID, query string, docs []byte) error {
	key := Key(libraryID, query)
	now := time.Now().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.index[key]; !exists && len(c.index) >= MaxEntries {
		c.evictOldestLocked()
	}

	data, err := json.Marshal(struct {
		Docs json.RawMessage `json:"docs"`
	}{Docs: docs})
	if err != nil {
		return fmt.Errorf("edc: marshal entry: %w", err)
	}
	if err := os.MkdirAll(c.dataDir(), 0o755); err != nil {
		return fmt.Errorf("edc: mkdir %s: %w", c.dataDir(), err)
	}
	if err := atomicWrite(c.dataPath(key), data); err != nil {
		return err
	}

	c.index[key] = indexEntry{Key: key, LibraryID: libraryID, Query: query, FetchedAt: now}
	return c.persistIndexLocked()
}

// evictOldestLocked removes the oldest 10% of entries (at least one),
// matching context7_adapter.py's eviction policy. Caller holds c.mu.
func (c *Cache) evictOldestLocked() {
	entries := make([]indexEntry, 0, len(c.index))
	for _, e := range c.index {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].FetchedAt.Before(entries[j].FetchedAt) })

	n := int(float64(len(entries)) * evictFraction)
	if n < 1 {
		n = 1
	}
	if n > len(entries) {
		n = len(entries)
	}
	for _, e := range entries[:n] {
		delete(c.index, e.Key)
		os.Remove(c.dataPath(e.Key))
	}
}

func (c *Cache) evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.index, key)
	os.Remove(c.dataPath(key))
	_ = c.persistIndexLocked()
}

// Len reports the number of entries currently indexed.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("edc: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("edc: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("edc: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("edc: rename temp file: %w", err)
	}
	return nil
}
