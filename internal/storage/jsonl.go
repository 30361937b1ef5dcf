package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// AppendJSONL appends one JSON-encoded entry to the day-stamped append-only
// log for a collection (spec §4.1, "<YYYY-MM-DD>.jsonl"). Concurrent
// appenders serialize on the same per-path mutex used for record writes,
// replacing OS-level advisory file locks (spec §9).
func (m *Manager) AppendJSONL(collection string, entry any) error {
	dir := m.collectionDir(collection)
	path := filepath.Join(dir, time.Now().UTC().Format("2006-01-02")+".jsonl")

	lock := m.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir %s: %w", dir, err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("storage: marshal jsonl entry: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("storage: open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("storage: append %s: %w", path, err)
	}
	m.log.Debug("appended jsonl entry", zap.String("collection", collection), zap.String("file", filepath.Base(path)))
	return nil
}
