// Package mapping persists the table linking canonical session ids to the
// external calendar's event identifiers.
package mapping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"coachcal/internal/atomicfile"
)

// fileFormat is the on-disk JSON document.
type fileFormat struct {
	Version int               `json:"version"`
	Entries map[string]string `json:"entries"`
}

const fileVersion = 1

// FileStore keeps the mapping table in a single JSON file. Save replaces the
// file atomically, so readers never observe a partial table.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store persisting the table to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// LockKey identifies the table by its absolute path.
func (s *FileStore) LockKey() string {
	if abs, err := filepath.Abs(s.path); err == nil {
		return "file:" + abs
	}
	return "file:" + s.path
}

// Load returns the table; a missing file is an empty table.
func (s *FileStore) Load(_ context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("mapping: read %s: %w", s.path, err)
	}

	var doc fileFormat
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("mapping: decode %s: %w", s.path, err)
	}
	if doc.Entries == nil {
		doc.Entries = map[string]string{}
	}
	return doc.Entries, nil
}

// Save writes the whole table via temp file + fsync + rename.
func (s *FileStore) Save(_ context.Context, m map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m == nil {
		m = map[string]string{}
	}
	data, err := json.MarshalIndent(fileFormat{Version: fileVersion, Entries: m}, "", "  ")
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(s.path, data, 0o600)
}
