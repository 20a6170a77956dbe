// Package state persists the scalar settings of the sync engine: the
// enablement flag, the managed calendar identifier and the last sync time.
package state

import (
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"coachcal/internal/atomicfile"
)

// Values is the on-disk YAML document.
type Values struct {
	// Enabled is a pointer so an absent key can default to true.
	Enabled     *bool     `yaml:"enabled,omitempty"`
	ContainerID string    `yaml:"container_id,omitempty"`
	LastSync    time.Time `yaml:"last_sync,omitempty"`
}

// FileStore is a small YAML key-value file. Every setter rewrites the file
// atomically.
type FileStore struct {
	path string

	mu     sync.Mutex
	values Values
}

// Open loads the state file at path. A missing file yields defaults.
func Open(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("state path is empty")
	}
	s := &FileStore{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, &s.values); err != nil {
		return nil, err
	}
	return s, nil
}

// Enabled reports whether sync may run. It defaults to true until disabled.
func (s *FileStore) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values.Enabled == nil || *s.values.Enabled
}

func (s *FileStore) SetEnabled(on bool) error {
	return s.update(func(v *Values) { v.Enabled = &on })
}

func (s *FileStore) ContainerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values.ContainerID
}

func (s *FileStore) SetContainerID(id string) error {
	return s.update(func(v *Values) { v.ContainerID = id })
}

func (s *FileStore) LastSync() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values.LastSync
}

func (s *FileStore) SetLastSync(t time.Time) error {
	return s.update(func(v *Values) { v.LastSync = t.UTC() })
}

// Snapshot returns a copy of the current values.
func (s *FileStore) Snapshot() Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values
}

func (s *FileStore) update(fn func(*Values)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.values
	fn(&next)
	if err := writeYAML(s.path, next); err != nil {
		return err
	}
	s.values = next
	return nil
}

func writeYAML(path string, v Values) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(path, data, 0o600)
}
