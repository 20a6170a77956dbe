// Package atomicfile writes files so that readers see either the old or the
// new content, never a partial write.
package atomicfile

import (
	"os"
	"path/filepath"
)

// WriteFile writes data to a temp file in path's directory, fsyncs it, sets
// perm and renames it over path. The parent directory is created (0700) if
// needed.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	p, err := Stage(path, data, perm)
	if err != nil {
		return err
	}
	if err := p.Commit(); err != nil {
		p.Discard()
		return err
	}
	return nil
}

// Pending is a synced temp file waiting to replace its target.
type Pending struct {
	tmp  string
	path string
	done bool
}

// Stage writes data to a temp file next to path without touching path.
// The caller must Commit or Discard the result.
func Stage(path string, data []byte, perm os.FileMode) (*Pending, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(dir, ".coachcal-*.tmp")
	if err != nil {
		return nil, err
	}
	tmpName := tmp.Name()

	fail := func(err error) (*Pending, error) {
		tmp.Close()
		os.Remove(tmpName)
		return nil, err
	}

	if _, err := tmp.Write(data); err != nil {
		return fail(err)
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, err
	}

	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return nil, err
	}
	return &Pending{tmp: tmpName, path: path}, nil
}

// Path returns the file the temp file will replace.
func (p *Pending) Path() string { return p.path }

// Commit renames the temp file over its target.
func (p *Pending) Commit() error {
	if err := os.Rename(p.tmp, p.path); err != nil {
		return err
	}
	p.done = true
	return nil
}

// Discard removes the temp file. It does nothing after a successful Commit.
func (p *Pending) Discard() {
	if p.done {
		return
	}
	os.Remove(p.tmp)
	p.done = true
}
