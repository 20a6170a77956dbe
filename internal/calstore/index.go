package calstore

import (
	"errors"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"coachcal/internal/atomicfile"
	"coachcal/internal/calsync"
)

type indexSource struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
	Kind  string `yaml:"kind"`
}

type indexContainer struct {
	ID       string `yaml:"id"`
	Title    string `yaml:"title"`
	Source   string `yaml:"source"`
	Writable bool   `yaml:"writable"`
}

// indexFile is index.yaml.
type indexFile struct {
	Access           string           `yaml:"access,omitempty"`
	DefaultContainer string           `yaml:"default_container,omitempty"`
	Sources          []indexSource    `yaml:"sources"`
	Containers       []indexContainer `yaml:"containers"`
}

func newIndex(sources []calsync.Source) indexFile {
	if len(sources) == 0 {
		sources = []calsync.Source{{ID: "local", Title: "On This Computer", Kind: calsync.SourceLocal}}
	}
	idx := indexFile{Containers: []indexContainer{}}
	for _, src := range sources {
		idx.Sources = append(idx.Sources, indexSource{ID: src.ID, Title: src.Title, Kind: string(src.Kind)})
	}
	return idx
}

func (idx indexFile) clone() indexFile {
	out := idx
	out.Sources = append([]indexSource(nil), idx.Sources...)
	out.Containers = append([]indexContainer(nil), idx.Containers...)
	return out
}

func (idx indexFile) container(id string) (indexContainer, bool) {
	for _, c := range idx.Containers {
		if c.ID == id {
			return c, true
		}
	}
	return indexContainer{}, false
}

func (idx indexFile) source(id string) (indexSource, bool) {
	for _, s := range idx.Sources {
		if s.ID == id {
			return s, true
		}
	}
	return indexSource{}, false
}

func (c indexContainer) toContainer() calsync.Container {
	return calsync.Container{ID: c.ID, Title: c.Title, SourceID: c.Source, Writable: c.Writable}
}

func (s indexSource) toSource() calsync.Source {
	return calsync.Source{ID: s.ID, Title: s.Title, Kind: calsync.SourceKind(s.Kind)}
}

func parseAccess(s string) calsync.AccessState {
	switch s {
	case calsync.AccessAuthorized.String():
		return calsync.AccessAuthorized
	case calsync.AccessDenied.String():
		return calsync.AccessDenied
	case calsync.AccessRestricted.String():
		return calsync.AccessRestricted
	default:
		return calsync.AccessNotRequested
	}
}

func readIndex(path string) (indexFile, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return indexFile{}, false, nil
		}
		return indexFile{}, false, err
	}
	var idx indexFile
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return indexFile{}, false, err
	}
	return idx, true, nil
}

func writeIndex(path string, idx indexFile) error {
	data, err := yaml.Marshal(idx)
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(path, data, 0o600)
}
