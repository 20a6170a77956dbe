// Package calstore implements the external calendar store on top of a
// directory of iCalendar files.
//
// Layout:
//
//	<dir>/index.yaml       sources, containers, default container, access grant
//	<dir>/<container>.ics  one VCALENDAR per container
//
// Writes made with commit=false are staged in memory. Commit writes every
// touched container to a temp file, then renames them all into place;
// Rollback drops the staged changes.
package calstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"coachcal/internal/atomicfile"
	"coachcal/internal/calsync"
	appLog "coachcal/internal/log"
)

// AccessPolicy controls how the store answers authorization requests.
type AccessPolicy string

const (
	PolicyGranted    AccessPolicy = "granted"
	PolicyDenied     AccessPolicy = "denied"
	PolicyRestricted AccessPolicy = "restricted"
	// PolicyPrompt asks through Options.Prompt once and remembers the answer.
	PolicyPrompt AccessPolicy = "prompt"
)

var (
	ErrEventNotFound     = errors.New("calstore: event not found")
	ErrContainerNotFound = errors.New("calstore: container not found")
	ErrReadOnly          = errors.New("calstore: container is read-only")
	ErrNotLocalSource    = errors.New("calstore: source does not allow local containers")
)

// Options configures Open.
type Options struct {
	Dir    string
	Policy AccessPolicy
	// Prompt answers an access request under PolicyPrompt. Nil denies.
	Prompt func(ctx context.Context) (bool, error)
	// Sources seeds a fresh index. Nil seeds a single local source.
	Sources []calsync.Source
	Now     func() time.Time
}

type stagedOp struct {
	remove bool
	ev     calsync.Event
}

// Store is a calsync.Store backed by ICS files.
type Store struct {
	dir    string
	policy AccessPolicy
	prompt func(ctx context.Context) (bool, error)
	now    func() time.Time

	mu     sync.Mutex
	index  indexFile
	events map[string]calsync.Event
	staged []stagedOp
}

var _ calsync.Store = (*Store)(nil)

// Open loads the store at opts.Dir, creating the directory and a default
// index on first use.
func Open(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, errors.New("calstore: directory is empty")
	}
	if err := os.MkdirAll(opts.Dir, 0o700); err != nil {
		return nil, err
	}
	if opts.Policy == "" {
		opts.Policy = PolicyPrompt
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Store{
		dir:    opts.Dir,
		policy: opts.Policy,
		prompt: opts.Prompt,
		now:    opts.Now,
		events: make(map[string]calsync.Event),
	}

	idx, found, err := readIndex(s.indexPath())
	if err != nil {
		return nil, err
	}
	if !found {
		idx = newIndex(opts.Sources)
		if err := writeIndex(s.indexPath(), idx); err != nil {
			return nil, err
		}
		appLog.Info("calendar store initialized", "dir", opts.Dir, "sources", len(idx.Sources))
	}
	s.index = idx

	for _, c := range idx.Containers {
		evs, err := readContainer(s.containerPath(c.ID), c.ID)
		if err != nil {
			return nil, fmt.Errorf("calstore: load container %s: %w", c.ID, err)
		}
		for _, ev := range evs {
			s.events[ev.ID] = ev
		}
	}

	appLog.Debug("calendar store loaded", "dir", opts.Dir, "containers", len(idx.Containers), "events", len(s.events))
	return s, nil
}

func (s *Store) indexPath() string { return filepath.Join(s.dir, "index.yaml") }

func (s *Store) containerPath(id string) string { return filepath.Join(s.dir, id+".ics") }

// AuthorizationStatus reports the grant without prompting.
func (s *Store) AuthorizationStatus() calsync.AccessState {
	switch s.policy {
	case PolicyGranted:
		return calsync.AccessAuthorized
	case PolicyDenied:
		return calsync.AccessDenied
	case PolicyRestricted:
		return calsync.AccessRestricted
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return parseAccess(s.index.Access)
}

// RequestAccess prompts under PolicyPrompt and persists the answer.
func (s *Store) RequestAccess(ctx context.Context) (calsync.AccessState, error) {
	if st := s.AuthorizationStatus(); st != calsync.AccessNotRequested {
		return st, nil
	}

	granted := false
	if s.prompt != nil {
		var err error
		granted, err = s.prompt(ctx)
		if err != nil {
			return calsync.AccessNotRequested, err
		}
	}

	st := calsync.AccessDenied
	if granted {
		st = calsync.AccessAuthorized
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.index
	next.Access = st.String()
	if err := writeIndex(s.indexPath(), next); err != nil {
		return calsync.AccessNotRequested, err
	}
	s.index = next
	return st, nil
}

func (s *Store) Containers(context.Context) ([]calsync.Container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]calsync.Container, 0, len(s.index.Containers))
	for _, c := range s.index.Containers {
		out = append(out, c.toContainer())
	}
	return out, nil
}

func (s *Store) Container(_ context.Context, id string) (calsync.Container, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.index.container(id)
	if !ok {
		return calsync.Container{}, false, nil
	}
	return c.toContainer(), true, nil
}

func (s *Store) DefaultContainer(ctx context.Context) (calsync.Container, bool, error) {
	s.mu.Lock()
	id := s.index.DefaultContainer
	s.mu.Unlock()
	if id == "" {
		return calsync.Container{}, false, nil
	}
	return s.Container(ctx, id)
}

func (s *Store) Sources(context.Context) ([]calsync.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]calsync.Source, 0, len(s.index.Sources))
	for _, src := range s.index.Sources {
		out = append(out, src.toSource())
	}
	return out, nil
}

// CreateContainer adds a writable container under a local source. It is
// persisted immediately, not staged.
func (s *Store) CreateContainer(_ context.Context, title, sourceID string) (calsync.Container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.index.source(sourceID)
	if !ok {
		return calsync.Container{}, fmt.Errorf("calstore: unknown source %q", sourceID)
	}
	if calsync.SourceKind(src.Kind) != calsync.SourceLocal {
		return calsync.Container{}, ErrNotLocalSource
	}

	c := indexContainer{ID: uuid.NewString(), Title: title, Source: sourceID, Writable: true}
	if err := writeContainer(s.containerPath(c.ID), c.Title, nil, s.now()); err != nil {
		return calsync.Container{}, err
	}

	next := s.index.clone()
	next.Containers = append(next.Containers, c)
	if err := writeIndex(s.indexPath(), next); err != nil {
		_ = os.Remove(s.containerPath(c.ID))
		return calsync.Container{}, err
	}
	s.index = next

	appLog.Info("calendar created", "container_id", c.ID, "title", title, "source", sourceID)
	return c.toContainer(), nil
}

// SetDefaultContainer marks the container new events go to by default.
func (s *Store) SetDefaultContainer(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index.container(id); !ok {
		return ErrContainerNotFound
	}
	next := s.index.clone()
	next.DefaultContainer = id
	if err := writeIndex(s.indexPath(), next); err != nil {
		return err
	}
	s.index = next
	return nil
}

// Event looks up a committed event.
func (s *Store) Event(_ context.Context, id string) (calsync.Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return calsync.Event{}, false, nil
	}
	return cloneEvent(ev), true, nil
}

// Events lists committed events of a container overlapping [start, end),
// ordered by start.
func (s *Store) Events(_ context.Context, containerID string, start, end time.Time) ([]calsync.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index.container(containerID); !ok {
		return nil, ErrContainerNotFound
	}

	var out []calsync.Event
	for _, ev := range s.events {
		if ev.ContainerID != containerID {
			continue
		}
		if overlaps(ev, start, end) {
			out = append(out, cloneEvent(ev))
		}
	}
	sortEvents(out)
	return out, nil
}

func (s *Store) SaveEvent(ctx context.Context, ev calsync.Event, commit bool) (string, error) {
	s.mu.Lock()
	c, ok := s.index.container(ev.ContainerID)
	if !ok {
		s.mu.Unlock()
		return "", ErrContainerNotFound
	}
	if !c.Writable {
		s.mu.Unlock()
		return "", ErrReadOnly
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	} else if !s.existsLocked(ev.ID) {
		s.mu.Unlock()
		return "", ErrEventNotFound
	}
	s.staged = append(s.staged, stagedOp{ev: cloneEvent(ev)})
	s.mu.Unlock()

	if commit {
		if err := s.Commit(ctx); err != nil {
			return "", err
		}
	}
	return ev.ID, nil
}

func (s *Store) RemoveEvent(ctx context.Context, id string, commit bool) error {
	s.mu.Lock()
	ev, ok := s.events[id]
	if !ok {
		s.mu.Unlock()
		return ErrEventNotFound
	}
	if c, ok := s.index.container(ev.ContainerID); ok && !c.Writable {
		s.mu.Unlock()
		return ErrReadOnly
	}
	s.staged = append(s.staged, stagedOp{remove: true, ev: calsync.Event{ID: id, ContainerID: ev.ContainerID}})
	s.mu.Unlock()

	if commit {
		return s.Commit(ctx)
	}
	return nil
}

// Commit makes all staged changes durable. On error the staged changes are
// kept so the caller can Rollback.
func (s *Store) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.staged) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	next := make(map[string]calsync.Event, len(s.events)+len(s.staged))
	for id, ev := range s.events {
		next[id] = ev
	}
	touched := make(map[string]struct{})
	for _, op := range s.staged {
		if prev, ok := next[op.ev.ID]; ok {
			// Moving between containers touches both files.
			touched[prev.ContainerID] = struct{}{}
		}
		touched[op.ev.ContainerID] = struct{}{}
		if op.remove {
			delete(next, op.ev.ID)
			continue
		}
		next[op.ev.ID] = op.ev
	}

	ids := make([]string, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// Stage every file before renaming any.
	now := s.now()
	writes := make([]containerWrite, 0, len(ids))
	discard := func() {
		for _, w := range writes {
			w.pending.Discard()
		}
	}
	for _, cid := range ids {
		c, ok := s.index.container(cid)
		if !ok {
			discard()
			return fmt.Errorf("calstore: commit: %w: %s", ErrContainerNotFound, cid)
		}
		var evs []calsync.Event
		for _, ev := range next {
			if ev.ContainerID == cid {
				evs = append(evs, ev)
			}
		}
		sortEvents(evs)

		w, err := stageContainer(s.containerPath(cid), c.Title, evs, now)
		if err != nil {
			discard()
			return fmt.Errorf("calstore: commit container %s: %w", cid, err)
		}
		w.cid = cid
		writes = append(writes, w)
	}

	for i, w := range writes {
		if err := w.pending.Commit(); err != nil {
			for _, rest := range writes[i:] {
				rest.pending.Discard()
			}
			for _, done := range writes[:i] {
				done.restore()
			}
			return fmt.Errorf("calstore: commit container %s: %w", w.cid, err)
		}
	}

	appLog.Debug("calendar store committed", "ops", len(s.staged), "containers", len(ids))
	s.events = next
	s.staged = nil
	return nil
}

// containerWrite is one staged container file plus what it replaces.
type containerWrite struct {
	cid     string
	pending *atomicfile.Pending
	prev    []byte
	existed bool
}

func stageContainer(path, title string, evs []calsync.Event, now time.Time) (containerWrite, error) {
	w := containerWrite{existed: true}
	prev, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		w.existed = false
	case err != nil:
		return w, err
	}
	w.prev = prev

	w.pending, err = atomicfile.Stage(path, encodeContainer(title, evs, now), 0o600)
	return w, err
}

// restore puts back the file a renamed write replaced.
func (w containerWrite) restore() {
	path := w.pending.Path()
	var err error
	if w.existed {
		err = atomicfile.WriteFile(path, w.prev, 0o600)
	} else {
		err = os.Remove(path)
	}
	if err != nil {
		appLog.Error("calstore: restore container failed", err, "container_id", w.cid)
	}
}

func (s *Store) Rollback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.staged) > 0 {
		appLog.Debug("calendar store rollback", "ops", len(s.staged))
	}
	s.staged = nil
}

// existsLocked reports whether id is committed or staged for creation.
func (s *Store) existsLocked(id string) bool {
	if _, ok := s.events[id]; ok {
		return true
	}
	for _, op := range s.staged {
		if op.ev.ID == id && !op.remove {
			return true
		}
	}
	return false
}

func cloneEvent(ev calsync.Event) calsync.Event {
	ev.Alarms = append([]time.Duration(nil), ev.Alarms...)
	return ev
}

// overlaps treats zero-length events as occupying their start instant.
func overlaps(ev calsync.Event, start, end time.Time) bool {
	if !ev.Start.Before(end) {
		return false
	}
	return ev.End.After(start) || !ev.Start.Before(start)
}

func sortEvents(evs []calsync.Event) {
	sort.Slice(evs, func(i, j int) bool {
		if !evs[i].Start.Equal(evs[j].Start) {
			return evs[i].Start.Before(evs[j].Start)
		}
		return evs[i].ID < evs[j].ID
	})
}
