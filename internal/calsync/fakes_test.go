package calsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// fakeStore is an in-memory Store with failure injection.
type fakeStore struct {
	mu sync.Mutex

	access        AccessState
	requestResult AccessState
	requests      int

	sources        []Source
	containers     []Container
	defaultID      string
	createErr      error
	createAttempts int

	events map[string]Event
	staged []stagedOp
	nextID int

	creates      int
	failCreateAt int // 1-based index of the create call that fails
	updateErr    error
	removeErr    map[string]error
	lookupErr    map[string]error
	commitErr    error
	commits      int
	rollbacks    int
	calls        int
}

type stagedOp struct {
	id     string
	ev     Event
	remove bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		access:  AccessAuthorized,
		sources: []Source{{ID: "local", Title: "On My Device", Kind: SourceLocal}},
		events:  make(map[string]Event),
	}
}

func (f *fakeStore) AuthorizationStatus() AccessState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.access
}

func (f *fakeStore) RequestAccess(context.Context) (AccessState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	f.access = f.requestResult
	return f.requestResult, nil
}

func (f *fakeStore) Containers(context.Context) ([]Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return append([]Container(nil), f.containers...), nil
}

func (f *fakeStore) Container(_ context.Context, id string) (Container, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	for _, c := range f.containers {
		if c.ID == id {
			return c, true, nil
		}
	}
	return Container{}, false, nil
}

func (f *fakeStore) DefaultContainer(ctx context.Context) (Container, bool, error) {
	if f.defaultID == "" {
		return Container{}, false, nil
	}
	return f.Container(ctx, f.defaultID)
}

func (f *fakeStore) Sources(context.Context) ([]Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Source(nil), f.sources...), nil
}

func (f *fakeStore) CreateContainer(_ context.Context, title, sourceID string) (Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.createAttempts++
	if f.createErr != nil {
		return Container{}, f.createErr
	}
	c := Container{ID: fmt.Sprintf("cal-%d", len(f.containers)+1), Title: title, SourceID: sourceID, Writable: true}
	f.containers = append(f.containers, c)
	return c, nil
}

func (f *fakeStore) Event(_ context.Context, id string) (Event, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.lookupErr[id]; err != nil {
		return Event{}, false, err
	}
	ev, ok := f.events[id]
	return ev, ok, nil
}

func (f *fakeStore) Events(_ context.Context, containerID string, start, end time.Time) ([]Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Event
	for _, ev := range f.events {
		if ev.ContainerID == containerID && ev.Start.Before(end) && ev.End.After(start) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeStore) SaveEvent(_ context.Context, ev Event, commit bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if ev.ID == "" {
		f.creates++
		if f.failCreateAt > 0 && f.creates == f.failCreateAt {
			return "", errors.New("create rejected")
		}
		f.nextID++
		ev.ID = fmt.Sprintf("ev-%d", f.nextID)
	} else if f.updateErr != nil {
		return "", f.updateErr
	}
	f.staged = append(f.staged, stagedOp{id: ev.ID, ev: ev})
	if commit {
		f.applyLocked()
	}
	return ev.ID, nil
}

func (f *fakeStore) RemoveEvent(_ context.Context, id string, commit bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.removeErr[id]; err != nil {
		return err
	}
	f.staged = append(f.staged, stagedOp{id: id, remove: true})
	if commit {
		f.applyLocked()
	}
	return nil
}

func (f *fakeStore) Commit(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	f.commits++
	f.applyLocked()
	return nil
}

func (f *fakeStore) Rollback() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rollbacks++
	f.staged = nil
}

func (f *fakeStore) applyLocked() {
	for _, op := range f.staged {
		if op.remove {
			delete(f.events, op.id)
			continue
		}
		f.events[op.id] = op.ev
	}
	f.staged = nil
}

func (f *fakeStore) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *fakeStore) event(id string) (Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[id]
	return ev, ok
}

// memMapping is an in-memory MappingStore.
type memMapping struct {
	mu    sync.Mutex
	table map[string]string
	saves int
}

func newMemMapping() *memMapping {
	return &memMapping{table: map[string]string{}}
}

func (m *memMapping) Load(context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.table))
	for k, v := range m.table {
		out[k] = v
	}
	return out, nil
}

func (m *memMapping) Save(_ context.Context, t map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.table = make(map[string]string, len(t))
	for k, v := range t {
		m.table[k] = v
	}
	return nil
}

func (m *memMapping) snapshot() map[string]string {
	out, _ := m.Load(context.Background())
	return out
}

// memState is an in-memory StateStore.
type memState struct {
	mu          sync.Mutex
	disabled    bool
	containerID string
	lastSync    time.Time
}

func (s *memState) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.disabled
}

func (s *memState) ContainerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.containerID
}

func (s *memState) SetContainerID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.containerID = id
	return nil
}

func (s *memState) SetLastSync(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSync = t
	return nil
}
