package calsync

import (
	"context"
	"errors"
	"sync"

	appLog "coachcal/internal/log"
)

// DefaultContainerName is the reserved title of the managed calendar.
const DefaultContainerName = "Coach Training"

// Resolver finds or creates the container that receives managed events.
//
// Resolution order:
//  1. cached identifier (memory, then persisted) if it still resolves
//  2. container titled with the reserved name
//  3. new container under a local source (attempted at most once)
//  4. the store's default container
//  5. the first writable container
//
// Every success is cached, and the cache is consulted before any creation
// attempt, so repeated calls never create duplicate containers.
type Resolver struct {
	store Store
	state StateStore
	name  string

	mu             sync.Mutex
	cached         string
	creationFailed bool
}

// NewResolver constructs a Resolver. An empty name uses DefaultContainerName.
func NewResolver(store Store, state StateStore, name string) *Resolver {
	if name == "" {
		name = DefaultContainerName
	}
	return &Resolver{store: store, state: state, name: name}
}

// Resolve returns the managed container id or ErrContainerNotFound.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	persisted := r.state.ContainerID()
	for i, id := range []string{r.cached, persisted} {
		if id == "" || (i == 1 && id == r.cached) {
			continue
		}
		c, ok, err := r.store.Container(ctx, id)
		if err != nil {
			return "", newError(KindUnknown, "", err)
		}
		if ok {
			r.cached = c.ID
			return c.ID, nil
		}
		appLog.Info("cached calendar no longer resolves", "container_id", id)
	}

	containers, err := r.store.Containers(ctx)
	if err != nil {
		return "", newError(KindUnknown, "", err)
	}

	for _, c := range containers {
		if c.Title == r.name {
			return r.remember(c.ID, "named")
		}
	}

	if !r.creationFailed {
		c, err := r.createLocal(ctx)
		if err == nil {
			return r.remember(c.ID, "created")
		}
		r.creationFailed = true
		appLog.Error("calendar creation failed; falling back", err, "name", r.name)
	}

	def, ok, err := r.store.DefaultContainer(ctx)
	if err != nil {
		return "", newError(KindUnknown, "", err)
	}
	if ok {
		return r.remember(def.ID, "default")
	}

	for _, c := range containers {
		if c.Writable {
			return r.remember(c.ID, "first_writable")
		}
	}

	return "", newError(KindContainerNotFound, "", nil)
}

// Cached returns the in-memory cached container id, if any.
func (r *Resolver) Cached() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cached
}

var errNoLocalSource = errors.New("no local source available")

func (r *Resolver) createLocal(ctx context.Context) (Container, error) {
	sources, err := r.store.Sources(ctx)
	if err != nil {
		return Container{}, err
	}
	for _, src := range sources {
		if src.Kind != SourceLocal {
			continue
		}
		return r.store.CreateContainer(ctx, r.name, src.ID)
	}
	return Container{}, errNoLocalSource
}

func (r *Resolver) remember(id, via string) (string, error) {
	r.cached = id
	if err := r.state.SetContainerID(id); err != nil {
		// The in-memory cache still prevents duplicate creation this run.
		appLog.Error("persisting calendar id failed", err, "container_id", id)
	}
	appLog.Info("calendar resolved", "container_id", id, "via", via)
	return id, nil
}
