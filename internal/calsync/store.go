package calsync

import (
	"context"
	"time"
)

// AccessState is the authorization state of the external calendar store.
type AccessState int

const (
	AccessNotRequested AccessState = iota
	AccessAuthorized
	AccessDenied
	AccessRestricted
)

func (s AccessState) String() string {
	switch s {
	case AccessAuthorized:
		return "authorized"
	case AccessDenied:
		return "denied"
	case AccessRestricted:
		return "restricted"
	default:
		return "not_requested"
	}
}

// SourceKind distinguishes local backing sources from synced accounts.
type SourceKind string

const (
	SourceLocal      SourceKind = "local"
	SourceSubscribed SourceKind = "subscribed"
)

// Source is a backing account that containers live under.
type Source struct {
	ID    string
	Title string
	Kind  SourceKind
}

// Container is a named calendar inside the external store.
type Container struct {
	ID       string
	Title    string
	SourceID string
	Writable bool
}

// Event is an event owned by the external store. ID is empty until the
// store assigns one on save.
type Event struct {
	ID          string
	ContainerID string
	Title       string
	Start       time.Time
	End         time.Time
	Notes       string
	// Alarms are offsets relative to Start.
	Alarms []time.Duration
}

// Authorizer exposes the store's permission model.
type Authorizer interface {
	// AuthorizationStatus must not prompt.
	AuthorizationStatus() AccessState
	// RequestAccess may block on a user prompt.
	RequestAccess(ctx context.Context) (AccessState, error)
}

// Store is the mutable external calendar this package reconciles against.
// Saves and removals made with commit=false are staged until Commit;
// Rollback discards everything staged.
type Store interface {
	Authorizer

	Containers(ctx context.Context) ([]Container, error)
	Container(ctx context.Context, id string) (Container, bool, error)
	DefaultContainer(ctx context.Context) (Container, bool, error)
	Sources(ctx context.Context) ([]Source, error)
	CreateContainer(ctx context.Context, title string, sourceID string) (Container, error)

	// Event looks up an event by identifier; ok is false on a miss.
	Event(ctx context.Context, id string) (ev Event, ok bool, err error)
	// Events lists events of one container overlapping [start, end).
	Events(ctx context.Context, containerID string, start, end time.Time) ([]Event, error)

	// SaveEvent creates (empty ID) or updates an event and returns the
	// identifier the store assigned.
	SaveEvent(ctx context.Context, ev Event, commit bool) (string, error)
	RemoveEvent(ctx context.Context, id string, commit bool) error
	Commit(ctx context.Context) error
	Rollback()
}

// MappingStore persists the canonical session id to event id table. Save
// replaces the whole table atomically.
type MappingStore interface {
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, m map[string]string) error
}

// StateStore holds the persisted scalar settings the engine needs.
type StateStore interface {
	Enabled() bool
	ContainerID() string
	SetContainerID(id string) error
	SetLastSync(t time.Time) error
}
