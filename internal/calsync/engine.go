package calsync

import (
	"context"
	"errors"
	"sync"
	"time"

	appLog "coachcal/internal/log"
	"coachcal/internal/model"
)

// clearWindow bounds the ClearAll query on each side of now.
const clearWindow = 1 // years

// Config wires an Engine to its collaborators.
type Config struct {
	Store   Store
	Mapping MappingStore
	State   StateStore

	// ContainerName is the reserved calendar title. Empty uses
	// DefaultContainerName.
	ContainerName string
	// Location is the zone session days are placed in. Nil uses time.Local.
	Location *time.Location
	// Now is overridable for tests.
	Now func() time.Time
}

// Summary reports what one entry-point call did.
type Summary struct {
	ContainerID string
	Created     int
	Updated     int
	Unchanged   int
	Removed     int
	// Skipped counts sessions left out because their date did not resolve.
	Skipped int
	// SoftFailures counts removals that failed without aborting the pass.
	SoftFailures int
	CompletedAt  time.Time
}

// Engine keeps one external calendar container consistent with the
// authoritative list of planned sessions.
type Engine struct {
	store    Store
	mapping  MappingStore
	state    StateStore
	gate     *Gate
	resolver *Resolver
	loc      *time.Location
	now      func() time.Time
	lock     *sync.Mutex
}

// NewEngine constructs an Engine from cfg. Store, Mapping and State are required.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil || cfg.Mapping == nil || cfg.State == nil {
		return nil, errors.New("calsync: store, mapping and state are required")
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:    cfg.Store,
		mapping:  cfg.Mapping,
		state:    cfg.State,
		gate:     NewGate(cfg.Store),
		resolver: NewResolver(cfg.Store, cfg.State, cfg.ContainerName),
		loc:      loc,
		now:      now,
		lock:     lockFor(cfg.Mapping),
	}, nil
}

// Gate exposes the authorization gate, e.g. for status reporting.
func (e *Engine) Gate() *Gate { return e.gate }

// Resolver exposes the container resolver.
func (e *Engine) Resolver() *Resolver { return e.resolver }

// Mapping returns a copy of the persisted mapping table.
func (e *Engine) Mapping(ctx context.Context) (map[string]string, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.mapping.Load(ctx)
}

// Reconcile runs one full diff-sync pass for the schedule. Either every
// creation and update of the pass becomes durable together, or none does
// and the mapping table keeps its previous value.
func (e *Engine) Reconcile(ctx context.Context, sched model.CycleSchedule) (Summary, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	var sum Summary
	containerID, err := e.prepare(ctx)
	if err != nil {
		return Summary{}, err
	}
	sum.ContainerID = containerID

	mapping, err := e.mapping.Load(ctx)
	if err != nil {
		return Summary{}, newError(KindUnknown, "", err)
	}

	type pending struct {
		id     string
		fields EventFields
	}
	current := make(map[string]struct{}, len(sched.Sessions))
	work := make([]pending, 0, len(sched.Sessions))
	for _, s := range sched.Sessions {
		fields, err := Format(s, e.loc)
		if err != nil {
			sum.Skipped++
			appLog.Debug("session skipped", "session_id", s.CanonicalID, "date", s.Date)
			continue
		}
		if _, dup := current[s.CanonicalID]; dup {
			appLog.Error("duplicate session id in schedule; keeping first", nil, "session_id", s.CanonicalID, "cycle", sched.ID)
			continue
		}
		current[s.CanonicalID] = struct{}{}
		work = append(work, pending{id: s.CanonicalID, fields: fields})
	}

	next := make(map[string]string, len(work))

	// Deletion pass: entries whose session left the set are dropped whether
	// or not their event could be removed.
	for id, eventID := range mapping {
		if _, ok := current[id]; ok {
			continue
		}
		e.removeSoft(ctx, id, eventID, &sum)
	}

	// Upsert pass: any failure aborts before commit.
	for _, p := range work {
		eventID, err := e.upsert(ctx, containerID, p.id, p.fields, mapping[p.id], &sum)
		if err != nil {
			e.store.Rollback()
			appLog.Error("reconcile aborted", err, "cycle", sched.ID, "session_id", p.id)
			return Summary{}, err
		}
		next[p.id] = eventID
	}

	if err := e.commit(ctx); err != nil {
		appLog.Error("reconcile commit failed", err, "cycle", sched.ID)
		return Summary{}, err
	}
	if err := e.finish(ctx, next, &sum); err != nil {
		return sum, err
	}

	appLog.Info("reconcile completed",
		"cycle", sched.ID,
		"container_id", containerID,
		"created", sum.Created,
		"updated", sum.Updated,
		"unchanged", sum.Unchanged,
		"removed", sum.Removed,
		"skipped", sum.Skipped,
		"soft_failures", sum.SoftFailures,
	)
	return sum, nil
}

// SyncSession creates or updates the event of a single session and commits
// it on its own. A session whose date no longer resolves loses its event.
func (e *Engine) SyncSession(ctx context.Context, s model.PlannedSession) (Summary, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	var sum Summary
	containerID, err := e.prepare(ctx)
	if err != nil {
		return Summary{}, err
	}
	sum.ContainerID = containerID

	mapping, err := e.mapping.Load(ctx)
	if err != nil {
		return Summary{}, newError(KindUnknown, "", err)
	}
	next := make(map[string]string, len(mapping)+1)
	for k, v := range mapping {
		next[k] = v
	}

	fields, ferr := Format(s, e.loc)
	if ferr != nil {
		sum.Skipped++
		eventID, ok := mapping[s.CanonicalID]
		if !ok {
			return sum, nil
		}
		e.removeSoft(ctx, s.CanonicalID, eventID, &sum)
		delete(next, s.CanonicalID)
	} else {
		eventID, err := e.upsert(ctx, containerID, s.CanonicalID, fields, mapping[s.CanonicalID], &sum)
		if err != nil {
			e.store.Rollback()
			appLog.Error("session sync aborted", err, "session_id", s.CanonicalID)
			return Summary{}, err
		}
		next[s.CanonicalID] = eventID
	}

	if err := e.commit(ctx); err != nil {
		appLog.Error("session sync commit failed", err, "session_id", s.CanonicalID)
		return Summary{}, err
	}
	if err := e.finish(ctx, next, &sum); err != nil {
		return sum, err
	}

	appLog.Info("session synced",
		"session_id", s.CanonicalID,
		"created", sum.Created,
		"updated", sum.Updated,
		"removed", sum.Removed,
	)
	return sum, nil
}

// ClearAll removes every event of the managed container within one year of
// now and resets the mapping table. The container itself is kept.
func (e *Engine) ClearAll(ctx context.Context) (Summary, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	var sum Summary
	containerID, err := e.prepare(ctx)
	if err != nil {
		return Summary{}, err
	}
	sum.ContainerID = containerID

	now := e.now()
	events, err := e.store.Events(ctx, containerID, now.AddDate(-clearWindow, 0, 0), now.AddDate(clearWindow, 0, 0))
	if err != nil {
		return Summary{}, newError(KindUnknown, "", err)
	}

	for _, ev := range events {
		if err := e.store.RemoveEvent(ctx, ev.ID, false); err != nil {
			sum.SoftFailures++
			appLog.Error("event removal failed", newError(KindEventRemoveFailed, "", err), "event_id", ev.ID)
			continue
		}
		sum.Removed++
	}

	if err := e.commit(ctx); err != nil {
		appLog.Error("clear commit failed", err, "container_id", containerID)
		return Summary{}, err
	}
	if err := e.finish(ctx, map[string]string{}, &sum); err != nil {
		return sum, err
	}

	appLog.Info("calendar cleared", "container_id", containerID, "removed", sum.Removed)
	return sum, nil
}

// prepare runs the checks shared by every entry point. Nothing is mutated
// until all of them pass.
func (e *Engine) prepare(ctx context.Context) (string, error) {
	if !e.state.Enabled() {
		return "", newError(KindDisabled, "", nil)
	}
	if err := e.gate.Require(ctx); err != nil {
		return "", err
	}
	id, err := e.resolver.Resolve(ctx)
	if err != nil {
		return "", asSyncError(err)
	}
	return id, nil
}

func (e *Engine) upsert(ctx context.Context, containerID, sessionID string, f EventFields, mappedID string, sum *Summary) (string, error) {
	if mappedID != "" {
		ev, ok, err := e.store.Event(ctx, mappedID)
		if err != nil {
			return "", newError(KindEventUpdateFailed, sessionID, err)
		}
		if ok {
			if f.matches(ev) {
				sum.Unchanged++
				return ev.ID, nil
			}
			id, err := e.store.SaveEvent(ctx, f.apply(ev), false)
			if err != nil {
				return "", newError(KindEventUpdateFailed, sessionID, err)
			}
			if id == "" {
				id = ev.ID
			}
			sum.Updated++
			return id, nil
		}
		appLog.Info("mapped event missing; recreating", "session_id", sessionID, "event_id", mappedID)
	}

	id, err := e.store.SaveEvent(ctx, f.apply(Event{ContainerID: containerID}), false)
	if err != nil {
		return "", newError(KindEventCreateFailed, sessionID, err)
	}
	if id == "" {
		return "", newError(KindEventCreateFailed, sessionID, errors.New("store assigned no identifier"))
	}
	sum.Created++
	return id, nil
}

// removeSoft stages the removal of a mapped event. Failures are counted and
// logged but never abort the caller.
func (e *Engine) removeSoft(ctx context.Context, sessionID, eventID string, sum *Summary) {
	ev, ok, err := e.store.Event(ctx, eventID)
	if err != nil {
		sum.SoftFailures++
		appLog.Error("event lookup failed during cleanup", newError(KindEventRemoveFailed, sessionID, err), "event_id", eventID)
		return
	}
	if !ok {
		appLog.Debug("stale mapping dropped", "session_id", sessionID, "event_id", eventID)
		return
	}
	if err := e.store.RemoveEvent(ctx, ev.ID, false); err != nil {
		sum.SoftFailures++
		appLog.Error("event removal failed", newError(KindEventRemoveFailed, sessionID, err), "event_id", eventID)
		return
	}
	sum.Removed++
}

func (e *Engine) commit(ctx context.Context) error {
	// A cancelled pass must not reach the store.
	if err := ctx.Err(); err != nil {
		e.store.Rollback()
		return newError(KindUnknown, "", err)
	}
	if err := e.store.Commit(ctx); err != nil {
		e.store.Rollback()
		return newError(KindCommitFailed, "", err)
	}
	return nil
}

func (e *Engine) finish(ctx context.Context, next map[string]string, sum *Summary) error {
	if err := e.mapping.Save(ctx, next); err != nil {
		appLog.Error("mapping save failed after commit", err, "entries", len(next))
		return newError(KindUnknown, "", err)
	}
	sum.CompletedAt = e.now()
	if err := e.state.SetLastSync(sum.CompletedAt); err != nil {
		appLog.Error("recording last sync failed", err)
	}
	return nil
}
