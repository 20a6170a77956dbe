// Package runner drives the sync engine: one-shot passes for the CLI and
// the HTTP API, and a background loop triggered by cron and by schedule
// file changes.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"coachcal/internal/calsync"
	appLog "coachcal/internal/log"
	"coachcal/internal/model"
	"coachcal/internal/schedule"
)

// CronOff disables the periodic trigger.
const CronOff = "off"

var ErrSessionNotFound = errors.New("runner: session not found in active schedule")

// Engine is the part of calsync.Engine the runner needs.
type Engine interface {
	Reconcile(ctx context.Context, sched model.CycleSchedule) (calsync.Summary, error)
	SyncSession(ctx context.Context, s model.PlannedSession) (calsync.Summary, error)
	ClearAll(ctx context.Context) (calsync.Summary, error)
}

type Options struct {
	// Timeout bounds one pass. Zero means no deadline.
	Timeout time.Duration
	// Cron is the refresh schedule for Serve. Empty or CronOff disables it.
	Cron     string
	Location *time.Location
	Now      func() time.Time
}

// Status describes the most recent pass.
type Status struct {
	Passes     int             `json:"passes"`
	Running    bool            `json:"running"`
	LastReason string          `json:"last_reason,omitempty"`
	LastRun    time.Time       `json:"last_run,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
	Summary    calsync.Summary `json:"summary"`
}

type Runner struct {
	engine   Engine
	provider schedule.Provider
	opts     Options

	kick chan string

	mu     sync.Mutex
	status Status
}

func New(engine Engine, provider schedule.Provider, opts Options) *Runner {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{
		engine:   engine,
		provider: provider,
		opts:     opts,
		kick:     make(chan string, 1),
	}
}

// Status returns a snapshot of the last pass.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// RunOnce reconciles the active schedule.
func (r *Runner) RunOnce(ctx context.Context, reason string) (calsync.Summary, error) {
	return r.run(ctx, reason, func(ctx context.Context) (calsync.Summary, error) {
		sched, err := r.provider.Active(ctx)
		if err != nil {
			return calsync.Summary{}, fmt.Errorf("runner: load schedule: %w", err)
		}
		return r.engine.Reconcile(ctx, sched)
	})
}

// SyncSession pushes one session of the active schedule.
func (r *Runner) SyncSession(ctx context.Context, id string) (calsync.Summary, error) {
	return r.run(ctx, "session "+id, func(ctx context.Context) (calsync.Summary, error) {
		s, ok, err := r.provider.Session(ctx, id)
		if err != nil {
			return calsync.Summary{}, fmt.Errorf("runner: load schedule: %w", err)
		}
		if !ok {
			return calsync.Summary{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return r.engine.SyncSession(ctx, s)
	})
}

// Clear removes every session event from the managed calendar.
func (r *Runner) Clear(ctx context.Context) (calsync.Summary, error) {
	return r.run(ctx, "clear", r.engine.ClearAll)
}

func (r *Runner) run(ctx context.Context, reason string, fn func(context.Context) (calsync.Summary, error)) (calsync.Summary, error) {
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	r.mu.Lock()
	r.status.Running = true
	r.mu.Unlock()

	started := r.opts.Now()
	sum, err := fn(ctx)

	r.mu.Lock()
	r.status.Running = false
	r.status.Passes++
	r.status.LastReason = reason
	r.status.LastRun = started
	r.status.LastError = ""
	if err != nil {
		r.status.LastError = err.Error()
	} else {
		r.status.Summary = sum
	}
	r.mu.Unlock()

	switch {
	case err == nil:
		appLog.Info("sync pass completed",
			"reason", reason,
			"container_id", sum.ContainerID,
			"created", sum.Created,
			"updated", sum.Updated,
			"unchanged", sum.Unchanged,
			"removed", sum.Removed,
			"skipped", sum.Skipped,
			"soft_failures", sum.SoftFailures,
			"elapsed", r.opts.Now().Sub(started).String(),
		)
	case errors.Is(err, calsync.ErrSyncDisabled):
		appLog.Info("sync pass skipped: disabled", "reason", reason)
	default:
		appLog.Error("sync pass failed", err, "reason", reason)
	}
	return sum, err
}

// Trigger asks Serve for a pass. Triggers arriving while one is pending
// coalesce.
func (r *Runner) Trigger(reason string) {
	select {
	case r.kick <- reason:
	default:
		appLog.Debug("sync trigger coalesced", "reason", reason)
	}
}

// Serve runs an initial pass and then one pass per trigger until ctx is
// done. changes may be nil.
func (r *Runner) Serve(ctx context.Context, changes <-chan struct{}) error {
	if spec := r.opts.Cron; spec != "" && spec != CronOff {
		c := cron.New(cron.WithLocation(r.opts.Location))
		if _, err := c.AddFunc(spec, func() { r.Trigger("cron") }); err != nil {
			return fmt.Errorf("runner: invalid refresh schedule %q: %w", spec, err)
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()
		appLog.Info("periodic sync scheduled", "refresh", spec)
	}

	r.Trigger("startup")
	for {
		select {
		case <-ctx.Done():
			return nil
		case reason := <-r.kick:
			_, _ = r.RunOnce(ctx, reason)
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			_, _ = r.RunOnce(ctx, "schedule changed")
		}
	}
}
