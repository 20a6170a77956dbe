package schedule

import (
	"context"
	"time"

	appLog "coachcal/internal/log"
	"coachcal/internal/model"
)

// Provider supplies the authoritative session list.
type Provider interface {
	// Active returns the expanded cycle to reconcile.
	Active(ctx context.Context) (model.CycleSchedule, error)
	// Session finds one session of the active cycle by canonical id.
	Session(ctx context.Context, id string) (model.PlannedSession, bool, error)
}

// FileProvider rereads its schedule file on every call, so edits are picked
// up without a restart.
type FileProvider struct {
	path string
	loc  *time.Location
	now  func() time.Time
}

var _ Provider = (*FileProvider)(nil)

func NewFileProvider(path string, loc *time.Location) *FileProvider {
	if loc == nil {
		loc = time.Local
	}
	return &FileProvider{path: path, loc: loc, now: time.Now}
}

func (p *FileProvider) Path() string { return p.path }

func (p *FileProvider) Active(ctx context.Context) (model.CycleSchedule, error) {
	if err := ctx.Err(); err != nil {
		return model.CycleSchedule{}, err
	}
	f, err := ReadFile(p.path)
	if err != nil {
		return model.CycleSchedule{}, err
	}
	c, err := f.Select(p.now(), p.loc)
	if err != nil {
		return model.CycleSchedule{}, err
	}
	sched, err := c.Expand(p.loc)
	if err != nil {
		return model.CycleSchedule{}, err
	}
	appLog.Debug("schedule loaded", "path", p.path, "cycle", sched.ID, "sessions", len(sched.Sessions))
	return sched, nil
}

func (p *FileProvider) Session(ctx context.Context, id string) (model.PlannedSession, bool, error) {
	sched, err := p.Active(ctx)
	if err != nil {
		return model.PlannedSession{}, false, err
	}
	for _, s := range sched.Sessions {
		if s.CanonicalID == id {
			return s, true, nil
		}
	}
	return model.PlannedSession{}, false, nil
}
