package schedule

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachcal/internal/model"
)

const sampleYAML = `
active: base
cycles:
  - id: base
    name: Base block
    start: 2024-06-03
    end: 2024-06-16
    sessions:
      - id: s1
        date: 2024-06-10
        duration_minutes: 45
        discipline: run
        name: Tempo
        tss: "62"
      - id: long@2024-06-08
        date: 2024-06-08
        duration_minutes: 240
        discipline: velo
        name: Long ride (extended)
    templates:
      - id: long
        rrule: FREQ=WEEKLY;BYDAY=SA
        duration_minutes: 180
        discipline: bike
        name: Long ride
  - id: build
    name: Build block
    start: 2024-06-17
    end: 2024-07-14
    sessions: []
`

func ids(s model.CycleSchedule) []string {
	out := make([]string, 0, len(s.Sessions))
	for _, x := range s.Sessions {
		out = append(out, x.CanonicalID)
	}
	return out
}

func TestParseAndExpand(t *testing.T) {
	f, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	c, err := f.Select(time.Now(), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "base", c.ID)

	sched, err := c.Expand(time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "Base block", sched.Name)
	assert.Equal(t, []string{"s1", "long@2024-06-08", "long@2024-06-15"}, ids(sched))

	// The explicit session overrides the generated one.
	assert.Equal(t, 240, sched.Sessions[1].DurationMinutes)
	assert.Equal(t, model.DisciplineCycling, sched.Sessions[1].Discipline)

	gen := sched.Sessions[2]
	assert.Equal(t, "2024-06-15", gen.Date)
	assert.Equal(t, 180, gen.DurationMinutes)
	assert.Equal(t, model.DisciplineCycling, gen.Discipline)
	assert.Equal(t, model.DisciplineRunning, sched.Sessions[0].Discipline)
}

func TestExpand_EndDayInclusive(t *testing.T) {
	c := Cycle{
		ID: "c", Start: "2024-06-01", End: "2024-06-03",
		Templates: []Template{{RRule: "FREQ=DAILY", Session: model.PlannedSession{CanonicalID: "easy"}}},
	}
	sched, err := c.Expand(time.UTC)
	require.NoError(t, err)
	assert.Equal(t, []string{"easy@2024-06-01", "easy@2024-06-02", "easy@2024-06-03"}, ids(sched))
}

func TestExpand_Errors(t *testing.T) {
	tmpl := []Template{{RRule: "FREQ=DAILY", Session: model.PlannedSession{CanonicalID: "x"}}}

	_, err := Cycle{ID: "c", Templates: tmpl}.Expand(time.UTC)
	assert.Error(t, err, "templates need bounds")

	_, err = Cycle{ID: "c", Start: "2024-06-05", End: "2024-06-01", Templates: tmpl}.Expand(time.UTC)
	assert.Error(t, err)

	bad := []Template{{RRule: "FREQ=NEVER", Session: model.PlannedSession{CanonicalID: "x"}}}
	_, err = Cycle{ID: "c", Start: "2024-06-01", End: "2024-06-05", Templates: bad}.Expand(time.UTC)
	assert.Error(t, err)

	// Cycles without templates need no bounds.
	sched, err := Cycle{ID: "c", Sessions: []model.PlannedSession{{CanonicalID: "a"}}}.Expand(time.UTC)
	require.NoError(t, err)
	assert.Len(t, sched.Sessions, 1)
}

func TestSelect(t *testing.T) {
	f, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	f.Active = "missing"
	_, err = f.Select(time.Now(), time.UTC)
	assert.ErrorIs(t, err, ErrCycleNotFound)

	f.Active = ""
	c, err := f.Select(time.Date(2024, 6, 20, 12, 0, 0, 0, time.UTC), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "build", c.ID)

	_, err = f.Select(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.UTC)
	assert.ErrorIs(t, err, ErrNoActiveCycle)

	_, err = File{}.Select(time.Now(), time.UTC)
	assert.ErrorIs(t, err, ErrNoActiveCycle)
}

func TestParse_JSON(t *testing.T) {
	doc := `{"cycles":[{"id":"c1","sessions":[{"id":"a","date":"2024-06-10","duration_minutes":30,"discipline":"swim","name":"Drills"}]}]}`
	f, err := Parse([]byte(doc))
	require.NoError(t, err)
	c, err := f.Select(time.Now(), time.UTC)
	require.NoError(t, err)
	require.Len(t, c.Sessions, 1)
	assert.Equal(t, model.DisciplineSwimming, c.Sessions[0].Discipline)
}

func TestFileProvider(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "schedule.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	p := NewFileProvider(path, time.UTC)
	sched, err := p.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, "base", sched.ID)

	s, ok, err := p.Session(ctx, "long@2024-06-15")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Long ride", s.Name)

	_, ok, err = p.Session(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = NewFileProvider(filepath.Join(t.TempDir(), "missing.yaml"), time.UTC).Active(ctx)
	assert.Error(t, err)
}

func TestWatcher_SignalsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schedule.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	w, err := NewWatcher(path, 20*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	// Unrelated files in the same directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML+"\n"), 0o600))

	select {
	case <-w.Changes():
	case <-time.After(5 * time.Second):
		t.Fatal("no change signal")
	}

	cancel()
	<-done
	_, open := <-w.Changes()
	assert.False(t, open)
}
