package calsync

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"coachcal/internal/model"
)

const (
	startHour   = 7
	alarmOffset = -3600 * time.Second
	attribution = "Synced from coachcal"
)

// ErrUnresolvableDate means the session has no usable calendar day and must
// be left out of the pass.
var ErrUnresolvableDate = errors.New("calsync: unresolvable session date")

// EventFields are the values the formatter derives for one session.
type EventFields struct {
	Title  string
	Start  time.Time
	End    time.Time
	Notes  string
	Alarms []time.Duration
}

// Glyph returns the title prefix for a discipline.
func Glyph(d model.Discipline) string {
	switch d {
	case model.DisciplineCycling:
		return "🚴"
	case model.DisciplineRunning:
		return "🏃"
	case model.DisciplineSwimming:
		return "🏊"
	default:
		return "🏋️"
	}
}

// Format turns a session into event field values. It has no side effects.
func Format(s model.PlannedSession, loc *time.Location) (EventFields, error) {
	if loc == nil {
		loc = time.Local
	}
	day, ok := s.Day(loc)
	if !ok {
		return EventFields{}, fmt.Errorf("%w: %q", ErrUnresolvableDate, s.Date)
	}

	minutes := s.DurationMinutes
	if minutes < 0 {
		minutes = 0
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), startHour, 0, 0, 0, loc)

	return EventFields{
		Title:  Glyph(s.Discipline) + " " + s.Name,
		Start:  start,
		End:    start.Add(time.Duration(minutes) * time.Minute),
		Notes:  formatNotes(s, minutes),
		Alarms: []time.Duration{alarmOffset},
	}, nil
}

func formatNotes(s model.PlannedSession, minutes int) string {
	var lines []string
	add := func(label, v string) {
		if v = strings.TrimSpace(v); v != "" {
			lines = append(lines, label+": "+v)
		}
	}

	add("Intensity", s.Intensity)
	add("Distance", s.Distance)
	lines = append(lines, "Duration: "+formatDuration(minutes))
	add("TSS", s.TSS)

	if d := strings.TrimSpace(s.Description); d != "" {
		lines = append(lines, "", d)
	}
	if d := strings.TrimSpace(s.WorkoutDescription); d != "" {
		lines = append(lines, "", "Workout:", d)
	}
	if d := strings.TrimSpace(s.CoachDescription); d != "" {
		lines = append(lines, "", "Coach notes:", d)
	}
	lines = append(lines, "", attribution)

	return strings.Join(lines, "\n")
}

func formatDuration(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%d min", minutes)
	}
	return fmt.Sprintf("%dh%02d", minutes/60, minutes%60)
}

// apply copies formatted fields onto an event, keeping its identity.
func (f EventFields) apply(ev Event) Event {
	ev.Title = f.Title
	ev.Start = f.Start
	ev.End = f.End
	ev.Notes = f.Notes
	ev.Alarms = append([]time.Duration(nil), f.Alarms...)
	return ev
}

// matches reports whether ev already carries these fields.
func (f EventFields) matches(ev Event) bool {
	if ev.Title != f.Title || ev.Notes != f.Notes {
		return false
	}
	if !ev.Start.Equal(f.Start) || !ev.End.Equal(f.End) {
		return false
	}
	if len(ev.Alarms) != len(f.Alarms) {
		return false
	}
	for i := range f.Alarms {
		if ev.Alarms[i] != f.Alarms[i] {
			return false
		}
	}
	return true
}
