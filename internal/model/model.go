package model

import (
	"strings"
	"time"
)

// Discipline is the sport a planned session belongs to.
type Discipline string

const (
	DisciplineCycling  Discipline = "cycling"
	DisciplineRunning  Discipline = "running"
	DisciplineSwimming Discipline = "swimming"
	DisciplineOther    Discipline = "other"
)

// ParseDiscipline maps free-form input onto the closed discipline set.
// Unknown values become DisciplineOther.
func ParseDiscipline(s string) Discipline {
	switch Discipline(strings.ToLower(strings.TrimSpace(s))) {
	case DisciplineCycling, "bike", "velo":
		return DisciplineCycling
	case DisciplineRunning, "run":
		return DisciplineRunning
	case DisciplineSwimming, "swim":
		return DisciplineSwimming
	default:
		return DisciplineOther
	}
}

// UnmarshalYAML normalizes the discipline while decoding schedule files.
func (d *Discipline) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	*d = ParseDiscipline(raw)
	return nil
}

// PlannedSession is one training session produced by the scheduling side.
// The sync engine only ever reads it.
type PlannedSession struct {
	// CanonicalID is stable across regenerations of the same logical session.
	CanonicalID string `yaml:"id" json:"id"`

	// Date is a calendar day. Time-of-day, if present, is ignored.
	Date string `yaml:"date" json:"date"`

	DurationMinutes int        `yaml:"duration_minutes" json:"duration_minutes"`
	Discipline      Discipline `yaml:"discipline" json:"discipline"`
	Name            string     `yaml:"name" json:"name"`

	// Optional display fields. Empty means absent.
	Intensity          string `yaml:"intensity,omitempty" json:"intensity,omitempty"`
	Distance           string `yaml:"distance,omitempty" json:"distance,omitempty"`
	TSS                string `yaml:"tss,omitempty" json:"tss,omitempty"`
	Description        string `yaml:"description,omitempty" json:"description,omitempty"`
	WorkoutDescription string `yaml:"workout_description,omitempty" json:"workout_description,omitempty"`
	CoachDescription   string `yaml:"coach_description,omitempty" json:"coach_description,omitempty"`
}

// dateLayouts are tried in order when resolving PlannedSession.Date.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// Day resolves the session date to midnight of that calendar day in loc.
// The second return value is false when the date cannot be resolved.
func (s PlannedSession) Day(loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	raw := strings.TrimSpace(s.Date)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		// Only the written calendar day matters, not the instant.
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), true
	}
	return time.Time{}, false
}

// CycleSchedule is the unit of work for one reconciliation pass, typically a
// training block.
type CycleSchedule struct {
	ID       string           `yaml:"id" json:"id"`
	Name     string           `yaml:"name" json:"name"`
	Sessions []PlannedSession `yaml:"sessions" json:"sessions"`
}
