package calsync

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachcal/internal/model"
)

func TestFormat_FieldMapping(t *testing.T) {
	s := model.PlannedSession{
		CanonicalID:     "s1",
		Date:            "2024-06-10",
		DurationMinutes: 45,
		Discipline:      model.DisciplineRunning,
		Name:            "Tempo run",
		TSS:             "62",
	}

	f, err := Format(s, time.UTC)
	require.NoError(t, err)

	assert.Equal(t, "🏃 Tempo run", f.Title)
	assert.Equal(t, time.Date(2024, 6, 10, 7, 0, 0, 0, time.UTC), f.Start)
	assert.Equal(t, time.Date(2024, 6, 10, 7, 45, 0, 0, time.UTC), f.End)
	assert.Contains(t, strings.Split(f.Notes, "\n"), "TSS: 62")
	assert.Equal(t, []time.Duration{-time.Hour}, f.Alarms)
}

func TestFormat_IgnoresTimeOfDay(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	s := model.PlannedSession{Date: "2024-06-10T23:30:00Z", DurationMinutes: 60, Name: "x"}

	f, err := Format(s, loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 10, 7, 0, 0, 0, loc), f.Start)
}

func TestFormat_NotesOrder(t *testing.T) {
	s := model.PlannedSession{
		Date:               "2024-06-10",
		DurationMinutes:    90,
		Discipline:         model.DisciplineCycling,
		Name:               "Endurance",
		Intensity:          "Z2",
		Distance:           "60 km",
		TSS:                "80",
		Description:        "Flat route.",
		WorkoutDescription: "3x20 min steady",
		CoachDescription:   "Keep cadence high",
	}

	f, err := Format(s, time.UTC)
	require.NoError(t, err)

	want := strings.Join([]string{
		"Intensity: Z2",
		"Distance: 60 km",
		"Duration: 1h30",
		"TSS: 80",
		"",
		"Flat route.",
		"",
		"Workout:",
		"3x20 min steady",
		"",
		"Coach notes:",
		"Keep cadence high",
		"",
		"Synced from coachcal",
	}, "\n")
	assert.Equal(t, want, f.Notes)
}

func TestFormat_OmitsAbsentFields(t *testing.T) {
	s := model.PlannedSession{Date: "2024-06-10", DurationMinutes: 30, Name: "Drills", Discipline: model.DisciplineSwimming}

	f, err := Format(s, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "Duration: 30 min\n\nSynced from coachcal", f.Notes)
	assert.Equal(t, "🏊 Drills", f.Title)
}

func TestFormat_UnresolvableDate(t *testing.T) {
	for _, date := range []string{"", "next tuesday", "10/06/2024"} {
		_, err := Format(model.PlannedSession{Date: date}, time.UTC)
		assert.True(t, errors.Is(err, ErrUnresolvableDate), "date %q", date)
	}
}

func TestGlyph(t *testing.T) {
	assert.Equal(t, "🚴", Glyph(model.DisciplineCycling))
	assert.Equal(t, "🏋️", Glyph(model.DisciplineOther))
	assert.Equal(t, "🏋️", Glyph(""))
}
