// Package schedule reads the planned training sessions the sync engine
// reconciles against.
//
// A schedule file is YAML (JSON is accepted too) holding one or more cycles:
//
//	active: base-2024
//	cycles:
//	  - id: base-2024
//	    name: Base block
//	    start: 2024-06-03
//	    end: 2024-06-30
//	    sessions:
//	      - id: s1
//	        date: 2024-06-10
//	        duration_minutes: 45
//	        discipline: run
//	        name: Tempo
//	    templates:
//	      - id: long-ride
//	        rrule: FREQ=WEEKLY;BYDAY=SA
//	        duration_minutes: 180
//	        discipline: bike
//	        name: Long ride
//
// Templates expand within [start, end] into sessions whose id is
// "<template id>@<YYYY-MM-DD>".
package schedule

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
	"gopkg.in/yaml.v3"

	appLog "coachcal/internal/log"
	"coachcal/internal/model"
)

const (
	dayLayout = "2006-01-02"

	// maxOccurrencesPerTemplate caps runaway rules such as FREQ=HOURLY.
	maxOccurrencesPerTemplate = 1000
)

var (
	ErrNoActiveCycle = errors.New("schedule: no active cycle")
	ErrCycleNotFound = errors.New("schedule: cycle not found")
)

// Template is a recurring session. Its embedded session id becomes the
// prefix of every generated occurrence id; its date is ignored.
type Template struct {
	RRule   string               `yaml:"rrule"`
	Session model.PlannedSession `yaml:",inline"`
}

type Cycle struct {
	ID        string                 `yaml:"id"`
	Name      string                 `yaml:"name"`
	Start     string                 `yaml:"start,omitempty"`
	End       string                 `yaml:"end,omitempty"`
	Sessions  []model.PlannedSession `yaml:"sessions"`
	Templates []Template             `yaml:"templates,omitempty"`
}

// File is the decoded schedule document.
type File struct {
	Active string  `yaml:"active,omitempty"`
	Cycles []Cycle `yaml:"cycles"`
}

// Parse decodes a schedule document.
func Parse(data []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("schedule: decode: %w", err)
	}
	return f, nil
}

// ReadFile loads and decodes the schedule file at path.
func ReadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("schedule: read %s: %w", path, err)
	}
	return Parse(data)
}

// Select picks the cycle to reconcile: the one named by Active, else the
// only cycle, else the single cycle whose [start, end] contains now.
func (f File) Select(now time.Time, loc *time.Location) (Cycle, error) {
	if f.Active != "" {
		for _, c := range f.Cycles {
			if c.ID == f.Active {
				return c, nil
			}
		}
		return Cycle{}, fmt.Errorf("%w: %s", ErrCycleNotFound, f.Active)
	}

	switch len(f.Cycles) {
	case 0:
		return Cycle{}, ErrNoActiveCycle
	case 1:
		return f.Cycles[0], nil
	}

	if loc == nil {
		loc = time.Local
	}
	y, m, d := now.In(loc).Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, loc)
	var match []Cycle
	for _, c := range f.Cycles {
		start, end, err := c.bounds(loc)
		if err != nil {
			continue
		}
		if !today.Before(start) && !today.After(end) {
			match = append(match, c)
		}
	}
	if len(match) != 1 {
		return Cycle{}, ErrNoActiveCycle
	}
	return match[0], nil
}

// Expand returns the cycle as the engine consumes it: explicit sessions in
// file order followed by template occurrences in date order. An explicit
// session wins over a generated one with the same id.
func (c Cycle) Expand(loc *time.Location) (model.CycleSchedule, error) {
	if loc == nil {
		loc = time.Local
	}
	out := model.CycleSchedule{
		ID:       c.ID,
		Name:     c.Name,
		Sessions: append([]model.PlannedSession(nil), c.Sessions...),
	}
	if len(c.Templates) == 0 {
		return out, nil
	}

	start, end, err := c.bounds(loc)
	if err != nil {
		return model.CycleSchedule{}, err
	}

	seen := make(map[string]struct{}, len(out.Sessions))
	for _, s := range out.Sessions {
		seen[s.CanonicalID] = struct{}{}
	}

	for _, tmpl := range c.Templates {
		days, err := tmpl.occurrences(start, end)
		if err != nil {
			return model.CycleSchedule{}, fmt.Errorf("schedule: cycle %s: %w", c.ID, err)
		}
		for _, day := range days {
			s := tmpl.Session
			s.Date = day.Format(dayLayout)
			s.CanonicalID = tmpl.Session.CanonicalID + "@" + s.Date
			if _, dup := seen[s.CanonicalID]; dup {
				continue
			}
			seen[s.CanonicalID] = struct{}{}
			out.Sessions = append(out.Sessions, s)
		}
	}
	return out, nil
}

// bounds returns midnight of the first and last day of the cycle.
func (c Cycle) bounds(loc *time.Location) (time.Time, time.Time, error) {
	if c.Start == "" || c.End == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("schedule: cycle %s: start and end are required", c.ID)
	}
	start, err := time.ParseInLocation(dayLayout, strings.TrimSpace(c.Start), loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("schedule: cycle %s: start: %w", c.ID, err)
	}
	end, err := time.ParseInLocation(dayLayout, strings.TrimSpace(c.End), loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("schedule: cycle %s: end: %w", c.ID, err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("schedule: cycle %s: end before start", c.ID)
	}
	return start, end, nil
}

func (t Template) occurrences(start, end time.Time) ([]time.Time, error) {
	if t.Session.CanonicalID == "" {
		return nil, errors.New("template without id")
	}
	r, err := rrule.StrToRRule(t.RRule)
	if err != nil {
		return nil, fmt.Errorf("template %s: rrule: %w", t.Session.CanonicalID, err)
	}
	r.DTStart(start)

	// end is the last day, inclusive.
	times := r.Between(start, end.AddDate(0, 0, 1).Add(-time.Second), true)
	if len(times) > maxOccurrencesPerTemplate {
		appLog.Error("schedule: template truncated", errors.New("too many occurrences"),
			"template", t.Session.CanonicalID, "count", len(times), "cap", maxOccurrencesPerTemplate)
		times = times[:maxOccurrencesPerTemplate]
	}

	// Several occurrences on one day collapse to one session.
	days := make([]time.Time, 0, len(times))
	var last string
	for _, ts := range times {
		key := ts.Format(dayLayout)
		if key == last {
			continue
		}
		last = key
		days = append(days, ts)
	}
	return days, nil
}
