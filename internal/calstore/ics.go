package calstore

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"coachcal/internal/atomicfile"
	"coachcal/internal/calsync"
	appLog "coachcal/internal/log"
)

const productID = "-//coachcal//training calendar//EN"

// readContainer parses one container file. A missing file is an empty
// container.
func readContainer(path, containerID string) ([]calsync.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	events := make([]calsync.Event, 0)
	for _, ve := range cal.Events() {
		ev, perr := parseVEvent(ve, containerID)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Error("calstore: vevent parse failed", perr, "container_id", containerID)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func parseVEvent(ve *ical.VEvent, containerID string) (calsync.Event, error) {
	ev := calsync.Event{ContainerID: containerID}

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return ev, errors.New("missing UID")
	}
	ev.ID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.Title = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		ev.Notes = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return ev, fmt.Errorf("event %s: DTSTART: %w", ev.ID, err)
	}
	end, err := ve.GetEndAt()
	if err != nil {
		end = start
	}
	ev.Start = start
	ev.End = end

	for _, alarm := range ve.Alarms() {
		p := alarm.GetProperty(ical.ComponentPropertyTrigger)
		if p == nil {
			continue
		}
		d, err := parseTrigger(p.Value)
		if err != nil {
			appLog.Debug("calstore: unsupported alarm trigger", "event_id", ev.ID, "trigger", p.Value)
			continue
		}
		ev.Alarms = append(ev.Alarms, d)
	}
	return ev, nil
}

// writeContainer serializes the container's events into path atomically.
func writeContainer(path, title string, events []calsync.Event, now time.Time) error {
	return atomicfile.WriteFile(path, encodeContainer(title, events, now), 0o600)
}

// encodeContainer renders one VCALENDAR. TEXT escaping is left to the
// library in both directions.
func encodeContainer(title string, events []calsync.Event, now time.Time) []byte {
	cal := ical.NewCalendar()
	cal.SetProductId(productID)
	cal.SetXWRCalName(title)

	for _, ev := range events {
		ve := cal.AddEvent(ev.ID)
		ve.SetDtStampTime(now)
		ve.SetStartAt(ev.Start)
		ve.SetEndAt(ev.End)
		ve.SetSummary(ev.Title)
		if ev.Notes != "" {
			ve.SetDescription(ev.Notes)
		}
		for _, d := range ev.Alarms {
			alarm := ve.AddAlarm()
			alarm.SetAction(ical.ActionDisplay)
			alarm.SetTrigger(formatTrigger(d))
			alarm.SetProperty(ical.ComponentPropertyDescription, "Reminder")
		}
	}
	return []byte(cal.Serialize())
}

// formatTrigger renders an alarm offset as an RFC 5545 duration, e.g. -PT1H.
func formatTrigger(d time.Duration) string {
	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}
	b.WriteString("PT")
	secs := int64(d / time.Second)
	h, m, s := secs/3600, (secs%3600)/60, secs%60
	if h > 0 {
		b.WriteString(strconv.FormatInt(h, 10) + "H")
	}
	if m > 0 {
		b.WriteString(strconv.FormatInt(m, 10) + "M")
	}
	if s > 0 || (h == 0 && m == 0) {
		b.WriteString(strconv.FormatInt(s, 10) + "S")
	}
	return b.String()
}

// parseTrigger parses the relative duration form of a TRIGGER value
// ([+-]P[nW][nD][T[nH][nM][nS]]). Absolute date-time triggers are rejected.
func parseTrigger(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	sign := time.Duration(1)
	switch {
	case strings.HasPrefix(v, "-"):
		sign, v = -1, v[1:]
	case strings.HasPrefix(v, "+"):
		v = v[1:]
	}
	if !strings.HasPrefix(v, "P") || len(v) < 3 {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	v = v[1:]

	var total time.Duration
	inTime := false
	num := ""
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
		case r == 'T':
			inTime = true
		default:
			if num == "" {
				return 0, fmt.Errorf("invalid duration %q", v)
			}
			n, _ := strconv.ParseInt(num, 10, 64)
			num = ""
			unit, ok := durationUnit(r, inTime)
			if !ok {
				return 0, fmt.Errorf("invalid duration unit %q", r)
			}
			total += time.Duration(n) * unit
		}
	}
	if num != "" {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return sign * total, nil
}

func durationUnit(r rune, inTime bool) (time.Duration, bool) {
	if inTime {
		switch r {
		case 'H':
			return time.Hour, true
		case 'M':
			return time.Minute, true
		case 'S':
			return time.Second, true
		}
		return 0, false
	}
	switch r {
	case 'W':
		return 7 * 24 * time.Hour, true
	case 'D':
		return 24 * time.Hour, true
	}
	return 0, false
}
