package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "eventdesk/internal/log"
)

var (
	ErrEmptyCalendar = errors.New("ics: empty calendar")
	ErrMissingUID    = errors.New("ics: VEVENT without UID")
	ErrMissingStart  = errors.New("ics: VEVENT without DTSTART")
)

// Component is a VEVENT reduced to what import needs. Recurrences are kept
// as raw rules; Expand turns them into occurrences.
type Component struct {
	UID string
	Seq int

	Summary     string
	Description string
	Location    string

	Start  time.Time
	End    time.Time
	AllDay bool

	RRule   string
	ExDates []time.Time
	// RecurrenceID is set on overrides of a single recurring instance.
	RecurrenceID *time.Time
}

// IsOverride reports whether c replaces one instance of a recurring event.
func (c Component) IsOverride() bool {
	return c.RecurrenceID != nil
}

// Parse reads every VEVENT of an ICS payload. Broken events are logged and
// skipped; only an unreadable calendar fails the call.
func Parse(body []byte) ([]Component, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyCalendar
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	out := make([]Component, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		c, err := parseEvent(ve)
		if err != nil {
			appLog.Warn("ics event skipped", "err", err)
			continue
		}
		out = append(out, c)
	}

	appLog.Debug("ics parsed", "events", len(out))
	return out, nil
}

func parseEvent(ve *ical.VEvent) (Component, error) {
	var c Component

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || strings.TrimSpace(uid.Value) == "" {
		return c, ErrMissingUID
	}
	c.UID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
			c.Seq = n
		}
	}
	c.Summary = propValue(ve, ical.ComponentPropertySummary)
	c.Description = propValue(ve, ical.ComponentPropertyDescription)
	c.Location = propValue(ve, ical.ComponentPropertyLocation)

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return c, fmt.Errorf("%s: %w", c.UID, ErrMissingStart)
	}
	c.AllDay = isDateValue(dtStart)

	start, err := ve.GetStartAt()
	if err != nil {
		return c, fmt.Errorf("%s: DTSTART: %w", c.UID, err)
	}
	c.Start = start

	if end, err := ve.GetEndAt(); err == nil {
		c.End = end
	}
	if !c.End.After(c.Start) {
		if c.AllDay {
			c.End = c.Start.AddDate(0, 0, 1)
		} else {
			c.End = c.Start.Add(time.Hour)
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		c.RRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := paramLocation(p, c.Start.Location())
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseTime(part, loc); err == nil {
				c.ExDates = append(c.ExDates, t)
			}
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRecurrenceId); p != nil {
		t, err := parseTime(p.Value, paramLocation(p, c.Start.Location()))
		if err != nil {
			return c, fmt.Errorf("%s: RECURRENCE-ID: %w", c.UID, err)
		}
		c.RecurrenceID = &t
	}

	return c, nil
}

func propValue(ve *ical.VEvent, prop ical.ComponentProperty) string {
	if p := ve.GetProperty(prop); p != nil {
		return p.Value
	}
	return ""
}

// isDateValue detects VALUE=DATE or a bare YYYYMMDD value.
func isDateValue(p *ical.IANAProperty) bool {
	if vs := p.ICalParameters["VALUE"]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// paramLocation resolves the TZID parameter of p, falling back to def.
func paramLocation(p *ical.IANAProperty, def *time.Location) *time.Location {
	if tz := p.ICalParameters["TZID"]; len(tz) > 0 {
		if loc, err := time.LoadLocation(tz[0]); err == nil {
			return loc
		}
	}
	return def
}

// parseTime reads DATE, local DATE-TIME and UTC DATE-TIME values.
func parseTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if loc == nil {
		loc = time.Local
	}
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
