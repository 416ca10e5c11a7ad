package model

import (
	"fmt"
	"strings"
	"time"
)

// Wire layouts for Event.Date and Event.Time as the backend stores them.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Event is a single event as exchanged with the events backend.
// ID is assigned by the server on create and is empty on drafts.
type Event struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Location    string `json:"location"`
	// Image is a path relative to the backend base URL.
	Image string `json:"image"`
}

// Image is one of the selectable event images offered by the backend.
type Image struct {
	Path    string `json:"path"`
	Caption string `json:"caption"`
}

// Validate checks the fields the backend rejects when missing.
func (e Event) Validate() error {
	var missing []string
	if strings.TrimSpace(e.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(e.Date) == "" {
		missing = append(missing, "date")
	}
	if strings.TrimSpace(e.Time) == "" {
		missing = append(missing, "time")
	}
	if len(missing) > 0 {
		return fmt.Errorf("validate event: missing %s", strings.Join(missing, ", "))
	}
	if _, err := e.StartsAt(time.UTC); err != nil {
		return fmt.Errorf("validate event: %w", err)
	}
	return nil
}

// StartsAt combines Date and Time into an instant in loc.
func (e Event) StartsAt(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout, e.Date+" "+e.Time, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse start %q %q: %w", e.Date, e.Time, err)
	}
	return t, nil
}

// FromTime fills Date and Time from t.
func (e *Event) FromTime(t time.Time) {
	e.Date = t.Format(DateLayout)
	e.Time = t.Format(TimeLayout)
}

// Occurrence is a single concrete instance of an imported calendar event
// after recurrence expansion and timezone normalization.
type Occurrence struct {
	SourceID string
	UID      string

	// InstanceKey identifies one occurrence of a recurring event,
	// derived from the local start time.
	InstanceKey string

	Summary     string
	Description string
	Location    string

	AllDay bool

	Start time.Time
	End   time.Time
}

// Event converts the occurrence into an event draft for the backend.
func (o Occurrence) Event() Event {
	ev := Event{
		Title:       o.Summary,
		Description: o.Description,
		Location:    o.Location,
	}
	ev.FromTime(o.Start)
	if o.AllDay {
		ev.Time = "00:00"
	}
	return ev
}
