package ics

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	"eventdesk/internal/model"
)

// ProductID identifies exported calendars.
const ProductID = "-//eventdesk//Events Export//EN"

// ExportOptions tunes Export.
type ExportOptions struct {
	// Name is written as X-WR-CALNAME when set.
	Name string
	// Location interprets the wall-clock Date and Time of events; nil means
	// time.Local.
	Location *time.Location
	// Duration is the length given to every event; zero means one hour.
	Duration time.Duration
	// ImageURL resolves event images to absolute URLs; nil skips URL.
	ImageURL func(image string) string
	// Now stamps DTSTAMP; zero means time.Now.
	Now time.Time
}

// Export renders events as an ICS calendar. Events without an ID or with an
// unparsable date are rejected.
func Export(events []model.Event, opts ExportOptions) (string, error) {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Duration <= 0 {
		opts.Duration = time.Hour
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	cal := ical.NewCalendar()
	cal.SetProductId(ProductID)
	cal.SetMethod(ical.MethodPublish)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}

	for _, ev := range events {
		if ev.ID == "" {
			return "", fmt.Errorf("export %q: missing id", ev.Title)
		}
		start, err := ev.StartsAt(opts.Location)
		if err != nil {
			return "", fmt.Errorf("export %s: %w", ev.ID, err)
		}

		ve := cal.AddEvent(ev.ID + "@eventdesk")
		ve.SetDtStampTime(opts.Now)
		ve.SetStartAt(start)
		ve.SetEndAt(start.Add(opts.Duration))
		ve.SetSummary(ev.Title)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if ev.Location != "" {
			ve.SetLocation(ev.Location)
		}
		if opts.ImageURL != nil && ev.Image != "" {
			ve.SetURL(opts.ImageURL(ev.Image))
		}
	}
	return cal.Serialize(), nil
}
