package model

import (
	"testing"
	"time"
)

func TestEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		event   Event
		wantErr bool
	}{
		{
			name:  "valid",
			event: Event{Title: "Meetup", Date: "2026-05-01", Time: "18:30"},
		},
		{
			name:    "missing title",
			event:   Event{Date: "2026-05-01", Time: "18:30"},
			wantErr: true,
		},
		{
			name:    "missing date and time",
			event:   Event{Title: "Meetup"},
			wantErr: true,
		},
		{
			name:    "malformed date",
			event:   Event{Title: "Meetup", Date: "05/01/2026", Time: "18:30"},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.event.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestOccurrenceEvent(t *testing.T) {
	loc := time.FixedZone("KST", 9*3600)
	occ := Occurrence{
		Summary:  "Standup",
		Location: "Room 1",
		Start:    time.Date(2026, 3, 2, 9, 15, 0, 0, loc),
	}

	ev := occ.Event()
	if ev.Date != "2026-03-02" || ev.Time != "09:15" {
		t.Fatalf("unexpected date/time: %s %s", ev.Date, ev.Time)
	}
	if ev.Title != "Standup" || ev.Location != "Room 1" {
		t.Fatalf("unexpected fields: %+v", ev)
	}

	start, err := ev.StartsAt(loc)
	if err != nil {
		t.Fatalf("StartsAt: %v", err)
	}
	if !start.Equal(occ.Start) {
		t.Fatalf("StartsAt = %v, want %v", start, occ.Start)
	}

	occ.AllDay = true
	if got := occ.Event().Time; got != "00:00" {
		t.Fatalf("all-day time = %q, want 00:00", got)
	}
}
