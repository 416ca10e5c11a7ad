package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "eventdesk/internal/log"
	"eventdesk/internal/model"
)

// DefaultLimit caps the occurrences produced per recurring event.
const DefaultLimit = 500

// Window bounds an expansion.
type Window struct {
	Start time.Time
	End   time.Time
	// Location is the zone occurrences are converted to; nil means
	// time.Local.
	Location *time.Location
	// Limit caps occurrences per UID; zero means DefaultLimit.
	Limit int
}

// Expansion is the result of Expand.
type Expansion struct {
	// Occurrences are ordered by start time.
	Occurrences []model.Occurrence
	// Truncated lists UIDs that reached the limit.
	Truncated []string
}

// Expand turns components into concrete occurrences that overlap w. It
// applies RRULE, EXDATE and RECURRENCE-ID overrides.
func Expand(components []Component, w Window) (Expansion, error) {
	var res Expansion
	if w.End.Before(w.Start) {
		return res, errors.New("expand: window end before start")
	}
	if w.Location == nil {
		w.Location = time.Local
	}
	if w.Limit <= 0 {
		w.Limit = DefaultLimit
	}

	bases := make(map[string][]Component)
	overrides := make(map[string][]Component)
	var uids []string
	for _, c := range components {
		if c.IsOverride() {
			overrides[c.UID] = append(overrides[c.UID], c)
			continue
		}
		if _, seen := bases[c.UID]; !seen {
			uids = append(uids, c.UID)
		}
		bases[c.UID] = append(bases[c.UID], c)
	}
	sort.Strings(uids)

	for _, uid := range uids {
		truncated := false
		for _, base := range bases[uid] {
			occs, hit := expandComponent(base, overrides[uid], w)
			res.Occurrences = append(res.Occurrences, occs...)
			truncated = truncated || hit
		}
		if truncated {
			res.Truncated = append(res.Truncated, uid)
			appLog.Warn("ics expansion truncated", "uid", uid, "limit", w.Limit)
		}
	}

	sort.SliceStable(res.Occurrences, func(i, j int) bool {
		return res.Occurrences[i].Start.Before(res.Occurrences[j].Start)
	})
	return res, nil
}

func expandComponent(c Component, overrides []Component, w Window) ([]model.Occurrence, bool) {
	if c.RRule == "" {
		if !overlaps(c.Start, c.End, w.Start, w.End) {
			return nil, false
		}
		return []model.Occurrence{occurrence(pick(c, overrides, c.Start), w.Location)}, false
	}

	rule, err := rrule.StrToRRule(c.RRule)
	if err != nil {
		appLog.Error("ics rrule invalid", err, "uid", c.UID, "rrule", c.RRule)
		return nil, false
	}
	rule.DTStart(c.Start)

	var set rrule.Set
	set.RRule(rule)
	for _, ex := range c.ExDates {
		set.ExDate(ex.In(c.Start.Location()))
	}

	// Look back by one duration so instances already running at w.Start
	// are included.
	dur := c.End.Sub(c.Start)
	starts := set.Between(w.Start.Add(-dur).In(c.Start.Location()), w.End.In(c.Start.Location()), true)

	hit := false
	if len(starts) > w.Limit {
		starts = starts[:w.Limit]
		hit = true
	}

	out := make([]model.Occurrence, 0, len(starts))
	for _, start := range starts {
		inst := c
		inst.Start = start
		inst.End = start.Add(dur)
		if !overlaps(inst.Start, inst.End, w.Start, w.End) {
			continue
		}
		out = append(out, occurrence(pick(inst, overrides, start), w.Location))
	}
	return out, hit
}

// pick returns the override whose RECURRENCE-ID equals start, or inst.
func pick(inst Component, overrides []Component, start time.Time) Component {
	for _, o := range overrides {
		if o.RecurrenceID != nil && o.RecurrenceID.Equal(start) {
			return o
		}
	}
	return inst
}

func occurrence(c Component, loc *time.Location) model.Occurrence {
	start := c.Start.In(loc)
	end := c.End.In(loc)
	if c.AllDay {
		// Dates are floating; keep the calendar day.
		start = time.Date(c.Start.Year(), c.Start.Month(), c.Start.Day(), 0, 0, 0, 0, loc)
		end = time.Date(c.End.Year(), c.End.Month(), c.End.Day(), 0, 0, 0, 0, loc)
	}
	return model.Occurrence{
		UID:         c.UID,
		InstanceKey: c.UID + "/" + start.Format(time.RFC3339),
		Summary:     c.Summary,
		Description: c.Description,
		Location:    c.Location,
		AllDay:      c.AllDay,
		Start:       start,
		End:         end,
	}
}

// overlaps treats both ranges as half-open.
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
