package ics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	appLog "eventdesk/internal/log"
	"eventdesk/internal/model"
)

// Creator stores event drafts.
type Creator interface {
	CreateEvent(ctx context.Context, event model.Event) (model.Event, error)
}

// ImportOptions tunes an Importer.
type ImportOptions struct {
	Location *time.Location
	// Horizon and Backfill bound the expansion window around now.
	Horizon  time.Duration
	Backfill time.Duration
	// Limit caps occurrences per recurring event.
	Limit int
	// Workers bounds concurrent create requests.
	Workers int
	Now     func() time.Time
}

// Report summarizes one import.
type Report struct {
	Location    string
	FromCache   bool
	Components  int
	Occurrences int
	Created     []model.Event
	Truncated   []string
	// Err joins the failures of individual creates.
	Err error
}

// Importer turns a calendar into backend events.
type Importer struct {
	fetcher *Fetcher
	creator Creator
	opts    ImportOptions
}

// NewImporter creates an importer. Zero options fall back to a 90 day
// horizon, no backfill, DefaultLimit and four workers.
func NewImporter(fetcher *Fetcher, creator Creator, opts ImportOptions) *Importer {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Horizon <= 0 {
		opts.Horizon = 90 * 24 * time.Hour
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Importer{fetcher: fetcher, creator: creator, opts: opts}
}

// Drafts loads location and returns the event drafts it would create.
func (im *Importer) Drafts(ctx context.Context, location string) ([]model.Event, Report, error) {
	report := Report{Location: location}

	payload, err := im.fetcher.Fetch(ctx, location)
	if err != nil {
		return nil, report, err
	}
	report.FromCache = payload.FromCache

	components, err := Parse(payload.Body)
	if err != nil {
		return nil, report, err
	}
	report.Components = len(components)

	now := im.opts.Now().In(im.opts.Location)
	exp, err := Expand(components, Window{
		Start:    now.Add(-im.opts.Backfill),
		End:      now.Add(im.opts.Horizon),
		Location: im.opts.Location,
		Limit:    im.opts.Limit,
	})
	if err != nil {
		return nil, report, err
	}
	report.Occurrences = len(exp.Occurrences)
	report.Truncated = exp.Truncated

	drafts := make([]model.Event, 0, len(exp.Occurrences))
	for _, occ := range exp.Occurrences {
		drafts = append(drafts, occ.Event())
	}
	return drafts, report, nil
}

// Import creates one backend event per occurrence. Individual create
// failures are collected in Report.Err and do not stop the others.
func (im *Importer) Import(ctx context.Context, location string) (Report, error) {
	drafts, report, err := im.Drafts(ctx, location)
	if err != nil {
		return report, err
	}

	var (
		mu      sync.Mutex
		created = make([]model.Event, len(drafts))
		ok      = make([]bool, len(drafts))
		errs    []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.opts.Workers)
	for i, draft := range drafts {
		g.Go(func() error {
			ev, err := im.creator.CreateEvent(gctx, draft)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				mu.Lock()
				errs = append(errs, fmt.Errorf("create %q on %s: %w", draft.Title, draft.Date, err))
				mu.Unlock()
				return nil
			}
			created[i] = ev
			ok[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	for i := range created {
		if ok[i] {
			report.Created = append(report.Created, created[i])
		}
	}
	report.Err = errors.Join(errs...)

	appLog.Info("ics import done",
		"location", redactLocation(location),
		"occurrences", report.Occurrences,
		"created", len(report.Created),
		"failed", len(errs),
	)
	return report, nil
}

func redactLocation(location string) string {
	if isRemote(location) {
		return redactURL(location)
	}
	return location
}
