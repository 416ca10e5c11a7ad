package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"eventdesk/internal/api"
	"eventdesk/internal/config"
	"eventdesk/internal/ics"
	appLog "eventdesk/internal/log"
	"eventdesk/internal/metrics"
	"eventdesk/internal/model"
	"eventdesk/internal/query"
	"eventdesk/internal/views"
	"eventdesk/internal/web"
)

// errUsage reports a malformed command line.
var errUsage = errors.New("invalid usage")

// app wires the backend client, the query store and the screens for one
// process.
type app struct {
	cfg      *config.Config
	client   *api.Client
	store    *query.Store
	registry *prometheus.Registry
	nav      *views.History
	out      io.Writer
}

func newApp(cfg *config.Config, out io.Writer) (*app, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec, err := metrics.New(registry)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	return &app{
		cfg:      cfg,
		client:   api.NewClient(cfg.BaseURL, api.WithTimeout(cfg.HTTPTimeout)),
		store:    query.NewStore(query.WithRecorder(rec), query.WithDefaultGCTime(cfg.Cache.GCTime)),
		registry: registry,
		nav:      views.NewHistory("/events"),
		out:      out,
	}, nil
}

type command struct {
	name  string
	usage string
	help  string
	run   func(a *app, ctx context.Context, args []string) error
}

var commands = []command{
	{"recent", "recent", "show the newest events", (*app).cmdRecent},
	{"search", "search <term>", "find events matching term", (*app).cmdSearch},
	{"show", "show <id>", "show one event", (*app).cmdShow},
	{"create", "create [fields]", "create an event", (*app).cmdCreate},
	{"edit", "edit [fields] <id>", "update an event", (*app).cmdEdit},
	{"delete", "delete <id>", "delete an event", (*app).cmdDelete},
	{"images", "images", "list selectable images", (*app).cmdImages},
	{"import", "import [-dry-run] <file|url>", "create events from an iCalendar source", (*app).cmdImport},
	{"export", "export [-o file] [-search term]", "write events as iCalendar", (*app).cmdExport},
	{"watch", "watch", "keep the recent list fresh and serve HTTP", (*app).cmdWatch},
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	for _, c := range commands {
		if c.name == args[0] {
			return c.run(a, ctx, args[1:])
		}
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
}

func (a *app) cmdRecent(ctx context.Context, _ []string) error {
	v := views.NewRecentEvents(a.store, a.client)
	v.Mount(ctx)
	defer v.Unmount()

	if _, err := v.Query().Settle(ctx); err != nil {
		return err
	}
	c := v.Content()
	printList(a.out, c)
	return blockErr(c.Error)
}

func (a *app) cmdSearch(ctx context.Context, args []string) error {
	term := strings.TrimSpace(strings.Join(args, " "))

	v := views.NewFindEvents(a.store, a.client)
	v.Mount(ctx)
	defer v.Unmount()
	v.Search(term)

	if _, err := v.Query().Settle(ctx); err != nil {
		return err
	}
	c := v.Content()
	printList(a.out, c)
	return blockErr(c.Error)
}

func (a *app) cmdShow(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: show <id>", errUsage)
	}
	a.nav.Navigate("/events/" + args[0])

	v, err := a.openDetails(ctx, args[0])
	if err != nil {
		return err
	}
	defer v.Unmount()

	c := v.Content()
	printDetails(a.out, c)
	return blockErr(c.Error)
}

func (a *app) cmdCreate(ctx context.Context, args []string) error {
	fs, fields := eventFlags("create")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var ev model.Event
	fields.apply(fs, &ev)

	a.nav.Navigate("/events/new")
	v := views.NewNewEvent(a.store, a.client, a.nav)
	attempt, err := v.Submit(ctx, ev)
	if err != nil {
		return err
	}
	created, err := attempt.Wait(ctx)
	if err != nil {
		printBlock(a.out, v.Content().Error)
		return err
	}
	fmt.Fprintf(a.out, "Created %s (%s)\n", created.Title, created.ID)
	return nil
}

func (a *app) cmdEdit(ctx context.Context, args []string) error {
	fs, fields := eventFlags("edit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: edit [fields] <id>", errUsage)
	}
	id := fs.Arg(0)
	a.nav.Navigate("/events/" + id)

	details, err := a.openDetails(ctx, id)
	if err != nil {
		return err
	}
	defer details.Unmount()
	if c := details.Content(); c.Error != nil {
		printBlock(a.out, c.Error)
		return blockErr(c.Error)
	}

	ev, err := views.LoadEvent(ctx, a.store, a.client, id)
	if err != nil {
		return err
	}
	fields.apply(fs, &ev)

	edit := details.OpenEdit(ctx)

	attempt, err := edit.Submit(ctx, ev)
	if err != nil {
		return err
	}
	if _, err := attempt.Wait(ctx); err != nil {
		printBlock(a.out, details.Content().UpdateError)
		return err
	}
	printDetails(a.out, details.Content())
	return nil
}

func (a *app) cmdDelete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: delete <id>", errUsage)
	}
	a.nav.Navigate("/events/" + args[0])

	v, err := a.openDetails(ctx, args[0])
	if err != nil {
		return err
	}
	defer v.Unmount()

	v.StartDelete()
	if _, err := v.ConfirmDelete(ctx).Wait(ctx); err != nil {
		if c := v.Content(); c.Confirm != nil {
			printBlock(a.out, c.Confirm.Error)
		}
		return err
	}
	fmt.Fprintf(a.out, "Deleted %s\n", args[0])
	return nil
}

func (a *app) cmdImages(ctx context.Context, _ []string) error {
	v := views.NewImagePicker(a.store, a.client)
	v.Mount(ctx)
	defer v.Unmount()

	if _, err := v.Query().Settle(ctx); err != nil {
		return err
	}
	c := v.Content()
	if c.Error != nil {
		printBlock(a.out, c.Error)
		return blockErr(c.Error)
	}
	for _, img := range c.Images {
		fmt.Fprintf(a.out, "%s\t%s\t%s\n", img.Path, img.Caption, img.URL)
	}
	return nil
}

func (a *app) cmdImport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "print the events instead of creating them")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: import [-dry-run] <file|url>", errUsage)
	}

	im := ics.NewImporter(ics.NewFetcher(a.cfg.Import.CacheDir, a.cfg.HTTPTimeout), a.client, ics.ImportOptions{
		Location: a.cfg.Location(),
		Horizon:  time.Duration(a.cfg.Import.HorizonDays) * 24 * time.Hour,
		Backfill: time.Duration(a.cfg.Import.BackfillDays) * 24 * time.Hour,
		Limit:    a.cfg.Import.MaxOccurrences,
	})

	if *dryRun {
		drafts, report, err := im.Drafts(ctx, fs.Arg(0))
		if err != nil {
			return err
		}
		for _, ev := range drafts {
			fmt.Fprintf(a.out, "%s %s\t%s\t%s\n", ev.Date, ev.Time, ev.Title, ev.Location)
		}
		printTruncated(a.out, report.Truncated)
		return nil
	}

	report, err := im.Import(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	if len(report.Created) > 0 {
		a.store.Invalidate(query.Prefix(views.EventsCollection, nil), query.InvalidateOptions{Refetch: query.RefetchActive})
	}
	fmt.Fprintf(a.out, "Imported %d of %d occurrences\n", len(report.Created), report.Occurrences)
	printTruncated(a.out, report.Truncated)
	return report.Err
}

func (a *app) cmdExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	output := fs.String("o", "", "output file (default stdout)")
	search := fs.String("search", "", "only export events matching term")
	if err := fs.Parse(args); err != nil {
		return err
	}

	events, err := a.client.FetchEvents(ctx, api.EventFilter{Search: *search})
	if err != nil {
		return err
	}
	body, err := ics.Export(events, ics.ExportOptions{
		Name:     "EventDesk",
		Location: a.cfg.Location(),
		ImageURL: a.client.ImageURL,
	})
	if err != nil {
		return err
	}

	if *output == "" {
		_, err := io.WriteString(a.out, body)
		return err
	}
	if err := os.WriteFile(*output, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", *output, err)
	}
	appLog.Info("calendar exported", "path", *output, "events", len(events))
	return nil
}

// cmdWatch keeps the recent list mounted, runs the cache scheduler and the
// HTTP server until ctx is canceled.
func (a *app) cmdWatch(ctx context.Context, _ []string) error {
	sched, err := query.NewScheduler(a.store, a.cfg.Cache.Sweep, a.cfg.Cache.Refresh)
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	recent := views.NewRecentEvents(a.store, a.client)
	changed := make(chan struct{}, 1)
	unsubscribe := recent.Subscribe(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()
	recent.Mount(ctx)
	defer recent.Unmount()

	srv := web.NewServer(a.cfg, a.store, a.client, a.registry)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx) })
	g.Go(func() error {
		var last string
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-changed:
			}
			c := recent.Content()
			if c.Loading {
				continue
			}
			var b strings.Builder
			printList(&b, c)
			if b.String() != last {
				last = b.String()
				fmt.Fprint(a.out, last)
			}
		}
	})
	return g.Wait()
}

// openDetails mounts the details screen of id and waits for its first
// result.
func (a *app) openDetails(ctx context.Context, id string) (*views.EventDetails, error) {
	v := views.NewEventDetails(a.store, a.client, a.nav, id)
	v.Mount(ctx)
	if _, err := v.Query().Settle(ctx); err != nil {
		v.Unmount()
		return nil, err
	}
	return v, nil
}

// eventFields collects event attributes from command flags.
type eventFields struct {
	title, description, date, time, location, image string
}

func eventFlags(name string) (*flag.FlagSet, *eventFields) {
	f := &eventFields{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&f.title, "title", "", "event title")
	fs.StringVar(&f.description, "description", "", "event description")
	fs.StringVar(&f.date, "date", "", "event date (YYYY-MM-DD)")
	fs.StringVar(&f.time, "time", "", "event time (HH:MM)")
	fs.StringVar(&f.location, "location", "", "event location")
	fs.StringVar(&f.image, "image", "", "image path, see the images command")
	return fs, f
}

// apply copies the flags that were set on the command line onto ev.
func (f *eventFields) apply(fs *flag.FlagSet, ev *model.Event) {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "title":
			ev.Title = f.title
		case "description":
			ev.Description = f.description
		case "date":
			ev.Date = f.date
		case "time":
			ev.Time = f.time
		case "location":
			ev.Location = f.location
		case "image":
			ev.Image = f.image
		}
	})
}

func blockErr(b *views.ErrorBlock) error {
	if b == nil {
		return nil
	}
	return errors.New(b.Message)
}
