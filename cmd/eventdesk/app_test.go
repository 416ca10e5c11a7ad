package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"eventdesk/internal/api/apitest"
	"eventdesk/internal/config"
	"eventdesk/internal/model"
)

func newTestApp(t *testing.T) (*app, *apitest.Server, *bytes.Buffer) {
	t.Helper()

	backend := apitest.NewServer(t,
		model.Event{ID: "e1", Title: "Web Dev Networking", Description: "Meet devs", Date: "2026-05-01", Time: "18:00", Location: "Berlin", Image: "images/meeting.jpg"},
		model.Event{ID: "e2", Title: "Hiking", Date: "2026-05-03", Time: "09:30", Location: "Alps"},
	)

	cfg := config.DefaultConfig()
	cfg.BaseURL = backend.URL
	cfg.Import.Timezone = "UTC"
	cfg.Import.CacheDir = t.TempDir()

	var out bytes.Buffer
	a, err := newApp(cfg, &out)
	if err != nil {
		t.Fatal(err)
	}
	return a, backend, &out
}

func runCmd(t *testing.T, a *app, args ...string) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.run(ctx, args)
}

func TestRecentAndSearch(t *testing.T) {
	a, _, out := newTestApp(t)

	if err := runCmd(t, a, "recent"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Recently added events") || !strings.Contains(out.String(), "Hiking") {
		t.Fatalf("recent output:\n%s", out)
	}

	out.Reset()
	if err := runCmd(t, a, "search", "web"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Web Dev Networking") || strings.Contains(out.String(), "Hiking") {
		t.Fatalf("search output:\n%s", out)
	}
}

func TestShowReportsBackendError(t *testing.T) {
	a, _, out := newTestApp(t)

	if err := runCmd(t, a, "show", "missing"); err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(out.String(), "An error occurred") {
		t.Fatalf("output:\n%s", out)
	}
}

func TestCreateEditDelete(t *testing.T) {
	a, backend, out := newTestApp(t)

	err := runCmd(t, a, "create", "-title", "Book club", "-date", "2026-06-01", "-time", "19:00", "-location", "Library")
	if err != nil {
		t.Fatal(err)
	}
	if len(backend.Events()) != 3 {
		t.Fatalf("backend holds %d events", len(backend.Events()))
	}

	if err := runCmd(t, a, "edit", "-title", "Web Dev Meetup", "e1"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Web Dev Meetup") {
		t.Fatalf("edit output:\n%s", out)
	}
	for _, ev := range backend.Events() {
		if ev.ID == "e1" && (ev.Title != "Web Dev Meetup" || ev.Location != "Berlin") {
			t.Fatalf("edited event = %+v", ev)
		}
	}

	if err := runCmd(t, a, "delete", "e2"); err != nil {
		t.Fatal(err)
	}
	if len(backend.Events()) != 2 {
		t.Fatalf("backend holds %d events after delete", len(backend.Events()))
	}
	if got := a.nav.Current(); got != "/events" {
		t.Fatalf("location after delete = %s", got)
	}
}

func TestCreateRejectsIncompleteEvent(t *testing.T) {
	a, backend, _ := newTestApp(t)

	if err := runCmd(t, a, "create", "-title", "No date"); err == nil {
		t.Fatal("expected validation error")
	}
	if n := backend.Count(http.MethodPost, "/events"); n != 0 {
		t.Fatalf("create requests = %d", n)
	}
}

func TestDeleteFailureShowsDialogError(t *testing.T) {
	a, backend, out := newTestApp(t)
	backend.FailNext(http.MethodDelete, "/events/e1", http.StatusInternalServerError, "Could not delete event.")

	if err := runCmd(t, a, "delete", "e1"); err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(out.String(), "Request Failed: Could not delete event.") {
		t.Fatalf("output:\n%s", out)
	}
}

func TestExportAndImport(t *testing.T) {
	a, backend, out := newTestApp(t)
	path := filepath.Join(t.TempDir(), "events.ics")

	if err := runCmd(t, a, "export", "-o", path); err != nil {
		t.Fatal(err)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "UID:e1@eventdesk") {
		t.Fatalf("export:\n%s", body)
	}

	a.cfg.Import.BackfillDays = 3650
	if err := runCmd(t, a, "import", "-dry-run", path); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "2026-05-03 09:30\tHiking\tAlps") {
		t.Fatalf("dry run output:\n%s", out)
	}
	if n := backend.Count(http.MethodPost, "/events"); n != 0 {
		t.Fatalf("dry run created %d events", n)
	}
}

func TestUnknownCommand(t *testing.T) {
	a, _, _ := newTestApp(t)
	if err := runCmd(t, a, "frobnicate"); !errors.Is(err, errUsage) {
		t.Fatalf("err = %v", err)
	}
}
