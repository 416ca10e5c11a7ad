package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"eventdesk/internal/api"
	"eventdesk/internal/api/apitest"
	"eventdesk/internal/model"
)

func seedEvents() []model.Event {
	return []model.Event{
		{ID: "e1", Title: "Web Dev Networking", Date: "2026-05-01", Time: "18:00", Location: "Berlin"},
		{ID: "e2", Title: "City Hiking", Date: "2026-05-03", Time: "09:00", Location: "Alps"},
		{ID: "e3", Title: "Cooking Class", Date: "2026-05-07", Time: "17:30", Location: "Rome"},
		{ID: "e4", Title: "Board Games Night", Date: "2026-05-09", Time: "20:00", Location: "Berlin"},
	}
}

func TestFetchEventsFilters(t *testing.T) {
	srv := apitest.NewServer(t, seedEvents()...)
	client := api.NewClient(srv.URL)
	ctx := context.Background()

	all, err := client.FetchEvents(ctx, api.EventFilter{})
	if err != nil {
		t.Fatalf("FetchEvents: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("got %d events, want 4", len(all))
	}

	recent, err := client.FetchEvents(ctx, api.EventFilter{Max: 3})
	if err != nil {
		t.Fatalf("FetchEvents max: %v", err)
	}
	if len(recent) != 3 || recent[0].ID != "e2" {
		t.Fatalf("unexpected recent events: %+v", recent)
	}

	found, err := client.FetchEvents(ctx, api.EventFilter{Search: "berlin"})
	if err != nil {
		t.Fatalf("FetchEvents search: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("got %d search hits, want 2", len(found))
	}

	none, err := client.FetchEvents(ctx, api.EventFilter{Search: "nothing-matches"})
	if err != nil {
		t.Fatalf("FetchEvents empty search: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", none)
	}
}

func TestEventCRUD(t *testing.T) {
	srv := apitest.NewServer(t)
	client := api.NewClient(srv.URL + "/")
	ctx := context.Background()

	created, err := client.CreateEvent(ctx, model.Event{Title: "Launch", Date: "2026-06-01", Time: "10:00"})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected server-assigned id")
	}

	created.Title = "Launch party"
	updated, err := client.UpdateEvent(ctx, created.ID, created)
	if err != nil {
		t.Fatalf("UpdateEvent: %v", err)
	}
	if updated.Title != "Launch party" || updated.ID != created.ID {
		t.Fatalf("unexpected update result: %+v", updated)
	}

	got, err := client.FetchEvent(ctx, created.ID)
	if err != nil {
		t.Fatalf("FetchEvent: %v", err)
	}
	if got.Title != "Launch party" {
		t.Fatalf("FetchEvent title = %q", got.Title)
	}

	if err := client.DeleteEvent(ctx, created.ID); err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}
	if len(srv.Events()) != 0 {
		t.Fatalf("expected backend to be empty, got %+v", srv.Events())
	}
}

func TestHTTPErrorCarriesStatusAndMessage(t *testing.T) {
	srv := apitest.NewServer(t)
	client := api.NewClient(srv.URL)

	_, err := client.FetchEvent(context.Background(), "missing")
	var httpErr *api.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %T %v", err, err)
	}
	if httpErr.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", httpErr.StatusCode)
	}
	if httpErr.Message != "An error occurred while fetching the event" {
		t.Fatalf("message = %q", httpErr.Message)
	}
	if got := api.ErrorMessage(err, "fallback"); got != "Event not found." {
		t.Fatalf("ErrorMessage = %q", got)
	}
	if api.StatusCode(err) != http.StatusNotFound {
		t.Fatalf("StatusCode = %d", api.StatusCode(err))
	}
	if api.IsCanceled(err) {
		t.Fatal("HTTP error must not count as cancellation")
	}
}

func TestPlainTextErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "502 Bad Gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := api.NewClient(srv.URL).FetchEvents(context.Background(), api.EventFilter{})
	var httpErr *api.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %T %v", err, err)
	}
	if httpErr.Body != nil || httpErr.Info != nil {
		t.Fatalf("non-JSON body kept as JSON: body=%q info=%+v", httpErr.Body, httpErr.Info)
	}
	if httpErr.Text != "502 Bad Gateway\n" {
		t.Fatalf("Text = %q", httpErr.Text)
	}
	if _, err := json.Marshal(httpErr); err != nil {
		t.Fatalf("marshal HTTPError: %v", err)
	}
	if got := api.ErrorMessage(err, "fallback"); got != "fallback" {
		t.Fatalf("ErrorMessage = %q", got)
	}
}

func TestCreateEventValidationError(t *testing.T) {
	srv := apitest.NewServer(t)
	client := api.NewClient(srv.URL)

	_, err := client.CreateEvent(context.Background(), model.Event{Title: "no date"})
	if api.StatusCode(err) != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
	if got := api.ErrorMessage(err, "fallback"); got != "Invalid data provided." {
		t.Fatalf("ErrorMessage = %q", got)
	}
}

func TestCanceledRequest(t *testing.T) {
	srv := apitest.NewServer(t, seedEvents()...)
	release := srv.Hold(http.MethodGet, "/events/e1")
	defer release()
	client := api.NewClient(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := client.FetchEvent(ctx, "e1")
		errCh <- err
	}()

	waitFor(t, func() bool { return srv.Count(http.MethodGet, "/events/e1") == 1 })
	cancel()

	select {
	case err := <-errCh:
		if !api.IsCanceled(err) {
			t.Fatalf("expected cancellation error, got %v", err)
		}
		if !errors.Is(err, api.ErrCanceled) {
			t.Fatalf("expected ErrCanceled in chain, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for canceled request")
	}
}

func TestNetworkError(t *testing.T) {
	srv := apitest.NewServer(t)
	url := srv.URL
	srv.Close()

	client := api.NewClient(url, api.WithTimeout(time.Second))
	_, err := client.FetchEvents(context.Background(), api.EventFilter{})
	var netErr *api.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %T %v", err, err)
	}
	if api.IsCanceled(err) {
		t.Fatal("network failure must not count as cancellation")
	}
}

func TestFetchImagesAndImageURL(t *testing.T) {
	srv := apitest.NewServer(t)
	client := api.NewClient(srv.URL)

	images, err := client.FetchImages(context.Background())
	if err != nil {
		t.Fatalf("FetchImages: %v", err)
	}
	if len(images) == 0 {
		t.Fatal("expected images")
	}
	if got := client.ImageURL(images[0].Path); got != srv.URL+"/images/meeting.jpg" {
		t.Fatalf("ImageURL = %q", got)
	}
	if client.ImageURL("") != "" {
		t.Fatal("expected empty image url for empty reference")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
