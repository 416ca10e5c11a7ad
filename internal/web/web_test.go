package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"eventdesk/internal/api"
	"eventdesk/internal/api/apitest"
	"eventdesk/internal/config"
	"eventdesk/internal/metrics"
	"eventdesk/internal/model"
	"eventdesk/internal/query"
)

func newTestServer(t *testing.T, cfg *config.Config) (*httptest.Server, *apitest.Server, *query.Store) {
	t.Helper()

	backend := apitest.NewServer(t,
		model.Event{ID: "e1", Title: "Web Dev Networking", Date: "2026-05-01", Time: "18:00", Location: "Berlin", Image: "images/meeting.jpg"},
		model.Event{ID: "e2", Title: "Hiking", Date: "2026-05-03", Time: "09:30", Location: "Alps"},
	)

	reg := prometheus.NewRegistry()
	rec, err := metrics.New(reg)
	if err != nil {
		t.Fatal(err)
	}
	store := query.NewStore(query.WithRecorder(rec))

	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	cfg.Import.Timezone = "UTC"

	srv := httptest.NewServer(NewServer(cfg, store, api.NewClient(backend.URL), reg).Handler())
	t.Cleanup(srv.Close)
	return srv, backend, store
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, string(body)
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	resp, body := get(t, srv.URL+"/health")
	if resp.StatusCode != http.StatusOK || body != "OK" {
		t.Fatalf("health = %d %q", resp.StatusCode, body)
	}
}

func TestCalendarFeedIsCached(t *testing.T) {
	srv, backend, _ := newTestServer(t, nil)

	resp, body := get(t, srv.URL+"/events.ics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Fatalf("content type = %q", ct)
	}
	for _, want := range []string{"UID:e1@eventdesk", "UID:e2@eventdesk", "DTSTART:20260503T093000Z"} {
		if !strings.Contains(body, want) {
			t.Fatalf("feed lacks %q:\n%s", want, body)
		}
	}

	get(t, srv.URL+"/events.ics")
	if n := backend.Count(http.MethodGet, "/events"); n != 1 {
		t.Fatalf("backend list calls = %d, want 1", n)
	}
}

func TestCalendarFeedBackendFailure(t *testing.T) {
	srv, backend, _ := newTestServer(t, nil)
	backend.FailNext(http.MethodGet, "/events", http.StatusServiceUnavailable, "Backend is offline.")

	resp, body := get(t, srv.URL+"/events.ics")
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, "Backend is offline.") {
		t.Fatalf("body = %s", body)
	}
}

func TestRefreshInvalidatesFeed(t *testing.T) {
	srv, backend, _ := newTestServer(t, nil)
	get(t, srv.URL+"/events.ics")

	resp, err := http.Post(srv.URL+"/api/refresh", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	var out refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if out.Invalidated != 1 {
		t.Fatalf("invalidated = %d, want 1", out.Invalidated)
	}

	get(t, srv.URL+"/events.ics")
	if n := backend.Count(http.MethodGet, "/events"); n != 2 {
		t.Fatalf("backend list calls = %d, want 2", n)
	}
}

func TestCacheAndMetrics(t *testing.T) {
	srv, _, store := newTestServer(t, nil)
	get(t, srv.URL+"/events.ics")

	_, body := get(t, srv.URL+"/api/cache")
	var out cacheResponse
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Entries) != len(store.Entries()) || len(out.Entries) != 1 {
		t.Fatalf("entries = %+v", out.Entries)
	}
	if !out.Entries[0].HasValue || out.Entries[0].UpdatedAt == nil {
		t.Fatalf("entry = %+v", out.Entries[0])
	}

	_, body = get(t, srv.URL+"/metrics")
	if !strings.Contains(body, `eventdesk_query_fetches_total{collection="events",outcome="success"} 1`) {
		t.Fatalf("metrics lack fetch counter:\n%s", body)
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = config.BasicAuthConfig{Username: "admin", Password: "secret"}
	srv, _, _ := newTestServer(t, cfg)

	if resp, _ := get(t, srv.URL+"/health"); resp.StatusCode != http.StatusOK {
		t.Fatalf("health requires auth: %d", resp.StatusCode)
	}
	if resp, _ := get(t, srv.URL+"/api/cache"); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without credentials = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/cache", nil)
	req.SetBasicAuth("admin", "secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status with credentials = %d", resp.StatusCode)
	}
}

func TestTimePtr(t *testing.T) {
	if timePtr(time.Time{}) != nil {
		t.Fatal("zero time should be omitted")
	}
}
