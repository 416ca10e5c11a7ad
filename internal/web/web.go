package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"eventdesk/internal/api"
	"eventdesk/internal/config"
	"eventdesk/internal/ics"
	appLog "eventdesk/internal/log"
	"eventdesk/internal/model"
	"eventdesk/internal/query"
)

// ExportStaleTime is how long the event list behind the calendar feed is
// served from the query cache when the config sets no stale time.
const ExportStaleTime = 30 * time.Second

// EventLister is the backend surface the server reads from.
type EventLister interface {
	FetchEvents(ctx context.Context, filter api.EventFilter) ([]model.Event, error)
	ImageURL(image string) string
}

// Server exposes the watch-mode HTTP surface: health, metrics, a cache
// inspector and an iCalendar feed of the backend events.
type Server struct {
	cfg      *config.Config
	store    *query.Store
	events   EventLister
	gatherer prometheus.Gatherer
	mux      *http.ServeMux
}

// NewServer constructs a new Server. gatherer may be nil to disable
// /metrics.
func NewServer(cfg *config.Config, store *query.Store, events EventLister, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		cfg:      cfg,
		store:    store,
		events:   events,
		gatherer: gatherer,
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.cfg != nil && s.cfg.BasicAuth.Enabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="EventDesk", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve listens on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/cache", s.handleCache)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /events.ics", s.handleCalendar)
	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// cacheEntryDTO is a JSON-friendly view of a query cache entry.
type cacheEntryDTO struct {
	Key         string     `json:"key"`
	HasValue    bool       `json:"has_value"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Invalidated bool       `json:"invalidated"`
	Fetching    bool       `json:"fetching"`
	Observers   int        `json:"observers"`
	GCAt        *time.Time `json:"gc_at,omitempty"`
	Version     uint64     `json:"version"`
}

type cacheResponse struct {
	Entries []cacheEntryDTO `json:"entries"`
}

// handleCache lists the query cache entries.
//
// GET /api/cache
func (s *Server) handleCache(w http.ResponseWriter, _ *http.Request) {
	entries := s.store.Entries()
	resp := cacheResponse{Entries: make([]cacheEntryDTO, 0, len(entries))}
	for _, e := range entries {
		dto := cacheEntryDTO{
			Key:         e.Key.String(),
			HasValue:    e.HasValue,
			Invalidated: e.Invalidated,
			Fetching:    e.Fetching,
			Observers:   e.Observers,
			Version:     e.Version,
			UpdatedAt:   timePtr(e.UpdatedAt),
			GCAt:        timePtr(e.GCAt),
		}
		if e.Err != nil {
			dto.Error = e.Err.Error()
		}
		resp.Entries = append(resp.Entries, dto)
	}
	writeJSON(w, http.StatusOK, resp)
}

type refreshResponse struct {
	Invalidated int `json:"invalidated"`
}

// handleRefresh invalidates every events query; observed ones refetch.
//
// POST /api/refresh
func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	n := s.store.Invalidate(query.Prefix("events", nil), query.InvalidateOptions{Refetch: query.RefetchActive})
	writeJSON(w, http.StatusOK, refreshResponse{Invalidated: n})
}

// handleCalendar renders backend events as an iCalendar feed. The event
// list goes through the query store so repeated feed requests within
// the feed stale time share one backend call, and an events invalidation
// also refreshes the feed.
//
// GET /events.ics?search=term&max=10
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := api.EventFilter{
		Search: q.Get("search"),
		Max:    parseIntDefault(q.Get("max"), 0),
	}

	params := query.Params{"format": "ics"}
	if filter.Search != "" {
		params["search"] = filter.Search
	}
	if filter.Max > 0 {
		params["max"] = filter.Max
	}
	key := query.NewKey("events", params)

	value, err := s.store.Fetch(r.Context(), key, func(ctx context.Context, _ query.Key) (any, error) {
		return s.events.FetchEvents(ctx, filter)
	}, s.feedStaleTime())
	if err != nil {
		appLog.Error("calendar feed fetch failed", err, "key", key.String())
		writeError(w, http.StatusBadGateway, api.ErrorMessage(err, "failed to fetch events"))
		return
	}
	events, _ := value.([]model.Event)

	body, err := ics.Export(events, ics.ExportOptions{
		Name:     "EventDesk",
		Location: s.cfg.Location(),
		ImageURL: s.events.ImageURL,
	})
	if err != nil {
		appLog.Error("calendar feed export failed", err)
		writeError(w, http.StatusInternalServerError, "failed to render calendar")
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func (s *Server) feedStaleTime() time.Duration {
	if s.cfg.Cache.StaleTime > 0 {
		return s.cfg.Cache.StaleTime
	}
	return ExportStaleTime
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
