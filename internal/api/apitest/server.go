// Package apitest provides an in-memory events backend for tests.
package apitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"eventdesk/internal/model"
)

type failure struct {
	status  int
	message string
}

// Server mimics the events REST backend. Requests can be made to fail or to
// block until released, which lets tests interleave responses.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	events   []model.Event
	images   []model.Image
	failures map[string][]failure
	gates    map[string]chan struct{}
	counts   map[string]int
}

// NewServer starts a backend seeded with events. It is closed on test cleanup.
func NewServer(tb testing.TB, seed ...model.Event) *Server {
	tb.Helper()

	s := &Server{
		failures: make(map[string][]failure),
		gates:    make(map[string]chan struct{}),
		counts:   make(map[string]int),
		images: []model.Image{
			{Path: "images/meeting.jpg", Caption: "People in a meeting"},
			{Path: "images/hiking.jpg", Caption: "A hiking trail"},
		},
	}
	for _, ev := range seed {
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		s.events = append(s.events, ev)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /events", s.handleList)
	mux.HandleFunc("POST /events", s.handleCreate)
	mux.HandleFunc("GET /events/images", s.handleImages)
	mux.HandleFunc("GET /events/{id}", s.handleGet)
	mux.HandleFunc("PUT /events/{id}", s.handleUpdate)
	mux.HandleFunc("DELETE /events/{id}", s.handleDelete)

	s.Server = httptest.NewServer(s.intercept(mux))
	tb.Cleanup(s.Close)
	return s
}

// Close releases held requests and shuts the server down.
func (s *Server) Close() {
	s.mu.Lock()
	for key, gate := range s.gates {
		close(gate)
		delete(s.gates, key)
	}
	s.mu.Unlock()
	s.Server.Close()
}

// FailNext makes the next request matching "METHOD /path" answer with status
// and an error envelope carrying message. Calls queue up.
func (s *Server) FailNext(method, path string, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := method + " " + path
	s.failures[key] = append(s.failures[key], failure{status: status, message: message})
}

// Hold blocks requests matching "METHOD /path" until release is called.
func (s *Server) Hold(method, path string) (release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := method + " " + path
	gate := make(chan struct{})
	s.gates[key] = gate

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.gates[key] == gate {
				delete(s.gates, key)
				close(gate)
			}
		})
	}
}

// Count returns how many requests matched "METHOD /path" so far.
func (s *Server) Count(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[method+" "+path]
}

// Events returns a copy of the stored events.
func (s *Server) Events() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Event(nil), s.events...)
}

func (s *Server) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path

		s.mu.Lock()
		s.counts[key]++
		gate := s.gates[key]
		var fail *failure
		if queued := s.failures[key]; len(queued) > 0 {
			fail = &queued[0]
			s.failures[key] = queued[1:]
		}
		s.mu.Unlock()

		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
		if fail != nil {
			writeJSON(w, fail.status, map[string]string{"message": fail.message})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	search := strings.ToLower(r.URL.Query().Get("search"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("max"))

	s.mu.Lock()
	out := make([]model.Event, 0, len(s.events))
	for _, ev := range s.events {
		if search != "" && !matches(ev, search) {
			continue
		}
		out = append(out, ev)
	}
	s.mu.Unlock()

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (s *Server) handleImages(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	images := append([]model.Image(nil), s.images...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"images": images})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.ID == id {
			writeJSON(w, http.StatusOK, map[string]any{"event": ev})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Event not found."})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Event *model.Event `json:"event"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Event == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Event is required."})
		return
	}
	if err := body.Event.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid data provided."})
		return
	}

	ev := *body.Event
	ev.ID = uuid.NewString()
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"event": ev})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		Event *model.Event `json:"event"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Event == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Event is required."})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ev := range s.events {
		if ev.ID == id {
			updated := *body.Event
			updated.ID = id
			s.events[i] = updated
			writeJSON(w, http.StatusOK, map[string]any{"event": updated})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Event not found."})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ev := range s.events {
		if ev.ID == id {
			s.events = append(s.events[:i], s.events[i+1:]...)
			writeJSON(w, http.StatusOK, map[string]string{"message": "Event deleted"})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Event not found."})
}

func matches(ev model.Event, search string) bool {
	return strings.Contains(strings.ToLower(ev.Title), search) ||
		strings.Contains(strings.ToLower(ev.Description), search) ||
		strings.Contains(strings.ToLower(ev.Location), search)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
