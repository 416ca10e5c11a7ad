// Package views holds headless controllers for the event screens. Each
// controller binds query and mutation binders to a Gateway and renders a
// plain content struct that a front-end (the CLI here) prints.
package views

import (
	"context"
	"path"
	"strings"
	"sync"
	"time"

	"eventdesk/internal/api"
	"eventdesk/internal/model"
	"eventdesk/internal/query"
)

// Collections used as the first element of query keys.
const (
	EventsCollection = "events"
	ImagesCollection = "events-images"
)

// Retention and staleness of the view queries.
const (
	RecentMax       = 3
	RecentStaleTime = 5 * time.Second
	RecentGCTime    = 5 * time.Minute
	ImagesStaleTime = 5 * time.Minute
)

// Gateway is the subset of the backend client the views use.
type Gateway interface {
	FetchEvents(ctx context.Context, filter api.EventFilter) ([]model.Event, error)
	FetchEvent(ctx context.Context, id string) (model.Event, error)
	CreateEvent(ctx context.Context, event model.Event) (model.Event, error)
	UpdateEvent(ctx context.Context, id string, event model.Event) (model.Event, error)
	DeleteEvent(ctx context.Context, id string) error
	FetchImages(ctx context.Context) ([]model.Image, error)
	ImageURL(image string) string
}

var _ Gateway = (*api.Client)(nil)

// RecentKey addresses the newest limit events.
func RecentKey(limit int) query.Key {
	return query.NewKey(EventsCollection, query.Params{"max": limit})
}

// SearchKey addresses the result of a search.
func SearchKey(term string) query.Key {
	return query.NewKey(EventsCollection, query.Params{"search": term})
}

// EventKey addresses a single event.
func EventKey(id string) query.Key {
	return query.NewKey(EventsCollection, query.Params{"id": id})
}

// ImagesKey addresses the selectable images.
func ImagesKey() query.Key {
	return query.NewKey(ImagesCollection, nil)
}

// Navigator moves between screens. Paths may be absolute ("/events") or
// relative to the current location ("../", "edit").
type Navigator interface {
	Navigate(to string)
}

// History is an in-memory Navigator.
type History struct {
	mu      sync.Mutex
	entries []string
}

// NewHistory starts at location start.
func NewHistory(start string) *History {
	return &History{entries: []string{resolve("/", start)}}
}

func (h *History) Navigate(to string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, resolve(h.entries[len(h.entries)-1], to))
}

// Current returns the current location.
func (h *History) Current() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[len(h.entries)-1]
}

// Entries returns every visited location, oldest first.
func (h *History) Entries() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.entries...)
}

func resolve(current, to string) string {
	if strings.HasPrefix(to, "/") {
		return path.Clean(to)
	}
	return path.Join(current, to)
}

// ErrorBlock is an error notice with a title and a message.
type ErrorBlock struct {
	Title   string
	Message string
}

// newErrorBlock prefers the backend message carried by err.
func newErrorBlock(title string, err error, fallback string) *ErrorBlock {
	return &ErrorBlock{Title: title, Message: api.ErrorMessage(err, fallback)}
}

// Item is one event in a list.
type Item struct {
	ID       string
	Title    string
	Date     string
	Location string
	ImageURL string
	Link     string
}

func newItem(gw Gateway, ev model.Event) Item {
	return Item{
		ID:       ev.ID,
		Title:    ev.Title,
		Date:     FormatDate(ev.Date),
		Location: ev.Location,
		ImageURL: gw.ImageURL(ev.Image),
		Link:     "/events/" + ev.ID,
	}
}

func newItems(gw Gateway, events []model.Event) []Item {
	items := make([]Item, 0, len(events))
	for _, ev := range events {
		items = append(items, newItem(gw, ev))
	}
	return items
}

// FormatDate renders a wire date as "Jan 2, 2006". Unparsable input is
// returned unchanged.
func FormatDate(date string) string {
	t, err := time.Parse(model.DateLayout, date)
	if err != nil {
		return date
	}
	return t.Format("Jan 2, 2006")
}

// HeaderContent is the shared page header.
type HeaderContent struct {
	Title string
	Home  string
	// Fetching is set while any query of the store is fetching.
	Fetching bool
}

// Header renders the page header for store.
func Header(store *query.Store) HeaderContent {
	h := HeaderContent{Title: "EventDesk", Home: "/events"}
	for _, e := range store.Entries() {
		if e.Fetching {
			h.Fetching = true
			break
		}
	}
	return h
}

// notifier fans out change signals to view subscribers.
type notifier struct {
	mu        sync.Mutex
	listeners map[int]func()
	nextID    int
}

func (n *notifier) subscribe(fn func()) (unsubscribe func()) {
	n.mu.Lock()
	if n.listeners == nil {
		n.listeners = make(map[int]func())
	}
	id := n.nextID
	n.nextID++
	n.listeners[id] = fn
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.listeners, id)
		n.mu.Unlock()
	}
}

func (n *notifier) notify() {
	n.mu.Lock()
	fns := make([]func(), 0, len(n.listeners))
	for _, fn := range n.listeners {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
