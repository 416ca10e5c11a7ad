package views

import (
	"context"
	"strings"
	"sync"

	"eventdesk/internal/model"
	"eventdesk/internal/query"
)

// FindEvents is the search section. It stays disabled until a term is
// submitted.
type FindEvents struct {
	gw    Gateway
	query *query.Query[[]model.Event]

	mu   sync.Mutex
	term string
}

// NewFindEvents creates an idle search section.
func NewFindEvents(store *query.Store, gw Gateway) *FindEvents {
	v := &FindEvents{gw: gw}
	v.query = query.NewQuery(store, query.QueryOptions[[]model.Event]{
		Key:     SearchKey(""),
		Fn:      fetchEvents(gw),
		Enabled: func() bool { return v.Term() != "" },
	})
	return v
}

func (v *FindEvents) Mount(ctx context.Context) { v.query.Mount(ctx) }
func (v *FindEvents) Unmount()                  { v.query.Unmount() }

// Query exposes the underlying binder.
func (v *FindEvents) Query() *query.Query[[]model.Event] { return v.query }

// Subscribe calls fn after every change of the section.
func (v *FindEvents) Subscribe(fn func()) (unsubscribe func()) {
	return v.query.Subscribe(func(query.Result[[]model.Event]) { fn() })
}

// Term returns the submitted search term.
func (v *FindEvents) Term() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.term
}

// Search submits term. Each distinct term is cached under its own key.
func (v *FindEvents) Search(term string) {
	term = strings.TrimSpace(term)
	v.mu.Lock()
	v.term = term
	v.mu.Unlock()
	v.query.SetKey(SearchKey(term))
}

// Content renders the section.
func (v *FindEvents) Content() ListContent {
	r := v.query.Result()
	c := ListContent{
		Heading: "Find your next event!",
		Prompt:  "Please enter a search term and to find events",
	}
	if r.IsLoading() {
		c.Prompt = ""
		c.Loading = true
	}
	if r.IsError() {
		c.Prompt = ""
		c.Error = newErrorBlock("An error occurred", r.Err, "Failed to requested fetch events")
	}
	if r.HasData {
		c.Prompt = ""
		c.Items = newItems(v.gw, r.Data)
	}
	return c
}
