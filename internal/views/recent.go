package views

import (
	"context"

	"eventdesk/internal/api"
	"eventdesk/internal/model"
	"eventdesk/internal/query"
)

// ListContent is a rendered list section.
type ListContent struct {
	Heading string
	// Prompt is shown when there is nothing to list yet.
	Prompt  string
	Loading bool
	Error   *ErrorBlock
	Items   []Item
}

// RecentEvents is the "Recently added events" section.
type RecentEvents struct {
	gw    Gateway
	query *query.Query[[]model.Event]
}

// NewRecentEvents binds the section to the newest RecentMax events.
func NewRecentEvents(store *query.Store, gw Gateway) *RecentEvents {
	return &RecentEvents{
		gw: gw,
		query: query.NewQuery(store, query.QueryOptions[[]model.Event]{
			Key:       RecentKey(RecentMax),
			Fn:        fetchEvents(gw),
			StaleTime: RecentStaleTime,
			GCTime:    RecentGCTime,
		}),
	}
}

func (v *RecentEvents) Mount(ctx context.Context) { v.query.Mount(ctx) }
func (v *RecentEvents) Unmount()                  { v.query.Unmount() }

// Query exposes the underlying binder.
func (v *RecentEvents) Query() *query.Query[[]model.Event] { return v.query }

// Subscribe calls fn after every change of the section.
func (v *RecentEvents) Subscribe(fn func()) (unsubscribe func()) {
	return v.query.Subscribe(func(query.Result[[]model.Event]) { fn() })
}

// Content renders the section.
func (v *RecentEvents) Content() ListContent {
	r := v.query.Result()
	c := ListContent{Heading: "Recently added events"}
	if r.IsPending() {
		c.Loading = true
	}
	if r.IsError() {
		c.Error = newErrorBlock("An error occurred", r.Err, "Failed to fetch events")
	}
	if r.HasData {
		c.Items = newItems(v.gw, r.Data)
	}
	return c
}

// fetchEvents reads the filter from the key parameters.
func fetchEvents(gw Gateway) func(ctx context.Context, key query.Key) ([]model.Event, error) {
	return func(ctx context.Context, key query.Key) ([]model.Event, error) {
		var filter api.EventFilter
		if s, ok := key.Params["search"].(string); ok {
			filter.Search = s
		}
		if n, ok := key.Params["max"].(int); ok {
			filter.Max = n
		}
		return gw.FetchEvents(ctx, filter)
	}
}
