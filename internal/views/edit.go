package views

import (
	"context"
	"fmt"

	"eventdesk/internal/model"
	"eventdesk/internal/query"
)

// EventStaleTime is the staleness window of single-event queries.
const EventStaleTime = 0

// EditContent is the rendered edit screen.
type EditContent struct {
	Error *ErrorBlock
	// Form holds the values to prefill; nil until the event is loaded.
	Form *model.Event
}

// EditEvent edits one event with an optimistic update: the cached event is
// replaced before the request is sent and restored if it fails.
type EditEvent struct {
	id    string
	store *query.Store
	nav   Navigator

	query  *query.Query[model.Event]
	update *query.Mutation[model.Event, model.Event]
}

// NewEditEvent binds the screen to event id.
func NewEditEvent(store *query.Store, gw Gateway, nav Navigator, id string) *EditEvent {
	key := EventKey(id)
	v := &EditEvent{
		id:    id,
		store: store,
		nav:   nav,
		query: query.NewQuery(store, query.QueryOptions[model.Event]{
			Key:       key,
			Fn:        fetchEvent(gw),
			StaleTime: EventStaleTime,
		}),
	}
	v.update = query.NewMutation(store, query.MutationOptions[model.Event, model.Event]{
		Name: "update-event",
		Fn: func(ctx context.Context, ev model.Event) (model.Event, error) {
			return gw.UpdateEvent(ctx, id, ev)
		},
		OnMutate: func(_ context.Context, ev model.Event) (any, error) {
			store.Cancel(query.Exact(key))
			return store.Swap(key, ev), nil
		},
		OnError: func(_ error, _ model.Event, mctx any) {
			snap, ok := mctx.(query.Snapshot)
			if !ok {
				return
			}
			store.Recorder().CountRollback("update-event", store.Rollback(snap))
		},
		// No follow-up refetch: the optimistic value stays until the entry
		// goes stale.
		OnSettled: func(model.Event, error, model.Event, any) {},
	})
	return v
}

// LoadEvent fetches event id through the cache before the edit screen is
// shown, joining a fetch already in flight.
func LoadEvent(ctx context.Context, store *query.Store, gw Gateway, id string) (model.Event, error) {
	fn := fetchEvent(gw)
	v, err := store.Fetch(ctx, EventKey(id), func(ctx context.Context, key query.Key) (any, error) {
		return fn(ctx, key)
	}, EventStaleTime)
	if err != nil {
		return model.Event{}, err
	}
	ev, ok := v.(model.Event)
	if !ok {
		return model.Event{}, fmt.Errorf("load event %s: unexpected cache value %T", id, v)
	}
	return ev, nil
}

func (v *EditEvent) Mount(ctx context.Context) { v.query.Mount(ctx) }
func (v *EditEvent) Unmount()                  { v.query.Unmount() }

// Query exposes the underlying binder.
func (v *EditEvent) Query() *query.Query[model.Event] { return v.query }

// UpdateState exposes the update mutation.
func (v *EditEvent) UpdateState() query.MutationState[model.Event] { return v.update.State() }

// Subscribe calls fn after every change of the screen.
func (v *EditEvent) Subscribe(fn func()) (unsubscribe func()) {
	unsubQuery := v.query.Subscribe(func(query.Result[model.Event]) { fn() })
	unsubUpdate := v.update.Subscribe(func(query.MutationState[model.Event]) { fn() })
	return func() {
		unsubQuery()
		unsubUpdate()
	}
}

// Submit validates ev, starts the update and navigates back to the details
// screen without waiting for the response. The event query is unmounted;
// the update keeps reporting to its subscribers.
func (v *EditEvent) Submit(ctx context.Context, ev model.Event) (*query.Attempt[model.Event], error) {
	ev.ID = v.id
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	attempt := v.update.Mutate(ctx, ev)
	v.nav.Navigate("../")
	v.query.Unmount()
	return attempt, nil
}

// Close leaves the edit screen.
func (v *EditEvent) Close() {
	v.nav.Navigate("../")
	v.query.Unmount()
}

// Content renders the screen.
func (v *EditEvent) Content() EditContent {
	r := v.query.Result()
	var c EditContent
	if r.IsError() {
		c.Error = newErrorBlock("An error occurred", r.Err, "Failed to fetch requested event")
	}
	if r.HasData {
		ev := r.Data
		c.Form = &ev
	}
	return c
}
