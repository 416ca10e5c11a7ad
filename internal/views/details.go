package views

import (
	"context"
	"sync"

	"eventdesk/internal/model"
	"eventdesk/internal/query"
)

// EventView is the rendered body of a loaded event.
type EventView struct {
	ID          string
	Title       string
	Description string
	Location    string
	// Date is formatted for display, DateTime is the machine-readable
	// "2006-01-02T15:04" form.
	Date     string
	Time     string
	DateTime string
	ImageURL string
	EditPath string
}

// DeleteConfirm is the confirmation dialog of a pending delete.
type DeleteConfirm struct {
	Question string
	Warning  string
	// Pending replaces the dialog actions while the request runs.
	Pending bool
	Error   *ErrorBlock
}

// DetailsContent is the rendered details screen.
type DetailsContent struct {
	Header  HeaderContent
	Loading bool
	Error   *ErrorBlock
	Event   *EventView
	Confirm *DeleteConfirm
	// UpdateError reports the last failed edit of this event.
	UpdateError *ErrorBlock
}

// EventDetails shows one event and owns its delete flow.
type EventDetails struct {
	id    string
	store *query.Store
	gw    Gateway
	nav   Navigator

	query    *query.Query[model.Event]
	deletion *query.Mutation[string, struct{}]

	changes notifier

	mu       sync.Mutex
	deleting bool
	edit     *EditEvent
	unsubs   []func()
}

// NewEventDetails binds the screen to event id.
func NewEventDetails(store *query.Store, gw Gateway, nav Navigator, id string) *EventDetails {
	v := &EventDetails{
		id:    id,
		store: store,
		gw:    gw,
		nav:   nav,
		query: query.NewQuery(store, query.QueryOptions[model.Event]{
			Key: EventKey(id),
			Fn:  fetchEvent(gw),
		}),
	}
	v.deletion = query.NewMutation(store, query.MutationOptions[string, struct{}]{
		Name: "delete-event",
		Fn: func(ctx context.Context, id string) (struct{}, error) {
			return struct{}{}, gw.DeleteEvent(ctx, id)
		},
		OnSuccess: func(struct{}, string, any) {
			// The details query of this screen must not refetch a deleted
			// event, so the refetch is deferred to the next access.
			store.Invalidate(query.Prefix(EventsCollection, nil), query.InvalidateOptions{Refetch: query.RefetchNone})
			nav.Navigate("/events")
		},
	})
	return v
}

// Mount starts observing the event.
func (v *EventDetails) Mount(ctx context.Context) {
	v.mu.Lock()
	v.unsubs = append(v.unsubs,
		v.query.Subscribe(func(query.Result[model.Event]) { v.changes.notify() }),
		v.deletion.Subscribe(func(query.MutationState[struct{}]) { v.changes.notify() }),
	)
	v.mu.Unlock()
	v.query.Mount(ctx)
}

// Unmount stops observing the event and closes an open edit screen.
func (v *EventDetails) Unmount() {
	v.mu.Lock()
	unsubs := v.unsubs
	v.unsubs = nil
	edit := v.edit
	v.edit = nil
	v.mu.Unlock()

	if edit != nil {
		edit.Unmount()
	}
	for _, unsubscribe := range unsubs {
		unsubscribe()
	}
	v.query.Unmount()
}

// Subscribe calls fn after every change of the screen.
func (v *EventDetails) Subscribe(fn func()) (unsubscribe func()) {
	return v.changes.subscribe(fn)
}

// Query exposes the underlying binder.
func (v *EventDetails) Query() *query.Query[model.Event] { return v.query }

// DeleteState exposes the delete mutation.
func (v *EventDetails) DeleteState() query.MutationState[struct{}] { return v.deletion.State() }

// StartDelete opens the confirmation dialog.
func (v *EventDetails) StartDelete() {
	v.mu.Lock()
	v.deleting = true
	v.mu.Unlock()
	v.changes.notify()
}

// StopDelete closes the confirmation dialog.
func (v *EventDetails) StopDelete() {
	v.mu.Lock()
	v.deleting = false
	v.mu.Unlock()
	v.changes.notify()
}

// ConfirmDelete sends the delete request. On success the events collection
// is invalidated without refetch and the screen navigates to "/events".
func (v *EventDetails) ConfirmDelete(ctx context.Context) *query.Attempt[struct{}] {
	return v.deletion.Mutate(ctx, v.id)
}

// OpenEdit mounts the nested edit screen and navigates to it. The details
// screen reports failed edits while it stays mounted.
func (v *EventDetails) OpenEdit(ctx context.Context) *EditEvent {
	edit := NewEditEvent(v.store, v.gw, v.nav, v.id)
	unsubscribe := edit.update.Subscribe(func(query.MutationState[model.Event]) { v.changes.notify() })

	v.mu.Lock()
	prev := v.edit
	v.edit = edit
	v.unsubs = append(v.unsubs, unsubscribe)
	v.mu.Unlock()

	if prev != nil {
		prev.Unmount()
	}
	v.nav.Navigate("edit")
	edit.Mount(ctx)
	return edit
}

// Content renders the screen.
func (v *EventDetails) Content() DetailsContent {
	r := v.query.Result()
	c := DetailsContent{Header: Header(v.store)}

	if r.IsPending() {
		c.Loading = true
	}
	if r.IsError() {
		c.Error = newErrorBlock("An error occurred", r.Err, "Failed to fetch requested event")
	}
	if r.HasData {
		c.Event = v.eventView(r.Data)
	}

	v.mu.Lock()
	deleting, edit := v.deleting, v.edit
	v.mu.Unlock()

	if deleting {
		state := v.deletion.State()
		c.Confirm = &DeleteConfirm{
			Question: "Are you sure?",
			Warning:  "Do you really want to delete this event? This action can't be undone.",
			Pending:  state.IsPending(),
		}
		if state.IsError() {
			c.Confirm.Error = newErrorBlock("Request Failed", state.Err, "Failed to delete requested event")
		}
	}
	if edit != nil {
		if state := edit.update.State(); state.IsError() {
			c.UpdateError = newErrorBlock("Failed to update event", state.Err, "Failed to update event. Your changes were reverted.")
		}
	}
	return c
}

func (v *EventDetails) eventView(ev model.Event) *EventView {
	return &EventView{
		ID:          ev.ID,
		Title:       ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		Date:        FormatDate(ev.Date),
		Time:        ev.Time,
		DateTime:    ev.Date + "T" + ev.Time,
		ImageURL:    v.gw.ImageURL(ev.Image),
		EditPath:    "/events/" + v.id + "/edit",
	}
}

func fetchEvent(gw Gateway) func(ctx context.Context, key query.Key) (model.Event, error) {
	return func(ctx context.Context, key query.Key) (model.Event, error) {
		id, _ := key.Params["id"].(string)
		return gw.FetchEvent(ctx, id)
	}
}
