package views

import (
	"context"

	"eventdesk/internal/model"
	"eventdesk/internal/query"
)

// NewEventContent is the rendered create screen.
type NewEventContent struct {
	// Submitting replaces the form actions while the request runs.
	Submitting bool
	Error      *ErrorBlock
}

// NewEvent creates events. A successful create invalidates every events
// query and refetches the mounted ones.
type NewEvent struct {
	nav    Navigator
	create *query.Mutation[model.Event, model.Event]
}

// NewNewEvent creates the screen.
func NewNewEvent(store *query.Store, gw Gateway, nav Navigator) *NewEvent {
	return &NewEvent{
		nav: nav,
		create: query.NewMutation(store, query.MutationOptions[model.Event, model.Event]{
			Name: "create-event",
			Fn:   gw.CreateEvent,
			OnSuccess: func(model.Event, model.Event, any) {
				store.Invalidate(query.Prefix(EventsCollection, nil), query.InvalidateOptions{Refetch: query.RefetchActive})
				nav.Navigate("/events")
			},
		}),
	}
}

// Subscribe calls fn after every change of the screen.
func (v *NewEvent) Subscribe(fn func()) (unsubscribe func()) {
	return v.create.Subscribe(func(query.MutationState[model.Event]) { fn() })
}

// State exposes the create mutation.
func (v *NewEvent) State() query.MutationState[model.Event] { return v.create.State() }

// Submit validates ev and starts the create request.
func (v *NewEvent) Submit(ctx context.Context, ev model.Event) (*query.Attempt[model.Event], error) {
	ev.ID = ""
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return v.create.Mutate(ctx, ev), nil
}

// Close leaves the create screen.
func (v *NewEvent) Close() {
	v.nav.Navigate("../")
}

// Content renders the screen.
func (v *NewEvent) Content() NewEventContent {
	state := v.create.State()
	c := NewEventContent{Submitting: state.IsPending()}
	if state.IsError() {
		c.Error = newErrorBlock("Failed to create event", state.Err,
			"Failed to create events. Please check your inputs and try again later.")
	}
	return c
}
