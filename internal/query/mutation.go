package query

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	appLog "eventdesk/internal/log"
)

// MutationStatus is the state of a Mutation binder.
type MutationStatus int

const (
	MutationIdle MutationStatus = iota
	MutationPending
	MutationSuccess
	MutationError
)

func (s MutationStatus) String() string {
	switch s {
	case MutationIdle:
		return "idle"
	case MutationPending:
		return "pending"
	case MutationSuccess:
		return "success"
	case MutationError:
		return "error"
	default:
		return "unknown"
	}
}

// MutationState reflects the most recent attempt.
type MutationState[R any] struct {
	Status    MutationStatus
	Data      R
	Err       error
	AttemptID string
}

func (s MutationState[R]) IsPending() bool { return s.Status == MutationPending }
func (s MutationState[R]) IsError() bool   { return s.Status == MutationError }

// MutationOptions declares a write and its lifecycle hooks. For one attempt
// the hooks run in this order: OnMutate before the request is sent, then
// OnSuccess or OnError, then OnSettled exactly once.
type MutationOptions[V, R any] struct {
	// Name labels logs and metrics.
	Name string
	Fn   func(ctx context.Context, vars V) (R, error)
	// OnMutate runs synchronously in Mutate before the request is
	// dispatched. Its return value is the mutation context handed to the
	// later hooks. An error aborts the attempt without sending it.
	OnMutate  func(ctx context.Context, vars V) (any, error)
	OnSuccess func(result R, vars V, mctx any)
	OnError   func(err error, vars V, mctx any)
	OnSettled func(result R, err error, vars V, mctx any)
}

// Attempt is the handle of one Mutate call.
type Attempt[R any] struct {
	ID     string
	done   chan struct{}
	result R
	err    error
}

// Done is closed after OnSettled returned.
func (a *Attempt[R]) Done() <-chan struct{} {
	return a.done
}

// Wait blocks until the attempt settled or ctx is done.
func (a *Attempt[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-a.done:
		return a.result, a.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// Mutation wraps a write operation for a view. Concurrent attempts are not
// serialized; the exposed state follows the latest attempt.
type Mutation[V, R any] struct {
	opts     MutationOptions[V, R]
	recorder Recorder

	mu        sync.Mutex
	state     MutationState[R]
	listeners map[int]func(MutationState[R])
	nextID    int
}

// NewMutation creates a binder. Metrics go to the store's recorder.
func NewMutation[V, R any](store *Store, opts MutationOptions[V, R]) *Mutation[V, R] {
	recorder := Recorder(nopRecorder{})
	if store != nil {
		recorder = store.recorder
	}
	if opts.Name == "" {
		opts.Name = "mutation"
	}
	return &Mutation[V, R]{
		opts:      opts,
		recorder:  recorder,
		listeners: make(map[int]func(MutationState[R])),
	}
}

// State returns the state of the latest attempt.
func (m *Mutation[V, R]) State() MutationState[R] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers fn for state changes.
func (m *Mutation[V, R]) Subscribe(fn func(MutationState[R])) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Reset returns the binder to idle.
func (m *Mutation[V, R]) Reset() {
	m.setState("", MutationState[R]{}, true)
}

// Mutate starts an attempt and returns without waiting for the network.
// OnMutate has already run when Mutate returns. The request runs detached
// from ctx cancellation so that navigating away never aborts it.
func (m *Mutation[V, R]) Mutate(ctx context.Context, vars V) *Attempt[R] {
	a := &Attempt[R]{
		ID:   uuid.NewString(),
		done: make(chan struct{}),
	}
	m.setState(a.ID, MutationState[R]{Status: MutationPending, AttemptID: a.ID}, true)
	appLog.Debug("mutation start", "name", m.opts.Name, "attempt", a.ID)

	var mctx any
	if m.opts.OnMutate != nil {
		var err error
		mctx, err = m.opts.OnMutate(ctx, vars)
		if err != nil {
			var zero R
			m.settle(a, zero, err, vars, nil, 0)
			return a
		}
	}

	netCtx := context.WithoutCancel(ctx)
	go func() {
		started := time.Now()
		result, err := m.opts.Fn(netCtx, vars)
		m.settle(a, result, err, vars, mctx, time.Since(started))
	}()
	return a
}

// MutateWait runs an attempt and waits for it to settle.
func (m *Mutation[V, R]) MutateWait(ctx context.Context, vars V) (R, error) {
	return m.Mutate(ctx, vars).Wait(ctx)
}

func (m *Mutation[V, R]) settle(a *Attempt[R], result R, err error, vars V, mctx any, elapsed time.Duration) {
	a.result, a.err = result, err

	if err != nil {
		m.recorder.ObserveMutation(m.opts.Name, OutcomeError, elapsed)
		appLog.Error("mutation failed", err, "name", m.opts.Name, "attempt", a.ID)
		if m.opts.OnError != nil {
			m.opts.OnError(err, vars, mctx)
		}
		m.setState(a.ID, MutationState[R]{Status: MutationError, Err: err, AttemptID: a.ID}, false)
	} else {
		m.recorder.ObserveMutation(m.opts.Name, OutcomeSuccess, elapsed)
		appLog.Debug("mutation succeeded", "name", m.opts.Name, "attempt", a.ID)
		if m.opts.OnSuccess != nil {
			m.opts.OnSuccess(result, vars, mctx)
		}
		m.setState(a.ID, MutationState[R]{Status: MutationSuccess, Data: result, AttemptID: a.ID}, false)
	}

	if m.opts.OnSettled != nil {
		m.opts.OnSettled(result, err, vars, mctx)
	}
	close(a.done)
}

// setState stores next when force is set or when attemptID is still the
// latest attempt, then notifies listeners.
func (m *Mutation[V, R]) setState(attemptID string, next MutationState[R], force bool) {
	m.mu.Lock()
	if !force && m.state.AttemptID != attemptID {
		m.mu.Unlock()
		return
	}
	m.state = next
	listeners := make([]func(MutationState[R]), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
}
