package query

import (
	"context"
	"sync"
	"time"
)

// Status is the state of a Query binder.
type Status int

const (
	// StatusDisabled: the binder may not fetch and has no data.
	StatusDisabled Status = iota
	// StatusLoading: no data yet, a fetch is expected or running.
	StatusLoading
	// StatusSuccess: data is available, possibly stale or refetching.
	StatusSuccess
	// StatusError: the last fetch failed; Data may still hold the last
	// good value.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisabled:
		return "disabled"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Result is what a view reads from a Query binder.
type Result[T any] struct {
	Status     Status
	Data       T
	HasData    bool
	Err        error
	IsFetching bool
	IsStale    bool
	UpdatedAt  time.Time
}

// IsPending reports whether there is no data to show yet. Disabled and
// loading binders look the same here; Status keeps them apart.
func (r Result[T]) IsPending() bool {
	return !r.HasData && (r.Status == StatusDisabled || r.Status == StatusLoading)
}

// IsLoading reports a pending binder that is actually fetching. It is false
// for a disabled binder.
func (r Result[T]) IsLoading() bool {
	return r.IsPending() && r.IsFetching
}

// IsError reports whether the last fetch failed.
func (r Result[T]) IsError() bool {
	return r.Status == StatusError
}

// QueryOptions declares a Query binder.
type QueryOptions[T any] struct {
	Key Key
	Fn  func(ctx context.Context, key Key) (T, error)
	// Enabled gates fetching; nil means always enabled. It is evaluated on
	// mount, on key changes and before every background refetch.
	Enabled func() bool
	// StaleTime is how long fetched data counts as fresh.
	StaleTime time.Duration
	// GCTime is how long the entry outlives its last observer. Zero keeps
	// the store default.
	GCTime time.Duration
}

// Query binds one view to one cache key. Listeners receive a fresh Result
// after every change of the observed entry; they are called one at a time
// and must not call Mount, Unmount, SetKey or Refetch synchronously.
type Query[T any] struct {
	store     *Store
	fn        func(ctx context.Context, key Key) (T, error)
	enabledFn func() bool
	staleTime time.Duration
	gcTime    time.Duration

	mu        sync.Mutex
	key       Key
	ctx       context.Context
	mounted   bool
	listeners map[int]func(Result[T])
	nextID    int

	deliverMu sync.Mutex
}

// NewQuery creates an unmounted binder on store.
func NewQuery[T any](store *Store, opts QueryOptions[T]) *Query[T] {
	return &Query[T]{
		store:     store,
		fn:        opts.Fn,
		enabledFn: opts.Enabled,
		staleTime: opts.StaleTime,
		gcTime:    opts.GCTime,
		key:       opts.Key,
		ctx:       context.Background(),
		listeners: make(map[int]func(Result[T])),
	}
}

// Key returns the currently bound key.
func (q *Query[T]) Key() Key {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.key
}

// Subscribe registers fn for result changes.
func (q *Query[T]) Subscribe(fn func(Result[T])) (unsubscribe func()) {
	q.mu.Lock()
	id := q.nextID
	q.nextID++
	q.listeners[id] = fn
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		delete(q.listeners, id)
		q.mu.Unlock()
	}
}

// Mount activates the binder: it observes its key and fetches when the key
// is absent or stale. ctx provides values for fetches; cancelling it does
// not abort shared fetches, Unmount does not either.
func (q *Query[T]) Mount(ctx context.Context) {
	q.mu.Lock()
	if q.mounted {
		q.mu.Unlock()
		return
	}
	q.mounted = true
	q.ctx = ctx
	key := q.key
	q.mu.Unlock()

	q.store.attach(key, q, q.gcTime)
	q.fetchIfNeeded(ctx, key)
	q.entryChanged()
}

// Unmount stops observing. The entry starts its retention countdown when
// this was its last observer.
func (q *Query[T]) Unmount() {
	q.mu.Lock()
	if !q.mounted {
		q.mu.Unlock()
		return
	}
	q.mounted = false
	key := q.key
	q.mu.Unlock()

	q.store.detach(key, q)
}

// SetKey rebinds the binder, e.g. when a view parameter changes.
func (q *Query[T]) SetKey(key Key) {
	q.mu.Lock()
	if q.key.Equal(key) {
		q.mu.Unlock()
		return
	}
	old := q.key
	q.key = key
	mounted, ctx := q.mounted, q.ctx
	q.mu.Unlock()

	if mounted {
		q.store.detach(old, q)
		q.store.attach(key, q, q.gcTime)
		q.fetchIfNeeded(ctx, key)
	}
	q.entryChanged()
}

// Result computes the current state from the store.
func (q *Query[T]) Result() Result[T] {
	q.mu.Lock()
	key := q.key
	q.mu.Unlock()

	var r Result[T]
	e, ok := q.store.Get(key)
	if ok {
		if v, isT := e.Value.(T); e.HasValue && isT {
			r.Data = v
			r.HasData = true
			r.UpdatedAt = e.UpdatedAt
		}
		r.Err = e.Err
		r.IsFetching = e.Fetching
		r.IsStale = e.IsStale(q.staleTime, q.store.Now())
	}

	switch {
	case r.Err != nil:
		r.Status = StatusError
	case r.HasData:
		r.Status = StatusSuccess
	case !q.enabled():
		r.Status = StatusDisabled
	default:
		r.Status = StatusLoading
	}
	return r
}

// Refetch fetches the bound key regardless of staleness, joining a fetch in
// flight, and waits for it. A disabled binder does not fetch.
func (q *Query[T]) Refetch(ctx context.Context) (Result[T], error) {
	if !q.enabled() {
		return q.Result(), nil
	}
	q.mu.Lock()
	key, base := q.key, q.ctx
	q.mu.Unlock()

	_, err := wait(ctx, q.store.start(base, key, q.fetchFunc()))
	return q.Result(), err
}

// Settle waits until the bound key has no fetch in flight.
func (q *Query[T]) Settle(ctx context.Context) (Result[T], error) {
	signal := make(chan struct{}, 1)
	unsubscribe := q.Subscribe(func(Result[T]) {
		select {
		case signal <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for {
		r := q.Result()
		if !r.IsFetching {
			return r, nil
		}
		select {
		case <-signal:
		case <-ctx.Done():
			return r, ctx.Err()
		}
	}
}

func (q *Query[T]) fetchFunc() FetchFunc {
	return func(ctx context.Context, key Key) (any, error) {
		return q.fn(ctx, key)
	}
}

func (q *Query[T]) fetchIfNeeded(ctx context.Context, key Key) {
	if !q.enabled() {
		return
	}
	if e, ok := q.store.Get(key); ok && (e.Fetching || !e.IsStale(q.staleTime, q.store.Now())) {
		return
	}
	q.store.start(ctx, key, q.fetchFunc())
}

func (q *Query[T]) entryChanged() {
	q.deliverMu.Lock()
	defer q.deliverMu.Unlock()

	r := q.Result()
	q.mu.Lock()
	listeners := make([]func(Result[T]), 0, len(q.listeners))
	for _, fn := range q.listeners {
		listeners = append(listeners, fn)
	}
	q.mu.Unlock()

	for _, fn := range listeners {
		fn(r)
	}
}

func (q *Query[T]) enabled() bool {
	return q.enabledFn == nil || q.enabledFn()
}

func (q *Query[T]) refetch() {
	q.mu.Lock()
	key, ctx, mounted := q.key, q.ctx, q.mounted
	q.mu.Unlock()
	if !mounted || !q.enabled() {
		return
	}
	q.store.start(ctx, key, q.fetchFunc())
}

func (q *Query[T]) refreshIfStale() {
	q.mu.Lock()
	key, ctx, mounted := q.key, q.ctx, q.mounted
	q.mu.Unlock()
	if !mounted {
		return
	}
	q.fetchIfNeeded(ctx, key)
}
