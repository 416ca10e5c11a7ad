package query

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func settle[T any](t *testing.T, q *Query[T]) Result[T] {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r, err := q.Settle(ctx)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	return r
}

func TestQueryMountFetchesAndSucceeds(t *testing.T) {
	s := NewStore()
	var calls atomic.Int32
	q := NewQuery(s, QueryOptions[[]string]{
		Key: NewKey("events", Params{"max": 3}),
		Fn: func(context.Context, Key) ([]string, error) {
			calls.Add(1)
			return []string{"e1", "e2"}, nil
		},
		StaleTime: 5 * time.Second,
	})

	q.Mount(context.Background())
	defer q.Unmount()
	r := settle(t, q)

	if r.Status != StatusSuccess || len(r.Data) != 2 {
		t.Fatalf("result = %+v", r)
	}
	if r.IsPending() || r.IsLoading() {
		t.Fatal("settled query still pending")
	}

	// A second binder on a fresh key shares the entry without fetching.
	q2 := NewQuery(s, QueryOptions[[]string]{
		Key: NewKey("events", Params{"max": 3}),
		Fn: func(context.Context, Key) ([]string, error) {
			calls.Add(1)
			return nil, nil
		},
		StaleTime: 5 * time.Second,
	})
	q2.Mount(context.Background())
	defer q2.Unmount()
	if r := q2.Result(); r.Status != StatusSuccess {
		t.Fatalf("second binder = %+v", r)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestQueryDisabledDoesNotFetch(t *testing.T) {
	s := NewStore()
	var calls atomic.Int32
	term := ""
	q := NewQuery(s, QueryOptions[[]string]{
		Key: NewKey("events", Params{"search": term}),
		Fn: func(context.Context, Key) ([]string, error) {
			calls.Add(1)
			return nil, nil
		},
		Enabled: func() bool { return term != "" },
	})

	q.Mount(context.Background())
	defer q.Unmount()

	r := q.Result()
	if r.Status != StatusDisabled {
		t.Fatalf("status = %s, want disabled", r.Status)
	}
	if !r.IsPending() {
		t.Fatal("disabled query should look pending")
	}
	if r.IsLoading() {
		t.Fatal("disabled query reported loading")
	}
	if _, err := q.Refetch(context.Background()); err != nil {
		t.Fatalf("Refetch: %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("disabled query fetched %d times", calls.Load())
	}

	term = "berlin"
	q.SetKey(NewKey("events", Params{"search": term}))
	if r := settle(t, q); r.Status != StatusSuccess {
		t.Fatalf("status after enabling = %s", r.Status)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestQueryErrorKeepsData(t *testing.T) {
	s := NewStore()
	key := NewKey("events", Params{"id": "e1"})
	s.Set(key, "A")

	boom := errors.New("offline")
	q := NewQuery(s, QueryOptions[string]{
		Key: key,
		Fn:  func(context.Context, Key) (string, error) { return "", boom },
	})
	q.Mount(context.Background())
	defer q.Unmount()

	r := settle(t, q)
	if r.Status != StatusError || !errors.Is(r.Err, boom) {
		t.Fatalf("result = %+v", r)
	}
	if !r.HasData || r.Data != "A" {
		t.Fatalf("data = %q, want last good value", r.Data)
	}
}

func TestQueryListenerSeesOptimisticWrite(t *testing.T) {
	s := NewStore()
	key := NewKey("events", Params{"id": "e1"})
	s.Set(key, "A")

	q := NewQuery(s, QueryOptions[string]{
		Key:       key,
		Fn:        func(context.Context, Key) (string, error) { return "A", nil },
		StaleTime: time.Hour,
	})
	seen := make(chan string, 4)
	unsubscribe := q.Subscribe(func(r Result[string]) { seen <- r.Data })
	defer unsubscribe()
	q.Mount(context.Background())
	defer q.Unmount()
	<-seen

	s.Swap(key, "B")
	select {
	case got := <-seen:
		if got != "B" {
			t.Fatalf("listener saw %q, want B", got)
		}
	case <-time.After(time.Second):
		t.Fatal("listener not notified")
	}
}

func TestInvalidateRefetchesMountedQuery(t *testing.T) {
	s := NewStore()
	key := NewKey("events", Params{"max": 3})
	var version atomic.Int32
	q := NewQuery(s, QueryOptions[int32]{
		Key:       key,
		Fn:        func(context.Context, Key) (int32, error) { return version.Add(1), nil },
		StaleTime: time.Hour,
	})
	q.Mount(context.Background())
	defer q.Unmount()
	if r := settle(t, q); r.Data != 1 {
		t.Fatalf("first fetch = %d", r.Data)
	}

	s.Invalidate(Prefix("events", nil), InvalidateOptions{Refetch: RefetchActive})
	if r := settle(t, q); r.Data != 2 || r.IsStale {
		t.Fatalf("after invalidate = %+v", r)
	}

	s.Invalidate(Prefix("events", nil), InvalidateOptions{Refetch: RefetchNone})
	r := q.Result()
	if r.Data != 2 || !r.IsStale || r.IsFetching {
		t.Fatalf("deferred invalidate = %+v", r)
	}

	s.RefreshStale()
	if r := settle(t, q); r.Data != 3 {
		t.Fatalf("after refresh = %d", r.Data)
	}
}

func TestInvalidateCancelsFetchInFlight(t *testing.T) {
	s := NewStore()
	key := NewKey("events", Params{"max": 3})
	g := newGate()
	var refetched atomic.Bool
	q := NewQuery(s, QueryOptions[string]{
		Key: key,
		Fn: func(ctx context.Context, k Key) (string, error) {
			if refetched.Load() {
				return "fresh", nil
			}
			v, err := g.fetch("before invalidate", nil)(ctx, k)
			if err != nil {
				return "", err
			}
			return v.(string), nil
		},
	})
	q.Mount(context.Background())
	defer q.Unmount()
	g.waitStarted(t)

	refetched.Store(true)
	s.Invalidate(Prefix("events", nil), InvalidateOptions{Refetch: RefetchActive})
	r := settle(t, q)
	g.Release()

	if r.Data != "fresh" {
		t.Fatalf("data = %q, want fresh", r.Data)
	}
	// Give the stale response a chance to (wrongly) land.
	time.Sleep(20 * time.Millisecond)
	if r := q.Result(); r.Data != "fresh" {
		t.Fatalf("stale response committed: %q", r.Data)
	}
}

func TestQueryRefetchWaitsForResult(t *testing.T) {
	s := NewStore()
	var calls atomic.Int32
	q := NewQuery(s, QueryOptions[int32]{
		Key:       NewKey("events-images", nil),
		Fn:        func(context.Context, Key) (int32, error) { return calls.Add(1), nil },
		StaleTime: time.Hour,
	})

	r, err := q.Refetch(context.Background())
	if err != nil {
		t.Fatalf("Refetch: %v", err)
	}
	if r.Data != 1 {
		t.Fatalf("data = %d", r.Data)
	}
}
