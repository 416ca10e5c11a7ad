package query

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	l.calls = append(l.calls, s)
	l.mu.Unlock()
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func TestMutationHookOrder(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want []string
	}{
		{name: "success", want: []string{"mutate", "fn", "success:ctx", "settled"}},
		{name: "error", err: errors.New("offline"), want: []string{"mutate", "fn", "error:ctx", "settled"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			log := &callLog{}
			m := NewMutation(NewStore(), MutationOptions[string, string]{
				Name: "update",
				Fn: func(_ context.Context, v string) (string, error) {
					log.add("fn")
					return v + "!", tc.err
				},
				OnMutate: func(context.Context, string) (any, error) {
					log.add("mutate")
					return "ctx", nil
				},
				OnSuccess: func(_ string, _ string, mctx any) { log.add("success:" + mctx.(string)) },
				OnError:   func(_ error, _ string, mctx any) { log.add("error:" + mctx.(string)) },
				OnSettled: func(string, error, string, any) { log.add("settled") },
			})

			got, err := m.MutateWait(context.Background(), "x")
			if !errors.Is(err, tc.err) {
				t.Fatalf("err = %v, want %v", err, tc.err)
			}
			if tc.err == nil && got != "x!" {
				t.Fatalf("result = %q", got)
			}
			if calls := log.list(); !reflect.DeepEqual(calls, tc.want) {
				t.Fatalf("calls = %v, want %v", calls, tc.want)
			}

			state := m.State()
			if tc.err != nil && state.Status != MutationError {
				t.Fatalf("status = %s", state.Status)
			}
			if tc.err == nil && (state.Status != MutationSuccess || state.Data != "x!") {
				t.Fatalf("state = %+v", state)
			}
		})
	}
}

func TestMutationOnMutateRunsBeforeMutateReturns(t *testing.T) {
	release := make(chan struct{})
	mutated := false
	m := NewMutation(nil, MutationOptions[int, int]{
		Fn: func(_ context.Context, v int) (int, error) {
			<-release
			return v, nil
		},
		OnMutate: func(context.Context, int) (any, error) {
			mutated = true
			return nil, nil
		},
	})

	a := m.Mutate(context.Background(), 1)
	if !mutated {
		t.Fatal("OnMutate had not run when Mutate returned")
	}
	if !m.State().IsPending() {
		t.Fatalf("status = %s, want pending", m.State().Status)
	}
	close(release)
	<-a.Done()
}

func TestMutationOnMutateErrorSkipsRequest(t *testing.T) {
	sent := false
	settled := 0
	denied := errors.New("denied")
	m := NewMutation(nil, MutationOptions[int, int]{
		Fn: func(context.Context, int) (int, error) {
			sent = true
			return 0, nil
		},
		OnMutate:  func(context.Context, int) (any, error) { return nil, denied },
		OnSettled: func(int, error, int, any) { settled++ },
	})

	if _, err := m.MutateWait(context.Background(), 1); !errors.Is(err, denied) {
		t.Fatalf("err = %v", err)
	}
	if sent {
		t.Fatal("request sent after OnMutate failed")
	}
	if settled != 1 {
		t.Fatalf("OnSettled ran %d times", settled)
	}
}

func TestMutationSurvivesCallerCancellation(t *testing.T) {
	release := make(chan struct{})
	m := NewMutation(nil, MutationOptions[int, int]{
		Fn: func(ctx context.Context, v int) (int, error) {
			<-release
			return v, ctx.Err()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	a := m.Mutate(ctx, 7)
	cancel()
	close(release)

	got, err := a.Wait(context.Background())
	if err != nil || got != 7 {
		t.Fatalf("attempt = %d, %v", got, err)
	}
}

func TestMutationStateFollowsLatestAttempt(t *testing.T) {
	release := make(chan struct{})
	m := NewMutation(nil, MutationOptions[string, string]{
		Fn: func(_ context.Context, v string) (string, error) {
			if v == "slow" {
				<-release
				return "", errors.New("slow failed")
			}
			return v, nil
		},
	})

	slow := m.Mutate(context.Background(), "slow")
	fast := m.Mutate(context.Background(), "fast")
	<-fast.Done()
	close(release)
	<-slow.Done()

	state := m.State()
	if state.AttemptID != fast.ID || state.Status != MutationSuccess {
		t.Fatalf("state = %+v, want fast attempt success", state)
	}
}

func TestOptimisticUpdateRollsBackOnFailure(t *testing.T) {
	s := NewStore()
	key := NewKey("events", Params{"id": "E1"})
	s.Set(key, "A")

	q := NewQuery(s, QueryOptions[string]{
		Key:       key,
		Fn:        func(context.Context, Key) (string, error) { return "A", nil },
		StaleTime: time.Hour,
	})
	q.Mount(context.Background())
	defer q.Unmount()

	release := make(chan struct{})
	m := NewMutation(s, MutationOptions[string, string]{
		Name: "update-event",
		Fn: func(context.Context, string) (string, error) {
			<-release
			return "", errors.New("network unreachable")
		},
		OnMutate: func(_ context.Context, title string) (any, error) {
			s.Cancel(Exact(key))
			return s.Swap(key, title), nil
		},
		OnError: func(_ error, _ string, mctx any) {
			s.Rollback(mctx.(Snapshot))
		},
	})

	a := m.Mutate(context.Background(), "B")
	if r := q.Result(); r.Data != "B" {
		t.Fatalf("optimistic data = %q, want B", r.Data)
	}
	close(release)
	if _, err := a.Wait(context.Background()); err == nil {
		t.Fatal("expected failure")
	}

	if r := q.Result(); r.Data != "A" {
		t.Fatalf("after rollback = %q, want A", r.Data)
	}
	if !m.State().IsError() {
		t.Fatal("mutation error not exposed")
	}
}

func TestMutationReset(t *testing.T) {
	m := NewMutation(nil, MutationOptions[int, int]{
		Fn: func(context.Context, int) (int, error) { return 1, nil },
	})
	var seen []MutationStatus
	var mu sync.Mutex
	unsubscribe := m.Subscribe(func(s MutationState[int]) {
		mu.Lock()
		seen = append(seen, s.Status)
		mu.Unlock()
	})
	defer unsubscribe()

	if _, err := m.MutateWait(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	m.Reset()
	if m.State().Status != MutationIdle {
		t.Fatalf("status = %s", m.State().Status)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []MutationStatus{MutationPending, MutationSuccess, MutationIdle}
	if !reflect.DeepEqual(seen, want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
}
