package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	appLog "eventdesk/internal/log"
)

// DefaultGCTime is how long an unobserved entry is retained.
const DefaultGCTime = 5 * time.Minute

// ErrCanceled is returned to waiters of a fetch that was cancelled before it
// could commit.
var ErrCanceled = errors.New("query: fetch canceled")

// IsCanceled reports whether err stems from a cancellation. Cancellations are
// benign and never surface as an error state.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}

// FetchFunc loads the value for key. It must honor ctx cancellation.
type FetchFunc func(ctx context.Context, key Key) (any, error)

// RefetchType controls what Invalidate does with observed entries.
type RefetchType int

const (
	// RefetchActive refetches matching entries that have an enabled
	// observer right away.
	RefetchActive RefetchType = iota
	// RefetchNone only marks entries stale; they refetch on next access.
	RefetchNone
)

// InvalidateOptions tunes Invalidate.
type InvalidateOptions struct {
	Refetch RefetchType
}

// Entry is a read-only snapshot of one cache entry.
type Entry struct {
	Key Key
	// Value is the last successful result or an optimistic substitute.
	Value    any
	HasValue bool
	// UpdatedAt is the staleness timestamp of Value.
	UpdatedAt time.Time
	// Err is the error of the most recent failed fetch, kept next to the
	// last good Value.
	Err         error
	ErrAt       time.Time
	Invalidated bool
	Fetching    bool
	Observers   int
	// GCAt is the retention deadline; zero while observed.
	GCAt time.Time
	// Version increases on every write of Value.
	Version uint64
}

// IsStale reports whether the entry needs a refetch under staleTime.
func (e Entry) IsStale(staleTime time.Duration, now time.Time) bool {
	if !e.HasValue || e.Invalidated {
		return true
	}
	return now.Sub(e.UpdatedAt) >= staleTime
}

// observer is the store-facing side of a Query binder.
type observer interface {
	// entryChanged is called after any change of an observed entry, outside
	// the store lock.
	entryChanged()
	// enabled reports whether the observer may fetch.
	enabled() bool
	// refetch starts a background fetch regardless of staleness.
	refetch()
	// refreshIfStale starts a background fetch when the observed entry is
	// stale for the observer's stale time.
	refreshIfStale()
}

type flight struct {
	// group is the singleflight key; unique per flight so that a new flight
	// never joins a finished or cancelled one.
	group    string
	cancel   context.CancelFunc
	canceled bool
}

type entry struct {
	key Key

	value       any
	hasValue    bool
	updatedAt   time.Time
	err         error
	errAt       time.Time
	invalidated bool
	version     uint64
	// token identifies the write that produced value; rejected holds
	// rollbacks of optimistic writes that were shadowed by a later one,
	// keyed by the token they wrote.
	token    uint64
	rejected map[uint64]Snapshot

	gcTime time.Duration
	gcAt   time.Time

	flight    *flight
	observers map[observer]struct{}
}

func (e *entry) snapshot() Entry {
	return Entry{
		Key:         e.key,
		Value:       e.value,
		HasValue:    e.hasValue,
		UpdatedAt:   e.updatedAt,
		Err:         e.err,
		ErrAt:       e.errAt,
		Invalidated: e.invalidated,
		Fetching:    e.flight != nil,
		Observers:   len(e.observers),
		GCAt:        e.gcAt,
		Version:     e.version,
	}
}

func (e *entry) observerList() []observer {
	out := make([]observer, 0, len(e.observers))
	for obs := range e.observers {
		out = append(out, obs)
	}
	return out
}

// StoreOption mutates store configuration.
type StoreOption func(*Store)

// WithClock replaces time.Now, mainly for tests.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithRecorder plugs in metrics.
func WithRecorder(recorder Recorder) StoreOption {
	return func(s *Store) {
		if recorder != nil {
			s.recorder = recorder
		}
	}
}

// WithDefaultGCTime sets the retention of entries written without an
// observer (Set, Fetch).
func WithDefaultGCTime(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.gcTime = d
		}
	}
}

// Store is the process-wide query cache. Create one at startup and hand it
// to every binder. It is safe for concurrent use; observers are notified
// outside the lock.
//
// For a key at most one fetch is in flight. Concurrent callers share it
// through a singleflight group keyed per flight; Cancel forgets that key and
// a cancelled fetch is never allowed to write its result.
type Store struct {
	clock    func() time.Time
	recorder Recorder
	gcTime   time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	flights uint64
	tokens  uint64
	group   singleflight.Group
}

// NewStore creates an empty cache.
func NewStore(options ...StoreOption) *Store {
	s := &Store{
		clock:    time.Now,
		recorder: nopRecorder{},
		gcTime:   DefaultGCTime,
		entries:  make(map[string]*entry),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Now returns the store clock.
func (s *Store) Now() time.Time {
	return s.clock()
}

// Recorder returns the telemetry sink of the store.
func (s *Store) Recorder() Recorder {
	return s.recorder
}

// Get returns the entry for key.
func (s *Store) Get(key Key) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key.Hash()]
	if !ok {
		return Entry{}, false
	}
	return e.snapshot(), true
}

// Entries lists all entries ordered by key.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.snapshot())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.Hash() < out[j].Key.Hash()
	})
	return out
}

// Set overwrites the value of key and marks it fresh. The retention deadline
// is left alone.
func (s *Store) Set(key Key, value any) {
	s.mu.Lock()
	e := s.ensureLocked(key)
	s.writeLocked(e, value)
	e.rejected = nil
	observers := e.observerList()
	s.mu.Unlock()

	notify(observers)
}

// Snapshot is the state of one key captured before an optimistic write.
type Snapshot struct {
	Key Key
	// Entry is the captured state; Present is false when the key had no entry.
	Entry   Entry
	Present bool
	// prev and written are the write tokens before and after the
	// optimistic write.
	prev    uint64
	written uint64
}

// Swap captures the current state of key and overwrites it with value in one
// step. The returned snapshot feeds Rollback.
func (s *Store) Swap(key Key, value any) Snapshot {
	s.mu.Lock()
	snap := Snapshot{Key: key}
	if e, ok := s.entries[key.Hash()]; ok {
		snap.Entry = e.snapshot()
		snap.Present = true
	}
	e := s.ensureLocked(key)
	snap.prev = e.token
	s.writeLocked(e, value)
	snap.written = e.token
	observers := e.observerList()
	s.mu.Unlock()

	notify(observers)
	return snap
}

// Rollback restores snap when the entry still holds the value written by the
// Swap that produced it. It reports whether the entry was restored.
//
// A snapshot whose value was overwritten by a later Swap is parked instead:
// once that later Swap is rolled back the entry is unwound through every
// parked snapshot, so overlapping optimistic writes that all fail end at the
// value from before the first one. Set and successful fetches drop parked
// snapshots, so an older snapshot never clobbers a confirmed value.
func (s *Store) Rollback(snap Snapshot) bool {
	s.mu.Lock()
	e, ok := s.entries[snap.Key.Hash()]
	if !ok {
		s.mu.Unlock()
		appLog.Debug("query rollback skipped", "key", snap.Key.String(), "present", false)
		return false
	}
	if e.token != snap.written {
		if e.rejected == nil {
			e.rejected = make(map[uint64]Snapshot)
		}
		e.rejected[snap.written] = snap
		s.mu.Unlock()
		appLog.Debug("query rollback deferred", "key", snap.Key.String())
		return false
	}

	restoreLocked(e, snap)
	for {
		next, ok := e.rejected[e.token]
		if !ok {
			break
		}
		delete(e.rejected, e.token)
		restoreLocked(e, next)
	}
	observers := e.observerList()
	s.mu.Unlock()

	notify(observers)
	return true
}

func restoreLocked(e *entry, snap Snapshot) {
	if snap.Present && snap.Entry.HasValue {
		e.value = snap.Entry.Value
		e.hasValue = true
		e.updatedAt = snap.Entry.UpdatedAt
	} else {
		e.value = nil
		e.hasValue = false
		e.updatedAt = time.Time{}
	}
	e.err = snap.Entry.Err
	e.errAt = snap.Entry.ErrAt
	e.invalidated = snap.Entry.Invalidated
	e.token = snap.prev
	e.version++
}

// Invalidate marks every entry matched by sel stale and returns how many
// matched. With RefetchActive, matching entries that have an enabled
// observer are refetched immediately; a fetch already in flight for them is
// cancelled first because its response may predate the invalidation.
func (s *Store) Invalidate(sel Selector, opts InvalidateOptions) int {
	var (
		changed []observer
		pending []observer
		matched int
	)

	s.mu.Lock()
	for _, e := range s.entries {
		if !sel.Match(e.key) {
			continue
		}
		matched++
		e.invalidated = true
		changed = append(changed, e.observerList()...)

		if opts.Refetch != RefetchActive {
			continue
		}
		var active []observer
		for obs := range e.observers {
			if obs.enabled() {
				active = append(active, obs)
			}
		}
		if len(active) == 0 {
			continue
		}
		s.cancelLocked(e)
		// One observer is enough: the store shares the flight.
		pending = append(pending, active[0])
	}
	s.mu.Unlock()

	s.recorder.CountInvalidation(sel.Key.Collection, matched)
	appLog.Debug("query invalidate", "selector", sel.String(), "matched", matched, "refetch", len(pending))

	notify(changed)
	for _, obs := range pending {
		obs.refetch()
	}
	return matched
}

// Cancel aborts in-flight fetches matched by sel. Their results are dropped
// and their waiters receive ErrCanceled. It returns how many were cancelled.
func (s *Store) Cancel(sel Selector) int {
	var (
		changed   []observer
		cancelled int
	)

	s.mu.Lock()
	for _, e := range s.entries {
		if e.flight == nil || !sel.Match(e.key) {
			continue
		}
		s.cancelLocked(e)
		cancelled++
		changed = append(changed, e.observerList()...)
	}
	s.mu.Unlock()

	if cancelled > 0 {
		appLog.Debug("query cancel", "selector", sel.String(), "cancelled", cancelled)
	}
	notify(changed)
	return cancelled
}

// Fetch returns the value of key, fetching it with fn when it is absent or
// stale for staleTime. A fetch already in flight is joined. ctx only bounds
// the wait; the shared fetch keeps running for other waiters.
func (s *Store) Fetch(ctx context.Context, key Key, fn FetchFunc, staleTime time.Duration) (any, error) {
	s.mu.Lock()
	if e, ok := s.entries[key.Hash()]; ok && !e.snapshot().IsStale(staleTime, s.clock()) {
		value := e.value
		s.mu.Unlock()
		return value, nil
	}
	ch, observers := s.startLocked(ctx, key, fn)
	s.mu.Unlock()

	notify(observers)
	return wait(ctx, ch)
}

// Sweep evicts entries that have no observers, nothing in flight and an
// expired retention deadline. It returns the number of evicted entries.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	evicted := 0
	for hash, e := range s.entries {
		if len(e.observers) > 0 || e.flight != nil || e.gcAt.IsZero() {
			continue
		}
		if now.Before(e.gcAt) {
			continue
		}
		delete(s.entries, hash)
		evicted++
	}
	remaining := len(s.entries)
	s.mu.Unlock()

	s.recorder.CountEvictions(evicted)
	s.recorder.SetEntries(remaining)
	return evicted
}

// RefreshStale asks every observer to refetch its entry if stale.
func (s *Store) RefreshStale() {
	s.mu.Lock()
	var observers []observer
	for _, e := range s.entries {
		for obs := range e.observers {
			if obs.enabled() {
				observers = append(observers, obs)
			}
		}
	}
	s.mu.Unlock()

	for _, obs := range observers {
		obs.refreshIfStale()
	}
}

// start begins or joins the fetch for key.
func (s *Store) start(ctx context.Context, key Key, fn FetchFunc) <-chan singleflight.Result {
	s.mu.Lock()
	ch, observers := s.startLocked(ctx, key, fn)
	s.mu.Unlock()

	notify(observers)
	return ch
}

// startLocked joins the current flight of key or starts a new one. DoChan is
// called under s.mu: it never runs fn synchronously, and run clears e.flight
// under s.mu before the group releases the flight key, so a caller that sees
// a flight here always joins that flight.
func (s *Store) startLocked(ctx context.Context, key Key, fn FetchFunc) (<-chan singleflight.Result, []observer) {
	e := s.ensureLocked(key)
	if f := e.flight; f != nil {
		return s.group.DoChan(f.group, joinOnly), nil
	}

	s.flights++
	fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &flight{
		group:  fmt.Sprintf("%s#%d", key.Hash(), s.flights),
		cancel: cancel,
	}
	e.flight = f
	ch := s.group.DoChan(f.group, func() (any, error) {
		return s.run(fctx, key, f, fn)
	})
	return ch, e.observerList()
}

// joinOnly backs DoChan calls that expect to join an existing flight.
func joinOnly() (any, error) {
	return nil, ErrCanceled
}

func (s *Store) run(ctx context.Context, key Key, f *flight, fn FetchFunc) (any, error) {
	started := s.clock()
	value, err := fn(ctx, key)
	elapsed := s.clock().Sub(started)
	f.cancel()

	s.mu.Lock()
	e, ok := s.entries[key.Hash()]
	if f.canceled || !ok || e.flight != f {
		s.mu.Unlock()
		s.recorder.ObserveFetch(key.Collection, OutcomeCanceled, elapsed)
		appLog.Debug("query fetch dropped", "key", key.String())
		return nil, fmt.Errorf("fetch %s: %w", key, ErrCanceled)
	}
	e.flight = nil

	outcome := OutcomeSuccess
	switch {
	case err == nil:
		s.writeLocked(e, value)
		e.rejected = nil
	case IsCanceled(err):
		outcome = OutcomeCanceled
	default:
		outcome = OutcomeError
		e.err = err
		e.errAt = s.clock()
	}
	observers := e.observerList()
	s.mu.Unlock()

	s.recorder.ObserveFetch(key.Collection, outcome, elapsed)
	if outcome == OutcomeError {
		appLog.Error("query fetch failed", err, "key", key.String())
	}

	notify(observers)
	if err != nil {
		return nil, err
	}
	return value, nil
}

// attach registers obs on key; the entry is retained while observed.
func (s *Store) attach(key Key, obs observer, gcTime time.Duration) {
	s.mu.Lock()
	e := s.ensureLocked(key)
	e.observers[obs] = struct{}{}
	e.gcAt = time.Time{}
	if gcTime > e.gcTime {
		e.gcTime = gcTime
	}
	s.mu.Unlock()
}

// detach removes obs from key and starts the retention countdown when it was
// the last observer.
func (s *Store) detach(key Key, obs observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key.Hash()]
	if !ok {
		return
	}
	delete(e.observers, obs)
	if len(e.observers) == 0 {
		e.gcAt = s.clock().Add(e.gcTime)
	}
}

func (s *Store) ensureLocked(key Key) *entry {
	hash := key.Hash()
	e, ok := s.entries[hash]
	if ok {
		return e
	}
	e = &entry{
		key:       key,
		gcTime:    s.gcTime,
		gcAt:      s.clock().Add(s.gcTime),
		observers: make(map[observer]struct{}),
	}
	s.entries[hash] = e
	s.recorder.SetEntries(len(s.entries))
	return e
}

func (s *Store) writeLocked(e *entry, value any) {
	e.value = value
	e.hasValue = true
	e.updatedAt = s.clock()
	e.invalidated = false
	e.err = nil
	e.errAt = time.Time{}
	e.version++
	s.tokens++
	e.token = s.tokens
}

func (s *Store) cancelLocked(e *entry) {
	f := e.flight
	if f == nil {
		return
	}
	f.canceled = true
	f.cancel()
	e.flight = nil
	s.group.Forget(f.group)
}

func wait(ctx context.Context, ch <-chan singleflight.Result) (any, error) {
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
	}
}

func notify(observers []observer) {
	for _, obs := range observers {
		obs.entryChanged()
	}
}
