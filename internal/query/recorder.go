package query

import "time"

// FetchOutcome labels how a fetch ended.
type FetchOutcome string

const (
	OutcomeSuccess  FetchOutcome = "success"
	OutcomeError    FetchOutcome = "error"
	OutcomeCanceled FetchOutcome = "canceled"
)

// Recorder receives cache and mutation telemetry. Implementations must be
// safe for concurrent use and must not call back into the store.
type Recorder interface {
	ObserveFetch(collection string, outcome FetchOutcome, elapsed time.Duration)
	CountInvalidation(collection string, matched int)
	CountEvictions(n int)
	SetEntries(n int)
	ObserveMutation(name string, outcome FetchOutcome, elapsed time.Duration)
	CountRollback(name string, restored bool)
}

type nopRecorder struct{}

func (nopRecorder) ObserveFetch(string, FetchOutcome, time.Duration)    {}
func (nopRecorder) CountInvalidation(string, int)                       {}
func (nopRecorder) CountEvictions(int)                                  {}
func (nopRecorder) SetEntries(int)                                      {}
func (nopRecorder) ObserveMutation(string, FetchOutcome, time.Duration) {}
func (nopRecorder) CountRollback(string, bool)                          {}
