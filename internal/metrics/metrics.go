// Package metrics exposes query cache and mutation telemetry to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"eventdesk/internal/query"
)

const namespace = "eventdesk"

// Recorder implements query.Recorder on Prometheus collectors.
type Recorder struct {
	fetchDur      *prometheus.HistogramVec
	fetchTotal    *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	invalidated   *prometheus.CounterVec
	evictions     prometheus.Counter
	entries       prometheus.Gauge
	mutationDur   *prometheus.HistogramVec
	mutationTotal *prometheus.CounterVec
	rollbacks     *prometheus.CounterVec
}

var _ query.Recorder = (*Recorder)(nil)

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{}
	r.fetchDur = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "query",
		Name:      "fetch_duration_seconds",
		Help:      "Time spent in query fetches",
		Buckets:   prometheus.DefBuckets,
	}, []string{"collection"})
	r.fetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "query",
		Name:      "fetches_total",
		Help:      "Number of query fetches by outcome",
	}, []string{"collection", "outcome"})
	r.invalidations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "query",
		Name:      "invalidations_total",
		Help:      "Number of invalidate calls",
	}, []string{"collection"})
	r.invalidated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "query",
		Name:      "invalidated_entries_total",
		Help:      "Number of entries marked stale by invalidation",
	}, []string{"collection"})
	r.evictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "query",
		Name:      "evictions_total",
		Help:      "Number of cache entries evicted by retention sweeps",
	})
	r.entries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "query",
		Name:      "entries",
		Help:      "Number of entries held by the cache",
	})
	r.mutationDur = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "mutation",
		Name:      "duration_seconds",
		Help:      "Time spent in mutation requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"name"})
	r.mutationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mutation",
		Name:      "attempts_total",
		Help:      "Number of mutation attempts by outcome",
	}, []string{"name", "outcome"})
	r.rollbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mutation",
		Name:      "rollbacks_total",
		Help:      "Optimistic rollbacks by whether the snapshot was restored",
	}, []string{"name", "restored"})

	for _, c := range []prometheus.Collector{
		r.fetchDur, r.fetchTotal, r.invalidations, r.invalidated,
		r.evictions, r.entries, r.mutationDur, r.mutationTotal, r.rollbacks,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) ObserveFetch(collection string, outcome query.FetchOutcome, elapsed time.Duration) {
	r.fetchDur.WithLabelValues(collection).Observe(elapsed.Seconds())
	r.fetchTotal.WithLabelValues(collection, string(outcome)).Inc()
}

func (r *Recorder) CountInvalidation(collection string, matched int) {
	r.invalidations.WithLabelValues(collection).Inc()
	r.invalidated.WithLabelValues(collection).Add(float64(matched))
}

func (r *Recorder) CountEvictions(n int) {
	r.evictions.Add(float64(n))
}

func (r *Recorder) SetEntries(n int) {
	r.entries.Set(float64(n))
}

func (r *Recorder) ObserveMutation(name string, outcome query.FetchOutcome, elapsed time.Duration) {
	r.mutationDur.WithLabelValues(name).Observe(elapsed.Seconds())
	r.mutationTotal.WithLabelValues(name, string(outcome)).Inc()
}

func (r *Recorder) CountRollback(name string, restored bool) {
	label := "false"
	if restored {
		label = "true"
	}
	r.rollbacks.WithLabelValues(name, label).Inc()
}
