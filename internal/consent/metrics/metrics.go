package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Load outcomes.
const (
	LoadHit         = "hit"
	LoadMiss        = "miss"
	LoadLegacy      = "legacy"
	LoadMalformed   = "malformed"
	LoadUnavailable = "unavailable"
)

// Push outcomes.
const (
	PushDelivered = "delivered"
	PushNotReady  = "not_ready"
	PushFailed    = "failed"
	PushRetried   = "retried"
	PushDropped   = "dropped"
)

// Metrics holds Prometheus collectors for consent operations.
type Metrics struct {
	DecisionsRecorded *prometheus.CounterVec
	PersistFailures   prometheus.Counter
	Loads             *prometheus.CounterVec
	CategoryGrants    *prometheus.CounterVec

	Pushes        *prometheus.CounterVec
	PendingPushes prometheus.Gauge
	PushLatency   prometheus.Histogram

	// Performance metrics
	StoreOperationLatency *prometheus.HistogramVec
	SessionLockWait       prometheus.Histogram
	SessionLockAcquired   prometheus.Counter
}

// New registers consent collectors with reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		DecisionsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tagconsent_decisions_recorded_total",
			Help: "Total number of consent decisions recorded, labeled by source",
		}, []string{"source"}),
		PersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "tagconsent_decision_persist_failures_total",
			Help: "Total number of decisions that governed a session but could not be persisted",
		}),
		Loads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tagconsent_decision_loads_total",
			Help: "Total number of persisted decision loads, labeled by outcome",
		}, []string{"outcome"}),
		CategoryGrants: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tagconsent_category_grants_total",
			Help: "Total number of recorded decisions granting a category, labeled by category",
		}, []string{"category"}),
		Pushes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tagconsent_signal_pushes_total",
			Help: "Total number of consent signal pushes to the tag runtime, labeled by outcome",
		}, []string{"outcome"}),
		PendingPushes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tagconsent_signal_pending_pushes",
			Help: "Current number of visitors with a push waiting for runtime readiness",
		}),
		PushLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tagconsent_signal_push_latency_seconds",
			Help:    "Latency of consent signal pushes in seconds",
			Buckets: prometheus.DefBuckets,
		}),

		// Performance metrics
		StoreOperationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tagconsent_store_operation_latency_seconds",
			Help:    "Latency of consent store operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"operation"}),
		SessionLockWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tagconsent_session_lock_wait_seconds",
			Help:    "Time spent waiting to acquire a visitor's session lock",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		SessionLockAcquired: factory.NewCounter(prometheus.CounterOpts{
			Name: "tagconsent_session_lock_acquisitions_total",
			Help: "Total number of visitor session lock acquisitions",
		}),
	}
}

func (m *Metrics) IncrementDecisionsRecorded(source string) {
	m.DecisionsRecorded.WithLabelValues(source).Inc()
}

func (m *Metrics) IncrementPersistFailures() {
	m.PersistFailures.Inc()
}

func (m *Metrics) IncrementLoads(outcome string) {
	m.Loads.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementCategoryGrant(category string) {
	m.CategoryGrants.WithLabelValues(category).Inc()
}

func (m *Metrics) IncrementPushes(outcome string) {
	m.Pushes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetPendingPushes(count float64) {
	m.PendingPushes.Set(count)
}

func (m *Metrics) ObservePushLatency(durationSeconds float64) {
	m.PushLatency.Observe(durationSeconds)
}

// ObserveStoreOperationLatency records the latency of a store operation.
func (m *Metrics) ObserveStoreOperationLatency(operation string, durationSeconds float64) {
	m.StoreOperationLatency.WithLabelValues(operation).Observe(durationSeconds)
}

// ObserveSessionLockWait records time spent waiting for a visitor's lock.
func (m *Metrics) ObserveSessionLockWait(durationSeconds float64) {
	m.SessionLockWait.Observe(durationSeconds)
	m.SessionLockAcquired.Inc()
}
