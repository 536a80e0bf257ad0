package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/notifyhub/creator-relay/internal/domain"
	"github.com/notifyhub/creator-relay/internal/processor"
)

// Metrics groups all Prometheus instruments used across the relay.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	JobsTotal        *prometheus.CounterVec
	DeliveriesTotal  *prometheus.CounterVec
	RetrievalsTotal  *prometheus.CounterVec
	RetrievalLatency *prometheus.HistogramVec
	DrainDuration    prometheus.Histogram
	DrainBatchSize   prometheus.Histogram
	EnqueuedTotal    *prometheus.CounterVec
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_jobs_total",
			Help: "Queue jobs processed, by outcome (done, retry, failed).",
		}, []string{"outcome"}),

		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_deliveries_total",
			Help: "Delivery attempts per platform, by outcome (ok, error).",
		}, []string{"platform", "outcome"}),

		RetrievalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_retrievals_total",
			Help: "Media retrievals per engine, by outcome (ok, error).",
		}, []string{"engine", "outcome"}),

		RetrievalLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_retrieval_seconds",
			Help:    "Media retrieval latency per engine.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"engine"}),

		DrainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_drain_seconds",
			Help:    "Wall time of one queue drain.",
			Buckets: prometheus.DefBuckets,
		}),

		DrainBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_drain_batch_size",
			Help:    "Number of jobs fetched per drain.",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 10},
		}),

		EnqueuedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_enqueued_total",
			Help: "Notifications enqueued by the forwarder, by origin (primary, cross_origin).",
		}, []string{"origin"}),
	}

	reg.MustRegister(
		m.JobsTotal,
		m.DeliveriesTotal,
		m.RetrievalsTotal,
		m.RetrievalLatency,
		m.DrainDuration,
		m.DrainBatchSize,
		m.EnqueuedTotal,
	)

	return m
}

// ProcessorHooks returns the callbacks expected by processor.Hooks.
// Keeps the prometheus observation calls out of the processor package.
func (m *Metrics) ProcessorHooks() processor.Hooks {
	return processor.Hooks{
		OnJob: func(outcome processor.Outcome) {
			m.JobsTotal.WithLabelValues(string(outcome)).Inc()
		},
		OnDelivery: func(p domain.Platform, ok bool) {
			m.DeliveriesTotal.WithLabelValues(string(p), okLabel(ok)).Inc()
		},
		OnDrain: func(batch int, d time.Duration) {
			m.DrainBatchSize.Observe(float64(batch))
			m.DrainDuration.Observe(d.Seconds())
		},
	}
}

// RetrievalHook matches the downloader's onResult callback.
func (m *Metrics) RetrievalHook() func(engine string, ok bool, latency time.Duration) {
	return func(engine string, ok bool, latency time.Duration) {
		m.RetrievalsTotal.WithLabelValues(engine, okLabel(ok)).Inc()
		m.RetrievalLatency.WithLabelValues(engine).Observe(latency.Seconds())
	}
}

// EnqueueHook matches the forwarder's onEnqueued callback.
func (m *Metrics) EnqueueHook() func(crossOrigin bool) {
	return func(crossOrigin bool) {
		origin := "primary"
		if crossOrigin {
			origin = "cross_origin"
		}
		m.EnqueuedTotal.WithLabelValues(origin).Inc()
	}
}

func okLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
