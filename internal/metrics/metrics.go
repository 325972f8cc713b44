// Package metrics defines the Prometheus collectors the dispatcher and
// event bus report into. New creates every collector, and they are
// registered against a caller-supplied registry so tests can use a
// fresh prometheus.Registry instead of the global one.
// StoreQueryDuration is defined and registered, but nothing records
// into it.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors groups every metric the operator exposes. Construct with
// New and register once against the process's Prometheus registry.
type Collectors struct {
	ReconcileTotal      *prometheus.CounterVec
	ReconcileDuration   *prometheus.HistogramVec
	ReconcileInFlight   prometheus.Gauge
	StoreQueryDuration  *prometheus.HistogramVec
	RequeueTotal        prometheus.Counter
	EventBusDropped     prometheus.Counter
	EventBusSubscribers prometheus.Gauge
}

// New builds a Collectors with every metric instantiated but not yet
// registered.
func New() *Collectors {
	return &Collectors{
		ReconcileTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "operator",
			Subsystem: "dispatcher",
			Name:      "reconcile_total",
			Help:      "Total reconcile attempts, labeled by trigger_reason and outcome.",
		}, []string{"trigger_reason", "outcome"}),

		ReconcileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "operator",
			Subsystem: "dispatcher",
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of a full reconcile task, labeled by action_plugin.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action_plugin"}),

		ReconcileInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "operator",
			Subsystem: "dispatcher",
			Name:      "reconcile_in_flight",
			Help:      "Number of reconcile tasks currently holding a semaphore permit.",
		}),

		StoreQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "operator",
			Subsystem: "store",
			Name:      "query_duration_seconds",
			Help:      "Duration of Store operations, labeled by operation name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		RequeueTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "operator",
			Subsystem: "dispatcher",
			Name:      "requeue_total",
			Help:      "Total resources rescheduled by the requeue loop.",
		}),

		EventBusDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "operator",
			Subsystem: "eventbus",
			Name:      "dropped_total",
			Help:      "Total events dropped because a subscriber's queue was full.",
		}),

		EventBusSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "operator",
			Subsystem: "eventbus",
			Name:      "subscribers",
			Help:      "Current number of event bus subscribers.",
		}),
	}
}

// MustRegister registers every collector against reg, panicking on a
// duplicate-registration error (a programmer error, not a runtime one).
func (c *Collectors) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		c.ReconcileTotal,
		c.ReconcileDuration,
		c.ReconcileInFlight,
		c.StoreQueryDuration,
		c.RequeueTotal,
		c.EventBusDropped,
		c.EventBusSubscribers,
	)
}
