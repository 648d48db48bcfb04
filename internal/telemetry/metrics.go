package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency across all routes.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "storeprov",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// ProvisioningDuration tracks the time from store creation to a terminal
// READY or FAILED verdict, labeled by engine and outcome.
var ProvisioningDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "storeprov",
		Subsystem: "provisioning",
		Name:      "duration_seconds",
		Help:      "Store provisioning duration in seconds, from task start to terminal state.",
		Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 900, 1200},
	},
	[]string{"engine", "outcome"},
)

// ProvisioningOutcomesTotal counts terminal provisioning outcomes.
var ProvisioningOutcomesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "storeprov",
		Subsystem: "provisioning",
		Name:      "outcomes_total",
		Help:      "Total number of provisioning tasks that reached a terminal state, by engine and outcome.",
	},
	[]string{"engine", "outcome"},
)

// ReconcilerInFlight reports the number of store IDs currently owned by a
// worker goroutine.
var ReconcilerInFlight = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "storeprov",
		Subsystem: "reconciler",
		Name:      "in_flight",
		Help:      "Number of stores currently being provisioned or deprovisioned.",
	},
)

// ReconcilerQueueDepth reports the number of tasks waiting for a free worker.
var ReconcilerQueueDepth = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "storeprov",
		Subsystem: "reconciler",
		Name:      "queue_depth",
		Help:      "Number of provisioning tasks submitted but not yet picked up by a worker.",
	},
)

// PackagerInvocationsTotal counts helm-chart subprocess invocations by verb
// (install, uninstall, status) and outcome.
var PackagerInvocationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "storeprov",
		Subsystem: "packager",
		Name:      "invocations_total",
		Help:      "Total packager CLI invocations, by verb and outcome.",
	},
	[]string{"verb", "outcome"},
)

// DeleteStoreDuration tracks synchronous DeleteStore call latency.
var DeleteStoreDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "storeprov",
		Subsystem: "lifecycle",
		Name:      "delete_duration_seconds",
		Help:      "DeleteStore call duration in seconds, by outcome.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	},
	[]string{"outcome"},
)

// domainCollectors lists every store-provisioning-specific metric, excluding
// the shared HTTPRequestDuration which NewMetricsRegistry registers directly.
func domainCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		ProvisioningDuration,
		ProvisioningOutcomesTotal,
		ReconcilerInFlight,
		ReconcilerQueueDepth,
		PackagerInvocationsTotal,
		DeleteStoreDuration,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors,
// the shared HTTPRequestDuration metric, and all domain-specific collectors.
func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range domainCollectors() {
		reg.MustRegister(c)
	}
	return reg
}
