// Package metrics exposes Prometheus collectors for the frontier service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	stackerAcceptedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontier_stacker_accepted_total",
			Help: "Requests accepted into the frontier, labeled by stack.",
		},
		[]string{"stack"},
	)

	stackerRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontier_stacker_rejected_total",
			Help: "Requests rejected by the acceptance pipeline, labeled by reason kind.",
		},
		[]string{"kind"},
	)

	stackerQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "frontier_stacker_queue_length",
			Help: "Requests waiting in the acceptance queue.",
		},
	)

	hostQueueOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontier_hostqueue_operations_total",
			Help: "Host queue operations, labeled by operation.",
		},
		[]string{"op"},
	)

	politenessWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "frontier_politeness_wait_seconds",
			Help:    "Time spent waiting for a host's crawl delay before a pop returns.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	storageFaultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontier_storage_faults_total",
			Help: "Row store failures, labeled by operation.",
		},
		[]string{"op"},
	)

	loadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontier_loads_total",
			Help: "Requests handed to the loader, labeled by outcome.",
		},
		[]string{"status"},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "frontier_active_workers",
			Help: "Scheduler workers currently loading a request.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAccepted counts a request stored in the given stack.
func ObserveAccepted(stack string) {
	stackerAcceptedTotal.WithLabelValues(stack).Inc()
}

// ObserveRejected counts a rejection of the given kind.
func ObserveRejected(kind string) {
	stackerRejectedTotal.WithLabelValues(kind).Inc()
}

// SetStackerQueueLength records the acceptance queue backlog.
func SetStackerQueueLength(n int) {
	stackerQueueLength.Set(float64(n))
}

// ObserveHostQueueOp counts a host queue operation such as push, pop or drop.
func ObserveHostQueueOp(op string) {
	hostQueueOpsTotal.WithLabelValues(op).Inc()
}

// ObservePolitenessWait records how long a pop waited on a host.
func ObservePolitenessWait(d time.Duration) {
	politenessWaitSeconds.Observe(d.Seconds())
}

// ObserveStorageFault counts a failed row store operation.
func ObserveStorageFault(op string) {
	storageFaultsTotal.WithLabelValues(op).Inc()
}

// ObserveLoad counts a loader outcome.
func ObserveLoad(status string) {
	loadsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
