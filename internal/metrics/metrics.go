// Package metrics exposes Prometheus collectors for the batch converter.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tasksTotal          *prometheus.CounterVec
	taskDurationSeconds prometheus.Histogram
	activeWorkers       prometheus.Gauge
	remoteRequestsTotal *prometheus.CounterVec
	remoteRetriesTotal  *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdfbatch_tasks_total",
				Help: "Total number of conversion tasks, labeled by terminal status.",
			},
			[]string{"status"},
		)

		taskDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pdfbatch_task_duration_seconds",
				Help:    "Histogram of per-task wall-clock durations from submission to terminal state.",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pdfbatch_active_workers",
				Help: "Number of workers currently driving a conversion task.",
			},
		)

		remoteRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdfbatch_remote_requests_total",
				Help: "Total requests to the conversion service, labeled by operation and HTTP code (0 = transport failure).",
			},
			[]string{"op", "code"},
		)

		remoteRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdfbatch_remote_retries_total",
				Help: "Total retried requests to the conversion service, labeled by operation.",
			},
			[]string{"op"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTask records one task reaching a terminal status.
func ObserveTask(status string, duration time.Duration) {
	tasksTotal.WithLabelValues(status).Inc()
	taskDurationSeconds.Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRemoteRequest counts one request to the conversion service.
// code 0 means the request never produced an HTTP response.
func ObserveRemoteRequest(op string, code int) {
	remoteRequestsTotal.WithLabelValues(op, strconv.Itoa(code)).Inc()
}

// ObserveRemoteRetry counts a retried request to the conversion service.
func ObserveRemoteRetry(op string) {
	remoteRetriesTotal.WithLabelValues(op).Inc()
}
