// Package metrics exposes the orchestrator's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the orchestrator-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "orchestrator",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "orchestrator",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	pullRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "pull",
			Name:      "requests_total",
			Help:      "Total number of pull orchestration requests.",
		},
		[]string{"outcome"},
	)

	pushDispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "push",
			Name:      "dispatches_total",
			Help:      "Total number of push orchestration passes.",
		},
		[]string{"outcome"},
	)

	pushQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "orchestrator",
			Subsystem: "push",
			Name:      "queue_depth",
			Help:      "Push orchestration tasks waiting behind the worker pool.",
		},
	)

	cleanupDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "history",
			Name:      "cleaned_jobs_total",
			Help:      "Ledger rows removed by the retention cleaner.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		pullRequests,
		pushDispatches,
		pushQueueDepth,
		cleanupDeleted,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered collectors.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordPull counts one pull orchestration by outcome.
func RecordPull(outcome string) {
	pullRequests.WithLabelValues(outcome).Inc()
}

// RecordPushDispatch counts one push orchestration pass by outcome.
func RecordPushDispatch(outcome string) {
	pushDispatches.WithLabelValues(outcome).Inc()
}

// SetPushQueueDepth reports the current push queue backlog.
func SetPushQueueDepth(depth int) {
	pushQueueDepth.Set(float64(depth))
}

// RecordCleanup counts ledger rows removed by a cleaner run.
func RecordCleanup(deleted int) {
	cleanupDeleted.Add(float64(deleted))
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses path parameters so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "orchestration" {
		return "/" + parts[0]
	}
	if len(parts) >= 2 && parts[1] == "push-unsubscribe" {
		return "/orchestration/push-unsubscribe/:id"
	}
	return "/" + strings.Join(parts, "/")
}
