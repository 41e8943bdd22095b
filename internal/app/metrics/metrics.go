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
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "redistribution",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "redistribution",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "redistribution",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	commandsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "redistribution",
			Subsystem: "dispatcher",
			Name:      "commands_processed_total",
			Help:      "Total number of commands processed, by terminal status.",
		},
		[]string{"status"},
	)

	commandDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "redistribution",
			Subsystem: "dispatcher",
			Name:      "command_duration_seconds",
			Help:      "Duration of command processing including fulfillment wait.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.5m
		},
	)

	submitRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "redistribution",
			Subsystem: "dispatcher",
			Name:      "submit_retries_total",
			Help:      "Total number of retried ledger submissions.",
		},
	)

	settlementFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "redistribution",
			Subsystem: "dispatcher",
			Name:      "settlement_failures_total",
			Help:      "Total number of commands that failed inventory settlement after submission.",
		},
	)

	transactionsReconciled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "redistribution",
			Subsystem: "reconciler",
			Name:      "transactions_total",
			Help:      "Total number of transactions driven to a ledger outcome.",
		},
		[]string{"status"},
	)

	transactionsTimedOut = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "redistribution",
			Subsystem: "reconciler",
			Name:      "transactions_timed_out_total",
			Help:      "Total number of pending transactions expired by the timeout sweep.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		commandsProcessed,
		commandDuration,
		submitRetries,
		settlementFailures,
		transactionsReconciled,
		transactionsTimedOut,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
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

// RecordCommand records a processed command's terminal status and duration.
func RecordCommand(status string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	commandsProcessed.WithLabelValues(status).Inc()
	commandDuration.Observe(duration.Seconds())
}

// RecordSubmitRetry counts one retried ledger submission.
func RecordSubmitRetry() {
	submitRetries.Inc()
}

// RecordSettlementFailure counts a command stranded in settlement_failed.
func RecordSettlementFailure() {
	settlementFailures.Inc()
}

// RecordReconciled records a transaction finalized by the reconciler.
func RecordReconciled(status string) {
	transactionsReconciled.WithLabelValues(status).Inc()
}

// RecordTimeout counts a pending transaction expired by the sweep.
func RecordTimeout() {
	transactionsTimedOut.Inc()
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

// canonicalPath collapses entity ids so the path label stays low-cardinality.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] == "api" && len(parts) > 1 {
		parts = parts[1:]
	}
	switch parts[0] {
	case "redistributions":
		if len(parts) == 1 {
			return "/redistributions"
		}
		if len(parts) >= 3 && parts[2] == "approve" {
			return "/redistributions/:id/approve"
		}
		return "/redistributions/:id"
	case "commands":
		if len(parts) == 1 {
			return "/commands"
		}
		return "/commands/:id"
	case "transactions":
		if len(parts) == 1 {
			return "/transactions"
		}
		return "/transactions/:txid"
	case "tx":
		return "/tx/:txid"
	default:
		return "/" + parts[0]
	}
}
