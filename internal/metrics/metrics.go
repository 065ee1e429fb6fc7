package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	runsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localrag_runs_created_total",
			Help: "Runs created per model.",
		},
		[]string{"model"},
	)

	backendUnavailable = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localrag_run_store_unavailable_total",
			Help: "Run store calls that failed because the backend could not be reached.",
		},
		[]string{"op"},
	)

	ingestions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localrag_ingestions_total",
			Help: "Knowledge ingestion attempts by source kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	streamFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localrag_stream_failures_total",
			Help: "Model streams that failed before exhaustion.",
		},
		[]string{"model"},
	)

	streamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "localrag_stream_duration_seconds",
			Help:    "Time from first pull to stream exhaustion or failure.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64, 128},
		},
		[]string{"model", "success"},
	)
)

// Register adds the collectors to the default registry. Safe to call more than once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			runsCreated,
			backendUnavailable,
			ingestions,
			streamFailures,
			streamLatency,
		)
	})
}

// Handler serves the default registry.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func RunCreated(model string) {
	runsCreated.WithLabelValues(norm(model)).Inc()
}

func BackendUnavailable(op string) {
	backendUnavailable.WithLabelValues(norm(op)).Inc()
}

func Ingestion(kind, outcome string) {
	ingestions.WithLabelValues(norm(kind), norm(outcome)).Inc()
}

func ObserveStream(model string, started time.Time, failed bool) {
	success := "true"
	if failed {
		success = "false"
		streamFailures.WithLabelValues(norm(model)).Inc()
	}
	streamLatency.WithLabelValues(norm(model), success).Observe(time.Since(started).Seconds())
}

func norm(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return "unknown"
	}
	return s
}
