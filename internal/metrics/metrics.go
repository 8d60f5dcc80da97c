package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Tracks the number of outbound API calls to the Consigna core.
	CoreRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consigna_api_requests_total",
			Help: "Total number of core API requests made (by endpoint, method and outcome).",
		},
		[]string{"endpoint", "method", "status"},
	)

	// Measures duration of API requests to the core.
	CoreRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "consigna_api_request_duration_seconds",
			Help:    "Duration of core API requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms → ~16s
		},
		[]string{"endpoint", "method"},
	)

	// Counts token refresh exchanges by outcome ("success", "failure", "reused").
	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consigna_token_refreshes_total",
			Help: "Number of access-token refresh resolutions by outcome.",
		},
		[]string{"outcome"},
	)

	NATSPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consigna_nats_publish_errors_total",
			Help: "Number of NATS publish failures",
		},
		[]string{"subject"},
	)
)

// ObserveDuration records the time taken since start on the given histogram.
func ObserveDuration(v *prometheus.HistogramVec, start time.Time, labels ...string) {
	v.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
}

func IncCoreRequest(endpoint, method, status string) {
	CoreRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

func IncRefresh(outcome string) {
	TokenRefreshesTotal.WithLabelValues(outcome).Inc()
}

func StartServer(addr string) {
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		http.ListenAndServe(addr, nil) //nolint:errcheck
	}()
}
