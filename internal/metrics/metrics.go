// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	itemsTotal           *prometheus.CounterVec
	requestsTotal        *prometheus.CounterVec
	retriesTotal         *prometheus.CounterVec
	backoffSeconds       *prometheus.HistogramVec
	checkpointsTotal     *prometheus.CounterVec
	publishedTotal       *prometheus.CounterVec
	activeWorkers        prometheus.Gauge
	rateLimitDelaySecond *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_items_total",
				Help: "Total number of item ids handled by drivers, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		requestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_requests_total",
				Help: "Total number of outbound API attempts, labeled by endpoint and result.",
			},
			[]string{"endpoint", "result"},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_retries_total",
				Help: "Total number of retry sleeps, labeled by endpoint.",
			},
			[]string{"endpoint"},
		)

		backoffSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_backoff_seconds",
				Help:    "Histogram of retry delays applied by the requester.",
				Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32, 64, 128, 256, 500},
			},
			[]string{"endpoint"},
		)

		checkpointsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_checkpoints_total",
				Help: "Total number of collection checkpoints, labeled by collection and result.",
			},
			[]string{"collection", "result"},
		)

		publishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_published_total",
				Help: "Total number of documents handled by the publisher, labeled by result.",
			},
			[]string{"result"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_workers",
				Help: "Number of crawl drivers currently running.",
			},
		)

		rateLimitDelaySecond = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delay_seconds",
				Help:    "Histogram of token bucket wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_http_requests_total",
				Help: "Total number of status API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_http_request_duration_seconds",
				Help:    "Histogram of status API latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveItem increments the item counter for the given outcome.
func ObserveItem(outcome string) {
	Init()
	itemsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRequest counts one outbound attempt.
func ObserveRequest(endpoint, result string) {
	Init()
	requestsTotal.WithLabelValues(endpoint, result).Inc()
}

// ObserveRetry counts one retry sleep and records its delay.
func ObserveRetry(endpoint string, delay time.Duration) {
	Init()
	retriesTotal.WithLabelValues(endpoint).Inc()
	backoffSeconds.WithLabelValues(endpoint).Observe(delay.Seconds())
}

// ObserveCheckpoint counts one checkpoint of a collection.
func ObserveCheckpoint(collection string, err error) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	checkpointsTotal.WithLabelValues(collection, result).Inc()
}

// ObservePublished adds n documents with the given result.
func ObservePublished(result string, n int) {
	Init()
	if n <= 0 {
		return
	}
	publishedTotal.WithLabelValues(result).Add(float64(n))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaySecond.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the status API request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
