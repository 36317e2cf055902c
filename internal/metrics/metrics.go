// Package metrics exposes Prometheus collectors for the screenshot service.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	capturesTotal              *prometheus.CounterVec
	captureDurationSeconds     prometheus.Histogram
	captureImageBytes          prometheus.Histogram
	browserLaunchesTotal       prometheus.Counter
	browserRecyclesTotal       prometheus.Counter
	rateLimitedTotal           prometheus.Counter
	capturesInFlight           prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30, 60},
			},
			[]string{"method", "route"},
		)

		capturesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "screenshot_captures_total",
				Help: "Total number of capture attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		captureDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "screenshot_capture_duration_seconds",
				Help:    "Histogram of end-to-end capture durations.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
		)

		captureImageBytes = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "screenshot_image_bytes",
				Help:    "Histogram of produced screenshot sizes in bytes.",
				Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10),
			},
		)

		browserLaunchesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "screenshot_browser_launches_total",
				Help: "Total number of browser process launches.",
			},
		)

		browserRecyclesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "screenshot_browser_recycles_total",
				Help: "Total number of browser recycles after reaching the capture threshold.",
			},
		)

		rateLimitedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "screenshot_rate_limited_total",
				Help: "Total number of requests refused by rate or concurrency limits.",
			},
		)

		capturesInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "screenshot_captures_in_flight",
				Help: "Number of captures currently holding a concurrency slot.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveCapture records one finished capture attempt.
func ObserveCapture(outcome string, duration time.Duration, imageBytes int) {
	capturesTotal.WithLabelValues(outcome).Inc()
	captureDurationSeconds.Observe(duration.Seconds())
	if imageBytes > 0 {
		captureImageBytes.Observe(float64(imageBytes))
	}
}

// ObserveBrowserLaunch increments the launch counter.
func ObserveBrowserLaunch() {
	browserLaunchesTotal.Inc()
}

// ObserveBrowserRecycle increments the recycle counter.
func ObserveBrowserRecycle() {
	browserRecyclesTotal.Inc()
}

// ObserveRateLimited counts a request refused for rate or concurrency.
func ObserveRateLimited() {
	rateLimitedTotal.Inc()
}

// IncCapturesInFlight increments the in-flight gauge.
func IncCapturesInFlight() {
	capturesInFlight.Inc()
}

// DecCapturesInFlight decrements the in-flight gauge.
func DecCapturesInFlight() {
	capturesInFlight.Dec()
}
