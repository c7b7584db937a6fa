// Package metrics exposes Prometheus collectors for the crawler's fetch path,
// worker pool and status server.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch attempt outcomes.
const (
	OutcomeOK             = "ok"
	OutcomeRateLimited    = "rate_limited"
	OutcomeClientError    = "status_4xx"
	OutcomeServerError    = "status_5xx"
	OutcomeTransportError = "transport_error"
)

// Metrics owns the collectors registered on one registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	fetchAttempts  *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	bytesTotal     *prometheus.CounterVec
	rateLimitDelay *prometheus.HistogramVec
	activeWorkers  prometheus.Gauge
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// New registers the collectors on reg, or on a fresh registry when reg is nil.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		fetchAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_attempts_total",
				Help: "Total number of fetch attempts, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		),
		fetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Histogram of single fetch attempt latencies, labeled by site.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		),
		bytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		),
		rateLimitDelay: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		),
		activeWorkers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing an item.",
			},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// AttemptOutcome classifies a fetch attempt by status code; 0 means a
// transport failure.
func AttemptOutcome(status int) string {
	switch {
	case status == 0:
		return OutcomeTransportError
	case status == http.StatusTooManyRequests:
		return OutcomeRateLimited
	case status >= 500:
		return OutcomeServerError
	case status >= 400:
		return OutcomeClientError
	default:
		return OutcomeOK
	}
}

// ObserveFetch records one fetch attempt.
func (m *Metrics) ObserveFetch(rawURL string, status int, bytesFetched int, duration time.Duration) {
	if m == nil {
		return
	}
	site := SanitizeSite(rawURL)
	m.fetchAttempts.WithLabelValues(site, AttemptOutcome(status)).Inc()
	m.fetchDuration.WithLabelValues(site).Observe(duration.Seconds())
	if bytesFetched > 0 {
		m.bytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func (m *Metrics) ObserveRateLimitDelay(site string, duration time.Duration) {
	if m == nil {
		return
	}
	m.rateLimitDelay.WithLabelValues(site).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func (m *Metrics) IncActiveWorkers() {
	if m == nil {
		return
	}
	m.activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func (m *Metrics) DecActiveWorkers() {
	if m == nil {
		return
	}
	m.activeWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func (m *Metrics) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
