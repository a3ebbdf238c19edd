// Package metrics exports Prometheus metrics for vxsky: HTTP traffic,
// upstream Bluesky API calls, thumbnail rendering, and cache behavior.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds all Prometheus collectors for vxsky.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Upstream AT Protocol API metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec

	// Embed routing decisions (embed page, direct redirect, gated page)
	EmbedDecisionsTotal *prometheus.CounterVec

	// Thumbnail rendering metrics
	RendersTotal   *prometheus.CounterVec
	RenderDuration prometheus.Histogram
	RenderImages   prometheus.Histogram

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// System metrics
	BuildInfo   *prometheus.GaugeVec
	StartupTime prometheus.Gauge
}

// Get returns the singleton Metrics instance.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	m := &Metrics{}

	m.HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vxsky",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by endpoint, method, and status class",
		},
		[]string{"endpoint", "method", "status"},
	)

	m.HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vxsky",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "method"},
	)

	m.HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vxsky",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)

	m.APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vxsky",
			Subsystem: "bsky",
			Name:      "api_requests_total",
			Help:      "Total number of upstream XRPC requests by endpoint and status",
		},
		[]string{"nsid", "status"},
	)

	m.APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vxsky",
			Subsystem: "bsky",
			Name:      "api_request_duration_seconds",
			Help:      "Upstream XRPC request duration in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"nsid"},
	)

	m.EmbedDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vxsky",
			Subsystem: "embed",
			Name:      "decisions_total",
			Help:      "How embed requests were answered (embed, redirect, gated)",
		},
		[]string{"decision"},
	)

	m.RendersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vxsky",
			Subsystem: "thumbnail",
			Name:      "renders_total",
			Help:      "Total number of combined thumbnail renders by status",
		},
		[]string{"status"},
	)

	m.RenderDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vxsky",
			Subsystem: "thumbnail",
			Name:      "render_duration_seconds",
			Help:      "Combined thumbnail render duration in seconds, downloads included",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	m.RenderImages = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vxsky",
			Subsystem: "thumbnail",
			Name:      "render_images",
			Help:      "Number of source images per render",
			Buckets:   []float64{1, 2, 3, 4},
		},
	)

	m.CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vxsky",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_name"},
	)

	m.CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vxsky",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_name"},
	)

	m.BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vxsky",
			Subsystem: "build",
			Name:      "info",
			Help:      "Build information",
		},
		[]string{"version", "commit"},
	)

	m.StartupTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vxsky",
			Subsystem: "server",
			Name:      "startup_timestamp",
			Help:      "Server startup timestamp",
		},
	)

	m.StartupTime.Set(float64(time.Now().Unix()))

	return m
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(endpoint, method string, statusCode int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, statusCodeToLabel(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// RecordAPIRequest records one upstream XRPC call.
func (m *Metrics) RecordAPIRequest(nsid, status string, duration time.Duration) {
	m.APIRequestsTotal.WithLabelValues(nsid, status).Inc()
	m.APIRequestDuration.WithLabelValues(nsid).Observe(duration.Seconds())
}

// RecordEmbedDecision records how an embed request was answered.
func (m *Metrics) RecordEmbedDecision(decision string) {
	m.EmbedDecisionsTotal.WithLabelValues(decision).Inc()
}

// RecordRender records one combined thumbnail render.
func (m *Metrics) RecordRender(status string, imageCount int, duration time.Duration) {
	m.RendersTotal.WithLabelValues(status).Inc()
	if status == "success" {
		m.RenderDuration.Observe(duration.Seconds())
		m.RenderImages.Observe(float64(imageCount))
	}
}

// RecordCacheOperation records a cache hit or miss.
func (m *Metrics) RecordCacheOperation(cacheName string, hit bool) {
	if hit {
		m.CacheHitsTotal.WithLabelValues(cacheName).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(cacheName).Inc()
	}
}

// SetBuildInfo sets build information.
func (m *Metrics) SetBuildInfo(version, commit string) {
	m.BuildInfo.WithLabelValues(version, commit).Set(1)
}

func statusCodeToLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
