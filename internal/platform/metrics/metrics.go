package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the timelapse server.
type Metrics struct {
	registry            *prometheus.Registry
	requestsTotal       prometheus.Counter
	errorsTotal         prometheus.Counter
	requestDuration     *prometheus.HistogramVec
	playlistsTotal      prometheus.Counter
	playlistSegments    prometheus.Histogram
	noContentTotal      prometheus.Counter
	segmentsServedTotal prometheus.Counter
	gatewayDeniedTotal  prometheus.Counter
	cacheHits           prometheus.Gauge
	cacheMisses         prometheus.Gauge
	cacheEntries        prometheus.Gauge
	enabledDatasets     prometheus.Gauge
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timelapse_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timelapse_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "timelapse_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		playlistsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timelapse_playlists_synthesized_total",
			Help: "Total number of virtual playlists served with at least one segment",
		}),
		playlistSegments: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "timelapse_playlist_segments",
			Help:    "Number of segments per served virtual playlist",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		noContentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timelapse_playlist_no_content_total",
			Help: "Total number of playlist requests whose range held no segments",
		}),
		segmentsServedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timelapse_gateway_files_served_total",
			Help: "Total number of files served through the segment gateway",
		}),
		gatewayDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timelapse_gateway_denied_total",
			Help: "Total number of gateway requests rejected for escaping the data root",
		}),
		cacheHits: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timelapse_playlist_cache_hits",
			Help: "Playlist cache hits since start",
		}),
		cacheMisses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timelapse_playlist_cache_misses",
			Help: "Playlist cache misses since start",
		}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timelapse_playlist_cache_entries",
			Help: "Current number of cached playlists",
		}),
		enabledDatasets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timelapse_enabled_datasets",
			Help: "Number of datasets enabled in the status read model",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.requestDuration,
		m.playlistsTotal,
		m.playlistSegments,
		m.noContentTotal,
		m.segmentsServedTotal,
		m.gatewayDeniedTotal,
		m.cacheHits,
		m.cacheMisses,
		m.cacheEntries,
		m.enabledDatasets,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// ObserveRequest records the latency of one request under its route pattern.
func (m *Metrics) ObserveRequest(route string, d time.Duration) {
	m.requestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// ObservePlaylist records a served playlist and its segment count.
func (m *Metrics) ObservePlaylist(segments int) {
	m.playlistsTotal.Inc()
	m.playlistSegments.Observe(float64(segments))
}

// IncNoContent counts a playlist request that resolved to zero segments.
func (m *Metrics) IncNoContent() {
	m.noContentTotal.Inc()
}

// IncSegmentsServed counts a gateway file response.
func (m *Metrics) IncSegmentsServed() {
	m.segmentsServedTotal.Inc()
}

// IncGatewayDenied counts a rejected traversal attempt.
func (m *Metrics) IncGatewayDenied() {
	m.gatewayDeniedTotal.Inc()
}

// SetCacheStats copies cache counters into their gauges.
func (m *Metrics) SetCacheStats(hits, misses int64, entries int) {
	m.cacheHits.Set(float64(hits))
	m.cacheMisses.Set(float64(misses))
	m.cacheEntries.Set(float64(entries))
}

// SetEnabledDatasets sets the enabled datasets gauge.
func (m *Metrics) SetEnabledDatasets(n int) {
	m.enabledDatasets.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
