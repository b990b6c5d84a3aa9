// Package observability exposes Prometheus metrics for extraction, ingest
// and lookup.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GoCodeAlone/forgedocs/cache"
)

// MetricsConfig holds configuration for Metrics.
type MetricsConfig struct {
	Namespace   string
	Subsystem   string
	MetricsPath string
}

// DefaultMetricsConfig returns the default configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace:   "forgedocs",
		MetricsPath: "/metrics",
	}
}

// Metrics owns a Prometheus registry and the service's collectors. It
// satisfies the recorder interfaces of the extract, ingest and lookup
// packages.
type Metrics struct {
	config   MetricsConfig
	registry *prometheus.Registry

	IngestRecords       *prometheus.CounterVec
	ExtractionAspects   *prometheus.CounterVec
	ExtractionDuration  *prometheus.HistogramVec
	Lookups             *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates Metrics with its own registry. An empty path falls
// back to DefaultMetricsConfig.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = DefaultMetricsConfig().MetricsPath
	}
	reg := prometheus.NewRegistry()
	ns, sub := cfg.Namespace, cfg.Subsystem

	m := &Metrics{
		config:   cfg,
		registry: reg,
		IngestRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "ingest_records_total",
			Help:      "Upload notification records handled, by outcome",
		}, []string{"outcome"}),
		ExtractionAspects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "extraction_aspects_total",
			Help:      "Aspect extractions, by aspect and status",
		}, []string{"aspect", "status"}),
		ExtractionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "extraction_duration_seconds",
			Help:      "Duration of module extractions in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"downloaded"}),
		Lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "lookups_total",
			Help:      "Module lookups, by response status code",
		}, []string{"status_code"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status_code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	reg.MustRegister(
		m.IngestRecords,
		m.ExtractionAspects,
		m.ExtractionDuration,
		m.Lookups,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

// MetricsPath returns the configured metrics endpoint path.
func (m *Metrics) MetricsPath() string { return m.config.MetricsPath }

// CacheStatser reports cache counters.
type CacheStatser interface {
	Stats() cache.Stats
}

// RegisterCache exports c's counters, read at scrape time. Register at most
// one cache per Metrics.
func (m *Metrics) RegisterCache(c CacheStatser) {
	ns, sub := m.config.Namespace, m.config.Subsystem
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "cache_entries",
			Help:      "Entries held by the lookup cache, including expired ones not yet swept",
		}, func() float64 { return float64(c.Stats().Size) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "cache_capacity",
			Help:      "Maximum entries the lookup cache holds",
		}, func() float64 { return float64(c.Stats().MaxSize) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "cache_hits_total",
			Help:      "Lookup cache hits",
		}, func() float64 { return float64(c.Stats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "cache_misses_total",
			Help:      "Lookup cache misses",
		}, func() float64 { return float64(c.Stats().Misses) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "cache_evictions_total",
			Help:      "Entries evicted to make room",
		}, func() float64 { return float64(c.Stats().Evictions) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "cache_hit_ratio",
			Help:      "Hits over lookups since start",
		}, func() float64 { return c.Stats().HitRate() }),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveIngest(outcome string) {
	m.IngestRecords.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveAspect(aspect string, ok bool) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.ExtractionAspects.WithLabelValues(aspect, status).Inc()
}

func (m *Metrics) ObserveExtraction(downloaded bool, d time.Duration) {
	m.ExtractionDuration.WithLabelValues(strconv.FormatBool(downloaded)).Observe(d.Seconds())
}

func (m *Metrics) ObserveLookup(statusCode int) {
	m.Lookups.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Middleware records every request passing through next. The path label is
// the matched route pattern, so query strings never create new series.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		m.RecordHTTPRequest(r.Method, path, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}
