package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Scan metrics
	ScansTotal       *prometheus.CounterVec
	ScanDuration     *prometheus.HistogramVec
	ScanRetriesTotal prometheus.Counter
	ActiveScans      prometheus.Gauge

	// Pool metrics
	PoolIdle           prometheus.Gauge
	PoolActive         prometheus.Gauge
	PoolWaiting        prometheus.Gauge
	PoolCreatedTotal   prometheus.Counter
	PoolDestroyedTotal prometheus.Counter
	PoolAcquireErrors  prometheus.Counter

	// Circuit breaker metrics
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec
	BreakerRejections  *prometheus.CounterVec

	registry *prometheus.Registry
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "scanner",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		ScansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "scans_total",
				Help:      "Total number of scans performed",
			},
			[]string{"type", "status"},
		),
		ScanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Name:      "scan_duration_seconds",
				Help:      "Duration of scans in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"type", "status"},
		),
		ScanRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "scan_retries_total",
				Help:      "Total number of scan attempt retries",
			},
		),
		ActiveScans: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "active_scans",
				Help:      "Number of currently active scans",
			},
		),
		PoolIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "pool_idle_handles",
				Help:      "Number of idle browser handles in the pool",
			},
		),
		PoolActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "pool_active_handles",
				Help:      "Number of browser handles currently lent out",
			},
		),
		PoolWaiting: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "pool_waiting_requests",
				Help:      "Number of acquire requests waiting for a handle",
			},
		),
		PoolCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "pool_handles_created_total",
				Help:      "Total number of browser handles created",
			},
		),
		PoolDestroyedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "pool_handles_destroyed_total",
				Help:      "Total number of browser handles destroyed",
			},
		),
		PoolAcquireErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "pool_acquire_errors_total",
				Help:      "Total number of failed acquire attempts",
			},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "breaker_transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"name", "from", "to"},
		),
		BreakerRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "breaker_rejections_total",
				Help:      "Total number of calls rejected by an open circuit breaker",
			},
			[]string{"name"},
		),
		registry: registry,
	}

	if config.Enabled {
		registry.MustRegister(
			m.HTTPRequestsTotal,
			m.HTTPRequestDuration,
			m.ScansTotal,
			m.ScanDuration,
			m.ScanRetriesTotal,
			m.ActiveScans,
			m.PoolIdle,
			m.PoolActive,
			m.PoolWaiting,
			m.PoolCreatedTotal,
			m.PoolDestroyedTotal,
			m.PoolAcquireErrors,
			m.BreakerState,
			m.BreakerTransitions,
			m.BreakerRejections,
		)
	}

	return m
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// GinMiddleware returns gin middleware that records HTTP metrics
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}

		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).
			Observe(time.Since(start).Seconds())
	}
}

// RecordScan records the outcome of a single scan
func (m *Metrics) RecordScan(scanType, status string, duration time.Duration) {
	m.ScansTotal.WithLabelValues(scanType, status).Inc()
	m.ScanDuration.WithLabelValues(scanType, status).Observe(duration.Seconds())
}
