package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors for the reliability engine.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	sendsTotal          *prometheus.CounterVec
	sendDuration        *prometheus.HistogramVec
	retryAttemptsTotal  *prometheus.CounterVec
	dlqMovesTotal       *prometheus.CounterVec
	dlqSize             prometheus.Gauge
	circuitState        *prometheus.GaugeVec
	tokenCleanupsTotal  prometheus.Counter
	retryRunsTotal      *prometheus.CounterVec
	retryBatchInflight  prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "delivery_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "delivery_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		sendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "delivery_engine",
				Name:      "sends_total",
				Help:      "Total provider send attempts by channel and outcome.",
			},
			[]string{"channel", "outcome"},
		),
		sendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "delivery_engine",
				Name:      "send_duration_seconds",
				Help:      "Provider send duration in seconds grouped by channel.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"channel"},
		),
		retryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "delivery_engine",
				Name:      "retry_attempts_total",
				Help:      "Total orchestrator retry attempts by outcome.",
			},
			[]string{"outcome"},
		),
		dlqMovesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "delivery_engine",
				Name:      "dlq_moves_total",
				Help:      "Total notifications moved to the dead letter queue by reason.",
			},
			[]string{"reason"},
		),
		dlqSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "delivery_engine",
				Name:      "dlq_size",
				Help:      "Current number of entries in the dead letter queue.",
			},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "delivery_engine",
				Name:      "circuit_state",
				Help:      "Circuit breaker state per target: 0 closed, 1 half-open, 2 open.",
			},
			[]string{"circuit"},
		),
		tokenCleanupsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "delivery_engine",
				Name:      "token_cleanups_total",
				Help:      "Total invalid-token cleanup operations performed.",
			},
		),
		retryRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "delivery_engine",
				Name:      "retry_runs_total",
				Help:      "Total orchestrator scan runs by result (processed, skipped_circuit_open, error).",
			},
			[]string{"result"},
		),
		retryBatchInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "delivery_engine",
				Name:      "retry_batch_inflight",
				Help:      "Current number of in-flight retry deliveries.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.sendsTotal,
		m.sendDuration,
		m.retryAttemptsTotal,
		m.dlqMovesTotal,
		m.dlqSize,
		m.circuitState,
		m.tokenCleanupsTotal,
		m.retryRunsTotal,
		m.retryBatchInflight,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncSend(channel string, success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.sendsTotal.WithLabelValues(normalizeLabel(channel), outcome).Inc()
}

func (m *Metrics) ObserveSendDuration(channel string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.sendDuration.WithLabelValues(normalizeLabel(channel)).Observe(seconds)
}

func (m *Metrics) IncRetryAttempt(outcome string) {
	if m == nil {
		return
	}
	m.retryAttemptsTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncDLQMove(reason string) {
	if m == nil {
		return
	}
	m.dlqMovesTotal.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) SetDLQSize(size int64) {
	if m == nil {
		return
	}
	m.dlqSize.Set(float64(size))
}

func (m *Metrics) SetCircuitState(circuit string, state string) {
	if m == nil {
		return
	}
	value := 0.0
	switch strings.ToUpper(state) {
	case "HALF_OPEN":
		value = 1
	case "OPEN":
		value = 2
	}
	m.circuitState.WithLabelValues(normalizeLabel(circuit)).Set(value)
}

func (m *Metrics) IncTokenCleanup() {
	if m == nil {
		return
	}
	m.tokenCleanupsTotal.Inc()
}

func (m *Metrics) IncRetryRun(result string) {
	if m == nil {
		return
	}
	m.retryRunsTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) IncRetryInflight() {
	if m == nil {
		return
	}
	m.retryBatchInflight.Inc()
}

func (m *Metrics) DecRetryInflight() {
	if m == nil {
		return
	}
	m.retryBatchInflight.Dec()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
