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

const namespace = "podledger"

// Metrics holds the Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	fetchTotal          *prometheus.CounterVec
	fetchDuration       prometheus.Histogram
	pollTicksTotal      *prometheus.CounterVec
	pendingThrows       prometheus.Gauge
	pendingResolved     prometheus.Counter
	pendingExpired      prometheus.Counter
	notificationsSeeded prometheus.Counter
	stageDueTotal       *prometheus.CounterVec
	submissionsTotal    *prometheus.CounterVec
	announceTotal       *prometheus.CounterVec
	announceInFlight    prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration by method and route.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		fetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "indexer_fetch_total",
				Help:      "Indexer reads by trigger and result.",
			},
			[]string{"trigger", "result"},
		),
		fetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "indexer_fetch_duration_seconds",
				Help:      "Duration of a full throw and harvest read.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			},
		),
		pollTicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_ticks_total",
				Help:      "Confirmation poll ticks by outcome.",
			},
			[]string{"outcome"},
		),
		pendingThrows: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_throws",
				Help:      "Throws submitted but not yet seen by the indexer.",
			},
		),
		pendingResolved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pending_resolved_total",
				Help:      "Pending throws matched to a confirmed asset.",
			},
		),
		pendingExpired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pending_expired_total",
				Help:      "Pending throws dropped when the poll cap was reached.",
			},
		),
		notificationsSeeded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_seeded_total",
				Help:      "Stage notifications created.",
			},
		),
		stageDueTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_due_published_total",
				Help:      "Due stage notifications handed to the broker by result.",
			},
			[]string{"result"},
		),
		submissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submissions_total",
				Help:      "Ledger submissions by kind and result.",
			},
			[]string{"kind", "result"},
		),
		announceTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_due_announced_total",
				Help:      "Stage reminders delivered to the webhook by result.",
			},
			[]string{"result"},
		),
		announceInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "announce_in_flight",
				Help:      "Stage reminders currently being delivered.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.fetchTotal,
		m.fetchDuration,
		m.pollTicksTotal,
		m.pendingThrows,
		m.pendingResolved,
		m.pendingExpired,
		m.notificationsSeeded,
		m.stageDueTotal,
		m.submissionsTotal,
		m.announceTotal,
		m.announceInFlight,
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
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

// ObserveFetch records one indexer read. trigger is "refresh" or "poll".
func (m *Metrics) ObserveFetch(trigger string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.fetchTotal.WithLabelValues(label(trigger), resultLabel(err)).Inc()
	m.fetchDuration.Observe(nonNegative(d).Seconds())
}

// IncPollTick counts a poll tick; outcome is "resolved", "waiting", "failed"
// or "expired".
func (m *Metrics) IncPollTick(outcome string) {
	if m == nil {
		return
	}
	m.pollTicksTotal.WithLabelValues(label(outcome)).Inc()
}

func (m *Metrics) SetPendingThrows(n int) {
	if m == nil {
		return
	}
	m.pendingThrows.Set(float64(n))
}

func (m *Metrics) AddPendingResolved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.pendingResolved.Add(float64(n))
}

func (m *Metrics) AddPendingExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.pendingExpired.Add(float64(n))
}

func (m *Metrics) AddNotificationsSeeded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.notificationsSeeded.Add(float64(n))
}

func (m *Metrics) IncStageDue(err error) {
	if m == nil {
		return
	}
	m.stageDueTotal.WithLabelValues(resultLabel(err)).Inc()
}

// IncSubmission counts a ledger submission; result is "ok", "cancelled" or
// "failed".
func (m *Metrics) IncSubmission(kind, result string) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(label(kind), label(result)).Inc()
}

// IncAnnounce counts a webhook delivery; result is "ok", "failed" or
// "retry_exhausted".
func (m *Metrics) IncAnnounce(result string) {
	if m == nil {
		return
	}
	m.announceTotal.WithLabelValues(label(result)).Inc()
}

func (m *Metrics) IncAnnounceInFlight() {
	if m == nil {
		return
	}
	m.announceInFlight.Inc()
}

func (m *Metrics) DecAnnounceInFlight() {
	if m == nil {
		return
	}
	m.announceInFlight.Dec()
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
	if status := c.Response().StatusCode(); status != 0 {
		return status
	}
	return fiber.StatusOK
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func label(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "unknown"
	}
	return s
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
