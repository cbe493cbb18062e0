// Package metrics exposes the studio's Prometheus collectors.
//
// All recording methods are safe on a nil *Metrics so callers that do not care about
// metrics (CLI one-shots, tests) can pass nil.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "studio"

type Metrics struct {
	registry *prometheus.Registry

	guardOutcomes   *prometheus.CounterVec
	creditsDebited  *prometheus.CounterVec
	creditsRefunded prometheus.Counter
	refundFailures  prometheus.Counter
	refundQueue     *prometheus.GaugeVec
	workDuration    *prometheus.HistogramVec
	ledgerOps       *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New registers every collector on registry. A nil registry gets a fresh one.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: registry,
		guardOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_outcomes_total",
			Help:      "Credit guard runs by terminal state",
		}, []string{"state"}),
		creditsDebited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_debited_total",
			Help:      "Credits reserved by the guard or consumed by usage events",
		}, []string{"source"}),
		creditsRefunded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_refunded_total",
			Help:      "Credits returned after failed work",
		}),
		refundFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refund_failures_total",
			Help:      "Refunds that could not be written and were queued for retry",
		}),
		refundQueue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "refund_queue_entries",
			Help:      "Queued refunds by status after the last retry pass",
		}, []string{"status"}),
		workDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "guarded_work_duration_seconds",
			Help:      "Duration of guarded generation work",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"generation_type", "outcome"}),
		ledgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_operations_total",
			Help:      "Ledger store operations by kind and result",
		}, []string{"op", "result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code",
		}, []string{"route", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	registry.MustRegister(
		m.guardOutcomes,
		m.creditsDebited,
		m.creditsRefunded,
		m.refundFailures,
		m.refundQueue,
		m.workDuration,
		m.ledgerOps,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

func (m *Metrics) GuardOutcome(state string) {
	if m == nil {
		return
	}
	m.guardOutcomes.WithLabelValues(state).Inc()
}

func (m *Metrics) CreditsDebited(source string, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.creditsDebited.WithLabelValues(source).Add(float64(amount))
}

func (m *Metrics) CreditsRefunded(amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.creditsRefunded.Add(float64(amount))
}

func (m *Metrics) RefundFailed() {
	if m == nil {
		return
	}
	m.refundFailures.Inc()
}

func (m *Metrics) RefundQueue(status string, n int64) {
	if m == nil {
		return
	}
	m.refundQueue.WithLabelValues(status).Set(float64(n))
}

func (m *Metrics) WorkDone(generationType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.workDuration.WithLabelValues(generationType, outcome).Observe(d.Seconds())
}

func (m *Metrics) LedgerOp(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ledgerOps.WithLabelValues(op, result).Inc()
}

func (m *Metrics) HTTPRequest(route, method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}
