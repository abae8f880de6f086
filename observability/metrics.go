package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics records engine activity across the settlement pipeline:
// investments, refunds, payouts and credential checks.
type SettlementMetrics struct {
	operations  *prometheus.CounterVec
	failures    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	credentials *prometheus.CounterVec
}

type httpMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	settlementOnce sync.Once
	settlementReg  *SettlementMetrics

	httpOnce sync.Once
	httpReg  *httpMetrics
)

// Settlement returns the lazily-initialised settlement metrics registry.
func Settlement() *SettlementMetrics {
	settlementOnce.Do(func() {
		settlementReg = &SettlementMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "payoutai",
				Subsystem: "settlement",
				Name:      "operations_total",
				Help:      "Engine operations segmented by engine, operation and outcome.",
			}, []string{"engine", "op", "outcome"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "payoutai",
				Subsystem: "settlement",
				Name:      "failures_total",
				Help:      "Engine operation failures segmented by engine, operation and reason.",
			}, []string{"engine", "op", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "payoutai",
				Subsystem: "settlement",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"engine", "op"}),
			credentials: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "payoutai",
				Subsystem: "settlement",
				Name:      "credentials_total",
				Help:      "KYB credential verifications segmented by outcome.",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			settlementReg.operations,
			settlementReg.failures,
			settlementReg.latency,
			settlementReg.credentials,
		)
	})
	return settlementReg
}

// Observe records the outcome and latency of an engine operation.
func (m *SettlementMetrics) Observe(engine, op string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	if engine == "" {
		engine = "unknown"
	}
	if op == "" {
		op = "unknown"
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.failures.WithLabelValues(engine, op, reasonLabel(err)).Inc()
	}
	m.operations.WithLabelValues(engine, op, outcome).Inc()
	m.latency.WithLabelValues(engine, op).Observe(duration.Seconds())
}

// ObserveCredential records the outcome of a KYB credential verification.
func (m *SettlementMetrics) ObserveCredential(err error) {
	if m == nil {
		return
	}
	outcome := "accepted"
	if err != nil {
		outcome = reasonLabel(err)
	}
	m.credentials.WithLabelValues(outcome).Inc()
}

// reasonLabel converts an error into a low-cardinality label. Sentinel error
// text is collapsed to its first token after the package prefix.
func reasonLabel(err error) string {
	if err == nil {
		return "none"
	}
	msg := err.Error()
	if idx := strings.IndexByte(msg, ':'); idx > 0 {
		msg = msg[idx+1:]
	}
	msg = strings.TrimSpace(msg)
	if idx := strings.IndexByte(msg, ':'); idx > 0 {
		msg = msg[:idx]
	}
	msg = strings.ReplaceAll(msg, " ", "_")
	if len(msg) > 48 {
		msg = msg[:48]
	}
	if msg == "" {
		return "unknown"
	}
	return msg
}

// HTTPMetrics returns the lazily-initialised HTTP metrics registry used by
// the daemon.
func HTTPMetrics() *httpMetrics {
	httpOnce.Do(func() {
		httpReg = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "payoutai",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests segmented by route, method and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "payoutai",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
		}
		prometheus.MustRegister(httpReg.requests, httpReg.latency)
	})
	return httpReg
}

// Observe records one served HTTP request.
func (m *httpMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.requests.WithLabelValues(route, method, statusLabel(status)).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}
