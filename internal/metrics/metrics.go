package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ledgerpay"

// Metrics holds the service's Prometheus collectors on a private registry.
// All Observe methods are safe to call on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	ledgerOps        *prometheus.CounterVec
	idempotency      *prometheus.CounterVec
	webhookEvents    *prometheus.CounterVec
	processorLatency *prometheus.HistogramVec
	sweepRuns        *prometheus.CounterVec
	sweepResolved    *prometheus.CounterVec
	mismatches       *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests partitioned by method, route and status.",
			},
			[]string{"method", "route", "status"},
		),
		ledgerOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Ledger flow operations partitioned by operation and result.",
			},
			[]string{"operation", "result"},
		),
		idempotency: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "idempotency",
				Name:      "claims_total",
				Help:      "Idempotency guard outcomes partitioned by scope.",
			},
			[]string{"scope", "outcome"},
		),
		webhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "events_total",
				Help:      "Processor webhook deliveries partitioned by event and result.",
			},
			[]string{"event", "result"},
		),
		processorLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "processor",
				Name:      "request_duration_seconds",
				Help:      "Latency of payment processor calls.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint", "outcome"},
		),
		sweepRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sweeper",
				Name:      "runs_total",
				Help:      "Reconciliation sweeper runs partitioned by job and result.",
			},
			[]string{"job", "result"},
		),
		sweepResolved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sweeper",
				Name:      "resolved_total",
				Help:      "Records resolved by the reconciliation sweepers.",
			},
			[]string{"job"},
		),
		mismatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "withdrawal",
				Name:      "mismatches_total",
				Help:      "Processor outcomes contradicting a withdrawal's recorded status, by processor status.",
			},
			[]string{"processor_status"},
		),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveHTTP(method, route string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

func (m *Metrics) ObserveLedgerOp(operation string, err error) {
	if m == nil {
		return
	}
	m.ledgerOps.WithLabelValues(operation, result(err)).Inc()
}

func (m *Metrics) ObserveIdempotency(scope, outcome string) {
	if m == nil {
		return
	}
	m.idempotency.WithLabelValues(scope, outcome).Inc()
}

func (m *Metrics) ObserveWebhook(event, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) ObserveProcessorCall(endpoint string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.processorLatency.WithLabelValues(endpoint, result(err)).Observe(time.Since(started).Seconds())
}

func (m *Metrics) ObserveSweep(job string, resolved int, err error) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(job, result(err)).Inc()
	if resolved > 0 {
		m.sweepResolved.WithLabelValues(job).Add(float64(resolved))
	}
}

// Mismatches exposes the settlement mismatch counter, mainly for tests.
func (m *Metrics) Mismatches() *prometheus.CounterVec {
	return m.mismatches
}

// ObserveSettlementMismatch counts withdrawals flagged for manual reconciliation.
func (m *Metrics) ObserveSettlementMismatch(processorStatus string) {
	if m == nil {
		return
	}
	m.mismatches.WithLabelValues(processorStatus).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
