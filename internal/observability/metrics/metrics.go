package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "billing_"

	// ResultSuccess labels successful operations.
	ResultSuccess = "success"
	// ResultError labels failed operations.
	ResultError = "error"
)

var (
	registerOnce sync.Once

	orderCreateTotal   *prometheus.CounterVec
	orderCreateLatency *prometheus.HistogramVec

	verifyTotal   *prometheus.CounterVec
	verifyLatency *prometheus.HistogramVec

	verifyRejectedTotal prometheus.Counter

	webhookEventsTotal  *prometheus.CounterVec
	webhookEventLatency *prometheus.HistogramVec

	billPaidTotal *prometheus.CounterVec

	sweepRunsTotal        *prometheus.CounterVec
	sweepReconciledTotal  prometheus.Counter
	sweepLatency          *prometheus.HistogramVec

	outboxDispatchTotal   *prometheus.CounterVec
	outboxDispatchLatency *prometheus.HistogramVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		orderCreateTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "order_create_total",
				Help: "Total gateway order creations by result",
			},
			[]string{"result"},
		)
		orderCreateLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "order_create_latency_seconds",
				Help:    "Gateway order creation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		verifyTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "verify_total",
				Help: "Total checkout verifications by result",
			},
			[]string{"result"},
		)
		verifyLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "verify_latency_seconds",
				Help:    "Checkout verification latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		verifyRejectedTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "verify_rejected_total",
				Help: "Total checkout confirmations rejected for a bad signature",
			},
		)

		webhookEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "webhook_events_total",
				Help: "Total webhook deliveries by event type and result",
			},
			[]string{"event", "result"},
		)
		webhookEventLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "webhook_event_latency_seconds",
				Help:    "Webhook processing latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"event"},
		)

		billPaidTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "bill_paid_total",
				Help: "Total bills transitioned to paid by completion path",
			},
			[]string{"path"},
		)

		sweepRunsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sweep_runs_total",
				Help: "Total reconciliation sweep runs by result",
			},
			[]string{"result"},
		)
		sweepReconciledTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "sweep_reconciled_total",
				Help: "Total bills reconciled to paid by the sweep",
			},
		)
		sweepLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "sweep_latency_seconds",
				Help:    "Reconciliation sweep latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		outboxDispatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_dispatch_total",
				Help: "Total outbox dispatch runs by result",
			},
			[]string{"result"},
		)
		outboxDispatchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "outbox_dispatch_latency_seconds",
				Help:    "Outbox dispatch latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			orderCreateTotal,
			orderCreateLatency,
			verifyTotal,
			verifyLatency,
			verifyRejectedTotal,
			webhookEventsTotal,
			webhookEventLatency,
			billPaidTotal,
			sweepRunsTotal,
			sweepReconciledTotal,
			sweepLatency,
			outboxDispatchTotal,
			outboxDispatchLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveOrderCreate records order creation latency and result.
func ObserveOrderCreate(result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if orderCreateTotal != nil {
		orderCreateTotal.WithLabelValues(result).Inc()
	}
	if orderCreateLatency != nil {
		orderCreateLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveVerify records checkout verification latency and result.
func ObserveVerify(result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if verifyTotal != nil {
		verifyTotal.WithLabelValues(result).Inc()
	}
	if verifyLatency != nil {
		verifyLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncVerifyRejected counts a rejected (potentially forged) confirmation.
func IncVerifyRejected() {
	if verifyRejectedTotal != nil {
		verifyRejectedTotal.Inc()
	}
}

// ObserveWebhookEvent records webhook processing by event type.
func ObserveWebhookEvent(event, result string, duration time.Duration) {
	if event == "" {
		event = "unknown"
	}
	if result == "" {
		result = ResultSuccess
	}
	if webhookEventsTotal != nil {
		webhookEventsTotal.WithLabelValues(event, result).Inc()
	}
	if webhookEventLatency != nil {
		webhookEventLatency.WithLabelValues(event).Observe(duration.Seconds())
	}
}

// IncBillPaid counts a bill paid transition by completion path
// ("checkout", "webhook", "outbox" or "sweep").
func IncBillPaid(path string) {
	if path == "" {
		path = "unknown"
	}
	if billPaidTotal != nil {
		billPaidTotal.WithLabelValues(path).Inc()
	}
}

// ObserveSweep records a reconciliation sweep run.
func ObserveSweep(result string, duration time.Duration, reconciled int) {
	if result == "" {
		result = ResultSuccess
	}
	if sweepRunsTotal != nil {
		sweepRunsTotal.WithLabelValues(result).Inc()
	}
	if sweepLatency != nil {
		sweepLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if reconciled > 0 && sweepReconciledTotal != nil {
		sweepReconciledTotal.Add(float64(reconciled))
	}
}

// ObserveOutboxDispatch records an outbox dispatch run.
func ObserveOutboxDispatch(result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if outboxDispatchTotal != nil {
		outboxDispatchTotal.WithLabelValues(result).Inc()
	}
	if outboxDispatchLatency != nil {
		outboxDispatchLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}
