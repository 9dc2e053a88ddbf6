package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	httpDurationHistogram  *prometheus.HistogramVec
	transferOutcomeCounter *prometheus.CounterVec
	sagaDurationHistogram  *prometheus.HistogramVec
	compensationCounter    *prometheus.CounterVec
	reconciliationCounter  *prometheus.CounterVec
	stalePendingGauge      prometheus.Gauge
	eventPublishCounter    *prometheus.CounterVec
	ledgerCallHistogram    *prometheus.HistogramVec
	ledgerCircuitGauge     *prometheus.GaugeVec
	idempotencyCounter     *prometheus.CounterVec
	workerRunCounter       *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		transferOutcomeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transfer_outcomes_total",
			Help: "Terminal transfer outcomes by status and error kind",
		}, []string{"status", "kind"})

		sagaDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transfer_saga_duration_seconds",
			Help:    "Time from request acceptance to terminal status",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"})

		compensationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transfer_compensations_total",
			Help: "Compensating credits issued after a failed credit",
		}, []string{"result"})

		reconciliationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transfer_reconciliation_required_total",
			Help: "Transfers flagged for manual reconciliation",
		}, []string{"reason"})

		stalePendingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transfer_stale_pending",
			Help: "PENDING transfers older than the reconciliation threshold",
		})

		eventPublishCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "event_publish_total",
			Help: "Settlement event publish attempts",
		}, []string{"backend", "result"})

		ledgerCallHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_call_duration_seconds",
			Help:    "Account service call latency by operation and result",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "result"})

		ledgerCircuitGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_circuit_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"name"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			transferOutcomeCounter,
			sagaDurationHistogram,
			compensationCounter,
			reconciliationCounter,
			stalePendingGauge,
			eventPublishCounter,
			ledgerCallHistogram,
			ledgerCircuitGauge,
			idempotencyCounter,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

// ObserveTransferOutcome records a terminal transfer state and its latency.
func ObserveTransferOutcome(status, kind string, duration time.Duration) {
	if transferOutcomeCounter == nil {
		return
	}
	transferOutcomeCounter.WithLabelValues(status, kind).Inc()
	sagaDurationHistogram.WithLabelValues(status).Observe(duration.Seconds())
}

func IncrementCompensation(result string) {
	if compensationCounter == nil {
		return
	}
	compensationCounter.WithLabelValues(result).Inc()
}

func IncrementReconciliationRequired(reason string) {
	if reconciliationCounter == nil {
		return
	}
	reconciliationCounter.WithLabelValues(reason).Inc()
}

func SetStalePendingTransfers(count int) {
	if stalePendingGauge == nil {
		return
	}
	stalePendingGauge.Set(float64(count))
}

func IncrementEventPublish(backend, result string) {
	if eventPublishCounter == nil {
		return
	}
	eventPublishCounter.WithLabelValues(backend, result).Inc()
}

func ObserveLedgerCall(op, result string, duration time.Duration) {
	if ledgerCallHistogram == nil {
		return
	}
	ledgerCallHistogram.WithLabelValues(op, result).Observe(duration.Seconds())
}

func SetLedgerCircuitState(name string, state float64) {
	if ledgerCircuitGauge == nil {
		return
	}
	ledgerCircuitGauge.WithLabelValues(name).Set(state)
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
