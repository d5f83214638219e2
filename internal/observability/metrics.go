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
	ledgerImbalanceCounter *prometheus.CounterVec
	idempotencyCounter     *prometheus.CounterVec
	manualReviewQueueGauge prometheus.Gauge
	manualReviewCounter    *prometheus.CounterVec
	workerRunCounter       *prometheus.CounterVec
	webhookCounter         *prometheus.CounterVec
	unitRetryCounter       *prometheus.CounterVec
	notificationCounter    *prometheus.CounterVec
	gatewayCallHistogram   *prometheus.HistogramVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		ledgerImbalanceCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_imbalance_total",
			Help: "Reconciliation checks that found money created or destroyed",
		}, []string{"check"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		manualReviewQueueGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "payout_manual_review_queue_size",
			Help: "Current number of payouts waiting in manual review",
		})

		manualReviewCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payout_manual_review_transitions_total",
			Help: "Manual review transitions and resolutions",
		}, []string{"action"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		webhookCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_webhook_events_total",
			Help: "Webhook confirmations by gateway and branch taken",
		}, []string{"gateway", "branch"})

		unitRetryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_unit_retries_total",
			Help: "Settlement units retried after a write conflict",
		}, []string{"unit"})

		notificationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_notifications_total",
			Help: "Post-commit notifications by outcome",
		}, []string{"result"})

		gatewayCallHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_call_duration_seconds",
			Help:    "Outbound gateway call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"gateway", "operation", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			ledgerImbalanceCounter,
			idempotencyCounter,
			manualReviewQueueGauge,
			manualReviewCounter,
			workerRunCounter,
			webhookCounter,
			unitRetryCounter,
			notificationCounter,
			gatewayCallHistogram,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementLedgerImbalance(check string) {
	if ledgerImbalanceCounter == nil {
		return
	}
	ledgerImbalanceCounter.WithLabelValues(check).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func SetManualReviewQueueSize(size int64) {
	if manualReviewQueueGauge == nil {
		return
	}
	manualReviewQueueGauge.Set(float64(size))
}

func IncrementManualReviewTransition(action string) {
	if manualReviewCounter == nil {
		return
	}
	manualReviewCounter.WithLabelValues(action).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

func IncrementWebhook(gateway, branch string) {
	if webhookCounter == nil {
		return
	}
	webhookCounter.WithLabelValues(gateway, branch).Inc()
}

func IncrementUnitRetry(unit string) {
	if unitRetryCounter == nil {
		return
	}
	unitRetryCounter.WithLabelValues(unit).Inc()
}

func IncrementNotification(result string) {
	if notificationCounter == nil {
		return
	}
	notificationCounter.WithLabelValues(result).Inc()
}

func ObserveGatewayCall(gateway, operation string, err error, duration time.Duration) {
	if gatewayCallHistogram == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	gatewayCallHistogram.WithLabelValues(gateway, operation, result).Observe(duration.Seconds())
}
