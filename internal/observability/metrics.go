package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce            sync.Once
	httpDurationHistogram   *prometheus.HistogramVec
	balanceDriftCounter     *prometheus.CounterVec
	idempotencyCounter      *prometheus.CounterVec
	settlementCounter       *prometheus.CounterVec
	securityEventCounter    *prometheus.CounterVec
	commissionCounter       *prometheus.CounterVec
	gatewayDurationHist     *prometheus.HistogramVec
	undistributedQueueGauge prometheus.Gauge
	workerRunCounter        *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		balanceDriftCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_balance_drift_total",
			Help: "Number of times a stored balance diverged from its transaction sum",
		}, []string{"currency"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		settlementCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deposit_settlements_total",
			Help: "Settlement attempts by source and outcome",
		}, []string{"source", "outcome"})

		securityEventCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deposit_security_events_total",
			Help: "Rejected callbacks and polls (signature, track id, ownership)",
		}, []string{"reason"})

		commissionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "referral_commissions_total",
			Help: "Commission level outcomes",
		}, []string{"level", "result"})

		gatewayDurationHist = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Payment gateway call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "result"})

		undistributedQueueGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "deposit_commission_backlog_size",
			Help: "Approved deposits whose commissions are not yet fully distributed",
		})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			balanceDriftCounter,
			idempotencyCounter,
			settlementCounter,
			securityEventCounter,
			commissionCounter,
			gatewayDurationHist,
			undistributedQueueGauge,
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

func IncrementBalanceDrift(currency string) {
	if balanceDriftCounter == nil {
		return
	}
	balanceDriftCounter.WithLabelValues(currency).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementSettlement(source, outcome string) {
	if settlementCounter == nil {
		return
	}
	settlementCounter.WithLabelValues(source, outcome).Inc()
}

func IncrementSecurityEvent(reason string) {
	if securityEventCounter == nil {
		return
	}
	securityEventCounter.WithLabelValues(reason).Inc()
}

func IncrementCommission(level int, result string) {
	if commissionCounter == nil {
		return
	}
	commissionCounter.WithLabelValues(strconv.Itoa(level), result).Inc()
}

func ObserveGatewayCall(operation, result string, duration time.Duration) {
	if gatewayDurationHist == nil {
		return
	}
	gatewayDurationHist.WithLabelValues(operation, result).Observe(duration.Seconds())
}

func SetCommissionBacklog(size int) {
	if undistributedQueueGauge == nil {
		return
	}
	undistributedQueueGauge.Set(float64(size))
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
