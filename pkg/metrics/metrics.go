package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	IngestFilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_files_total",
			Help: "Total number of status files handled by the ingest watcher (count)",
		},
		[]string{"outcome", "reason"},
	)

	IngestFilesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_files_in_flight",
			Help: "Number of status files currently being processed (count)",
		},
	)

	IngestFileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_file_duration_ms",
			Help:    "Time from pick-up to relocation of a status file in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"outcome"},
	)

	IngestReadRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_read_retries_total",
			Help: "Total number of retried reads of locked status files (count)",
		},
	)

	BrokerPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_published_total",
			Help: "Total number of messages published to the broker (count)",
		},
		[]string{"broker", "status"},
	)

	BrokerPublishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_publish_duration_ms",
			Help:    "Duration of broker publish calls in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"broker"},
	)

	BrokerDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_deliveries_total",
			Help: "Total number of deliveries settled by the consumer (count)",
		},
		[]string{"broker", "status"},
	)

	BrokerDeliveriesInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "broker_deliveries_in_flight",
			Help: "Number of deliveries handed to handlers and not yet settled (count)",
		},
		[]string{"broker"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "operation"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages routed to the dead-letter sink (count)",
		},
		[]string{"broker", "reason"},
	)

	ApplyMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apply_messages_total",
			Help: "Total number of status messages handled by the apply consumer (count)",
		},
		[]string{"status"},
	)

	ApplyProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apply_processing_duration_ms",
			Help:    "Processing duration of one status message in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"status"},
	)

	StoreOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_operations_total",
			Help: "Total number of status store operations (count)",
		},
		[]string{"store", "operation", "status"},
	)

	StoreOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_ms",
			Help:    "Duration of status store operations in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"store", "operation"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)
)

var (
	ingestOnce         sync.Once
	applyOnce          sync.Once
	brokerOnce         sync.Once
	circuitBreakerOnce sync.Once
	httpOnce           sync.Once
)

func RegisterIngestMetrics() {
	ingestOnce.Do(func() {
		prometheus.MustRegister(IngestFilesTotal)
		prometheus.MustRegister(IngestFilesInFlight)
		prometheus.MustRegister(IngestFileDuration)
		prometheus.MustRegister(IngestReadRetriesTotal)
	})
}

func RegisterApplyMetrics() {
	applyOnce.Do(func() {
		prometheus.MustRegister(ApplyMessagesTotal)
		prometheus.MustRegister(ApplyProcessingDuration)
		prometheus.MustRegister(StoreOperationsTotal)
		prometheus.MustRegister(StoreOperationDuration)
	})
}

func RegisterBrokerMetrics() {
	brokerOnce.Do(func() {
		prometheus.MustRegister(BrokerPublishedTotal)
		prometheus.MustRegister(BrokerPublishDuration)
		prometheus.MustRegister(BrokerDeliveriesTotal)
		prometheus.MustRegister(BrokerDeliveriesInFlight)
		prometheus.MustRegister(RetryAttemptsTotal)
		prometheus.MustRegister(DLQMessagesTotal)
	})
}

func RegisterCircuitBreakerMetrics() {
	circuitBreakerOnce.Do(func() {
		prometheus.MustRegister(CircuitBreakerState)
		prometheus.MustRegister(CircuitBreakerRequests)
		prometheus.MustRegister(CircuitBreakerFailures)
	})
}

func RegisterHTTPMetrics() {
	httpOnce.Do(func() {
		prometheus.MustRegister(RateLimitRequestsTotal)
	})
}

func IncIngestFile(outcome, reason string) {
	IngestFilesTotal.WithLabelValues(outcome, reason).Inc()
}

func ObserveIngestFileDuration(outcome string, duration time.Duration) {
	IngestFileDuration.WithLabelValues(outcome).Observe(float64(duration.Milliseconds()))
}

func IncBrokerPublished(broker, status string) {
	BrokerPublishedTotal.WithLabelValues(broker, status).Inc()
}

func ObserveBrokerPublishDuration(broker string, duration time.Duration) {
	BrokerPublishDuration.WithLabelValues(broker).Observe(float64(duration.Milliseconds()))
}

func IncBrokerDelivery(broker, status string) {
	BrokerDeliveriesTotal.WithLabelValues(broker, status).Inc()
}

func IncDLQMessage(broker, reason string) {
	DLQMessagesTotal.WithLabelValues(broker, reason).Inc()
}

func IncRetryAttempt(service, operation string) {
	RetryAttemptsTotal.WithLabelValues(service, operation).Inc()
}

func IncApplyMessage(status string) {
	ApplyMessagesTotal.WithLabelValues(status).Inc()
}

func ObserveApplyDuration(duration time.Duration, status string) {
	ApplyProcessingDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func IncStoreOperation(store, operation, status string) {
	StoreOperationsTotal.WithLabelValues(store, operation, status).Inc()
}

func ObserveStoreOperationDuration(store, operation string, duration time.Duration) {
	StoreOperationDuration.WithLabelValues(store, operation).Observe(float64(duration.Milliseconds()))
}
