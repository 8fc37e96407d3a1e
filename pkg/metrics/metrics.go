package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Delivery related metrics
	DeliveriesSucceeded prometheus.Counter
	DeliveriesFailed    prometheus.Counter
	DeliveriesExhausted prometheus.Counter
	DeliveryRetries     *prometheus.CounterVec
	AttemptDuration     prometheus.Histogram

	// Sweep related metrics
	SweepBatchSize prometheus.Histogram
	SweepDuration  prometheus.Histogram
	LogsCleanedUp  prometheus.Counter

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
}

// NewMetrics creates and registers all application metrics with the default registry.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		DeliveriesSucceeded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_succeeded_total",
			Help:      "Total number of webhook deliveries that received a 2xx response",
		}),
		DeliveriesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_failed_total",
			Help:      "Total number of webhook delivery attempts that failed",
		}),
		DeliveriesExhausted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_exhausted_total",
			Help:      "Total number of webhook deliveries that reached the attempt limit",
		}),
		DeliveryRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_retry_attempts_total",
			Help:      "Total number of retry attempts per event type",
		}, []string{"event_type"}),
		AttemptDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_attempt_duration_seconds",
			Help:      "Duration of outbound webhook HTTP attempts",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		SweepBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_batch_size",
			Help:      "Number of due retries picked up per sweep pass",
			Buckets:   []float64{0, 1, 5, 10, 25, 50},
		}),
		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Time spent per sweep pass",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		LogsCleanedUp: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_logs_deleted_total",
			Help:      "Total number of delivery log rows removed by retention cleanup",
		}),
		DatabaseOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}
}

// New creates an unregistered metric set, for use in tests.
func New(namespace string) *Metrics {
	return &Metrics{
		DeliveriesSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_succeeded_total",
		}),
		DeliveriesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_failed_total",
		}),
		DeliveriesExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_exhausted_total",
		}),
		DeliveryRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_retry_attempts_total",
		}, []string{"event_type"}),
		AttemptDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_attempt_duration_seconds",
		}),
		SweepBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_batch_size",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
		}),
		LogsCleanedUp: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_logs_deleted_total",
		}),
		DatabaseOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
		}, []string{"operation", "status"}),
	}
}
