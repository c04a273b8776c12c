package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	paymentOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_operations_total",
			Help: "Total payment operations by outcome",
		},
		[]string{"operation", "status"},
	)

	paypalRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paypal_request_duration_seconds",
			Help:    "Duration of PayPal REST calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	idempotentReplays = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_idempotent_replays_total",
			Help: "Repeated process/confirm calls answered from the stored payment",
		},
		[]string{"operation"},
	)
)

// RecordOperation counts one payment operation; err == nil counts as success.
func RecordOperation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	paymentOperations.WithLabelValues(operation, status).Inc()
}

func ObservePaypalRequest(endpoint string, d time.Duration) {
	paypalRequestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

func RecordIdempotentReplay(operation string) {
	idempotentReplays.WithLabelValues(operation).Inc()
}
