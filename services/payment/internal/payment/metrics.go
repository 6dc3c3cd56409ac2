package payment

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reconcilerOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_service_operations_total",
			Help: "Total number of payment reconciler operations",
		},
		[]string{"operation", "status"},
	)

	signatureRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_service_signature_rejections_total",
			Help: "Payment confirmations and webhooks rejected for a bad signature",
		},
		[]string{"source"},
	)

	gatewayErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_service_gateway_errors_total",
			Help: "Failed calls to the payment gateway",
		},
		[]string{"operation"},
	)

	publishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_service_publish_failures_total",
		Help: "Payment events that could not be published after commit",
	})
)

func recordOperation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	reconcilerOperations.WithLabelValues(operation, status).Inc()
}
