package order

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	orderOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_service_order_operations_total",
			Help: "Total number of order workflow operations",
		},
		[]string{"operation", "status"},
	)

	publishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_service_publish_failures_total",
		Help: "Order events that could not be published after commit",
	})

	saveConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_service_save_conflicts_total",
		Help: "Order saves retried because the stored version had moved on",
	})
)

func recordOperation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	orderOperations.WithLabelValues(operation, status).Inc()
}
