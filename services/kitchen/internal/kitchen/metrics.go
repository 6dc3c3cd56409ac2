package kitchen

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticketsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kitchen_tickets_created_total",
		Help: "Tickets materialized from placed orders",
	})

	duplicateOrders = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kitchen_duplicate_orders_total",
		Help: "Placed-order deliveries that found an existing ticket",
	})

	ticketTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kitchen_ticket_transitions_total",
		Help: "Ticket status transitions by target status",
	}, []string{"status"})

	casConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kitchen_ticket_cas_conflicts_total",
		Help: "Ticket compare-and-swap attempts lost to a concurrent change",
	})

	publishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kitchen_publish_failures_total",
		Help: "Ticket notifications that could not be published",
	})
)
