package notification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	relayedNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_service_relayed_total",
			Help: "Bus events relayed to subscribers",
		},
		[]string{"topic", "event_type"},
	)

	droppedNotifications = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notification_service_dropped_total",
		Help: "Notifications dropped because a subscriber fell behind",
	})

	activeSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "notification_service_stream_subscribers",
		Help: "Connected gRPC stream subscribers",
	})
)
