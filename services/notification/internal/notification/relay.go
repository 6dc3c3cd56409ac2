package notification

import (
	"context"
	"fmt"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/fulfillment/pkg/event"
)

// Relay consumes every fulfillment topic and hands each event to the hub.
// Delivery to customers is logged; the stream subscribers do the rest.
type Relay struct {
	subscriber events.Subscriber
	hub        *Hub
	logger     apt.Logger
}

func NewRelay(subscriber events.Subscriber, hub *Hub, logger apt.Logger) *Relay {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Relay{
		subscriber: subscriber,
		hub:        hub,
		logger:     logger.With("component", "notification.relay"),
	}
}

func (r *Relay) Start(ctx context.Context) error {
	for _, topic := range event.AllTopics {
		r.logger.Info("starting relay subscriber", "topic", topic)
		if err := r.subscriber.Subscribe(ctx, topic, r.handlerFor(topic)); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}
	return nil
}

// handlerFor never asks for redelivery: a payload that does not decode now
// never will.
func (r *Relay) handlerFor(topic string) events.HandlerFunc {
	return func(ctx context.Context, msg []byte) error {
		n, err := Decode(topic, msg)
		if err != nil {
			r.logger.Error("cannot decode notification", "topic", topic, "error", err)
			return nil
		}

		relayedNotifications.WithLabelValues(topic, n.EventType).Inc()
		r.logger.Info("notification",
			"topic", topic,
			"event_type", n.EventType,
			"order_id", n.OrderID,
			"recipient", n.UserEmail,
		)
		r.hub.Broadcast(n)
		return nil
	}
}
