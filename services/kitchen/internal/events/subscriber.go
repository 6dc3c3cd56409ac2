package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/fulfillment/pkg/event"
	"github.com/appetiteclub/fulfillment/pkg/lib/core"
	"github.com/appetiteclub/fulfillment/services/kitchen/internal/kitchen"
)

// OrderPlacedSubscriber feeds ORDER_PLACED events into the aggregator.
// Other order events on the topic are ignored.
type OrderPlacedSubscriber struct {
	subscriber events.Subscriber
	aggregator *kitchen.Aggregator
	logger     apt.Logger
}

func NewOrderPlacedSubscriber(subscriber events.Subscriber, aggregator *kitchen.Aggregator, logger apt.Logger) *OrderPlacedSubscriber {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &OrderPlacedSubscriber{
		subscriber: subscriber,
		aggregator: aggregator,
		logger:     logger.With("component", "kitchen.order_subscriber"),
	}
}

func (s *OrderPlacedSubscriber) Start(ctx context.Context) error {
	s.logger.Info("starting order subscriber", "topic", event.OrderEventsTopic)

	if err := s.subscriber.Subscribe(ctx, event.OrderEventsTopic, s.handleEvent); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", event.OrderEventsTopic, err)
	}
	return nil
}

// handleEvent returns an error only for failures a redelivery can fix.
// Malformed or invalid payloads are logged and acknowledged.
func (s *OrderPlacedSubscriber) handleEvent(ctx context.Context, msg []byte) error {
	var evt event.OrderEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		s.logger.Error("cannot decode order event", "error", err)
		return nil
	}

	switch evt.EventType {
	case event.EventOrderPlaced:
		return s.handlePlaced(ctx, evt)
	default:
		s.logger.Debug("ignoring order event", "event_type", evt.EventType, "order_id", evt.OrderID)
		return nil
	}
}

func (s *OrderPlacedSubscriber) handlePlaced(ctx context.Context, evt event.OrderEvent) error {
	ticket, err := s.aggregator.OnOrderPlaced(ctx, evt)
	if errors.Is(err, core.ErrValidation) {
		s.logger.Error("dropping invalid order placed event", "order_id", evt.OrderID, "error", err)
		return nil
	}
	if err != nil {
		s.logger.Error("cannot materialize ticket", "order_id", evt.OrderID, "error", err)
		return err
	}

	s.logger.Debug("order placed handled", "order_id", evt.OrderID, "ticket_id", ticket.ID.String())
	return nil
}
