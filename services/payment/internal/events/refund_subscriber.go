package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/fulfillment/pkg/enums/paymentstatus"
	"github.com/appetiteclub/fulfillment/pkg/event"
	"github.com/appetiteclub/fulfillment/services/payment/internal/payment"
)

// Refunder returns the captured payment of a cancelled order.
type Refunder interface {
	RefundForCancelledOrder(ctx context.Context, orderID string) error
}

// RefundSubscriber watches order cancellations that turned a completed
// payment into REFUNDED and asks the gateway to return the money.
type RefundSubscriber struct {
	subscriber events.Subscriber
	refunder   Refunder
	logger     apt.Logger
}

func NewRefundSubscriber(subscriber events.Subscriber, refunder Refunder, logger apt.Logger) *RefundSubscriber {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &RefundSubscriber{
		subscriber: subscriber,
		refunder:   refunder,
		logger:     logger.With("component", "payment.refund_subscriber"),
	}
}

func (s *RefundSubscriber) Start(ctx context.Context) error {
	s.logger.Info("starting refund subscriber", "topic", event.OrderEventsTopic)

	if err := s.subscriber.Subscribe(ctx, event.OrderEventsTopic, s.handleEvent); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", event.OrderEventsTopic, err)
	}
	return nil
}

func (s *RefundSubscriber) handleEvent(ctx context.Context, msg []byte) error {
	var evt event.OrderEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		s.logger.Error("cannot decode order event", "error", err)
		return nil
	}

	if evt.EventType != event.EventOrderCancelled || evt.PaymentStatus != paymentstatus.Statuses.Refunded.Code() {
		return nil
	}

	err := s.refunder.RefundForCancelledOrder(ctx, evt.OrderID)
	if err != nil && payment.IsPermanent(err) {
		s.logger.Error("dropping refund that cannot succeed", "order_id", evt.OrderID, "error", err)
		return nil
	}
	if err != nil {
		s.logger.Error("cannot refund cancelled order", "order_id", evt.OrderID, "error", err)
		return err
	}
	return nil
}
