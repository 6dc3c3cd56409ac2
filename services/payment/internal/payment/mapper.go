package payment

import (
	"time"

	"github.com/appetiteclub/fulfillment/pkg/event"
	"github.com/google/uuid"
)

func ToEvent(p *Payment, eventType string) event.PaymentEvent {
	evt := event.PaymentEvent{
		EventType:         eventType,
		EventID:           uuid.NewString(),
		OccurredAt:        time.Now().UTC(),
		PaymentID:         p.ID.String(),
		OrderID:           p.OrderID,
		UserID:            p.UserID,
		UserEmail:         p.UserEmail,
		Amount:            p.Amount,
		Currency:          p.Currency,
		ProviderPaymentID: p.ProviderPaymentID,
		Status:            p.Status.Code(),
	}
	if !p.Method.IsZero() {
		evt.PaymentMethod = p.Method.Code()
	}
	if eventType == event.EventPaymentFailed {
		evt.FailureReason = p.FailureReason
	}
	return evt
}
