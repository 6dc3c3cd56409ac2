package order

import (
	"time"

	"github.com/appetiteclub/fulfillment/pkg/event"
	"github.com/google/uuid"
)

// ToEvent snapshots the order. Previous statuses are only set when the
// transition changed them.
func ToEvent(o *Order, eventType string, t Transition) event.OrderEvent {
	evt := event.OrderEvent{
		EventType:           eventType,
		EventID:             uuid.NewString(),
		OccurredAt:          time.Now().UTC(),
		OrderID:             o.ID.String(),
		UserID:              o.UserID,
		UserEmail:           o.UserEmail,
		TotalPrice:          o.TotalPrice,
		Status:              o.Status.Code(),
		PaymentStatus:       o.PaymentStatus.Code(),
		SpecialInstructions: o.SpecialInstructions,
		Lines:               make([]event.OrderLine, 0, len(o.Lines)),
	}
	if t.StatusChanged() && !t.FromStatus.IsZero() {
		evt.PreviousStatus = t.FromStatus.Code()
	}
	if t.PaymentChanged() && !t.FromPayment.IsZero() {
		evt.PreviousPayment = t.FromPayment.Code()
	}

	for _, l := range o.Lines {
		evt.Lines = append(evt.Lines, event.OrderLine{
			MenuItemID:      l.MenuItemID,
			MenuItemName:    l.MenuItemName,
			Quantity:        l.Quantity,
			UnitPrice:       l.UnitPrice,
			TotalPrice:      l.TotalPrice,
			SpecialRequests: l.SpecialRequests,
		})
	}
	return evt
}
