package kitchen

import (
	"time"

	"github.com/appetiteclub/fulfillment/pkg/event"
	"github.com/google/uuid"
)

func ToNotification(t *Ticket, items []*LineItem, eventType string) event.TicketNotification {
	n := event.TicketNotification{
		EventType:  eventType,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		TicketID:   t.ID.String(),
		OrderID:    t.OrderID,
		TableID:    t.TableID,
		UserID:     t.UserID,
		UserEmail:  t.UserEmail,
		Status:     t.Status.Code(),
		Priority:   t.Priority.Code(),
		TotalPrice: t.TotalPrice,
		Lines:      make([]event.TicketLine, 0, len(items)),
	}
	for _, it := range items {
		n.Lines = append(n.Lines, event.TicketLine{
			ItemID:          it.ID.String(),
			MenuItemID:      it.MenuItemID,
			Name:            it.Name,
			Quantity:        it.Quantity,
			Status:          it.Status.Code(),
			UnitPrice:       it.UnitPrice,
			TotalPrice:      it.TotalPrice,
			SpecialRequests: it.SpecialRequests,
		})
	}
	return n
}
