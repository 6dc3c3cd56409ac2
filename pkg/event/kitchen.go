package event

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	KitchenNotificationsTopic = "kitchen.notifications"

	EventTicketReady  = "TICKET_READY"
	EventTicketServed = "TICKET_SERVED"
)

// TicketNotification is published when a ticket becomes ready or is served.
// Lines are re-read from the store right before publishing.
type TicketNotification struct {
	EventType  string    `json:"event_type"`
	EventID    string    `json:"event_id"`
	OccurredAt time.Time `json:"occurred_at"`

	TicketID   string          `json:"ticket_id"`
	OrderID    string          `json:"order_id"`
	TableID    string          `json:"table_id,omitempty"`
	UserID     string          `json:"user_id"`
	UserEmail  string          `json:"user_email,omitempty"`
	Status     string          `json:"status"`
	Priority   string          `json:"priority"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Lines      []TicketLine    `json:"lines"`
}

type TicketLine struct {
	ItemID          string          `json:"item_id"`
	MenuItemID      string          `json:"menu_item_id"`
	Name            string          `json:"name"`
	Quantity        int             `json:"quantity"`
	Status          string          `json:"status"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	SpecialRequests string          `json:"special_requests,omitempty"`
}
