package event

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderEventsTopic = "orders.events"

	EventOrderPlaced          = "ORDER_PLACED"
	EventOrderStatusChanged   = "ORDER_STATUS_CHANGED"
	EventPaymentStatusChanged = "PAYMENT_STATUS_CHANGED"
	EventOrderCancelled       = "ORDER_CANCELLED"
)

// OrderEvent is the snapshot of an order at publish time. The same shape is
// used for every order event type; consumers switch on EventType.
type OrderEvent struct {
	EventType  string    `json:"event_type"`
	EventID    string    `json:"event_id"`
	OccurredAt time.Time `json:"occurred_at"`

	OrderID             string          `json:"order_id"`
	UserID              string          `json:"user_id"`
	UserEmail           string          `json:"user_email,omitempty"`
	TotalPrice          decimal.Decimal `json:"total_price"`
	Status              string          `json:"status"`
	PaymentStatus       string          `json:"payment_status"`
	PreviousStatus      string          `json:"previous_status,omitempty"`
	PreviousPayment     string          `json:"previous_payment_status,omitempty"`
	TableID             string          `json:"table_id,omitempty"`
	SpecialInstructions string          `json:"special_instructions,omitempty"`
	Lines               []OrderLine     `json:"lines"`
}

// OrderLine is the line snapshot carried by order events.
type OrderLine struct {
	MenuItemID      string          `json:"menu_item_id"`
	MenuItemName    string          `json:"menu_item_name"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	SpecialRequests string          `json:"special_requests,omitempty"`
}
