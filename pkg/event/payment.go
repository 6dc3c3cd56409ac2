package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentNotificationsTopic = "payments.notifications"

	EventPaymentCompleted = "PAYMENT_COMPLETED"
	EventPaymentFailed    = "PAYMENT_FAILED"
	EventPaymentRefunded  = "PAYMENT_REFUNDED"
)

// AllTopics lists every subject the durable stream retains.
var AllTopics = []string{
	OrderEventsTopic,
	KitchenNotificationsTopic,
	PaymentNotificationsTopic,
}

type PaymentEvent struct {
	EventType  string    `json:"event_type"`
	EventID    string    `json:"event_id"`
	OccurredAt time.Time `json:"occurred_at"`

	PaymentID         string          `json:"payment_id"`
	OrderID           string          `json:"order_id"`
	UserID            string          `json:"user_id"`
	UserEmail         string          `json:"user_email,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	PaymentMethod     string          `json:"payment_method,omitempty"`
	ProviderPaymentID string          `json:"provider_payment_id,omitempty"`
	Status            string          `json:"status"`
	FailureReason     string          `json:"failure_reason,omitempty"`
}

// TypeOf peeks at event_type without decoding the whole payload.
func TypeOf(data []byte) (string, error) {
	var head struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", fmt.Errorf("cannot decode event envelope: %w", err)
	}
	if head.EventType == "" {
		return "", fmt.Errorf("event has no event_type")
	}
	return head.EventType, nil
}
