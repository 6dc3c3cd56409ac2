package notification

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/appetiteclub/fulfillment/pkg/event"
)

// Notification is one bus event ready for delivery. Payload keeps the whole
// event so subscribers see every field the producer sent.
type Notification struct {
	Topic      string
	EventType  string
	OrderID    string
	UserEmail  string
	OccurredAt time.Time
	Sequence   uint64
	Payload    map[string]interface{}
}

// Decode reads the fields every fulfillment event shares.
func Decode(topic string, data []byte) (*Notification, error) {
	eventType, err := event.TypeOf(data)
	if err != nil {
		return nil, err
	}

	var head struct {
		OrderID    string    `json:"order_id"`
		UserEmail  string    `json:"user_email"`
		OccurredAt time.Time `json:"occurred_at"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("cannot decode event head: %w", err)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("cannot decode event payload: %w", err)
	}

	return &Notification{
		Topic:      topic,
		EventType:  eventType,
		OrderID:    head.OrderID,
		UserEmail:  head.UserEmail,
		OccurredAt: head.OccurredAt,
		Payload:    payload,
	}, nil
}

// Filter selects notifications for one stream subscriber. Zero values match
// everything.
type Filter struct {
	OrderID string
	Topics  []string
}

func (f Filter) Match(n *Notification) bool {
	if f.OrderID != "" && n.OrderID != f.OrderID {
		return false
	}
	if len(f.Topics) == 0 {
		return true
	}
	for _, t := range f.Topics {
		if t == n.Topic {
			return true
		}
	}
	return false
}

// topics returns the filtered topics, or all of them.
func (f Filter) topics() []string {
	if len(f.Topics) == 0 {
		return event.AllTopics
	}
	return f.Topics
}
