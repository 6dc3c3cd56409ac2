package pkg

import (
	"context"
	"fmt"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/nats-io/nats.go"
)

// KeyHeader carries the partition key (order id) on NATS messages.
const KeyHeader = "Fulfillment-Key"

type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("fulfillment-publisher"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: conn}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, topic string, msg []byte) error {
	return p.conn.Publish(topic, msg)
}

func (p *NATSPublisher) PublishKeyed(ctx context.Context, topic, key string, msg []byte) error {
	m := nats.NewMsg(topic)
	m.Header.Set(KeyHeader, key)
	m.Data = msg
	return p.conn.PublishMsg(m)
}

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}

// NATSSubscriber delivers at-most-once; handler errors are only logged.
// Use NATSStream where redelivery matters.
type NATSSubscriber struct {
	conn   *nats.Conn
	queue  string
	logger apt.Logger
}

// NewNATSSubscriber joins queue group queue when non-empty, so replicas of a
// service share the work instead of each receiving every message.
func NewNATSSubscriber(url, queue string, logger apt.Logger) (*NATSSubscriber, error) {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	conn, err := nats.Connect(url, nats.Name("fulfillment-subscriber"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSSubscriber{conn: conn, queue: queue, logger: logger}, nil
}

func (s *NATSSubscriber) Subscribe(ctx context.Context, topic string, handler events.HandlerFunc) error {
	cb := func(msg *nats.Msg) {
		if err := handler(ctx, msg.Data); err != nil {
			s.logger.Error("nats handler failed", "topic", topic, "error", err)
		}
	}
	var err error
	if s.queue != "" {
		_, err = s.conn.QueueSubscribe(topic, s.queue, cb)
	} else {
		_, err = s.conn.Subscribe(topic, cb)
	}
	return err
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}
