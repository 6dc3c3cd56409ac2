package pkg

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPBus publishes to a durable topic exchange and consumes through one
// durable queue per service and topic. A failing handler gets one requeue;
// the second failure dead-letters the message to <queue>.dlq.
type AMQPBus struct {
	conn     *amqp.Connection
	pubCh    *amqp.Channel
	mu       sync.Mutex
	exchange string
	service  string
	logger   apt.Logger
}

type AMQPConfig struct {
	URL      string
	Exchange string // topic exchange, e.g. "fulfillment"
	Service  string // queue name prefix
}

func NewAMQPBus(cfg AMQPConfig, logger apt.Logger) (*AMQPBus, error) {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", cfg.Exchange, err)
	}

	return &AMQPBus{
		conn:     conn,
		pubCh:    ch,
		exchange: cfg.Exchange,
		service:  cfg.Service,
		logger:   logger,
	}, nil
}

func (b *AMQPBus) Publish(ctx context.Context, topic string, msg []byte) error {
	return b.PublishKeyed(ctx, topic, "", msg)
}

func (b *AMQPBus) PublishKeyed(ctx context.Context, topic, key string, msg []byte) error {
	pub := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		ContentType:  "application/json",
		Body:         msg,
	}
	if key != "" {
		pub.Headers = amqp.Table{KeyHeader: key}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.pubCh.PublishWithContext(ctx, b.exchange, topic, false, false, pub); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (b *AMQPBus) Subscribe(ctx context.Context, topic string, handler events.HandlerFunc) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	queue := b.service + "." + topic
	dlx := queue + ".dlx"
	dlq := queue + ".dlq"

	if err := ch.ExchangeDeclare(dlx, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare %s: %w", dlx, err)
	}
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare %s: %w", dlq, err)
	}
	if err := ch.QueueBind(dlq, dlq, dlx, false, nil); err != nil {
		return fmt.Errorf("failed to bind %s: %w", dlq, err)
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    dlx,
		"x-dead-letter-routing-key": dlq,
	}); err != nil {
		return fmt.Errorf("failed to declare %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, topic, b.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind %s: %w", queue, err)
	}
	if err := ch.Qos(16, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", queue, err)
	}

	go func() {
		for d := range deliveries {
			if err := handler(ctx, d.Body); err != nil {
				b.logger.Error("amqp handler failed", "queue", queue, "redelivered", d.Redelivered, "error", err)
				_ = d.Nack(false, !d.Redelivered)
				continue
			}
			_ = d.Ack(false)
		}
	}()
	return nil
}

func (b *AMQPBus) Close() error {
	if b.pubCh != nil {
		_ = b.pubCh.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
