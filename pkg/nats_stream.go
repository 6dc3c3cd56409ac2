package pkg

import (
	"context"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSStream is an at-least-once bus on JetStream: a handler error naks the
// message so it is redelivered, success acks it.
type NATSStream struct {
	conn     *nats.Conn
	js       jetstream.JetStream
	stream   jetstream.Stream
	logger   apt.Logger
	consumer string
	ackWait  time.Duration
	maxDeliv int
	consumes []jetstream.ConsumeContext
}

type NATSStreamConfig struct {
	URL          string
	StreamName   string   // e.g. "FULFILLMENT"
	Subjects     []string // subjects retained by the stream
	ConsumerName string   // durable consumer prefix for this service
	MaxAge       time.Duration
	MaxMsgs      int64 // 0 = unlimited
	AckWait      time.Duration
	MaxDeliver   int
}

func NewNATSStream(cfg NATSStreamConfig, logger apt.Logger) (*NATSStream, error) {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	conn, err := nats.Connect(cfg.URL, nats.Name(cfg.ConsumerName))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	streamConfig := jetstream.StreamConfig{
		Name:     cfg.StreamName,
		Subjects: cfg.Subjects,
		MaxAge:   cfg.MaxAge,
	}
	if cfg.MaxMsgs > 0 {
		streamConfig.MaxMsgs = cfg.MaxMsgs
	}

	stream, err := js.CreateOrUpdateStream(context.Background(), streamConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.StreamName, err)
	}

	ackWait := cfg.AckWait
	if ackWait == 0 {
		ackWait = 30 * time.Second
	}
	maxDeliver := cfg.MaxDeliver
	if maxDeliver == 0 {
		maxDeliver = 10
	}

	return &NATSStream{
		conn:     conn,
		js:       js,
		stream:   stream,
		logger:   logger,
		consumer: cfg.ConsumerName,
		ackWait:  ackWait,
		maxDeliv: maxDeliver,
	}, nil
}

func (s *NATSStream) Publish(ctx context.Context, topic string, msg []byte) error {
	if _, err := s.js.Publish(ctx, topic, msg); err != nil {
		return fmt.Errorf("failed to publish to stream: %w", err)
	}
	return nil
}

// PublishKeyed stores the partition key in a header for consumers that care.
func (s *NATSStream) PublishKeyed(ctx context.Context, topic, key string, msg []byte) error {
	m := nats.NewMsg(topic)
	m.Header.Set(KeyHeader, key)
	m.Data = msg
	if _, err := s.js.PublishMsg(ctx, m); err != nil {
		return fmt.Errorf("failed to publish to stream: %w", err)
	}
	return nil
}

// Subscribe binds a durable consumer named <consumer>-<topic> to topic.
func (s *NATSStream) Subscribe(ctx context.Context, topic string, handler events.HandlerFunc) error {
	name := durableName(s.consumer, topic)
	consumer, err := s.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          name,
		Durable:       name,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		FilterSubject: topic,
		AckWait:       s.ackWait,
		MaxDeliver:    s.maxDeliv,
	})
	if err != nil {
		return fmt.Errorf("failed to create/update consumer %s: %w", name, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := handler(ctx, msg.Data()); err != nil {
			s.logger.Error("stream handler failed, requesting redelivery", "topic", topic, "error", err)
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", topic, err)
	}
	s.consumes = append(s.consumes, cc)
	return nil
}

// Fetch replays up to limit retained messages of topic through an ephemeral
// consumer, leaving durable consumers untouched.
func (s *NATSStream) Fetch(ctx context.Context, topic string, limit int) ([]events.StreamMessage, error) {
	if limit <= 0 {
		limit = 1000
	}

	consumer, err := s.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		FilterSubject: topic,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create replay consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	var messages []events.StreamMessage
	for msg := range batch.Messages() {
		meta, err := msg.Metadata()
		if err != nil {
			continue
		}
		messages = append(messages, events.StreamMessage{
			Data:      msg.Data(),
			Sequence:  meta.Sequence.Stream,
			Timestamp: meta.Timestamp.UnixNano(),
		})
	}
	if err := batch.Error(); err != nil && len(messages) == 0 {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return messages, nil
}

func (s *NATSStream) Close() error {
	for _, cc := range s.consumes {
		cc.Stop()
	}
	s.conn.Close()
	return nil
}

func durableName(prefix, topic string) string {
	out := []byte(prefix + "-" + topic)
	for i, c := range out {
		if c == '.' || c == '*' || c == '>' || c == ' ' {
			out[i] = '_'
		}
	}
	return string(out)
}
