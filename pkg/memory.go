package pkg

import (
	"context"
	"sync"

	"github.com/appetiteclub/apt/events"
)

// MemoryBus is an in-process bus for tests and single-binary demos.
// Publish delivers synchronously to every handler of the topic.
type MemoryBus struct {
	mu        sync.RWMutex
	handlers  map[string][]events.HandlerFunc
	published []Published
	failNext  error
}

type Published struct {
	Topic string
	Key   string
	Data  []byte
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[string][]events.HandlerFunc)}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, msg []byte) error {
	return b.PublishKeyed(ctx, topic, "", msg)
}

func (b *MemoryBus) PublishKeyed(ctx context.Context, topic, key string, msg []byte) error {
	b.mu.Lock()
	if err := b.failNext; err != nil {
		b.failNext = nil
		b.mu.Unlock()
		return err
	}
	cp := append([]byte(nil), msg...)
	b.published = append(b.published, Published{Topic: topic, Key: key, Data: cp})
	handlers := append([]events.HandlerFunc(nil), b.handlers[topic]...)
	b.mu.Unlock()

	for _, h := range handlers {
		// Handler errors stay with the consumer, as on a real bus.
		_ = h(ctx, cp)
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string, handler events.HandlerFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
	return nil
}

// FailNextPublish makes the next Publish return err.
func (b *MemoryBus) FailNextPublish(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext = err
}

// Messages returns what was published on topic, in order.
func (b *MemoryBus) Messages(topic string) []Published {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Published
	for _, p := range b.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// Fetch implements TopicReplayer over the publish log.
func (b *MemoryBus) Fetch(ctx context.Context, topic string, limit int) ([]events.StreamMessage, error) {
	msgs := b.Messages(topic)
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]events.StreamMessage, 0, len(msgs))
	for i, m := range msgs {
		out = append(out, events.StreamMessage{Data: m.Data, Sequence: uint64(i + 1)})
	}
	return out, nil
}

func (b *MemoryBus) Close() error { return nil }
