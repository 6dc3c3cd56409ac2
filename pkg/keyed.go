package pkg

import (
	"context"

	"github.com/appetiteclub/apt/events"
)

// KeyedPublisher publishes with a partition key so that messages for the same
// aggregate stay ordered on transports that support it.
type KeyedPublisher interface {
	PublishKeyed(ctx context.Context, topic, key string, msg []byte) error
}

// TopicReplayer replays the retained messages of one topic, oldest first.
type TopicReplayer interface {
	Fetch(ctx context.Context, topic string, limit int) ([]events.StreamMessage, error)
}

// PublishKeyed uses the key when the publisher supports it.
func PublishKeyed(ctx context.Context, p events.Publisher, topic, key string, msg []byte) error {
	if kp, ok := p.(KeyedPublisher); ok {
		return kp.PublishKeyed(ctx, topic, key, msg)
	}
	return p.Publish(ctx, topic, msg)
}
