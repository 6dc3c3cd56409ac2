package notification

import (
	"sync"

	"github.com/appetiteclub/apt"
	"github.com/google/uuid"
)

const subscriberBuffer = 100

// Hub fans notifications out to live stream subscribers. A subscriber that
// falls behind loses events instead of stalling the relay.
type Hub struct {
	logger apt.Logger

	mu          sync.RWMutex
	subscribers map[string]chan *Notification
}

func NewHub(logger apt.Logger) *Hub {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Hub{
		logger:      logger.With("component", "notification.hub"),
		subscribers: make(map[string]chan *Notification),
	}
}

// Subscribe registers a subscriber. Call the returned func to leave.
func (h *Hub) Subscribe() (string, <-chan *Notification, func()) {
	id := uuid.NewString()
	ch := make(chan *Notification, subscriberBuffer)

	h.mu.Lock()
	h.subscribers[id] = ch
	h.mu.Unlock()
	activeSubscribers.Inc()

	var once sync.Once
	leave := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, id)
			close(ch)
			h.mu.Unlock()
			activeSubscribers.Dec()
		})
	}
	return id, ch, leave
}

func (h *Hub) Broadcast(n *Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subscribers {
		select {
		case ch <- n:
		default:
			droppedNotifications.Inc()
			h.logger.Info("subscriber channel full, dropping notification", "subscriber_id", id, "event_type", n.EventType)
		}
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
