package kitchen

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/appetiteclub/fulfillment/pkg/enums/ticketstatus"
	"github.com/appetiteclub/fulfillment/pkg/event"
	"github.com/google/uuid"
)

// MockTicketRepository is the memory store with failure and interleaving
// hooks.
type MockTicketRepository struct {
	*MemoryTicketRepository

	CreateTicketFunc func(ctx context.Context, t *Ticket) error
	CreateItemsFunc  func(ctx context.Context, items []*LineItem) error
	// BeforeCASFunc runs right before a compare-and-swap.
	BeforeCASFunc func(ticketID uuid.UUID)
}

func NewMockTicketRepository() *MockTicketRepository {
	return &MockTicketRepository{MemoryTicketRepository: NewMemoryTicketRepository()}
}

func (m *MockTicketRepository) CreateTicket(ctx context.Context, t *Ticket) error {
	if m.CreateTicketFunc != nil {
		return m.CreateTicketFunc(ctx, t)
	}
	return m.MemoryTicketRepository.CreateTicket(ctx, t)
}

func (m *MockTicketRepository) CreateItems(ctx context.Context, items []*LineItem) error {
	if m.CreateItemsFunc != nil {
		return m.CreateItemsFunc(ctx, items)
	}
	return m.MemoryTicketRepository.CreateItems(ctx, items)
}

func (m *MockTicketRepository) CompareAndSwapStatus(ctx context.Context, ticketID uuid.UUID, version int64, from, to ticketstatus.Status, at time.Time) (bool, error) {
	if m.BeforeCASFunc != nil {
		m.BeforeCASFunc(ticketID)
	}
	return m.MemoryTicketRepository.CompareAndSwapStatus(ctx, ticketID, version, from, to, at)
}

// MockPublisher records published notifications.
type MockPublisher struct {
	mu          sync.Mutex
	PublishFunc func(ctx context.Context, topic string, msg []byte) error
	messages    [][]byte
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, msg []byte) error {
	if m.PublishFunc != nil {
		if err := m.PublishFunc(ctx, topic, msg); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *MockPublisher) Notifications() []event.TicketNotification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]event.TicketNotification, 0, len(m.messages))
	for _, msg := range m.messages {
		var n event.TicketNotification
		if err := json.Unmarshal(msg, &n); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func (m *MockPublisher) Count(eventType string) int {
	n := 0
	for _, evt := range m.Notifications() {
		if evt.EventType == eventType {
			n++
		}
	}
	return n
}
