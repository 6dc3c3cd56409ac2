package order

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/appetiteclub/fulfillment/pkg/enums/orderstatus"
	"github.com/appetiteclub/fulfillment/pkg/event"
	"github.com/google/uuid"
)

// MockPublisher records what was published and can be made to fail.
type MockPublisher struct {
	mu          sync.Mutex
	PublishFunc func(ctx context.Context, topic string, msg []byte) error
	published   []publishedMsg
}

type publishedMsg struct {
	topic string
	key   string
	data  []byte
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, msg []byte) error {
	return m.PublishKeyed(ctx, topic, "", msg)
}

func (m *MockPublisher) PublishKeyed(ctx context.Context, topic, key string, msg []byte) error {
	if m.PublishFunc != nil {
		if err := m.PublishFunc(ctx, topic, msg); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishedMsg{topic: topic, key: key, data: msg})
	return nil
}

func (m *MockPublisher) Events() []event.OrderEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]event.OrderEvent, 0, len(m.published))
	for _, p := range m.published {
		var evt event.OrderEvent
		if err := json.Unmarshal(p.data, &evt); err == nil {
			out = append(out, evt)
		}
	}
	return out
}

func (m *MockPublisher) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.published))
	for _, p := range m.published {
		out = append(out, p.key)
	}
	return out
}

// MockOrderRepo is an in-memory OrderRepo with the same version check as
// the Mongo store. Stored orders are copied so tests observe only what was
// saved.
type MockOrderRepo struct {
	mu         sync.RWMutex
	orders     map[uuid.UUID]Order
	CreateFunc func(ctx context.Context, order *Order) error
	GetFunc    func(ctx context.Context, id uuid.UUID) (*Order, error)
	SaveFunc   func(ctx context.Context, order *Order) error
	// BeforeSaveFunc runs right before the version check.
	BeforeSaveFunc func(order *Order)
}

func NewMockOrderRepo() *MockOrderRepo {
	return &MockOrderRepo{
		orders: make(map[uuid.UUID]Order),
	}
}

func (m *MockOrderRepo) Create(ctx context.Context, order *Order) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, order)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = *order
	return nil
}

func (m *MockOrderRepo) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (m *MockOrderRepo) Save(ctx context.Context, order *Order) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, order)
	}
	if m.BeforeSaveFunc != nil {
		m.BeforeSaveFunc(order)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.orders[order.ID]
	if !ok {
		return fmt.Errorf("order %s not found", order.ID)
	}
	if stored.Version != order.Version {
		return ErrVersionConflict
	}
	order.Version++
	m.orders[order.ID] = *order
	return nil
}

func (m *MockOrderRepo) ListByUser(ctx context.Context, userID string) ([]*Order, error) {
	return m.filter(func(o Order) bool { return o.UserID == userID }), nil
}

func (m *MockOrderRepo) PageByUser(ctx context.Context, userID string, page Page) ([]*Order, int64, error) {
	all := m.filter(func(o Order) bool { return o.UserID == userID })
	start := page.Number * page.Size
	if start > len(all) {
		start = len(all)
	}
	end := start + page.Size
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], int64(len(all)), nil
}

func (m *MockOrderRepo) ListByUserBetween(ctx context.Context, userID string, from, to time.Time) ([]*Order, error) {
	return m.filter(func(o Order) bool {
		return o.UserID == userID && !o.CreatedAt.Before(from) && !o.CreatedAt.After(to)
	}), nil
}

func (m *MockOrderRepo) CountByUserAndStatus(ctx context.Context, userID string, status orderstatus.Status) (int64, error) {
	return int64(len(m.filter(func(o Order) bool { return o.UserID == userID && o.Status == status }))), nil
}

func (m *MockOrderRepo) ListByStatus(ctx context.Context, status orderstatus.Status) ([]*Order, error) {
	return m.filter(func(o Order) bool { return o.Status == status }), nil
}

func (m *MockOrderRepo) filter(keep func(Order) bool) []*Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := []*Order{}
	for _, o := range m.orders {
		if keep(o) {
			o := o
			result = append(result, &o)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result
}
