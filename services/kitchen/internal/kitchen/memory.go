package kitchen

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/appetiteclub/fulfillment/pkg/enums/itemstatus"
	"github.com/appetiteclub/fulfillment/pkg/enums/ticketstatus"
	"github.com/google/uuid"
)

// MemoryTicketRepository keeps tickets in process with the same uniqueness
// and compare-and-swap guarantees as the Mongo store. Used by the memory
// store driver and by tests. Values are copied in and out.
type MemoryTicketRepository struct {
	mu      sync.Mutex
	tickets map[uuid.UUID]Ticket
	byOrder map[string]uuid.UUID
	items   map[uuid.UUID]LineItem
	order   []uuid.UUID
}

func NewMemoryTicketRepository() *MemoryTicketRepository {
	return &MemoryTicketRepository{
		tickets: make(map[uuid.UUID]Ticket),
		byOrder: make(map[string]uuid.UUID),
		items:   make(map[uuid.UUID]LineItem),
	}
}

func (m *MemoryTicketRepository) CreateTicket(ctx context.Context, t *Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byOrder[t.OrderID]; ok {
		return ErrTicketExists
	}
	m.tickets[t.ID] = *t
	m.byOrder[t.OrderID] = t.ID
	return nil
}

func (m *MemoryTicketRepository) FindTicket(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *MemoryTicketRepository) FindTicketByOrderID(ctx context.Context, orderID string) (*Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byOrder[orderID]
	if !ok {
		return nil, nil
	}
	t := m.tickets[id]
	return &t, nil
}

func (m *MemoryTicketRepository) ListTickets(ctx context.Context, filter TicketFilter) ([]*Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := []*Ticket{}
	for _, t := range m.tickets {
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		t := t
		result = append(result, &t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*Ticket{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *MemoryTicketRepository) CreateItems(ctx context.Context, items []*LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		if _, ok := m.items[it.ID]; ok {
			continue
		}
		m.items[it.ID] = *it
		m.order = append(m.order, it.ID)
	}
	return nil
}

func (m *MemoryTicketRepository) FindItem(ctx context.Context, ticketID, itemID uuid.UUID) (*LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[itemID]
	if !ok || it.TicketID != ticketID {
		return nil, nil
	}
	return &it, nil
}

func (m *MemoryTicketRepository) ListItems(ctx context.Context, ticketID uuid.UUID) ([]*LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := []*LineItem{}
	for _, id := range m.order {
		it := m.items[id]
		if it.TicketID == ticketID {
			result = append(result, &it)
		}
	}
	return result, nil
}

func (m *MemoryTicketRepository) UpdateItemStatus(ctx context.Context, ticketID, itemID uuid.UUID, status itemstatus.Status, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[itemID]
	if !ok || it.TicketID != ticketID {
		return false, nil
	}
	it.Status = status
	it.UpdatedAt = at
	m.items[itemID] = it

	t := m.tickets[ticketID]
	t.Version++
	t.UpdatedAt = at
	m.tickets[ticketID] = t
	return true, nil
}

func (m *MemoryTicketRepository) CountItems(ctx context.Context, ticketID uuid.UUID, target itemstatus.Status) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total, matched := 0, 0
	for _, it := range m.items {
		if it.TicketID != ticketID {
			continue
		}
		total++
		if it.Status == target {
			matched++
		}
	}
	return total, matched, nil
}

func (m *MemoryTicketRepository) CompareAndSwapStatus(ctx context.Context, ticketID uuid.UUID, version int64, from, to ticketstatus.Status, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[ticketID]
	if !ok || t.Version != version || t.Status != from {
		return false, nil
	}
	t.Status = to
	t.Version++
	t.UpdatedAt = at
	switch to {
	case ticketstatus.Statuses.ReadyToServe:
		t.ReadyAt = &at
	case ticketstatus.Statuses.Served:
		t.ServedAt = &at
	}
	m.tickets[ticketID] = t
	return true, nil
}

// ItemCount is the number of stored items across all tickets.
func (m *MemoryTicketRepository) ItemCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
