package payment

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/appetiteclub/fulfillment/pkg/lib/core"
	"github.com/google/uuid"
)

// MemoryRepository keeps payments in process. Values are copied in and out
// so callers never share state with the store.
type MemoryRepository struct {
	mu       sync.Mutex
	payments map[uuid.UUID]Payment
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{payments: map[uuid.UUID]Payment{}}
}

func (r *MemoryRepository) Create(_ context.Context, p *Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.payments[p.ID]; ok {
		return fmt.Errorf("%w: %s", ErrPaymentExists, p.ID)
	}
	for _, existing := range r.payments {
		if existing.ProviderOrderID == p.ProviderOrderID {
			return fmt.Errorf("%w: provider order %s", ErrPaymentExists, p.ProviderOrderID)
		}
	}
	r.payments[p.ID] = *p
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payments[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *MemoryRepository) FindByProviderOrderID(_ context.Context, providerOrderID string) (*Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.payments {
		if p.ProviderOrderID == providerOrderID {
			found := p
			return &found, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) ListByOrderID(_ context.Context, orderID string) ([]*Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Payment
	for _, p := range r.payments {
		if p.OrderID == orderID {
			found := p
			out = append(out, &found)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) Save(_ context.Context, p *Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.payments[p.ID]; !ok {
		return fmt.Errorf("%w: payment %s", core.ErrNotFound, p.ID)
	}
	r.payments[p.ID] = *p
	return nil
}
