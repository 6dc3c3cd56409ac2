package payment

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrPaymentExists is returned by Create for a provider order id that is
// already recorded.
var ErrPaymentExists = errors.New("payment already exists")

// Repository persists payments. Lookups return nil, nil when nothing matches.
type Repository interface {
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id uuid.UUID) (*Payment, error)
	FindByProviderOrderID(ctx context.Context, providerOrderID string) (*Payment, error)
	ListByOrderID(ctx context.Context, orderID string) ([]*Payment, error)
	Save(ctx context.Context, p *Payment) error
}
