package order

import (
	"context"
	"errors"
	"time"

	"github.com/appetiteclub/fulfillment/pkg/enums/orderstatus"
	"github.com/google/uuid"
)

// Page is a zero-based page request.
type Page struct {
	Number int
	Size   int
}

// ErrVersionConflict is returned by Save when the stored order changed since
// it was read.
var ErrVersionConflict = errors.New("order was modified concurrently")

// OrderRepo persists orders with their embedded lines. Get returns nil, nil
// when the order does not exist. Save writes only if the stored version still
// equals order.Version and then bumps order.Version.
type OrderRepo interface {
	Create(ctx context.Context, order *Order) error
	Get(ctx context.Context, id uuid.UUID) (*Order, error)
	Save(ctx context.Context, order *Order) error
	ListByUser(ctx context.Context, userID string) ([]*Order, error)
	PageByUser(ctx context.Context, userID string, page Page) ([]*Order, int64, error)
	ListByUserBetween(ctx context.Context, userID string, from, to time.Time) ([]*Order, error)
	CountByUserAndStatus(ctx context.Context, userID string, status orderstatus.Status) (int64, error)
	ListByStatus(ctx context.Context, status orderstatus.Status) ([]*Order, error)
}
