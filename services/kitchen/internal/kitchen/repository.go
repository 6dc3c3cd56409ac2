package kitchen

import (
	"context"
	"errors"
	"time"

	"github.com/appetiteclub/fulfillment/pkg/enums/itemstatus"
	"github.com/appetiteclub/fulfillment/pkg/enums/ticketstatus"
	"github.com/google/uuid"
)

// ErrTicketExists is returned by CreateTicket when the order already has a
// ticket.
var ErrTicketExists = errors.New("ticket already exists for order")

type TicketFilter struct {
	Status *ticketstatus.Status
	Limit  int
	Offset int
}

// TicketRepository stores tickets and their items. Finders return nil, nil
// when nothing matches.
type TicketRepository interface {
	CreateTicket(ctx context.Context, t *Ticket) error
	FindTicket(ctx context.Context, id uuid.UUID) (*Ticket, error)
	FindTicketByOrderID(ctx context.Context, orderID string) (*Ticket, error)
	ListTickets(ctx context.Context, filter TicketFilter) ([]*Ticket, error)

	// CreateItems skips items whose id is already stored.
	CreateItems(ctx context.Context, items []*LineItem) error
	FindItem(ctx context.Context, ticketID, itemID uuid.UUID) (*LineItem, error)
	ListItems(ctx context.Context, ticketID uuid.UUID) ([]*LineItem, error)

	// UpdateItemStatus overwrites one item and then bumps the ticket version.
	// Reports false when the item does not exist.
	UpdateItemStatus(ctx context.Context, ticketID, itemID uuid.UUID, status itemstatus.Status, at time.Time) (bool, error)

	// CountItems is a single aggregate read of (all items, items at target).
	CountItems(ctx context.Context, ticketID uuid.UUID, target itemstatus.Status) (total, matched int, err error)

	// CompareAndSwapStatus moves the ticket from (from, version) to to and
	// bumps the version. Reports false when the guard did not match.
	CompareAndSwapStatus(ctx context.Context, ticketID uuid.UUID, version int64, from, to ticketstatus.Status, at time.Time) (bool, error)
}
