package kitchen

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/fulfillment/pkg/enums/itemstatus"
	"github.com/appetiteclub/fulfillment/pkg/enums/priority"
	"github.com/appetiteclub/fulfillment/pkg/enums/ticketstatus"
	"github.com/appetiteclub/fulfillment/pkg/event"
	"github.com/appetiteclub/fulfillment/pkg/lib/core"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ticket is the kitchen view of one order. OrderID is a weak reference; the
// ticket has its own id space.
type Ticket struct {
	ID                  uuid.UUID           `json:"id"`
	OrderID             string              `json:"order_id"`
	TableID             string              `json:"table_id,omitempty"`
	UserID              string              `json:"user_id"`
	UserEmail           string              `json:"user_email,omitempty"`
	Status              ticketstatus.Status `json:"status"`
	Priority            priority.Priority   `json:"priority"`
	TotalPrice          decimal.Decimal     `json:"total_price"`
	SpecialInstructions string              `json:"special_instructions,omitempty"`
	// ItemCount is the number of order lines the ticket was created for.
	// Items are stored after the ticket, so fewer may exist for a while.
	ItemCount int `json:"item_count"`
	// Version is bumped by every item status change and every ticket
	// transition.
	Version   int64      `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ReadyAt   *time.Time `json:"ready_at,omitempty"`
	ServedAt  *time.Time `json:"served_at,omitempty"`
}

type LineItem struct {
	ID              uuid.UUID         `json:"id"`
	TicketID        uuid.UUID         `json:"ticket_id"`
	MenuItemID      string            `json:"menu_item_id"`
	Name            string            `json:"name"`
	Quantity        int               `json:"quantity"`
	UnitPrice       decimal.Decimal   `json:"unit_price"`
	TotalPrice      decimal.Decimal   `json:"total_price"`
	SpecialRequests string            `json:"special_requests,omitempty"`
	Status          itemstatus.Status `json:"status"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func (t *Ticket) GetID() uuid.UUID {
	return t.ID
}

func (t *Ticket) ResourceType() string {
	return "ticket"
}

// NewTicket materializes a PENDING ticket from an order snapshot.
func NewTicket(evt event.OrderEvent) (*Ticket, error) {
	if strings.TrimSpace(evt.OrderID) == "" {
		return nil, fmt.Errorf("%w: order id is required", core.ErrValidation)
	}
	if len(evt.Lines) == 0 {
		return nil, fmt.Errorf("%w: order %s has no lines", core.ErrValidation, evt.OrderID)
	}

	now := time.Now().UTC()
	return &Ticket{
		ID:                  apt.GenerateNewID(),
		OrderID:             evt.OrderID,
		UserID:              evt.UserID,
		UserEmail:           evt.UserEmail,
		Status:              ticketstatus.Statuses.Pending,
		Priority:            priority.Priorities.Normal,
		TotalPrice:          evt.TotalPrice,
		SpecialInstructions: evt.SpecialInstructions,
		ItemCount:           len(evt.Lines),
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

// itemsReady reports whether every expected item is stored and at target.
// Counting only the stored items would let a half-applied delivery look
// complete.
func (t *Ticket) itemsReady(total, matched int) bool {
	return t.ItemCount > 0 && total == t.ItemCount && matched == total
}

// NewLineItems builds one PENDING item per order line. Item ids derive from
// the ticket id and line position so a redelivered order produces the same
// ids.
func NewLineItems(ticketID uuid.UUID, lines []event.OrderLine) []*LineItem {
	now := time.Now().UTC()
	items := make([]*LineItem, 0, len(lines))
	for i, l := range lines {
		total := l.TotalPrice
		if total.IsZero() {
			total = l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
		}
		items = append(items, &LineItem{
			ID:              ItemID(ticketID, i),
			TicketID:        ticketID,
			MenuItemID:      l.MenuItemID,
			Name:            l.MenuItemName,
			Quantity:        l.Quantity,
			UnitPrice:       l.UnitPrice,
			TotalPrice:      total,
			SpecialRequests: l.SpecialRequests,
			Status:          itemstatus.Statuses.Pending,
			UpdatedAt:       now,
		})
	}
	return items
}

func ItemID(ticketID uuid.UUID, index int) uuid.UUID {
	return uuid.NewSHA1(ticketID, []byte(strconv.Itoa(index)))
}
