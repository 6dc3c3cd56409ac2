package kitchen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/fulfillment/pkg"
	"github.com/appetiteclub/fulfillment/pkg/enums/itemstatus"
	"github.com/appetiteclub/fulfillment/pkg/enums/ticketstatus"
	"github.com/appetiteclub/fulfillment/pkg/event"
	"github.com/appetiteclub/fulfillment/pkg/lib/core"
	"github.com/appetiteclub/fulfillment/pkg/lib/tracing"
	"github.com/google/uuid"
)

const maxCASAttempts = 16

// Readiness is the outcome of a readiness check or evaluation.
type Readiness struct {
	TicketID uuid.UUID           `json:"ticket_id"`
	Target   itemstatus.Status   `json:"target"`
	Total    int                 `json:"total"`
	Matched  int                 `json:"matched"`
	Ready    bool                `json:"ready"`
	Status   ticketstatus.Status `json:"status"`
	// Transitioned is true only for the call that flipped the ticket.
	Transitioned bool `json:"transitioned"`
}

// Aggregator turns placed orders into tickets and derives the ticket status
// from its items. Concurrent callers are serialized by the ticket version,
// not by locks in this process.
type Aggregator struct {
	repo      TicketRepository
	publisher events.Publisher
	logger    apt.Logger
	now       func() time.Time
}

func NewAggregator(repo TicketRepository, publisher events.Publisher, logger apt.Logger) *Aggregator {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Aggregator{
		repo:      repo,
		publisher: publisher,
		logger:    logger.With("component", "kitchen.aggregator"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// OnOrderPlaced creates the ticket and then its items. A redelivery finds
// the existing ticket through the unique order id and re-inserts any missing
// items under the same deterministic ids.
func (a *Aggregator) OnOrderPlaced(ctx context.Context, evt event.OrderEvent) (t *Ticket, err error) {
	ctx, end := tracing.Span(ctx, "Aggregator.OnOrderPlaced")
	defer func() { end(err) }()

	t, err = NewTicket(evt)
	if err != nil {
		return nil, err
	}

	err = a.repo.CreateTicket(ctx, t)
	switch {
	case errors.Is(err, ErrTicketExists):
		existing, ferr := a.repo.FindTicketByOrderID(ctx, evt.OrderID)
		if ferr != nil {
			return nil, fmt.Errorf("cannot load existing ticket: %w", ferr)
		}
		if existing == nil {
			return nil, fmt.Errorf("ticket for order %s reported as existing but not found", evt.OrderID)
		}
		duplicateOrders.Inc()
		a.logger.Info("order already has a ticket", "order_id", evt.OrderID, "ticket_id", existing.ID.String())
		t = existing
	case err != nil:
		return nil, fmt.Errorf("cannot create ticket: %w", err)
	default:
		ticketsCreated.Inc()
	}

	if err := a.repo.CreateItems(ctx, NewLineItems(t.ID, evt.Lines)); err != nil {
		return nil, fmt.Errorf("cannot create ticket items: %w", err)
	}

	a.logger.Info("ticket materialized", "order_id", evt.OrderID, "ticket_id", t.ID.String(), "items", len(evt.Lines))
	return t, nil
}

func (a *Aggregator) GetTicket(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	return a.load(ctx, id)
}

func (a *Aggregator) ListTickets(ctx context.Context, filter TicketFilter) ([]*Ticket, error) {
	tickets, err := a.repo.ListTickets(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("cannot list tickets: %w", err)
	}
	return tickets, nil
}

func (a *Aggregator) ListItems(ctx context.Context, ticketID uuid.UUID) ([]*LineItem, error) {
	if _, err := a.load(ctx, ticketID); err != nil {
		return nil, err
	}
	items, err := a.repo.ListItems(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("cannot list items: %w", err)
	}
	return items, nil
}

// UpdateItemStatus is a single-row overwrite; any status may follow any
// other. It does not evaluate readiness.
func (a *Aggregator) UpdateItemStatus(ctx context.Context, ticketID, itemID uuid.UUID, status itemstatus.Status) (item *LineItem, err error) {
	ctx, end := tracing.Span(ctx, "Aggregator.UpdateItemStatus")
	defer func() { end(err) }()

	if status.IsZero() {
		return nil, fmt.Errorf("%w: item status is required", core.ErrValidation)
	}

	ok, err := a.repo.UpdateItemStatus(ctx, ticketID, itemID, status, a.now())
	if err != nil {
		return nil, fmt.Errorf("cannot update item: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: item %s on ticket %s", core.ErrNotFound, itemID, ticketID)
	}

	item, err = a.repo.FindItem(ctx, ticketID, itemID)
	if err != nil {
		return nil, fmt.Errorf("cannot reload item: %w", err)
	}
	if item == nil {
		return nil, fmt.Errorf("%w: item %s on ticket %s", core.ErrNotFound, itemID, ticketID)
	}

	a.logger.Debug("item status updated", "ticket_id", ticketID.String(), "item_id", itemID.String(), "status", status.Code())
	return item, nil
}

// CheckReadiness reports whether every item is at target without changing
// anything.
func (a *Aggregator) CheckReadiness(ctx context.Context, ticketID uuid.UUID, target itemstatus.Status) (Readiness, error) {
	t, err := a.load(ctx, ticketID)
	if err != nil {
		return Readiness{}, err
	}
	target = defaultTarget(target)

	total, matched, err := a.repo.CountItems(ctx, ticketID, target)
	if err != nil {
		return Readiness{}, fmt.Errorf("cannot count items: %w", err)
	}

	return Readiness{
		TicketID: ticketID,
		Target:   target,
		Total:    total,
		Matched:  matched,
		Ready:    t.itemsReady(total, matched),
		Status:   t.Status,
	}, nil
}

// EvaluateTicketReadiness flips PENDING to READY_TO_SERVE when every item is
// at target. The flip is guarded by the ticket version read before counting,
// so an item change in between forces a re-read. Exactly one caller observes
// Transitioned for a given ticket.
func (a *Aggregator) EvaluateTicketReadiness(ctx context.Context, ticketID uuid.UUID, target itemstatus.Status) (r Readiness, err error) {
	ctx, end := tracing.Span(ctx, "Aggregator.EvaluateTicketReadiness")
	defer func() { end(err) }()

	target = defaultTarget(target)

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		t, err := a.load(ctx, ticketID)
		if err != nil {
			return Readiness{}, err
		}

		r = Readiness{TicketID: ticketID, Target: target, Status: t.Status}
		if t.Status != ticketstatus.Statuses.Pending {
			r.Ready = true
			return r, nil
		}

		r.Total, r.Matched, err = a.repo.CountItems(ctx, ticketID, target)
		if err != nil {
			return Readiness{}, fmt.Errorf("cannot count items: %w", err)
		}
		if !t.itemsReady(r.Total, r.Matched) {
			return r, nil
		}

		swapped, err := a.repo.CompareAndSwapStatus(ctx, ticketID, t.Version, ticketstatus.Statuses.Pending, ticketstatus.Statuses.ReadyToServe, a.now())
		if err != nil {
			return Readiness{}, fmt.Errorf("cannot update ticket: %w", err)
		}
		if swapped {
			r.Ready = true
			r.Transitioned = true
			r.Status = ticketstatus.Statuses.ReadyToServe
			ticketTransitions.WithLabelValues(r.Status.Code()).Inc()
			a.logger.Info("ticket ready to serve", "ticket_id", ticketID.String(), "order_id", t.OrderID, "attempt", attempt+1)
			a.notify(ctx, ticketID, event.EventTicketReady)
			return r, nil
		}

		casConflicts.Inc()
	}

	return Readiness{}, fmt.Errorf("%w: ticket %s kept changing during readiness evaluation", core.ErrIllegalState, ticketID)
}

// CompleteTicket moves READY_TO_SERVE to SERVED. SERVED is a no-op and
// PENDING is rejected.
func (a *Aggregator) CompleteTicket(ctx context.Context, ticketID uuid.UUID) (t *Ticket, err error) {
	ctx, end := tracing.Span(ctx, "Aggregator.CompleteTicket")
	defer func() { end(err) }()

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		t, err = a.load(ctx, ticketID)
		if err != nil {
			return nil, err
		}

		switch t.Status {
		case ticketstatus.Statuses.Served:
			return t, nil
		case ticketstatus.Statuses.Pending:
			return nil, fmt.Errorf("%w: ticket %s is not ready to serve", core.ErrIllegalState, ticketID)
		}

		swapped, err := a.repo.CompareAndSwapStatus(ctx, ticketID, t.Version, ticketstatus.Statuses.ReadyToServe, ticketstatus.Statuses.Served, a.now())
		if err != nil {
			return nil, fmt.Errorf("cannot update ticket: %w", err)
		}
		if swapped {
			ticketTransitions.WithLabelValues(ticketstatus.Statuses.Served.Code()).Inc()
			a.logger.Info("ticket served", "ticket_id", ticketID.String(), "order_id", t.OrderID)
			a.notify(ctx, ticketID, event.EventTicketServed)
			return a.load(ctx, ticketID)
		}

		casConflicts.Inc()
	}

	return nil, fmt.Errorf("%w: ticket %s kept changing while completing", core.ErrIllegalState, ticketID)
}

func (a *Aggregator) load(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	t, err := a.repo.FindTicket(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("cannot load ticket: %w", err)
	}
	if t == nil {
		return nil, fmt.Errorf("%w: ticket %s", core.ErrNotFound, id)
	}
	return t, nil
}

// notify re-reads the ticket and its items so the snapshot reflects what was
// committed. Failures are logged only.
func (a *Aggregator) notify(ctx context.Context, ticketID uuid.UUID, eventType string) {
	if a.publisher == nil {
		return
	}

	t, err := a.repo.FindTicket(ctx, ticketID)
	if err != nil || t == nil {
		a.logger.Error("cannot reload ticket for notification", "ticket_id", ticketID.String(), "error", err)
		return
	}
	items, err := a.repo.ListItems(ctx, ticketID)
	if err != nil {
		a.logger.Error("cannot reload items for notification", "ticket_id", ticketID.String(), "error", err)
		return
	}

	data, err := json.Marshal(ToNotification(t, items, eventType))
	if err != nil {
		a.logger.Error("cannot marshal ticket notification", "ticket_id", ticketID.String(), "error", err)
		return
	}

	if err := pkg.PublishKeyed(ctx, a.publisher, event.KitchenNotificationsTopic, t.OrderID, data); err != nil {
		publishFailures.Inc()
		a.logger.Error("cannot publish ticket notification", "ticket_id", ticketID.String(), "event_type", eventType, "error", err)
	}
}

func defaultTarget(target itemstatus.Status) itemstatus.Status {
	if target.IsZero() {
		return itemstatus.Statuses.Ready
	}
	return target
}
