package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/fulfillment/pkg"
	"github.com/appetiteclub/fulfillment/pkg/enums/orderstatus"
	"github.com/appetiteclub/fulfillment/pkg/enums/paymentstatus"
	"github.com/appetiteclub/fulfillment/pkg/event"
	"github.com/appetiteclub/fulfillment/pkg/lib/auth"
	"github.com/appetiteclub/fulfillment/pkg/lib/core"
	"github.com/appetiteclub/fulfillment/pkg/lib/tracing"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	maxSaveAttempts = 16
)

// Workflow owns the order store and the order/payment coupling rules.
// Every mutation persists first and then publishes; a failed publish is
// logged and never undoes the write.
type Workflow struct {
	repo      OrderRepo
	publisher events.Publisher
	logger    apt.Logger
}

func NewWorkflow(repo OrderRepo, publisher events.Publisher, logger apt.Logger) *Workflow {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Workflow{
		repo:      repo,
		publisher: publisher,
		logger:    logger.With("component", "order.workflow"),
	}
}

type PageResult struct {
	Orders     []*Order `json:"orders"`
	Page       int      `json:"page"`
	Size       int      `json:"size"`
	Total      int64    `json:"total"`
	TotalPages int64    `json:"total_pages"`
}

func (w *Workflow) CreateOrder(ctx context.Context, p auth.Principal, lines []LineInput, info DeliveryInfo) (o *Order, err error) {
	ctx, end := tracing.Span(ctx, "Workflow.CreateOrder")
	defer func() { end(err); recordOperation("create", err) }()

	if err := requireCaller(p); err != nil {
		return nil, err
	}

	o, err = NewOrder(p.UserID, p.Email, lines, info)
	if err != nil {
		return nil, err
	}

	if err := w.repo.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("cannot create order: %w", err)
	}

	w.logger.Info("order created", "order_id", o.ID.String(), "user_id", o.UserID, "total", o.TotalPrice.String())
	w.publish(ctx, o, event.EventOrderPlaced, Transition{ToStatus: o.Status, ToPayment: o.PaymentStatus})
	return o, nil
}

// ForceOrderStatus overwrites the order status with no transition guard.
// Administrators only.
func (w *Workflow) ForceOrderStatus(ctx context.Context, p auth.Principal, id uuid.UUID, status orderstatus.Status) (o *Order, err error) {
	ctx, end := tracing.Span(ctx, "Workflow.ForceOrderStatus")
	defer func() { end(err); recordOperation("force_status", err) }()

	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	if status.IsZero() {
		return nil, fmt.Errorf("%w: status is required", core.ErrValidation)
	}

	o, t, err := w.mutate(ctx, id, func(o *Order) (Transition, error) {
		return ForceTransition(o.Status, o.PaymentStatus, status), nil
	})
	if err != nil {
		return nil, err
	}

	w.logger.Info("order status forced", "order_id", id.String(), "from", t.FromStatus.Code(), "to", t.ToStatus.Code(), "by", p.UserID)
	w.publish(ctx, o, event.EventOrderStatusChanged, t)
	return o, nil
}

// UpdatePaymentStatus applies the payment coupling rules. The caller must own
// the order or be an administrator.
func (w *Workflow) UpdatePaymentStatus(ctx context.Context, p auth.Principal, id uuid.UUID, payment paymentstatus.Status) (o *Order, err error) {
	ctx, end := tracing.Span(ctx, "Workflow.UpdatePaymentStatus")
	defer func() { end(err); recordOperation("payment_status", err) }()

	if err := requireCaller(p); err != nil {
		return nil, err
	}
	if payment.IsZero() {
		return nil, fmt.Errorf("%w: payment status is required", core.ErrValidation)
	}

	o, t, err := w.mutate(ctx, id, func(o *Order) (Transition, error) {
		if !p.OwnsOrAdmin(o.UserID) {
			return Transition{}, fmt.Errorf("%w: not the owner of order %s", core.ErrForbidden, id)
		}
		return CouplePayment(o.Status, o.PaymentStatus, payment), nil
	})
	if err != nil {
		return nil, err
	}

	w.logger.Info("payment status updated",
		"order_id", id.String(),
		"payment_from", t.FromPayment.Code(), "payment_to", t.ToPayment.Code(),
		"status_from", t.FromStatus.Code(), "status_to", t.ToStatus.Code(),
	)
	w.publish(ctx, o, event.EventPaymentStatusChanged, t)
	return o, nil
}

// CancelOrder is owner-only.
func (w *Workflow) CancelOrder(ctx context.Context, p auth.Principal, id uuid.UUID) (o *Order, err error) {
	ctx, end := tracing.Span(ctx, "Workflow.CancelOrder")
	defer func() { end(err); recordOperation("cancel", err) }()

	if err := requireCaller(p); err != nil {
		return nil, err
	}

	o, t, err := w.mutate(ctx, id, func(o *Order) (Transition, error) {
		if !p.Owns(o.UserID) {
			return Transition{}, fmt.Errorf("%w: only the owner can cancel order %s", core.ErrForbidden, id)
		}
		return CancelTransition(o.Status, o.PaymentStatus)
	})
	if err != nil {
		return nil, err
	}

	w.logger.Info("order cancelled", "order_id", id.String(), "payment_to", t.ToPayment.Code())
	w.publish(ctx, o, event.EventOrderCancelled, t)
	return o, nil
}

func (w *Workflow) GetOrder(ctx context.Context, p auth.Principal, id uuid.UUID) (*Order, error) {
	if err := requireCaller(p); err != nil {
		return nil, err
	}
	o, err := w.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.OwnsOrAdmin(o.UserID) {
		// Hide existence from other users.
		return nil, fmt.Errorf("%w: order %s", core.ErrNotFound, id)
	}
	return o, nil
}

func (w *Workflow) ListOrders(ctx context.Context, p auth.Principal) ([]*Order, error) {
	if err := requireCaller(p); err != nil {
		return nil, err
	}
	return w.repo.ListByUser(ctx, p.UserID)
}

func (w *Workflow) PageOrders(ctx context.Context, p auth.Principal, page Page) (PageResult, error) {
	if err := requireCaller(p); err != nil {
		return PageResult{}, err
	}
	page = normalizePage(page)

	orders, total, err := w.repo.PageByUser(ctx, p.UserID, page)
	if err != nil {
		return PageResult{}, fmt.Errorf("cannot page orders: %w", err)
	}

	pages := total / int64(page.Size)
	if total%int64(page.Size) != 0 {
		pages++
	}
	return PageResult{Orders: orders, Page: page.Number, Size: page.Size, Total: total, TotalPages: pages}, nil
}

func (w *Workflow) ListOrdersBetween(ctx context.Context, p auth.Principal, from, to time.Time) ([]*Order, error) {
	if err := requireCaller(p); err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: end of range is before its start", core.ErrValidation)
	}
	return w.repo.ListByUserBetween(ctx, p.UserID, from, to)
}

func (w *Workflow) CountOrders(ctx context.Context, p auth.Principal, status orderstatus.Status) (int64, error) {
	if err := requireCaller(p); err != nil {
		return 0, err
	}
	return w.repo.CountByUserAndStatus(ctx, p.UserID, status)
}

// ListByStatus is the administrators' view across all users.
func (w *Workflow) ListByStatus(ctx context.Context, p auth.Principal, status orderstatus.Status) ([]*Order, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	return w.repo.ListByStatus(ctx, status)
}

func (w *Workflow) load(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := w.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("cannot load order: %w", err)
	}
	if o == nil {
		return nil, fmt.Errorf("%w: order %s", core.ErrNotFound, id)
	}
	return o, nil
}

// mutate loads the order, derives the transition from what is stored and
// saves it against the version it read. A concurrent write makes the save
// fail, and the transition is derived again from the fresh state.
func (w *Workflow) mutate(ctx context.Context, id uuid.UUID, step func(o *Order) (Transition, error)) (*Order, Transition, error) {
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		o, err := w.load(ctx, id)
		if err != nil {
			return nil, Transition{}, err
		}

		t, err := step(o)
		if err != nil {
			return nil, Transition{}, err
		}
		o.Apply(t)

		err = w.repo.Save(ctx, o)
		if errors.Is(err, ErrVersionConflict) {
			saveConflicts.Inc()
			w.logger.Debug("order changed while saving, retrying", "order_id", id.String(), "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, Transition{}, fmt.Errorf("cannot save order: %w", err)
		}
		return o, t, nil
	}

	return nil, Transition{}, fmt.Errorf("%w: order %s kept changing while saving", core.ErrIllegalState, id)
}

func (w *Workflow) publish(ctx context.Context, o *Order, eventType string, t Transition) {
	if w.publisher == nil {
		return
	}

	data, err := json.Marshal(ToEvent(o, eventType, t))
	if err != nil {
		w.logger.Error("cannot marshal order event", "order_id", o.ID.String(), "event_type", eventType, "error", err)
		return
	}

	if err := pkg.PublishKeyed(ctx, w.publisher, event.OrderEventsTopic, o.ID.String(), data); err != nil {
		publishFailures.Inc()
		w.logger.Error("cannot publish order event", "order_id", o.ID.String(), "event_type", eventType, "error", err)
	}
}

func requireCaller(p auth.Principal) error {
	if p.UserID == "" {
		return fmt.Errorf("%w: no authenticated caller", core.ErrUnauthorized)
	}
	return nil
}

func requireAdmin(p auth.Principal) error {
	if err := requireCaller(p); err != nil {
		return err
	}
	if !p.IsAdmin() {
		return fmt.Errorf("%w: admin role required", core.ErrForbidden)
	}
	return nil
}

func normalizePage(p Page) Page {
	if p.Number < 0 {
		p.Number = 0
	}
	if p.Size <= 0 {
		p.Size = defaultPageSize
	}
	if p.Size > maxPageSize {
		p.Size = maxPageSize
	}
	return p
}
