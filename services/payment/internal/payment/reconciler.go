package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/fulfillment/pkg"
	"github.com/appetiteclub/fulfillment/pkg/enums/orderstatus"
	"github.com/appetiteclub/fulfillment/pkg/enums/paymentmethod"
	"github.com/appetiteclub/fulfillment/pkg/enums/paymentstatus"
	"github.com/appetiteclub/fulfillment/pkg/event"
	"github.com/appetiteclub/fulfillment/pkg/lib/auth"
	"github.com/appetiteclub/fulfillment/pkg/lib/core"
	"github.com/appetiteclub/fulfillment/pkg/lib/tracing"
	"github.com/google/uuid"
)

// Reconciler raises gateway orders, checks what the gateway reports back and
// pushes the outcome into the order service. Signatures are checked locally
// before anything is read or written.
type Reconciler struct {
	repo      Repository
	gateway   Gateway
	orders    OrderClient
	signer    *auth.Signer
	publisher events.Publisher
	currency  string
	logger    apt.Logger
	now       func() time.Time
}

type ReconcilerDeps struct {
	Repo      Repository
	Gateway   Gateway
	Orders    OrderClient
	Signer    *auth.Signer
	Publisher events.Publisher
	Currency  string
}

func NewReconciler(deps ReconcilerDeps, logger apt.Logger) *Reconciler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	return &Reconciler{
		repo:      deps.Repo,
		gateway:   deps.Gateway,
		orders:    deps.Orders,
		signer:    deps.Signer,
		publisher: deps.Publisher,
		currency:  currency,
		logger:    logger.With("component", "payment.reconciler"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type IntentRequest struct {
	OrderID       string `json:"order_id"`
	PaymentMethod string `json:"payment_method,omitempty"`
}

type VerifyRequest struct {
	ProviderOrderID   string `json:"razorpay_order_id"`
	ProviderPaymentID string `json:"razorpay_payment_id"`
	Signature         string `json:"razorpay_signature"`
	PaymentMethod     string `json:"payment_method,omitempty"`
}

// CreateIntent raises a gateway order for the caller's order and records it
// as a PENDING payment. A gateway error leaves nothing behind.
func (r *Reconciler) CreateIntent(ctx context.Context, p auth.Principal, req IntentRequest) (pay *Payment, err error) {
	ctx, end := tracing.Span(ctx, "Reconciler.CreateIntent")
	defer func() { end(err); recordOperation("create_intent", err) }()

	if err := requireCaller(p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return nil, core.ErrValidationf("order_id is required")
	}
	method, err := parseMethod(req.PaymentMethod)
	if err != nil {
		return nil, err
	}

	order, err := r.orders.GetOrder(ctx, p.Token, req.OrderID)
	if err != nil {
		return nil, fmt.Errorf("cannot load order: %w", err)
	}
	if !p.OwnsOrAdmin(order.UserID) {
		return nil, fmt.Errorf("%w: order %s", core.ErrNotFound, req.OrderID)
	}
	if order.Status == orderstatus.Statuses.Cancelled {
		return nil, fmt.Errorf("%w: order %s is cancelled", core.ErrIllegalState, order.ID)
	}
	if !order.PaymentStatus.IsZero() && !order.PaymentStatus.IsUnsettled() {
		return nil, fmt.Errorf("%w: order %s payment is %s", core.ErrIllegalState, order.ID, order.PaymentStatus)
	}

	minor, err := MinorUnits(order.TotalPrice)
	if err != nil {
		return nil, err
	}

	receipt := Receipt(order.ID, r.now())
	gwOrder, err := r.gateway.CreateOrder(ctx, GatewayOrderRequest{
		AmountMinor: minor,
		Currency:    r.currency,
		Receipt:     receipt,
		Notes:       map[string]string{"order_id": order.ID, "user_id": order.UserID},
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create gateway order: %w", err)
	}

	pay = NewPayment(order, r.currency, receipt, gwOrder.ID, method)
	if err := r.repo.Create(ctx, pay); err != nil {
		return nil, fmt.Errorf("cannot record payment: %w", err)
	}

	r.logger.Info("payment intent created",
		"payment_id", pay.ID.String(), "order_id", order.ID,
		"provider_order_id", gwOrder.ID, "amount_minor", minor)
	return pay, nil
}

// VerifyPayment accepts the triple the checkout hands back to the client.
// An invalid signature is rejected before any lookup.
func (r *Reconciler) VerifyPayment(ctx context.Context, p auth.Principal, req VerifyRequest) (pay *Payment, err error) {
	ctx, end := tracing.Span(ctx, "Reconciler.VerifyPayment")
	defer func() { end(err); recordOperation("verify", err) }()

	if err := requireCaller(p); err != nil {
		return nil, err
	}
	if !r.signer.VerifyPayment(req.ProviderOrderID, req.ProviderPaymentID, req.Signature) {
		signatureRejections.WithLabelValues("verify").Inc()
		r.logger.Info("payment signature rejected", "provider_order_id", req.ProviderOrderID, "user_id", p.UserID)
		return nil, fmt.Errorf("%w: payment confirmation", core.ErrSignatureInvalid)
	}
	method, err := parseMethod(req.PaymentMethod)
	if err != nil {
		return nil, err
	}

	pay, err = r.byProviderOrder(ctx, req.ProviderOrderID)
	if err != nil {
		return nil, err
	}
	if pay == nil {
		return nil, fmt.Errorf("%w: payment for provider order %s", core.ErrNotFound, req.ProviderOrderID)
	}
	if !p.OwnsOrAdmin(pay.UserID) {
		return nil, fmt.Errorf("%w: payment for provider order %s", core.ErrNotFound, req.ProviderOrderID)
	}

	if err := r.complete(ctx, pay, p.Token, req.ProviderPaymentID, method); err != nil {
		return nil, err
	}
	return pay, nil
}

type webhookBody struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity webhookPayment `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

type webhookPayment struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Status           string `json:"status"`
	Method           string `json:"method"`
	ErrorDescription string `json:"error_description"`
}

// HandleWebhook applies an asynchronous gateway notification. Order service
// calls are made with a service token since no user is behind the request.
// Notifications for unknown gateway orders are acknowledged and dropped.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) (err error) {
	ctx, end := tracing.Span(ctx, "Reconciler.HandleWebhook")
	defer func() { end(err); recordOperation("webhook", err) }()

	if !r.signer.VerifyWebhook(payload, signature) {
		signatureRejections.WithLabelValues("webhook").Inc()
		r.logger.Info("webhook signature rejected", "bytes", len(payload))
		return fmt.Errorf("%w: webhook", core.ErrSignatureInvalid)
	}

	var body webhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return core.ErrValidationf("malformed webhook payload: %v", err)
	}
	entity := body.Payload.Payment.Entity
	if entity.OrderID == "" {
		r.logger.Debug("webhook without payment entity ignored", "event", body.Event)
		return nil
	}

	pay, err := r.byProviderOrder(ctx, entity.OrderID)
	if err != nil {
		return err
	}
	if pay == nil {
		r.logger.Info("webhook for unknown provider order ignored", "provider_order_id", entity.OrderID, "event", body.Event)
		return nil
	}

	switch strings.ToLower(entity.Status) {
	case "captured":
		method, _ := paymentmethod.ByName(entity.Method)
		return r.complete(ctx, pay, "", entity.ID, method)
	case "failed":
		return r.fail(ctx, pay, "", entity.ID, entity.ErrorDescription)
	default:
		r.logger.Debug("webhook status ignored", "provider_order_id", entity.OrderID, "status", entity.Status)
		return nil
	}
}

// GetPayment hides payments of other users behind NotFound.
func (r *Reconciler) GetPayment(ctx context.Context, p auth.Principal, id uuid.UUID) (*Payment, error) {
	if err := requireCaller(p); err != nil {
		return nil, err
	}
	pay, err := r.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("cannot load payment: %w", err)
	}
	if pay == nil || !p.OwnsOrAdmin(pay.UserID) {
		return nil, fmt.Errorf("%w: payment %s", core.ErrNotFound, id)
	}
	return pay, nil
}

// RefundForCancelledOrder returns the captured payment of an order that was
// cancelled after settlement. Orders without a captured payment are left
// alone, and an already refunded payment is not refunded twice.
func (r *Reconciler) RefundForCancelledOrder(ctx context.Context, orderID string) (err error) {
	ctx, end := tracing.Span(ctx, "Reconciler.RefundForCancelledOrder")
	defer func() { end(err); recordOperation("refund", err) }()

	payments, err := r.repo.ListByOrderID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("cannot list payments: %w", err)
	}

	var captured *Payment
	for _, pay := range payments {
		if pay.Status == paymentstatus.Statuses.Completed {
			captured = pay
			break
		}
	}
	if captured == nil {
		r.logger.Debug("no captured payment to refund", "order_id", orderID)
		return nil
	}

	minor, err := MinorUnits(captured.Amount)
	if err != nil {
		return err
	}
	refund, err := r.gateway.Refund(ctx, captured.ProviderPaymentID, minor)
	if err != nil {
		return fmt.Errorf("cannot refund payment %s: %w", captured.ID, err)
	}

	if _, err := captured.Refund(refund.ID, r.now()); err != nil {
		return err
	}
	if err := r.repo.Save(ctx, captured); err != nil {
		return fmt.Errorf("cannot save payment: %w", err)
	}

	r.logger.Info("payment refunded", "payment_id", captured.ID.String(), "order_id", orderID, "provider_refund_id", refund.ID)
	r.publish(ctx, captured, event.EventPaymentRefunded)
	return nil
}

// complete is safe to repeat. The payment is saved and announced once; the
// order service push is repeated every time so an earlier failed push heals.
func (r *Reconciler) complete(ctx context.Context, pay *Payment, token, providerPaymentID string, method paymentmethod.Method) error {
	changed, err := pay.Complete(providerPaymentID, method, r.now())
	if err != nil {
		return err
	}
	if changed {
		if err := r.repo.Save(ctx, pay); err != nil {
			return fmt.Errorf("cannot save payment: %w", err)
		}
		r.logger.Info("payment completed", "payment_id", pay.ID.String(), "order_id", pay.OrderID, "provider_payment_id", providerPaymentID)
		r.publish(ctx, pay, event.EventPaymentCompleted)
	}

	if err := r.orders.UpdatePaymentStatus(ctx, token, pay.OrderID, paymentstatus.Statuses.Completed); err != nil {
		r.logger.Error("cannot push payment status to order", "order_id", pay.OrderID, "status", "COMPLETED", "error", err)
		return fmt.Errorf("cannot update order payment status: %w", err)
	}
	return nil
}

func (r *Reconciler) fail(ctx context.Context, pay *Payment, token, providerPaymentID, reason string) error {
	changed, err := pay.Fail(providerPaymentID, reason, r.now())
	if err != nil {
		return err
	}
	if changed {
		if err := r.repo.Save(ctx, pay); err != nil {
			return fmt.Errorf("cannot save payment: %w", err)
		}
		r.logger.Info("payment failed", "payment_id", pay.ID.String(), "order_id", pay.OrderID, "reason", pay.FailureReason)
		r.publish(ctx, pay, event.EventPaymentFailed)
	}

	if err := r.orders.UpdatePaymentStatus(ctx, token, pay.OrderID, paymentstatus.Statuses.Failed); err != nil {
		r.logger.Error("cannot push payment status to order", "order_id", pay.OrderID, "status", "FAILED", "error", err)
		return fmt.Errorf("cannot update order payment status: %w", err)
	}
	return nil
}

func (r *Reconciler) byProviderOrder(ctx context.Context, providerOrderID string) (*Payment, error) {
	pay, err := r.repo.FindByProviderOrderID(ctx, providerOrderID)
	if err != nil {
		return nil, fmt.Errorf("cannot load payment: %w", err)
	}
	return pay, nil
}

func (r *Reconciler) publish(ctx context.Context, pay *Payment, eventType string) {
	if r.publisher == nil {
		return
	}

	data, err := json.Marshal(ToEvent(pay, eventType))
	if err != nil {
		r.logger.Error("cannot marshal payment event", "payment_id", pay.ID.String(), "event_type", eventType, "error", err)
		return
	}

	if err := pkg.PublishKeyed(ctx, r.publisher, event.PaymentNotificationsTopic, pay.OrderID, data); err != nil {
		publishFailures.Inc()
		r.logger.Error("cannot publish payment event", "payment_id", pay.ID.String(), "event_type", eventType, "error", err)
	}
}

func parseMethod(raw string) (paymentmethod.Method, error) {
	if strings.TrimSpace(raw) == "" {
		return paymentmethod.Method{}, nil
	}
	m, ok := paymentmethod.ByName(raw)
	if !ok {
		return paymentmethod.Method{}, core.ErrValidationf("unknown payment method %q", raw)
	}
	return m, nil
}

func requireCaller(p auth.Principal) error {
	if p.UserID == "" {
		return fmt.Errorf("%w: no authenticated caller", core.ErrUnauthorized)
	}
	return nil
}

// IsPermanent reports errors a redelivery cannot fix.
func IsPermanent(err error) bool {
	return errors.Is(err, core.ErrValidation) ||
		errors.Is(err, core.ErrSignatureInvalid) ||
		errors.Is(err, core.ErrIllegalState) ||
		errors.Is(err, core.ErrNotFound)
}
