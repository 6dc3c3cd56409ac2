package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/appetiteclub/fulfillment/pkg/enums/orderstatus"
	"github.com/appetiteclub/fulfillment/pkg/enums/paymentmethod"
	"github.com/appetiteclub/fulfillment/pkg/enums/paymentstatus"
	"github.com/appetiteclub/fulfillment/pkg/event"
	"github.com/appetiteclub/fulfillment/pkg/lib/auth"
	"github.com/appetiteclub/fulfillment/pkg/lib/core"
	"github.com/shopspring/decimal"
)

var (
	diner    = auth.Principal{UserID: "user-1", Email: "diner@example.com", Role: "ROLE_USER", Token: "diner-token"}
	stranger = auth.Principal{UserID: "user-2", Role: "ROLE_USER", Token: "stranger-token"}
	admin    = auth.Principal{UserID: "admin-1", Role: "ROLE_ADMIN", Token: "admin-token"}
)

type reconcilerFixture struct {
	rec     *Reconciler
	repo    *MemoryRepository
	gateway *MockGateway
	orders  *MockOrderClient
	pub     *MockPublisher
	signer  *auth.Signer
}

func pendingOrder() *OrderSummary {
	return &OrderSummary{
		ID:            "o-1",
		UserID:        diner.UserID,
		UserEmail:     diner.Email,
		TotalPrice:    decimal.RequireFromString("50.97"),
		Status:        orderstatus.Statuses.Pending,
		PaymentStatus: paymentstatus.Statuses.Pending,
	}
}

func newFixture(orders ...*OrderSummary) *reconcilerFixture {
	if len(orders) == 0 {
		orders = []*OrderSummary{pendingOrder()}
	}
	f := &reconcilerFixture{
		repo:    NewMemoryRepository(),
		gateway: &MockGateway{},
		orders:  NewMockOrderClient(orders...),
		pub:     &MockPublisher{},
		signer:  auth.NewSigner(testKeySecret, testWebhookSecret),
	}
	f.rec = NewReconciler(ReconcilerDeps{
		Repo:      f.repo,
		Gateway:   f.gateway,
		Orders:    f.orders,
		Signer:    f.signer,
		Publisher: f.pub,
	}, nil)
	return f
}

func (f *reconcilerFixture) intent(t *testing.T) *Payment {
	t.Helper()
	pay, err := f.rec.CreateIntent(context.Background(), diner, IntentRequest{OrderID: "o-1"})
	if err != nil {
		t.Fatalf("CreateIntent() error = %v", err)
	}
	return pay
}

func (f *reconcilerFixture) webhook(status, providerOrderID, providerPaymentID string) []byte {
	body := map[string]interface{}{
		"event": "payment." + status,
		"payload": map[string]interface{}{
			"payment": map[string]interface{}{
				"entity": map[string]interface{}{
					"id":                providerPaymentID,
					"order_id":          providerOrderID,
					"status":            status,
					"method":            "upi",
					"error_description": "bank declined",
				},
			},
		},
	}
	data, _ := json.Marshal(body)
	return data
}

func TestCreateIntent(t *testing.T) {
	f := newFixture()

	pay := f.intent(t)

	if pay.Status != paymentstatus.Statuses.Pending || pay.Currency != "INR" || pay.ProviderOrderID != "order_gw1" {
		t.Errorf("payment = %+v", pay)
	}
	if !pay.Amount.Equal(decimal.RequireFromString("50.97")) {
		t.Errorf("amount = %s", pay.Amount)
	}
	reqs := f.gateway.Orders()
	if len(reqs) != 1 || reqs[0].AmountMinor != 5097 || reqs[0].Receipt != pay.Receipt {
		t.Errorf("gateway requests = %+v", reqs)
	}
	if stored, _ := f.repo.FindByProviderOrderID(context.Background(), "order_gw1"); stored == nil {
		t.Error("payment was not recorded")
	}
}

func TestCreateIntentRejects(t *testing.T) {
	paid := pendingOrder()
	paid.ID = "o-paid"
	paid.PaymentStatus = paymentstatus.Statuses.Completed

	cancelled := pendingOrder()
	cancelled.ID = "o-cancelled"
	cancelled.Status = orderstatus.Statuses.Cancelled

	tests := []struct {
		name   string
		caller auth.Principal
		req    IntentRequest
		want   error
	}{
		{"anonymous", auth.Principal{}, IntentRequest{OrderID: "o-1"}, core.ErrUnauthorized},
		{"missingOrder", diner, IntentRequest{}, core.ErrValidation},
		{"unknownMethod", diner, IntentRequest{OrderID: "o-1", PaymentMethod: "barter"}, core.ErrValidation},
		{"unknownOrder", diner, IntentRequest{OrderID: "o-404"}, core.ErrNotFound},
		{"otherUsersOrder", stranger, IntentRequest{OrderID: "o-1"}, core.ErrNotFound},
		{"alreadyPaid", diner, IntentRequest{OrderID: "o-paid"}, core.ErrIllegalState},
		{"cancelledOrder", diner, IntentRequest{OrderID: "o-cancelled"}, core.ErrIllegalState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(pendingOrder(), paid, cancelled)

			_, err := f.rec.CreateIntent(context.Background(), tt.caller, tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			if len(f.gateway.Orders()) != 0 {
				t.Error("gateway should not be called")
			}
		})
	}
}

func TestCreateIntentGatewayFailureLeavesNothing(t *testing.T) {
	f := newFixture()
	f.gateway.CreateOrderFunc = func(context.Context, GatewayOrderRequest) (GatewayOrder, error) {
		return GatewayOrder{}, fmt.Errorf("%w: timeout", core.ErrTransientGateway)
	}

	_, err := f.rec.CreateIntent(context.Background(), diner, IntentRequest{OrderID: "o-1"})
	if !core.Retryable(err) {
		t.Fatalf("error = %v, want retryable", err)
	}
	if payments, _ := f.repo.ListByOrderID(context.Background(), "o-1"); len(payments) != 0 {
		t.Errorf("recorded %d payments, want 0", len(payments))
	}
}

func TestVerifyPayment(t *testing.T) {
	f := newFixture()
	pay := f.intent(t)

	req := VerifyRequest{
		ProviderOrderID:   pay.ProviderOrderID,
		ProviderPaymentID: "pay_1",
		Signature:         f.signer.SignPayment(pay.ProviderOrderID, "pay_1"),
		PaymentMethod:     "card",
	}
	got, err := f.rec.VerifyPayment(context.Background(), diner, req)
	if err != nil {
		t.Fatalf("VerifyPayment() error = %v", err)
	}
	if got.Status != paymentstatus.Statuses.Completed || got.Method != paymentmethod.Methods.Card {
		t.Errorf("payment = %+v", got)
	}

	pushes := f.orders.Pushes()
	if len(pushes) != 1 || pushes[0].status != paymentstatus.Statuses.Completed || pushes[0].token != diner.Token {
		t.Errorf("pushes = %+v, want one COMPLETED push with the caller token", pushes)
	}

	evts := f.pub.Events()
	if len(evts) != 1 || evts[0].EventType != event.EventPaymentCompleted {
		t.Fatalf("events = %+v, want one PAYMENT_COMPLETED", evts)
	}
	if evts[0].OrderID != "o-1" || evts[0].ProviderPaymentID != "pay_1" || evts[0].Amount.String() != "50.97" {
		t.Errorf("event = %+v", evts[0])
	}
	if f.pub.Keys()[0] != "o-1" {
		t.Errorf("event key = %q, want order id", f.pub.Keys()[0])
	}

	// A retried confirmation re-pushes but does not announce twice.
	if _, err := f.rec.VerifyPayment(context.Background(), diner, req); err != nil {
		t.Fatalf("repeat VerifyPayment() error = %v", err)
	}
	if n := len(f.orders.Pushes()); n != 2 {
		t.Errorf("pushes = %d, want 2", n)
	}
	if n := len(f.pub.Events()); n != 1 {
		t.Errorf("events = %d, want 1", n)
	}
}

func TestVerifyPaymentBadSignatureChangesNothing(t *testing.T) {
	f := newFixture()
	pay := f.intent(t)

	sig := f.signer.SignPayment(pay.ProviderOrderID, "pay_1")
	_, err := f.rec.VerifyPayment(context.Background(), diner, VerifyRequest{
		ProviderOrderID:   pay.ProviderOrderID,
		ProviderPaymentID: "pay_2",
		Signature:         sig,
	})
	if !errors.Is(err, core.ErrSignatureInvalid) {
		t.Fatalf("error = %v, want ErrSignatureInvalid", err)
	}

	stored, _ := f.repo.Get(context.Background(), pay.ID)
	if stored.Status != paymentstatus.Statuses.Pending {
		t.Errorf("status = %s, want PENDING", stored.Status)
	}
	if len(f.orders.Pushes()) != 0 || len(f.pub.Events()) != 0 {
		t.Error("a rejected signature must not reach the order service or the bus")
	}
}

func TestVerifyPaymentRejects(t *testing.T) {
	f := newFixture()
	pay := f.intent(t)
	sign := f.signer.SignPayment

	tests := []struct {
		name   string
		caller auth.Principal
		req    VerifyRequest
		want   error
	}{
		{"anonymous", auth.Principal{}, VerifyRequest{ProviderOrderID: pay.ProviderOrderID, ProviderPaymentID: "p", Signature: sign(pay.ProviderOrderID, "p")}, core.ErrUnauthorized},
		{"unknownProviderOrder", diner, VerifyRequest{ProviderOrderID: "order_x", ProviderPaymentID: "p", Signature: sign("order_x", "p")}, core.ErrNotFound},
		{"otherUser", stranger, VerifyRequest{ProviderOrderID: pay.ProviderOrderID, ProviderPaymentID: "p", Signature: sign(pay.ProviderOrderID, "p")}, core.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.rec.VerifyPayment(context.Background(), tt.caller, tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestVerifyPaymentOrderServiceDown(t *testing.T) {
	f := newFixture()
	pay := f.intent(t)
	down := true
	f.orders.UpdatePaymentStatusFunc = func(context.Context, string, string, paymentstatus.Status) error {
		if down {
			return fmt.Errorf("%w: order service", core.ErrTransientGateway)
		}
		return nil
	}
	req := VerifyRequest{
		ProviderOrderID:   pay.ProviderOrderID,
		ProviderPaymentID: "pay_1",
		Signature:         f.signer.SignPayment(pay.ProviderOrderID, "pay_1"),
	}

	if _, err := f.rec.VerifyPayment(context.Background(), diner, req); !core.Retryable(err) {
		t.Fatalf("error = %v, want retryable", err)
	}
	stored, _ := f.repo.Get(context.Background(), pay.ID)
	if stored.Status != paymentstatus.Statuses.Completed {
		t.Errorf("status = %s, want COMPLETED", stored.Status)
	}

	down = false
	if _, err := f.rec.VerifyPayment(context.Background(), diner, req); err != nil {
		t.Fatalf("retry error = %v", err)
	}
	if len(f.orders.Pushes()) != 1 {
		t.Errorf("pushes = %d, want 1", len(f.orders.Pushes()))
	}
	if len(f.pub.Events()) != 1 {
		t.Errorf("events = %d, want 1", len(f.pub.Events()))
	}
}

func TestHandleWebhook(t *testing.T) {
	tests := []struct {
		name       string
		status     string
		wantStatus paymentstatus.Status
		wantPush   paymentstatus.Status
		wantEvent  string
	}{
		{"captured", "captured", paymentstatus.Statuses.Completed, paymentstatus.Statuses.Completed, event.EventPaymentCompleted},
		{"failed", "failed", paymentstatus.Statuses.Failed, paymentstatus.Statuses.Failed, event.EventPaymentFailed},
		{"authorizedIgnored", "authorized", paymentstatus.Statuses.Pending, paymentstatus.Status{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			pay := f.intent(t)
			payload := f.webhook(tt.status, pay.ProviderOrderID, "pay_9")

			if err := f.rec.HandleWebhook(context.Background(), payload, f.signer.SignWebhook(payload)); err != nil {
				t.Fatalf("HandleWebhook() error = %v", err)
			}

			stored, _ := f.repo.Get(context.Background(), pay.ID)
			if stored.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", stored.Status, tt.wantStatus)
			}

			pushes := f.orders.Pushes()
			if tt.wantPush.IsZero() {
				if len(pushes) != 0 {
					t.Errorf("pushes = %+v, want none", pushes)
				}
				return
			}
			if len(pushes) != 1 || pushes[0].status != tt.wantPush || pushes[0].token != "" {
				t.Errorf("pushes = %+v, want one %s push on the service's behalf", pushes, tt.wantPush)
			}

			evts := f.pub.Events()
			if len(evts) != 1 || evts[0].EventType != tt.wantEvent {
				t.Fatalf("events = %+v, want one %s", evts, tt.wantEvent)
			}
			if tt.wantEvent == event.EventPaymentFailed && evts[0].FailureReason != "bank declined" {
				t.Errorf("failure reason = %q", evts[0].FailureReason)
			}
		})
	}
}

func TestHandleWebhookRejects(t *testing.T) {
	f := newFixture()
	pay := f.intent(t)
	payload := f.webhook("captured", pay.ProviderOrderID, "pay_9")

	if err := f.rec.HandleWebhook(context.Background(), payload, f.signer.SignPayment(pay.ProviderOrderID, "pay_9")); !errors.Is(err, core.ErrSignatureInvalid) {
		t.Errorf("error = %v, want ErrSignatureInvalid", err)
	}
	if err := f.rec.HandleWebhook(context.Background(), payload, ""); !errors.Is(err, core.ErrSignatureInvalid) {
		t.Errorf("unsigned error = %v, want ErrSignatureInvalid", err)
	}
	if err := f.rec.HandleWebhook(context.Background(), payload, strings.ToUpper(f.signer.SignWebhook(payload))); !errors.Is(err, core.ErrSignatureInvalid) {
		t.Errorf("uppercase error = %v, want ErrSignatureInvalid", err)
	}

	garbage := []byte("not json")
	if err := f.rec.HandleWebhook(context.Background(), garbage, f.signer.SignWebhook(garbage)); !errors.Is(err, core.ErrValidation) {
		t.Errorf("malformed error = %v, want ErrValidation", err)
	}

	stored, _ := f.repo.Get(context.Background(), pay.ID)
	if stored.Status != paymentstatus.Statuses.Pending || len(f.orders.Pushes()) != 0 {
		t.Error("rejected webhooks must not change anything")
	}
}

func TestHandleWebhookUnknownOrderIsIgnored(t *testing.T) {
	f := newFixture()
	payload := f.webhook("captured", "order_unknown", "pay_9")

	if err := f.rec.HandleWebhook(context.Background(), payload, f.signer.SignWebhook(payload)); err != nil {
		t.Errorf("HandleWebhook() error = %v, want nil", err)
	}
	if len(f.orders.Pushes()) != 0 {
		t.Error("nothing should be pushed")
	}
}

func TestGetPayment(t *testing.T) {
	f := newFixture()
	pay := f.intent(t)

	tests := []struct {
		name   string
		caller auth.Principal
		want   error
	}{
		{"owner", diner, nil},
		{"admin", admin, nil},
		{"stranger", stranger, core.ErrNotFound},
		{"anonymous", auth.Principal{}, core.ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.rec.GetPayment(context.Background(), tt.caller, pay.ID)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRefundForCancelledOrder(t *testing.T) {
	f := newFixture()
	pay := f.intent(t)
	payload := f.webhook("captured", pay.ProviderOrderID, "pay_9")
	if err := f.rec.HandleWebhook(context.Background(), payload, f.signer.SignWebhook(payload)); err != nil {
		t.Fatalf("HandleWebhook() error = %v", err)
	}

	if err := f.rec.RefundForCancelledOrder(context.Background(), "o-1"); err != nil {
		t.Fatalf("RefundForCancelledOrder() error = %v", err)
	}

	refunds := f.gateway.Refunds()
	if len(refunds) != 1 || refunds[0].PaymentID != "pay_9" || refunds[0].AmountMinor != 5097 {
		t.Fatalf("refunds = %+v", refunds)
	}
	stored, _ := f.repo.Get(context.Background(), pay.ID)
	if stored.Status != paymentstatus.Statuses.Refunded || stored.ProviderRefundID != "rfnd_1" {
		t.Errorf("payment = %+v", stored)
	}
	evts := f.pub.Events()
	if last := evts[len(evts)-1]; last.EventType != event.EventPaymentRefunded {
		t.Errorf("last event = %s, want PAYMENT_REFUNDED", last.EventType)
	}

	// Redelivery of the cancellation does not refund twice.
	if err := f.rec.RefundForCancelledOrder(context.Background(), "o-1"); err != nil {
		t.Fatalf("repeat error = %v", err)
	}
	if len(f.gateway.Refunds()) != 1 {
		t.Errorf("refunds = %d, want 1", len(f.gateway.Refunds()))
	}
}

func TestRefundWithoutCapturedPayment(t *testing.T) {
	f := newFixture()
	f.intent(t)

	if err := f.rec.RefundForCancelledOrder(context.Background(), "o-1"); err != nil {
		t.Fatalf("error = %v", err)
	}
	if len(f.gateway.Refunds()) != 0 {
		t.Error("a pending payment must not be refunded")
	}
}

func TestRefundGatewayFailureKeepsPayment(t *testing.T) {
	f := newFixture()
	pay := f.intent(t)
	payload := f.webhook("captured", pay.ProviderOrderID, "pay_9")
	_ = f.rec.HandleWebhook(context.Background(), payload, f.signer.SignWebhook(payload))
	f.gateway.RefundFunc = func(context.Context, string, int64) (GatewayRefund, error) {
		return GatewayRefund{}, fmt.Errorf("%w: 503", core.ErrTransientGateway)
	}

	if err := f.rec.RefundForCancelledOrder(context.Background(), "o-1"); !core.Retryable(err) {
		t.Fatalf("error = %v, want retryable", err)
	}
	stored, _ := f.repo.Get(context.Background(), pay.ID)
	if stored.Status != paymentstatus.Statuses.Completed {
		t.Errorf("status = %s, want COMPLETED", stored.Status)
	}
}

func TestPublishFailureKeepsPayment(t *testing.T) {
	f := newFixture()
	f.pub.PublishFunc = func(context.Context, string, []byte) error { return errors.New("bus down") }
	pay := f.intent(t)

	req := VerifyRequest{
		ProviderOrderID:   pay.ProviderOrderID,
		ProviderPaymentID: "pay_1",
		Signature:         f.signer.SignPayment(pay.ProviderOrderID, "pay_1"),
	}
	if _, err := f.rec.VerifyPayment(context.Background(), diner, req); err != nil {
		t.Fatalf("VerifyPayment() error = %v", err)
	}
	stored, _ := f.repo.Get(context.Background(), pay.ID)
	if stored.Status != paymentstatus.Statuses.Completed {
		t.Errorf("status = %s, want COMPLETED", stored.Status)
	}
}
