package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/fulfillment/pkg/enums/paymentmethod"
	"github.com/appetiteclub/fulfillment/pkg/enums/paymentstatus"
	"github.com/appetiteclub/fulfillment/pkg/lib/core"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const DefaultCurrency = "INR"

var minorPerMajor = decimal.NewFromInt(100)

// Payment is one gateway order raised for an order, and what became of it.
type Payment struct {
	ID                uuid.UUID            `json:"id"`
	OrderID           string               `json:"order_id"`
	UserID            string               `json:"user_id"`
	UserEmail         string               `json:"user_email,omitempty"`
	Amount            decimal.Decimal      `json:"amount"`
	Currency          string               `json:"currency"`
	Status            paymentstatus.Status `json:"status"`
	Method            paymentmethod.Method `json:"payment_method,omitempty"`
	Receipt           string               `json:"receipt"`
	ProviderOrderID   string               `json:"provider_order_id"`
	ProviderPaymentID string               `json:"provider_payment_id,omitempty"`
	FailureReason     string               `json:"failure_reason,omitempty"`
	RefundAmount      decimal.Decimal      `json:"refund_amount"`
	ProviderRefundID  string               `json:"provider_refund_id,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
	CompletedAt       *time.Time           `json:"completed_at,omitempty"`
}

func (p *Payment) GetID() uuid.UUID {
	return p.ID
}

func (p *Payment) ResourceType() string {
	return "payment"
}

// NewPayment records a PENDING payment for a gateway order already created.
func NewPayment(o *OrderSummary, currency, receipt, providerOrderID string, method paymentmethod.Method) *Payment {
	now := time.Now().UTC()
	return &Payment{
		ID:              apt.GenerateNewID(),
		OrderID:         o.ID,
		UserID:          o.UserID,
		UserEmail:       o.UserEmail,
		Amount:          o.TotalPrice,
		Currency:        currency,
		Status:          paymentstatus.Statuses.Pending,
		Method:          method,
		Receipt:         receipt,
		ProviderOrderID: providerOrderID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Complete marks the payment captured. Reports false when it already was
// captured under the same provider payment id.
func (p *Payment) Complete(providerPaymentID string, method paymentmethod.Method, at time.Time) (bool, error) {
	switch {
	case p.Status == paymentstatus.Statuses.Completed && p.ProviderPaymentID == providerPaymentID:
		return false, nil
	case !p.Status.IsUnsettled():
		return false, fmt.Errorf("%w: payment %s is %s", core.ErrIllegalState, p.ID, p.Status)
	}

	p.Status = paymentstatus.Statuses.Completed
	p.ProviderPaymentID = providerPaymentID
	if !method.IsZero() {
		p.Method = method
	}
	p.FailureReason = ""
	p.UpdatedAt = at
	p.CompletedAt = &at
	return true, nil
}

// Fail marks an unsettled payment failed. A failure reported after capture
// is rejected.
func (p *Payment) Fail(providerPaymentID, reason string, at time.Time) (bool, error) {
	switch {
	case p.Status == paymentstatus.Statuses.Failed:
		return false, nil
	case !p.Status.IsUnsettled():
		return false, fmt.Errorf("%w: payment %s is %s", core.ErrIllegalState, p.ID, p.Status)
	}

	p.Status = paymentstatus.Statuses.Failed
	if providerPaymentID != "" {
		p.ProviderPaymentID = providerPaymentID
	}
	p.FailureReason = strings.TrimSpace(reason)
	p.UpdatedAt = at
	return true, nil
}

// Refund records a full refund of a captured payment.
func (p *Payment) Refund(providerRefundID string, at time.Time) (bool, error) {
	switch p.Status {
	case paymentstatus.Statuses.Refunded:
		return false, nil
	case paymentstatus.Statuses.Completed:
	default:
		return false, fmt.Errorf("%w: payment %s is %s", core.ErrIllegalState, p.ID, p.Status)
	}

	p.Status = paymentstatus.Statuses.Refunded
	p.RefundAmount = p.Amount
	p.ProviderRefundID = providerRefundID
	p.UpdatedAt = at
	return true, nil
}

// MinorUnits converts an amount to the gateway's integer minor units. Amounts
// with sub-minor precision are rejected rather than rounded.
func MinorUnits(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, core.ErrValidationf("amount must be positive, got %s", amount)
	}
	minor := amount.Mul(minorPerMajor)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, core.ErrValidationf("amount %s has more than two decimals", amount)
	}
	return minor.IntPart(), nil
}

// Receipt is the merchant reference sent with a gateway order.
func Receipt(orderID string, at time.Time) string {
	return fmt.Sprintf("order_%s_%d", orderID, at.Unix())
}
