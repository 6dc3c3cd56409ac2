package order

import (
	"fmt"

	"github.com/appetiteclub/fulfillment/pkg/enums/orderstatus"
	"github.com/appetiteclub/fulfillment/pkg/enums/paymentstatus"
	"github.com/appetiteclub/fulfillment/pkg/lib/core"
)

// Transition records the combined (order, payment) status before and after
// one workflow step.
type Transition struct {
	FromStatus  orderstatus.Status
	ToStatus    orderstatus.Status
	FromPayment paymentstatus.Status
	ToPayment   paymentstatus.Status
}

func (t Transition) StatusChanged() bool {
	return t.FromStatus != t.ToStatus
}

func (t Transition) PaymentChanged() bool {
	return t.FromPayment != t.ToPayment
}

// CouplePayment derives the order status implied by a new payment status.
// Only PENDING -> CONFIRMED on COMPLETED and any -> CANCELLED on FAILED or
// CANCELLED are automatic.
func CouplePayment(status orderstatus.Status, payment, next paymentstatus.Status) Transition {
	t := Transition{FromStatus: status, ToStatus: status, FromPayment: payment, ToPayment: next}
	switch {
	case next == paymentstatus.Statuses.Completed && status == orderstatus.Statuses.Pending:
		t.ToStatus = orderstatus.Statuses.Confirmed
	case next.IsRejection():
		t.ToStatus = orderstatus.Statuses.Cancelled
	}
	return t
}

// CancelTransition refuses DELIVERED and CANCELLED orders. A captured payment
// becomes REFUNDED, an unsettled one CANCELLED, anything else is kept.
func CancelTransition(status orderstatus.Status, payment paymentstatus.Status) (Transition, error) {
	if status.IsFinal() {
		return Transition{}, fmt.Errorf("%w: cannot cancel an order that is %s", core.ErrIllegalState, status)
	}

	t := Transition{
		FromStatus:  status,
		ToStatus:    orderstatus.Statuses.Cancelled,
		FromPayment: payment,
		ToPayment:   payment,
	}
	switch {
	case payment == paymentstatus.Statuses.Completed:
		t.ToPayment = paymentstatus.Statuses.Refunded
	case payment.IsUnsettled():
		t.ToPayment = paymentstatus.Statuses.Cancelled
	}
	return t, nil
}

// ForceTransition is the unguarded administrative overwrite: any status may
// follow any status and payment is untouched.
func ForceTransition(status orderstatus.Status, payment paymentstatus.Status, to orderstatus.Status) Transition {
	return Transition{FromStatus: status, ToStatus: to, FromPayment: payment, ToPayment: payment}
}

// Apply writes the target statuses onto the order.
func (o *Order) Apply(t Transition) {
	o.Status = t.ToStatus
	o.PaymentStatus = t.ToPayment
	o.BeforeUpdate()
}
