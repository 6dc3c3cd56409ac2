package order

import (
	"errors"
	"testing"

	"github.com/appetiteclub/fulfillment/pkg/enums/orderstatus"
	"github.com/appetiteclub/fulfillment/pkg/enums/paymentstatus"
	"github.com/appetiteclub/fulfillment/pkg/lib/core"
)

var (
	ost = orderstatus.Statuses
	ps  = paymentstatus.Statuses
)

func TestCouplePayment(t *testing.T) {
	tests := []struct {
		name       string
		status     orderstatus.Status
		payment    paymentstatus.Status
		next       paymentstatus.Status
		wantStatus orderstatus.Status
	}{
		{name: "completedConfirmsPending", status: ost.Pending, payment: ps.Pending, next: ps.Completed, wantStatus: ost.Confirmed},
		{name: "completedKeepsPreparing", status: ost.Preparing, payment: ps.Processing, next: ps.Completed, wantStatus: ost.Preparing},
		{name: "failedCancels", status: ost.Pending, payment: ps.Processing, next: ps.Failed, wantStatus: ost.Cancelled},
		{name: "cancelledCancelsConfirmed", status: ost.Confirmed, payment: ps.Pending, next: ps.Cancelled, wantStatus: ost.Cancelled},
		{name: "processingKeepsStatus", status: ost.Pending, payment: ps.Pending, next: ps.Processing, wantStatus: ost.Pending},
		{name: "refundedKeepsStatus", status: ost.Delivered, payment: ps.Completed, next: ps.Refunded, wantStatus: ost.Delivered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CouplePayment(tt.status, tt.payment, tt.next)
			if got.ToStatus != tt.wantStatus {
				t.Errorf("ToStatus = %s, want %s", got.ToStatus, tt.wantStatus)
			}
			if got.ToPayment != tt.next {
				t.Errorf("ToPayment = %s, want %s", got.ToPayment, tt.next)
			}
			if got.FromStatus != tt.status || got.FromPayment != tt.payment {
				t.Errorf("From = %s/%s, want %s/%s", got.FromStatus, got.FromPayment, tt.status, tt.payment)
			}
		})
	}
}

func TestCancelTransition(t *testing.T) {
	tests := []struct {
		name        string
		status      orderstatus.Status
		payment     paymentstatus.Status
		wantPayment paymentstatus.Status
		wantErr     error
	}{
		{name: "completedIsRefunded", status: ost.Confirmed, payment: ps.Completed, wantPayment: ps.Refunded},
		{name: "pendingIsCancelled", status: ost.Pending, payment: ps.Pending, wantPayment: ps.Cancelled},
		{name: "processingIsCancelled", status: ost.Preparing, payment: ps.Processing, wantPayment: ps.Cancelled},
		{name: "failedIsKept", status: ost.Pending, payment: ps.Failed, wantPayment: ps.Failed},
		{name: "deliveredIsRejected", status: ost.Delivered, payment: ps.Completed, wantErr: core.ErrIllegalState},
		{name: "cancelledIsRejected", status: ost.Cancelled, payment: ps.Cancelled, wantErr: core.ErrIllegalState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CancelTransition(tt.status, tt.payment)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.ToStatus != ost.Cancelled {
				t.Errorf("ToStatus = %s, want CANCELLED", got.ToStatus)
			}
			if got.ToPayment != tt.wantPayment {
				t.Errorf("ToPayment = %s, want %s", got.ToPayment, tt.wantPayment)
			}
		})
	}
}

func TestForceTransitionIsUnguarded(t *testing.T) {
	for _, from := range orderstatus.All {
		for _, to := range orderstatus.All {
			got := ForceTransition(from, ps.Completed, to)
			if got.ToStatus != to || got.ToPayment != ps.Completed {
				t.Errorf("ForceTransition(%s -> %s) = %+v", from, to, got)
			}
		}
	}
}

func TestApplyTouchesUpdatedAt(t *testing.T) {
	o, err := NewOrder("user-1", "", validLines(), validInfo())
	if err != nil {
		t.Fatalf("NewOrder() error = %v", err)
	}
	before := o.UpdatedAt

	o.Apply(CouplePayment(o.Status, o.PaymentStatus, ps.Completed))

	if o.Status != ost.Confirmed || o.PaymentStatus != ps.Completed {
		t.Errorf("statuses = %s/%s, want CONFIRMED/COMPLETED", o.Status, o.PaymentStatus)
	}
	if o.UpdatedAt.Before(before) {
		t.Error("UpdatedAt should not move backwards")
	}
}
