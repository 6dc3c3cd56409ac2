package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/fulfillment/pkg/enums/orderstatus"
	"github.com/appetiteclub/fulfillment/pkg/enums/paymentstatus"
	"github.com/appetiteclub/fulfillment/pkg/lib/core"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	maxAddressLen      = 500
	minPhoneLen        = 10
	maxPhoneLen        = 15
	maxInstructionsLen = 1000
	maxRequestsLen     = 500
)

type Order struct {
	ID                  uuid.UUID            `json:"id"`
	UserID              string               `json:"user_id"`
	UserEmail           string               `json:"user_email"`
	TotalPrice          decimal.Decimal      `json:"total_price"`
	Status              orderstatus.Status   `json:"status"`
	PaymentStatus       paymentstatus.Status `json:"payment_status"`
	Lines               []Line               `json:"lines"`
	DeliveryAddress     string               `json:"delivery_address"`
	PhoneNumber         string               `json:"phone_number"`
	SpecialInstructions string               `json:"special_instructions,omitempty"`
	// Version is bumped by every successful save.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Line is owned by its order and stored with it.
type Line struct {
	ID              uuid.UUID       `json:"id"`
	MenuItemID      string          `json:"menu_item_id"`
	MenuItemName    string          `json:"menu_item_name"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	SpecialRequests string          `json:"special_requests,omitempty"`
}

type LineInput struct {
	MenuItemID      string          `json:"menu_item_id"`
	MenuItemName    string          `json:"menu_item_name"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	SpecialRequests string          `json:"special_requests,omitempty"`
}

type DeliveryInfo struct {
	DeliveryAddress     string `json:"delivery_address"`
	PhoneNumber         string `json:"phone_number"`
	SpecialInstructions string `json:"special_instructions,omitempty"`
}

func (o *Order) GetID() uuid.UUID {
	return o.ID
}

func (o *Order) ResourceType() string {
	return "order"
}

// NewOrder validates the input and builds a PENDING/PENDING order owned by
// userID. Totals use decimal arithmetic so no rounding drift is possible.
func NewOrder(userID, userEmail string, lines []LineInput, info DeliveryInfo) (*Order, error) {
	if err := validate(lines, info); err != nil {
		return nil, err
	}

	o := &Order{
		ID:                  apt.GenerateNewID(),
		UserID:              userID,
		UserEmail:           userEmail,
		Status:              orderstatus.Statuses.Pending,
		PaymentStatus:       paymentstatus.Statuses.Pending,
		DeliveryAddress:     strings.TrimSpace(info.DeliveryAddress),
		PhoneNumber:         strings.TrimSpace(info.PhoneNumber),
		SpecialInstructions: info.SpecialInstructions,
		Lines:               make([]Line, 0, len(lines)),
		Version:             1,
	}

	for _, in := range lines {
		o.Lines = append(o.Lines, Line{
			ID:              apt.GenerateNewID(),
			MenuItemID:      in.MenuItemID,
			MenuItemName:    in.MenuItemName,
			Quantity:        in.Quantity,
			UnitPrice:       in.UnitPrice,
			TotalPrice:      in.UnitPrice.Mul(decimal.NewFromInt(int64(in.Quantity))),
			SpecialRequests: in.SpecialRequests,
		})
	}
	o.TotalPrice = Total(o.Lines)
	o.BeforeCreate()
	return o, nil
}

// Total is Σ(unitPrice × quantity).
func Total(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return total
}

func (o *Order) BeforeCreate() {
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
}

func (o *Order) BeforeUpdate() {
	o.UpdatedAt = time.Now().UTC()
}

func validate(lines []LineInput, info DeliveryInfo) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: order must have at least one line", core.ErrValidation)
	}

	for i, l := range lines {
		if l.Quantity <= 0 {
			return fmt.Errorf("%w: line %d: quantity must be positive", core.ErrValidation, i)
		}
		if !l.UnitPrice.IsPositive() {
			return fmt.Errorf("%w: line %d: unit price must be greater than 0", core.ErrValidation, i)
		}
		if !l.UnitPrice.Equal(l.UnitPrice.Round(2)) {
			return fmt.Errorf("%w: line %d: unit price has more than 2 decimal places", core.ErrValidation, i)
		}
		if strings.TrimSpace(l.MenuItemID) == "" {
			return fmt.Errorf("%w: line %d: menu item id is required", core.ErrValidation, i)
		}
		if strings.TrimSpace(l.MenuItemName) == "" {
			return fmt.Errorf("%w: line %d: menu item name is required", core.ErrValidation, i)
		}
		if len(l.SpecialRequests) > maxRequestsLen {
			return fmt.Errorf("%w: line %d: special requests too long", core.ErrValidation, i)
		}
	}

	addr := strings.TrimSpace(info.DeliveryAddress)
	if addr == "" {
		return fmt.Errorf("%w: delivery address is required", core.ErrValidation)
	}
	if len(addr) > maxAddressLen {
		return fmt.Errorf("%w: delivery address too long", core.ErrValidation)
	}

	phone := strings.TrimSpace(info.PhoneNumber)
	if len(phone) < minPhoneLen || len(phone) > maxPhoneLen {
		return fmt.Errorf("%w: phone number must be between %d and %d characters", core.ErrValidation, minPhoneLen, maxPhoneLen)
	}

	if len(info.SpecialInstructions) > maxInstructionsLen {
		return fmt.Errorf("%w: special instructions too long", core.ErrValidation)
	}
	return nil
}
