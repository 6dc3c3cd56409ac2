package seeding

import (
	"fmt"
	"time"

	"github.com/appetiteclub/fulfillment/pkg/enums/orderstatus"
	"github.com/appetiteclub/fulfillment/pkg/enums/paymentstatus"
	"github.com/appetiteclub/fulfillment/pkg/event"
	"github.com/appetiteclub/fulfillment/pkg/lib/mongodb"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
)

const (
	// CreatedBy tags every document the demo seed writes.
	CreatedBy = "demo-seed"
	// Marker is the _seeds document id recorded once the demo orders exist.
	Marker = "demo_orders_v1"
)

// demoNamespace keeps demo ids stable across runs so clear-demo and repeated
// seeds agree on them.
var demoNamespace = uuid.MustParse("6f1c1b52-4c55-4b0e-9a3e-5d8f4f0b7a10")

type Line struct {
	MenuItemID      string
	MenuItemName    string
	Quantity        int
	UnitPrice       decimal.Decimal
	SpecialRequests string
}

func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Order struct {
	ID                  uuid.UUID
	UserID              string
	UserEmail           string
	DeliveryAddress     string
	PhoneNumber         string
	SpecialInstructions string
	Lines               []Line
	CreatedAt           time.Time
}

func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range o.Lines {
		total = total.Add(l.Total())
	}
	return total
}

func demoID(name string) uuid.UUID {
	return uuid.NewSHA1(demoNamespace, []byte(name))
}

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// DemoOrders returns the demo orders placed relative to now. All of them start
// PENDING with payment PENDING so the payment flow can be walked from scratch.
func DemoOrders(now time.Time) []Order {
	now = now.UTC().Truncate(time.Millisecond)

	return []Order{
		{
			ID:              demoID("order-dinner-for-two"),
			UserID:          "demo-user-1",
			UserEmail:       "asha@example.com",
			DeliveryAddress: "12 MG Road, Bengaluru",
			PhoneNumber:     "+91-9800000001",
			Lines: []Line{
				{MenuItemID: "paneer-tikka", MenuItemName: "Paneer Tikka", Quantity: 2, UnitPrice: price("12.99")},
				{MenuItemID: "dal-makhani", MenuItemName: "Dal Makhani", Quantity: 1, UnitPrice: price("14.50")},
				{MenuItemID: "garlic-naan", MenuItemName: "Garlic Naan Basket", Quantity: 1, UnitPrice: price("10.49"), SpecialRequests: "extra butter"},
			},
			CreatedAt: now.Add(-30 * time.Minute),
		},
		{
			ID:                  demoID("order-office-lunch"),
			UserID:              "demo-user-2",
			UserEmail:           "ravi@example.com",
			DeliveryAddress:     "4th Floor, Tech Park, Pune",
			PhoneNumber:         "+91-9800000002",
			SpecialInstructions: "Call at reception",
			Lines: []Line{
				{MenuItemID: "veg-biryani", MenuItemName: "Veg Biryani", Quantity: 3, UnitPrice: price("9.75")},
				{MenuItemID: "raita", MenuItemName: "Cucumber Raita", Quantity: 3, UnitPrice: price("2.25")},
			},
			CreatedAt: now.Add(-15 * time.Minute),
		},
		{
			ID:              demoID("order-late-snack"),
			UserID:          "demo-user-1",
			UserEmail:       "asha@example.com",
			DeliveryAddress: "12 MG Road, Bengaluru",
			PhoneNumber:     "+91-9800000001",
			Lines: []Line{
				{MenuItemID: "masala-dosa", MenuItemName: "Masala Dosa", Quantity: 1, UnitPrice: price("7.40"), SpecialRequests: "no onion"},
				{MenuItemID: "filter-coffee", MenuItemName: "Filter Coffee", Quantity: 2, UnitPrice: price("2.80")},
			},
			CreatedAt: now.Add(-5 * time.Minute),
		},
	}
}

// DemoOrderIDs lists the ids DemoOrders produces, whatever the time.
func DemoOrderIDs() []string {
	orders := DemoOrders(time.Time{})
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID.String())
	}
	return ids
}

// OrderDoc renders o in the order service's document layout.
func OrderDoc(o Order) (bson.M, error) {
	total, err := mongodb.ToDecimal128(o.Total())
	if err != nil {
		return nil, fmt.Errorf("order %s total: %w", o.ID, err)
	}

	lines := make(bson.A, 0, len(o.Lines))
	for i, l := range o.Lines {
		unit, err := mongodb.ToDecimal128(l.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("order %s line %d: %w", o.ID, i, err)
		}
		lineTotal, err := mongodb.ToDecimal128(l.Total())
		if err != nil {
			return nil, fmt.Errorf("order %s line %d: %w", o.ID, i, err)
		}
		line := bson.M{
			"id":             demoID(fmt.Sprintf("%s-line-%d", o.ID, i)).String(),
			"menu_item_id":   l.MenuItemID,
			"menu_item_name": l.MenuItemName,
			"quantity":       l.Quantity,
			"unit_price":     unit,
			"total_price":    lineTotal,
		}
		if l.SpecialRequests != "" {
			line["special_requests"] = l.SpecialRequests
		}
		lines = append(lines, line)
	}

	doc := bson.M{
		"_id":              o.ID.String(),
		"user_id":          o.UserID,
		"user_email":       o.UserEmail,
		"total_price":      total,
		"status":           orderstatus.Statuses.Pending.Code(),
		"payment_status":   paymentstatus.Statuses.Pending.Code(),
		"lines":            lines,
		"delivery_address": o.DeliveryAddress,
		"phone_number":     o.PhoneNumber,
		"version":          int64(1),
		"created_at":       o.CreatedAt,
		"updated_at":       o.CreatedAt,
		"created_by":       CreatedBy,
	}
	if o.SpecialInstructions != "" {
		doc["special_instructions"] = o.SpecialInstructions
	}
	return doc, nil
}

// PlacedEvent is the ORDER_PLACED event the order service would have
// published for o.
func PlacedEvent(o Order) event.OrderEvent {
	evt := event.OrderEvent{
		EventType:           event.EventOrderPlaced,
		EventID:             uuid.NewString(),
		OccurredAt:          o.CreatedAt,
		OrderID:             o.ID.String(),
		UserID:              o.UserID,
		UserEmail:           o.UserEmail,
		TotalPrice:          o.Total(),
		Status:              orderstatus.Statuses.Pending.Code(),
		PaymentStatus:       paymentstatus.Statuses.Pending.Code(),
		SpecialInstructions: o.SpecialInstructions,
		Lines:               make([]event.OrderLine, 0, len(o.Lines)),
	}
	for _, l := range o.Lines {
		evt.Lines = append(evt.Lines, event.OrderLine{
			MenuItemID:      l.MenuItemID,
			MenuItemName:    l.MenuItemName,
			Quantity:        l.Quantity,
			UnitPrice:       l.UnitPrice,
			TotalPrice:      l.Total(),
			SpecialRequests: l.SpecialRequests,
		})
	}
	return evt
}
