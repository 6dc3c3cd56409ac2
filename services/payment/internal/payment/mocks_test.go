package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/appetiteclub/fulfillment/pkg/enums/paymentstatus"
	"github.com/appetiteclub/fulfillment/pkg/event"
	"github.com/appetiteclub/fulfillment/pkg/lib/core"
)

const (
	testKeySecret     = "key-secret"
	testWebhookSecret = "webhook-secret"
)

// MockGateway hands out sequential provider ids unless a Func overrides it.
type MockGateway struct {
	mu              sync.Mutex
	CreateOrderFunc func(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error)
	RefundFunc      func(ctx context.Context, providerPaymentID string, amountMinor int64) (GatewayRefund, error)
	orders          []GatewayOrderRequest
	refunds         []GatewayRefund
}

func (m *MockGateway) CreateOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error) {
	if m.CreateOrderFunc != nil {
		return m.CreateOrderFunc(ctx, req)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = append(m.orders, req)
	return GatewayOrder{
		ID:          fmt.Sprintf("order_gw%d", len(m.orders)),
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
		Receipt:     req.Receipt,
		Status:      "created",
	}, nil
}

func (m *MockGateway) Refund(ctx context.Context, providerPaymentID string, amountMinor int64) (GatewayRefund, error) {
	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, providerPaymentID, amountMinor)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r := GatewayRefund{
		ID:          fmt.Sprintf("rfnd_%d", len(m.refunds)+1),
		PaymentID:   providerPaymentID,
		AmountMinor: amountMinor,
		Status:      "processed",
	}
	m.refunds = append(m.refunds, r)
	return r, nil
}

func (m *MockGateway) Orders() []GatewayOrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]GatewayOrderRequest(nil), m.orders...)
}

func (m *MockGateway) Refunds() []GatewayRefund {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]GatewayRefund(nil), m.refunds...)
}

type statusPush struct {
	token   string
	orderID string
	status  paymentstatus.Status
}

// MockOrderClient serves orders from a map and records payment pushes.
type MockOrderClient struct {
	mu                      sync.Mutex
	Orders                  map[string]*OrderSummary
	UpdatePaymentStatusFunc func(ctx context.Context, token, orderID string, status paymentstatus.Status) error
	pushes                  []statusPush
}

func NewMockOrderClient(orders ...*OrderSummary) *MockOrderClient {
	m := &MockOrderClient{Orders: map[string]*OrderSummary{}}
	for _, o := range orders {
		m.Orders[o.ID] = o
	}
	return m
}

func (m *MockOrderClient) GetOrder(_ context.Context, _ string, orderID string) (*OrderSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.Orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", core.ErrNotFound, orderID)
	}
	cp := *o
	return &cp, nil
}

func (m *MockOrderClient) UpdatePaymentStatus(ctx context.Context, token, orderID string, status paymentstatus.Status) error {
	if m.UpdatePaymentStatusFunc != nil {
		if err := m.UpdatePaymentStatusFunc(ctx, token, orderID, status); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushes = append(m.pushes, statusPush{token: token, orderID: orderID, status: status})
	return nil
}

func (m *MockOrderClient) Pushes() []statusPush {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]statusPush(nil), m.pushes...)
}

// MockPublisher records payment events with their keys.
type MockPublisher struct {
	mu          sync.Mutex
	PublishFunc func(ctx context.Context, topic string, msg []byte) error
	events      []event.PaymentEvent
	keys        []string
	topics      []string
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, msg []byte) error {
	return m.PublishKeyed(ctx, topic, "", msg)
}

func (m *MockPublisher) PublishKeyed(ctx context.Context, topic, key string, msg []byte) error {
	if m.PublishFunc != nil {
		if err := m.PublishFunc(ctx, topic, msg); err != nil {
			return err
		}
	}
	var evt event.PaymentEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	m.keys = append(m.keys, key)
	m.topics = append(m.topics, topic)
	return nil
}

func (m *MockPublisher) Events() []event.PaymentEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]event.PaymentEvent(nil), m.events...)
}

func (m *MockPublisher) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.keys...)
}
