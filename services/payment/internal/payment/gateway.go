package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/fulfillment/pkg/lib/core"
	"github.com/appetiteclub/fulfillment/pkg/lib/tracing"
)

// Gateway is the external card/UPI processor. Implementations return
// core.ErrTransientGateway for timeouts and 5xx answers so callers can retry
// without having changed anything locally.
type Gateway interface {
	CreateOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error)
	Refund(ctx context.Context, providerPaymentID string, amountMinor int64) (GatewayRefund, error)
}

type GatewayOrderRequest struct {
	AmountMinor int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Receipt     string            `json:"receipt"`
	Notes       map[string]string `json:"notes,omitempty"`
}

type GatewayOrder struct {
	ID          string `json:"id"`
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
	Receipt     string `json:"receipt"`
	Status      string `json:"status"`
}

type GatewayRefund struct {
	ID          string `json:"id"`
	PaymentID   string `json:"payment_id"`
	AmountMinor int64  `json:"amount"`
	Status      string `json:"status"`
}

type GatewayConfig struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

// HTTPGateway talks to a Razorpay-style REST API with basic auth.
type HTTPGateway struct {
	baseURL   string
	keyID     string
	keySecret string
	client    *http.Client
	logger    apt.Logger
}

func NewHTTPGateway(cfg GatewayConfig, logger apt.Logger) *HTTPGateway {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGateway{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		client:    &http.Client{Timeout: timeout},
		logger:    logger.With("component", "payment.gateway"),
	}
}

func (g *HTTPGateway) CreateOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error) {
	var out GatewayOrder
	if err := g.post(ctx, "create_order", "/v1/orders", req, &out); err != nil {
		return GatewayOrder{}, err
	}
	if out.ID == "" {
		return GatewayOrder{}, fmt.Errorf("gateway returned an order without id")
	}
	return out, nil
}

func (g *HTTPGateway) Refund(ctx context.Context, providerPaymentID string, amountMinor int64) (GatewayRefund, error) {
	body := map[string]interface{}{
		"amount": amountMinor,
		"speed":  "normal",
		"notes":  map[string]string{"reason": "order cancelled"},
	}
	var out GatewayRefund
	if err := g.post(ctx, "refund", "/v1/payments/"+providerPaymentID+"/refund", body, &out); err != nil {
		return GatewayRefund{}, err
	}
	return out, nil
}

func (g *HTTPGateway) post(ctx context.Context, operation, path string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("cannot encode gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("cannot build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(g.keyID, g.keySecret)
	tracing.Inject(ctx, req.Header)

	resp, err := g.client.Do(req)
	if err != nil {
		gatewayErrors.WithLabelValues(operation).Inc()
		g.logger.Error("gateway unreachable", "operation", operation, "error", err)
		return fmt.Errorf("%w: %s: %v", core.ErrTransientGateway, operation, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, core.MaxBodyBytes))
	if err != nil {
		gatewayErrors.WithLabelValues(operation).Inc()
		return fmt.Errorf("%w: %s: cannot read response: %v", core.ErrTransientGateway, operation, err)
	}

	if err := classifyGatewayStatus(resp.StatusCode, body); err != nil {
		gatewayErrors.WithLabelValues(operation).Inc()
		g.logger.Info("gateway rejected request", "operation", operation, "status", resp.StatusCode, "error", err)
		return fmt.Errorf("%s: %w", operation, err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("cannot decode gateway response: %w", err)
	}
	return nil
}

// classifyGatewayStatus maps the HTTP status of a gateway answer onto the
// error taxonomy.
func classifyGatewayStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 500, status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return fmt.Errorf("%w: gateway answered %d", core.ErrTransientGateway, status)
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: gateway answered %d: %s", core.ErrValidation, status, gatewayMessage(body))
	default:
		return fmt.Errorf("gateway answered %d: %s", status, gatewayMessage(body))
	}
}

func gatewayMessage(body []byte) string {
	var e struct {
		Error struct {
			Description string `json:"description"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Description != "" {
		return e.Error.Description
	}
	return strings.TrimSpace(string(body))
}
