package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/fulfillment/pkg/enums/orderstatus"
	"github.com/appetiteclub/fulfillment/pkg/enums/paymentstatus"
	"github.com/appetiteclub/fulfillment/pkg/lib/auth"
	"github.com/appetiteclub/fulfillment/pkg/lib/core"
	"github.com/appetiteclub/fulfillment/pkg/lib/tracing"
	"github.com/shopspring/decimal"
)

// OrderSummary is the part of an order the payment service needs.
type OrderSummary struct {
	ID            string               `json:"id"`
	UserID        string               `json:"user_id"`
	UserEmail     string               `json:"user_email"`
	TotalPrice    decimal.Decimal      `json:"total_price"`
	Status        orderstatus.Status   `json:"status"`
	PaymentStatus paymentstatus.Status `json:"payment_status"`
}

// OrderClient reaches the order service. An empty token means the call is
// made on the service's own behalf.
type OrderClient interface {
	GetOrder(ctx context.Context, token, orderID string) (*OrderSummary, error)
	UpdatePaymentStatus(ctx context.Context, token, orderID string, status paymentstatus.Status) error
}

// OrderClientConfig tunes the apt HTTP client behind HTTPOrderClient. Zero
// values take apt's defaults.
type OrderClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// HTTPOrderClient forwards the caller's bearer token, or mints a short-lived
// service token when there is none. Transient failures are retried by the apt
// client; 4xx answers are not.
type HTTPOrderClient struct {
	http    *apt.HTTPClient
	issuer  *auth.TokenIssuer
	service string
}

func NewHTTPOrderClient(cfg OrderClientConfig, issuer *auth.TokenIssuer, service string) *HTTPOrderClient {
	client := apt.NewHTTPClient(apt.HTTPClientConfig{
		BaseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
	})
	client.HTTPClient.Transport = &bearerTransport{base: &tracing.Transport{}}
	return &HTTPOrderClient{
		http:    client,
		issuer:  issuer,
		service: service,
	}
}

// Ping checks the order service health endpoint.
func (c *HTTPOrderClient) Ping(ctx context.Context) error {
	return c.http.Ping(ctx)
}

func (c *HTTPOrderClient) GetOrder(ctx context.Context, token, orderID string) (*OrderSummary, error) {
	ctx, err := c.authorize(ctx, token)
	if err != nil {
		return nil, err
	}
	var out struct {
		Data OrderSummary `json:"data"`
	}
	if err := c.http.Get(ctx, "/orders/"+url.PathEscape(orderID), &out); err != nil {
		return nil, orderServiceError(ctx, err)
	}
	return &out.Data, nil
}

func (c *HTTPOrderClient) UpdatePaymentStatus(ctx context.Context, token, orderID string, status paymentstatus.Status) error {
	ctx, err := c.authorize(ctx, token)
	if err != nil {
		return err
	}
	path := "/orders/" + url.PathEscape(orderID) + "/payment-status?paymentStatus=" + url.QueryEscape(status.Code())
	if err := c.http.Put(ctx, path, nil, nil); err != nil {
		return orderServiceError(ctx, err)
	}
	return nil
}

// authorize stores the bearer token for bearerTransport, minting a service
// token when the caller has none.
func (c *HTTPOrderClient) authorize(ctx context.Context, token string) (context.Context, error) {
	if token == "" {
		if c.issuer == nil {
			return ctx, fmt.Errorf("%w: no caller token and no service token issuer", core.ErrUnauthorized)
		}
		var err error
		token, err = c.issuer.Issue(auth.ServicePrincipal(c.service))
		if err != nil {
			return ctx, err
		}
	}
	return context.WithValue(ctx, bearerKey{}, token), nil
}

type bearerKey struct{}

// bearerTransport sets the Authorization header from the request context.
type bearerTransport struct {
	base http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if token, ok := req.Context().Value(bearerKey{}).(string); ok && token != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return t.base.RoundTrip(req)
}

// orderServiceError maps the order service answer back onto the shared
// error taxonomy.
func orderServiceError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var httpErr *apt.HTTPError
	if !errors.As(err, &httpErr) {
		return fmt.Errorf("%w: order service: %v", core.ErrTransientGateway, err)
	}

	msg := http.StatusText(httpErr.StatusCode)
	var e apt.ErrorResponse
	if json.Unmarshal([]byte(httpErr.Message), &e) == nil && e.Error.Message != "" {
		msg = e.Error.Message
	}
	kind := core.ErrorForStatus(httpErr.StatusCode)
	if kind == nil {
		return fmt.Errorf("order service answered %d: %s", httpErr.StatusCode, msg)
	}
	return fmt.Errorf("%w: order service: %s", kind, msg)
}
