package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/middleware"
	"github.com/appetiteclub/apt/telemetry"
	"github.com/appetiteclub/fulfillment/pkg"
	"github.com/appetiteclub/fulfillment/pkg/lib/auth"
	"github.com/appetiteclub/fulfillment/pkg/lib/core"
	"github.com/appetiteclub/fulfillment/pkg/lib/tracing"
	"github.com/appetiteclub/fulfillment/services/payment/internal/events"
	"github.com/appetiteclub/fulfillment/services/payment/internal/payment"
	"github.com/appetiteclub/fulfillment/services/payment/internal/sqlite"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	AppName    = "payment"
	AppVersion = "0.1.0"
)

// App encapsulates the payment service application
type App struct {
	config  *apt.Config
	logger  apt.Logger
	micro   *apt.Micro
	stack   []func(http.Handler) http.Handler
	modules []apt.HTTPModule
}

func New(config *apt.Config, logger apt.Logger) (*App, error) {
	return &App{
		config: config,
		logger: logger,
	}, nil
}

// Initialize sets up all dependencies and components
func (a *App) Initialize(ctx context.Context) error {
	var lifecycles []interface{}

	repo, storeLifecycles, err := a.paymentStore()
	if err != nil {
		return err
	}
	lifecycles = append(lifecycles, storeLifecycles...)

	bus, err := pkg.NewBus(a.config, AppName, a.logger)
	if err != nil {
		return fmt.Errorf("cannot connect to event bus: %w", err)
	}

	authenticator, authLifecycles, err := auth.NewAuthenticatorFromConfig(a.config, a.logger)
	if err != nil {
		return fmt.Errorf("cannot setup authentication: %w", err)
	}
	lifecycles = append(lifecycles, authLifecycles...)

	jwtSecret, _ := a.config.GetString("auth.jwt.secret")
	issuer := auth.NewTokenIssuer(jwtSecret, a.config.GetDurationOrDef("auth.service_token_ttl", 5*time.Minute))

	keySecret, _ := a.config.GetString("gateway.key_secret")
	webhookSecret, _ := a.config.GetString("gateway.webhook_secret")
	if keySecret == "" || webhookSecret == "" {
		a.logger.Info("gateway secrets are not set, every signature will be rejected")
	}

	gateway := payment.NewHTTPGateway(payment.GatewayConfig{
		BaseURL:   a.config.GetStringOrDef("gateway.base_url", "https://api.razorpay.com"),
		KeyID:     a.config.GetStringOrDef("gateway.key_id", ""),
		KeySecret: keySecret,
		Timeout:   a.config.GetDurationOrDef("gateway.timeout", 10*time.Second),
	}, a.logger)

	orders := payment.NewHTTPOrderClient(payment.OrderClientConfig{
		BaseURL:    a.config.GetStringOrDef("orders.url", "http://localhost:8081"),
		Timeout:    a.config.GetDurationOrDef("orders.timeout", 5*time.Second),
		MaxRetries: a.config.GetIntOrDef("orders.max_retries", 2),
		RetryDelay: a.config.GetDurationOrDef("orders.retry_delay", 200*time.Millisecond),
	}, issuer, AppName)

	reconciler := payment.NewReconciler(payment.ReconcilerDeps{
		Repo:      repo,
		Gateway:   gateway,
		Orders:    orders,
		Signer:    auth.NewSigner(keySecret, webhookSecret),
		Publisher: bus,
		Currency:  a.config.GetStringOrDef("gateway.currency", payment.DefaultCurrency),
	}, a.logger)

	handler := payment.NewHandler(payment.HandlerDeps{
		Reconciler:   reconciler,
		Authenticate: authenticator.Middleware,
	}, a.logger)

	refunds := events.NewRefundSubscriber(bus, reconciler, a.logger)

	metrics := core.NewMetrics(prometheus.DefaultRegisterer)
	stack := middleware.DefaultStack(middleware.StackOptions{
		Logger:          a.logger,
		Metrics:         metrics,
		TimeoutDuration: a.config.GetDurationOrDef("web.timeout", 30*time.Second),
	})
	a.stack = append(stack, telemetry.NewMetricsMiddleware(metrics), tracing.Propagation)
	a.modules = []apt.HTTPModule{handler}

	lifecycles = append(lifecycles, refunds, apt.LifecycleHooks{
		OnStop: func(context.Context) error { return bus.Close() },
	})

	if a.config.GetBoolOrFalse("tracing.on") {
		shutdown, err := tracing.Setup(ctx, AppName, a.config.GetStringOrDef("tracing.endpoint", "localhost:4317"))
		if err != nil {
			return fmt.Errorf("cannot setup tracing: %w", err)
		}
		lifecycles = append(lifecycles, apt.LifecycleHooks{OnStop: shutdown})
	}

	options := []apt.Option{
		apt.WithConfig(a.config),
		apt.WithLogger(a.logger),
		apt.WithMetrics(metrics),
		apt.WithTracer(tracing.Tracer{}),
		apt.WithHTTPMiddleware(a.stack...),
		apt.WithHealthChecks(AppName),
		// Ready only while the order service answers; intents need it.
		apt.WithHealthChecks("orders", apt.HealthStatusOK, orders.Ping),
	}
	if a.config.GetBoolOrTrue("metrics.on") {
		options = append(options, apt.WithRouterConfigurator(core.MountMetrics))
	}
	options = append(options,
		apt.WithHTTPServerModules("web.port", a.modules...),
		apt.WithLifecycle(lifecycles...),
	)

	a.micro = apt.NewMicro(options...)
	return nil
}

// router assembles the same handler tree the micro serves so tests can drive
// it in-process.
func (a *App) router() chi.Router {
	r := chi.NewRouter()
	r.Use(a.stack...)
	apt.RegisterHealthEndpoints(r, apt.NewHealthRegistry())
	if a.config.GetBoolOrTrue("metrics.on") {
		core.MountMetrics(r)
	}
	for _, m := range a.modules {
		m.RegisterRoutes(r)
	}
	return r
}

// paymentStore picks the store from db.driver: sqlite (default) or memory.
func (a *App) paymentStore() (payment.Repository, []interface{}, error) {
	switch driver := a.config.GetStringOrDef("db.driver", "sqlite"); driver {
	case "memory":
		a.logger.Info("using in-memory payment store")
		return payment.NewMemoryRepository(), nil, nil

	case "sqlite":
		path := a.config.GetStringOrDef("db.sqlite.path", "payments.db")
		repo, err := sqlite.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot open payment store: %w", err)
		}
		a.logger.Info("using sqlite payment store", "path", path)
		return repo, []interface{}{repo}, nil

	default:
		return nil, nil, fmt.Errorf("unknown payment store driver %q", driver)
	}
}

// Run starts the application
func (a *App) Run(ctx context.Context) error {
	a.logger.Infof("Starting %s(%s)", AppName, AppVersion)
	if err := a.micro.Run(ctx); err != nil {
		return err
	}
	a.logger.Infof("%s(%s) stopped", AppName, AppVersion)
	return nil
}
