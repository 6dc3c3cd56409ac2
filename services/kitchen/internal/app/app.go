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
	"github.com/appetiteclub/fulfillment/pkg/lib/mongodb"
	"github.com/appetiteclub/fulfillment/pkg/lib/tracing"
	"github.com/appetiteclub/fulfillment/services/kitchen/internal/events"
	"github.com/appetiteclub/fulfillment/services/kitchen/internal/kitchen"
	"github.com/appetiteclub/fulfillment/services/kitchen/internal/mongo"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	AppName    = "kitchen"
	AppVersion = "0.1.0"
)

// App encapsulates the kitchen service application
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

	repo, storeLifecycles, err := a.ticketStore(ctx)
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

	aggregator := kitchen.NewAggregator(repo, bus, a.logger)
	subscriber := events.NewOrderPlacedSubscriber(bus, aggregator, a.logger)
	handler := kitchen.NewHandler(aggregator, authenticator.Middleware, a.config, a.logger)

	metrics := core.NewMetrics(prometheus.DefaultRegisterer)
	stack := middleware.DefaultStack(middleware.StackOptions{
		Logger:          a.logger,
		Metrics:         metrics,
		TimeoutDuration: a.config.GetDurationOrDef("web.timeout", 30*time.Second),
		DisableCORS:     true,
	})
	stack = append(stack, telemetry.NewMetricsMiddleware(metrics), tracing.Propagation)
	if a.config.GetBoolOrFalse("web.internal_only") {
		stack = append(stack, middleware.InternalOnly())
	}
	a.stack = stack
	a.modules = []apt.HTTPModule{handler}

	// The subscriber starts after the store so redelivered orders find it ready.
	lifecycles = append(lifecycles, subscriber, apt.LifecycleHooks{
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
		apt.WithHTTPMiddleware(stack...),
		apt.WithHealthChecks(AppName),
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

// ticketStore picks the store from db.driver: mongo (default) or memory.
func (a *App) ticketStore(ctx context.Context) (kitchen.TicketRepository, []interface{}, error) {
	switch driver := a.config.GetStringOrDef("db.driver", "mongo"); driver {
	case "memory":
		a.logger.Info("using in-memory ticket store")
		return kitchen.NewMemoryTicketRepository(), nil, nil

	case "mongo":
		baseRepo := mongodb.NewBaseRepo(a.config, "fulfillment_kitchen", a.logger)
		if err := baseRepo.Start(ctx); err != nil {
			return nil, nil, fmt.Errorf("cannot start base repository: %w", err)
		}
		repo := mongo.NewTicketRepo(baseRepo.GetDatabase())
		return repo, []interface{}{apt.LifecycleHooks{OnStop: baseRepo.Stop}, repo}, nil

	default:
		return nil, nil, fmt.Errorf("unknown ticket store driver %q", driver)
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
