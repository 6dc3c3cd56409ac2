package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/middleware"
	"github.com/appetiteclub/fulfillment/pkg"
	"github.com/appetiteclub/fulfillment/pkg/lib/core"
	"github.com/appetiteclub/fulfillment/pkg/lib/tracing"
	"github.com/appetiteclub/fulfillment/services/notification/internal/notification"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	AppName    = "notification"
	AppVersion = "0.1.0"
)

// App encapsulates the notification service application
type App struct {
	config *apt.Config
	logger apt.Logger
	micro  *apt.Micro
	stack  []func(http.Handler) http.Handler
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

	bus, err := pkg.NewBus(a.config, AppName, a.logger)
	if err != nil {
		return fmt.Errorf("cannot connect to event bus: %w", err)
	}

	// Only retaining transports can replay history to new subscribers.
	replay, _ := bus.(pkg.TopicReplayer)
	if replay == nil {
		a.logger.Info("bus driver cannot replay, streams start live only")
	}

	hub := notification.NewHub(a.logger)
	relay := notification.NewRelay(bus, hub, a.logger)
	stream := notification.NewStreamServer(hub, replay, a.logger)

	lifecycles = append(lifecycles, relay, apt.LifecycleHooks{
		OnStop: func(context.Context) error { return bus.Close() },
	})

	if a.config.GetBoolOrFalse("tracing.on") {
		shutdown, err := tracing.Setup(ctx, AppName, a.config.GetStringOrDef("tracing.endpoint", "localhost:4317"))
		if err != nil {
			return fmt.Errorf("cannot setup tracing: %w", err)
		}
		lifecycles = append(lifecycles, apt.LifecycleHooks{OnStop: shutdown})
	}

	metrics := core.NewMetrics(prometheus.DefaultRegisterer)
	a.stack = middleware.DefaultStack(middleware.StackOptions{
		Logger:      a.logger,
		Metrics:     metrics,
		DisableCORS: true,
	})

	options := []apt.Option{
		apt.WithConfig(a.config),
		apt.WithLogger(a.logger),
		apt.WithMetrics(metrics),
		apt.WithTracer(tracing.Tracer{}),
		apt.WithHTTPMiddleware(a.stack...),
		apt.WithHealthChecks(AppName),
	}
	if a.config.GetBoolOrTrue("metrics.on") {
		options = append(options, apt.WithRouterConfigurator(core.MountMetrics))
	}
	options = append(options,
		apt.WithHTTPServerModules("web.port"),
		apt.WithGRPCServerModules("grpc.port", stream),
		apt.WithLifecycle(lifecycles...),
	)

	a.micro = apt.NewMicro(options...)
	return nil
}

// router assembles the same HTTP tree the micro serves so tests can drive it
// in-process. Streams are served over gRPC only.
func (a *App) router() chi.Router {
	r := chi.NewRouter()
	r.Use(a.stack...)
	apt.RegisterHealthEndpoints(r, apt.NewHealthRegistry())
	if a.config.GetBoolOrTrue("metrics.on") {
		core.MountMetrics(r)
	}
	return r
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
