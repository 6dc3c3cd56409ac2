package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/middleware"
	"github.com/appetiteclub/apt/telemetry"
	"github.com/appetiteclub/fulfillment/pkg"
	"github.com/appetiteclub/fulfillment/pkg/lib/auth"
	"github.com/appetiteclub/fulfillment/pkg/lib/core"
	"github.com/appetiteclub/fulfillment/pkg/lib/mongodb"
	"github.com/appetiteclub/fulfillment/pkg/lib/tracing"
	"github.com/appetiteclub/fulfillment/services/order/internal/mongo"
	"github.com/appetiteclub/fulfillment/services/order/internal/order"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	appNamespace = "ORDER"
	appName      = "order"
	appVersion   = "0.1.0"
)

func main() {
	config, err := apt.LoadConfig(appNamespace, os.Args[1:])
	if err != nil {
		log.Fatalf("%s(%s) cannot setup: %v", appName, appVersion, err)
	}

	logLevel, _ := config.GetString("log.level")
	logger := apt.NewLogger(logLevel)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	baseRepo := mongodb.NewBaseRepo(config, "fulfillment_order", logger)
	err = baseRepo.Start(ctx)
	if err != nil {
		log.Fatalf("%s(%s) cannot start base repository: %v", appName, appVersion, err)
	}

	db := baseRepo.GetDatabase()
	if db == nil {
		log.Fatalf("%s(%s) cannot initialize repository database: %v", appName, appVersion, errors.New("repository database is nil"))
	}

	orderRepo := mongo.NewOrderRepo(db)

	bus, err := pkg.NewBus(config, appName, logger)
	if err != nil {
		log.Fatalf("%s(%s) cannot connect to event bus: %v", appName, appVersion, err)
	}

	authenticator, authLifecycles, err := auth.NewAuthenticatorFromConfig(config, logger)
	if err != nil {
		log.Fatalf("%s(%s) cannot setup authentication: %v", appName, appVersion, err)
	}

	workflow := order.NewWorkflow(orderRepo, bus, logger)

	handler := order.NewHandler(order.HandlerDeps{
		Workflow:     workflow,
		Authenticate: authenticator.Middleware,
	}, config, logger)

	metrics := core.NewMetrics(prometheus.DefaultRegisterer)
	stack := middleware.DefaultStack(middleware.StackOptions{
		Logger:          logger,
		Metrics:         metrics,
		TimeoutDuration: config.GetDurationOrDef("web.timeout", 30*time.Second),
	})
	stack = append(stack, telemetry.NewMetricsMiddleware(metrics), tracing.Propagation)

	lifecycles := []interface{}{
		apt.LifecycleHooks{OnStop: baseRepo.Stop},
		orderRepo,
		apt.LifecycleHooks{OnStop: func(context.Context) error { return bus.Close() }},
	}
	lifecycles = append(lifecycles, authLifecycles...)

	if config.GetBoolOrFalse("tracing.on") {
		shutdown, err := tracing.Setup(ctx, appName, config.GetStringOrDef("tracing.endpoint", "localhost:4317"))
		if err != nil {
			log.Fatalf("%s(%s) cannot setup tracing: %v", appName, appVersion, err)
		}
		lifecycles = append(lifecycles, apt.LifecycleHooks{OnStop: shutdown})
	}

	options := []apt.Option{
		apt.WithConfig(config),
		apt.WithLogger(logger),
		apt.WithMetrics(metrics),
		apt.WithTracer(tracing.Tracer{}),
		apt.WithHTTPMiddleware(stack...),
		apt.WithHealthChecks(appName, apt.HealthStatusOK, func(ctx context.Context) error {
			return db.Client().Ping(ctx, nil)
		}),
	}
	if config.GetBoolOrTrue("metrics.on") {
		options = append(options, apt.WithRouterConfigurator(core.MountMetrics))
	}
	options = append(options,
		apt.WithHTTPServerModules("web.port", handler),
		apt.WithLifecycle(lifecycles...),
	)

	ms := apt.NewMicro(options...)
	logger.Infof("Starting %s(%s)", appName, appVersion)

	err = ms.Run(ctx)
	if err != nil {
		_ = baseRepo.Stop(context.Background())
		log.Fatalf("%s(%s) stopped: %v", appName, appVersion, err)
	}

	logger.Infof("%s(%s) stopped", appName, appVersion)
}
