package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"statusflow/internal/apply"
	"statusflow/internal/broker"
	"statusflow/internal/config"
	"statusflow/internal/constants"
	"statusflow/internal/logger"
	"statusflow/internal/store"
	"statusflow/pkg/bootstrap"
	"statusflow/pkg/health"
	"statusflow/pkg/logging"
	"statusflow/pkg/metrics"
	"statusflow/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	store          store.Store
	subscriber     broker.Subscriber
	handler        *apply.Handler
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceNameApply)
	}
	return &App{
		Base: bootstrap.NewBase(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	ctx = logging.WithServiceName(ctx, constants.ServiceNameApply)

	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceNameApply)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterApplyMetrics()
	metrics.RegisterBrokerMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	if err := a.initStore(ctx); err != nil {
		return err
	}

	if err := a.InitBroker(ctx); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	subscriber, err := a.Conn.Subscriber()
	if err != nil {
		return fmt.Errorf("failed to create subscriber: %w", err)
	}
	a.subscriber = subscriber

	service := apply.NewService(a.store, a.Config.Apply, a.Logger)
	a.handler = apply.NewHandler(service, a.Logger)

	registry := health.NewCheckerRegistry()
	registry.Register(health.NewPingChecker("broker", a.Conn))
	registry.Register(health.NewPingChecker("store", a.store))

	router := bootstrap.NewRouter(ctx, a.Config, constants.ServiceNameApply, registry, a.Logger)
	apply.NewAPIHandler(a.store, a.Logger).RegisterRoutes(router)
	a.server = bootstrap.NewHTTPServer(a.Config.Server, router)

	a.Logger.InfowCtx(ctx, "Apply service initialized",
		"broker", a.Conn.Type(),
		"store", a.Config.Store.Type,
		"atomic_messages", a.Config.Apply.AtomicMessages,
	)
	return nil
}

// initStore opens the configured backend and creates its schema. A store
// that cannot be initialized stops the service before anything is consumed.
func (a *App) initStore(ctx context.Context) error {
	s, err := store.New(ctx, a.Config.Store, a.Config.CircuitBreaker, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to open status store: %w", err)
	}
	a.store = s

	if err := s.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize status store: %w", err)
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		consumeCtx := logging.WithServiceName(gCtx, constants.ServiceNameApply)
		a.Logger.InfowCtx(consumeCtx, "Starting status consumer",
			"queue", a.Config.Broker.Queue,
			"max_unacked", a.Config.Broker.MaxUnacked,
		)
		return a.subscriber.Subscribe(consumeCtx, a.handler.HandleDelivery)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, constants.ServiceNameApply)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down apply service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.store != nil {
			if err := a.store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("store close error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			tctx, cancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
			defer cancel()
			if err := a.tracerProvider.Shutdown(tctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer shutdown error: %w", err))
			}
		}

		return errs
	}

	return a.Base.Shutdown(shutdownCtx, additionalShutdown)
}
