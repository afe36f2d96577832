package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"statusflow/internal/config"
	"statusflow/internal/constants"
	"statusflow/internal/ingest"
	"statusflow/internal/logger"
	"statusflow/pkg/bootstrap"
	"statusflow/pkg/health"
	"statusflow/pkg/logging"
	"statusflow/pkg/metrics"
	"statusflow/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	watcher        *ingest.Watcher
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceNameIngest)
	}
	return &App{
		Base: bootstrap.NewBase(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	ctx = logging.WithServiceName(ctx, constants.ServiceNameIngest)

	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceNameIngest)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterIngestMetrics()
	metrics.RegisterBrokerMetrics()

	if err := ingest.EnsureFolders(a.Config.Ingest); err != nil {
		return fmt.Errorf("failed to prepare folders: %w", err)
	}

	if err := a.InitBroker(ctx); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	publisher, err := a.Conn.Publisher()
	if err != nil {
		return fmt.Errorf("failed to create publisher: %w", err)
	}
	a.watcher = ingest.NewWatcher(a.Config.Ingest, a.Config.Broker.PublishRetry, publisher, a.Logger)

	registry := health.NewCheckerRegistry()
	registry.Register(health.NewPingChecker("broker", a.Conn))
	registry.Register(health.NewDirChecker("watch_folder", a.Config.Ingest.WatchFolder))
	registry.Register(health.NewDirChecker("processed_folder", a.Config.Ingest.ProcessedFolder))
	registry.Register(health.NewDirChecker("failed_folder", a.Config.Ingest.FailedFolder))

	router := bootstrap.NewRouter(ctx, a.Config, constants.ServiceNameIngest, registry, a.Logger)
	a.server = bootstrap.NewHTTPServer(a.Config.Server, router)

	a.Logger.InfowCtx(ctx, "Ingest service initialized",
		"watch_folder", a.Config.Ingest.WatchFolder,
		"broker", a.Conn.Type(),
		"state_source", a.Config.Ingest.StateSource,
	)
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
		return a.watcher.Run(logging.WithServiceName(gCtx, constants.ServiceNameIngest))
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, constants.ServiceNameIngest)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down ingest service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.watcher != nil {
			a.watcher.Wait()
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
