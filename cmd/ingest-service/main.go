package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"statusflow/internal/config"
	"statusflow/internal/logger"
	"statusflow/pkg/logging"
)

var (
	configFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ingest-service",
		Short: "Ingest Service for instrument status files",
		Long:  "Ingest Service watches a folder for instrument status XML and publishes one message per file",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (optional, defaults and env apply)")

	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the ingest service",
		RunE: func(cmd *cobra.Command, args []string) error {
			earlyLog := logging.NewEarlyLog()

			if configFile == "" {
				configFile = os.Getenv("CONFIG_FILE")
			}

			cfg, err := config.Load(configFile)
			if err != nil {
				earlyLog.Error("Failed to load config: %v", err)
				return err
			}

			log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				earlyLog.Error("Failed to init logger: %v", err)
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.InfowCtx(ctx, "Starting Ingest Service")

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.Errorw("Failed to initialize application", "error", err)
				_ = app.Shutdown(context.Background())
				return err
			}

			log.InfowCtx(ctx, "Ingest service running")
			runErr := app.Run(ctx)
			if err := app.Shutdown(context.Background()); err != nil {
				log.Errorw("Shutdown finished with errors", "error", err)
			}
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				log.ErrorwCtx(ctx, "Service stopped with error", "error", runErr)
				return runErr
			}
			log.InfowCtx(ctx, "Shutdown complete")
			return nil
		},
	}
}
