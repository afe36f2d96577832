package bootstrap

import (
	"context"
	"fmt"

	"statusflow/internal/broker"
	"statusflow/internal/config"
	"statusflow/internal/logger"
)

type Base struct {
	Config *config.Config
	Logger logger.Logger
	Conn   broker.Connection
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

func (b *Base) InitBroker(ctx context.Context) error {
	conn, err := broker.NewConnection(ctx, b.Config.Broker, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}

	b.Conn = conn
	b.Logger.InfowCtx(ctx, "Broker connected", "type", conn.Type())
	return nil
}

func (b *Base) ShutdownBroker() []error {
	if b.Conn == nil {
		return nil
	}
	if err := b.Conn.Close(); err != nil {
		return []error{fmt.Errorf("broker close error: %w", err)}
	}
	return nil
}

// Shutdown runs additionalShutdown before closing the broker so in-flight
// work can still settle its messages.
func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	var errs []error

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	errs = append(errs, b.ShutdownBroker()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	b.Logger.Info("Application exited successfully")
	return nil
}
