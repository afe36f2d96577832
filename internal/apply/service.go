package apply

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"statusflow/internal/config"
	"statusflow/internal/logger"
	"statusflow/internal/store"
	"statusflow/pkg/models"
	"statusflow/pkg/tracing"
)

// Service writes the module updates of a status message to the store.
//
// By default every update is its own upsert, applied in message order; when
// one fails the remaining updates are skipped and the ones already written
// stay written. With apply.atomic_messages the whole message is one
// transaction.
type Service struct {
	store  store.Store
	atomic bool
	logger logger.Logger
}

func NewService(s store.Store, cfg config.ApplyConfig, log logger.Logger) *Service {
	return &Service{
		store:  s,
		atomic: cfg.AtomicMessages,
		logger: log,
	}
}

func (s *Service) Apply(ctx context.Context, msg *models.StatusMessage) error {
	ctx, span := tracing.GetTracer(tracing.TracerName).Start(ctx, "apply.message")
	defer span.End()
	span.SetAttributes(
		attribute.String("package.id", msg.PackageID),
		attribute.Int("modules.count", len(msg.Modules)),
		attribute.Bool("apply.atomic", s.atomic),
	)

	err := s.apply(ctx, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply failed")
	}
	return err
}

func (s *Service) apply(ctx context.Context, msg *models.StatusMessage) error {
	if len(msg.Modules) == 0 {
		return nil
	}

	if s.atomic {
		if err := s.store.UpsertMany(ctx, msg.Modules); err != nil {
			return fmt.Errorf("failed to apply %d module updates: %w", len(msg.Modules), err)
		}
		return nil
	}

	for i, u := range msg.Modules {
		if err := s.store.Upsert(ctx, u.ModuleCategoryID, u.ModuleState); err != nil {
			if i > 0 {
				s.logger.WarnwCtx(ctx, "Message partially applied",
					"applied", i,
					"total", len(msg.Modules),
				)
			}
			return fmt.Errorf("failed to apply update %d/%d for module %s: %w", i+1, len(msg.Modules), u.ModuleCategoryID, err)
		}
	}
	return nil
}
