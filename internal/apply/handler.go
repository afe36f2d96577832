package apply

import (
	"context"
	"time"
	"unicode/utf8"

	"statusflow/internal/broker"
	"statusflow/internal/constants"
	"statusflow/internal/logger"
	"statusflow/pkg/logging"
	"statusflow/pkg/metrics"
	"statusflow/pkg/models"
)

// Handler turns deliveries into store updates. A nil return acknowledges the
// delivery; any error rejects it without requeue.
type Handler struct {
	service *Service
	logger  logger.Logger
}

func NewHandler(service *Service, log logger.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  log,
	}
}

func (h *Handler) HandleDelivery(ctx context.Context, d broker.Delivery) (err error) {
	start := time.Now()
	defer func() {
		status := constants.StatusAcked
		if err != nil {
			status = constants.StatusRejected
		}
		metrics.IncApplyMessage(status)
		metrics.ObserveApplyDuration(time.Since(start), status)
	}()

	msg, err := models.Decode(d.Body)
	if err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to decode status message, rejecting",
			"error", err,
			"redelivered", d.Redelivered,
			"payload", truncate(string(d.Body), constants.DefaultTruncateLen),
		)
		return err
	}
	ctx = logging.WithPackageID(ctx, msg.PackageID)

	if err := h.service.Apply(ctx, msg); err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to apply status message, rejecting",
			"error", err,
			"modules", len(msg.Modules),
			"payload", truncate(string(d.Body), constants.DefaultTruncateLen),
		)
		return err
	}

	h.logger.InfowCtx(ctx, "Status message applied",
		"modules", len(msg.Modules),
		"observed_at", msg.TimestampUtc,
	)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
