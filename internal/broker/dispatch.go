package broker

import (
	"context"

	"statusflow/internal/constants"
	"statusflow/internal/logger"
	"statusflow/pkg/errors"
	"statusflow/pkg/logging"
	"statusflow/pkg/metrics"
)

// invoke runs handler with panic protection. A panic counts as a rejection.
func invoke(ctx context.Context, brokerType string, log logger.Logger, handler HandlerFunc, d Delivery) (err error) {
	gauge := metrics.BrokerDeliveriesInFlight.WithLabelValues(brokerType)
	gauge.Inc()
	defer gauge.Dec()

	ctx = logging.WithMessageID(ctx, d.ID)

	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverPanic(r)
			log.ErrorwCtx(ctx, "Panic recovered during message handling",
				"error", err,
				"routing_key", d.RoutingKey,
			)
		}
		status := constants.StatusAcked
		if err != nil {
			status = constants.StatusRejected
		}
		metrics.IncBrokerDelivery(brokerType, status)
	}()

	return handler(ctx, d)
}

func copyHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
