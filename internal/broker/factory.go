package broker

import (
	"context"
	"fmt"

	"statusflow/internal/config"
	"statusflow/internal/constants"
	"statusflow/internal/logger"
)

func NewConnection(ctx context.Context, cfg config.BrokerConfig, log logger.Logger) (Connection, error) {
	switch cfg.Type {
	case constants.BrokerTypeRabbitMQ:
		return NewRabbitMQConnection(ctx, cfg, log)
	case constants.BrokerTypeKafka:
		return NewKafkaConnection(cfg, log), nil
	case constants.BrokerTypeMemory:
		return NewMemoryConnection(cfg, log), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}
