package config

import (
	"errors"
	"fmt"
	"strings"
)

const (
	StateSourceParsed = "parsed"
	StateSourceRandom = "random"
)

const (
	SamplerAlwaysOn                = "always_on"
	SamplerAlwaysOff               = "always_off"
	SamplerTraceIDRatio            = "traceidratio"
	SamplerParentBasedAlwaysOn     = "parentbased_always_on"
	SamplerParentBasedTraceIDRatio = "parentbased_traceidratio"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errs []error

	if err := validateServer(cfg.Server); err != nil {
		errs = append(errs, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errs = append(errs, err)
	}

	if err := validateStore(cfg.Store); err != nil {
		errs = append(errs, err)
	}

	if err := validateIngest(cfg.Ingest); err != nil {
		errs = append(errs, err)
	}

	if err := validateTracing(cfg.Tracing); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func validateTracing(cfg TracingConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.OTLP.Endpoint == "" {
		return &ValidationError{
			Field:   "tracing.otlp.endpoint",
			Message: "endpoint is required when tracing is enabled",
		}
	}

	switch cfg.Sampler.Type {
	case "", SamplerAlwaysOn, SamplerAlwaysOff, SamplerParentBasedAlwaysOn:
	case SamplerTraceIDRatio, SamplerParentBasedTraceIDRatio:
		if cfg.Sampler.Param < 0 || cfg.Sampler.Param > 1 {
			return &ValidationError{
				Field:   "tracing.sampler.param",
				Message: fmt.Sprintf("ratio must be between 0 and 1, got %g", cfg.Sampler.Param),
			}
		}
	default:
		return &ValidationError{
			Field:   "tracing.sampler.type",
			Message: fmt.Sprintf("unknown sampler %q", cfg.Sampler.Type),
		}
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeout <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeout <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.MaxUnacked < 1 {
		return &ValidationError{
			Field:   "broker.max_unacked",
			Message: fmt.Sprintf("max_unacked must be at least 1, got %d", cfg.MaxUnacked),
		}
	}

	if err := validateRetry("broker.connect_retry", cfg.ConnectRetry); err != nil {
		return err
	}
	if err := validateRetry("broker.publish_retry", cfg.PublishRetry); err != nil {
		return err
	}

	switch cfg.Type {
	case "":
		return &ValidationError{
			Field:   "broker.type",
			Message: "broker type is required",
		}
	case "rabbitmq":
		return validateRabbitMQ(cfg)
	case "kafka":
		return validateKafka(cfg.Kafka)
	case "memory":
		return nil
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: rabbitmq, kafka, memory)", cfg.Type),
		}
	}
}

func validateRabbitMQ(cfg BrokerConfig) error {
	if cfg.RabbitMQ.Host == "" {
		return &ValidationError{
			Field:   "broker.rabbitmq.host",
			Message: "RabbitMQ host is required",
		}
	}

	if cfg.RabbitMQ.Port < 1 || cfg.RabbitMQ.Port > 65535 {
		return &ValidationError{
			Field:   "broker.rabbitmq.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.RabbitMQ.Port),
		}
	}

	if cfg.Exchange == "" {
		return &ValidationError{
			Field:   "broker.exchange",
			Message: "exchange name is required",
		}
	}

	if cfg.Queue == "" {
		return &ValidationError{
			Field:   "broker.queue",
			Message: "queue name is required",
		}
	}

	if cfg.DeadLetter.Enabled() && cfg.DeadLetter.Queue == "" {
		return &ValidationError{
			Field:   "broker.dead_letter.queue",
			Message: "dead letter queue is required when a dead letter exchange is set",
		}
	}

	return nil
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.Topic == "" {
		return &ValidationError{
			Field:   "broker.kafka.topic",
			Message: "Kafka topic is required",
		}
	}

	if cfg.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "Kafka consumer group ID is required",
		}
	}

	if cfg.DLQTopic != "" && cfg.DLQTopic == cfg.Topic {
		return &ValidationError{
			Field:   "broker.kafka.dlq_topic",
			Message: "dlq_topic must differ from topic",
		}
	}

	return nil
}

func validateRetry(field string, cfg RetryConfig) error {
	if cfg.MaxAttempts < 0 {
		return &ValidationError{
			Field:   field + ".max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if cfg.InitialInterval < 0 {
		return &ValidationError{
			Field:   field + ".initial_interval",
			Message: "initial_interval must be non-negative",
		}
	}

	if cfg.MaxInterval > 0 && cfg.InitialInterval > 0 && cfg.MaxInterval < cfg.InitialInterval {
		return &ValidationError{
			Field:   field + ".max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Multiplier < 0 {
		return &ValidationError{
			Field:   field + ".multiplier",
			Message: "multiplier must be non-negative",
		}
	}

	return nil
}

func validateStore(cfg StoreConfig) error {
	switch cfg.Type {
	case "sqlite":
		if strings.TrimSpace(cfg.SQLite.Path) == "" {
			return &ValidationError{
				Field:   "store.sqlite.path",
				Message: "SQLite path is required",
			}
		}
		return nil
	case "postgres":
		return validatePostgres(cfg.Postgres)
	case "mongodb":
		return validateMongoDB(cfg.MongoDB)
	case "redis":
		return validateRedis(cfg.Redis)
	default:
		return &ValidationError{
			Field:   "store.type",
			Message: fmt.Sprintf("unknown store type: %s (supported: sqlite, postgres, mongodb, redis)", cfg.Type),
		}
	}
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "store.postgres.host",
			Message: "PostgreSQL host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "store.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.User == "" {
		return &ValidationError{
			Field:   "store.postgres.user",
			Message: "PostgreSQL user is required",
		}
	}

	if cfg.DBName == "" {
		return &ValidationError{
			Field:   "store.postgres.dbname",
			Message: "PostgreSQL database name is required",
		}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "store.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s", cfg.SSLMode),
		}
	}

	return nil
}

func validateMongoDB(cfg MongoDBConfig) error {
	if !strings.HasPrefix(cfg.URI, "mongodb://") && !strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		return &ValidationError{
			Field:   "store.mongodb.uri",
			Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
		}
	}

	if cfg.Database == "" {
		return &ValidationError{
			Field:   "store.mongodb.database",
			Message: "MongoDB database name is required",
		}
	}

	if cfg.Collection == "" {
		return &ValidationError{
			Field:   "store.mongodb.collection",
			Message: "MongoDB collection name is required",
		}
	}

	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "store.redis.host",
			Message: "Redis host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "store.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateIngest(cfg IngestConfig) error {
	if cfg.WatchFolder == "" || cfg.ProcessedFolder == "" || cfg.FailedFolder == "" {
		return &ValidationError{
			Field:   "ingest",
			Message: "watch_folder, processed_folder and failed_folder are required",
		}
	}

	if cfg.WatchFolder == cfg.ProcessedFolder || cfg.WatchFolder == cfg.FailedFolder {
		return &ValidationError{
			Field:   "ingest.watch_folder",
			Message: "watch folder must differ from processed and failed folders",
		}
	}

	if cfg.PollIntervalMs <= 0 {
		return &ValidationError{
			Field:   "ingest.poll_interval_ms",
			Message: "poll interval must be positive",
		}
	}

	if cfg.MaxConcurrentFiles < 1 {
		return &ValidationError{
			Field:   "ingest.max_concurrent_files",
			Message: "max_concurrent_files must be at least 1",
		}
	}

	if cfg.ReadAttempts < 1 {
		return &ValidationError{
			Field:   "ingest.read_attempts",
			Message: "read_attempts must be at least 1",
		}
	}

	if cfg.ReadBackoffMs < 0 {
		return &ValidationError{
			Field:   "ingest.read_backoff_ms",
			Message: "read_backoff_ms must be non-negative",
		}
	}

	switch cfg.StateSource {
	case StateSourceParsed, StateSourceRandom:
		return nil
	default:
		return &ValidationError{
			Field:   "ingest.state_source",
			Message: fmt.Sprintf("invalid state source: %s (valid: parsed, random)", cfg.StateSource),
		}
	}
}
