package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LoadConfig reads the optional YAML file, applies environment overrides and
// validates the result. An empty path loads defaults and environment only.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvVariables(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(v, &cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("broker.type", "rabbitmq")
	v.SetDefault("broker.exchange", "instrument_exchange")
	v.SetDefault("broker.queue", "instrument_queue")
	v.SetDefault("broker.routing_key", "instrument.status")
	v.SetDefault("broker.max_unacked", 10)
	v.SetDefault("broker.dead_letter.exchange", "")
	v.SetDefault("broker.dead_letter.queue", "")
	v.SetDefault("broker.dead_letter.routing_key", "")
	v.SetDefault("broker.rabbitmq.host", "localhost")
	v.SetDefault("broker.rabbitmq.port", 5672)
	v.SetDefault("broker.rabbitmq.user", "guest")
	v.SetDefault("broker.rabbitmq.password", "guest")
	v.SetDefault("broker.rabbitmq.vhost", "/")
	v.SetDefault("broker.rabbitmq.publisher_confirms", false)
	v.SetDefault("broker.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("broker.kafka.topic", "instrument.status")
	v.SetDefault("broker.kafka.group_id", "apply-service")
	v.SetDefault("broker.kafka.dlq_topic", "")
	v.SetDefault("broker.connect_retry.max_attempts", 5)
	v.SetDefault("broker.connect_retry.initial_interval", time.Second)
	v.SetDefault("broker.connect_retry.max_interval", 30*time.Second)
	v.SetDefault("broker.connect_retry.multiplier", 2.0)
	v.SetDefault("broker.connect_retry.max_elapsed_time", 2*time.Minute)
	v.SetDefault("broker.publish_retry.max_attempts", 3)
	v.SetDefault("broker.publish_retry.initial_interval", 200*time.Millisecond)
	v.SetDefault("broker.publish_retry.max_interval", 5*time.Second)
	v.SetDefault("broker.publish_retry.multiplier", 2.0)
	v.SetDefault("broker.publish_retry.max_elapsed_time", 30*time.Second)

	v.SetDefault("store.type", "sqlite")
	v.SetDefault("store.sqlite.path", "instrument.db")
	v.SetDefault("store.sqlite.busy_timeout", 5*time.Second)
	v.SetDefault("store.postgres.host", "")
	v.SetDefault("store.postgres.port", 5432)
	v.SetDefault("store.postgres.user", "")
	v.SetDefault("store.postgres.password", "")
	v.SetDefault("store.postgres.dbname", "")
	v.SetDefault("store.postgres.sslmode", "disable")
	v.SetDefault("store.mongodb.uri", "")
	v.SetDefault("store.mongodb.database", "statusflow")
	v.SetDefault("store.mongodb.collection", "modules")
	v.SetDefault("store.redis.host", "localhost")
	v.SetDefault("store.redis.port", 6379)
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.key_prefix", "module:")

	v.SetDefault("ingest.watch_folder", "Incoming")
	v.SetDefault("ingest.processed_folder", "Processed")
	v.SetDefault("ingest.failed_folder", "Failed")
	v.SetDefault("ingest.poll_interval_ms", 1000)
	v.SetDefault("ingest.max_concurrent_files", 8)
	v.SetDefault("ingest.read_attempts", 5)
	v.SetDefault("ingest.read_backoff_ms", 100)
	v.SetDefault("ingest.state_source", StateSourceParsed)

	v.SetDefault("apply.atomic_messages", false)

	v.SetDefault("circuit_breaker.enabled", false)
	v.SetDefault("circuit_breaker.max_requests", 3)
	v.SetDefault("circuit_breaker.interval", time.Minute)
	v.SetDefault("circuit_breaker.timeout", 30*time.Second)
	v.SetDefault("circuit_breaker.failure_ratio", 0.5)
	v.SetDefault("circuit_breaker.min_requests", 3)

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.rps", 10.0)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("rate_limit.cleanup_interval", 5*time.Minute)
	v.SetDefault("rate_limit.max_age", 10*time.Minute)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "")
	v.SetDefault("tracing.otlp.endpoint", "localhost:4317")
	v.SetDefault("tracing.otlp.insecure", true)
	v.SetDefault("tracing.sampler.type", "always_on")
	v.SetDefault("tracing.sampler.param", 1.0)
}

func bindEnvVariables(v *viper.Viper) {
	v.BindEnv("broker.rabbitmq.host", "BROKER_RABBITMQ_HOST", "RABBITMQ_HOST")
	v.BindEnv("broker.rabbitmq.port", "BROKER_RABBITMQ_PORT", "RABBITMQ_PORT")
	v.BindEnv("broker.rabbitmq.user", "BROKER_RABBITMQ_USER", "RABBITMQ_USERNAME")
	v.BindEnv("broker.rabbitmq.password", "BROKER_RABBITMQ_PASSWORD", "RABBITMQ_PASSWORD")
	v.BindEnv("broker.exchange", "BROKER_EXCHANGE", "RABBITMQ_EXCHANGE")
	v.BindEnv("broker.queue", "BROKER_QUEUE", "RABBITMQ_QUEUE")
	v.BindEnv("broker.routing_key", "BROKER_ROUTING_KEY", "RABBITMQ_ROUTINGKEY")

	v.BindEnv("store.sqlite.path", "STORE_SQLITE_PATH", "SQLITE_PATH")

	v.BindEnv("ingest.watch_folder", "INGEST_WATCH_FOLDER", "WATCH_FOLDER")
	v.BindEnv("ingest.processed_folder", "INGEST_PROCESSED_FOLDER", "WATCH_PROCESSEDFOLDER")
	v.BindEnv("ingest.failed_folder", "INGEST_FAILED_FOLDER", "WATCH_FAILEDFOLDER")
	v.BindEnv("ingest.poll_interval_ms", "INGEST_POLL_INTERVAL_MS", "WATCH_POLLINTERVALMS")

	v.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
}

func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	brokersEnv := v.GetString("BROKER_KAFKA_BROKERS")
	if brokersEnv == "" {
		return
	}
	brokers := strings.Split(brokersEnv, ",")
	for i := range brokers {
		brokers[i] = strings.TrimSpace(brokers[i])
	}
	if len(brokers) > 0 && brokers[0] != "" {
		cfg.Broker.Kafka.Brokers = brokers
	}
}
