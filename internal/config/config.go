package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig
	Logging        LoggingConfig
	Broker         BrokerConfig
	Store          StoreConfig
	Ingest         IngestConfig
	Apply          ApplyConfig
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	Tracing        TracingConfig
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// BrokerConfig describes the message channel topology. Exchange, queue and
// routing key are shared by every broker type; for Kafka the topic plays the
// role of exchange and queue together.
type BrokerConfig struct {
	Type         string           `mapstructure:"type"`
	Exchange     string           `mapstructure:"exchange"`
	Queue        string           `mapstructure:"queue"`
	RoutingKey   string           `mapstructure:"routing_key"`
	MaxUnacked   int              `mapstructure:"max_unacked"`
	DeadLetter   DeadLetterConfig `mapstructure:"dead_letter"`
	RabbitMQ     RabbitMQConfig   `mapstructure:"rabbitmq"`
	Kafka        KafkaConfig      `mapstructure:"kafka"`
	ConnectRetry RetryConfig      `mapstructure:"connect_retry"`
	PublishRetry RetryConfig      `mapstructure:"publish_retry"`
}

type DeadLetterConfig struct {
	Exchange   string `mapstructure:"exchange"`
	Queue      string `mapstructure:"queue"`
	RoutingKey string `mapstructure:"routing_key"`
}

func (c DeadLetterConfig) Enabled() bool {
	return c.Exchange != ""
}

type RabbitMQConfig struct {
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	User              string `mapstructure:"user"`
	Password          string `mapstructure:"password"`
	VHost             string `mapstructure:"vhost"`
	PublisherConfirms bool   `mapstructure:"publisher_confirms"`
}

type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	GroupID  string   `mapstructure:"group_id"`
	DLQTopic string   `mapstructure:"dlq_topic"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type StoreConfig struct {
	Type     string         `mapstructure:"type"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	MongoDB  MongoDBConfig  `mapstructure:"mongodb"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type SQLiteConfig struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type MongoDBConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

type RedisConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type IngestConfig struct {
	WatchFolder        string `mapstructure:"watch_folder"`
	ProcessedFolder    string `mapstructure:"processed_folder"`
	FailedFolder       string `mapstructure:"failed_folder"`
	PollIntervalMs     int    `mapstructure:"poll_interval_ms"`
	MaxConcurrentFiles int    `mapstructure:"max_concurrent_files"`
	ReadAttempts       int    `mapstructure:"read_attempts"`
	ReadBackoffMs      int    `mapstructure:"read_backoff_ms"`
	StateSource        string `mapstructure:"state_source"` // "parsed" or "random"
}

func (c IngestConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c IngestConfig) ReadBackoff() time.Duration {
	return time.Duration(c.ReadBackoffMs) * time.Millisecond
}

type ApplyConfig struct {
	AtomicMessages bool `mapstructure:"atomic_messages"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type RateLimitConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	RPS             float64       `mapstructure:"rps"`
	Burst           int           `mapstructure:"burst"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	MaxAge          time.Duration `mapstructure:"max_age"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
