package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultTruncateLen = 100
)

const (
	ContentTypeJSON = "application/json"
)

const (
	ServiceNameIngest = "ingest-service"
	ServiceNameApply  = "apply-service"
)

const (
	BrokerTypeRabbitMQ = "rabbitmq"
	BrokerTypeKafka    = "kafka"
	BrokerTypeMemory   = "memory"
)

const (
	StoreTypeSQLite   = "sqlite"
	StoreTypePostgres = "postgres"
	StoreTypeMongoDB  = "mongodb"
	StoreTypeRedis    = "redis"
)

// File outcomes recorded by the ingest watcher.
const (
	OutcomeProcessed = "processed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

const (
	ReasonParse     = "parse"
	ReasonRead      = "read"
	ReasonPublish   = "publish"
	ReasonMove      = "move"
	ReasonGone      = "gone"
	ReasonCancelled = "cancelled"
)

const (
	StatusAcked    = "acked"
	StatusRejected = "rejected"
)
