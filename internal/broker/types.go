package broker

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("broker: connection closed")

// Message is an outbound status message.
type Message struct {
	ID string
	// Key groups related messages; Kafka uses it as the partition key.
	Key         string
	Body        []byte
	ContentType string
	Headers     map[string]string
	Timestamp   time.Time
}

// Delivery is an inbound message handed to a HandlerFunc.
type Delivery struct {
	ID          string
	Body        []byte
	RoutingKey  string
	Headers     map[string]string
	Redelivered bool
}

// HandlerFunc processes one delivery. A nil return acknowledges it; any
// error rejects it without requeue.
type HandlerFunc func(ctx context.Context, d Delivery) error

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Subscriber blocks in Subscribe until ctx is done or the channel fails.
// At most max_unacked handlers run at once. Handlers already running when
// ctx is cancelled are allowed to finish and settle their delivery.
type Subscriber interface {
	Subscribe(ctx context.Context, handler HandlerFunc) error
}

// Connection is the single broker connection of a process. Publisher and
// Subscriber declare the topology they need before returning.
type Connection interface {
	Publisher() (Publisher, error)
	Subscriber() (Subscriber, error)
	Ping(ctx context.Context) error
	Type() string
	Close() error
}
