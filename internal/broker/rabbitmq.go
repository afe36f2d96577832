package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"statusflow/internal/config"
	"statusflow/internal/constants"
	"statusflow/internal/logger"
	"statusflow/pkg/logging"
	"statusflow/pkg/metrics"
	"statusflow/pkg/retry"
	"statusflow/pkg/tracing"
)

var errPublishNacked = errors.New("broker: publish not confirmed by server")

// amqpChannel is the subset of *amqp.Channel used here.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	Close() error
}

type amqpConnection interface {
	Channel() (amqpChannel, error)
	IsClosed() bool
	Close() error
}

type amqpConnAdapter struct {
	*amqp.Connection
}

func (c amqpConnAdapter) Channel() (amqpChannel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

var dialAMQP = func(url string, cfg amqp.Config) (amqpConnection, error) {
	conn, err := amqp.DialConfig(url, cfg)
	if err != nil {
		return nil, err
	}
	return amqpConnAdapter{Connection: conn}, nil
}

type RabbitMQConnection struct {
	cfg    config.BrokerConfig
	conn   amqpConnection
	logger logger.Logger

	mu        sync.Mutex
	channels  []amqpChannel
	publisher *RabbitMQPublisher
	closed    bool
}

// NewRabbitMQConnection dials the broker, retrying per broker.connect_retry.
func NewRabbitMQConnection(ctx context.Context, cfg config.BrokerConfig, log logger.Logger) (*RabbitMQConnection, error) {
	uri := amqp.URI{
		Scheme:   "amqp",
		Host:     cfg.RabbitMQ.Host,
		Port:     cfg.RabbitMQ.Port,
		Username: cfg.RabbitMQ.User,
		Password: cfg.RabbitMQ.Password,
		Vhost:    cfg.RabbitMQ.VHost,
	}

	policy := retry.FromConfig(cfg.ConnectRetry)

	var conn amqpConnection
	err := retry.RetryWithCallback(ctx, policy, func() error {
		c, err := dialAMQP(uri.String(), amqp.Config{
			Vhost:      cfg.RabbitMQ.VHost,
			Heartbeat:  10 * time.Second,
			Properties: amqp.Table{"connection_name": "statusflow"},
		})
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.IncRetryAttempt(constants.BrokerTypeRabbitMQ, "connect")
		log.Warnw("RabbitMQ connection failed, retrying",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"next_delay", nextDelay,
			"host", cfg.RabbitMQ.Host,
			"port", cfg.RabbitMQ.Port,
			"error", err,
		)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ at %s:%d: %w", cfg.RabbitMQ.Host, cfg.RabbitMQ.Port, err)
	}

	log.Infow("Connected to RabbitMQ",
		"host", cfg.RabbitMQ.Host,
		"port", cfg.RabbitMQ.Port,
		"vhost", cfg.RabbitMQ.VHost,
	)

	return newRabbitMQConnection(cfg, conn, log), nil
}

func newRabbitMQConnection(cfg config.BrokerConfig, conn amqpConnection, log logger.Logger) *RabbitMQConnection {
	return &RabbitMQConnection{
		cfg:    cfg,
		conn:   conn,
		logger: log,
	}
}

func (c *RabbitMQConnection) Type() string {
	return constants.BrokerTypeRabbitMQ
}

func (c *RabbitMQConnection) openChannel() (amqpChannel, error) {
	if c.closed {
		return nil, ErrClosed
	}
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	c.channels = append(c.channels, ch)
	return ch, nil
}

// Publisher returns the shared publisher, declaring the exchange on first use.
func (c *RabbitMQConnection) Publisher() (Publisher, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.publisher != nil {
		return c.publisher, nil
	}

	ch, err := c.openChannel()
	if err != nil {
		return nil, err
	}

	if err := declareExchange(ch, c.cfg.Exchange); err != nil {
		return nil, err
	}

	p := &RabbitMQPublisher{
		ch:         ch,
		exchange:   c.cfg.Exchange,
		routingKey: c.cfg.RoutingKey,
		logger:     c.logger,
	}

	if c.cfg.RabbitMQ.PublisherConfirms {
		if err := ch.Confirm(false); err != nil {
			return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
		}
		p.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	}

	c.publisher = p
	return p, nil
}

// Subscriber opens a dedicated channel, declares exchange, queue, binding and
// the optional dead-letter route, and sets the prefetch to max_unacked.
func (c *RabbitMQConnection) Subscriber() (Subscriber, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, err := c.openChannel()
	if err != nil {
		return nil, err
	}

	if err := declareTopology(ch, c.cfg); err != nil {
		return nil, err
	}

	if err := ch.Qos(c.cfg.MaxUnacked, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set prefetch count: %w", err)
	}

	return &RabbitMQSubscriber{
		ch:          ch,
		queue:       c.cfg.Queue,
		consumerTag: "statusflow-" + uuid.NewString(),
		workers:     c.cfg.MaxUnacked,
		deadLetter:  c.cfg.DeadLetter.Enabled(),
		logger:      c.logger,
	}, nil
}

func (c *RabbitMQConnection) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn.IsClosed() {
		return ErrClosed
	}
	return nil
}

// Close releases channels and the connection. Errors from already broken
// channels are logged and dropped so shutdown always completes.
func (c *RabbitMQConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	for _, ch := range c.channels {
		if err := ch.Close(); err != nil {
			c.logger.Debugw("Ignoring channel close error", "error", err)
		}
	}
	c.channels = nil

	if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		c.logger.Warnw("Ignoring connection close error", "error", err)
	}

	c.logger.Info("RabbitMQ connection closed")
	return nil
}

func declareExchange(ch amqpChannel, name string) error {
	if err := ch.ExchangeDeclare(name, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", name, err)
	}
	return nil
}

func declareTopology(ch amqpChannel, cfg config.BrokerConfig) error {
	if err := declareExchange(ch, cfg.Exchange); err != nil {
		return err
	}

	var args amqp.Table
	if cfg.DeadLetter.Enabled() {
		dl := cfg.DeadLetter
		routingKey := dl.RoutingKey
		if routingKey == "" {
			routingKey = cfg.RoutingKey
		}

		if err := declareExchange(ch, dl.Exchange); err != nil {
			return err
		}
		if _, err := ch.QueueDeclare(dl.Queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare dead letter queue %s: %w", dl.Queue, err)
		}
		if err := ch.QueueBind(dl.Queue, routingKey, dl.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind dead letter queue %s: %w", dl.Queue, err)
		}

		args = amqp.Table{"x-dead-letter-exchange": dl.Exchange}
		if dl.RoutingKey != "" {
			args["x-dead-letter-routing-key"] = dl.RoutingKey
		}
	}

	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", cfg.Queue, err)
	}

	if err := ch.QueueBind(cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s to %s: %w", cfg.Queue, cfg.Exchange, err)
	}

	return nil
}

type RabbitMQPublisher struct {
	mu         sync.Mutex
	ch         amqpChannel
	exchange   string
	routingKey string
	confirms   chan amqp.Confirmation
	seq        uint64
	logger     logger.Logger
}

// Publish sends a persistent message. With publisher confirms enabled it
// waits for the broker acknowledgement of this message.
func (p *RabbitMQPublisher) Publish(ctx context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()

	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers = tracing.InjectAMQPHeaders(ctx, headers)

	contentType := msg.ContentType
	if contentType == "" {
		contentType = constants.ContentTypeJSON
	}
	timestamp := msg.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	publishing := amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    timestamp,
		Headers:      headers,
		Body:         msg.Body,
	}

	err := p.ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, publishing)
	if err == nil && p.confirms != nil {
		p.seq++
		err = p.awaitConfirm(ctx, p.seq)
	}

	metrics.ObserveBrokerPublishDuration(constants.BrokerTypeRabbitMQ, time.Since(start))
	if err != nil {
		metrics.IncBrokerPublished(constants.BrokerTypeRabbitMQ, "error")
		return fmt.Errorf("failed to publish to exchange %s: %w", p.exchange, err)
	}

	metrics.IncBrokerPublished(constants.BrokerTypeRabbitMQ, "ok")
	p.logger.DebugwCtx(ctx, "Message published",
		"exchange", p.exchange,
		"routing_key", p.routingKey,
		"message_id", msg.ID,
	)
	return nil
}

// awaitConfirm skips confirmations left over from abandoned publishes.
func (p *RabbitMQPublisher) awaitConfirm(ctx context.Context, tag uint64) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-p.confirms:
			if !ok {
				return ErrClosed
			}
			if c.DeliveryTag < tag {
				continue
			}
			if !c.Ack {
				return errPublishNacked
			}
			return nil
		}
	}
}

type RabbitMQSubscriber struct {
	ch          amqpChannel
	queue       string
	consumerTag string
	workers     int
	deadLetter  bool
	logger      logger.Logger
}

func (s *RabbitMQSubscriber) Subscribe(ctx context.Context, handler HandlerFunc) error {
	deliveries, err := s.ch.Consume(s.queue, s.consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume from queue %s: %w", s.queue, err)
	}

	s.logger.Infow("Started consuming",
		"queue", s.queue,
		"workers", s.workers,
	)

	handlerCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					s.handle(handlerCtx, handler, d)
				}
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		if err := s.ch.Cancel(s.consumerTag, false); err != nil {
			s.logger.Debugw("Ignoring consumer cancel error", "error", err)
		}
		s.logger.Infow("Stopped consuming", "queue", s.queue, "reason", "context canceled")
		return nil
	}

	return fmt.Errorf("%w: delivery channel for queue %s closed", ErrClosed, s.queue)
}

func (s *RabbitMQSubscriber) handle(ctx context.Context, handler HandlerFunc, d amqp.Delivery) {
	ctx, span := tracing.StartSpanFromAMQPDelivery(ctx, "amqp.consume", d.Headers)
	defer span.End()
	if sc := span.SpanContext(); sc.HasTraceID() {
		ctx = logging.WithTraceID(ctx, sc.TraceID().String())
	}

	delivery := Delivery{
		ID:          d.MessageId,
		Body:        d.Body,
		RoutingKey:  d.RoutingKey,
		Headers:     tableToHeaders(d.Headers),
		Redelivered: d.Redelivered,
	}

	if err := invoke(ctx, constants.BrokerTypeRabbitMQ, s.logger, handler, delivery); err != nil {
		if nackErr := d.Nack(false, false); nackErr != nil {
			s.logger.ErrorwCtx(ctx, "Failed to reject delivery", "error", nackErr, "queue", s.queue)
			return
		}
		if s.deadLetter {
			metrics.IncDLQMessage(constants.BrokerTypeRabbitMQ, "rejected")
		}
		return
	}

	if ackErr := d.Ack(false); ackErr != nil {
		s.logger.ErrorwCtx(ctx, "Failed to acknowledge delivery", "error", ackErr, "queue", s.queue)
	}
}

func tableToHeaders(t amqp.Table) map[string]string {
	headers := make(map[string]string, len(t))
	for k, v := range t {
		switch val := v.(type) {
		case string:
			headers[k] = val
		case []byte:
			headers[k] = string(val)
		}
	}
	return headers
}
