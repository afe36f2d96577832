package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"statusflow/internal/config"
	"statusflow/internal/constants"
	"statusflow/internal/logger"
	"statusflow/pkg/logging"
	"statusflow/pkg/metrics"
	"statusflow/pkg/tracing"
)

const (
	headerMessageID   = "message_id"
	headerContentType = "content-type"
	headerDLQReason   = "dlq_reason"
	headerDLQSource   = "dlq_source_topic"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConnection struct {
	cfg    config.BrokerConfig
	logger logger.Logger

	newWriter func() kafkaWriter
	newReader func() kafkaReader
	ping      func(ctx context.Context) error

	mu      sync.Mutex
	writer  kafkaWriter
	readers []kafkaReader
	closed  bool
}

func NewKafkaConnection(cfg config.BrokerConfig, log logger.Logger) *KafkaConnection {
	kc := cfg.Kafka
	return &KafkaConnection{
		cfg:    cfg,
		logger: log,
		newWriter: func() kafkaWriter {
			return &kafka.Writer{
				Addr:                   kafka.TCP(kc.Brokers...),
				Balancer:               &kafka.Hash{},
				BatchTimeout:           constants.KafkaBatchTimeout,
				WriteTimeout:           constants.KafkaWriteTimeout,
				RequiredAcks:           kafka.RequireAll,
				AllowAutoTopicCreation: true,
			}
		},
		newReader: func() kafkaReader {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers:  kc.Brokers,
				GroupID:  kc.GroupID,
				Topic:    kc.Topic,
				MinBytes: 1,
				MaxBytes: 10e6,
				MaxWait:  500 * time.Millisecond,
			})
		},
		ping: func(ctx context.Context) error {
			var lastErr error
			for _, addr := range kc.Brokers {
				conn, err := kafka.DialContext(ctx, "tcp", addr)
				if err != nil {
					lastErr = err
					continue
				}
				return conn.Close()
			}
			return lastErr
		},
	}
}

func (c *KafkaConnection) Type() string {
	return constants.BrokerTypeKafka
}

func (c *KafkaConnection) sharedWriter() kafkaWriter {
	if c.writer == nil {
		c.writer = c.newWriter()
	}
	return c.writer
}

func (c *KafkaConnection) Publisher() (Publisher, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	return &KafkaPublisher{
		writer: c.sharedWriter(),
		topic:  c.cfg.Kafka.Topic,
		logger: c.logger,
	}, nil
}

// Subscriber creates a consumer-group reader. Rejected messages go to
// broker.kafka.dlq_topic when it is set and are dropped otherwise.
func (c *KafkaConnection) Subscriber() (Subscriber, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	reader := c.newReader()
	c.readers = append(c.readers, reader)

	s := &KafkaSubscriber{
		reader:  reader,
		topic:   c.cfg.Kafka.Topic,
		workers: c.cfg.MaxUnacked,
		logger:  c.logger,
	}
	if c.cfg.Kafka.DLQTopic != "" {
		s.dlq = &KafkaPublisher{
			writer: c.sharedWriter(),
			topic:  c.cfg.Kafka.DLQTopic,
			logger: c.logger,
		}
	}
	return s, nil
}

func (c *KafkaConnection) Ping(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return c.ping(ctx)
}

func (c *KafkaConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	for _, r := range c.readers {
		if err := r.Close(); err != nil {
			c.logger.Debugw("Ignoring reader close error", "error", err)
		}
	}
	c.readers = nil

	if c.writer != nil {
		if err := c.writer.Close(); err != nil {
			c.logger.Warnw("Ignoring writer close error", "error", err)
		}
	}

	c.logger.Info("Kafka connection closed")
	return nil
}

type KafkaPublisher struct {
	writer kafkaWriter
	topic  string
	logger logger.Logger
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg Message) error {
	start := time.Now()

	contentType := msg.ContentType
	if contentType == "" {
		contentType = constants.ContentTypeJSON
	}

	headers := make([]kafka.Header, 0, len(msg.Headers)+4)
	headers = append(headers,
		kafka.Header{Key: headerMessageID, Value: []byte(msg.ID)},
		kafka.Header{Key: headerContentType, Value: []byte(contentType)},
	)
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	headers = tracing.InjectKafkaHeaders(ctx, headers)

	key := msg.Key
	if key == "" {
		key = msg.ID
	}

	timestamp := msg.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   p.topic,
		Key:     []byte(key),
		Value:   msg.Body,
		Headers: headers,
		Time:    timestamp,
	})

	metrics.ObserveBrokerPublishDuration(constants.BrokerTypeKafka, time.Since(start))
	if err != nil {
		metrics.IncBrokerPublished(constants.BrokerTypeKafka, "error")
		return fmt.Errorf("failed to write kafka message to %s: %w", p.topic, err)
	}

	metrics.IncBrokerPublished(constants.BrokerTypeKafka, "ok")
	return nil
}

type KafkaSubscriber struct {
	reader  kafkaReader
	dlq     *KafkaPublisher
	topic   string
	workers int
	logger  logger.Logger
}

type kafkaJob struct {
	msg  kafka.Message
	done chan struct{}
}

// Subscribe hands messages to a bounded worker pool. Offsets are committed
// in fetch order once each message has been settled, so a crash never
// commits past a message that is still being handled.
func (s *KafkaSubscriber) Subscribe(ctx context.Context, handler HandlerFunc) error {
	handlerCtx := context.WithoutCancel(ctx)

	jobs := make(chan *kafkaJob)
	pending := make(chan *kafkaJob, s.workers)

	var workers sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for j := range jobs {
				s.handle(handlerCtx, handler, j.msg)
				close(j.done)
			}
		}()
	}

	committed := make(chan struct{})
	go func() {
		defer close(committed)
		for j := range pending {
			<-j.done
			if err := s.reader.CommitMessages(handlerCtx, j.msg); err != nil {
				s.logger.Errorw("Failed to commit message",
					"error", err,
					"topic", j.msg.Topic,
					"partition", j.msg.Partition,
					"offset", j.msg.Offset,
				)
			}
		}
	}()

	s.logger.Infow("Started consuming", "topic", s.topic, "workers", s.workers)

	var result error
	for {
		m, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Infow("Stopped consuming", "topic", s.topic, "reason", "context canceled")
				break
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				result = fmt.Errorf("%w: reader for topic %s closed", ErrClosed, s.topic)
				break
			}
			s.logger.Errorw("Error fetching kafka message", "error", err, "topic", s.topic)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		j := &kafkaJob{msg: m, done: make(chan struct{})}
		pending <- j
		jobs <- j
	}

	close(jobs)
	workers.Wait()
	close(pending)
	<-committed

	return result
}

func (s *KafkaSubscriber) handle(ctx context.Context, handler HandlerFunc, m kafka.Message) {
	ctx, span := tracing.StartSpanFromKafkaMessage(ctx, "kafka.consume", m.Headers)
	defer span.End()
	if sc := span.SpanContext(); sc.HasTraceID() {
		ctx = logging.WithTraceID(ctx, sc.TraceID().String())
	}

	headers := kafkaHeaders(m.Headers)
	id := headers[headerMessageID]
	if id == "" {
		id = string(m.Key)
	}

	d := Delivery{
		ID:         id,
		Body:       m.Value,
		RoutingKey: m.Topic,
		Headers:    headers,
	}

	err := invoke(ctx, constants.BrokerTypeKafka, s.logger, handler, d)
	if err == nil {
		return
	}

	if s.dlq == nil {
		s.logger.WarnwCtx(ctx, "No DLQ configured, dropping rejected message", "topic", m.Topic)
		return
	}

	dlqHeaders := copyHeaders(headers)
	delete(dlqHeaders, headerMessageID)
	delete(dlqHeaders, headerContentType)
	dlqHeaders[headerDLQReason] = err.Error()
	dlqHeaders[headerDLQSource] = m.Topic

	if dlqErr := s.dlq.Publish(ctx, Message{
		ID:      id,
		Key:     string(m.Key),
		Body:    m.Value,
		Headers: dlqHeaders,
	}); dlqErr != nil {
		s.logger.ErrorwCtx(ctx, "Failed to send message to DLQ", "error", dlqErr, "topic", m.Topic)
		return
	}

	metrics.IncDLQMessage(constants.BrokerTypeKafka, "rejected")
	s.logger.InfowCtx(ctx, "Message sent to DLQ",
		"source_topic", m.Topic,
		"dlq_topic", s.dlq.topic,
		"reason", err.Error(),
	)
}

func kafkaHeaders(hs []kafka.Header) map[string]string {
	headers := make(map[string]string, len(hs))
	for _, h := range hs {
		headers[h.Key] = string(h.Value)
	}
	return headers
}
