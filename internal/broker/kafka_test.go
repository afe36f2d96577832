package broker

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statusflow/internal/config"
	"statusflow/internal/logger"
)

type fakeKafkaWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeKafkaWriter) Close() error {
	w.closed = true
	return nil
}

func (w *fakeKafkaWriter) snapshot() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.messages...)
}

// fakeKafkaReader serves queued messages, then blocks until ctx is done or
// the reader is closed.
type fakeKafkaReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	closed    chan struct{}
	once      sync.Once
}

func newFakeKafkaReader(msgs ...kafka.Message) *fakeKafkaReader {
	return &fakeKafkaReader{queue: msgs, closed: make(chan struct{})}
}

func (r *fakeKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()

	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case <-r.closed:
		return kafka.Message{}, io.EOF
	}
}

func (r *fakeKafkaReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeKafkaReader) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

func (r *fakeKafkaReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func newTestKafkaConnection(cfg config.BrokerConfig, w *fakeKafkaWriter, r *fakeKafkaReader) *KafkaConnection {
	c := NewKafkaConnection(cfg, logger.NopLogger())
	c.newWriter = func() kafkaWriter { return w }
	c.newReader = func() kafkaReader { return r }
	c.ping = func(ctx context.Context) error { return nil }
	return c
}

func kafkaTestConfig() config.BrokerConfig {
	return config.BrokerConfig{
		Type:       "kafka",
		MaxUnacked: 4,
		Kafka: config.KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "instrument.status",
			GroupID: "apply-service",
		},
	}
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeKafkaWriter{}
	conn := newTestKafkaConnection(kafkaTestConfig(), w, newFakeKafkaReader())

	pub, err := conn.Publisher()
	require.NoError(t, err)

	require.NoError(t, pub.Publish(context.Background(), Message{
		ID:      "m-1",
		Key:     "PKG1",
		Body:    []byte(`{}`),
		Headers: map[string]string{"file_name": "a.xml"},
	}))

	msgs := w.snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, "instrument.status", msgs[0].Topic)
	assert.Equal(t, []byte("PKG1"), msgs[0].Key)

	headers := kafkaHeaders(msgs[0].Headers)
	assert.Equal(t, "m-1", headers[headerMessageID])
	assert.Equal(t, "application/json", headers[headerContentType])
	assert.Equal(t, "a.xml", headers["file_name"])
}

func TestKafkaPublisher_Error(t *testing.T) {
	w := &fakeKafkaWriter{err: errors.New("leader not available")}
	conn := newTestKafkaConnection(kafkaTestConfig(), w, newFakeKafkaReader())

	pub, err := conn.Publisher()
	require.NoError(t, err)
	assert.Error(t, pub.Publish(context.Background(), Message{ID: "m"}))
}

func TestKafkaSubscriber_CommitsInOrderAndDeadLetters(t *testing.T) {
	cfg := kafkaTestConfig()
	cfg.Kafka.DLQTopic = "instrument.status.dlq"

	var msgs []kafka.Message
	for i := 0; i < 6; i++ {
		body := "ok"
		if i == 2 {
			body = "bad"
		}
		msgs = append(msgs, kafka.Message{
			Topic:   "instrument.status",
			Offset:  int64(i),
			Key:     []byte("PKG"),
			Value:   []byte(body),
			Headers: []kafka.Header{{Key: headerMessageID, Value: []byte("id-" + string(rune('a'+i)))}},
		})
	}

	w := &fakeKafkaWriter{}
	r := newFakeKafkaReader(msgs...)
	conn := newTestKafkaConnection(cfg, w, r)

	sub, err := conn.Subscriber()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- sub.Subscribe(ctx, func(ctx context.Context, d Delivery) error {
			if d.ID == "id-a" {
				time.Sleep(20 * time.Millisecond)
			}
			if string(d.Body) == "bad" {
				return errors.New("invalid payload")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool { return len(r.commits()) == 6 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5}, r.commits())

	dead := w.snapshot()
	require.Len(t, dead, 1)
	assert.Equal(t, "instrument.status.dlq", dead[0].Topic)
	headers := kafkaHeaders(dead[0].Headers)
	assert.Equal(t, "id-c", headers[headerMessageID])
	assert.Equal(t, "invalid payload", headers[headerDLQReason])
	assert.Equal(t, "instrument.status", headers[headerDLQSource])
}

func TestKafkaSubscriber_BoundsConcurrency(t *testing.T) {
	var msgs []kafka.Message
	for i := 0; i < 12; i++ {
		msgs = append(msgs, kafka.Message{Topic: "instrument.status", Offset: int64(i), Value: []byte("ok")})
	}
	r := newFakeKafkaReader(msgs...)
	conn := newTestKafkaConnection(kafkaTestConfig(), &fakeKafkaWriter{}, r)

	sub, err := conn.Subscriber()
	require.NoError(t, err)

	gauge := &inFlightGauge{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- sub.Subscribe(ctx, gauge.handler)
	}()

	require.Eventually(t, func() bool { return len(r.commits()) == 12 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, int32(12), gauge.total.Load())
	assert.LessOrEqual(t, gauge.peak.Load(), int32(kafkaTestConfig().MaxUnacked))
}

func TestKafkaSubscriber_RejectWithoutDLQIsDropped(t *testing.T) {
	w := &fakeKafkaWriter{}
	r := newFakeKafkaReader(kafka.Message{Offset: 7, Value: []byte("x")})
	conn := newTestKafkaConnection(kafkaTestConfig(), w, r)

	sub, err := conn.Subscriber()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- sub.Subscribe(ctx, func(ctx context.Context, d Delivery) error {
			return errors.New("nope")
		})
	}()

	require.Eventually(t, func() bool { return len(r.commits()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, w.snapshot())
}

func TestKafkaConnection_CloseStopsSubscriber(t *testing.T) {
	w := &fakeKafkaWriter{}
	r := newFakeKafkaReader()
	conn := newTestKafkaConnection(kafkaTestConfig(), w, r)

	_, err := conn.Publisher()
	require.NoError(t, err)
	sub, err := conn.Subscriber()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- sub.Subscribe(context.Background(), func(ctx context.Context, d Delivery) error { return nil })
	}()

	require.NoError(t, conn.Close())
	assert.ErrorIs(t, <-done, ErrClosed)
	assert.True(t, w.closed)
	assert.ErrorIs(t, conn.Ping(context.Background()), ErrClosed)
	assert.NoError(t, conn.Close())
}
