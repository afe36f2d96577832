//go:build integration

package broker

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkamodule "github.com/testcontainers/testcontainers-go/modules/kafka"

	"statusflow/internal/config"
	"statusflow/internal/logger"
)

func TestMain(m *testing.M) {
	if os.Getenv("TESTCONTAINERS_RYUK_DISABLED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	}
	os.Exit(m.Run())
}

func startKafka(t *testing.T) []string {
	t.Helper()
	ctx := context.Background()

	container, err := kafkamodule.Run(ctx, "confluentinc/confluent-local:7.5.0",
		kafkamodule.WithClusterID("statusflow-test"),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	return brokers
}

func createTopics(t *testing.T, broker string, topics ...string) {
	t.Helper()

	conn, err := kafka.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer controllerConn.Close()

	configs := make([]kafka.TopicConfig, 0, len(topics))
	for _, topic := range topics {
		configs = append(configs, kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1})
	}
	require.NoError(t, controllerConn.CreateTopics(configs...))
}

func committedOffset(ctx context.Context, brokers []string, groupID, topic string) (int64, error) {
	client := &kafka.Client{Addr: kafka.TCP(brokers...)}
	resp, err := client.OffsetFetch(ctx, &kafka.OffsetFetchRequest{
		GroupID: groupID,
		Topics:  map[string][]int{topic: {0}},
	})
	if err != nil {
		return 0, err
	}
	if resp.Error != nil {
		return 0, resp.Error
	}
	partitions := resp.Topics[topic]
	if len(partitions) == 0 {
		return 0, errors.New("no partitions in offset response")
	}
	return partitions[0].CommittedOffset, partitions[0].Error
}

func TestKafkaConnection_Integration(t *testing.T) {
	brokers := startKafka(t)

	cfg := config.BrokerConfig{
		Type:       "kafka",
		MaxUnacked: 2,
		Kafka: config.KafkaConfig{
			Brokers:  brokers,
			Topic:    "instrument.status",
			GroupID:  "apply-service",
			DLQTopic: "instrument.status.dlq",
		},
	}
	createTopics(t, brokers[0], cfg.Kafka.Topic, cfg.Kafka.DLQTopic)

	conn := NewKafkaConnection(cfg, logger.NopLogger())
	t.Cleanup(func() { conn.Close() })

	ctx := context.Background()
	require.NoError(t, conn.Ping(ctx))

	pub, err := conn.Publisher()
	require.NoError(t, err)
	for _, body := range []string{"ok-1", "bad", "ok-2"} {
		require.NoError(t, pub.Publish(ctx, Message{
			ID:      "id-" + body,
			Key:     "PKG1",
			Body:    []byte(body),
			Headers: map[string]string{"file_name": body + ".xml"},
		}))
	}

	sub, err := conn.Subscriber()
	require.NoError(t, err)

	var mu sync.Mutex
	var handled []Delivery
	subCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- sub.Subscribe(subCtx, func(ctx context.Context, d Delivery) error {
			mu.Lock()
			handled = append(handled, d)
			mu.Unlock()
			if string(d.Body) == "bad" {
				return errors.New("invalid payload")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 3
	}, 60*time.Second, 100*time.Millisecond)

	require.Eventually(t, func() bool {
		offset, err := committedOffset(ctx, brokers, cfg.Kafka.GroupID, cfg.Kafka.Topic)
		return err == nil && offset == 3
	}, 30*time.Second, 200*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	byID := make(map[string]Delivery, len(handled))
	for _, d := range handled {
		byID[d.ID] = d
	}
	mu.Unlock()
	require.Contains(t, byID, "id-ok-1")
	assert.Equal(t, "ok-1.xml", byID["id-ok-1"].Headers["file_name"])
	assert.Equal(t, cfg.Kafka.Topic, byID["id-ok-1"].RoutingKey)

	dlqReader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     cfg.Kafka.DLQTopic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer dlqReader.Close()

	readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
	defer readCancel()
	dead, err := dlqReader.ReadMessage(readCtx)
	require.NoError(t, err)

	headers := kafkaHeaders(dead.Headers)
	assert.Equal(t, []byte("bad"), dead.Value)
	assert.Equal(t, "id-bad", headers[headerMessageID])
	assert.Equal(t, "invalid payload", headers[headerDLQReason])
	assert.Equal(t, cfg.Kafka.Topic, headers[headerDLQSource])
}
