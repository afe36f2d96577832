package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statusflow/internal/broker"
	"statusflow/internal/config"
	"statusflow/internal/logger"
	"statusflow/pkg/health"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestRouter_Health(t *testing.T) {
	cfg := &config.Config{}

	healthy := health.NewCheckerRegistry()
	healthy.Register(health.NewPingChecker("store", pingerFunc(func(ctx context.Context) error { return nil })))

	router := NewRouter(context.Background(), cfg, "test", healthy, logger.NopLogger())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, health.StatusHealthy, body.Status)
	assert.Contains(t, body.Checks, "store")

	unhealthy := health.NewCheckerRegistry()
	unhealthy.Register(health.NewPingChecker("broker", pingerFunc(func(ctx context.Context) error {
		return errors.New("connection refused")
	})))

	router = NewRouter(context.Background(), cfg, "test", unhealthy, logger.NopLogger())
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestRouter_Metrics(t *testing.T) {
	router := NewRouter(context.Background(), &config.Config{}, "test", health.NewCheckerRegistry(), logger.NopLogger())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBase_BrokerLifecycle(t *testing.T) {
	cfg := &config.Config{Broker: config.BrokerConfig{Type: "memory", MaxUnacked: 1}}
	b := NewBase(cfg, logger.NopLogger())

	require.NoError(t, b.InitBroker(context.Background()))
	require.NotNil(t, b.Conn)

	var order []string
	err := b.Shutdown(context.Background(), func(ctx context.Context) []error {
		order = append(order, "additional")
		assert.NoError(t, b.Conn.Ping(ctx))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"additional"}, order)
	assert.ErrorIs(t, b.Conn.Ping(context.Background()), broker.ErrClosed)
}

func TestBase_ShutdownCollectsErrors(t *testing.T) {
	b := NewBase(&config.Config{}, logger.NopLogger())
	err := b.Shutdown(context.Background(), func(ctx context.Context) []error {
		return []error{errors.New("server stuck")}
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server stuck")
}

func TestBase_UnknownBroker(t *testing.T) {
	b := NewBase(&config.Config{Broker: config.BrokerConfig{Type: "nats"}}, logger.NopLogger())
	assert.Error(t, b.InitBroker(context.Background()))
	assert.Nil(t, b.Conn)
}
