package apply

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statusflow/internal/broker"
	"statusflow/internal/config"
	"statusflow/internal/logger"
	"statusflow/pkg/models"
)

func newTestHandler(s *memStore, cfg config.ApplyConfig) *Handler {
	return NewHandler(NewService(s, cfg, logger.NopLogger()), logger.NopLogger())
}

func TestHandler_AcksValidMessage(t *testing.T) {
	s := newMemStore()
	h := newTestHandler(s, config.ApplyConfig{})

	body, err := models.Encode(message(
		models.ModuleUpdate{ModuleCategoryID: "M1", ModuleState: "Online"},
		models.ModuleUpdate{ModuleCategoryID: "M2", ModuleState: "Run"},
	))
	require.NoError(t, err)

	require.NoError(t, h.HandleDelivery(context.Background(), broker.Delivery{ID: "m-1", Body: body}))

	state, ok := s.state("M2")
	require.True(t, ok)
	assert.Equal(t, "Run", state)
}

func TestHandler_RejectsBadPayloads(t *testing.T) {
	payloads := map[string]string{
		"not json": "<InstrumentStatus/>",
		"null":     "null",
		"empty":    "",
		"wrong":    `{"PackageID": 5}`,
	}

	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			s := newMemStore()
			h := newTestHandler(s, config.ApplyConfig{})

			err := h.HandleDelivery(context.Background(), broker.Delivery{ID: "m", Body: []byte(payload)})
			assert.Error(t, err)
			assert.Empty(t, s.upserts)
		})
	}
}

func TestHandler_MissingModulesIsAcked(t *testing.T) {
	s := newMemStore()
	h := newTestHandler(s, config.ApplyConfig{})

	body := []byte(`{"PackageID":"PKG1","TimestampUtc":"2024-03-01T12:00:00Z","Extra":true}`)
	require.NoError(t, h.HandleDelivery(context.Background(), broker.Delivery{ID: "m", Body: body}))
	assert.Empty(t, s.upserts)
}

func TestHandler_RejectsOnStoreFailure(t *testing.T) {
	s := newMemStore()
	s.failOn["M1"] = true
	h := newTestHandler(s, config.ApplyConfig{})

	body, err := models.Encode(message(models.ModuleUpdate{ModuleCategoryID: "M1", ModuleState: "Online"}))
	require.NoError(t, err)

	err = h.HandleDelivery(context.Background(), broker.Delivery{ID: "m", Body: body})
	assert.ErrorIs(t, err, errStoreDown)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc...", truncate("abcdef", 3))
	assert.Equal(t, "a...", truncate("aé", 2))
	assert.Len(t, truncate(strings.Repeat("x", 500), 100), 103)
}
