package health

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestCheckerRegistry(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.xml")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus Status
		unhealthy  []string
	}{
		{
			name:       "empty registry is healthy",
			wantStatus: StatusHealthy,
		},
		{
			name: "all passing",
			checkers: []Checker{
				NewPingChecker("store", pingerFunc(func(context.Context) error { return nil })),
				NewDirChecker("watch_folder", dir),
			},
			wantStatus: StatusHealthy,
		},
		{
			name: "failing ping",
			checkers: []Checker{
				NewPingChecker("broker", pingerFunc(func(context.Context) error { return errors.New("closed") })),
				NewDirChecker("watch_folder", dir),
			},
			wantStatus: StatusUnhealthy,
			unhealthy:  []string{"broker"},
		},
		{
			name: "missing and non-directory paths",
			checkers: []Checker{
				NewDirChecker("missing", filepath.Join(dir, "nope")),
				NewDirChecker("file", file),
			},
			wantStatus: StatusUnhealthy,
			unhealthy:  []string{"missing", "file"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewCheckerRegistry()
			for _, c := range tt.checkers {
				registry.Register(c)
			}

			h := registry.Check(context.Background())
			assert.Equal(t, tt.wantStatus, h.Status)
			assert.Len(t, h.Checks, len(tt.checkers))
			for _, name := range tt.unhealthy {
				assert.Equal(t, StatusUnhealthy, h.Checks[name].Status)
				assert.NotEmpty(t, h.Checks[name].Message)
			}
		})
	}
}
