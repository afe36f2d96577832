package ingest

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statusflow/internal/logger"
)

var errLocked = errors.New("The process cannot access the file because it is being used by another process")

func TestFileReader_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.xml")
	require.NoError(t, os.WriteFile(path, []byte("<Status/>"), 0o644))

	r := NewFileReader(5, time.Millisecond, logger.NopLogger())
	content, err := r.Read(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "<Status/>", string(content))
}

func TestFileReader_RetriesWhileLocked(t *testing.T) {
	r := NewFileReader(5, time.Millisecond, logger.NopLogger())
	attempts := 0
	r.open = func(path string) (io.ReadCloser, error) {
		attempts++
		if attempts < 3 {
			return nil, errLocked
		}
		return io.NopCloser(strings.NewReader("ok")), nil
	}

	content, err := r.Read(context.Background(), "status.xml")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(content))
	assert.Equal(t, 3, attempts)
}

func TestFileReader_GivesUpAfterAttempts(t *testing.T) {
	r := NewFileReader(5, time.Millisecond, logger.NopLogger())
	attempts := 0
	r.open = func(path string) (io.ReadCloser, error) {
		attempts++
		return nil, errLocked
	}

	_, err := r.Read(context.Background(), "status.xml")
	require.Error(t, err)
	assert.ErrorIs(t, err, errLocked)
	assert.Equal(t, 5, attempts)
}

func TestFileReader_MissingFileIsNotRetried(t *testing.T) {
	r := NewFileReader(5, time.Millisecond, logger.NopLogger())

	_, err := r.Read(context.Background(), filepath.Join(t.TempDir(), "gone.xml"))
	assert.ErrorIs(t, err, ErrFileGone)
}

func TestFileReader_StopsOnCancel(t *testing.T) {
	r := NewFileReader(5, time.Hour, logger.NopLogger())
	r.open = func(path string) (io.ReadCloser, error) { return nil, errLocked }

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	_, err := r.Read(ctx, "status.xml")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
