package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"statusflow/internal/constants"
	"statusflow/internal/logger"
	"statusflow/pkg/metrics"
	"statusflow/pkg/retry"
)

// ErrFileGone means the file vanished before it could be read.
var ErrFileGone = errors.New("file no longer exists")

type openFunc func(path string) (io.ReadCloser, error)

// FileReader reads a whole file, retrying while another writer still holds it.
type FileReader struct {
	policy retry.Policy
	open   openFunc
	logger logger.Logger
}

func NewFileReader(attempts int, backoff time.Duration, log logger.Logger) *FileReader {
	return &FileReader{
		policy: retry.ConstantPolicy(attempts, backoff),
		open: func(path string) (io.ReadCloser, error) {
			return os.Open(path)
		},
		logger: log,
	}
}

func (r *FileReader) Read(ctx context.Context, path string) ([]byte, error) {
	var content []byte
	err := retry.RetryWithCallback(ctx, r.policy, func() error {
		f, err := r.open(path)
		if errors.Is(err, fs.ErrNotExist) {
			return retry.NewFatalError(fmt.Errorf("%w: %s", ErrFileGone, path))
		}
		if err != nil {
			return err
		}
		defer f.Close()

		content, err = io.ReadAll(f)
		return err
	}, func(attempt int, err error, next time.Duration) {
		metrics.IngestReadRetriesTotal.Inc()
		metrics.IncRetryAttempt(constants.ServiceNameIngest, "read")
		r.logger.DebugwCtx(ctx, "File busy, retrying read",
			"path", path,
			"attempt", attempt,
			"next_delay", next,
			"error", err,
		)
	})
	if err != nil {
		return nil, fmt.Errorf("cannot read file %s: %w", path, err)
	}
	return content, nil
}
