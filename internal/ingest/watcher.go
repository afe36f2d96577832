package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"statusflow/internal/broker"
	"statusflow/internal/config"
	"statusflow/internal/constants"
	"statusflow/internal/logger"
	"statusflow/pkg/logging"
	"statusflow/pkg/metrics"
	"statusflow/pkg/models"
	"statusflow/pkg/retry"
	"statusflow/pkg/tracing"
)

const (
	HeaderFileName  = "file_name"
	HeaderPackageID = "package_id"
)

// Watcher polls the watch folder and turns every file into one published
// message. A file already in flight is not started again, and at most
// max_concurrent_files files are processed at once; files over the cap wait
// for a later tick.
type Watcher struct {
	cfg           config.IngestConfig
	publisher     broker.Publisher
	publishPolicy retry.Policy
	reader        *FileReader
	parser        *Parser
	logger        logger.Logger

	sem      *semaphore.Weighted
	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup
}

func NewWatcher(cfg config.IngestConfig, publishRetry config.RetryConfig, publisher broker.Publisher, log logger.Logger) *Watcher {
	limit := cfg.MaxConcurrentFiles
	if limit < 1 {
		limit = 1
	}
	return &Watcher{
		cfg:           cfg,
		publisher:     publisher,
		publishPolicy: retry.FromConfig(publishRetry),
		reader:        NewFileReader(cfg.ReadAttempts, cfg.ReadBackoff(), log),
		parser:        NewParser(cfg.StateSource),
		logger:        log,
		sem:           semaphore.NewWeighted(int64(limit)),
		inFlight:      make(map[string]struct{}),
	}
}

// EnsureFolders creates the watch, processed and failed folders.
func EnsureFolders(cfg config.IngestConfig) error {
	for _, dir := range []string{cfg.WatchFolder, cfg.ProcessedFolder, cfg.FailedFolder} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create folder %s: %w", dir, err)
		}
	}
	return nil
}

// Run scans on every poll interval until ctx is done, then waits for the
// files in flight. Files interrupted by shutdown stay in the watch folder.
func (w *Watcher) Run(ctx context.Context) error {
	if err := EnsureFolders(w.cfg); err != nil {
		return err
	}

	if w.cfg.StateSource == config.StateSourceRandom {
		w.logger.WarnwCtx(ctx, "Module states are randomised; parsed ModuleState values are ignored")
	}
	w.logger.InfowCtx(ctx, "Ingest watcher started",
		"watch_folder", w.cfg.WatchFolder,
		"poll_interval", w.cfg.PollInterval(),
		"max_concurrent_files", w.cfg.MaxConcurrentFiles,
	)

	ticker := time.NewTicker(w.cfg.PollInterval())
	defer ticker.Stop()

	for {
		w.Scan(ctx)

		select {
		case <-ctx.Done():
			w.logger.InfowCtx(ctx, "Ingest watcher stopping, waiting for files in flight")
			w.wg.Wait()
			return nil
		case <-ticker.C:
		}
	}
}

// Scan lists the watch folder once and starts a task for each eligible file.
// It never blocks on running tasks.
func (w *Watcher) Scan(ctx context.Context) {
	entries, err := os.ReadDir(w.cfg.WatchFolder)
	if err != nil {
		w.logger.ErrorwCtx(ctx, "Error while polling directory", "folder", w.cfg.WatchFolder, "error", err)
		return
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(w.cfg.WatchFolder, entry.Name())

		if !w.claim(path) {
			continue
		}
		if !w.sem.TryAcquire(1) {
			w.release(path)
			w.logger.DebugwCtx(ctx, "Concurrency limit reached, deferring file", "path", path)
			continue
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer w.sem.Release(1)
			defer w.release(path)
			w.processFile(ctx, path)
		}()
	}
}

// Wait blocks until every started file task has finished.
func (w *Watcher) Wait() {
	w.wg.Wait()
}

func (w *Watcher) claim(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.inFlight[path]; ok {
		return false
	}
	w.inFlight[path] = struct{}{}
	return true
}

func (w *Watcher) release(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inFlight, path)
}

func (w *Watcher) processFile(ctx context.Context, path string) {
	start := time.Now()
	name := filepath.Base(path)
	ctx = logging.WithFileName(ctx, name)

	ctx, span := tracing.GetTracer(tracing.TracerName).Start(ctx, "ingest.file")
	defer span.End()
	span.SetAttributes(attribute.String("file.name", name))
	if sc := span.SpanContext(); sc.HasTraceID() {
		ctx = logging.WithTraceID(ctx, sc.TraceID().String())
	}

	metrics.IngestFilesInFlight.Inc()
	defer metrics.IngestFilesInFlight.Dec()

	w.logger.InfowCtx(ctx, "Processing file", "path", path)

	content, err := w.reader.Read(ctx, path)
	switch {
	case errors.Is(err, ErrFileGone):
		w.skip(ctx, start, constants.ReasonGone, path)
		return
	case ctx.Err() != nil:
		w.skip(ctx, start, constants.ReasonCancelled, path)
		return
	case err != nil:
		w.fail(ctx, start, constants.ReasonRead, path, err)
		return
	}

	msg, err := w.parser.Parse(content)
	if err != nil {
		w.fail(ctx, start, constants.ReasonParse, path, err)
		return
	}
	ctx = logging.WithPackageID(ctx, msg.PackageID)
	span.SetAttributes(
		attribute.String("package.id", msg.PackageID),
		attribute.Int("modules.count", len(msg.Modules)),
	)

	if err := w.publish(ctx, msg, name); err != nil {
		if ctx.Err() != nil {
			w.skip(ctx, start, constants.ReasonCancelled, path)
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		w.fail(ctx, start, constants.ReasonPublish, path, err)
		return
	}

	dest, err := MoveFileToDir(path, w.cfg.ProcessedFolder)
	if err != nil {
		w.fail(ctx, start, constants.ReasonMove, path, fmt.Errorf("published but could not move to processed: %w", err))
		return
	}

	metrics.IncIngestFile(constants.OutcomeProcessed, "")
	metrics.ObserveIngestFileDuration(constants.OutcomeProcessed, time.Since(start))
	w.logger.InfowCtx(ctx, "File processed",
		"path", path,
		"dest", dest,
		"modules", len(msg.Modules),
	)
}

func (w *Watcher) publish(ctx context.Context, msg *models.StatusMessage, fileName string) error {
	body, err := models.Encode(msg)
	if err != nil {
		return err
	}

	out := broker.Message{
		ID:          uuid.NewString(),
		Key:         msg.PackageID,
		Body:        body,
		ContentType: constants.ContentTypeJSON,
		Headers: map[string]string{
			HeaderFileName:  fileName,
			HeaderPackageID: msg.PackageID,
		},
		Timestamp: msg.TimestampUtc,
	}
	ctx = logging.WithMessageID(ctx, out.ID)

	return retry.RetryWithCallback(ctx, w.publishPolicy, func() error {
		err := w.publisher.Publish(ctx, out)
		if errors.Is(err, broker.ErrClosed) {
			return retry.NewFatalError(err)
		}
		return err
	}, func(attempt int, err error, next time.Duration) {
		metrics.IncRetryAttempt(constants.ServiceNameIngest, "publish")
		w.logger.WarnwCtx(ctx, "Publish failed, retrying",
			"attempt", attempt,
			"next_delay", next,
			"error", err,
		)
	})
}

// fail moves the file to the failed folder. A failed move is logged and the
// file is left where it is.
func (w *Watcher) fail(ctx context.Context, start time.Time, reason, path string, cause error) {
	metrics.IncIngestFile(constants.OutcomeFailed, reason)
	metrics.ObserveIngestFileDuration(constants.OutcomeFailed, time.Since(start))

	dest, err := MoveFileToDir(path, w.cfg.FailedFolder)
	if err != nil {
		w.logger.ErrorwCtx(ctx, "Error processing file",
			"path", path,
			"reason", reason,
			"error", cause,
			"move_error", err,
		)
		return
	}
	w.logger.WarnwCtx(ctx, "File could not be processed, moved to failed folder",
		"path", path,
		"dest", dest,
		"reason", reason,
		"error", cause,
	)
}

func (w *Watcher) skip(ctx context.Context, start time.Time, reason, path string) {
	metrics.IncIngestFile(constants.OutcomeSkipped, reason)
	metrics.ObserveIngestFileDuration(constants.OutcomeSkipped, time.Since(start))
	w.logger.InfowCtx(ctx, "File left in watch folder", "path", path, "reason", reason)
}
