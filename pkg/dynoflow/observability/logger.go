// Package observability provides production-grade observability features
// for dynoflow savers: structured logging, metrics, and distributed tracing.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds checkpoint context to a logger.
// Returns a new logger with thread_id, checkpoint_ns, and checkpoint_id fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "thread-1", "", "0198...")
//	enriched.Info("doing work") // includes thread_id, checkpoint_ns, checkpoint_id
func EnrichLogger(logger *slog.Logger, threadID, namespace, checkpointID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("thread_id", threadID),
		slog.String("checkpoint_ns", namespace),
		slog.String("checkpoint_id", checkpointID),
	)
}

// LogPut logs a stored checkpoint.
func LogPut(logger *slog.Logger, threadID, checkpointID string, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Debug("checkpoint stored",
		slog.String("thread_id", threadID),
		slog.String("checkpoint_id", checkpointID),
		slog.Int("size_bytes", sizeBytes),
	)
}

// LogPutError logs a checkpoint store failure.
func LogPutError(logger *slog.Logger, threadID, checkpointID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("checkpoint store failed",
		slog.String("thread_id", threadID),
		slog.String("checkpoint_id", checkpointID),
		slog.String("error", err.Error()),
	)
}

// LogGet logs a checkpoint lookup.
func LogGet(logger *slog.Logger, threadID, checkpointID string, found bool) {
	if logger == nil {
		return
	}
	logger.Debug("checkpoint lookup",
		slog.String("thread_id", threadID),
		slog.String("checkpoint_id", checkpointID),
		slog.Bool("found", found),
	)
}

// LogPutWrites logs recorded pending writes.
func LogPutWrites(logger *slog.Logger, threadID, checkpointID, taskID string, count, batches int) {
	if logger == nil {
		return
	}
	logger.Debug("pending writes recorded",
		slog.String("thread_id", threadID),
		slog.String("checkpoint_id", checkpointID),
		slog.String("task_id", taskID),
		slog.Int("count", count),
		slog.Int("batches", batches),
	)
}

// LogPutWritesError logs a pending-write batch failure.
// Batches already flushed stay written; the batch index says how far we got.
func LogPutWritesError(logger *slog.Logger, threadID, checkpointID, taskID string, batch int, err error) {
	if logger == nil {
		return
	}
	logger.Error("pending write batch failed",
		slog.String("thread_id", threadID),
		slog.String("checkpoint_id", checkpointID),
		slog.String("task_id", taskID),
		slog.Int("batch", batch),
		slog.String("error", err.Error()),
	)
}

// LogList logs the start of a history listing.
func LogList(logger *slog.Logger, threadID string, limit int) {
	if logger == nil {
		return
	}
	logger.Debug("history listing",
		slog.String("thread_id", threadID),
		slog.Int("limit", limit),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	elapsed := done()
func TimedOperation() func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		return time.Since(start)
	}
}
