package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records saver metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordPut records a checkpoint store operation with its encoded size.
	RecordPut(ctx context.Context, threadID string, sizeBytes int64, duration time.Duration, err error)

	// RecordGet records a checkpoint lookup.
	RecordGet(ctx context.Context, threadID string, found bool, duration time.Duration)

	// RecordPutWrites records a pending-write append with its batch count.
	RecordPutWrites(ctx context.Context, threadID string, count, batches int, err error)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	puts           metric.Int64Counter
	putLatency     metric.Float64Histogram
	putErrors      metric.Int64Counter
	checkpointSize metric.Int64Histogram
	gets           metric.Int64Counter
	getLatency     metric.Float64Histogram
	writeBatches   metric.Int64Counter
	writesRecorded metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("dynoflow")

	puts, err := meter.Int64Counter("dynoflow.put.count",
		metric.WithDescription("Number of checkpoint store operations"),
	)
	if err != nil {
		return nil, err
	}

	putLatency, err := meter.Float64Histogram("dynoflow.put.latency_ms",
		metric.WithDescription("Checkpoint store latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	putErrors, err := meter.Int64Counter("dynoflow.put.errors",
		metric.WithDescription("Number of checkpoint store failures"),
	)
	if err != nil {
		return nil, err
	}

	checkpointSize, err := meter.Int64Histogram("dynoflow.checkpoint.size_bytes",
		metric.WithDescription("Encoded checkpoint size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	gets, err := meter.Int64Counter("dynoflow.get.count",
		metric.WithDescription("Number of checkpoint lookups"),
	)
	if err != nil {
		return nil, err
	}

	getLatency, err := meter.Float64Histogram("dynoflow.get.latency_ms",
		metric.WithDescription("Checkpoint lookup latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	writeBatches, err := meter.Int64Counter("dynoflow.writes.batches",
		metric.WithDescription("Number of pending-write batches flushed"),
	)
	if err != nil {
		return nil, err
	}

	writesRecorded, err := meter.Int64Counter("dynoflow.writes.count",
		metric.WithDescription("Number of pending writes recorded"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		puts:           puts,
		putLatency:     putLatency,
		putErrors:      putErrors,
		checkpointSize: checkpointSize,
		gets:           gets,
		getLatency:     getLatency,
		writeBatches:   writeBatches,
		writesRecorded: writesRecorded,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordPut records a checkpoint store operation.
func (m *otelMetrics) RecordPut(ctx context.Context, threadID string, sizeBytes int64, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("thread_id", threadID),
	}

	m.puts.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.putLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.checkpointSize.Record(ctx, sizeBytes, metric.WithAttributes(attrs...))

	if err != nil {
		m.putErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordGet records a checkpoint lookup.
func (m *otelMetrics) RecordGet(ctx context.Context, threadID string, found bool, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("thread_id", threadID),
		attribute.Bool("found", found),
	}
	m.gets.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.getLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordPutWrites records a pending-write append.
func (m *otelMetrics) RecordPutWrites(ctx context.Context, threadID string, count, batches int, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("thread_id", threadID),
	}
	m.writeBatches.Add(ctx, int64(batches), metric.WithAttributes(attrs...))
	m.writesRecorded.Add(ctx, int64(count), metric.WithAttributes(attrs...))
	if err != nil {
		m.putErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
