package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHandler captures log records for testing.
type testHandler struct {
	buf   *bytes.Buffer
	level slog.Level
	attrs []slog.Attr
}

func newTestHandler() *testHandler {
	return &testHandler{
		buf:   &bytes.Buffer{},
		level: slog.LevelDebug,
	}
}

func (h *testHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *testHandler) Handle(_ context.Context, r slog.Record) error {
	data := map[string]any{
		"level": r.Level.String(),
		"msg":   r.Message,
	}
	for _, attr := range h.attrs {
		data[attr.Key] = attr.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		data[a.Key] = a.Value.Any()
		return true
	})
	return json.NewEncoder(h.buf).Encode(data)
}

func (h *testHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newH := &testHandler{
		buf:   h.buf,
		level: h.level,
		attrs: make([]slog.Attr, len(h.attrs)+len(attrs)),
	}
	copy(newH.attrs, h.attrs)
	copy(newH.attrs[len(h.attrs):], attrs)
	return newH
}

func (h *testHandler) WithGroup(string) slog.Handler { return h }

func (h *testHandler) getLastRecord() map[string]any {
	lines := bytes.Split(h.buf.Bytes(), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		if len(lines[i]) > 0 {
			var m map[string]any
			if err := json.Unmarshal(lines[i], &m); err == nil {
				return m
			}
		}
	}
	return nil
}

func TestEnrichLogger(t *testing.T) {
	t.Run("adds thread_id, checkpoint_ns, and checkpoint_id", func(t *testing.T) {
		h := newTestHandler()
		logger := slog.New(h)

		enriched := EnrichLogger(logger, "thread-1", "agent", "ckpt-9")
		enriched.Info("test message")

		record := h.getLastRecord()
		require.NotNil(t, record)
		assert.Equal(t, "thread-1", record["thread_id"])
		assert.Equal(t, "agent", record["checkpoint_ns"])
		assert.Equal(t, "ckpt-9", record["checkpoint_id"])
	})

	t.Run("nil logger returns nil", func(t *testing.T) {
		assert.Nil(t, EnrichLogger(nil, "thread-1", "", "ckpt-1"))
	})
}

func TestLogPut(t *testing.T) {
	h := newTestHandler()
	LogPut(slog.New(h), "thread-1", "ckpt-1", 2048)

	record := h.getLastRecord()
	require.NotNil(t, record)
	assert.Equal(t, "checkpoint stored", record["msg"])
	assert.Equal(t, "thread-1", record["thread_id"])
	assert.Equal(t, "ckpt-1", record["checkpoint_id"])
	assert.Equal(t, float64(2048), record["size_bytes"])

	// Nil logger must not panic.
	LogPut(nil, "thread-1", "ckpt-1", 0)
}

func TestLogPutError(t *testing.T) {
	h := newTestHandler()
	LogPutError(slog.New(h), "thread-1", "ckpt-1", errors.New("boom"))

	record := h.getLastRecord()
	require.NotNil(t, record)
	assert.Equal(t, "ERROR", record["level"])
	assert.Equal(t, "boom", record["error"])

	LogPutError(nil, "thread-1", "ckpt-1", errors.New("boom"))
}

func TestLogGet(t *testing.T) {
	h := newTestHandler()
	LogGet(slog.New(h), "thread-1", "ckpt-1", true)

	record := h.getLastRecord()
	require.NotNil(t, record)
	assert.Equal(t, "checkpoint lookup", record["msg"])
	assert.Equal(t, true, record["found"])

	LogGet(nil, "thread-1", "", false)
}

func TestLogPutWrites(t *testing.T) {
	h := newTestHandler()
	LogPutWrites(slog.New(h), "thread-1", "ckpt-1", "task-1", 30, 2)

	record := h.getLastRecord()
	require.NotNil(t, record)
	assert.Equal(t, "pending writes recorded", record["msg"])
	assert.Equal(t, "task-1", record["task_id"])
	assert.Equal(t, float64(30), record["count"])
	assert.Equal(t, float64(2), record["batches"])

	LogPutWrites(nil, "thread-1", "ckpt-1", "task-1", 0, 0)
}

func TestLogPutWritesError(t *testing.T) {
	h := newTestHandler()
	LogPutWritesError(slog.New(h), "thread-1", "ckpt-1", "task-1", 2, errors.New("throttled"))

	record := h.getLastRecord()
	require.NotNil(t, record)
	assert.Equal(t, "ERROR", record["level"])
	assert.Equal(t, float64(2), record["batch"])
	assert.Equal(t, "throttled", record["error"])

	LogPutWritesError(nil, "thread-1", "ckpt-1", "task-1", 0, errors.New("throttled"))
}

func TestLogList(t *testing.T) {
	h := newTestHandler()
	LogList(slog.New(h), "thread-1", 10)

	record := h.getLastRecord()
	require.NotNil(t, record)
	assert.Equal(t, "history listing", record["msg"])
	assert.Equal(t, float64(10), record["limit"])

	LogList(nil, "thread-1", 0)
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	time.Sleep(10 * time.Millisecond)
	elapsed := done()
	assert.GreaterOrEqual(t, elapsed, 10*time.Millisecond)
}
