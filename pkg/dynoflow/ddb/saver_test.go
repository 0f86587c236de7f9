package ddb_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/dynoflow/pkg/dynoflow"
	"github.com/randalmurphal/dynoflow/pkg/dynoflow/ddb"
	"github.com/randalmurphal/dynoflow/pkg/dynoflow/savertest"
)

func newSaver(t *testing.T, client ddb.Client) *ddb.Saver {
	t.Helper()
	saver, err := ddb.New(ddb.Config{Client: client})
	require.NoError(t, err)
	return saver
}

func TestSaver_Contract(t *testing.T) {
	savertest.Run(t, "ddb", func(t *testing.T) dynoflow.Saver {
		return newSaver(t, newFakeDynamo())
	})
}

func TestNew_RequiresClient(t *testing.T) {
	_, err := ddb.New(ddb.Config{})
	assert.Error(t, err)
}

func TestPutWrites_ChunksBatches(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	saver := newSaver(t, fake)
	defer saver.Close()

	written, err := saver.Put(ctx, dynoflow.Address{ThreadID: "thread-1"},
		dynoflow.NewCheckpoint(nil), nil)
	require.NoError(t, err)

	writes := make([]dynoflow.ChannelWrite, 30)
	for i := range writes {
		writes[i] = dynoflow.ChannelWrite{Channel: "c", Value: i}
	}
	require.NoError(t, saver.PutWrites(ctx, written, writes, "task-1"))

	// 30 writes cross the 25-item batch ceiling: 25 + 5.
	assert.Equal(t, 2, fake.batchCalls)

	tuple, err := saver.Get(ctx, written)
	require.NoError(t, err)
	require.NotNil(t, tuple)
	require.Len(t, tuple.PendingWrites, 30)

	seen := make(map[int]bool)
	for _, pw := range tuple.PendingWrites {
		assert.Equal(t, "task-1", pw.TaskID)
		assert.False(t, seen[pw.Idx], "duplicate idx %d", pw.Idx)
		seen[pw.Idx] = true
		assert.GreaterOrEqual(t, pw.Idx, 0)
		assert.Less(t, pw.Idx, 30)
	}
}

func TestPutWrites_PartialBatchFailure(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	fake.failBatch = 2
	fake.batchErr = errors.New("throughput exceeded")
	saver := newSaver(t, fake)
	defer saver.Close()

	written, err := saver.Put(ctx, dynoflow.Address{ThreadID: "thread-1"},
		dynoflow.NewCheckpoint(nil), nil)
	require.NoError(t, err)

	writes := make([]dynoflow.ChannelWrite, 30)
	for i := range writes {
		writes[i] = dynoflow.ChannelWrite{Channel: "c", Value: i}
	}
	err = saver.PutWrites(ctx, written, writes, "task-1")
	require.ErrorContains(t, err, "throughput exceeded")

	// No rollback: the first batch stays durably written.
	tuple, err := saver.Get(ctx, written)
	require.NoError(t, err)
	require.NotNil(t, tuple)
	assert.Len(t, tuple.PendingWrites, 25)
}

func TestPut_PayloadTooLarge(t *testing.T) {
	ctx := context.Background()
	saver := newSaver(t, newFakeDynamo())
	defer saver.Close()

	cp := dynoflow.NewCheckpoint(map[string]any{
		"blob": strings.Repeat("x", 500*1024),
	})
	_, err := saver.Put(ctx, dynoflow.Address{ThreadID: "thread-1"}, cp, nil)
	require.ErrorIs(t, err, dynoflow.ErrPayloadTooLarge)

	// The rejected record never reached the store.
	tuple, err := saver.Get(ctx, dynoflow.Address{ThreadID: "thread-1", CheckpointID: cp.ID})
	require.NoError(t, err)
	assert.Nil(t, tuple)
}

func TestPut_TypeMismatch(t *testing.T) {
	ctx := context.Background()
	saver, err := ddb.New(ddb.Config{
		Client:     newFakeDynamo(),
		Serializer: splitTagSerializer{},
	})
	require.NoError(t, err)
	defer saver.Close()

	_, err = saver.Put(ctx, dynoflow.Address{ThreadID: "thread-1"},
		dynoflow.NewCheckpoint(nil), dynoflow.Metadata{"k": "v"})
	assert.ErrorIs(t, err, dynoflow.ErrTypeMismatch)
}

// splitTagSerializer tags checkpoints and metadata differently, which
// Put must reject.
type splitTagSerializer struct {
	dynoflow.JSONSerializer
}

func (splitTagSerializer) Encode(v any) (string, []byte, error) {
	tag, data, err := (dynoflow.JSONSerializer{}).Encode(v)
	if _, isCheckpoint := v.(*dynoflow.Checkpoint); !isCheckpoint {
		tag = tag + "+meta"
	}
	return tag, data, err
}

// recordingHandler captures slog records with their merged attributes.
type recordingHandler struct {
	mu      sync.Mutex
	attrs   []slog.Attr
	records []map[string]any
	root    *recordingHandler
}

// store returns the handler that owns the shared record log, so
// handlers derived via WithAttrs append to the same slice find reads.
func (h *recordingHandler) store() *recordingHandler {
	if h.root != nil {
		return h.root
	}
	return h
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := map[string]any{"msg": r.Message}
	for _, a := range h.attrs {
		rec[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec[a.Key] = a.Value.Any()
		return true
	})
	s := h.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &recordingHandler{attrs: append(append([]slog.Attr{}, h.attrs...), attrs...), root: h.store()}
}

func (h *recordingHandler) WithGroup(string) slog.Handler { return h }

func (h *recordingHandler) find(msg string) map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, rec := range h.records {
		if rec["msg"] == msg {
			return rec
		}
	}
	return nil
}

func TestGet_MalformedForeignWriteKey(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	handler := &recordingHandler{}
	saver, err := ddb.New(ddb.Config{
		Client: fake,
		Logger: slog.New(handler),
	})
	require.NoError(t, err)
	defer saver.Close()

	written, err := saver.Put(ctx, dynoflow.Address{ThreadID: "thread-1"},
		dynoflow.NewCheckpoint(nil), nil)
	require.NoError(t, err)

	// A foreign writer stored a sort key the codec cannot split.
	writesTable := fake.tables["writes"]
	badItem := map[string]types.AttributeValue{
		"thread_id_checkpoint_id_checkpoint_ns": &types.AttributeValueMemberS{
			Value: written.ThreadID + ":::" + written.CheckpointID + ":::",
		},
		"task_id_idx": &types.AttributeValueMemberS{Value: "task-without-idx"},
		"channel":     &types.AttributeValueMemberS{Value: "c"},
		"type":        &types.AttributeValueMemberS{Value: "json"},
		"value":       &types.AttributeValueMemberB{Value: []byte(`"v"`)},
	}
	writesTable.rows[writesTable.key(badItem)] = badItem

	_, err = saver.Get(ctx, written)
	assert.ErrorIs(t, err, dynoflow.ErrMalformedKey)

	// The failure log carries the full checkpoint context.
	rec := handler.find("pending write load failed")
	require.NotNil(t, rec)
	assert.Equal(t, written.ThreadID, rec["thread_id"])
	assert.Equal(t, written.Namespace, rec["checkpoint_ns"])
	assert.Equal(t, written.CheckpointID, rec["checkpoint_id"])
}

// captureMetrics records RecordGet invocations.
type captureMetrics struct {
	mu   sync.Mutex
	gets []struct {
		threadID string
		found    bool
	}
}

func (m *captureMetrics) RecordPut(context.Context, string, int64, time.Duration, error) {}

func (m *captureMetrics) RecordGet(_ context.Context, threadID string, found bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets = append(m.gets, struct {
		threadID string
		found    bool
	}{threadID, found})
}

func (m *captureMetrics) RecordPutWrites(context.Context, string, int, int, error) {}

func TestGet_StoreError_RecordsMetric(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	fake.queryErr = errors.New("provisioned throughput exceeded")
	metrics := &captureMetrics{}
	saver, err := ddb.New(ddb.Config{Client: fake, Metrics: metrics})
	require.NoError(t, err)
	defer saver.Close()

	_, err = saver.Get(ctx, dynoflow.Address{ThreadID: "thread-1"})
	require.ErrorContains(t, err, "provisioned throughput exceeded")

	require.Len(t, metrics.gets, 1)
	assert.Equal(t, "thread-1", metrics.gets[0].threadID)
	assert.False(t, metrics.gets[0].found)
}

func TestList_LazyPaging(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	saver := newSaver(t, fake)
	defer saver.Close()

	addr := dynoflow.Address{ThreadID: "thread-1"}
	for i := 0; i < 3; i++ {
		var err error
		addr, err = saver.Put(ctx, addr, dynoflow.NewCheckpoint(nil), nil)
		require.NoError(t, err)
	}

	queriesBefore := fake.queryCalls
	it := saver.List(ctx, dynoflow.Address{ThreadID: "thread-1"}, dynoflow.ListOptions{})
	assert.Equal(t, queriesBefore, fake.queryCalls, "List must not query before Next")

	require.True(t, it.Next(ctx))
	assert.Greater(t, fake.queryCalls, queriesBefore)
	require.NoError(t, it.Err())
}
