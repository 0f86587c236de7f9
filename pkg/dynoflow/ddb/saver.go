package ddb

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/randalmurphal/dynoflow/pkg/dynoflow"
	"github.com/randalmurphal/dynoflow/pkg/dynoflow/observability"
)

// listPageSize is how many checkpoints one List page pulls from the
// store when the caller's limit doesn't bound it tighter.
const listPageSize = 100

// Saver persists checkpoint histories in two DynamoDB tables.
// It implements dynoflow.Saver; see that interface for the concurrency
// contract. All store calls go through the injected Client, which the
// caller owns; Close only marks the saver unusable.
type Saver struct {
	checkpoints checkpointTable
	writes      writeLog
	serde       dynoflow.Serializer
	logger      *slog.Logger
	metrics     observability.MetricsRecorder
	spans       observability.SpanManager

	mu     sync.RWMutex
	closed bool
}

// Compile-time interface check.
var _ dynoflow.Saver = (*Saver)(nil)

func (s *Saver) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("ddb: %w", dynoflow.ErrSaverClosed)
	}
	return nil
}

// Get implements dynoflow.Saver.
func (s *Saver) Get(ctx context.Context, addr dynoflow.Address) (tuple *dynoflow.CheckpointTuple, err error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := addr.Validate(); err != nil {
		return nil, err
	}

	done := observability.TimedOperation()
	ctx, span := s.spans.StartOpSpan(ctx, "get", addr.ThreadID, addr.CheckpointID)
	defer func() { s.spans.EndSpanWithError(span, err) }()

	var item *checkpointItem
	if addr.CheckpointID != "" {
		item, err = s.checkpoints.get(ctx, addr.ThreadID, addr.CheckpointID)
	} else {
		item, err = s.checkpoints.latest(ctx, addr.ThreadID, addr.Namespace)
	}
	if err != nil {
		s.metrics.RecordGet(ctx, addr.ThreadID, false, done())
		return nil, err
	}

	found := item != nil
	s.metrics.RecordGet(ctx, addr.ThreadID, found, done())
	observability.LogGet(s.logger, addr.ThreadID, addr.CheckpointID, found)
	if !found {
		return nil, nil
	}

	// Pending writes are keyed by the found record's own triple, not
	// the caller's possibly-partial address: when CheckpointID was
	// empty the latest record resolved it.
	return s.materialize(ctx, *item, true)
}

// List implements dynoflow.Saver. The iterator pulls one store page at
// a time; listed tuples skip pending writes to bound store load.
func (s *Saver) List(ctx context.Context, addr dynoflow.Address, opts dynoflow.ListOptions) *dynoflow.Iterator {
	if err := s.ready(); err != nil {
		return dynoflow.FailedIterator(err)
	}
	if err := addr.Validate(); err != nil {
		return dynoflow.FailedIterator(err)
	}
	observability.LogList(s.logger, addr.ThreadID, opts.Limit)

	before := ""
	if opts.Before != nil {
		before = opts.Before.CheckpointID
	}

	remaining := opts.Limit
	var startKey map[string]types.AttributeValue
	return dynoflow.NewIterator(func(ctx context.Context) ([]*dynoflow.CheckpointTuple, bool, error) {
		pageLimit := listPageSize
		if opts.Limit > 0 && remaining < pageLimit {
			pageLimit = remaining
		}

		items, lastKey, err := s.checkpoints.page(ctx, addr.ThreadID, before, int32(pageLimit), startKey)
		if err != nil {
			return nil, false, err
		}

		tuples := make([]*dynoflow.CheckpointTuple, 0, len(items))
		for _, it := range items {
			tuple, err := s.materialize(ctx, it, false)
			if err != nil {
				return nil, false, err
			}
			tuples = append(tuples, tuple)
		}

		if opts.Limit > 0 {
			remaining -= len(tuples)
		}
		startKey = lastKey
		more := lastKey != nil && (opts.Limit == 0 || remaining > 0)
		return tuples, more, nil
	})
}

// Put implements dynoflow.Saver.
func (s *Saver) Put(ctx context.Context, addr dynoflow.Address, cp *dynoflow.Checkpoint, md dynoflow.Metadata) (written dynoflow.Address, err error) {
	if err := s.ready(); err != nil {
		return dynoflow.Address{}, err
	}
	if err := addr.Validate(); err != nil {
		return dynoflow.Address{}, err
	}
	if cp == nil || cp.ID == "" {
		return dynoflow.Address{}, fmt.Errorf("%w: checkpoint payload has no id", dynoflow.ErrInvalidCheckpointID)
	}

	done := observability.TimedOperation()
	ctx, span := s.spans.StartOpSpan(ctx, "put", addr.ThreadID, cp.ID)
	defer func() { s.spans.EndSpanWithError(span, err) }()

	cpTag, cpBytes, err := s.serde.Encode(cp)
	if err != nil {
		return dynoflow.Address{}, fmt.Errorf("ddb: encode checkpoint: %w", err)
	}
	mdTag, mdBytes, err := s.serde.Encode(md)
	if err != nil {
		return dynoflow.Address{}, fmt.Errorf("ddb: encode metadata: %w", err)
	}
	// Both blobs decode under the record's single type tag later.
	if cpTag != mdTag {
		return dynoflow.Address{}, fmt.Errorf("%w: checkpoint %q, metadata %q",
			dynoflow.ErrTypeMismatch, cpTag, mdTag)
	}

	item := checkpointItem{
		ThreadID:     addr.ThreadID,
		CheckpointID: cp.ID,
		Namespace:    addr.Namespace,
		// What the caller was pointing at becomes the new record's parent.
		ParentCheckpointID: addr.CheckpointID,
		Type:               cpTag,
		Checkpoint:         cpBytes,
		Metadata:           mdBytes,
	}

	err = s.checkpoints.insert(ctx, item)
	s.metrics.RecordPut(ctx, addr.ThreadID, int64(len(cpBytes)+len(mdBytes)), done(), err)
	if err != nil {
		observability.LogPutError(s.logger, addr.ThreadID, cp.ID, err)
		return dynoflow.Address{}, err
	}
	observability.LogPut(s.logger, addr.ThreadID, cp.ID, len(cpBytes)+len(mdBytes))

	return dynoflow.Address{
		ThreadID:     addr.ThreadID,
		Namespace:    addr.Namespace,
		CheckpointID: cp.ID,
	}, nil
}

// PutWrites implements dynoflow.Saver.
func (s *Saver) PutWrites(ctx context.Context, addr dynoflow.Address, writes []dynoflow.ChannelWrite, taskID string) (err error) {
	if err := s.ready(); err != nil {
		return err
	}
	if err := addr.ValidateForWrites(); err != nil {
		return err
	}

	ctx, span := s.spans.StartOpSpan(ctx, "put_writes", addr.ThreadID, addr.CheckpointID)
	defer func() { s.spans.EndSpanWithError(span, err) }()

	encoded := make([]encodedWrite, 0, len(writes))
	for i, w := range writes {
		tag, data, err := s.serde.Encode(w.Value)
		if err != nil {
			return fmt.Errorf("ddb: encode write %d: %w", i, err)
		}
		encoded = append(encoded, encodedWrite{channel: w.Channel, typeTag: tag, value: data})
	}

	pk := joinPartitionKey(addr.ThreadID, addr.CheckpointID, addr.Namespace)
	batches, err := s.writes.append(ctx, pk, taskID, encoded)
	s.metrics.RecordPutWrites(ctx, addr.ThreadID, len(writes), batches, err)
	if err != nil {
		observability.LogPutWritesError(s.logger, addr.ThreadID, addr.CheckpointID, taskID, batches, err)
		return err
	}
	observability.LogPutWrites(s.logger, addr.ThreadID, addr.CheckpointID, taskID, len(writes), batches)
	return nil
}

// Close implements dynoflow.Saver. The injected client stays open; it
// belongs to the caller.
func (s *Saver) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// materialize decodes a stored record into a CheckpointTuple,
// optionally loading and decoding its pending writes.
func (s *Saver) materialize(ctx context.Context, item checkpointItem, includeWrites bool) (*dynoflow.CheckpointTuple, error) {
	var cp dynoflow.Checkpoint
	if err := s.serde.Decode(item.Type, item.Checkpoint, &cp); err != nil {
		return nil, fmt.Errorf("ddb: decode checkpoint %q/%q: %w", item.ThreadID, item.CheckpointID, err)
	}
	var md dynoflow.Metadata
	if err := s.serde.Decode(item.Type, item.Metadata, &md); err != nil {
		return nil, fmt.Errorf("ddb: decode metadata %q/%q: %w", item.ThreadID, item.CheckpointID, err)
	}

	tuple := &dynoflow.CheckpointTuple{
		Address: dynoflow.Address{
			ThreadID:     item.ThreadID,
			Namespace:    item.Namespace,
			CheckpointID: item.CheckpointID,
		},
		Checkpoint: &cp,
		Metadata:   md,
	}
	if item.ParentCheckpointID != "" {
		tuple.ParentAddress = &dynoflow.Address{
			ThreadID:     item.ThreadID,
			Namespace:    item.Namespace,
			CheckpointID: item.ParentCheckpointID,
		}
	}

	if includeWrites {
		pending, err := s.loadWrites(ctx, item)
		if err != nil {
			if lg := observability.EnrichLogger(s.logger, item.ThreadID, item.Namespace, item.CheckpointID); lg != nil {
				lg.Error("pending write load failed", slog.String("error", err.Error()))
			}
			return nil, err
		}
		tuple.PendingWrites = pending
	}
	return tuple, nil
}

// loadWrites fetches and decodes every pending write for one
// checkpoint. The store returns them in native order; we sort by
// (task, idx) so callers see a deterministic sequence.
func (s *Saver) loadWrites(ctx context.Context, item checkpointItem) ([]dynoflow.PendingWrite, error) {
	pk := joinPartitionKey(item.ThreadID, item.CheckpointID, item.Namespace)
	raw, err := s.writes.fetchAll(ctx, pk)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	pending := make([]dynoflow.PendingWrite, 0, len(raw))
	for _, w := range raw {
		taskID, idx, err := splitSortKey(w.SortKey)
		if err != nil {
			return nil, err
		}
		var value any
		if err := s.serde.Decode(w.Type, w.Value, &value); err != nil {
			return nil, fmt.Errorf("ddb: decode write %q/%q: %w", pk, w.SortKey, err)
		}
		pending = append(pending, dynoflow.PendingWrite{
			TaskID:  taskID,
			Idx:     idx,
			Channel: w.Channel,
			Value:   value,
		})
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].TaskID != pending[j].TaskID {
			return pending[i].TaskID < pending[j].TaskID
		}
		return pending[i].Idx < pending[j].Idx
	})
	return pending, nil
}
