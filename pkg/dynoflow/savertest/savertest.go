// Package savertest provides a contract test suite that every
// dynoflow.Saver implementation must pass. Backend packages call Run
// from their own tests.
package savertest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/dynoflow/pkg/dynoflow"
)

// Factory creates a fresh saver for one subtest.
type Factory func(t *testing.T) dynoflow.Saver

// Run exercises the Saver contract against the given factory.
func Run(t *testing.T, name string, factory Factory) {
	ctx := context.Background()

	t.Run(name+"/Get_Missing", func(t *testing.T) {
		saver := factory(t)
		defer saver.Close()

		tuple, err := saver.Get(ctx, dynoflow.Address{ThreadID: "1"})
		require.NoError(t, err)
		assert.Nil(t, tuple)
	})

	t.Run(name+"/Put_Get_RoundTrip", func(t *testing.T) {
		saver := factory(t)
		defer saver.Close()

		cp := dynoflow.NewCheckpoint(map[string]any{"step": "plan", "count": "3"})
		md := dynoflow.Metadata{"source": "loop"}

		written, err := saver.Put(ctx, dynoflow.Address{ThreadID: "thread-1"}, cp, md)
		require.NoError(t, err)
		assert.Equal(t, "thread-1", written.ThreadID)
		assert.Equal(t, cp.ID, written.CheckpointID)
		assert.Empty(t, written.Namespace)

		tuple, err := saver.Get(ctx, written)
		require.NoError(t, err)
		require.NotNil(t, tuple)
		assert.Equal(t, cp.ID, tuple.Checkpoint.ID)
		assert.Equal(t, cp.ChannelValues, tuple.Checkpoint.ChannelValues)
		assert.True(t, cp.Timestamp.Equal(tuple.Checkpoint.Timestamp))
		assert.Equal(t, md, tuple.Metadata)
		assert.Nil(t, tuple.ParentAddress)
	})

	t.Run(name+"/Put_Overwrite_LastWriterWins", func(t *testing.T) {
		saver := factory(t)
		defer saver.Close()

		cp := dynoflow.NewCheckpoint(map[string]any{"v": "first"})
		addr := dynoflow.Address{ThreadID: "thread-1"}

		written, err := saver.Put(ctx, addr, cp, dynoflow.Metadata{"n": "1"})
		require.NoError(t, err)

		cp.ChannelValues = map[string]any{"v": "second"}
		_, err = saver.Put(ctx, addr, cp, dynoflow.Metadata{"n": "2"})
		require.NoError(t, err)

		tuple, err := saver.Get(ctx, written)
		require.NoError(t, err)
		require.NotNil(t, tuple)
		assert.Equal(t, map[string]any{"v": "second"}, tuple.Checkpoint.ChannelValues)
		assert.Equal(t, dynoflow.Metadata{"n": "2"}, tuple.Metadata)
	})

	t.Run(name+"/Get_Latest", func(t *testing.T) {
		saver := factory(t)
		defer saver.Close()

		addr := dynoflow.Address{ThreadID: "thread-1"}
		var last dynoflow.Address
		for i := 0; i < 3; i++ {
			cp := dynoflow.NewCheckpoint(map[string]any{"step": fmt.Sprintf("%d", i)})
			var err error
			last, err = saver.Put(ctx, addr, cp, nil)
			require.NoError(t, err)
			addr = last
		}

		tuple, err := saver.Get(ctx, dynoflow.Address{ThreadID: "thread-1"})
		require.NoError(t, err)
		require.NotNil(t, tuple)
		assert.Equal(t, last.CheckpointID, tuple.Address.CheckpointID)
		assert.Equal(t, map[string]any{"step": "2"}, tuple.Checkpoint.ChannelValues)
	})

	t.Run(name+"/Parent_Lineage", func(t *testing.T) {
		saver := factory(t)
		defer saver.Close()

		first, err := saver.Put(ctx, dynoflow.Address{ThreadID: "thread-1"},
			dynoflow.NewCheckpoint(nil), nil)
		require.NoError(t, err)

		firstTuple, err := saver.Get(ctx, first)
		require.NoError(t, err)
		require.NotNil(t, firstTuple)
		assert.Nil(t, firstTuple.ParentAddress)

		// Writing while pointing at the first checkpoint makes it the parent.
		second, err := saver.Put(ctx, first, dynoflow.NewCheckpoint(nil), nil)
		require.NoError(t, err)

		secondTuple, err := saver.Get(ctx, second)
		require.NoError(t, err)
		require.NotNil(t, secondTuple)
		require.NotNil(t, secondTuple.ParentAddress)
		assert.Equal(t, first.CheckpointID, secondTuple.ParentAddress.CheckpointID)
		assert.Equal(t, first.ThreadID, secondTuple.ParentAddress.ThreadID)
	})

	t.Run(name+"/Namespaces_Isolated_For_Latest", func(t *testing.T) {
		saver := factory(t)
		defer saver.Close()

		_, err := saver.Put(ctx, dynoflow.Address{ThreadID: "thread-1", Namespace: "inner"},
			dynoflow.NewCheckpoint(map[string]any{"ns": "inner"}), nil)
		require.NoError(t, err)
		defaultAddr, err := saver.Put(ctx, dynoflow.Address{ThreadID: "thread-1"},
			dynoflow.NewCheckpoint(map[string]any{"ns": "default"}), nil)
		require.NoError(t, err)
		_, err = saver.Put(ctx, dynoflow.Address{ThreadID: "thread-1", Namespace: "inner"},
			dynoflow.NewCheckpoint(map[string]any{"ns": "inner2"}), nil)
		require.NoError(t, err)

		// Latest in the default namespace skips newer checkpoints in "inner".
		tuple, err := saver.Get(ctx, dynoflow.Address{ThreadID: "thread-1"})
		require.NoError(t, err)
		require.NotNil(t, tuple)
		assert.Equal(t, defaultAddr.CheckpointID, tuple.Address.CheckpointID)
	})

	t.Run(name+"/List_Pagination", func(t *testing.T) {
		saver := factory(t)
		defer saver.Close()

		const total = 5
		ids := make([]string, 0, total)
		addr := dynoflow.Address{ThreadID: "thread-1"}
		for i := 0; i < total; i++ {
			written, err := saver.Put(ctx, addr, dynoflow.NewCheckpoint(nil), nil)
			require.NoError(t, err)
			ids = append(ids, written.CheckpointID)
			addr = written
		}

		// Page through with limit 2, driving Before by the last-seen id.
		var seen []string
		var before *dynoflow.Address
		for {
			it := saver.List(ctx, dynoflow.Address{ThreadID: "thread-1"},
				dynoflow.ListOptions{Limit: 2, Before: before})
			page, err := it.Collect(ctx)
			require.NoError(t, err)
			if len(page) == 0 {
				break
			}
			assert.LessOrEqual(t, len(page), 2)
			for _, tuple := range page {
				seen = append(seen, tuple.Address.CheckpointID)
				assert.Nil(t, tuple.PendingWrites, "listing must not load pending writes")
			}
			before = &page[len(page)-1].Address
		}

		// Newest first, no overlap, no gaps.
		require.Len(t, seen, total)
		for i, id := range seen {
			assert.Equal(t, ids[total-1-i], id)
		}
	})

	t.Run(name+"/PutWrites_Get", func(t *testing.T) {
		saver := factory(t)
		defer saver.Close()

		written, err := saver.Put(ctx, dynoflow.Address{ThreadID: "thread-1"},
			dynoflow.NewCheckpoint(nil), nil)
		require.NoError(t, err)

		writes := []dynoflow.ChannelWrite{
			{Channel: "messages", Value: "hello"},
			{Channel: "messages", Value: "world"},
			{Channel: "state", Value: "done"},
		}
		require.NoError(t, saver.PutWrites(ctx, written, writes, "task-1"))

		tuple, err := saver.Get(ctx, written)
		require.NoError(t, err)
		require.NotNil(t, tuple)
		require.Len(t, tuple.PendingWrites, 3)
		for i, pw := range tuple.PendingWrites {
			assert.Equal(t, "task-1", pw.TaskID)
			assert.Equal(t, i, pw.Idx)
			assert.Equal(t, writes[i].Channel, pw.Channel)
			assert.Equal(t, writes[i].Value, pw.Value)
		}
	})

	t.Run(name+"/PutWrites_Found_By_Latest", func(t *testing.T) {
		saver := factory(t)
		defer saver.Close()

		written, err := saver.Put(ctx, dynoflow.Address{ThreadID: "thread-1"},
			dynoflow.NewCheckpoint(nil), nil)
		require.NoError(t, err)
		require.NoError(t, saver.PutWrites(ctx, written,
			[]dynoflow.ChannelWrite{{Channel: "c", Value: "v"}}, "task-1"))

		// Get without a checkpoint id resolves the latest record, and the
		// writes keyed by that record's own triple come back with it.
		tuple, err := saver.Get(ctx, dynoflow.Address{ThreadID: "thread-1"})
		require.NoError(t, err)
		require.NotNil(t, tuple)
		require.Len(t, tuple.PendingWrites, 1)
	})

	t.Run(name+"/PutWrites_Requires_CheckpointID", func(t *testing.T) {
		saver := factory(t)
		defer saver.Close()

		err := saver.PutWrites(ctx, dynoflow.Address{ThreadID: "thread-1"},
			[]dynoflow.ChannelWrite{{Channel: "c", Value: "v"}}, "task-1")
		assert.ErrorIs(t, err, dynoflow.ErrMissingCheckpointID)
	})

	t.Run(name+"/Validation_Before_Store_Access", func(t *testing.T) {
		saver := factory(t)
		defer saver.Close()

		_, err := saver.Get(ctx, dynoflow.Address{})
		assert.ErrorIs(t, err, dynoflow.ErrInvalidThreadID)

		_, err = saver.Put(ctx, dynoflow.Address{}, dynoflow.NewCheckpoint(nil), nil)
		assert.ErrorIs(t, err, dynoflow.ErrInvalidThreadID)

		it := saver.List(ctx, dynoflow.Address{}, dynoflow.ListOptions{})
		_, err = it.Collect(ctx)
		assert.ErrorIs(t, err, dynoflow.ErrInvalidThreadID)
	})

	t.Run(name+"/Closed", func(t *testing.T) {
		saver := factory(t)
		require.NoError(t, saver.Close())

		_, err := saver.Get(ctx, dynoflow.Address{ThreadID: "thread-1"})
		assert.ErrorIs(t, err, dynoflow.ErrSaverClosed)
	})
}
