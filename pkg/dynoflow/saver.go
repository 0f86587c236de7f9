package dynoflow

import "context"

// Saver persists thread-scoped checkpoint histories.
// Implementations must be safe for concurrent use.
//
// Concurrency model: there is no optimistic locking. Two Puts for the
// same (thread, checkpoint id) race with last-writer-wins semantics;
// callers keep checkpoint IDs unique per logical write (NewCheckpointID
// does this). PutWrites batches commit sequentially and are not atomic
// as a whole: a mid-sequence failure leaves earlier batches written.
type Saver interface {
	// Get returns the checkpoint the address points at, or the most
	// recent one in the thread/namespace when CheckpointID is empty.
	// Returns (nil, nil) when no checkpoint exists.
	Get(ctx context.Context, addr Address) (*CheckpointTuple, error)

	// List returns a lazy iterator over the thread's history, newest
	// first. Listed tuples never carry pending writes; use Get for a
	// full materialization. Each call re-queries from scratch.
	List(ctx context.Context, addr Address, opts ListOptions) *Iterator

	// Put stores a new checkpoint. The incoming address's CheckpointID
	// (what the caller was pointing at) becomes the new record's
	// parent. Returns the address of the written checkpoint.
	Put(ctx context.Context, addr Address, cp *Checkpoint, md Metadata) (Address, error)

	// PutWrites records task side-effects against the addressed
	// checkpoint. Write indices are assigned by position in writes.
	PutWrites(ctx context.Context, addr Address, writes []ChannelWrite, taskID string) error

	// Close releases resources. The saver is unusable afterwards.
	Close() error
}

// ListOptions bound a List call.
type ListOptions struct {
	// Limit caps the number of returned checkpoints. Zero means no cap.
	Limit int

	// Before, when set, restricts results to checkpoints strictly older
	// than Before.CheckpointID. Pagination across calls is caller-driven:
	// pass the last-seen address as the next Before.
	Before *Address
}

// Iterator lazily yields materialized checkpoints, one store page at a
// time. Usage follows sql.Rows:
//
//	for it.Next(ctx) {
//	    tuple := it.Tuple()
//	    ...
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator struct {
	// fetch returns the next batch of tuples, and whether more batches
	// may follow. Called again only when the previous batch is drained
	// and more == true.
	fetch func(ctx context.Context) (batch []*CheckpointTuple, more bool, err error)

	buf  []*CheckpointTuple
	cur  *CheckpointTuple
	err  error
	done bool
}

// NewIterator builds an Iterator from a page-fetching function.
// Backend packages use this; applications receive iterators from List.
func NewIterator(fetch func(ctx context.Context) ([]*CheckpointTuple, bool, error)) *Iterator {
	return &Iterator{fetch: fetch}
}

// FailedIterator returns an iterator that immediately reports err.
// Backends use it when validation fails before any store access.
func FailedIterator(err error) *Iterator {
	return &Iterator{err: err, done: true}
}

// Next advances to the next checkpoint, fetching a new page when the
// current one is drained. Returns false at exhaustion or on error.
func (it *Iterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	for len(it.buf) == 0 {
		if it.done {
			return false
		}
		batch, more, err := it.fetch(ctx)
		if err != nil {
			it.err = err
			it.done = true
			return false
		}
		it.buf = batch
		it.done = !more
	}
	it.cur = it.buf[0]
	it.buf = it.buf[1:]
	return true
}

// Tuple returns the checkpoint produced by the last successful Next.
func (it *Iterator) Tuple() *CheckpointTuple {
	return it.cur
}

// Err returns the first error encountered, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Collect drains the iterator into a slice. Convenience for short
// histories and tests; long histories should iterate.
func (it *Iterator) Collect(ctx context.Context) ([]*CheckpointTuple, error) {
	var out []*CheckpointTuple
	for it.Next(ctx) {
		out = append(out, it.Tuple())
	}
	return out, it.Err()
}
