// Package sqlite persists dynoflow checkpoint histories in SQLite.
// It mirrors the DynamoDB backend's logical schema and semantics and
// is suitable for tests and single-process production use.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/randalmurphal/dynoflow/pkg/dynoflow"
	"github.com/randalmurphal/dynoflow/pkg/dynoflow/observability"
)

// schema defines both tables. Same logical shape as the DynamoDB
// backend: checkpoints keyed by (thread, checkpoint), writes keyed by
// the owner triple plus (task, idx).
const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	thread_id TEXT NOT NULL,
	checkpoint_id TEXT NOT NULL,
	checkpoint_ns TEXT NOT NULL DEFAULT '',
	parent_checkpoint_id TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	checkpoint BLOB NOT NULL,
	metadata BLOB NOT NULL,
	PRIMARY KEY (thread_id, checkpoint_id)
);

CREATE TABLE IF NOT EXISTS writes (
	thread_id TEXT NOT NULL,
	checkpoint_ns TEXT NOT NULL DEFAULT '',
	checkpoint_id TEXT NOT NULL,
	task_id TEXT NOT NULL,
	idx INTEGER NOT NULL,
	channel TEXT NOT NULL,
	type TEXT NOT NULL,
	value BLOB NOT NULL,
	PRIMARY KEY (thread_id, checkpoint_ns, checkpoint_id, task_id, idx)
);
`

// listPageSize bounds how many checkpoints one List page reads.
const listPageSize = 100

// Config configures a Saver.
type Config struct {
	// Path is a file path (e.g. "./checkpoints.db") or ":memory:".
	Path string

	// Serializer encodes payload values. Defaults to dynoflow.JSONSerializer.
	Serializer dynoflow.Serializer

	// Logger receives structured operation logs. Nil disables logging.
	Logger *slog.Logger
}

// Saver is a SQLite-backed dynoflow.Saver.
type Saver struct {
	db     *sql.DB
	serde  dynoflow.Serializer
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// Compile-time interface check.
var _ dynoflow.Saver = (*Saver)(nil)

// New creates a SQLite saver, creating the tables if needed.
func New(cfg Config) (*Saver, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	if cfg.Serializer == nil {
		cfg.Serializer = dynoflow.JSONSerializer{}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}

	return &Saver{db: db, serde: cfg.Serializer, logger: cfg.Logger}, nil
}

// Get implements dynoflow.Saver.
func (s *Saver) Get(ctx context.Context, addr dynoflow.Address) (*dynoflow.CheckpointTuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("sqlite: %w", dynoflow.ErrSaverClosed)
	}
	if err := addr.Validate(); err != nil {
		return nil, err
	}

	var row *sql.Row
	if addr.CheckpointID != "" {
		row = s.db.QueryRowContext(ctx, `
			SELECT thread_id, checkpoint_id, checkpoint_ns, parent_checkpoint_id, type, checkpoint, metadata
			FROM checkpoints
			WHERE thread_id = ? AND checkpoint_id = ?
		`, addr.ThreadID, addr.CheckpointID)
	} else {
		row = s.db.QueryRowContext(ctx, `
			SELECT thread_id, checkpoint_id, checkpoint_ns, parent_checkpoint_id, type, checkpoint, metadata
			FROM checkpoints
			WHERE thread_id = ? AND checkpoint_ns = ?
			ORDER BY checkpoint_id DESC
			LIMIT 1
		`, addr.ThreadID, addr.Namespace)
	}

	rec, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		observability.LogGet(s.logger, addr.ThreadID, addr.CheckpointID, false)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load checkpoint: %w", err)
	}
	observability.LogGet(s.logger, addr.ThreadID, addr.CheckpointID, true)

	tuple, err := s.materialize(rec)
	if err != nil {
		return nil, err
	}
	// Writes belong to the record actually found, which resolved the
	// checkpoint id when the caller omitted it.
	tuple.PendingWrites, err = s.loadWrites(ctx, tuple.Address)
	if err != nil {
		if lg := observability.EnrichLogger(s.logger, tuple.Address.ThreadID, tuple.Address.Namespace, tuple.Address.CheckpointID); lg != nil {
			lg.Error("pending write load failed", slog.String("error", err.Error()))
		}
		return nil, err
	}
	return tuple, nil
}

// List implements dynoflow.Saver. Listed tuples skip pending writes.
func (s *Saver) List(ctx context.Context, addr dynoflow.Address, opts dynoflow.ListOptions) *dynoflow.Iterator {
	if err := addr.Validate(); err != nil {
		return dynoflow.FailedIterator(err)
	}
	observability.LogList(s.logger, addr.ThreadID, opts.Limit)

	before := ""
	if opts.Before != nil {
		before = opts.Before.CheckpointID
	}
	remaining := opts.Limit

	return dynoflow.NewIterator(func(ctx context.Context) ([]*dynoflow.CheckpointTuple, bool, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed {
			return nil, false, fmt.Errorf("sqlite: %w", dynoflow.ErrSaverClosed)
		}

		pageLimit := listPageSize
		if opts.Limit > 0 && remaining < pageLimit {
			pageLimit = remaining
		}

		query := `
			SELECT thread_id, checkpoint_id, checkpoint_ns, parent_checkpoint_id, type, checkpoint, metadata
			FROM checkpoints
			WHERE thread_id = ?`
		args := []any{addr.ThreadID}
		if before != "" {
			query += ` AND checkpoint_id < ?`
			args = append(args, before)
		}
		query += ` ORDER BY checkpoint_id DESC LIMIT ?`
		args = append(args, pageLimit)

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, false, fmt.Errorf("sqlite: list checkpoints: %w", err)
		}
		defer rows.Close()

		var tuples []*dynoflow.CheckpointTuple
		for rows.Next() {
			rec, err := scanCheckpoint(rows)
			if err != nil {
				return nil, false, fmt.Errorf("sqlite: scan checkpoint: %w", err)
			}
			tuple, err := s.materialize(rec)
			if err != nil {
				return nil, false, err
			}
			tuples = append(tuples, tuple)
		}
		if err := rows.Err(); err != nil {
			return nil, false, fmt.Errorf("sqlite: iterate checkpoints: %w", err)
		}

		if len(tuples) > 0 {
			before = tuples[len(tuples)-1].Address.CheckpointID
		}
		if opts.Limit > 0 {
			remaining -= len(tuples)
		}
		more := len(tuples) == pageLimit && (opts.Limit == 0 || remaining > 0)
		return tuples, more, nil
	})
}

// Put implements dynoflow.Saver. Last writer wins on (thread,
// checkpoint id) collisions.
func (s *Saver) Put(ctx context.Context, addr dynoflow.Address, cp *dynoflow.Checkpoint, md dynoflow.Metadata) (dynoflow.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return dynoflow.Address{}, fmt.Errorf("sqlite: %w", dynoflow.ErrSaverClosed)
	}
	if err := addr.Validate(); err != nil {
		return dynoflow.Address{}, err
	}
	if cp == nil || cp.ID == "" {
		return dynoflow.Address{}, fmt.Errorf("%w: checkpoint payload has no id", dynoflow.ErrInvalidCheckpointID)
	}

	cpTag, cpBytes, err := s.serde.Encode(cp)
	if err != nil {
		return dynoflow.Address{}, fmt.Errorf("sqlite: encode checkpoint: %w", err)
	}
	mdTag, mdBytes, err := s.serde.Encode(md)
	if err != nil {
		return dynoflow.Address{}, fmt.Errorf("sqlite: encode metadata: %w", err)
	}
	if cpTag != mdTag {
		return dynoflow.Address{}, fmt.Errorf("%w: checkpoint %q, metadata %q",
			dynoflow.ErrTypeMismatch, cpTag, mdTag)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO checkpoints
			(thread_id, checkpoint_id, checkpoint_ns, parent_checkpoint_id, type, checkpoint, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, addr.ThreadID, cp.ID, addr.Namespace, addr.CheckpointID, cpTag, cpBytes, mdBytes)
	if err != nil {
		observability.LogPutError(s.logger, addr.ThreadID, cp.ID, err)
		return dynoflow.Address{}, fmt.Errorf("sqlite: save checkpoint: %w", err)
	}
	observability.LogPut(s.logger, addr.ThreadID, cp.ID, len(cpBytes)+len(mdBytes))

	return dynoflow.Address{
		ThreadID:     addr.ThreadID,
		Namespace:    addr.Namespace,
		CheckpointID: cp.ID,
	}, nil
}

// PutWrites implements dynoflow.Saver. All writes land in one
// transaction; there is no 25-item batching here because SQLite has no
// batch primitive to chunk around.
func (s *Saver) PutWrites(ctx context.Context, addr dynoflow.Address, writes []dynoflow.ChannelWrite, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("sqlite: %w", dynoflow.ErrSaverClosed)
	}
	if err := addr.ValidateForWrites(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin writes: %w", err)
	}
	defer tx.Rollback()

	for idx, w := range writes {
		tag, data, err := s.serde.Encode(w.Value)
		if err != nil {
			return fmt.Errorf("sqlite: encode write %d: %w", idx, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO writes
				(thread_id, checkpoint_ns, checkpoint_id, task_id, idx, channel, type, value)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, addr.ThreadID, addr.Namespace, addr.CheckpointID, taskID, idx, w.Channel, tag, data); err != nil {
			return fmt.Errorf("sqlite: save write %d: %w", idx, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit writes: %w", err)
	}
	observability.LogPutWrites(s.logger, addr.ThreadID, addr.CheckpointID, taskID, len(writes), 1)
	return nil
}

// Close implements dynoflow.Saver.
func (s *Saver) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// checkpointRow is one checkpoints table row.
type checkpointRow struct {
	threadID     string
	checkpointID string
	namespace    string
	parentID     string
	typeTag      string
	checkpoint   []byte
	metadata     []byte
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (checkpointRow, error) {
	var rec checkpointRow
	err := row.Scan(&rec.threadID, &rec.checkpointID, &rec.namespace,
		&rec.parentID, &rec.typeTag, &rec.checkpoint, &rec.metadata)
	return rec, err
}

func (s *Saver) materialize(rec checkpointRow) (*dynoflow.CheckpointTuple, error) {
	var cp dynoflow.Checkpoint
	if err := s.serde.Decode(rec.typeTag, rec.checkpoint, &cp); err != nil {
		return nil, fmt.Errorf("sqlite: decode checkpoint %q/%q: %w", rec.threadID, rec.checkpointID, err)
	}
	var md dynoflow.Metadata
	if err := s.serde.Decode(rec.typeTag, rec.metadata, &md); err != nil {
		return nil, fmt.Errorf("sqlite: decode metadata %q/%q: %w", rec.threadID, rec.checkpointID, err)
	}

	tuple := &dynoflow.CheckpointTuple{
		Address: dynoflow.Address{
			ThreadID:     rec.threadID,
			Namespace:    rec.namespace,
			CheckpointID: rec.checkpointID,
		},
		Checkpoint: &cp,
		Metadata:   md,
	}
	if rec.parentID != "" {
		tuple.ParentAddress = &dynoflow.Address{
			ThreadID:     rec.threadID,
			Namespace:    rec.namespace,
			CheckpointID: rec.parentID,
		}
	}
	return tuple, nil
}

func (s *Saver) loadWrites(ctx context.Context, addr dynoflow.Address) ([]dynoflow.PendingWrite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, idx, channel, type, value
		FROM writes
		WHERE thread_id = ? AND checkpoint_ns = ? AND checkpoint_id = ?
		ORDER BY task_id, idx
	`, addr.ThreadID, addr.Namespace, addr.CheckpointID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load writes: %w", err)
	}
	defer rows.Close()

	var pending []dynoflow.PendingWrite
	for rows.Next() {
		var (
			taskID, channel, tag string
			idx                  int
			value                []byte
		)
		if err := rows.Scan(&taskID, &idx, &channel, &tag, &value); err != nil {
			return nil, fmt.Errorf("sqlite: scan write: %w", err)
		}
		var decoded any
		if err := s.serde.Decode(tag, value, &decoded); err != nil {
			return nil, fmt.Errorf("sqlite: decode write %q/%d: %w", taskID, idx, err)
		}
		pending = append(pending, dynoflow.PendingWrite{
			TaskID:  taskID,
			Idx:     idx,
			Channel: channel,
			Value:   decoded,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate writes: %w", err)
	}
	return pending, nil
}
