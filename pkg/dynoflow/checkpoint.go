package dynoflow

import (
	"time"

	"github.com/google/uuid"
)

// Version is the current checkpoint format version.
// Increment when making breaking changes to checkpoint structure.
const Version = 1

// Checkpoint is one immutable snapshot of execution state.
// The ID doubles as the store sort key: IDs generated by
// NewCheckpointID sort lexicographically in creation order, which is
// what makes descending-key iteration reverse-chronological.
type Checkpoint struct {
	Version       int            `json:"version"`
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"ts"`
	ChannelValues map[string]any `json:"channel_values,omitempty"`
}

// Metadata is caller-defined information stored next to a checkpoint.
type Metadata map[string]any

// NewCheckpoint creates a checkpoint with a fresh time-ordered ID.
func NewCheckpoint(channelValues map[string]any) *Checkpoint {
	return &Checkpoint{
		Version:       Version,
		ID:            NewCheckpointID(),
		Timestamp:     time.Now().UTC(),
		ChannelValues: channelValues,
	}
}

// NewCheckpointID returns a UUIDv7 string. The leading bits encode the
// wall clock, so IDs sort lexicographically in generation order.
// Callers supplying their own IDs must preserve that property.
func NewCheckpointID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does; fall back to v4
		// rather than panicking, losing time ordering for this one ID.
		return uuid.NewString()
	}
	return id.String()
}

// ChannelWrite is one side-effect value to record against a checkpoint.
type ChannelWrite struct {
	Channel string
	Value   any
}

// PendingWrite is a decoded side-effect value read back from the store.
// Idx is the zero-based position of the write within the PutWrites call
// that recorded it; (TaskID, Idx) is unique within a checkpoint.
type PendingWrite struct {
	TaskID  string
	Idx     int
	Channel string
	Value   any
}

// CheckpointTuple is a fully materialized checkpoint: decoded state,
// decoded metadata, resolved parent, and (for Get only) decoded
// pending writes.
type CheckpointTuple struct {
	Address       Address
	Checkpoint    *Checkpoint
	Metadata      Metadata
	ParentAddress *Address
	PendingWrites []PendingWrite
}
