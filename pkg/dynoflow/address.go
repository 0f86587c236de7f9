package dynoflow

import "fmt"

// Address identifies a checkpoint, or the head of a thread's history.
// An empty CheckpointID means "most recent in this thread/namespace".
type Address struct {
	ThreadID     string
	Namespace    string
	CheckpointID string
}

// ParseAddress validates and normalizes a raw configuration map into an
// Address. The map uses the wire field names: "thread_id",
// "checkpoint_ns", "checkpoint_id". The namespace defaults to "" when
// absent; checkpoint_id stays empty when absent.
//
// Every saver operation re-runs the same checks before touching the
// store, so callers holding a well-formed Address may skip ParseAddress.
func ParseAddress(raw map[string]any) (Address, error) {
	if raw == nil {
		return Address{}, ErrMissingAddress
	}

	threadID, ok := raw["thread_id"].(string)
	if !ok {
		return Address{}, fmt.Errorf("%w: got %T", ErrInvalidThreadID, raw["thread_id"])
	}

	addr := Address{ThreadID: threadID}

	if v, present := raw["checkpoint_ns"]; present {
		ns, ok := v.(string)
		if !ok {
			return Address{}, fmt.Errorf("%w: got %T", ErrInvalidNamespace, v)
		}
		addr.Namespace = ns
	}

	if v, present := raw["checkpoint_id"]; present {
		id, ok := v.(string)
		if !ok {
			return Address{}, fmt.Errorf("%w: got %T", ErrInvalidCheckpointID, v)
		}
		addr.CheckpointID = id
	}

	return addr, nil
}

// Validate checks the address is usable for a store operation.
func (a Address) Validate() error {
	if a.ThreadID == "" {
		return fmt.Errorf("%w: thread_id is empty", ErrInvalidThreadID)
	}
	return nil
}

// ValidateForWrites checks the address targets a specific checkpoint.
func (a Address) ValidateForWrites() error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.CheckpointID == "" {
		return fmt.Errorf("%w: pending writes need a target checkpoint", ErrMissingCheckpointID)
	}
	return nil
}
