package dynoflow

import "errors"

// Sentinel errors for saver operations. Savers wrap these with
// operation context; check with errors.Is.
var (
	// ErrMissingAddress indicates no address was supplied at all.
	ErrMissingAddress = errors.New("missing address")

	// ErrInvalidThreadID indicates the thread id is absent or not a string.
	ErrInvalidThreadID = errors.New("invalid thread_id")

	// ErrInvalidNamespace indicates checkpoint_ns is present but not a string.
	ErrInvalidNamespace = errors.New("invalid checkpoint_ns")

	// ErrInvalidCheckpointID indicates checkpoint_id is present but not a string.
	ErrInvalidCheckpointID = errors.New("invalid checkpoint_id")

	// ErrMissingCheckpointID indicates a write was attempted without a
	// target checkpoint.
	ErrMissingCheckpointID = errors.New("missing checkpoint_id")

	// ErrTypeMismatch indicates a checkpoint and its metadata serialized
	// to different type tags. Both must decode under one tag later.
	ErrTypeMismatch = errors.New("checkpoint and metadata serialization types differ")

	// ErrMalformedKey indicates a stored composite key could not be split
	// back into its components. This points at data corruption or a
	// foreign writer using an incompatible key scheme.
	ErrMalformedKey = errors.New("malformed composite key")

	// ErrPayloadTooLarge indicates an encoded record exceeds the store's
	// per-item size ceiling.
	ErrPayloadTooLarge = errors.New("payload exceeds store item size limit")

	// ErrSaverClosed indicates the saver has been closed.
	ErrSaverClosed = errors.New("checkpoint saver closed")
)
