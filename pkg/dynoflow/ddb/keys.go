package ddb

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/randalmurphal/dynoflow/pkg/dynoflow"
)

// keySeparator joins composite key components. Identifier values must
// not contain this sequence; the codec does not enforce that, it only
// fails on read when a stored key no longer splits cleanly.
const keySeparator = ":::"

// joinPartitionKey encodes the owning-checkpoint triple into the write
// table's partition key.
func joinPartitionKey(threadID, checkpointID, namespace string) string {
	return threadID + keySeparator + checkpointID + keySeparator + namespace
}

// splitPartitionKey is the inverse of joinPartitionKey.
func splitPartitionKey(key string) (threadID, checkpointID, namespace string, err error) {
	parts := strings.Split(key, keySeparator)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("%w: partition key %q splits into %d parts, want 3",
			dynoflow.ErrMalformedKey, key, len(parts))
	}
	return parts[0], parts[1], parts[2], nil
}

// joinSortKey encodes (task, idx) into the write table's sort key.
func joinSortKey(taskID string, idx int) string {
	return taskID + keySeparator + strconv.Itoa(idx)
}

// splitSortKey is the inverse of joinSortKey.
func splitSortKey(key string) (taskID string, idx int, err error) {
	parts := strings.Split(key, keySeparator)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("%w: sort key %q splits into %d parts, want 2",
			dynoflow.ErrMalformedKey, key, len(parts))
	}
	idx, convErr := strconv.Atoi(parts[1])
	if convErr != nil {
		return "", 0, fmt.Errorf("%w: sort key %q has non-integer index: %v",
			dynoflow.ErrMalformedKey, key, convErr)
	}
	return parts[0], idx, nil
}
